package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/vec"
	"github.com/dgraph-io/badger/v3"
)

// Число повторов транзакции при конфликте записи
const maxTxnRetries = 5

// BadgerConfig настройки встроенного хранилища
type BadgerConfig struct {
	Path     string // каталог данных; внутри создается подкаталог dungeon
	InMemory bool   // без записи на диск (тесты)
}

// BadgerStore реализует Store поверх BadgerDB.
// Значения хранятся как JSON, сжатый zstd. Ключи:
//
//	tpl:<id>                  шаблон
//	tplname:<name>            id шаблона по имени
//	room:<id>                 комната
//	owner:<owner>\x00<id>     индекс комнат игрока
//	coords:<owner>\x00<x>:<y> id комнаты в клетке сетки
type BadgerStore struct {
	db      *badger.DB
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerStore открывает (или создает) хранилище
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(cfg.Path, "dungeon"))
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerStore{db: db, isReady: true}, nil
}

func templateKey(id string) []byte    { return []byte("tpl:" + id) }
func templateNameKey(n string) []byte { return []byte("tplname:" + n) }
func roomKey(id string) []byte        { return []byte("room:" + id) }
func ownerPrefix(owner string) []byte {
	return []byte("owner:" + owner + "\x00")
}
func ownerKey(owner, id string) []byte { return append(ownerPrefix(owner), id...) }
func coordsKey(owner string, c vec.Vec2) []byte {
	return []byte(fmt.Sprintf("coords:%s\x00%d:%d", owner, c.X, c.Y))
}

// view и update выполняют транзакцию, пока хранилище открыто.
// update повторяет транзакцию при конфликте записи.
func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(fn)
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return ErrClosed
	}
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrVersionConflict, err)
}

func getValue(txn *badger.Txn, key []byte, v interface{}) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return decodeValue(val, v)
	})
}

func getString(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	return string(val), err
}

func putValue(txn *badger.Txn, key []byte, v interface{}) error {
	data, err := encodeValue(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func loadTemplate(txn *badger.Txn, id string) (*dungeon.BaseMapTemplate, error) {
	var t dungeon.BaseMapTemplate
	err := getValue(txn, templateKey(id), &t)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения шаблона %s: %w", id, err)
	}
	return &t, nil
}

func loadRoom(txn *badger.Txn, id string) (*dungeon.RoomInstance, error) {
	var r dungeon.RoomInstance
	err := getValue(txn, roomKey(id), &r)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения комнаты %s: %w", id, err)
	}
	if r.Connections == nil {
		r.Connections = map[dungeon.Direction]dungeon.Connection{}
	}
	if r.Modifications == nil {
		r.Modifications = []dungeon.Modification{}
	}
	return &r, nil
}

// CreateTemplate сохраняет шаблон. Ключ имени читается в той же транзакции,
// поэтому два одновременных создания с одним именем конфликтуют.
func (s *BadgerStore) CreateTemplate(ctx context.Context, t *dungeon.BaseMapTemplate) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(templateNameKey(t.Name))
		if err == nil {
			return fmt.Errorf("%w: %q", ErrTemplateNameTaken, t.Name)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(templateKey(t.ID)); err == nil {
			return fmt.Errorf("%w: template id %s already exists", dungeon.ErrValidation, t.ID)
		}
		if err := putValue(txn, templateKey(t.ID), t); err != nil {
			return err
		}
		return txn.Set(templateNameKey(t.Name), []byte(t.ID))
	})
}

func (s *BadgerStore) GetTemplate(ctx context.Context, id string) (*dungeon.BaseMapTemplate, error) {
	var t *dungeon.BaseMapTemplate
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		t, err = loadTemplate(txn, id)
		return err
	})
	return t, err
}

func (s *BadgerStore) GetTemplateByName(ctx context.Context, name string) (*dungeon.BaseMapTemplate, error) {
	var t *dungeon.BaseMapTemplate
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, templateNameKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: name %q", ErrTemplateNotFound, name)
		}
		if err != nil {
			return err
		}
		t, err = loadTemplate(txn, id)
		return err
	})
	return t, err
}

func (s *BadgerStore) ListTemplates(ctx context.Context) ([]*dungeon.BaseMapTemplate, error) {
	return s.scanTemplates(ctx, func(*dungeon.BaseMapTemplate) bool { return true })
}

func (s *BadgerStore) ListTemplatesWithExit(ctx context.Context, d dungeon.Direction) ([]*dungeon.BaseMapTemplate, error) {
	return s.scanTemplates(ctx, func(t *dungeon.BaseMapTemplate) bool { return t.Exits.Has(d) })
}

func (s *BadgerStore) scanTemplates(ctx context.Context, keep func(*dungeon.BaseMapTemplate) bool) ([]*dungeon.BaseMapTemplate, error) {
	out := []*dungeon.BaseMapTemplate{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := []byte("tpl:")
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t dungeon.BaseMapTemplate
			err := it.Item().Value(func(val []byte) error {
				return decodeValue(val, &t)
			})
			if err != nil {
				return fmt.Errorf("ошибка чтения шаблона %s: %w", it.Item().Key(), err)
			}
			if keep(&t) {
				out = append(out, &t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortTemplates(out)
	return out, nil
}

func (s *BadgerStore) DeleteTemplate(ctx context.Context, id string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		t, err := loadTemplate(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(templateNameKey(t.Name)); err != nil {
			return err
		}
		return txn.Delete(templateKey(id))
	})
}

// insertRoomTxn записывает комнату и её индексы
func insertRoomTxn(txn *badger.Txn, room *dungeon.RoomInstance) error {
	if _, err := txn.Get(roomKey(room.ID)); err == nil {
		return fmt.Errorf("%w: room id %s already exists", dungeon.ErrConsistency, room.ID)
	}
	if room.Coords != nil {
		ck := coordsKey(room.OwnerID, *room.Coords)
		_, err := txn.Get(ck)
		if err == nil {
			return fmt.Errorf("%w: %s at %s", ErrCoordsTaken, room.OwnerID, *room.Coords)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(ck, []byte(room.ID)); err != nil {
			return err
		}
	}
	if err := putValue(txn, roomKey(room.ID), room); err != nil {
		return err
	}
	return txn.Set(ownerKey(room.OwnerID, room.ID), nil)
}

func (s *BadgerStore) InsertRoom(ctx context.Context, room *dungeon.RoomInstance) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return insertRoomTxn(txn, room)
	})
}

func (s *BadgerStore) GetRoom(ctx context.Context, id string) (*dungeon.RoomInstance, error) {
	var r *dungeon.RoomInstance
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		r, err = loadRoom(txn, id)
		return err
	})
	return r, err
}

func (s *BadgerStore) ListRoomsByOwner(ctx context.Context, ownerID string) ([]*dungeon.RoomInstance, error) {
	return s.scanOwnerRooms(ctx, ownerID, func(*dungeon.RoomInstance) bool { return true })
}

func (s *BadgerStore) ListRoomsByOwnerAndTemplate(ctx context.Context, ownerID, templateID string) ([]*dungeon.RoomInstance, error) {
	return s.scanOwnerRooms(ctx, ownerID, func(r *dungeon.RoomInstance) bool { return r.TemplateID == templateID })
}

func (s *BadgerStore) scanOwnerRooms(ctx context.Context, ownerID string, keep func(*dungeon.RoomInstance) bool) ([]*dungeon.RoomInstance, error) {
	out := []*dungeon.RoomInstance{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := ownerPrefix(ownerID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		for _, id := range ids {
			r, err := loadRoom(txn, id)
			if err != nil {
				return err
			}
			if keep(r) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *BadgerStore) FindRoomAt(ctx context.Context, ownerID string, coords vec.Vec2) (*dungeon.RoomInstance, error) {
	var r *dungeon.RoomInstance
	err := s.view(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, coordsKey(ownerID, coords))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s has no room at %s", ErrRoomNotFound, ownerID, coords)
		}
		if err != nil {
			return err
		}
		r, err = loadRoom(txn, id)
		return err
	})
	return r, err
}

// UpdateRoomCells сохраняет клетки с проверкой версии внутри транзакции
func (s *BadgerStore) UpdateRoomCells(ctx context.Context, room *dungeon.RoomInstance, expectedVersion int64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		stored, err := loadRoom(txn, room.ID)
		if err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return fmt.Errorf("%w: room %s has version %d, expected %d", ErrVersionConflict, room.ID, stored.Version, expectedVersion)
		}
		stored.Cells = room.Cells
		stored.Modifications = room.Modifications
		stored.LastModifiedAt = room.LastModifiedAt
		stored.Version = expectedVersion + 1
		return putValue(txn, roomKey(room.ID), stored)
	})
	if err != nil {
		return err
	}
	room.Version = expectedVersion + 1
	return nil
}

// CreateNeighbor вставляет комнату и обновляет origin в одной транзакции
func (s *BadgerStore) CreateNeighbor(ctx context.Context, originID string, d dungeon.Direction, room *dungeon.RoomInstance) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		origin, err := loadRoom(txn, originID)
		if err != nil {
			return err
		}
		if err := prepareNeighbor(origin, d, room); err != nil {
			return err
		}
		if err := insertRoomTxn(txn, room); err != nil {
			return err
		}
		origin.Connections[d] = room.Ref()
		return putValue(txn, roomKey(origin.ID), origin)
	})
}

// LinkRooms записывает обе ссылки в одной транзакции
func (s *BadgerStore) LinkRooms(ctx context.Context, aID string, d dungeon.Direction, bID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		a, err := loadRoom(txn, aID)
		if err != nil {
			return err
		}
		b, err := loadRoom(txn, bID)
		if err != nil {
			return err
		}
		if err := checkLink(a, d, b); err != nil {
			return err
		}
		a.Connections[d] = b.Ref()
		b.Connections[d.Opposite()] = a.Ref()
		if err := putValue(txn, roomKey(a.ID), a); err != nil {
			return err
		}
		return putValue(txn, roomKey(b.ID), b)
	})
}

// Close закрывает хранилище
func (s *BadgerStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false
	return s.db.Close()
}
