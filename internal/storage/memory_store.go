package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/vec"
)

type ownerCoords struct {
	owner  string
	coords vec.Vec2
}

// MemoryStore реализует Store в памяти.
// Используется в тестах и для локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*dungeon.BaseMapTemplate
	names     map[string]string // имя -> id шаблона
	rooms     map[string]*dungeon.RoomInstance
	order     []string // id комнат в порядке вставки
	grid      map[ownerCoords]string
	closed    bool
}

// NewMemoryStore создает пустое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]*dungeon.BaseMapTemplate),
		names:     make(map[string]string),
		rooms:     make(map[string]*dungeon.RoomInstance),
		grid:      make(map[ownerCoords]string),
	}
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	return ctx.Err()
}

// CreateTemplate сохраняет шаблон; имя уникально
func (s *MemoryStore) CreateTemplate(ctx context.Context, t *dungeon.BaseMapTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	if _, exists := s.names[t.Name]; exists {
		return fmt.Errorf("%w: %q", ErrTemplateNameTaken, t.Name)
	}
	if _, exists := s.templates[t.ID]; exists {
		return fmt.Errorf("%w: template id %s already exists", dungeon.ErrValidation, t.ID)
	}
	s.templates[t.ID] = t.Clone()
	s.names[t.Name] = t.ID
	return nil
}

func (s *MemoryStore) GetTemplate(ctx context.Context, id string) (*dungeon.BaseMapTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) GetTemplateByName(ctx context.Context, name string) (*dungeon.BaseMapTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	id, ok := s.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: name %q", ErrTemplateNotFound, name)
	}
	return s.templates[id].Clone(), nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context) ([]*dungeon.BaseMapTemplate, error) {
	return s.listTemplates(ctx, func(*dungeon.BaseMapTemplate) bool { return true })
}

func (s *MemoryStore) ListTemplatesWithExit(ctx context.Context, d dungeon.Direction) ([]*dungeon.BaseMapTemplate, error) {
	return s.listTemplates(ctx, func(t *dungeon.BaseMapTemplate) bool { return t.Exits.Has(d) })
}

func (s *MemoryStore) listTemplates(ctx context.Context, keep func(*dungeon.BaseMapTemplate) bool) ([]*dungeon.BaseMapTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]*dungeon.BaseMapTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sortTemplates(out)
	return out, nil
}

func (s *MemoryStore) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	t, ok := s.templates[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	delete(s.names, t.Name)
	delete(s.templates, id)
	return nil
}

// InsertRoom сохраняет новую комнату
func (s *MemoryStore) InsertRoom(ctx context.Context, room *dungeon.RoomInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.insertLocked(room)
}

func (s *MemoryStore) insertLocked(room *dungeon.RoomInstance) error {
	if _, exists := s.rooms[room.ID]; exists {
		return fmt.Errorf("%w: room id %s already exists", dungeon.ErrConsistency, room.ID)
	}
	if room.Coords != nil {
		key := ownerCoords{owner: room.OwnerID, coords: *room.Coords}
		if _, taken := s.grid[key]; taken {
			return fmt.Errorf("%w: %s at %s", ErrCoordsTaken, room.OwnerID, *room.Coords)
		}
		s.grid[key] = room.ID
	}
	s.rooms[room.ID] = room.Clone()
	s.order = append(s.order, room.ID)
	return nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, id string) (*dungeon.RoomInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	r, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListRoomsByOwner(ctx context.Context, ownerID string) ([]*dungeon.RoomInstance, error) {
	return s.listRooms(ctx, func(r *dungeon.RoomInstance) bool { return r.OwnerID == ownerID })
}

func (s *MemoryStore) ListRoomsByOwnerAndTemplate(ctx context.Context, ownerID, templateID string) ([]*dungeon.RoomInstance, error) {
	return s.listRooms(ctx, func(r *dungeon.RoomInstance) bool {
		return r.OwnerID == ownerID && r.TemplateID == templateID
	})
}

func (s *MemoryStore) listRooms(ctx context.Context, keep func(*dungeon.RoomInstance) bool) ([]*dungeon.RoomInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := []*dungeon.RoomInstance{}
	for _, id := range s.order {
		if r := s.rooms[id]; keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) FindRoomAt(ctx context.Context, ownerID string, coords vec.Vec2) (*dungeon.RoomInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	id, ok := s.grid[ownerCoords{owner: ownerID, coords: coords}]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no room at %s", ErrRoomNotFound, ownerID, coords)
	}
	return s.rooms[id].Clone(), nil
}

// UpdateRoomCells сохраняет клетки комнаты с проверкой версии
func (s *MemoryStore) UpdateRoomCells(ctx context.Context, room *dungeon.RoomInstance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	stored, ok := s.rooms[room.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, room.ID)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: room %s has version %d, expected %d", ErrVersionConflict, room.ID, stored.Version, expectedVersion)
	}

	cp := room.Clone()
	stored.Cells = cp.Cells
	stored.Modifications = cp.Modifications
	stored.LastModifiedAt = cp.LastModifiedAt
	stored.Version = expectedVersion + 1
	room.Version = stored.Version
	return nil
}

// CreateNeighbor сохраняет комнату и обе ссылки под одной блокировкой
func (s *MemoryStore) CreateNeighbor(ctx context.Context, originID string, d dungeon.Direction, room *dungeon.RoomInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	origin, ok := s.rooms[originID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, originID)
	}
	if err := prepareNeighbor(origin, d, room); err != nil {
		return err
	}
	if err := s.insertLocked(room); err != nil {
		return err
	}
	origin.Connections[d] = room.Ref()
	return nil
}

// LinkRooms связывает две существующие комнаты
func (s *MemoryStore) LinkRooms(ctx context.Context, aID string, d dungeon.Direction, bID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	a, ok := s.rooms[aID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, aID)
	}
	b, ok := s.rooms[bID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, bID)
	}
	if err := checkLink(a, d, b); err != nil {
		return err
	}
	a.Connections[d] = b.Ref()
	b.Connections[d.Opposite()] = a.Ref()
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// checkLink проверяет, что обе комнаты можно связать в направлении d
func checkLink(a *dungeon.RoomInstance, d dungeon.Direction, b *dungeon.RoomInstance) error {
	if !d.Valid() {
		return fmt.Errorf("%w: unknown direction %q", dungeon.ErrValidation, d)
	}
	if a.ID == b.ID {
		return fmt.Errorf("%w: room %s cannot link to itself", dungeon.ErrConsistency, a.ID)
	}
	if a.OwnerID != b.OwnerID {
		return fmt.Errorf("%w: rooms %s and %s have different owners", dungeon.ErrConsistency, a.ID, b.ID)
	}
	if _, taken := a.Connections[d]; taken {
		return fmt.Errorf("%w: %s.%s", ErrConnectionTaken, a.ID, d)
	}
	if _, taken := b.Connections[d.Opposite()]; taken {
		return fmt.Errorf("%w: %s.%s", ErrConnectionTaken, b.ID, d.Opposite())
	}
	return nil
}

func sortTemplates(ts []*dungeon.BaseMapTemplate) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].Name < ts[j].Name })
}
