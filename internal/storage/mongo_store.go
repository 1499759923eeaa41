package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/vec"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const coordsIndexName = "owner_coords_unique"

// MongoConfig contains connection settings for the MongoDB dungeon store.
type MongoConfig struct {
	URI       string // e.g. mongodb://localhost:27017
	Database  string // e.g. dungeon
	Templates string // e.g. basemaps
	Rooms     string // e.g. rooms
	// UseTransactions включает multi-document транзакции для записи связей.
	// Требует replica set; без него используется условное обновление с откатом.
	UseTransactions bool
}

// MongoStore implements Store on MongoDB backend.
type MongoStore struct {
	client          *mongo.Client
	templates       *mongo.Collection
	rooms           *mongo.Collection
	ctxTimeout      time.Duration
	useTransactions bool
}

// NewMongoStore establishes connection, ensures indexes and returns the store.
func NewMongoStore(cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "dungeon"
	}
	if cfg.Templates == "" {
		cfg.Templates = "basemaps"
	}
	if cfg.Rooms == "" {
		cfg.Rooms = "rooms"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	db := client.Database(cfg.Database)
	store := &MongoStore{
		client:          client,
		templates:       db.Collection(cfg.Templates),
		rooms:           db.Collection(cfg.Rooms),
		ctxTimeout:      5 * time.Second,
		useTransactions: cfg.UseTransactions,
	}

	if err := store.ensureIndexes(); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (m *MongoStore) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()

	nameIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("name_unique"),
	}
	if _, err := m.templates.Indexes().CreateOne(ctx, nameIdx); err != nil {
		return fmt.Errorf("templates indexes: %w", err)
	}

	coordsIdx := mongo.IndexModel{
		Keys: bson.D{
			{Key: "owner_id", Value: 1},
			{Key: "coords.x", Value: 1},
			{Key: "coords.y", Value: 1},
		},
		Options: options.Index().
			SetUnique(true).
			SetName(coordsIndexName).
			SetPartialFilterExpression(bson.M{"coords": bson.M{"$exists": true}}),
	}
	ownerIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "template_id", Value: 1}},
		Options: options.Index().SetName("owner_template"),
	}
	createdIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("owner_created"),
	}
	if _, err := m.rooms.Indexes().CreateMany(ctx, []mongo.IndexModel{coordsIdx, ownerIdx, createdIdx}); err != nil {
		return fmt.Errorf("rooms indexes: %w", err)
	}
	return nil
}

func (m *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.ctxTimeout)
}

// CreateTemplate relies on the unique name index.
func (m *MongoStore) CreateTemplate(ctx context.Context, t *dungeon.BaseMapTemplate) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	_, err := m.templates.InsertOne(ctx, t)
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), "name_unique") {
			return fmt.Errorf("%w: %q", ErrTemplateNameTaken, t.Name)
		}
		return fmt.Errorf("%w: template id %s already exists", dungeon.ErrValidation, t.ID)
	}
	return err
}

func (m *MongoStore) findTemplate(ctx context.Context, filter bson.M, what string) (*dungeon.BaseMapTemplate, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	var t dungeon.BaseMapTemplate
	err := m.templates.FindOne(ctx, filter).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, what)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (m *MongoStore) GetTemplate(ctx context.Context, id string) (*dungeon.BaseMapTemplate, error) {
	return m.findTemplate(ctx, bson.M{"_id": id}, id)
}

func (m *MongoStore) GetTemplateByName(ctx context.Context, name string) (*dungeon.BaseMapTemplate, error) {
	return m.findTemplate(ctx, bson.M{"name": name}, fmt.Sprintf("name %q", name))
}

func (m *MongoStore) ListTemplates(ctx context.Context) ([]*dungeon.BaseMapTemplate, error) {
	return m.listTemplates(ctx, bson.M{})
}

func (m *MongoStore) ListTemplatesWithExit(ctx context.Context, d dungeon.Direction) ([]*dungeon.BaseMapTemplate, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %q", dungeon.ErrValidation, d)
	}
	return m.listTemplates(ctx, bson.M{"exits." + string(d): true})
}

func (m *MongoStore) listTemplates(ctx context.Context, filter bson.M) ([]*dungeon.BaseMapTemplate, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	cur, err := m.templates.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := []*dungeon.BaseMapTemplate{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoStore) DeleteTemplate(ctx context.Context, id string) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	res, err := m.templates.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return nil
}

func (m *MongoStore) insertRoom(ctx context.Context, room *dungeon.RoomInstance) error {
	_, err := m.rooms.InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), coordsIndexName) {
			return fmt.Errorf("%w: %s at %s", ErrCoordsTaken, room.OwnerID, *room.Coords)
		}
		return fmt.Errorf("%w: room id %s already exists", dungeon.ErrConsistency, room.ID)
	}
	return err
}

// InsertRoom сохраняет комнату; занятость клетки сетки проверяет уникальный индекс
func (m *MongoStore) InsertRoom(ctx context.Context, room *dungeon.RoomInstance) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.insertRoom(ctx, room)
}

func (m *MongoStore) findRoom(ctx context.Context, filter bson.M, what string) (*dungeon.RoomInstance, error) {
	var r dungeon.RoomInstance
	err := m.rooms.FindOne(ctx, filter).Decode(&r)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, what)
	}
	if err != nil {
		return nil, err
	}
	normalizeRoom(&r)
	return &r, nil
}

func normalizeRoom(r *dungeon.RoomInstance) {
	if r.Connections == nil {
		r.Connections = map[dungeon.Direction]dungeon.Connection{}
	}
	if r.Modifications == nil {
		r.Modifications = []dungeon.Modification{}
	}
}

func (m *MongoStore) GetRoom(ctx context.Context, id string) (*dungeon.RoomInstance, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.findRoom(ctx, bson.M{"_id": id}, id)
}

func (m *MongoStore) ListRoomsByOwner(ctx context.Context, ownerID string) ([]*dungeon.RoomInstance, error) {
	return m.listRooms(ctx, bson.M{"owner_id": ownerID})
}

func (m *MongoStore) ListRoomsByOwnerAndTemplate(ctx context.Context, ownerID, templateID string) ([]*dungeon.RoomInstance, error) {
	return m.listRooms(ctx, bson.M{"owner_id": ownerID, "template_id": templateID})
}

func (m *MongoStore) listRooms(ctx context.Context, filter bson.M) ([]*dungeon.RoomInstance, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	cur, err := m.rooms.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	out := []*dungeon.RoomInstance{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for _, r := range out {
		normalizeRoom(r)
	}
	return out, nil
}

func (m *MongoStore) FindRoomAt(ctx context.Context, ownerID string, coords vec.Vec2) (*dungeon.RoomInstance, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"owner_id": ownerID, "coords.x": coords.X, "coords.y": coords.Y}
	return m.findRoom(ctx, filter, fmt.Sprintf("%s has no room at %s", ownerID, coords))
}

// UpdateRoomCells: условное обновление по (_id, version)
func (m *MongoStore) UpdateRoomCells(ctx context.Context, room *dungeon.RoomInstance, expectedVersion int64) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	res, err := m.rooms.UpdateOne(ctx,
		bson.M{"_id": room.ID, "version": expectedVersion},
		bson.M{
			"$set": bson.M{
				"cells":            room.Cells,
				"modifications":    room.Modifications,
				"last_modified_at": room.LastModifiedAt,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := m.rooms.CountDocuments(ctx, bson.M{"_id": room.ID})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, room.ID)
		}
		return fmt.Errorf("%w: room %s, expected version %d", ErrVersionConflict, room.ID, expectedVersion)
	}
	room.Version = expectedVersion + 1
	return nil
}

// claimSlot занимает слот связи, только если он пуст
func (m *MongoStore) claimSlot(ctx context.Context, roomID string, d dungeon.Direction, ref dungeon.Connection) (bool, error) {
	field := "connections." + string(d)
	res, err := m.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID, field: bson.M{"$exists": false}},
		bson.M{"$set": bson.M{field: ref}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// releaseSlot снимает ссылку, если она всё ещё указывает на expected
func (m *MongoStore) releaseSlot(ctx context.Context, roomID string, d dungeon.Direction, expected string) error {
	field := "connections." + string(d)
	_, err := m.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID, field + ".room_id": expected},
		bson.M{"$unset": bson.M{field: ""}},
	)
	return err
}

// CreateNeighbor вставляет комнату и занимает слот origin.
// С транзакциями обе записи фиксируются вместе; без них комната вставляется первой
// и удаляется, если слот origin уже занят.
func (m *MongoStore) CreateNeighbor(ctx context.Context, originID string, d dungeon.Direction, room *dungeon.RoomInstance) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if m.useTransactions {
		sess, err := m.client.StartSession()
		if err != nil {
			return err
		}
		defer sess.EndSession(ctx)
		_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, m.createNeighbor(sc, originID, d, room)
		})
		return err
	}
	return m.createNeighbor(ctx, originID, d, room)
}

func (m *MongoStore) createNeighbor(ctx context.Context, originID string, d dungeon.Direction, room *dungeon.RoomInstance) error {
	origin, err := m.findRoom(ctx, bson.M{"_id": originID}, originID)
	if err != nil {
		return err
	}
	if err := prepareNeighbor(origin, d, room); err != nil {
		return err
	}
	if err := m.insertRoom(ctx, room); err != nil {
		return err
	}
	ok, err := m.claimSlot(ctx, originID, d, room.Ref())
	if err == nil && ok {
		return nil
	}
	if !m.useTransactions {
		if _, derr := m.rooms.DeleteOne(ctx, bson.M{"_id": room.ID}); derr != nil {
			return errors.Join(ErrConnectionTaken, fmt.Errorf("rollback of room %s failed: %w", room.ID, derr))
		}
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s.%s", ErrConnectionTaken, originID, d)
}

// LinkRooms занимает слот a, затем слот b; при неудаче второго шага первый откатывается
func (m *MongoStore) LinkRooms(ctx context.Context, aID string, d dungeon.Direction, bID string) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if m.useTransactions {
		sess, err := m.client.StartSession()
		if err != nil {
			return err
		}
		defer sess.EndSession(ctx)
		_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, m.linkRooms(sc, aID, d, bID)
		})
		return err
	}
	return m.linkRooms(ctx, aID, d, bID)
}

func (m *MongoStore) linkRooms(ctx context.Context, aID string, d dungeon.Direction, bID string) error {
	a, err := m.findRoom(ctx, bson.M{"_id": aID}, aID)
	if err != nil {
		return err
	}
	b, err := m.findRoom(ctx, bson.M{"_id": bID}, bID)
	if err != nil {
		return err
	}
	if err := checkLink(a, d, b); err != nil {
		return err
	}

	ok, err := m.claimSlot(ctx, aID, d, b.Ref())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrConnectionTaken, aID, d)
	}
	ok, err = m.claimSlot(ctx, bID, d.Opposite(), a.Ref())
	if err == nil && ok {
		return nil
	}
	if !m.useTransactions {
		if rerr := m.releaseSlot(ctx, aID, d, bID); rerr != nil {
			return errors.Join(ErrConnectionTaken, fmt.Errorf("rollback of %s.%s failed: %w", aID, d, rerr))
		}
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s.%s", ErrConnectionTaken, bID, d.Opposite())
}

// Close terminates connection.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
