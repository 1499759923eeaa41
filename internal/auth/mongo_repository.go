package auth

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB user repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. dungeon
	Collection string // e.g. designers
	Counters   string // e.g. counters (for auto-increment)
}

// MongoUserRepo implements UserRepository on MongoDB backend.
type MongoUserRepo struct {
	client      *mongo.Client
	collection  *mongo.Collection
	counterColl *mongo.Collection
	ctxTimeout  time.Duration
	now         func() time.Time
}

type userDoc struct {
	UserID       uint64    `bson:"user_id"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"password_hash"`
	IsAdmin      bool      `bson:"is_admin"`
	CreatedAt    time.Time `bson:"created_at"`
	LastLogin    time.Time `bson:"last_login"`
}

// NewMongoUserRepo establishes connection and returns repository.
func NewMongoUserRepo(ctx context.Context, cfg MongoConfig) (*MongoUserRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "dungeon"
	}
	if cfg.Collection == "" {
		cfg.Collection = "designers"
	}
	if cfg.Counters == "" {
		cfg.Counters = "counters"
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	db := client.Database(cfg.Database)
	repo := &MongoUserRepo{
		client:      client,
		collection:  db.Collection(cfg.Collection),
		counterColl: db.Collection(cfg.Counters),
		ctxTimeout:  5 * time.Second,
		now:         time.Now,
	}

	if err := repo.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return repo, nil
}

func (m *MongoUserRepo) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	usernameIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("username_unique"),
	}
	userIDIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("userid_unique"),
	}
	_, err := m.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{usernameIdx, userIDIdx})
	return err
}

// GetUserByUsername implements UserRepository.
func (m *MongoUserRepo) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var doc userDoc
	err := m.collection.FindOne(ctx, bson.M{"username": normalize(username)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           doc.UserID,
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
		LastLogin:    doc.LastLogin,
		IsAdmin:      doc.IsAdmin,
	}, nil
}

// CreateUser inserts a new document and returns created user.
func (m *MongoUserRepo) CreateUser(ctx context.Context, username string, passwordHash string, isAdmin bool) (*User, error) {
	nextID, err := m.nextSequence(ctx, "designer_id")
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	doc := userDoc{
		UserID:       nextID,
		Username:     normalize(username),
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    now,
		LastLogin:    now,
	}

	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	_, err = m.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	return &User{
		ID:           doc.UserID,
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
		LastLogin:    doc.LastLogin,
		IsAdmin:      doc.IsAdmin,
	}, nil
}

func (m *MongoUserRepo) UpdateLastLogin(ctx context.Context, username string) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	res, err := m.collection.UpdateOne(ctx,
		bson.M{"username": normalize(username)},
		bson.M{"$set": bson.M{"last_login": m.now().UTC()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrUserNotFound
	}
	return nil
}

// nextSequence atomically increments a counter and returns new value.
func (m *MongoUserRepo) nextSequence(ctx context.Context, name string) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()
	res := m.counterColl.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return uint64(doc.Seq), nil
}

// Close terminates connection.
func (m *MongoUserRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
