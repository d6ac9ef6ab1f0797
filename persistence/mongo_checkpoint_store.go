package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoCheckpoint 检查点文档，_id 即 task_id
type mongoCheckpoint struct {
	TaskID    string    `bson:"_id"`
	State     []byte    `bson:"state"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoCheckpointStore MongoDB 检查点存储。单文档 ReplaceOne(upsert) 保证按任务原子覆盖。
type MongoCheckpointStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoCheckpointStore connects to MongoDB and verifies the connection.
func NewMongoCheckpointStore(ctx context.Context, cfg MongoStoreConfig) (*MongoCheckpointStore, error) {
	client, err := mongo.Connect(
		options.Client().
			ApplyURI(cfg.URI).
			SetAppName("roadmapflow").
			SetConnectTimeout(5 * time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "checkpoints"
	}
	return &MongoCheckpointStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(collection),
	}, nil
}

// Close disconnects the client
func (s *MongoCheckpointStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks if the store is healthy
func (s *MongoCheckpointStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Put replaces the checkpoint document
func (s *MongoCheckpointStore) Put(ctx context.Context, taskID string, blob []byte) error {
	if taskID == "" {
		return ErrInvalidInput
	}
	doc := mongoCheckpoint{TaskID: taskID, State: blob, UpdatedAt: time.Now()}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": taskID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put checkpoint: %w", err)
	}
	return nil
}

// Get loads the checkpoint document
func (s *MongoCheckpointStore) Get(ctx context.Context, taskID string) ([]byte, error) {
	var doc mongoCheckpoint
	err := s.coll.FindOne(ctx, bson.M{"_id": taskID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return doc.State, nil
}
