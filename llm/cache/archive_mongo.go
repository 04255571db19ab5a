package cache

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// MongoStore 基于 MongoDB 的 Archive 后端。过期交给 TTL 索引，
// Load 侧不再做惰性清理。
type MongoStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

type mongoRecord struct {
	Hash      string    `bson:"_id"`
	Payload   []byte    `bson:"payload"`
	ExpiresAt time.Time `bson:"expires_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore 创建 MongoDB 后端。
func NewMongoStore(coll *mongo.Collection, logger *zap.Logger) *MongoStore {
	return &MongoStore{
		coll:   coll,
		logger: logger.With(zap.String("component", "archive_mongo")),
	}
}

// EnsureIndexes 建立 expires_at 的 TTL 索引，幂等。
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

// Load 按哈希读取。
func (s *MongoStore) Load(ctx context.Context, hash string) ([]byte, bool, error) {
	var rec mongoRecord
	err := s.coll.FindOne(ctx, bson.M{"_id": hash}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec.Payload, true, nil
}

// Save 插入或替换。
func (s *MongoStore) Save(ctx context.Context, hash string, payload []byte, expiresAt time.Time) error {
	rec := mongoRecord{
		Hash:      hash,
		Payload:   payload,
		ExpiresAt: expiresAt,
		UpdatedAt: time.Now(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": hash}, rec, options.Replace().SetUpsert(true))
	return err
}

// Delete 删除指定哈希。
func (s *MongoStore) Delete(ctx context.Context, hash string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": hash})
	return err
}

// Ping 探测 MongoDB 连通性。
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, nil)
}
