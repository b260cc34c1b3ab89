package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStateRepository 水位数据访问层
type MongoStateRepository struct {
	collection *mongo.Collection
}

// NewMongoStateRepository 创建水位 Repository
func NewMongoStateRepository(db *mongo.Database) *MongoStateRepository {
	return &MongoStateRepository{
		collection: db.Collection("forum_state"),
	}
}

// GetTime 读取水位，不存在时返回零值
func (r *MongoStateRepository) GetTime(ctx context.Context, key string) (time.Time, error) {
	var doc struct {
		Value time.Time `bson:"value"`
	}
	if err := r.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return doc.Value, nil
}

// SetTime 写入水位
func (r *MongoStateRepository) SetTime(ctx context.Context, key string, value time.Time) error {
	update := bson.M{"$set": bson.M{"value": value}}
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// MongoSequenceRepository 自增序列
type MongoSequenceRepository struct {
	collection *mongo.Collection
}

// NewMongoSequenceRepository 创建序列 Repository
func NewMongoSequenceRepository(db *mongo.Database) *MongoSequenceRepository {
	return &MongoSequenceRepository{
		collection: db.Collection("counters"),
	}
}

// Next 返回序列的下一个值
func (r *MongoSequenceRepository) Next(ctx context.Context, name string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc struct {
		Seq int64 `bson:"seq"`
	}
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": int64(1)}}, opts).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return doc.Seq, nil
}
