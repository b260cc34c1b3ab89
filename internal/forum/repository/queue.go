package repository

import (
	"context"
	"fmt"
	"time"

	"go_forum/internal/forum/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoQueueRepository 摘要队列数据访问层
type MongoQueueRepository struct {
	collection *mongo.Collection
}

// NewMongoQueueRepository 创建摘要队列 Repository
func NewMongoQueueRepository(db *mongo.Database) *MongoQueueRepository {
	return &MongoQueueRepository{
		collection: db.Collection("forum_queue"),
	}
}

// Insert 入队
func (r *MongoQueueRepository) Insert(ctx context.Context, entries []*models.DigestQueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, entry)
	}
	if _, err := r.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to enqueue digest entries: %w", err)
	}
	return nil
}

// DeleteOlderThan 删除过期队列项
func (r *MongoQueueRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"time_modified": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge digest queue: %w", err)
	}
	return result.DeletedCount, nil
}

// ListBefore 列出 time_modified < before 的队列项
func (r *MongoQueueRepository) ListBefore(ctx context.Context, before time.Time) ([]*models.DigestQueueEntry, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "user_id", Value: 1},
		{Key: "discussion_id", Value: 1},
		{Key: "time_modified", Value: 1},
	})
	cursor, err := r.collection.Find(ctx, bson.M{"time_modified": bson.M{"$lt": before}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list digest queue: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*models.DigestQueueEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode digest queue: %w", err)
	}
	return entries, nil
}

// DeleteForUser 删除用户已消费的队列项
func (r *MongoQueueRepository) DeleteForUser(ctx context.Context, userID int64, before time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{
		"user_id":       userID,
		"time_modified": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete user digest queue: %w", err)
	}
	return result.DeletedCount, nil
}

// DeleteByDiscussion 删除话题相关的队列项
func (r *MongoQueueRepository) DeleteByDiscussion(ctx context.Context, discussionID int64) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"discussion_id": discussionID}); err != nil {
		return fmt.Errorf("failed to delete discussion digest queue: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoQueueRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "time_modified", Value: 1}}},
		{Keys: bson.D{{Key: "time_modified", Value: 1}}},
		{Keys: bson.D{{Key: "discussion_id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create digest queue indexes: %w", err)
	}
	return nil
}
