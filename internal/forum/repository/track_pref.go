package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoTrackPreferenceRepository 阅读跟踪退出记录数据访问层
type MongoTrackPreferenceRepository struct {
	collection *mongo.Collection
}

// NewMongoTrackPreferenceRepository 创建 Repository
func NewMongoTrackPreferenceRepository(db *mongo.Database) *MongoTrackPreferenceRepository {
	return &MongoTrackPreferenceRepository{
		collection: db.Collection("forum_track_prefs"),
	}
}

// Exists 是否已退出跟踪
func (r *MongoTrackPreferenceRepository) Exists(ctx context.Context, userID, forumID int64) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"user_id": userID, "forum_id": forumID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check track preference: %w", err)
	}
	return count > 0, nil
}

// Insert 记录退出跟踪（幂等）
func (r *MongoTrackPreferenceRepository) Insert(ctx context.Context, userID, forumID int64) error {
	filter := bson.M{"user_id": userID, "forum_id": forumID}
	update := bson.M{"$setOnInsert": filter}
	if _, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to insert track preference: %w", err)
	}
	return nil
}

// Delete 删除退出记录
func (r *MongoTrackPreferenceRepository) Delete(ctx context.Context, userID, forumID int64) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID, "forum_id": forumID}); err != nil {
		return fmt.Errorf("failed to delete track preference: %w", err)
	}
	return nil
}

// ListForumIDs 用户退出跟踪的论坛
func (r *MongoTrackPreferenceRepository) ListForumIDs(ctx context.Context, userID int64) ([]int64, error) {
	return distinctInt64(ctx, r.collection, "forum_id", bson.M{"user_id": userID})
}

// EnsureIndexes 确保索引存在
func (r *MongoTrackPreferenceRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "forum_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create track preference indexes: %w", err)
	}
	return nil
}

func distinctInt64(ctx context.Context, coll *mongo.Collection, field string, filter bson.M) ([]int64, error) {
	values, err := coll.Distinct(ctx, field, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct %s: %w", field, err)
	}

	ids := make([]int64, 0, len(values))
	for _, v := range values {
		switch id := v.(type) {
		case int64:
			ids = append(ids, id)
		case int32:
			ids = append(ids, int64(id))
		}
	}
	return ids, nil
}
