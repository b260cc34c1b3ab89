package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSubscriptionRepository 论坛订阅数据访问层
type MongoSubscriptionRepository struct {
	collection *mongo.Collection
}

// NewMongoSubscriptionRepository 创建订阅 Repository
func NewMongoSubscriptionRepository(db *mongo.Database) *MongoSubscriptionRepository {
	return &MongoSubscriptionRepository{
		collection: db.Collection("forum_subscriptions"),
	}
}

// Exists 是否已订阅
func (r *MongoSubscriptionRepository) Exists(ctx context.Context, userID, forumID int64) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"user_id": userID, "forum_id": forumID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}
	return count > 0, nil
}

// Insert 创建订阅，返回是否新建
func (r *MongoSubscriptionRepository) Insert(ctx context.Context, userID, forumID int64) (bool, error) {
	filter := bson.M{"user_id": userID, "forum_id": forumID}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$setOnInsert": filter}, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert subscription: %w", err)
	}
	return result.UpsertedCount > 0, nil
}

// Delete 删除订阅，返回是否删除了记录
func (r *MongoSubscriptionRepository) Delete(ctx context.Context, userID, forumID int64) (bool, error) {
	result, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID, "forum_id": forumID})
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	return result.DeletedCount > 0, nil
}

// ListUserIDs 列出论坛订阅者
func (r *MongoSubscriptionRepository) ListUserIDs(ctx context.Context, forumID int64) ([]int64, error) {
	return distinctInt64(ctx, r.collection, "user_id", bson.M{"forum_id": forumID})
}

// ListForumIDs 用户在 forumIDs 中订阅的论坛
func (r *MongoSubscriptionRepository) ListForumIDs(ctx context.Context, userID int64, forumIDs []int64) ([]int64, error) {
	if len(forumIDs) == 0 {
		return nil, nil
	}
	return distinctInt64(ctx, r.collection, "forum_id", bson.M{
		"user_id":  userID,
		"forum_id": bson.M{"$in": forumIDs},
	})
}

// DeleteByForum 删除论坛全部订阅
func (r *MongoSubscriptionRepository) DeleteByForum(ctx context.Context, forumID int64) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"forum_id": forumID}); err != nil {
		return fmt.Errorf("failed to delete forum subscriptions: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoSubscriptionRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "forum_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "forum_id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create subscription indexes: %w", err)
	}
	return nil
}
