package repository

import (
	"context"
	"errors"
	"fmt"

	"go_forum/internal/forum/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDiscussionSubscriptionRepository 话题订阅数据访问层
type MongoDiscussionSubscriptionRepository struct {
	collection *mongo.Collection
}

// NewMongoDiscussionSubscriptionRepository 创建话题订阅 Repository
func NewMongoDiscussionSubscriptionRepository(db *mongo.Database) *MongoDiscussionSubscriptionRepository {
	return &MongoDiscussionSubscriptionRepository{
		collection: db.Collection("forum_discussion_subs"),
	}
}

// Get 获取话题订阅覆盖
func (r *MongoDiscussionSubscriptionRepository) Get(ctx context.Context, userID, discussionID int64) (*models.DiscussionSubscription, error) {
	var sub models.DiscussionSubscription
	err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "discussion_id": discussionID}).Decode(&sub)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("discussion subscription %d/%d: %w", userID, discussionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get discussion subscription: %w", err)
	}
	return &sub, nil
}

// ListByForum 列出论坛下全部话题订阅
func (r *MongoDiscussionSubscriptionRepository) ListByForum(ctx context.Context, forumID int64) ([]*models.DiscussionSubscription, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"forum_id": forumID})
	if err != nil {
		return nil, fmt.Errorf("failed to list discussion subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	var subs []*models.DiscussionSubscription
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("failed to decode discussion subscriptions: %w", err)
	}
	return subs, nil
}

// Upsert 写入话题订阅覆盖
func (r *MongoDiscussionSubscriptionRepository) Upsert(ctx context.Context, sub *models.DiscussionSubscription) error {
	filter := bson.M{"user_id": sub.UserID, "discussion_id": sub.DiscussionID}
	update := bson.M{
		"$set": bson.M{
			"forum_id":   sub.ForumID,
			"preference": sub.Preference,
		},
	}
	if _, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert discussion subscription: %w", err)
	}
	return nil
}

// Delete 删除话题订阅覆盖
func (r *MongoDiscussionSubscriptionRepository) Delete(ctx context.Context, userID, discussionID int64) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID, "discussion_id": discussionID}); err != nil {
		return fmt.Errorf("failed to delete discussion subscription: %w", err)
	}
	return nil
}

// DeleteByUserForum 删除用户在论坛下的话题订阅
func (r *MongoDiscussionSubscriptionRepository) DeleteByUserForum(ctx context.Context, userID, forumID int64, onlyUnsubscribed bool) (int64, error) {
	filter := bson.M{"user_id": userID, "forum_id": forumID}
	if onlyUnsubscribed {
		filter["preference"] = models.DiscussionUnsubscribed
	}
	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete discussion subscriptions: %w", err)
	}
	return result.DeletedCount, nil
}

// DeleteByDiscussion 删除话题的全部订阅覆盖
func (r *MongoDiscussionSubscriptionRepository) DeleteByDiscussion(ctx context.Context, discussionID int64) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"discussion_id": discussionID}); err != nil {
		return fmt.Errorf("failed to delete discussion subscriptions: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoDiscussionSubscriptionRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "discussion_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "forum_id", Value: 1}, {Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "discussion_id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create discussion subscription indexes: %w", err)
	}
	return nil
}
