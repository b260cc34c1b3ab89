package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go_forum/internal/forum/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDiscussionRepository 话题数据访问层
type MongoDiscussionRepository struct {
	collection *mongo.Collection
}

// NewMongoDiscussionRepository 创建话题 Repository
func NewMongoDiscussionRepository(db *mongo.Database) *MongoDiscussionRepository {
	return &MongoDiscussionRepository{
		collection: db.Collection("forum_discussions"),
	}
}

// Create 创建话题，ID 由调用方分配
func (r *MongoDiscussionRepository) Create(ctx context.Context, discussion *models.Discussion) error {
	if _, err := r.collection.InsertOne(ctx, discussion); err != nil {
		return fmt.Errorf("failed to create discussion: %w", err)
	}
	return nil
}

// Get 获取话题
func (r *MongoDiscussionRepository) Get(ctx context.Context, id int64) (*models.Discussion, error) {
	var discussion models.Discussion
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&discussion); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("discussion %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get discussion: %w", err)
	}
	return &discussion, nil
}

// ListByIDs 批量获取话题
func (r *MongoDiscussionRepository) ListByIDs(ctx context.Context, ids []int64) ([]*models.Discussion, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// ListByForum 列出论坛下的话题
func (r *MongoDiscussionRepository) ListByForum(ctx context.Context, forumID int64) ([]*models.Discussion, error) {
	return r.find(ctx, bson.M{"forum_id": forumID})
}

// ListStartingBetween 列出展示开始时间落在 [start, end) 的话题
func (r *MongoDiscussionRepository) ListStartingBetween(ctx context.Context, start, end time.Time) ([]*models.Discussion, error) {
	return r.find(ctx, bson.M{"time_start": bson.M{"$gte": start, "$lt": end}})
}

func (r *MongoDiscussionRepository) find(ctx context.Context, filter bson.M) ([]*models.Discussion, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list discussions: %w", err)
	}
	defer cursor.Close(ctx)

	var discussions []*models.Discussion
	if err := cursor.All(ctx, &discussions); err != nil {
		return nil, fmt.Errorf("failed to decode discussions: %w", err)
	}
	return discussions, nil
}

// CountByUser 统计用户发起的话题数
func (r *MongoDiscussionRepository) CountByUser(ctx context.Context, forumID, userID int64) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"forum_id": forumID, "user_id": userID})
	if err != nil {
		return 0, fmt.Errorf("failed to count discussions: %w", err)
	}
	return count, nil
}

// SetFirstPost 设置首帖
func (r *MongoDiscussionRepository) SetFirstPost(ctx context.Context, discussionID, postID int64) error {
	return r.update(ctx, discussionID, bson.M{"first_post_id": postID})
}

// Touch 更新话题修改时间
func (r *MongoDiscussionRepository) Touch(ctx context.Context, discussionID int64, at time.Time) error {
	return r.update(ctx, discussionID, bson.M{"time_modified": at})
}

func (r *MongoDiscussionRepository) update(ctx context.Context, id int64, fields bson.M) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update discussion: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("discussion %d: %w", id, ErrNotFound)
	}
	return nil
}

// Delete 删除话题
func (r *MongoDiscussionRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete discussion: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoDiscussionRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "forum_id", Value: 1}, {Key: "group_id", Value: 1}}},
		{Keys: bson.D{{Key: "forum_id", Value: 1}, {Key: "user_id", Value: 1}}},
		{
			Keys:    bson.D{{Key: "time_start", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create discussion indexes: %w", err)
	}
	return nil
}
