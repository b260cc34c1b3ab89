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

// MongoForumRepository 论坛数据访问层
type MongoForumRepository struct {
	collection *mongo.Collection
}

// NewMongoForumRepository 创建论坛 Repository
func NewMongoForumRepository(db *mongo.Database) *MongoForumRepository {
	return &MongoForumRepository{
		collection: db.Collection("forum"),
	}
}

// Upsert 创建或更新论坛
func (r *MongoForumRepository) Upsert(ctx context.Context, forum *models.Forum) error {
	forum.TimeModified = time.Now()

	update := bson.M{
		"$set": bson.M{
			"course_id":       forum.CourseID,
			"kind":            forum.Kind,
			"name":            forum.Name,
			"intro":           forum.Intro,
			"tracking_type":   forum.TrackingType,
			"force_subscribe": forum.ForceSubscribe,
			"assessed":        forum.Assessed,
			"time_modified":   forum.TimeModified,
		},
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": forum.ID}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert forum: %w", err)
	}
	return nil
}

// Get 根据 ID 获取论坛
func (r *MongoForumRepository) Get(ctx context.Context, id int64) (*models.Forum, error) {
	var forum models.Forum
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&forum)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("forum %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get forum: %w", err)
	}
	return &forum, nil
}

// ListByIDs 批量获取论坛
func (r *MongoForumRepository) ListByIDs(ctx context.Context, ids []int64) ([]*models.Forum, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// ListByCourse 列出课程下的论坛
func (r *MongoForumRepository) ListByCourse(ctx context.Context, courseID int64) ([]*models.Forum, error) {
	return r.find(ctx, bson.M{"course_id": courseID})
}

func (r *MongoForumRepository) find(ctx context.Context, filter bson.M) ([]*models.Forum, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list forums: %w", err)
	}
	defer cursor.Close(ctx)

	var forums []*models.Forum
	if err := cursor.All(ctx, &forums); err != nil {
		return nil, fmt.Errorf("failed to decode forums: %w", err)
	}
	return forums, nil
}

// UpdateSubscriptionMode 更新订阅模式
func (r *MongoForumRepository) UpdateSubscriptionMode(ctx context.Context, forumID int64, mode models.SubscriptionMode) error {
	update := bson.M{
		"$set": bson.M{
			"force_subscribe": mode,
			"time_modified":   time.Now(),
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": forumID}, update)
	if err != nil {
		return fmt.Errorf("failed to update subscription mode: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("forum %d: %w", forumID, ErrNotFound)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoForumRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "course_id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create forum indexes: %w", err)
	}
	return nil
}
