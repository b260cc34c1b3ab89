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

const postsCollection = "forum_posts"

// MongoPostRepository 帖子数据访问层
type MongoPostRepository struct {
	collection *mongo.Collection
}

// NewMongoPostRepository 创建帖子 Repository
func NewMongoPostRepository(db *mongo.Database) *MongoPostRepository {
	return &MongoPostRepository{
		collection: db.Collection(postsCollection),
	}
}

// Create 创建帖子，ID 由调用方分配
func (r *MongoPostRepository) Create(ctx context.Context, post *models.Post) error {
	if _, err := r.collection.InsertOne(ctx, post); err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// Get 获取帖子
func (r *MongoPostRepository) Get(ctx context.Context, id int64) (*models.Post, error) {
	var post models.Post
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&post); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}

// ListByIDs 批量获取帖子
func (r *MongoPostRepository) ListByIDs(ctx context.Context, ids []int64) ([]*models.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// ListByDiscussion 列出话题下全部帖子
func (r *MongoPostRepository) ListByDiscussion(ctx context.Context, discussionID int64) ([]*models.Post, error) {
	return r.find(ctx, bson.M{"discussion_id": discussionID})
}

// ListModifiedSince 列出话题中 modified >= since 的帖子
func (r *MongoPostRepository) ListModifiedSince(ctx context.Context, discussionIDs []int64, since time.Time) ([]*models.Post, error) {
	if len(discussionIDs) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{
		"discussion_id": bson.M{"$in": discussionIDs},
		"modified":      bson.M{"$gte": since},
	})
}

// FindPending 待发送且 (created ∈ [start, end) 或 mail_now) 的帖子
func (r *MongoPostRepository) FindPending(ctx context.Context, start, end time.Time) ([]*models.Post, error) {
	return r.find(ctx, bson.M{
		"mailed": models.MailPending,
		"$or": bson.A{
			bson.M{"created": bson.M{"$gte": start, "$lt": end}},
			bson.M{"mail_now": true},
		},
	})
}

// FindPendingInDiscussions 指定话题中待发送且 (created < end 或 mail_now) 的帖子
func (r *MongoPostRepository) FindPendingInDiscussions(ctx context.Context, discussionIDs []int64, end time.Time) ([]*models.Post, error) {
	if len(discussionIDs) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{
		"mailed":        models.MailPending,
		"discussion_id": bson.M{"$in": discussionIDs},
		"$or": bson.A{
			bson.M{"created": bson.M{"$lt": end}},
			bson.M{"mail_now": true},
		},
	})
}

func (r *MongoPostRepository) find(ctx context.Context, filter bson.M) ([]*models.Post, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer cursor.Close(ctx)

	var posts []*models.Post
	if err := cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	return posts, nil
}

// SetMailed 条件更新通知状态
func (r *MongoPostRepository) SetMailed(ctx context.Context, ids []int64, from, to models.MailStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	filter := bson.M{
		"_id":    bson.M{"$in": ids},
		"mailed": from,
	}
	result, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"mailed": to}})
	if err != nil {
		return 0, fmt.Errorf("failed to set mailed status: %w", err)
	}
	return result.ModifiedCount, nil
}

// Claim 逐条条件更新，只返回由本次调用改变状态的帖子
func (r *MongoPostRepository) Claim(ctx context.Context, ids []int64, from, to models.MailStatus) ([]int64, error) {
	claimed := make([]int64, 0, len(ids))
	for _, id := range ids {
		result, err := r.collection.UpdateOne(ctx,
			bson.M{"_id": id, "mailed": from},
			bson.M{"$set": bson.M{"mailed": to}},
		)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim post %d: %w", id, err)
		}
		if result.ModifiedCount == 1 {
			claimed = append(claimed, id)
		}
	}
	return claimed, nil
}

// FirstPostTime 用户在话题中的首次发帖时间
func (r *MongoPostRepository) FirstPostTime(ctx context.Context, discussionID, userID int64) (time.Time, bool, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "created", Value: 1}}).
		SetProjection(bson.M{"created": 1})

	var doc struct {
		Created time.Time `bson:"created"`
	}
	err := r.collection.FindOne(ctx, bson.M{"discussion_id": discussionID, "user_id": userID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get first post time: %w", err)
	}
	return doc.Created, true, nil
}

// ListIDsModifiedBetween 按 _id 升序分页列出 modified ∈ [from, to) 且 _id > afterID 的帖子 ID
func (r *MongoPostRepository) ListIDsModifiedBetween(ctx context.Context, from, to time.Time, afterID int64, limit int) ([]int64, error) {
	filter := bson.M{
		"modified": bson.M{"$gte": from, "$lt": to},
		"_id":      bson.M{"$gt": afterID},
	}
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list post ids: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID int64 `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode post ids: %w", err)
	}

	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

// Update 更新帖子内容
func (r *MongoPostRepository) Update(ctx context.Context, post *models.Post) error {
	update := bson.M{
		"$set": bson.M{
			"subject":  post.Subject,
			"message":  post.Message,
			"modified": post.Modified,
			"mail_now": post.MailNow,
		},
	}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": post.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update post: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("post %d: %w", post.ID, ErrNotFound)
	}
	return nil
}

// DeleteMany 批量删除帖子
func (r *MongoPostRepository) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("failed to delete posts: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoPostRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "mailed", Value: 1}, {Key: "created", Value: 1}}},
		{Keys: bson.D{{Key: "discussion_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "created", Value: 1}}},
		{Keys: bson.D{{Key: "discussion_id", Value: 1}, {Key: "modified", Value: 1}}},
		{Keys: bson.D{{Key: "modified", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create post indexes: %w", err)
	}
	return nil
}
