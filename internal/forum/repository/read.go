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

// MongoReadRepository 阅读记录数据访问层
type MongoReadRepository struct {
	collection *mongo.Collection
}

// NewMongoReadRepository 创建阅读记录 Repository
func NewMongoReadRepository(db *mongo.Database) *MongoReadRepository {
	return &MongoReadRepository{
		collection: db.Collection("forum_read"),
	}
}

// Exists 是否存在阅读记录
func (r *MongoReadRepository) Exists(ctx context.Context, userID, postID int64) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"user_id": userID, "post_id": postID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check read record: %w", err)
	}
	return count > 0, nil
}

// ExistingPostIDs 返回用户已有记录的帖子
func (r *MongoReadRepository) ExistingPostIDs(ctx context.Context, userID int64, postIDs []int64) ([]int64, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"user_id": userID,
		"post_id": bson.M{"$in": postIDs},
	}
	opts := options.Find().SetProjection(bson.M{"post_id": 1})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list read records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		PostID int64 `bson:"post_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode read records: %w", err)
	}

	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.PostID)
	}
	return ids, nil
}

// InsertIfAbsent 插入记录，已存在的记录保持不变
func (r *MongoReadRepository) InsertIfAbsent(ctx context.Context, records []*models.ReadRecord) error {
	if len(records) == 0 {
		return nil
	}

	writes := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"user_id": rec.UserID, "post_id": rec.PostID}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{
				"discussion_id": rec.DiscussionID,
				"forum_id":      rec.ForumID,
				"first_read":    rec.FirstRead,
				"last_read":     rec.LastRead,
			}}).
			SetUpsert(true))
	}

	_, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to insert read records: %w", err)
	}
	return nil
}

// TouchLastRead 更新已有记录的 last_read
func (r *MongoReadRepository) TouchLastRead(ctx context.Context, userID int64, postIDs []int64, at time.Time) error {
	if len(postIDs) == 0 {
		return nil
	}
	filter := bson.M{
		"user_id": userID,
		"post_id": bson.M{"$in": postIDs},
	}
	if _, err := r.collection.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"last_read": at}}); err != nil {
		return fmt.Errorf("failed to update last read: %w", err)
	}
	return nil
}

// OldestTrackedModified 存在阅读记录的帖子中最早的修改时间，在服务端聚合完成
func (r *MongoReadRepository) OldestTrackedModified(ctx context.Context) (time.Time, bool, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$post_id"}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         postsCollection,
			"localField":   "_id",
			"foreignField": "_id",
			"as":           "post",
		}}},
		{{Key: "$unwind", Value: "$post"}},
		{{Key: "$group", Value: bson.M{"_id": nil, "oldest": bson.M{"$min": "$post.modified"}}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to aggregate oldest tracked post: %w", err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return time.Time{}, false, fmt.Errorf("failed to read oldest tracked post: %w", err)
		}
		return time.Time{}, false, nil
	}
	var doc struct {
		Oldest time.Time `bson:"oldest"`
	}
	if err := cursor.Decode(&doc); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to decode oldest tracked post: %w", err)
	}
	return doc.Oldest, true, nil
}

// Delete 按条件删除记录，空条件返回 ErrEmptyFilter
func (r *MongoReadRepository) Delete(ctx context.Context, filter ReadFilter) (int64, error) {
	if filter.Empty() {
		return 0, ErrEmptyFilter
	}

	query := bson.M{}
	if filter.UserID >= 0 {
		query["user_id"] = filter.UserID
	}
	if filter.PostID >= 0 {
		query["post_id"] = filter.PostID
	}
	if filter.DiscussionID >= 0 {
		query["discussion_id"] = filter.DiscussionID
	}
	if filter.ForumID >= 0 {
		query["forum_id"] = filter.ForumID
	}

	result, err := r.collection.DeleteMany(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete read records: %w", err)
	}
	return result.DeletedCount, nil
}

// DeleteByPostIDs 删除帖子对应的所有阅读记录
func (r *MongoReadRepository) DeleteByPostIDs(ctx context.Context, postIDs []int64) (int64, error) {
	if len(postIDs) == 0 {
		return 0, nil
	}
	result, err := r.collection.DeleteMany(ctx, bson.M{"post_id": bson.M{"$in": postIDs}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete read records: %w", err)
	}
	return result.DeletedCount, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoReadRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "post_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "forum_id", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "discussion_id", Value: 1}}},
		{Keys: bson.D{{Key: "post_id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create read indexes: %w", err)
	}
	return nil
}
