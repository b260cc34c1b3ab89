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

// MongoDigestPreferenceRepository 摘要设置数据访问层
type MongoDigestPreferenceRepository struct {
	collection *mongo.Collection
}

// NewMongoDigestPreferenceRepository 创建摘要设置 Repository
func NewMongoDigestPreferenceRepository(db *mongo.Database) *MongoDigestPreferenceRepository {
	return &MongoDigestPreferenceRepository{
		collection: db.Collection("forum_digests"),
	}
}

// Get 获取用户在论坛的摘要设置
func (r *MongoDigestPreferenceRepository) Get(ctx context.Context, userID, forumID int64) (*models.DigestPreference, error) {
	var pref models.DigestPreference
	if err := r.collection.FindOne(ctx, bson.M{"user_id": userID, "forum_id": forumID}).Decode(&pref); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("digest preference %d/%d: %w", userID, forumID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get digest preference: %w", err)
	}
	return &pref, nil
}

// ListByUser 列出用户全部摘要设置
func (r *MongoDigestPreferenceRepository) ListByUser(ctx context.Context, userID int64) ([]*models.DigestPreference, error) {
	return r.find(ctx, bson.M{"user_id": userID})
}

// ListByForums 列出论坛的摘要设置
func (r *MongoDigestPreferenceRepository) ListByForums(ctx context.Context, forumIDs []int64) ([]*models.DigestPreference, error) {
	if len(forumIDs) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"forum_id": bson.M{"$in": forumIDs}})
}

func (r *MongoDigestPreferenceRepository) find(ctx context.Context, filter bson.M) ([]*models.DigestPreference, error) {
	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list digest preferences: %w", err)
	}
	defer cursor.Close(ctx)

	var prefs []*models.DigestPreference
	if err := cursor.All(ctx, &prefs); err != nil {
		return nil, fmt.Errorf("failed to decode digest preferences: %w", err)
	}
	return prefs, nil
}

// Set 写入摘要设置
func (r *MongoDigestPreferenceRepository) Set(ctx context.Context, pref *models.DigestPreference) error {
	filter := bson.M{"user_id": pref.UserID, "forum_id": pref.ForumID}
	update := bson.M{"$set": bson.M{"mail_digest": pref.MailDigest}}
	if _, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to set digest preference: %w", err)
	}
	return nil
}

// Delete 删除摘要设置
func (r *MongoDigestPreferenceRepository) Delete(ctx context.Context, userID, forumID int64) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"user_id": userID, "forum_id": forumID}); err != nil {
		return fmt.Errorf("failed to delete digest preference: %w", err)
	}
	return nil
}

// EnsureIndexes 确保索引存在
func (r *MongoDigestPreferenceRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "forum_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "forum_id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create digest preference indexes: %w", err)
	}
	return nil
}
