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

// MongoUserRepository 用户数据访问层
type MongoUserRepository struct {
	collection *mongo.Collection
}

// NewMongoUserRepository 创建用户 Repository
func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{
		collection: db.Collection("users"),
	}
}

// Upsert 创建或更新用户
func (r *MongoUserRepository) Upsert(ctx context.Context, user *models.User) error {
	setFields := bson.M{
		"username":                  user.Username,
		"email":                     user.Email,
		"first_name":                user.FirstName,
		"last_name":                 user.LastName,
		"enrolments":                user.Enrolments,
		"groups":                    user.Groups,
		"mail_digest":               user.MailDigest,
		"track_forums":              user.TrackForums,
		"mark_read_on_notification": user.MarkReadOnNotification,
		"telegram_chat_id":          user.TelegramChatID,
		"email_stop":                user.EmailStop,
		"deleted":                   user.Deleted,
		"suspended":                 user.Suspended,
		"guest":                     user.Guest,
	}

	// 指定了站点角色时才覆盖
	if user.SiteRole != "" {
		setFields["site_role"] = user.SiteRole
	}

	update := bson.M{"$set": setFields}
	if user.SiteRole == "" {
		update["$setOnInsert"] = bson.M{"site_role": models.SiteRoleUser}
	}

	opts := options.Update().SetUpsert(true)
	if _, err := r.collection.UpdateOne(ctx, bson.M{"_id": user.ID}, update, opts); err != nil {
		return fmt.Errorf("failed to create or update user: %w", err)
	}
	return nil
}

// Get 获取用户
func (r *MongoUserRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// ListByIDs 批量获取用户
func (r *MongoUserRepository) ListByIDs(ctx context.Context, ids []int64) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// ListEnrolled 列出课程中未被停用的选课用户
func (r *MongoUserRepository) ListEnrolled(ctx context.Context, courseID int64) ([]*models.User, error) {
	filter := bson.M{
		"enrolments": bson.M{"$elemMatch": bson.M{
			"course_id": courseID,
			"suspended": bson.M{"$ne": true},
		}},
		"deleted":   bson.M{"$ne": true},
		"suspended": bson.M{"$ne": true},
	}
	return r.find(ctx, filter)
}

func (r *MongoUserRepository) find(ctx context.Context, filter bson.M) ([]*models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []*models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "enrolments.course_id", Value: 1}}},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}
	return nil
}
