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

// MongoCourseRepository 课程数据访问层
type MongoCourseRepository struct {
	courses *mongo.Collection
	modules *mongo.Collection
}

// NewMongoCourseRepository 创建课程 Repository
func NewMongoCourseRepository(db *mongo.Database) *MongoCourseRepository {
	return &MongoCourseRepository{
		courses: db.Collection("courses"),
		modules: db.Collection("course_modules"),
	}
}

// UpsertCourse 创建或更新课程
func (r *MongoCourseRepository) UpsertCourse(ctx context.Context, course *models.Course) error {
	update := bson.M{
		"$set": bson.M{
			"short_name": course.ShortName,
			"full_name":  course.FullName,
		},
	}
	opts := options.Update().SetUpsert(true)
	if _, err := r.courses.UpdateOne(ctx, bson.M{"_id": course.ID}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert course: %w", err)
	}
	return nil
}

// GetCourse 获取课程
func (r *MongoCourseRepository) GetCourse(ctx context.Context, id int64) (*models.Course, error) {
	var course models.Course
	if err := r.courses.FindOne(ctx, bson.M{"_id": id}).Decode(&course); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("course %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &course, nil
}

// UpsertModule 创建或更新课程模块
func (r *MongoCourseRepository) UpsertModule(ctx context.Context, cm *models.CourseModule) error {
	update := bson.M{
		"$set": bson.M{
			"course_id":  cm.CourseID,
			"forum_id":   cm.ForumID,
			"group_mode": cm.GroupMode,
			"visible":    cm.Visible,
		},
	}
	opts := options.Update().SetUpsert(true)
	if _, err := r.modules.UpdateOne(ctx, bson.M{"_id": cm.ID}, update, opts); err != nil {
		return fmt.Errorf("failed to upsert course module: %w", err)
	}
	return nil
}

// GetModuleByForum 根据论坛 ID 获取课程模块
func (r *MongoCourseRepository) GetModuleByForum(ctx context.Context, forumID int64) (*models.CourseModule, error) {
	var cm models.CourseModule
	if err := r.modules.FindOne(ctx, bson.M{"forum_id": forumID}).Decode(&cm); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("course module for forum %d: %w", forumID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get course module: %w", err)
	}
	return &cm, nil
}

// EnsureIndexes 确保索引存在
func (r *MongoCourseRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "forum_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "course_id", Value: 1}}},
	}
	if _, err := r.modules.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create course module indexes: %w", err)
	}
	return nil
}
