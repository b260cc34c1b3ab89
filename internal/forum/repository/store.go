package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
)

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

// NewMongoStore 基于 MongoDB 创建全部仓储
func NewMongoStore(db *mongo.Database) *Store {
	return &Store{
		Forums:        NewMongoForumRepository(db),
		Courses:       NewMongoCourseRepository(db),
		Discussions:   NewMongoDiscussionRepository(db),
		Posts:         NewMongoPostRepository(db),
		Users:         NewMongoUserRepository(db),
		Reads:         NewMongoReadRepository(db),
		TrackPrefs:    NewMongoTrackPreferenceRepository(db),
		Subscriptions: NewMongoSubscriptionRepository(db),
		DiscussionSub: NewMongoDiscussionSubscriptionRepository(db),
		Digests:       NewMongoDigestPreferenceRepository(db),
		Queue:         NewMongoQueueRepository(db),
		State:         NewMongoStateRepository(db),
		Sequences:     NewMongoSequenceRepository(db),
	}
}

// EnsureIndexes 为全部仓储创建索引
func (s *Store) EnsureIndexes(ctx context.Context) error {
	repos := []indexer{
		s.Forums, s.Courses, s.Discussions, s.Posts, s.Users, s.Reads,
		s.TrackPrefs, s.Subscriptions, s.DiscussionSub, s.Digests, s.Queue,
	}
	for _, repo := range repos {
		if err := repo.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure indexes: %w", err)
		}
	}
	return nil
}
