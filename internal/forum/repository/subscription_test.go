package repository

import (
	"context"
	"errors"
	"testing"

	"go_forum/internal/forum/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoSubscriptionRepositoryInsert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("created", func(mt *mtest.T) {
		repo := &MongoSubscriptionRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
			bson.E{Key: "upserted", Value: bson.A{
				bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: "abc"}},
			}},
		))

		created, err := repo.Insert(context.Background(), 1, 2)
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if !created {
			t.Fatalf("expected subscription to be created")
		}
	})

	mt.Run("already subscribed", func(mt *mtest.T) {
		repo := &MongoSubscriptionRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
		))

		created, err := repo.Insert(context.Background(), 1, 2)
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if created {
			t.Fatalf("expected existing subscription to be kept")
		}
	})
}

func TestMongoDiscussionSubscriptionRepositoryGet(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("unsubscribed row", func(mt *mtest.T) {
		repo := &MongoDiscussionSubscriptionRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			namespace(mt),
			mtest.FirstBatch,
			bson.D{
				{Key: "user_id", Value: int64(1)},
				{Key: "forum_id", Value: int64(2)},
				{Key: "discussion_id", Value: int64(3)},
				{Key: "preference", Value: models.DiscussionUnsubscribed},
			},
		))

		sub, err := repo.Get(context.Background(), 1, 3)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !sub.Unsubscribed() {
			t.Fatalf("expected unsubscribed sentinel, got %d", sub.Preference)
		}
	})

	mt.Run("absent", func(mt *mtest.T) {
		repo := &MongoDiscussionSubscriptionRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := repo.Get(context.Background(), 1, 3)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
