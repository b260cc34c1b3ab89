package repository

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoStateRepositoryGetTime(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("missing watermark is zero", func(mt *mtest.T) {
		repo := &MongoStateRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		got, err := repo.GetTime(context.Background(), StateLastDigestTime)
		if err != nil {
			t.Fatalf("GetTime failed: %v", err)
		}
		if !got.IsZero() {
			t.Fatalf("expected zero time, got %v", got)
		}
	})

	mt.Run("stored watermark", func(mt *mtest.T) {
		repo := &MongoStateRepository{collection: mt.Coll}
		stored := time.Date(2024, 6, 1, 17, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			namespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "_id", Value: StateLastDigestTime}, {Key: "value", Value: stored}},
		))

		got, err := repo.GetTime(context.Background(), StateLastDigestTime)
		if err != nil {
			t.Fatalf("GetTime failed: %v", err)
		}
		if !got.Equal(stored) {
			t.Fatalf("expected %v, got %v", stored, got)
		}
	})
}

func TestMongoSequenceRepositoryNext(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("advances", func(mt *mtest.T) {
		repo := &MongoSequenceRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "value", Value: bson.D{
				{Key: "_id", Value: "forum_posts"},
				{Key: "seq", Value: int64(42)},
			}},
		))

		got, err := repo.Next(context.Background(), "forum_posts")
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got != 42 {
			t.Fatalf("expected 42, got %d", got)
		}
	})
}
