package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go_forum/internal/forum/models"

	"github.com/google/go-cmp/cmp"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoReadRepositoryDeleteRejectsEmptyFilter(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("empty filter", func(mt *mtest.T) {
		repo := &MongoReadRepository{collection: mt.Coll}
		n, err := repo.Delete(context.Background(), ReadFilter{UserID: Any, PostID: Any, DiscussionID: Any, ForumID: Any})
		if !errors.Is(err, ErrEmptyFilter) {
			t.Fatalf("expected ErrEmptyFilter, got %v", err)
		}
		if n != 0 {
			t.Fatalf("expected nothing deleted, got %d", n)
		}
	})

	mt.Run("by forum", func(mt *mtest.T) {
		repo := &MongoReadRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 4}))

		n, err := repo.Delete(context.Background(), ReadFilter{UserID: 3, PostID: Any, DiscussionID: Any, ForumID: 9})
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if n != 4 {
			t.Fatalf("expected 4 deleted, got %d", n)
		}
	})
}

func TestMongoReadRepositoryExistingPostIDs(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoReadRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			namespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "post_id", Value: int64(10)}},
			bson.D{{Key: "post_id", Value: int64(12)}},
		))

		got, err := repo.ExistingPostIDs(context.Background(), 1, []int64{10, 11, 12})
		if err != nil {
			t.Fatalf("ExistingPostIDs failed: %v", err)
		}
		if diff := cmp.Diff([]int64{10, 12}, got); diff != "" {
			t.Fatalf("unexpected ids (-want +got):\n%s", diff)
		}
	})
}

func TestMongoReadRepositoryInsertIfAbsent(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("success", func(mt *mtest.T) {
		repo := &MongoReadRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
		))

		now := time.Now()
		err := repo.InsertIfAbsent(context.Background(), []*models.ReadRecord{
			{UserID: 1, PostID: 2, DiscussionID: 3, ForumID: 4, FirstRead: now, LastRead: now},
		})
		if err != nil {
			t.Fatalf("InsertIfAbsent failed: %v", err)
		}
	})

	mt.Run("write error", func(mt *mtest.T) {
		repo := &MongoReadRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    123,
			Name:    "WriteError",
			Message: "mock write failure",
		}))

		err := repo.InsertIfAbsent(context.Background(), []*models.ReadRecord{{UserID: 1, PostID: 2}})
		if err == nil {
			t.Fatalf("expected error but got nil")
		}
	})
}

func TestMongoReadRepositoryOldestTrackedModified(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("found", func(mt *mtest.T) {
		repo := &MongoReadRepository{collection: mt.Coll}
		oldest := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
		mt.AddMockResponses(mtest.CreateCursorResponse(
			0,
			namespace(mt),
			mtest.FirstBatch,
			bson.D{{Key: "_id", Value: nil}, {Key: "oldest", Value: oldest}},
		))

		got, ok, err := repo.OldestTrackedModified(context.Background())
		if err != nil {
			t.Fatalf("OldestTrackedModified failed: %v", err)
		}
		if !ok || !got.Equal(oldest) {
			t.Fatalf("oldest = %v ok=%v, want %v", got, ok, oldest)
		}
	})

	mt.Run("no records", func(mt *mtest.T) {
		repo := &MongoReadRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, ok, err := repo.OldestTrackedModified(context.Background())
		if err != nil {
			t.Fatalf("OldestTrackedModified failed: %v", err)
		}
		if ok {
			t.Fatalf("expected no result for empty ledger")
		}
	})

	mt.Run("aggregate error", func(mt *mtest.T) {
		repo := &MongoReadRepository{collection: mt.Coll}
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "mock aggregate failure",
		}))

		if _, _, err := repo.OldestTrackedModified(context.Background()); err == nil {
			t.Fatalf("expected error but got nil")
		}
	})
}
