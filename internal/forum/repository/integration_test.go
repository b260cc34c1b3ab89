//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
	mongoclient "go_forum/internal/mongo"
)

func TestMongoStoreNotificationFlow(t *testing.T) {
	store := setupIntegrationStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	posts := []*models.Post{
		{ID: 1, DiscussionID: 1, UserID: 1, Subject: "fresh", Created: now.Add(-time.Hour), Modified: now.Add(-time.Hour)},
		{ID: 2, DiscussionID: 1, ParentID: 1, UserID: 2, Subject: "old", Created: now.Add(-72 * time.Hour), Modified: now.Add(-72 * time.Hour)},
		{ID: 3, DiscussionID: 1, ParentID: 1, UserID: 2, Subject: "urgent", Created: now.Add(-72 * time.Hour), Modified: now.Add(-72 * time.Hour), MailNow: true},
	}
	for _, p := range posts {
		if err := store.Posts.Create(ctx, p); err != nil {
			t.Fatalf("failed to create post %d: %v", p.ID, err)
		}
	}

	pending, err := store.Posts.FindPending(ctx, now.Add(-48*time.Hour), now)
	if err != nil {
		t.Fatalf("FindPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending posts, got %d", len(pending))
	}

	claimed, err := store.Posts.Claim(ctx, []int64{1, 3}, models.MailPending, models.MailSuccess)
	if err != nil || len(claimed) != 2 {
		t.Fatalf("Claim claimed=%v err=%v", claimed, err)
	}
	again, err := store.Posts.Claim(ctx, []int64{1, 3}, models.MailPending, models.MailSuccess)
	if err != nil || len(again) != 0 {
		t.Fatalf("second claim must be empty, claimed=%v err=%v", again, err)
	}

	record := &models.ReadRecord{UserID: 5, PostID: 1, DiscussionID: 1, ForumID: 1, FirstRead: now, LastRead: now}
	for i := 0; i < 2; i++ {
		if err := store.Reads.InsertIfAbsent(ctx, []*models.ReadRecord{record}); err != nil {
			t.Fatalf("InsertIfAbsent failed: %v", err)
		}
	}
	ids, err := store.Reads.ExistingPostIDs(ctx, 5, []int64{1, 2})
	if err != nil || len(ids) != 1 {
		t.Fatalf("expected one read record, got %v err=%v", ids, err)
	}

	oldest, ok, err := store.Reads.OldestTrackedModified(ctx)
	if err != nil || !ok {
		t.Fatalf("OldestTrackedModified ok=%v err=%v", ok, err)
	}
	if d := oldest.Sub(posts[0].Modified); d > time.Second || d < -time.Second {
		t.Fatalf("oldest = %v, want %v", oldest, posts[0].Modified)
	}

	if _, err := store.Reads.Delete(ctx, repository.ReadFilter{UserID: repository.Any, PostID: repository.Any, DiscussionID: repository.Any, ForumID: repository.Any}); err == nil {
		t.Fatalf("empty read filter must be rejected")
	}

	entries := []*models.DigestQueueEntry{
		{UserID: 5, DiscussionID: 1, PostID: 1, TimeModified: now.Add(-time.Hour)},
		{UserID: 5, DiscussionID: 1, PostID: 3, TimeModified: now.Add(-8 * 24 * time.Hour)},
	}
	if err := store.Queue.Insert(ctx, entries); err != nil {
		t.Fatalf("queue insert failed: %v", err)
	}
	purged, err := store.Queue.DeleteOlderThan(ctx, now.Add(-7*24*time.Hour))
	if err != nil || purged != 1 {
		t.Fatalf("DeleteOlderThan purged=%d err=%v", purged, err)
	}
	removed, err := store.Queue.DeleteForUser(ctx, 5, now)
	if err != nil || removed != 1 {
		t.Fatalf("DeleteForUser removed=%d err=%v", removed, err)
	}

	if err := store.State.SetTime(ctx, repository.StateLastDigestTime, now); err != nil {
		t.Fatalf("SetTime failed: %v", err)
	}
	got, err := store.State.GetTime(ctx, repository.StateLastDigestTime)
	if err != nil || !got.Equal(now) {
		t.Fatalf("GetTime = %v err=%v", got, err)
	}
}

func setupIntegrationStore(t *testing.T) *repository.Store {
	t.Helper()

	uri := envOrDefault("MONGO_URI", "mongodb://localhost:27017")
	baseDatabase := envOrDefault("TEST_DATABASE", "test_go_forum")
	databaseName := fmt.Sprintf("%s_%d", baseDatabase, time.Now().UnixNano())

	client, err := mongoclient.NewClient(mongoclient.Config{
		URI:      uri,
		Database: databaseName,
		Timeout:  5 * time.Second,
		Attempts: 1,
	})
	if err != nil {
		if isCIEnvironment() {
			t.Fatalf("failed to connect MongoDB in CI: %v", err)
		}
		t.Skipf("MongoDB is not available locally, skip integration test: %v", err)
		return nil
	}

	db := client.Database()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := db.Drop(ctx); err != nil {
			t.Errorf("failed to drop integration database %s: %v", databaseName, err)
		}
		if err := client.Close(ctx); err != nil {
			t.Errorf("failed to close MongoDB connection: %v", err)
		}
	})

	store := repository.NewMongoStore(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("failed to ensure indexes: %v", err)
	}
	return store
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func isCIEnvironment() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}
