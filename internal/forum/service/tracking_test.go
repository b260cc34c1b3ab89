package service

import (
	"errors"
	"testing"
	"time"

	"go_forum/internal/config"
	"go_forum/internal/forum/models"
)

func TestCanTrack(t *testing.T) {
	tracker := &models.User{ID: 1, TrackForums: true}
	nonTracker := &models.User{ID: 2}
	guest := &models.User{ID: 3, TrackForums: true, Guest: true}

	off := &models.Forum{ID: 1, TrackingType: models.TrackingOff}
	optional := &models.Forum{ID: 2, TrackingType: models.TrackingOptional}
	forced := &models.Forum{ID: 3, TrackingType: models.TrackingForced}

	tests := []struct {
		name        string
		siteEnabled bool
		allowForced bool
		forum       *models.Forum
		user        *models.User
		want        bool
	}{
		{name: "SiteDisabled", siteEnabled: false, forum: optional, user: tracker, want: false},
		{name: "Guest", siteEnabled: true, forum: optional, user: guest, want: false},
		{name: "NilUser", siteEnabled: true, forum: optional, user: nil, want: false},
		{name: "GenericTracker", siteEnabled: true, forum: nil, user: tracker, want: true},
		{name: "GenericNonTracker", siteEnabled: true, forum: nil, user: nonTracker, want: false},
		{name: "GenericForcedAllowed", siteEnabled: true, allowForced: true, forum: nil, user: nonTracker, want: true},
		{name: "OffForum", siteEnabled: true, forum: off, user: tracker, want: false},
		{name: "OptionalTracker", siteEnabled: true, forum: optional, user: tracker, want: true},
		{name: "OptionalNonTracker", siteEnabled: true, forum: optional, user: nonTracker, want: false},
		{name: "ForcedNotAllowedNeedsPreference", siteEnabled: true, forum: forced, user: nonTracker, want: false},
		{name: "ForcedNotAllowedTracker", siteEnabled: true, forum: forced, user: tracker, want: true},
		{name: "ForcedAllowedOverridesPreference", siteEnabled: true, allowForced: true, forum: forced, user: nonTracker, want: true},
		{name: "OptionalAllowedForcedNonTracker", siteEnabled: true, allowForced: true, forum: optional, user: nonTracker, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(cfg *config.ForumConfig) {
				cfg.TrackReadPosts = tt.siteEnabled
				cfg.AllowForcedReadTracking = tt.allowForced
			})
			if got := f.tracking.CanTrack(tt.forum, tt.user); got != tt.want {
				t.Fatalf("CanTrack() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsTrackedHonoursOptOut(t *testing.T) {
	f := newFixture(t, nil)
	user := f.user(1, models.RoleStudent)
	forum := f.forum(1, models.TrackingOptional, models.SubscriptionChoose)

	tracked, err := f.tracking.IsTracked(f.ctx, forum, user)
	if err != nil || !tracked {
		t.Fatalf("expected tracked, got %v err=%v", tracked, err)
	}

	if err := f.tracking.StopTracking(f.ctx, user, forum); err != nil {
		t.Fatalf("StopTracking failed: %v", err)
	}
	tracked, _ = f.tracking.IsTracked(f.ctx, forum, user)
	if tracked {
		t.Fatalf("expected opt-out to disable tracking")
	}

	if err := f.tracking.StartTracking(f.ctx, user, forum); err != nil {
		t.Fatalf("StartTracking failed: %v", err)
	}
	tracked, _ = f.tracking.IsTracked(f.ctx, forum, user)
	if !tracked {
		t.Fatalf("expected tracking restored")
	}
}

func TestForcedTrackingIgnoresOptOut(t *testing.T) {
	f := newFixture(t, func(cfg *config.ForumConfig) { cfg.AllowForcedReadTracking = true })
	user := f.user(1, models.RoleStudent)
	user.TrackForums = false
	forum := f.forum(1, models.TrackingForced, models.SubscriptionChoose)

	if err := f.store.TrackPrefs.Insert(f.ctx, user.ID, forum.ID); err != nil {
		t.Fatalf("insert preference: %v", err)
	}
	tracked, err := f.tracking.IsTracked(f.ctx, forum, user)
	if err != nil || !tracked {
		t.Fatalf("forced tracking must ignore preferences, got %v err=%v", tracked, err)
	}

	if err := f.tracking.StopTracking(f.ctx, user, forum); !errors.Is(err, ErrTrackingForced) {
		t.Fatalf("expected ErrTrackingForced, got %v", err)
	}
}

func TestStopTrackingDeletesForumReadRecords(t *testing.T) {
	f := newFixture(t, nil)
	user := f.user(1, models.RoleStudent)
	forumA := f.forum(1, models.TrackingOptional, models.SubscriptionChoose)
	f.forum(2, models.TrackingOptional, models.SubscriptionChoose)
	f.discussion(1, 1, models.AllGroups, user.ID)
	f.discussion(2, 2, models.AllGroups, user.ID)
	f.post(1, 1, 0, 2, f.now.Add(-time.Hour))
	f.post(2, 2, 0, 2, f.now.Add(-time.Hour))

	if err := f.ledger.MarkPostsRead(f.ctx, user, []int64{1, 2}); err != nil {
		t.Fatalf("MarkPostsRead failed: %v", err)
	}
	if f.db.ReadRecordCount() != 2 {
		t.Fatalf("expected 2 records, got %d", f.db.ReadRecordCount())
	}

	if err := f.tracking.StopTracking(f.ctx, user, forumA); err != nil {
		t.Fatalf("StopTracking failed: %v", err)
	}
	if _, ok := f.db.ReadRecord(user.ID, 1); ok {
		t.Fatalf("record in stopped forum should be gone")
	}
	if _, ok := f.db.ReadRecord(user.ID, 2); !ok {
		t.Fatalf("record in other forum should remain")
	}
}
