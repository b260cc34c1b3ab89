package service

import (
	"context"
	"strconv"
	"testing"
	"time"

	"go_forum/internal/config"
	"go_forum/internal/forum/access"
	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
	"go_forum/internal/forum/repository/memory"
)

const testCourseID int64 = 10

type fixture struct {
	t     *testing.T
	ctx   context.Context
	now   time.Time
	store *repository.Store
	db    *memory.DB
	caps  *access.RoleChecker

	tracking *TrackingPolicy
	ledger   *ReadLedger
	subs     *SubscriptionRegistry
	vis      *Visibility
	posts    *PostService
}

func newFixture(t *testing.T, mutate func(cfg *config.ForumConfig)) *fixture {
	t.Helper()

	cfg := config.DefaultForumConfig()
	cfg.SiteURL = "https://forum.example.com"
	if mutate != nil {
		mutate(&cfg)
	}

	store, db := memory.NewStore()
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		now:   time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
		store: store,
		db:    db,
		caps:  access.NewRoleChecker(),
	}

	deps := Deps{
		Config:    cfg,
		Store:     store,
		Caps:      f.caps,
		Directory: access.NewDirectory(store.Users, 0),
		Clock:     func() time.Time { return f.now },
	}
	f.tracking = NewTrackingPolicy(deps)
	f.ledger = NewReadLedger(deps, f.tracking)
	f.subs = NewSubscriptionRegistry(deps)
	f.vis = NewVisibility(deps)
	f.posts = NewPostService(deps, f.tracking, f.ledger)
	return f
}

func (f *fixture) user(id int64, role string, groups ...int64) *models.User {
	f.t.Helper()
	u := &models.User{
		ID:          id,
		Username:    "user" + itoa(id),
		Email:       "user" + itoa(id) + "@example.com",
		FirstName:   "User",
		LastName:    itoa(id),
		TrackForums: true,
		Groups:      groups,
		MailDigest:  models.DigestNone,
	}
	if role != "" {
		u.Enrolments = []models.Enrolment{{CourseID: testCourseID, Role: role}}
	}
	if err := f.store.Users.Upsert(f.ctx, u); err != nil {
		f.t.Fatalf("upsert user: %v", err)
	}
	return u
}

func (f *fixture) forum(id int64, tracking models.TrackingType, mode models.SubscriptionMode) *models.Forum {
	f.t.Helper()
	forum := &models.Forum{
		ID:             id,
		CourseID:       testCourseID,
		Kind:           models.KindGeneral,
		Name:           "Forum " + itoa(id),
		TrackingType:   tracking,
		ForceSubscribe: mode,
	}
	if err := f.store.Forums.Upsert(f.ctx, forum); err != nil {
		f.t.Fatalf("upsert forum: %v", err)
	}
	return forum
}

func (f *fixture) module(forumID int64, mode models.GroupMode) *models.CourseModule {
	f.t.Helper()
	cm := &models.CourseModule{ID: forumID + 100, CourseID: testCourseID, ForumID: forumID, GroupMode: mode, Visible: true}
	if err := f.store.Courses.UpsertModule(f.ctx, cm); err != nil {
		f.t.Fatalf("upsert module: %v", err)
	}
	return cm
}

func (f *fixture) discussion(id, forumID, groupID, userID int64) *models.Discussion {
	f.t.Helper()
	d := &models.Discussion{
		ID:           id,
		ForumID:      forumID,
		CourseID:     testCourseID,
		GroupID:      groupID,
		UserID:       userID,
		Name:         "Discussion " + itoa(id),
		TimeModified: f.now,
	}
	if err := f.store.Discussions.Create(f.ctx, d); err != nil {
		f.t.Fatalf("create discussion: %v", err)
	}
	return d
}

func (f *fixture) post(id, discussionID, parentID, userID int64, created time.Time) *models.Post {
	f.t.Helper()
	p := &models.Post{
		ID:           id,
		DiscussionID: discussionID,
		ParentID:     parentID,
		UserID:       userID,
		Subject:      "Post " + itoa(id),
		Message:      "<p>Body " + itoa(id) + "</p>",
		Created:      created,
		Modified:     created,
	}
	if err := f.store.Posts.Create(f.ctx, p); err != nil {
		f.t.Fatalf("create post: %v", err)
	}
	if parentID == 0 {
		if err := f.store.Discussions.SetFirstPost(f.ctx, discussionID, id); err != nil {
			f.t.Fatalf("set first post: %v", err)
		}
	}
	return p
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
