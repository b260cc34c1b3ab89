package notify

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"go_forum/internal/config"
	"go_forum/internal/forum/access"
	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
	"go_forum/internal/forum/repository/memory"
	"go_forum/internal/forum/service"
	"go_forum/internal/lock"
	"go_forum/internal/mailer"
)

const testCourseID int64 = 10

// recordingSender 记录投递的消息，failFor 中的用户投递失败
type recordingSender struct {
	mu      sync.Mutex
	sent    []*mailer.Message
	failFor map[int64]error
}

func (s *recordingSender) Send(ctx context.Context, msg *mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[msg.To.ID]; ok {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) to(userID int64) []*mailer.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*mailer.Message
	for _, msg := range s.sent {
		if msg.To.ID == userID {
			out = append(out, msg)
		}
	}
	return out
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	now    time.Time
	cfg    config.ForumConfig
	store  *repository.Store
	db     *memory.DB
	sender *recordingSender
	locker *lock.Local
	cron   *Cron
}

func newFixture(t *testing.T, mutate func(cfg *config.ForumConfig)) *fixture {
	t.Helper()

	cfg := config.DefaultForumConfig()
	cfg.SiteURL = "https://forum.example.com"
	cfg.Workers = 4
	if mutate != nil {
		mutate(&cfg)
	}

	store, db := memory.NewStore()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		now:    time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC),
		cfg:    cfg,
		store:  store,
		db:     db,
		sender: &recordingSender{failFor: make(map[int64]error)},
		locker: lock.NewLocal(),
	}

	clock := func() time.Time { return f.now }
	deps := service.Deps{
		Config:    cfg,
		Store:     store,
		Directory: access.NewDirectory(store.Users, 0),
		Clock:     clock,
	}
	tracking := service.NewTrackingPolicy(deps)
	f.cron = NewCron(Deps{
		Config:        cfg,
		Store:         store,
		Ledger:        service.NewReadLedger(deps, tracking),
		Subscriptions: service.NewSubscriptionRegistry(deps),
		Visibility:    service.NewVisibility(deps),
		Sender:        f.sender,
		Locker:        f.locker,
		Clock:         clock,
	})

	if err := store.Courses.UpsertCourse(f.ctx, &models.Course{ID: testCourseID, ShortName: "C101", FullName: "Course 101"}); err != nil {
		t.Fatalf("upsert course: %v", err)
	}
	return f
}

func (f *fixture) user(id int64, role string, groups ...int64) *models.User {
	f.t.Helper()
	u := &models.User{
		ID:                     id,
		Username:               "user" + itoa(id),
		Email:                  "user" + itoa(id) + "@example.com",
		FirstName:              "User",
		LastName:               itoa(id),
		TrackForums:            true,
		MarkReadOnNotification: true,
		Groups:                 groups,
		MailDigest:             models.DigestNone,
		Enrolments:             []models.Enrolment{{CourseID: testCourseID, Role: role}},
	}
	f.save(u)
	return u
}

func (f *fixture) save(u *models.User) {
	f.t.Helper()
	if err := f.store.Users.Upsert(f.ctx, u); err != nil {
		f.t.Fatalf("upsert user: %v", err)
	}
}

// forum 创建论坛及其课程模块
func (f *fixture) forum(id int64, kind models.ForumKind, mode models.SubscriptionMode, groupMode models.GroupMode) *models.Forum {
	f.t.Helper()
	forum := &models.Forum{
		ID:             id,
		CourseID:       testCourseID,
		Kind:           kind,
		Name:           "Forum " + itoa(id),
		TrackingType:   models.TrackingOptional,
		ForceSubscribe: mode,
	}
	if err := f.store.Forums.Upsert(f.ctx, forum); err != nil {
		f.t.Fatalf("upsert forum: %v", err)
	}
	cm := &models.CourseModule{ID: id + 100, CourseID: testCourseID, ForumID: id, GroupMode: groupMode, Visible: true}
	if err := f.store.Courses.UpsertModule(f.ctx, cm); err != nil {
		f.t.Fatalf("upsert module: %v", err)
	}
	return forum
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

func (f *fixture) subscribe(userID, forumID int64) {
	f.t.Helper()
	if _, err := f.store.Subscriptions.Insert(f.ctx, userID, forumID); err != nil {
		f.t.Fatalf("insert subscription: %v", err)
	}
}

func (f *fixture) runImmediate() ImmediateReport {
	f.t.Helper()
	report, err := f.cron.RunImmediate(f.ctx)
	if err != nil {
		f.t.Fatalf("RunImmediate failed: %v", err)
	}
	return report
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
