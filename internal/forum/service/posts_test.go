package service

import (
	"errors"
	"testing"

	"go_forum/internal/forum/models"
)

func TestCreateDiscussionAndReply(t *testing.T) {
	f := newFixture(t, nil)
	author := f.user(1, models.RoleStudent)
	replier := f.user(2, models.RoleStudent)
	f.forum(1, models.TrackingOptional, models.SubscriptionChoose)

	d, first, err := f.posts.CreateDiscussion(f.ctx, author, NewDiscussion{ForumID: 1, Subject: "Hello", Message: "World"})
	if err != nil {
		t.Fatalf("CreateDiscussion failed: %v", err)
	}
	if d.FirstPostID != first.ID || first.Mailed != models.MailPending {
		t.Fatalf("unexpected discussion/post: %+v %+v", d, first)
	}
	if d.GroupID != models.AllGroups {
		t.Fatalf("group = %d, want all groups", d.GroupID)
	}
	stored, err := f.store.Discussions.Get(f.ctx, d.ID)
	if err != nil || stored.FirstPostID != first.ID {
		t.Fatalf("first post not persisted: %+v err=%v", stored, err)
	}
	if _, ok := f.db.ReadRecord(author.ID, first.ID); !ok {
		t.Fatalf("author's own post should be marked read")
	}

	reply, err := f.posts.Reply(f.ctx, replier, NewReply{ParentID: first.ID, Message: "Hi"})
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply.Subject != "Re: Hello" || reply.ParentID != first.ID {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.ID == first.ID {
		t.Fatalf("post ids must be unique")
	}

	if _, err := f.posts.UpdatePost(f.ctx, author, reply.ID, "", "edited"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	updated, err := f.posts.UpdatePost(f.ctx, replier, reply.ID, "", "edited")
	if err != nil || updated.Message != "edited" {
		t.Fatalf("UpdatePost = %+v err=%v", updated, err)
	}
}

func TestCreateDiscussionKindRules(t *testing.T) {
	f := newFixture(t, nil)
	student := f.user(1, models.RoleStudent)
	teacher := f.user(2, models.RoleTeacher)

	news := f.forum(1, models.TrackingOptional, models.SubscriptionForced)
	news.Kind = models.KindNews
	if err := f.store.Forums.Upsert(f.ctx, news); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, _, err := f.posts.CreateDiscussion(f.ctx, student, NewDiscussion{ForumID: 1, Subject: "x"}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("students cannot post news, got %v", err)
	}
	if _, _, err := f.posts.CreateDiscussion(f.ctx, teacher, NewDiscussion{ForumID: 1, Subject: "x"}); err != nil {
		t.Fatalf("teacher news post failed: %v", err)
	}

	each := f.forum(2, models.TrackingOptional, models.SubscriptionChoose)
	each.Kind = models.KindEachUser
	if err := f.store.Forums.Upsert(f.ctx, each); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, _, err := f.posts.CreateDiscussion(f.ctx, student, NewDiscussion{ForumID: 2, Subject: "mine"}); err != nil {
		t.Fatalf("first discussion failed: %v", err)
	}
	if _, _, err := f.posts.CreateDiscussion(f.ctx, student, NewDiscussion{ForumID: 2, Subject: "again"}); !errors.Is(err, ErrDiscussionLimit) {
		t.Fatalf("expected ErrDiscussionLimit, got %v", err)
	}
}

func TestDeletePostCascades(t *testing.T) {
	f := newFixture(t, nil)
	user := f.user(1, models.RoleStudent)
	f.forum(1, models.TrackingOptional, models.SubscriptionChoose)
	d := f.discussion(1, 1, models.AllGroups, 2)
	f.post(1, 1, 0, 2, f.now)
	f.post(2, 1, 1, 2, f.now)
	f.post(3, 1, 2, 2, f.now)
	f.post(4, 1, 1, 2, f.now)

	if err := f.ledger.MarkDiscussionRead(f.ctx, user, d.ID); err != nil {
		t.Fatalf("MarkDiscussionRead failed: %v", err)
	}
	if err := f.store.Queue.Insert(f.ctx, []*models.DigestQueueEntry{{UserID: 1, DiscussionID: d.ID, PostID: 1, TimeModified: f.now}}); err != nil {
		t.Fatalf("queue insert: %v", err)
	}

	if err := f.posts.DeletePost(f.ctx, 2); err != nil {
		t.Fatalf("DeletePost failed: %v", err)
	}
	remaining, _ := f.store.Posts.ListByDiscussion(f.ctx, d.ID)
	if len(remaining) != 2 {
		t.Fatalf("expected posts 1 and 4 to remain, got %d", len(remaining))
	}
	if f.db.ReadRecordCount() != 2 {
		t.Fatalf("read records for deleted posts should go, got %d", f.db.ReadRecordCount())
	}

	if err := f.posts.DeletePost(f.ctx, 1); err != nil {
		t.Fatalf("deleting first post failed: %v", err)
	}
	if _, err := f.store.Discussions.Get(f.ctx, d.ID); err == nil {
		t.Fatalf("discussion should be deleted")
	}
	if f.db.ReadRecordCount() != 0 || f.db.QueueLen() != 0 {
		t.Fatalf("cascade incomplete: reads=%d queue=%d", f.db.ReadRecordCount(), f.db.QueueLen())
	}
}

func TestDescendants(t *testing.T) {
	posts := []*models.Post{
		{ID: 1}, {ID: 2, ParentID: 1}, {ID: 3, ParentID: 2}, {ID: 4, ParentID: 1}, {ID: 5, ParentID: 3},
	}
	got := descendants(posts, 2)
	if len(got) != 3 || got[0] != 2 || got[1] != 3 || got[2] != 5 {
		t.Fatalf("descendants = %v", got)
	}
}
