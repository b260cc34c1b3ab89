package service

import (
	"errors"
	"testing"

	"go_forum/internal/forum/models"
)

func TestIsSubscribedDiscussionOverrides(t *testing.T) {
	f := newFixture(t, nil)
	user := f.user(1, models.RoleStudent)
	forum := f.forum(1, models.TrackingOptional, models.SubscriptionChoose)
	d1 := f.discussion(1, 1, models.AllGroups, 2)
	d2 := f.discussion(2, 1, models.AllGroups, 2)

	if _, err := f.subs.SubscribeUser(f.ctx, user, forum, false); err != nil {
		t.Fatalf("SubscribeUser failed: %v", err)
	}
	if err := f.subs.UnsubscribeUserFromDiscussion(f.ctx, user, d1); err != nil {
		t.Fatalf("UnsubscribeUserFromDiscussion failed: %v", err)
	}

	check := func(discussionID int64, want bool) {
		t.Helper()
		got, err := f.subs.IsSubscribed(f.ctx, user, forum, discussionID, nil)
		if err != nil {
			t.Fatalf("IsSubscribed failed: %v", err)
		}
		if got != want {
			t.Fatalf("IsSubscribed(discussion=%d) = %v, want %v", discussionID, got, want)
		}
	}
	check(0, true)
	check(d1.ID, false)
	check(d2.ID, true)

	// 新的作用域重新从存储读取
	scoped := f.subs.Scope()
	got, err := scoped.IsSubscribed(f.ctx, user, forum, d1.ID, nil)
	if err != nil || got {
		t.Fatalf("scoped IsSubscribed = %v err=%v, want false", got, err)
	}
}

func TestDiscussionSubscribeWritesNoRedundantRows(t *testing.T) {
	f := newFixture(t, nil)
	user := f.user(1, models.RoleStudent)
	forum := f.forum(1, models.TrackingOptional, models.SubscriptionChoose)
	d := f.discussion(1, 1, models.AllGroups, 2)

	// 未订阅论坛：订阅话题写入时间戳
	if err := f.subs.SubscribeUserToDiscussion(f.ctx, user, d); err != nil {
		t.Fatalf("SubscribeUserToDiscussion failed: %v", err)
	}
	sub, err := f.store.DiscussionSub.Get(f.ctx, user.ID, d.ID)
	if err != nil {
		t.Fatalf("expected opt-in row: %v", err)
	}
	if sub.Preference != f.now.Unix() {
		t.Fatalf("preference = %d, want %d", sub.Preference, f.now.Unix())
	}

	// 再退订：只删除订阅记录，不写退订标记
	if err := f.subs.UnsubscribeUserFromDiscussion(f.ctx, user, d); err != nil {
		t.Fatalf("UnsubscribeUserFromDiscussion failed: %v", err)
	}
	if _, err := f.store.DiscussionSub.Get(f.ctx, user.ID, d.ID); err == nil {
		t.Fatalf("expected row removed for non-subscriber")
	}

	// 订阅论坛后退订话题写入 -1，再订阅话题删除该记录
	if _, err := f.subs.SubscribeUser(f.ctx, user, forum, false); err != nil {
		t.Fatalf("SubscribeUser failed: %v", err)
	}
	if err := f.subs.UnsubscribeUserFromDiscussion(f.ctx, user, d); err != nil {
		t.Fatalf("UnsubscribeUserFromDiscussion failed: %v", err)
	}
	sub, err = f.store.DiscussionSub.Get(f.ctx, user.ID, d.ID)
	if err != nil || !sub.Unsubscribed() {
		t.Fatalf("expected opt-out row, got %+v err=%v", sub, err)
	}
	if err := f.subs.SubscribeUserToDiscussion(f.ctx, user, d); err != nil {
		t.Fatalf("SubscribeUserToDiscussion failed: %v", err)
	}
	if _, err := f.store.DiscussionSub.Get(f.ctx, user.ID, d.ID); err == nil {
		t.Fatalf("expected opt-out row removed")
	}
}

func TestSubscribeUserRequestClearsOptOuts(t *testing.T) {
	f := newFixture(t, nil)
	user := f.user(1, models.RoleStudent)
	forum := f.forum(1, models.TrackingOptional, models.SubscriptionChoose)
	d1 := f.discussion(1, 1, models.AllGroups, 2)
	d2 := f.discussion(2, 1, models.AllGroups, 2)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	must(f.store.DiscussionSub.Upsert(f.ctx, &models.DiscussionSubscription{UserID: 1, ForumID: 1, DiscussionID: d1.ID, Preference: models.DiscussionUnsubscribed}))
	must(f.store.DiscussionSub.Upsert(f.ctx, &models.DiscussionSubscription{UserID: 1, ForumID: 1, DiscussionID: d2.ID, Preference: 1000}))

	created, err := f.subs.SubscribeUser(f.ctx, user, forum, true)
	must(err)
	if !created {
		t.Fatalf("expected new subscription")
	}
	if _, err := f.store.DiscussionSub.Get(f.ctx, 1, d1.ID); err == nil {
		t.Fatalf("opt-out should be cleared")
	}
	if _, err := f.store.DiscussionSub.Get(f.ctx, 1, d2.ID); err != nil {
		t.Fatalf("opt-in should remain: %v", err)
	}

	created, err = f.subs.SubscribeUser(f.ctx, user, forum, true)
	must(err)
	if created {
		t.Fatalf("second subscribe should not create a row")
	}

	deleted, err := f.subs.UnsubscribeUser(f.ctx, user, forum, true)
	must(err)
	if !deleted {
		t.Fatalf("expected subscription removed")
	}
	if _, err := f.store.DiscussionSub.Get(f.ctx, 1, d2.ID); err == nil {
		t.Fatalf("user-requested unsubscribe should clear discussion subscriptions")
	}
}

func TestSubscribeDisallowedForum(t *testing.T) {
	f := newFixture(t, nil)
	student := f.user(1, models.RoleStudent)
	teacher := f.user(2, models.RoleTeacher)
	forum := f.forum(1, models.TrackingOptional, models.SubscriptionDisallow)

	if _, err := f.subs.SubscribeUser(f.ctx, student, forum, true); !errors.Is(err, ErrSubscriptionDisallowed) {
		t.Fatalf("expected ErrSubscriptionDisallowed, got %v", err)
	}
	if _, err := f.subs.SubscribeUser(f.ctx, teacher, forum, true); err != nil {
		t.Fatalf("manager should bypass: %v", err)
	}

	subscribed, err := f.subs.IsSubscribed(f.ctx, teacher, forum, 0, nil)
	if err != nil || subscribed {
		t.Fatalf("disallowed forum reports %v err=%v, want false", subscribed, err)
	}
}

func TestForcedSubscriptionSeparateGroups(t *testing.T) {
	f := newFixture(t, nil)
	member := f.user(1, models.RoleStudent, 5)
	outsider := f.user(2, models.RoleStudent, 6)
	teacher := f.user(3, models.RoleTeacher)
	forum := f.forum(1, models.TrackingOptional, models.SubscriptionForced)
	cm := f.module(1, models.GroupModeSeparate)
	d := f.discussion(1, 1, 5, member.ID)

	// 强制订阅下话题退订无效
	if err := f.subs.UnsubscribeUserFromDiscussion(f.ctx, member, d); err != nil {
		t.Fatalf("UnsubscribeUserFromDiscussion failed: %v", err)
	}

	for _, tt := range []struct {
		user *models.User
		want bool
	}{
		{member, true},
		{outsider, false},
		{teacher, true},
	} {
		got, err := f.subs.IsSubscribed(f.ctx, tt.user, forum, d.ID, cm)
		if err != nil {
			t.Fatalf("IsSubscribed failed: %v", err)
		}
		if got != tt.want {
			t.Fatalf("user %d subscribed = %v, want %v", tt.user.ID, got, tt.want)
		}
	}
}

func TestSetSubscriptionModeInitialSubscribesEveryone(t *testing.T) {
	f := newFixture(t, nil)
	f.user(1, models.RoleStudent)
	f.user(2, models.RoleTeacher)
	f.user(3, models.RoleGuest)
	f.user(4, "")
	forum := f.forum(1, models.TrackingOptional, models.SubscriptionChoose)

	if err := f.subs.SetSubscriptionMode(f.ctx, forum.ID, models.SubscriptionInitial); err != nil {
		t.Fatalf("SetSubscriptionMode failed: %v", err)
	}
	mode, err := f.subs.GetSubscriptionMode(f.ctx, forum.ID)
	if err != nil || mode != models.SubscriptionInitial {
		t.Fatalf("mode = %v err=%v", mode, err)
	}

	ids, err := f.store.Subscriptions.ListUserIDs(f.ctx, forum.ID)
	if err != nil {
		t.Fatalf("ListUserIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected subscribers: %v", ids)
	}

	if err := f.subs.SetSubscriptionMode(f.ctx, forum.ID, models.SubscriptionMode(9)); !errors.Is(err, ErrInvalidSubscriptionMode) {
		t.Fatalf("expected ErrInvalidSubscriptionMode, got %v", err)
	}
}

func TestFetchSubscribedUsers(t *testing.T) {
	f := newFixture(t, nil)
	f.user(1, models.RoleStudent, 5)
	f.user(2, models.RoleStudent, 6)
	f.user(3, models.RoleStudent, 5)
	f.user(4, models.RoleStudent)
	forum := f.forum(1, models.TrackingOptional, models.SubscriptionChoose)
	d := f.discussion(1, 1, models.AllGroups, 1)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	_, err := f.store.Subscriptions.Insert(f.ctx, 1, forum.ID)
	must(err)
	_, err = f.store.Subscriptions.Insert(f.ctx, 2, forum.ID)
	must(err)
	must(f.store.DiscussionSub.Upsert(f.ctx, &models.DiscussionSubscription{UserID: 3, ForumID: 1, DiscussionID: d.ID, Preference: 100}))
	must(f.store.DiscussionSub.Upsert(f.ctx, &models.DiscussionSubscription{UserID: 4, ForumID: 1, DiscussionID: d.ID, Preference: models.DiscussionUnsubscribed}))

	ids := func(users []*models.User) []int64 {
		out := make([]int64, 0, len(users))
		for _, u := range users {
			out = append(out, u.ID)
		}
		return out
	}

	users, err := f.subs.Scope().FetchSubscribedUsers(f.ctx, forum, 0, false)
	must(err)
	if got := ids(users); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("forum subscribers = %v", got)
	}

	users, err = f.subs.Scope().FetchSubscribedUsers(f.ctx, forum, 0, true)
	must(err)
	if got := ids(users); len(got) != 3 || got[2] != 3 {
		t.Fatalf("with discussion subscribers = %v", got)
	}

	users, err = f.subs.Scope().FetchSubscribedUsers(f.ctx, forum, 5, true)
	must(err)
	if got := ids(users); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("group 5 subscribers = %v", got)
	}

	forced := f.forum(2, models.TrackingOptional, models.SubscriptionForced)
	users, err = f.subs.FetchSubscribedUsers(f.ctx, forced, 0, false)
	must(err)
	if len(users) != 4 {
		t.Fatalf("forced forum should include every enrolled user, got %v", ids(users))
	}
}

func TestFillSubscriptionCacheForCourse(t *testing.T) {
	f := newFixture(t, nil)
	user := f.user(1, models.RoleStudent)
	f.forum(1, models.TrackingOptional, models.SubscriptionChoose)
	forum2 := f.forum(2, models.TrackingOptional, models.SubscriptionChoose)
	if _, err := f.store.Subscriptions.Insert(f.ctx, user.ID, 2); err != nil {
		t.Fatalf("insert: %v", err)
	}

	scoped := f.subs.Scope()
	if err := scoped.FillSubscriptionCacheForCourse(f.ctx, testCourseID, user.ID); err != nil {
		t.Fatalf("FillSubscriptionCacheForCourse failed: %v", err)
	}

	// 缓存已填充，直接删除存储记录不影响结果
	if _, err := f.store.Subscriptions.Delete(f.ctx, user.ID, 2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := scoped.IsSubscribed(f.ctx, user, forum2, 0, nil)
	if err != nil || !got {
		t.Fatalf("cached IsSubscribed = %v err=%v, want true", got, err)
	}
}

func TestSubscribedForumIDsAndSubscribable(t *testing.T) {
	f := newFixture(t, nil)
	student := f.user(1, models.RoleStudent)
	teacher := f.user(2, models.RoleTeacher)
	choose := f.forum(1, models.TrackingOptional, models.SubscriptionChoose)
	forced := f.forum(2, models.TrackingOptional, models.SubscriptionForced)
	disallow := f.forum(3, models.TrackingOptional, models.SubscriptionDisallow)
	f.forum(4, models.TrackingOptional, models.SubscriptionChoose)

	if _, err := f.subs.SubscribeUser(f.ctx, student, choose, true); err != nil {
		t.Fatalf("SubscribeUser failed: %v", err)
	}

	ids, err := f.subs.Scope().SubscribedForumIDs(f.ctx, student, testCourseID)
	if err != nil {
		t.Fatalf("SubscribedForumIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != choose.ID || ids[1] != forced.ID {
		t.Fatalf("subscribed forums = %v", ids)
	}

	if !f.subs.IsSubscribable(f.ctx, student, choose) {
		t.Fatalf("choose forum should be subscribable")
	}
	if f.subs.IsSubscribable(f.ctx, student, forced) {
		t.Fatalf("forced forum is not user-subscribable")
	}
	if f.subs.IsSubscribable(f.ctx, student, disallow) {
		t.Fatalf("disallowed forum is not subscribable for students")
	}
	if !f.subs.IsSubscribable(f.ctx, teacher, disallow) {
		t.Fatalf("managers may subscribe to disallowed forums")
	}
}
