package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go_forum/internal/events"
	"go_forum/internal/forum/access"
	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
	"go_forum/internal/logger"
)

// SubscriptionRegistry 订阅登记处
type SubscriptionRegistry struct {
	forums        repository.ForumRepository
	discussions   repository.DiscussionRepository
	subscriptions repository.SubscriptionRepository
	discussionSub repository.DiscussionSubscriptionRepository
	caps          access.Checker
	directory     *access.Directory
	events        events.Publisher
	now           Clock
	cache         *SubscriptionCache
}

// NewSubscriptionRegistry 创建订阅登记处
func NewSubscriptionRegistry(d Deps) *SubscriptionRegistry {
	d = d.withDefaults()
	return &SubscriptionRegistry{
		forums:        d.Store.Forums,
		discussions:   d.Store.Discussions,
		subscriptions: d.Store.Subscriptions,
		discussionSub: d.Store.DiscussionSub,
		caps:          d.Caps,
		directory:     d.Directory,
		events:        d.Events,
		now:           d.Clock,
		cache:         NewSubscriptionCache(),
	}
}

// Scope 返回共享存储但拥有独立缓存的登记处，供单次批处理使用
func (r *SubscriptionRegistry) Scope() *SubscriptionRegistry {
	scoped := *r
	scoped.cache = NewSubscriptionCache()
	return &scoped
}

// ResetCache 清空缓存
func (r *SubscriptionRegistry) ResetCache() {
	r.cache.Reset()
}

// IsSubscribable 用户能否自行订阅论坛
func (r *SubscriptionRegistry) IsSubscribable(ctx context.Context, user *models.User, forum *models.Forum) bool {
	if user.IsGuest() || !user.Active() || forum.IsForceSubscribed() {
		return false
	}
	if !forum.SubscriptionDisabled() {
		return true
	}
	return r.caps.Has(ctx, access.CapManageSubscriptions, forum.CourseID, user)
}

// IsSubscribed 用户是否订阅论坛，discussionID > 0 时考虑话题级覆盖
func (r *SubscriptionRegistry) IsSubscribed(ctx context.Context, user *models.User, forum *models.Forum, discussionID int64, cm *models.CourseModule) (bool, error) {
	if forum.IsForceSubscribed() {
		if discussionID > 0 && cm.SeparateGroups() {
			discussion, err := r.discussions.Get(ctx, discussionID)
			if err != nil {
				return false, err
			}
			if !discussion.ForAllGroups() && !user.InGroup(discussion.GroupID) &&
				!r.caps.Has(ctx, access.CapAccessAllGroups, forum.CourseID, user) {
				return false, nil
			}
		}
		return true, nil
	}
	if forum.SubscriptionDisabled() {
		return false, nil
	}

	subscribed, err := r.isForumSubscribed(ctx, user.ID, forum.ID)
	if err != nil {
		return false, err
	}
	if discussionID <= 0 {
		return subscribed, nil
	}

	preference, found, err := r.DiscussionPreference(ctx, user.ID, forum.ID, discussionID)
	if err != nil {
		return false, err
	}
	if found {
		return preference != models.DiscussionUnsubscribed, nil
	}
	return subscribed, nil
}

func (r *SubscriptionRegistry) isForumSubscribed(ctx context.Context, userID, forumID int64) (bool, error) {
	if subscribed, known := r.cache.forumSubscribed(forumID, userID); known {
		return subscribed, nil
	}
	subscribed, err := r.subscriptions.Exists(ctx, userID, forumID)
	if err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}
	r.cache.setForumSubscribed(forumID, userID, subscribed)
	return subscribed, nil
}

// DiscussionPreference 用户的话题级订阅覆盖，found 为 false 表示无记录
func (r *SubscriptionRegistry) DiscussionPreference(ctx context.Context, userID, forumID, discussionID int64) (int64, bool, error) {
	if preference, found, known := r.cache.discussionPreference(forumID, userID, discussionID); known {
		return preference, found, nil
	}

	sub, err := r.discussionSub.Get(ctx, userID, discussionID)
	if errors.Is(err, repository.ErrNotFound) {
		r.cache.setDiscussionPreference(forumID, userID, discussionID, 0, false)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load discussion subscription: %w", err)
	}
	r.cache.setDiscussionPreference(forumID, userID, discussionID, sub.Preference, true)
	return sub.Preference, true, nil
}

// SubscribeUser 订阅论坛，userRequest 表示用户主动操作，会清除该论坛下的话题退订
func (r *SubscriptionRegistry) SubscribeUser(ctx context.Context, user *models.User, forum *models.Forum, userRequest bool) (bool, error) {
	if userRequest && forum.SubscriptionDisabled() &&
		!r.caps.Has(ctx, access.CapManageSubscriptions, forum.CourseID, user) {
		return false, ErrSubscriptionDisallowed
	}

	created, err := r.subscriptions.Insert(ctx, user.ID, forum.ID)
	if err != nil {
		return false, fmt.Errorf("failed to insert subscription: %w", err)
	}
	r.cache.setForumSubscribed(forum.ID, user.ID, true)

	if userRequest {
		if _, err := r.discussionSub.DeleteByUserForum(ctx, user.ID, forum.ID, true); err != nil {
			return created, fmt.Errorf("failed to delete discussion unsubscriptions: %w", err)
		}
		r.cache.forgetDiscussionPreferences(forum.ID, user.ID, func(p int64) bool {
			return p == models.DiscussionUnsubscribed
		})
	}

	if created {
		r.publish(ctx, events.TopicSubscriptionCreated, events.Event{UserID: user.ID, ForumID: forum.ID})
	}
	return created, nil
}

// UnsubscribeUser 退订论坛，userRequest 时一并删除该论坛下的全部话题订阅
func (r *SubscriptionRegistry) UnsubscribeUser(ctx context.Context, user *models.User, forum *models.Forum, userRequest bool) (bool, error) {
	deleted, err := r.subscriptions.Delete(ctx, user.ID, forum.ID)
	if err != nil {
		return false, fmt.Errorf("failed to delete subscription: %w", err)
	}
	r.cache.setForumSubscribed(forum.ID, user.ID, false)

	if userRequest {
		if _, err := r.discussionSub.DeleteByUserForum(ctx, user.ID, forum.ID, false); err != nil {
			return deleted, fmt.Errorf("failed to delete discussion subscriptions: %w", err)
		}
		r.cache.forgetDiscussionPreferences(forum.ID, user.ID, func(int64) bool { return true })
	}

	if deleted {
		r.publish(ctx, events.TopicSubscriptionDeleted, events.Event{UserID: user.ID, ForumID: forum.ID})
	}
	return deleted, nil
}

// SubscribeUserToDiscussion 订阅单个话题
func (r *SubscriptionRegistry) SubscribeUserToDiscussion(ctx context.Context, user *models.User, discussion *models.Discussion) error {
	forum, err := r.forums.Get(ctx, discussion.ForumID)
	if err != nil {
		return err
	}

	preference, found, err := r.DiscussionPreference(ctx, user.ID, forum.ID, discussion.ID)
	if err != nil {
		return err
	}
	if found && preference != models.DiscussionUnsubscribed {
		return nil
	}

	forumSubscribed, err := r.IsSubscribed(ctx, user, forum, 0, nil)
	if err != nil {
		return err
	}

	if forumSubscribed {
		// 已订阅论坛，删除退订记录即可恢复
		if found {
			if err := r.discussionSub.Delete(ctx, user.ID, discussion.ID); err != nil {
				return fmt.Errorf("failed to delete discussion subscription: %w", err)
			}
		}
		r.cache.setDiscussionPreference(forum.ID, user.ID, discussion.ID, 0, false)
	} else {
		sub := &models.DiscussionSubscription{
			UserID:       user.ID,
			ForumID:      forum.ID,
			DiscussionID: discussion.ID,
			Preference:   r.now().Unix(),
		}
		if err := r.discussionSub.Upsert(ctx, sub); err != nil {
			return fmt.Errorf("failed to upsert discussion subscription: %w", err)
		}
		r.cache.setDiscussionPreference(forum.ID, user.ID, discussion.ID, sub.Preference, true)
	}

	r.publish(ctx, events.TopicDiscussionSubscriptionCreated, events.Event{
		UserID:       user.ID,
		ForumID:      forum.ID,
		DiscussionID: discussion.ID,
	})
	return nil
}

// UnsubscribeUserFromDiscussion 退订单个话题
func (r *SubscriptionRegistry) UnsubscribeUserFromDiscussion(ctx context.Context, user *models.User, discussion *models.Discussion) error {
	forum, err := r.forums.Get(ctx, discussion.ForumID)
	if err != nil {
		return err
	}

	preference, found, err := r.DiscussionPreference(ctx, user.ID, forum.ID, discussion.ID)
	if err != nil {
		return err
	}
	if found && preference == models.DiscussionUnsubscribed {
		return nil
	}

	forumSubscribed, err := r.IsSubscribed(ctx, user, forum, 0, nil)
	if err != nil {
		return err
	}

	if !forumSubscribed {
		// 未订阅论坛，删除话题订阅即可
		if found {
			if err := r.discussionSub.Delete(ctx, user.ID, discussion.ID); err != nil {
				return fmt.Errorf("failed to delete discussion subscription: %w", err)
			}
		}
		r.cache.setDiscussionPreference(forum.ID, user.ID, discussion.ID, 0, false)
	} else {
		sub := &models.DiscussionSubscription{
			UserID:       user.ID,
			ForumID:      forum.ID,
			DiscussionID: discussion.ID,
			Preference:   models.DiscussionUnsubscribed,
		}
		if err := r.discussionSub.Upsert(ctx, sub); err != nil {
			return fmt.Errorf("failed to upsert discussion subscription: %w", err)
		}
		r.cache.setDiscussionPreference(forum.ID, user.ID, discussion.ID, sub.Preference, true)
	}

	r.publish(ctx, events.TopicDiscussionSubscriptionDeleted, events.Event{
		UserID:       user.ID,
		ForumID:      forum.ID,
		DiscussionID: discussion.ID,
	})
	return nil
}

// GetSubscriptionMode 读取论坛订阅模式
func (r *SubscriptionRegistry) GetSubscriptionMode(ctx context.Context, forumID int64) (models.SubscriptionMode, error) {
	forum, err := r.forums.Get(ctx, forumID)
	if err != nil {
		return 0, err
	}
	return forum.ForceSubscribe, nil
}

// SetSubscriptionMode 修改订阅模式，切换为 Initial 时为所有潜在订阅者写入订阅
func (r *SubscriptionRegistry) SetSubscriptionMode(ctx context.Context, forumID int64, mode models.SubscriptionMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSubscriptionMode, mode)
	}
	if err := r.forums.UpdateSubscriptionMode(ctx, forumID, mode); err != nil {
		return fmt.Errorf("failed to update subscription mode: %w", err)
	}
	if mode != models.SubscriptionInitial {
		return nil
	}

	forum, err := r.forums.Get(ctx, forumID)
	if err != nil {
		return err
	}
	users, err := r.PotentialSubscribers(ctx, forum, 0)
	if err != nil {
		return err
	}

	var errs []error
	for _, user := range users {
		if _, err := r.SubscribeUser(ctx, user, forum, false); err != nil {
			errs = append(errs, fmt.Errorf("user %d: %w", user.ID, err))
		}
	}
	return errors.Join(errs...)
}

// PotentialSubscribers 可被强制订阅的选课用户，groupID > 0 时仅限该小组
func (r *SubscriptionRegistry) PotentialSubscribers(ctx context.Context, forum *models.Forum, groupID int64) ([]*models.User, error) {
	enrolled, err := r.directory.EnrolledUsers(ctx, forum.CourseID)
	if err != nil {
		return nil, err
	}

	users := make([]*models.User, 0, len(enrolled))
	for _, user := range enrolled {
		if groupID > 0 && !user.InGroup(groupID) {
			continue
		}
		if !r.caps.Has(ctx, access.CapAllowForceSubscribe, forum.CourseID, user) {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}

// FetchSubscribedUsers 列出会收到论坛通知的用户，按 ID 排序
// includeDiscussionSubs 为 true 时包含仅订阅了某个话题的用户
func (r *SubscriptionRegistry) FetchSubscribedUsers(ctx context.Context, forum *models.Forum, groupID int64, includeDiscussionSubs bool) ([]*models.User, error) {
	var candidates []*models.User

	switch {
	case forum.IsForceSubscribed():
		users, err := r.PotentialSubscribers(ctx, forum, groupID)
		if err != nil {
			return nil, err
		}
		candidates = users

	case forum.SubscriptionDisabled():
		return nil, nil

	default:
		if err := r.FillSubscriptionCache(ctx, forum.ID); err != nil {
			return nil, err
		}
		if includeDiscussionSubs {
			if err := r.FillDiscussionSubscriptionCache(ctx, forum.ID); err != nil {
				return nil, err
			}
		}

		enrolled, err := r.directory.EnrolledUsers(ctx, forum.CourseID)
		if err != nil {
			return nil, err
		}
		for _, user := range enrolled {
			if groupID > 0 && !user.InGroup(groupID) {
				continue
			}
			subscribed, _ := r.cache.forumSubscribed(forum.ID, user.ID)
			if !subscribed && includeDiscussionSubs {
				subscribed = hasOptIn(r.cache.userDiscussionPreferences(forum.ID, user.ID))
			}
			if subscribed {
				candidates = append(candidates, user)
			}
		}
	}

	users := make([]*models.User, 0, len(candidates))
	for _, user := range candidates {
		if !user.Active() || !r.caps.Has(ctx, access.CapViewDiscussion, forum.CourseID, user) {
			continue
		}
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func hasOptIn(prefs map[int64]int64) bool {
	for _, p := range prefs {
		if p != models.DiscussionUnsubscribed {
			return true
		}
	}
	return false
}

// FillSubscriptionCache 预加载论坛的全部订阅
func (r *SubscriptionRegistry) FillSubscriptionCache(ctx context.Context, forumID int64) error {
	if r.cache.forumFilledFor(forumID) {
		return nil
	}
	userIDs, err := r.subscriptions.ListUserIDs(ctx, forumID)
	if err != nil {
		return fmt.Errorf("failed to list subscribers: %w", err)
	}
	r.cache.fillForum(forumID, userIDs)
	return nil
}

// FillDiscussionSubscriptionCache 预加载论坛的全部话题级订阅
func (r *SubscriptionRegistry) FillDiscussionSubscriptionCache(ctx context.Context, forumID int64) error {
	if r.cache.discussionFilledFor(forumID) {
		return nil
	}
	subs, err := r.discussionSub.ListByForum(ctx, forumID)
	if err != nil {
		return fmt.Errorf("failed to list discussion subscriptions: %w", err)
	}

	byUser := make(map[int64]map[int64]int64)
	for _, sub := range subs {
		if byUser[sub.UserID] == nil {
			byUser[sub.UserID] = make(map[int64]int64)
		}
		byUser[sub.UserID][sub.DiscussionID] = sub.Preference
	}
	r.cache.fillDiscussions(forumID, byUser)
	return nil
}

// FillSubscriptionCacheForCourse 预加载用户在课程各论坛的订阅状态
func (r *SubscriptionRegistry) FillSubscriptionCacheForCourse(ctx context.Context, courseID, userID int64) error {
	forums, err := r.forums.ListByCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("failed to list forums: %w", err)
	}
	if len(forums) == 0 {
		return nil
	}

	forumIDs := make([]int64, 0, len(forums))
	for _, forum := range forums {
		forumIDs = append(forumIDs, forum.ID)
	}
	subscribed, err := r.subscriptions.ListForumIDs(ctx, userID, forumIDs)
	if err != nil {
		return fmt.Errorf("failed to list subscribed forums: %w", err)
	}

	set := make(map[int64]bool, len(subscribed))
	for _, id := range subscribed {
		set[id] = true
	}
	for _, id := range forumIDs {
		if !r.cache.forumFilledFor(id) {
			r.cache.setForumSubscribed(id, userID, set[id])
		}
	}
	return nil
}

// SubscribedForumIDs 用户在课程中订阅的论坛，含强制订阅
func (r *SubscriptionRegistry) SubscribedForumIDs(ctx context.Context, user *models.User, courseID int64) ([]int64, error) {
	if err := r.FillSubscriptionCacheForCourse(ctx, courseID, user.ID); err != nil {
		return nil, err
	}
	forums, err := r.forums.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list forums: %w", err)
	}

	var ids []int64
	for _, forum := range forums {
		subscribed, err := r.IsSubscribed(ctx, user, forum, 0, nil)
		if err != nil {
			return nil, err
		}
		if subscribed {
			ids = append(ids, forum.ID)
		}
	}
	return ids, nil
}

func (r *SubscriptionRegistry) publish(ctx context.Context, topic string, event events.Event) {
	event.At = r.now()
	if err := r.events.Publish(ctx, topic, event); err != nil {
		logger.L().Warnf("Failed to publish %s: user=%d forum=%d err=%v", topic, event.UserID, event.ForumID, err)
	}
}
