package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go_forum/internal/config"
	"go_forum/internal/forum/access"
	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
)

type postedKey struct {
	discussionID int64
	userID       int64
}

type postedTime struct {
	at    time.Time
	found bool
}

// Visibility 话题与帖子可见性判定
type Visibility struct {
	cfg   config.ForumConfig
	caps  access.Checker
	posts repository.PostRepository
	now   Clock

	mu     sync.Mutex
	posted map[postedKey]postedTime
}

// NewVisibility 创建可见性判定
func NewVisibility(d Deps) *Visibility {
	d = d.withDefaults()
	return &Visibility{
		cfg:    d.Config,
		caps:   d.Caps,
		posts:  d.Store.Posts,
		now:    d.Clock,
		posted: make(map[postedKey]postedTime),
	}
}

// Scope 返回带独立首帖缓存的副本
func (v *Visibility) Scope() *Visibility {
	return &Visibility{
		cfg:    v.cfg,
		caps:   v.caps,
		posts:  v.posts,
		now:    v.now,
		posted: make(map[postedKey]postedTime),
	}
}

// UserPostedTime 用户在话题中的首次发帖时间
func (v *Visibility) UserPostedTime(ctx context.Context, discussionID, userID int64) (time.Time, bool, error) {
	key := postedKey{discussionID, userID}

	v.mu.Lock()
	cached, ok := v.posted[key]
	v.mu.Unlock()
	if ok {
		return cached.at, cached.found, nil
	}

	at, found, err := v.posts.FirstPostTime(ctx, discussionID, userID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load first post time: %w", err)
	}

	v.mu.Lock()
	v.posted[key] = postedTime{at: at, found: found}
	v.mu.Unlock()
	return at, found, nil
}

// CanAccessGroup 分隔小组模式下用户能否访问该小组的内容
func (v *Visibility) CanAccessGroup(ctx context.Context, user *models.User, cm *models.CourseModule, groupID int64) bool {
	if !cm.SeparateGroups() || groupID <= 0 {
		return true
	}
	if user.InGroup(groupID) {
		return true
	}
	return v.caps.Has(ctx, access.CapAccessAllGroups, cm.CourseID, user)
}

// CanSeeTimedDiscussion 定时话题在时间窗口外仅对作者和有权限者可见
func (v *Visibility) CanSeeTimedDiscussion(ctx context.Context, user *models.User, discussion *models.Discussion, now time.Time) bool {
	if !v.cfg.EnableTimedPosts || discussion.VisibleAt(now) {
		return true
	}
	if user != nil && discussion.UserID == user.ID {
		return true
	}
	return v.caps.Has(ctx, access.CapViewHiddenTimedPosts, discussion.CourseID, user)
}

// CanSeeDiscussion 用户能否查看话题
func (v *Visibility) CanSeeDiscussion(ctx context.Context, user *models.User, forum *models.Forum, cm *models.CourseModule, discussion *models.Discussion) bool {
	if !user.Active() {
		return false
	}
	if cm != nil && !cm.Visible && !v.caps.Has(ctx, access.CapViewHiddenActivities, forum.CourseID, user) {
		return false
	}
	if !v.caps.Has(ctx, access.CapViewDiscussion, forum.CourseID, user) {
		return false
	}
	if !v.CanSeeTimedDiscussion(ctx, user, discussion, v.now()) {
		return false
	}
	return v.CanAccessGroup(ctx, user, cm, discussion.GroupID)
}

// CanSeePost 用户能否查看帖子，问答论坛要求用户先发帖且已过编辑期
func (v *Visibility) CanSeePost(ctx context.Context, user *models.User, forum *models.Forum, cm *models.CourseModule, discussion *models.Discussion, post *models.Post) (bool, error) {
	if !v.CanSeeDiscussion(ctx, user, forum, cm, discussion) {
		return false, nil
	}
	if !forum.Rules().QandAGated || post.UserID == user.ID || post.ID == discussion.FirstPostID {
		return true, nil
	}
	if v.caps.Has(ctx, access.CapViewQandAWithoutPosting, forum.CourseID, user) {
		return true, nil
	}

	first, found, err := v.UserPostedTime(ctx, discussion.ID, user.ID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return !first.After(v.now().Add(-v.cfg.MaxEditingTime)), nil
}
