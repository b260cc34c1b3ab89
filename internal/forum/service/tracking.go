package service

import (
	"context"
	"fmt"

	"go_forum/internal/config"
	"go_forum/internal/events"
	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
	"go_forum/internal/logger"
)

// TrackingPolicy 阅读跟踪策略
type TrackingPolicy struct {
	cfg    config.ForumConfig
	prefs  repository.TrackPreferenceRepository
	reads  repository.ReadRepository
	forums repository.ForumRepository
	events events.Publisher
	now    Clock
}

// NewTrackingPolicy 创建阅读跟踪策略
func NewTrackingPolicy(d Deps) *TrackingPolicy {
	d = d.withDefaults()
	return &TrackingPolicy{
		cfg:    d.Config,
		prefs:  d.Store.TrackPrefs,
		reads:  d.Store.Reads,
		forums: d.Store.Forums,
		events: d.Events,
		now:    d.Clock,
	}
}

// CanTrack 用户是否可以在论坛中跟踪阅读，forum 为 nil 时做站点级判断
func (p *TrackingPolicy) CanTrack(forum *models.Forum, user *models.User) bool {
	if !p.cfg.TrackReadPosts || user.IsGuest() {
		return false
	}

	if forum == nil {
		if p.cfg.AllowForcedReadTracking {
			return true
		}
		return user.TrackForums
	}

	allows := forum.TrackingType == models.TrackingOptional
	forced := forum.TrackingType == models.TrackingForced

	if p.cfg.AllowForcedReadTracking {
		return forced || (allows && user.TrackForums)
	}
	return (allows || forced) && user.TrackForums
}

// IsTracked 用户当前是否在论坛中跟踪阅读
func (p *TrackingPolicy) IsTracked(ctx context.Context, forum *models.Forum, user *models.User) (bool, error) {
	if forum == nil || !p.CanTrack(forum, user) {
		return false, nil
	}

	optedOut, err := p.prefs.Exists(ctx, user.ID, forum.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load tracking preference: %w", err)
	}
	return p.resolve(forum, optedOut), nil
}

func (p *TrackingPolicy) resolve(forum *models.Forum, optedOut bool) bool {
	allows := forum.TrackingType == models.TrackingOptional
	forced := forum.TrackingType == models.TrackingForced

	if p.cfg.AllowForcedReadTracking {
		return forced || (allows && !optedOut)
	}
	return (allows || forced) && !optedOut
}

// StartTracking 删除用户的退出记录
func (p *TrackingPolicy) StartTracking(ctx context.Context, user *models.User, forum *models.Forum) error {
	if !p.CanTrack(forum, user) {
		return ErrTrackingDisabled
	}

	if err := p.prefs.Delete(ctx, user.ID, forum.ID); err != nil {
		return fmt.Errorf("failed to delete tracking preference: %w", err)
	}

	p.publish(ctx, events.TopicReadTrackingEnabled, user.ID, forum.ID)
	return nil
}

// StopTracking 记录退出并清除该论坛下的阅读记录
func (p *TrackingPolicy) StopTracking(ctx context.Context, user *models.User, forum *models.Forum) error {
	if !p.CanTrack(forum, user) {
		return ErrTrackingDisabled
	}
	if forum.TrackingType == models.TrackingForced && p.cfg.AllowForcedReadTracking {
		return ErrTrackingForced
	}

	exists, err := p.prefs.Exists(ctx, user.ID, forum.ID)
	if err != nil {
		return fmt.Errorf("failed to load tracking preference: %w", err)
	}
	if !exists {
		if err := p.prefs.Insert(ctx, user.ID, forum.ID); err != nil {
			return fmt.Errorf("failed to insert tracking preference: %w", err)
		}
	}

	if _, err := p.reads.Delete(ctx, repository.ReadFilter{
		UserID:       user.ID,
		PostID:       repository.Any,
		DiscussionID: repository.Any,
		ForumID:      forum.ID,
	}); err != nil {
		return fmt.Errorf("failed to delete read records: %w", err)
	}

	p.publish(ctx, events.TopicReadTrackingDisabled, user.ID, forum.ID)
	return nil
}

// TrackedForumIDs 返回 forumIDs 中用户跟踪阅读的论坛
func (p *TrackingPolicy) TrackedForumIDs(ctx context.Context, user *models.User, forumIDs []int64) ([]int64, error) {
	if !p.CanTrack(nil, user) || len(forumIDs) == 0 {
		return nil, nil
	}

	forums, err := p.forums.ListByIDs(ctx, forumIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list forums: %w", err)
	}

	skip, err := p.optedOutSet(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	tracked := make([]int64, 0, len(forums))
	for _, forum := range forums {
		if p.CanTrack(forum, user) && p.resolve(forum, skip[forum.ID]) {
			tracked = append(tracked, forum.ID)
		}
	}
	return tracked, nil
}

// RecordableForumIDs 返回 forumIDs 中可为用户新建阅读记录的论坛：
// 强制跟踪，或可选跟踪且用户没有退出记录。调用方负责站点级 CanTrack(nil, user) 判断
func (p *TrackingPolicy) RecordableForumIDs(ctx context.Context, user *models.User, forumIDs []int64) ([]int64, error) {
	if len(forumIDs) == 0 {
		return nil, nil
	}

	forums, err := p.forums.ListByIDs(ctx, forumIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list forums: %w", err)
	}

	optedOut, err := p.optedOutSet(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	recordable := make([]int64, 0, len(forums))
	for _, forum := range forums {
		switch forum.TrackingType {
		case models.TrackingForced:
			recordable = append(recordable, forum.ID)
		case models.TrackingOptional:
			if !optedOut[forum.ID] {
				recordable = append(recordable, forum.ID)
			}
		}
	}
	return recordable, nil
}

func (p *TrackingPolicy) optedOutSet(ctx context.Context, userID int64) (map[int64]bool, error) {
	ids, err := p.prefs.ListForumIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracking preferences: %w", err)
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (p *TrackingPolicy) publish(ctx context.Context, topic string, userID, forumID int64) {
	if err := p.events.Publish(ctx, topic, events.Event{UserID: userID, ForumID: forumID, At: p.now()}); err != nil {
		logger.L().Warnf("Failed to publish %s: user=%d forum=%d err=%v", topic, userID, forumID, err)
	}
}
