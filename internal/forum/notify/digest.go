package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
	"go_forum/internal/forum/service"
	"go_forum/internal/logger"
	"go_forum/internal/mailer"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DigestTime 返回 now 所在日期的摘要发送时刻
func DigestTime(now time.Time, loc *time.Location, hour int) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
}

// RunDigest 发送每日摘要，同一时段只运行一次
func (c *Cron) RunDigest(ctx context.Context) (DigestReport, error) {
	report := DigestReport{RunID: uuid.NewString()}
	entry := logger.With(log.Fields{"job": JobDigest, "run_id": report.RunID})

	release, err := c.acquire(ctx, JobDigest)
	if err != nil {
		return report, err
	}
	defer release()

	now := c.now()
	digestTime := DigestTime(now, c.cfg.Location, c.cfg.DigestHourOffset)
	if now.Before(digestTime) {
		return report, nil
	}
	last, err := c.store.State.GetTime(ctx, repository.StateLastDigestTime)
	if err != nil {
		return report, fmt.Errorf("failed to read last digest time: %w", err)
	}
	if !last.Before(digestTime) {
		entry.Debugf("Digest already sent at %s", last.Format(time.RFC3339))
		return report, nil
	}

	started := time.Now()
	defer func() { c.metrics.observeRun(JobDigest, time.Since(started).Seconds()) }()
	report.Ran = true

	purged, err := c.store.Queue.DeleteOlderThan(ctx, now.Add(-queueMaxAge))
	if err != nil {
		return report, fmt.Errorf("failed to purge digest queue: %w", err)
	}
	report.Purged = purged
	if purged > 0 {
		entry.Warnf("Dropped %d digest entries older than %s", purged, queueMaxAge)
	}

	queued, err := c.store.Queue.ListBefore(ctx, digestTime)
	if err != nil {
		return report, fmt.Errorf("failed to list digest queue: %w", err)
	}

	if len(queued) > 0 {
		if err := c.sendDigests(ctx, entry, queued, digestTime, &report); err != nil {
			return report, err
		}
	}

	if err := c.store.State.SetTime(ctx, repository.StateLastDigestTime, now); err != nil {
		return report, fmt.Errorf("failed to save last digest time: %w", err)
	}
	entry.WithFields(log.Fields{
		"users":  report.UsersMailed,
		"errors": report.Errors,
		"purged": report.Purged,
	}).Info("Digest run finished")
	return report, nil
}

// userDigest 单个用户的摘要内容，话题按 ID 排序
type userDigest struct {
	userID      int64
	discussions []int64
	posts       map[int64][]int64 // 话题 ID -> 帖子 ID
}

// groupDigest 按用户再按话题分组
func groupDigest(entries []*models.DigestQueueEntry) []*userDigest {
	byUser := make(map[int64]*userDigest)
	for _, e := range entries {
		ud, ok := byUser[e.UserID]
		if !ok {
			ud = &userDigest{userID: e.UserID, posts: make(map[int64][]int64)}
			byUser[e.UserID] = ud
		}
		if _, ok := ud.posts[e.DiscussionID]; !ok {
			ud.discussions = append(ud.discussions, e.DiscussionID)
		}
		ud.posts[e.DiscussionID] = append(ud.posts[e.DiscussionID], e.PostID)
	}

	out := make([]*userDigest, 0, len(byUser))
	for _, ud := range byUser {
		sort.Slice(ud.discussions, func(i, j int) bool { return ud.discussions[i] < ud.discussions[j] })
		for id, posts := range ud.posts {
			ud.posts[id] = distinct(posts)
		}
		out = append(out, ud)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].userID < out[j].userID })
	return out
}

func (c *Cron) sendDigests(ctx context.Context, entry *log.Entry, queued []*models.DigestQueueEntry, digestTime time.Time, report *DigestReport) error {
	postIDs := make([]int64, 0, len(queued))
	userIDs := make([]int64, 0, len(queued))
	for _, q := range queued {
		postIDs = append(postIDs, q.PostID)
		userIDs = append(userIDs, q.UserID)
	}

	posts, err := c.store.Posts.ListByIDs(ctx, distinct(postIDs))
	if err != nil {
		return fmt.Errorf("failed to load digest posts: %w", err)
	}
	idx, err := buildIndex(ctx, c.store, posts, userIDs)
	if err != nil {
		return err
	}
	postByID := make(map[int64]*models.Post, len(posts))
	for _, post := range posts {
		postByID[post.ID] = post
	}

	vis := c.vis.Scope()
	for _, ud := range groupDigest(queued) {
		if err := ctx.Err(); err != nil {
			return err
		}

		// 先删除队列项再发送，崩溃时宁可少发
		removed, err := c.store.Queue.DeleteForUser(ctx, ud.userID, digestTime)
		if err != nil {
			entry.Errorf("Failed to claim digest entries for user %d: %v", ud.userID, err)
			report.Errors++
			continue
		}

		user, ok := idx.users[ud.userID]
		if !ok || !user.Active() {
			entry.Warnf("Dropped %d digest entries for missing or inactive user %d", removed, ud.userID)
			continue
		}

		sections, fullPosts := c.digestSections(ctx, vis, idx, user, ud, postByID)
		if len(sections) == 0 {
			continue
		}

		msg, err := c.renderer.Digest(user, sections)
		if err != nil {
			entry.Errorf("Failed to render digest for user %d: %v", user.ID, err)
			report.Errors++
			continue
		}

		err = c.send(ctx, msg)
		switch {
		case errors.Is(err, mailer.ErrNoChannel):
			entry.Debugf("User %d has no delivery channel, digest dropped", user.ID)
			continue
		case err != nil:
			entry.Errorf("Failed to send digest to user %d (%d entries claimed): %v", user.ID, removed, err)
			report.Errors++
			continue
		}

		report.UsersMailed++
		c.metrics.digestUsers.Inc()

		if c.cfg.MarkReadOnSend && user.MarkReadOnNotification && len(fullPosts) > 0 {
			if err := c.ledger.MarkPostsRead(ctx, user, fullPosts); err != nil {
				entry.Warnf("Failed to mark digest posts read for user %d: %v", user.ID, err)
			}
		}
	}
	return nil
}

// digestSections 组装摘要段落，返回以完整内容展示的帖子 ID
func (c *Cron) digestSections(ctx context.Context, vis *service.Visibility, idx *runIndex, user *models.User, ud *userDigest, postByID map[int64]*models.Post) ([]*DigestSection, []int64) {
	var (
		sections  []*DigestSection
		fullPosts []int64
	)
	for _, discussionID := range ud.discussions {
		var section *DigestSection
		for _, postID := range ud.posts[discussionID] {
			post, ok := postByID[postID]
			if !ok {
				continue
			}
			ref, ok := idx.resolve(post)
			if !ok {
				continue
			}
			canSee, err := vis.CanSeePost(ctx, user, ref.forum, ref.module, ref.discussion, post)
			if err != nil || !canSee {
				continue
			}
			if section == nil {
				section = &DigestSection{
					Course:     ref.course,
					Forum:      ref.forum,
					Discussion: ref.discussion,
					Full:       idx.digestLevel(user, ref.forum.ID) != models.DigestSubjects,
				}
			}
			section.Posts = append(section.Posts, DigestPost{Post: post, Author: ref.author})
			if section.Full {
				fullPosts = append(fullPosts, post.ID)
			}
		}
		if section == nil {
			continue
		}
		sort.SliceStable(section.Posts, func(i, j int) bool {
			return section.Posts[i].Post.Created.Before(section.Posts[j].Post.Created)
		})
		sections = append(sections, section)
	}
	return sections, fullPosts
}
