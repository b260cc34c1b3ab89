// Package notify 定时把新帖通知推送给订阅者，并发送每日摘要
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go_forum/internal/config"
	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
	"go_forum/internal/forum/service"
	"go_forum/internal/lock"
	"go_forum/internal/logger"
	"go_forum/internal/mailer"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// 任务名，同时作为锁名
const (
	JobImmediate   = "forum_immediate"
	JobDigest      = "forum_digest"
	JobReadCleanup = "forum_read_cleanup"
)

const (
	scanWindow       = 48 * time.Hour
	queueMaxAge      = 7 * 24 * time.Hour
	readCleanupEvery = 24 * time.Hour
	lockTTL          = time.Hour
)

// Deps 通知任务依赖
type Deps struct {
	Config        config.ForumConfig
	Store         *repository.Store
	Ledger        *service.ReadLedger
	Subscriptions *service.SubscriptionRegistry
	Visibility    *service.Visibility
	Sender        mailer.Sender
	Locker        lock.Locker
	Metrics       *Metrics
	Renderer      *Renderer
	Clock         service.Clock
}

// Cron 通知任务
type Cron struct {
	cfg      config.ForumConfig
	store    *repository.Store
	ledger   *service.ReadLedger
	subs     *service.SubscriptionRegistry
	vis      *service.Visibility
	sender   mailer.Sender
	locker   lock.Locker
	metrics  *Metrics
	renderer *Renderer
	now      service.Clock
}

// NewCron 创建通知任务
func NewCron(d Deps) *Cron {
	if d.Sender == nil {
		d.Sender = mailer.LogSender{}
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Renderer == nil {
		d.Renderer = NewRenderer(d.Config)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Cron{
		cfg:      d.Config,
		store:    d.Store,
		ledger:   d.Ledger,
		subs:     d.Subscriptions,
		vis:      d.Visibility,
		sender:   d.Sender,
		locker:   d.Locker,
		metrics:  d.Metrics,
		renderer: d.Renderer,
		now:      d.Clock,
	}
}

// acquire 校验配置并加锁，配置不合法时不做任何修改
func (c *Cron) acquire(ctx context.Context, job string) (func(), error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}
	release, err := c.locker.TryLock(ctx, job, lockTTL)
	if errors.Is(err, lock.ErrLocked) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s lock: %w", job, err)
	}
	return release, nil
}

// immediateRun 单次即时通知运行的状态
type immediateRun struct {
	idx  *runIndex
	subs *service.SubscriptionRegistry
	vis  *service.Visibility
	log  *log.Entry

	recipients map[int64]*models.User

	mu        sync.Mutex
	failed    map[int64]int     // 帖子 ID -> 失败次数
	delivered map[int64][]int64 // 用户 ID -> 已送达帖子
	mailed    int
	queued    int
	errors    int
	skipped   int
}

func (r *immediateRun) skip() {
	r.mu.Lock()
	r.skipped++
	r.mu.Unlock()
}

func (r *immediateRun) record(userID, postID int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case errors.Is(err, mailer.ErrNoChannel):
		r.skipped++
	case err != nil:
		r.errors++
		r.failed[postID]++
	default:
		r.mailed++
		r.delivered[userID] = append(r.delivered[userID], postID)
	}
}

// RunImmediate 发送编辑期已过的新帖通知
func (c *Cron) RunImmediate(ctx context.Context) (ImmediateReport, error) {
	report := ImmediateReport{RunID: uuid.NewString()}
	entry := logger.With(log.Fields{"job": JobImmediate, "run_id": report.RunID})

	release, err := c.acquire(ctx, JobImmediate)
	if err != nil {
		return report, err
	}
	defer release()

	started := time.Now()
	defer func() { c.metrics.observeRun(JobImmediate, time.Since(started).Seconds()) }()

	now := c.now()
	end := now.Add(-c.cfg.MaxEditingTime)
	start := end.Add(-scanWindow)

	posts, err := c.selectPosts(ctx, start, end)
	if err != nil {
		return report, err
	}
	report.Selected = len(posts)
	if len(posts) == 0 {
		entry.Debug("No posts to mail")
		return report, nil
	}

	idx, err := buildIndex(ctx, c.store, posts, nil)
	if err != nil {
		return report, err
	}

	// 定时话题尚未开始展示的帖子保持待发送，开始展示后再选中
	if c.cfg.EnableTimedPosts {
		ready := posts[:0]
		for _, post := range posts {
			if d, ok := idx.discussions[post.DiscussionID]; ok && !d.VisibleAt(now) {
				continue
			}
			ready = append(ready, post)
		}
		posts = ready
	}
	if len(posts) == 0 {
		return report, nil
	}

	ids := make([]int64, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}
	claimedIDs, err := c.store.Posts.Claim(ctx, ids, models.MailPending, models.MailSuccess)
	report.Claimed = int64(len(claimedIDs))
	c.metrics.claimed.Add(float64(len(claimedIDs)))
	switch {
	case err != nil && len(claimedIDs) == 0:
		return report, fmt.Errorf("failed to claim posts: %w", err)
	case err != nil:
		// 已认领的帖子不会再被选中，先完成这部分投递
		entry.Errorf("Failed to claim posts: claimed=%d of %d err=%v", len(claimedIDs), len(ids), err)
	case len(claimedIDs) < len(ids):
		entry.Warnf("Claimed %d of %d selected posts, the rest were taken by another run", len(claimedIDs), len(ids))
	default:
		entry.Infof("Claimed %d of %d selected posts", len(claimedIDs), len(ids))
	}

	mine := make(map[int64]bool, len(claimedIDs))
	for _, id := range claimedIDs {
		mine[id] = true
	}
	owned := posts[:0]
	for _, post := range posts {
		if mine[post.ID] {
			owned = append(owned, post)
		}
	}
	posts = owned

	run := &immediateRun{
		idx:       idx,
		subs:      c.subs.Scope(),
		vis:       c.vis.Scope(),
		log:       entry,
		failed:    make(map[int64]int),
		delivered: make(map[int64][]int64),
	}

	byForum := make(map[int64][]*postRef)
	for _, post := range posts {
		ref, ok := idx.resolve(post)
		if !ok {
			entry.Warnf("Skipping post %d: discussion, forum, course or module not found", post.ID)
			run.skipped++
			continue
		}
		byForum[ref.forum.ID] = append(byForum[ref.forum.ID], ref)
	}

	userIDs, work, err := c.collectRecipients(ctx, run, byForum)
	if err != nil {
		return report, err
	}

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for _, userID := range userIDs {
		user, refs := run.recipients[userID], work[userID]
		g.Go(func() error {
			c.processUser(ctx, run, user, refs)
			return nil
		})
	}
	_ = g.Wait()

	c.finishImmediate(ctx, run)

	report.Mailed = run.mailed
	report.Queued = run.queued
	report.Errors = run.errors
	report.Skipped = run.skipped
	entry.WithFields(log.Fields{
		"mailed":  report.Mailed,
		"queued":  report.Queued,
		"errors":  report.Errors,
		"skipped": report.Skipped,
	}).Info("Immediate notification run finished")
	return report, nil
}

// selectPosts 选出待发送帖子，按创建时间排序
func (c *Cron) selectPosts(ctx context.Context, start, end time.Time) ([]*models.Post, error) {
	posts, err := c.store.Posts.FindPending(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending posts: %w", err)
	}

	if c.cfg.EnableTimedPosts {
		// 窗口内刚开始展示的定时话题，其帖子可能早于扫描窗口
		timed, err := c.store.Discussions.ListStartingBetween(ctx, start, c.now())
		if err != nil {
			return nil, fmt.Errorf("failed to list timed discussions: %w", err)
		}
		if len(timed) > 0 {
			ids := make([]int64, 0, len(timed))
			for _, d := range timed {
				ids = append(ids, d.ID)
			}
			more, err := c.store.Posts.FindPendingInDiscussions(ctx, ids, end)
			if err != nil {
				return nil, fmt.Errorf("failed to find pending timed posts: %w", err)
			}
			posts = mergePosts(posts, more)
		}
	}

	sort.Slice(posts, func(i, j int) bool {
		if posts[i].Created.Equal(posts[j].Created) {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].Created.Before(posts[j].Created)
	})
	return posts, nil
}

func mergePosts(a, b []*models.Post) []*models.Post {
	seen := make(map[int64]struct{}, len(a))
	for _, p := range a {
		seen[p.ID] = struct{}{}
	}
	for _, p := range b {
		if _, ok := seen[p.ID]; !ok {
			seen[p.ID] = struct{}{}
			a = append(a, p)
		}
	}
	return a
}

// collectRecipients 按论坛取订阅者，返回排序后的用户 ID 及每个用户待评估的帖子
func (c *Cron) collectRecipients(ctx context.Context, run *immediateRun, byForum map[int64][]*postRef) ([]int64, map[int64][]*postRef, error) {
	forumIDs := make([]int64, 0, len(byForum))
	for forumID := range byForum {
		forumIDs = append(forumIDs, forumID)
	}
	sort.Slice(forumIDs, func(i, j int) bool { return forumIDs[i] < forumIDs[j] })

	run.recipients = make(map[int64]*models.User)
	work := make(map[int64][]*postRef)
	for _, forumID := range forumIDs {
		refs := byForum[forumID]
		subscribers, err := run.subs.FetchSubscribedUsers(ctx, refs[0].forum, 0, true)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch subscribers of forum %d: %w", forumID, err)
		}
		for _, user := range subscribers {
			run.recipients[user.ID] = user
			work[user.ID] = append(work[user.ID], refs...)
		}
	}

	ids := make([]int64, 0, len(run.recipients))
	for id := range run.recipients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, work, nil
}

// processUser 评估并投递单个用户的全部候选帖子
func (c *Cron) processUser(ctx context.Context, run *immediateRun, user *models.User, refs []*postRef) {
	var queue []*models.DigestQueueEntry

	for _, ref := range refs {
		ok, err := c.shouldNotify(ctx, run, user, ref)
		if err != nil {
			run.log.Warnf("Failed to evaluate post %d for user %d: %v", ref.post.ID, user.ID, err)
			run.skip()
			continue
		}
		if !ok {
			continue
		}

		if run.idx.digestLevel(user, ref.forum.ID) > models.DigestNone {
			queue = append(queue, &models.DigestQueueEntry{
				UserID:       user.ID,
				DiscussionID: ref.discussion.ID,
				PostID:       ref.post.ID,
				TimeModified: ref.post.Modified,
			})
			continue
		}

		run.record(user.ID, ref.post.ID, c.sendPost(ctx, user, ref))
	}

	if len(queue) == 0 {
		return
	}
	if err := c.store.Queue.Insert(ctx, queue); err != nil {
		run.log.Errorf("Failed to queue %d digest entries for user %d: %v", len(queue), user.ID, err)
		for _, q := range queue {
			run.record(user.ID, q.PostID, err)
		}
		return
	}
	run.mu.Lock()
	run.queued += len(queue)
	run.mu.Unlock()
}

// shouldNotify 用户是否应收到该帖通知
func (c *Cron) shouldNotify(ctx context.Context, run *immediateRun, user *models.User, ref *postRef) (bool, error) {
	subscribed, err := run.subs.IsSubscribed(ctx, user, ref.forum, ref.discussion.ID, ref.module)
	if err != nil || !subscribed {
		return false, err
	}

	// 话题订阅晚于帖子创建时，只通知订阅之后的帖子
	preference, found, err := run.subs.DiscussionPreference(ctx, user.ID, ref.forum.ID, ref.discussion.ID)
	if err != nil {
		return false, err
	}
	if found && preference != models.DiscussionUnsubscribed && preference > ref.post.Created.Unix() {
		return false, nil
	}

	if ref.forum.Rules().QandAGated && ref.post.ID != ref.discussion.FirstPostID {
		_, posted, err := run.vis.UserPostedTime(ctx, ref.discussion.ID, user.ID)
		if err != nil {
			return false, err
		}
		if !posted {
			return false, nil
		}
	}

	if !run.vis.CanAccessGroup(ctx, user, ref.module, ref.discussion.GroupID) {
		return false, nil
	}

	return run.vis.CanSeePost(ctx, user, ref.forum, ref.module, ref.discussion, ref.post)
}

func (c *Cron) sendPost(ctx context.Context, user *models.User, ref *postRef) error {
	msg, err := c.renderer.Post(&PostContext{
		Recipient:  user,
		Author:     ref.author,
		Course:     ref.course,
		Forum:      ref.forum,
		Discussion: ref.discussion,
		Post:       ref.post,
	})
	if err != nil {
		return err
	}
	return c.send(ctx, msg)
}

// send 单次投递，不重试
func (c *Cron) send(ctx context.Context, msg *mailer.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	err := c.sender.Send(sendCtx, msg)
	switch {
	case errors.Is(err, mailer.ErrNoChannel):
	case err != nil:
		c.metrics.errors.Inc()
	default:
		c.metrics.sent.Inc()
	}
	return err
}

// finishImmediate 标记投递失败的帖子，并按设置把已送达的帖子标为已读
func (c *Cron) finishImmediate(ctx context.Context, run *immediateRun) {
	if len(run.failed) > 0 {
		ids := make([]int64, 0, len(run.failed))
		for id := range run.failed {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if _, err := c.store.Posts.SetMailed(ctx, ids, models.MailSuccess, models.MailError); err != nil {
			run.log.Errorf("Failed to mark %d posts as errored: %v", len(ids), err)
		}
	}

	if !c.cfg.MarkReadOnSend {
		return
	}
	for userID, postIDs := range run.delivered {
		user := run.recipients[userID]
		if user == nil || !user.MarkReadOnNotification {
			continue
		}
		if err := c.ledger.MarkPostsRead(ctx, user, postIDs); err != nil {
			run.log.Warnf("Failed to mark notified posts read for user %d: %v", userID, err)
		}
	}
}
