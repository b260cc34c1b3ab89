package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go_forum/internal/config"
	"go_forum/internal/forum/access"
	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
	"go_forum/internal/logger"
)

const (
	markReadChunkSize = 200
	compactChunkSize  = 1000
)

// ReadLedger 阅读记录账本
type ReadLedger struct {
	cfg         config.ForumConfig
	forums      repository.ForumRepository
	discussions repository.DiscussionRepository
	posts       repository.PostRepository
	reads       repository.ReadRepository
	tracking    *TrackingPolicy
	caps        access.Checker
	now         Clock
}

// NewReadLedger 创建阅读记录账本
func NewReadLedger(d Deps, tracking *TrackingPolicy) *ReadLedger {
	d = d.withDefaults()
	return &ReadLedger{
		cfg:         d.Config,
		forums:      d.Store.Forums,
		discussions: d.Store.Discussions,
		posts:       d.Store.Posts,
		reads:       d.Store.Reads,
		tracking:    tracking,
		caps:        d.Caps,
		now:         d.Clock,
	}
}

// IsPostOld 帖子是否超过跟踪期限，过期帖子视为已读
func (l *ReadLedger) IsPostOld(post *models.Post, now time.Time) bool {
	return post.Modified.Before(l.cfg.OldPostCutoff(now))
}

// IsRead 用户是否已读该帖子
func (l *ReadLedger) IsRead(ctx context.Context, user *models.User, post *models.Post) (bool, error) {
	if l.IsPostOld(post, l.now()) {
		return true, nil
	}
	ok, err := l.reads.Exists(ctx, user.ID, post.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check read record: %w", err)
	}
	return ok, nil
}

// MarkPostRead 标记单个帖子已读
func (l *ReadLedger) MarkPostRead(ctx context.Context, user *models.User, post *models.Post) error {
	if l.IsPostOld(post, l.now()) {
		return nil
	}
	return l.MarkPostsRead(ctx, user, []int64{post.ID})
}

// MarkPostsRead 批量标记已读
// 新记录只为跟踪中的论坛内未过期的帖子创建，已有记录仅刷新 last_read
func (l *ReadLedger) MarkPostsRead(ctx context.Context, user *models.User, postIDs []int64) error {
	if len(postIDs) == 0 || !l.tracking.CanTrack(nil, user) {
		return nil
	}

	now := l.now()
	cutoff := l.cfg.OldPostCutoff(now)
	ids := uniqueIDs(postIDs)

	var errs []error
	for start := 0; start < len(ids); start += markReadChunkSize {
		end := start + markReadChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := l.markChunk(ctx, user, ids[start:end], now, cutoff); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *ReadLedger) markChunk(ctx context.Context, user *models.User, ids []int64, now, cutoff time.Time) error {
	existing, err := l.reads.ExistingPostIDs(ctx, user.ID, ids)
	if err != nil {
		return fmt.Errorf("failed to load read records: %w", err)
	}

	seen := make(map[int64]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	var missing []int64
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}

	var errs []error
	if len(missing) > 0 {
		records, err := l.newRecords(ctx, user, missing, now, cutoff)
		if err != nil {
			errs = append(errs, err)
		} else if len(records) > 0 {
			if err := l.reads.InsertIfAbsent(ctx, records); err != nil {
				errs = append(errs, fmt.Errorf("failed to insert read records: %w", err))
			}
		}
	}
	if len(existing) > 0 {
		if err := l.reads.TouchLastRead(ctx, user.ID, existing, now); err != nil {
			errs = append(errs, fmt.Errorf("failed to update read records: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (l *ReadLedger) newRecords(ctx context.Context, user *models.User, postIDs []int64, now, cutoff time.Time) ([]*models.ReadRecord, error) {
	posts, err := l.posts.ListByIDs(ctx, postIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}

	fresh := make([]*models.Post, 0, len(posts))
	discussionIDs := make([]int64, 0, len(posts))
	for _, post := range posts {
		if post.Modified.Before(cutoff) {
			continue
		}
		fresh = append(fresh, post)
		discussionIDs = append(discussionIDs, post.DiscussionID)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	discussions, err := l.discussions.ListByIDs(ctx, uniqueIDs(discussionIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list discussions: %w", err)
	}
	forumOf := make(map[int64]int64, len(discussions))
	forumIDs := make([]int64, 0, len(discussions))
	for _, d := range discussions {
		forumOf[d.ID] = d.ForumID
		forumIDs = append(forumIDs, d.ForumID)
	}

	recordable, err := l.tracking.RecordableForumIDs(ctx, user, uniqueIDs(forumIDs))
	if err != nil {
		return nil, err
	}
	trackedSet := make(map[int64]bool, len(recordable))
	for _, id := range recordable {
		trackedSet[id] = true
	}

	records := make([]*models.ReadRecord, 0, len(fresh))
	for _, post := range fresh {
		forumID, ok := forumOf[post.DiscussionID]
		if !ok || !trackedSet[forumID] {
			continue
		}
		records = append(records, &models.ReadRecord{
			UserID:       user.ID,
			PostID:       post.ID,
			DiscussionID: post.DiscussionID,
			ForumID:      forumID,
			FirstRead:    now,
			LastRead:     now,
		})
	}
	return records, nil
}

// MarkDiscussionRead 标记话题内全部未过期帖子已读
func (l *ReadLedger) MarkDiscussionRead(ctx context.Context, user *models.User, discussionID int64) error {
	return l.markDiscussionsRead(ctx, user, []int64{discussionID})
}

// MarkForumRead 标记论坛已读，groupID 为 models.AllGroups 时不按小组过滤
func (l *ReadLedger) MarkForumRead(ctx context.Context, user *models.User, forumID, groupID int64) error {
	discussions, err := l.discussions.ListByForum(ctx, forumID)
	if err != nil {
		return fmt.Errorf("failed to list discussions: %w", err)
	}

	ids := make([]int64, 0, len(discussions))
	for _, d := range discussions {
		if groupID != models.AllGroups && d.GroupID != groupID && !d.ForAllGroups() {
			continue
		}
		ids = append(ids, d.ID)
	}
	return l.markDiscussionsRead(ctx, user, ids)
}

func (l *ReadLedger) markDiscussionsRead(ctx context.Context, user *models.User, discussionIDs []int64) error {
	if len(discussionIDs) == 0 || !l.tracking.CanTrack(nil, user) {
		return nil
	}

	unread, err := l.unreadPostIDs(ctx, user, discussionIDs)
	if err != nil {
		return err
	}
	return l.MarkPostsRead(ctx, user, unread)
}

func (l *ReadLedger) unreadPostIDs(ctx context.Context, user *models.User, discussionIDs []int64) ([]int64, error) {
	posts, err := l.posts.ListModifiedSince(ctx, discussionIDs, l.cfg.OldPostCutoff(l.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	if len(posts) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}
	existing, err := l.reads.ExistingPostIDs(ctx, user.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load read records: %w", err)
	}
	read := make(map[int64]bool, len(existing))
	for _, id := range existing {
		read[id] = true
	}

	unread := ids[:0]
	for _, id := range ids {
		if !read[id] {
			unread = append(unread, id)
		}
	}
	return unread, nil
}

// DeleteReadRecords 按条件删除阅读记录，参数为 repository.Any 表示不限
func (l *ReadLedger) DeleteReadRecords(ctx context.Context, userID, postID, discussionID, forumID int64) (int64, error) {
	filter := repository.ReadFilter{
		UserID:       userID,
		PostID:       postID,
		DiscussionID: discussionID,
		ForumID:      forumID,
	}
	if filter.Empty() {
		return 0, ErrNoReadFilter
	}

	n, err := l.reads.Delete(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete read records: %w", err)
	}
	return n, nil
}

// CompactOldRecords 删除过期帖子的阅读记录
func (l *ReadLedger) CompactOldRecords(ctx context.Context) (int64, error) {
	cutoff := l.cfg.OldPostCutoff(l.now())

	earliest, ok, err := l.reads.OldestTrackedModified(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to find oldest tracked post: %w", err)
	}
	if !ok || !earliest.Before(cutoff) {
		return 0, nil
	}

	var (
		total   int64
		afterID int64
	)
	for {
		ids, err := l.posts.ListIDsModifiedBetween(ctx, earliest, cutoff, afterID, compactChunkSize)
		if err != nil {
			return total, fmt.Errorf("failed to list old posts: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		n, err := l.reads.DeleteByPostIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("failed to delete old read records: %w", err)
		}
		total += n
		if len(ids) < compactChunkSize {
			break
		}
		afterID = ids[len(ids)-1]
	}

	logger.L().Infof("Compacted read records: deleted=%d cutoff=%s", total, cutoff.Format(time.RFC3339))
	return total, nil
}

// GetCourseUnreadCounts 统计课程中各跟踪论坛的未读帖子数
func (l *ReadLedger) GetCourseUnreadCounts(ctx context.Context, user *models.User, courseID int64) (map[int64]int64, error) {
	counts := make(map[int64]int64)
	if !l.tracking.CanTrack(nil, user) {
		return counts, nil
	}

	forums, err := l.forums.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list forums: %w", err)
	}
	forumIDs := make([]int64, 0, len(forums))
	for _, forum := range forums {
		forumIDs = append(forumIDs, forum.ID)
	}
	tracked, err := l.tracking.TrackedForumIDs(ctx, user, forumIDs)
	if err != nil {
		return nil, err
	}

	now := l.now()
	showHidden := l.caps.Has(ctx, access.CapViewHiddenTimedPosts, courseID, user)
	for _, forumID := range tracked {
		discussions, err := l.discussions.ListByForum(ctx, forumID)
		if err != nil {
			return nil, fmt.Errorf("failed to list discussions: %w", err)
		}
		n, err := l.countUnread(ctx, user, l.visibleDiscussions(discussions, user, now, showHidden, false))
		if err != nil {
			return nil, err
		}
		if n > 0 {
			counts[forumID] = n
		}
	}
	return counts, nil
}

// GetForumUnreadCount 统计用户在论坛中可见话题的未读帖子数
func (l *ReadLedger) GetForumUnreadCount(ctx context.Context, user *models.User, cm *models.CourseModule) (int64, error) {
	forum, err := l.forums.Get(ctx, cm.ForumID)
	if err != nil {
		return 0, err
	}
	tracked, err := l.tracking.IsTracked(ctx, forum, user)
	if err != nil || !tracked {
		return 0, err
	}

	discussions, err := l.discussions.ListByForum(ctx, forum.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list discussions: %w", err)
	}

	showHidden := l.caps.Has(ctx, access.CapViewHiddenTimedPosts, cm.CourseID, user)
	groupLimited := cm.SeparateGroups() && !l.caps.Has(ctx, access.CapAccessAllGroups, cm.CourseID, user)
	return l.countUnread(ctx, user, l.visibleDiscussions(discussions, user, l.now(), showHidden, groupLimited))
}

func (l *ReadLedger) visibleDiscussions(discussions []*models.Discussion, user *models.User, now time.Time, showHidden, groupLimited bool) []int64 {
	ids := make([]int64, 0, len(discussions))
	for _, d := range discussions {
		if l.cfg.EnableTimedPosts && !showHidden && d.UserID != user.ID && !d.VisibleAt(now) {
			continue
		}
		if groupLimited && !d.ForAllGroups() && !user.InGroup(d.GroupID) {
			continue
		}
		ids = append(ids, d.ID)
	}
	return ids
}

func (l *ReadLedger) countUnread(ctx context.Context, user *models.User, discussionIDs []int64) (int64, error) {
	if len(discussionIDs) == 0 {
		return 0, nil
	}
	unread, err := l.unreadPostIDs(ctx, user, discussionIDs)
	if err != nil {
		return 0, err
	}
	return int64(len(unread)), nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
