package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go_forum/internal/events"
	"go_forum/internal/forum/access"
	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
	"go_forum/internal/logger"
)

// 序列名
const (
	SequenceDiscussions = "forum_discussions"
	SequencePosts       = "forum_posts"
)

// NewDiscussion 发起话题参数
type NewDiscussion struct {
	ForumID   int64
	GroupID   int64 // models.AllGroups 表示全部小组
	Subject   string
	Message   string
	MailNow   bool
	TimeStart time.Time
	TimeEnd   time.Time
}

// NewReply 回复参数
type NewReply struct {
	ParentID int64
	Subject  string
	Message  string
	MailNow  bool
}

// PostService 话题与帖子写入
type PostService struct {
	store    *repository.Store
	caps     access.Checker
	tracking *TrackingPolicy
	ledger   *ReadLedger
	events   events.Publisher
	now      Clock
}

// NewPostService 创建帖子服务
func NewPostService(d Deps, tracking *TrackingPolicy, ledger *ReadLedger) *PostService {
	d = d.withDefaults()
	return &PostService{
		store:    d.Store,
		caps:     d.Caps,
		tracking: tracking,
		ledger:   ledger,
		events:   d.Events,
		now:      d.Clock,
	}
}

// CreateDiscussion 发起话题并写入首帖
func (s *PostService) CreateDiscussion(ctx context.Context, user *models.User, in NewDiscussion) (*models.Discussion, *models.Post, error) {
	if strings.TrimSpace(in.Subject) == "" {
		return nil, nil, errors.New("subject is required")
	}

	forum, err := s.store.Forums.Get(ctx, in.ForumID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkCanStart(ctx, user, forum); err != nil {
		return nil, nil, err
	}

	discussionID, err := s.store.Sequences.Next(ctx, SequenceDiscussions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to allocate discussion id: %w", err)
	}
	postID, err := s.store.Sequences.Next(ctx, SequencePosts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to allocate post id: %w", err)
	}

	now := s.now()
	groupID := in.GroupID
	if groupID == 0 {
		groupID = models.AllGroups
	}
	discussion := &models.Discussion{
		ID:           discussionID,
		ForumID:      forum.ID,
		CourseID:     forum.CourseID,
		GroupID:      groupID,
		UserID:       user.ID,
		Name:         in.Subject,
		TimeModified: now,
		TimeStart:    in.TimeStart,
		TimeEnd:      in.TimeEnd,
	}
	if err := s.store.Discussions.Create(ctx, discussion); err != nil {
		return nil, nil, err
	}

	post := &models.Post{
		ID:           postID,
		DiscussionID: discussionID,
		UserID:       user.ID,
		Subject:      in.Subject,
		Message:      in.Message,
		Created:      now,
		Modified:     now,
		Mailed:       models.MailPending,
		MailNow:      in.MailNow,
	}
	if err := s.store.Posts.Create(ctx, post); err != nil {
		if derr := s.store.Discussions.Delete(ctx, discussionID); derr != nil {
			logger.L().Errorf("Failed to roll back discussion %d: %v", discussionID, derr)
		}
		return nil, nil, err
	}
	if err := s.store.Discussions.SetFirstPost(ctx, discussionID, postID); err != nil {
		return nil, nil, err
	}
	discussion.FirstPostID = postID

	s.markOwnPost(ctx, user, forum, post)
	s.publish(ctx, events.TopicDiscussionCreated, events.Event{UserID: user.ID, ForumID: forum.ID, DiscussionID: discussionID, PostID: postID})

	logger.L().Infof("Discussion created: id=%d forum=%d user=%d", discussionID, forum.ID, user.ID)
	return discussion, post, nil
}

func (s *PostService) checkCanStart(ctx context.Context, user *models.User, forum *models.Forum) error {
	if !s.caps.Has(ctx, access.CapStartDiscussion, forum.CourseID, user) {
		return ErrPermissionDenied
	}

	rules := forum.Rules()
	if rules.TeachersOnlyStart || !rules.StudentsMayStart {
		capability := access.CapAddNews
		if forum.Kind == models.KindQandA {
			capability = access.CapAddQuestion
		}
		if !s.caps.Has(ctx, capability, forum.CourseID, user) {
			return ErrPermissionDenied
		}
	}

	if rules.SingleDiscussion {
		existing, err := s.store.Discussions.ListByForum(ctx, forum.ID)
		if err != nil {
			return fmt.Errorf("failed to list discussions: %w", err)
		}
		if len(existing) > 0 {
			return ErrDiscussionLimit
		}
	}
	if rules.SingleDiscussionPerUser {
		n, err := s.store.Discussions.CountByUser(ctx, forum.ID, user.ID)
		if err != nil {
			return fmt.Errorf("failed to count discussions: %w", err)
		}
		if n > 0 {
			return ErrDiscussionLimit
		}
	}
	return nil
}

// Reply 回复帖子
func (s *PostService) Reply(ctx context.Context, user *models.User, in NewReply) (*models.Post, error) {
	parent, err := s.store.Posts.Get(ctx, in.ParentID)
	if err != nil {
		return nil, err
	}
	discussion, err := s.store.Discussions.Get(ctx, parent.DiscussionID)
	if err != nil {
		return nil, err
	}
	forum, err := s.store.Forums.Get(ctx, discussion.ForumID)
	if err != nil {
		return nil, err
	}
	if !s.caps.Has(ctx, access.CapReplyPost, forum.CourseID, user) {
		return nil, ErrPermissionDenied
	}

	id, err := s.store.Sequences.Next(ctx, SequencePosts)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate post id: %w", err)
	}

	subject := in.Subject
	if strings.TrimSpace(subject) == "" {
		subject = "Re: " + parent.Subject
	}
	now := s.now()
	post := &models.Post{
		ID:           id,
		DiscussionID: discussion.ID,
		ParentID:     parent.ID,
		UserID:       user.ID,
		Subject:      subject,
		Message:      in.Message,
		Created:      now,
		Modified:     now,
		Mailed:       models.MailPending,
		MailNow:      in.MailNow,
	}
	if err := s.store.Posts.Create(ctx, post); err != nil {
		return nil, err
	}
	if err := s.store.Discussions.Touch(ctx, discussion.ID, now); err != nil {
		logger.L().Warnf("Failed to touch discussion %d: %v", discussion.ID, err)
	}

	s.markOwnPost(ctx, user, forum, post)
	s.publish(ctx, events.TopicPostCreated, events.Event{UserID: user.ID, ForumID: forum.ID, DiscussionID: discussion.ID, PostID: id})
	return post, nil
}

// UpdatePost 作者编辑帖子
func (s *PostService) UpdatePost(ctx context.Context, user *models.User, postID int64, subject, message string) (*models.Post, error) {
	post, err := s.store.Posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.UserID != user.ID && !user.IsAdmin() {
		return nil, ErrPermissionDenied
	}

	if strings.TrimSpace(subject) != "" {
		post.Subject = subject
	}
	post.Message = message
	post.Modified = s.now()
	if err := s.store.Posts.Update(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// DeleteDiscussion 删除话题及其帖子、阅读记录、话题订阅和摘要队列
func (s *PostService) DeleteDiscussion(ctx context.Context, discussionID int64) error {
	discussion, err := s.store.Discussions.Get(ctx, discussionID)
	if err != nil {
		return err
	}

	posts, err := s.store.Posts.ListByDiscussion(ctx, discussionID)
	if err != nil {
		return fmt.Errorf("failed to list posts: %w", err)
	}
	ids := make([]int64, 0, len(posts))
	for _, post := range posts {
		ids = append(ids, post.ID)
	}

	var errs []error
	if len(ids) > 0 {
		if err := s.store.Posts.DeleteMany(ctx, ids); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := s.store.Reads.Delete(ctx, repository.ReadFilter{
		UserID:       repository.Any,
		PostID:       repository.Any,
		DiscussionID: discussionID,
		ForumID:      repository.Any,
	}); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.DiscussionSub.DeleteByDiscussion(ctx, discussionID); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Queue.DeleteByDiscussion(ctx, discussionID); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Discussions.Delete(ctx, discussionID); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to delete discussion %d: %w", discussionID, err)
	}

	s.publish(ctx, events.TopicDiscussionDeleted, events.Event{ForumID: discussion.ForumID, DiscussionID: discussionID})
	return nil
}

// DeletePost 删除帖子及其全部回复，删除首帖等同删除话题
func (s *PostService) DeletePost(ctx context.Context, postID int64) error {
	post, err := s.store.Posts.Get(ctx, postID)
	if err != nil {
		return err
	}
	if post.IsRoot() {
		return s.DeleteDiscussion(ctx, post.DiscussionID)
	}

	posts, err := s.store.Posts.ListByDiscussion(ctx, post.DiscussionID)
	if err != nil {
		return fmt.Errorf("failed to list posts: %w", err)
	}
	ids := descendants(posts, postID)

	if err := s.store.Posts.DeleteMany(ctx, ids); err != nil {
		return err
	}
	if _, err := s.store.Reads.DeleteByPostIDs(ctx, ids); err != nil {
		return fmt.Errorf("failed to delete read records: %w", err)
	}

	s.publish(ctx, events.TopicPostDeleted, events.Event{UserID: post.UserID, DiscussionID: post.DiscussionID, PostID: postID})
	return nil
}

// descendants 返回 root 及其所有后代帖子 ID
func descendants(posts []*models.Post, root int64) []int64 {
	children := make(map[int64][]int64, len(posts))
	for _, p := range posts {
		children[p.ParentID] = append(children[p.ParentID], p.ID)
	}

	ids := []int64{root}
	for i := 0; i < len(ids); i++ {
		ids = append(ids, children[ids[i]]...)
	}
	return ids
}

func (s *PostService) markOwnPost(ctx context.Context, user *models.User, forum *models.Forum, post *models.Post) {
	tracked, err := s.tracking.IsTracked(ctx, forum, user)
	if err != nil {
		logger.L().Warnf("Failed to check tracking: user=%d forum=%d err=%v", user.ID, forum.ID, err)
		return
	}
	if !tracked {
		return
	}
	if err := s.ledger.MarkPostRead(ctx, user, post); err != nil {
		logger.L().Warnf("Failed to mark own post read: user=%d post=%d err=%v", user.ID, post.ID, err)
	}
}

func (s *PostService) publish(ctx context.Context, topic string, event events.Event) {
	event.At = s.now()
	if err := s.events.Publish(ctx, topic, event); err != nil {
		logger.L().Warnf("Failed to publish %s: %v", topic, err)
	}
}
