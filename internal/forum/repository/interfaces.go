package repository

import (
	"context"
	"errors"
	"time"

	"go_forum/internal/forum/models"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// ErrEmptyFilter 删除条件为空，拒绝执行
var ErrEmptyFilter = errors.New("refusing to delete with empty filter")

// Any 过滤条件中的通配标记
const Any int64 = -1

// ReadFilter 阅读记录删除条件，值为 Any 的字段不参与过滤
type ReadFilter struct {
	UserID       int64
	PostID       int64
	DiscussionID int64
	ForumID      int64
}

// Empty 是否未指定任何条件
func (f ReadFilter) Empty() bool {
	return f.UserID < 0 && f.PostID < 0 && f.DiscussionID < 0 && f.ForumID < 0
}

// ForumRepository 论坛数据访问接口
type ForumRepository interface {
	// Upsert 创建或更新论坛
	Upsert(ctx context.Context, forum *models.Forum) error

	// Get 根据 ID 获取论坛
	Get(ctx context.Context, id int64) (*models.Forum, error)

	// ListByIDs 批量获取论坛
	ListByIDs(ctx context.Context, ids []int64) ([]*models.Forum, error)

	// ListByCourse 列出课程下的论坛
	ListByCourse(ctx context.Context, courseID int64) ([]*models.Forum, error)

	// UpdateSubscriptionMode 更新订阅模式
	UpdateSubscriptionMode(ctx context.Context, forumID int64, mode models.SubscriptionMode) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// CourseRepository 课程与课程模块数据访问接口
type CourseRepository interface {
	UpsertCourse(ctx context.Context, course *models.Course) error
	GetCourse(ctx context.Context, id int64) (*models.Course, error)
	UpsertModule(ctx context.Context, cm *models.CourseModule) error

	// GetModuleByForum 根据论坛 ID 获取课程模块
	GetModuleByForum(ctx context.Context, forumID int64) (*models.CourseModule, error)

	EnsureIndexes(ctx context.Context) error
}

// DiscussionRepository 话题数据访问接口
type DiscussionRepository interface {
	Create(ctx context.Context, discussion *models.Discussion) error
	Get(ctx context.Context, id int64) (*models.Discussion, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*models.Discussion, error)
	ListByForum(ctx context.Context, forumID int64) ([]*models.Discussion, error)

	// ListStartingBetween 列出展示开始时间落在 [start, end) 的定时话题
	ListStartingBetween(ctx context.Context, start, end time.Time) ([]*models.Discussion, error)

	// CountByUser 统计用户在论坛中发起的话题数
	CountByUser(ctx context.Context, forumID, userID int64) (int64, error)

	SetFirstPost(ctx context.Context, discussionID, postID int64) error
	Touch(ctx context.Context, discussionID int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
	EnsureIndexes(ctx context.Context) error
}

// PostRepository 帖子数据访问接口
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	Get(ctx context.Context, id int64) (*models.Post, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*models.Post, error)
	ListByDiscussion(ctx context.Context, discussionID int64) ([]*models.Post, error)

	// ListModifiedSince 列出话题中 modified >= since 的帖子
	ListModifiedSince(ctx context.Context, discussionIDs []int64, since time.Time) ([]*models.Post, error)

	// FindPending 待发送且 (created ∈ [start, end) 或 mail_now) 的帖子
	FindPending(ctx context.Context, start, end time.Time) ([]*models.Post, error)

	// FindPendingInDiscussions 指定话题中待发送且 (created < end 或 mail_now) 的帖子
	FindPendingInDiscussions(ctx context.Context, discussionIDs []int64, end time.Time) ([]*models.Post, error)

	// SetMailed 将 ids 中状态为 from 的帖子改为 to，返回修改条数
	SetMailed(ctx context.Context, ids []int64, from, to models.MailStatus) (int64, error)

	// Claim 逐条将状态为 from 的帖子改为 to，返回本次调用实际修改的帖子
	Claim(ctx context.Context, ids []int64, from, to models.MailStatus) ([]int64, error)

	// FirstPostTime 用户在话题中的首次发帖时间
	FirstPostTime(ctx context.Context, discussionID, userID int64) (time.Time, bool, error)

	// ListIDsModifiedBetween 按 ID 升序分页列出 modified ∈ [from, to) 且 ID > afterID 的帖子，最多 limit 条
	ListIDsModifiedBetween(ctx context.Context, from, to time.Time, afterID int64, limit int) ([]int64, error)

	Update(ctx context.Context, post *models.Post) error
	DeleteMany(ctx context.Context, ids []int64) error
	EnsureIndexes(ctx context.Context) error
}

// UserRepository 用户数据访问接口
type UserRepository interface {
	Upsert(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id int64) (*models.User, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*models.User, error)

	// ListEnrolled 列出课程中未被停用的选课用户
	ListEnrolled(ctx context.Context, courseID int64) ([]*models.User, error)

	EnsureIndexes(ctx context.Context) error
}

// ReadRepository 阅读记录数据访问接口
type ReadRepository interface {
	// Exists 是否存在阅读记录
	Exists(ctx context.Context, userID, postID int64) (bool, error)

	// ExistingPostIDs 返回 postIDs 中用户已有记录的帖子
	ExistingPostIDs(ctx context.Context, userID int64, postIDs []int64) ([]int64, error)

	// InsertIfAbsent 插入记录，已存在的记录保持不变
	InsertIfAbsent(ctx context.Context, records []*models.ReadRecord) error

	// TouchLastRead 更新已有记录的 last_read
	TouchLastRead(ctx context.Context, userID int64, postIDs []int64, at time.Time) error

	// OldestTrackedModified 存在阅读记录的帖子中最早的修改时间，没有记录时 ok 为 false
	OldestTrackedModified(ctx context.Context) (oldest time.Time, ok bool, err error)

	Delete(ctx context.Context, filter ReadFilter) (int64, error)
	DeleteByPostIDs(ctx context.Context, postIDs []int64) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

// TrackPreferenceRepository 阅读跟踪退出记录数据访问接口
type TrackPreferenceRepository interface {
	Exists(ctx context.Context, userID, forumID int64) (bool, error)
	Insert(ctx context.Context, userID, forumID int64) error
	Delete(ctx context.Context, userID, forumID int64) error
	ListForumIDs(ctx context.Context, userID int64) ([]int64, error)
	EnsureIndexes(ctx context.Context) error
}

// SubscriptionRepository 论坛级订阅数据访问接口
type SubscriptionRepository interface {
	Exists(ctx context.Context, userID, forumID int64) (bool, error)

	// Insert 创建订阅，返回是否新建
	Insert(ctx context.Context, userID, forumID int64) (bool, error)

	// Delete 删除订阅，返回是否删除了记录
	Delete(ctx context.Context, userID, forumID int64) (bool, error)

	ListUserIDs(ctx context.Context, forumID int64) ([]int64, error)

	// ListForumIDs 用户在 forumIDs 中订阅的论坛
	ListForumIDs(ctx context.Context, userID int64, forumIDs []int64) ([]int64, error)

	DeleteByForum(ctx context.Context, forumID int64) error
	EnsureIndexes(ctx context.Context) error
}

// DiscussionSubscriptionRepository 话题级订阅数据访问接口
type DiscussionSubscriptionRepository interface {
	Get(ctx context.Context, userID, discussionID int64) (*models.DiscussionSubscription, error)
	ListByForum(ctx context.Context, forumID int64) ([]*models.DiscussionSubscription, error)
	Upsert(ctx context.Context, sub *models.DiscussionSubscription) error
	Delete(ctx context.Context, userID, discussionID int64) error

	// DeleteByUserForum 删除用户在论坛下的话题订阅，onlyUnsubscribed 为 true 时仅删除退订记录
	DeleteByUserForum(ctx context.Context, userID, forumID int64, onlyUnsubscribed bool) (int64, error)

	DeleteByDiscussion(ctx context.Context, discussionID int64) error
	EnsureIndexes(ctx context.Context) error
}

// DigestPreferenceRepository 摘要设置数据访问接口
type DigestPreferenceRepository interface {
	// Get 不存在时返回 ErrNotFound
	Get(ctx context.Context, userID, forumID int64) (*models.DigestPreference, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.DigestPreference, error)
	ListByForums(ctx context.Context, forumIDs []int64) ([]*models.DigestPreference, error)
	Set(ctx context.Context, pref *models.DigestPreference) error
	Delete(ctx context.Context, userID, forumID int64) error
	EnsureIndexes(ctx context.Context) error
}

// QueueRepository 摘要队列数据访问接口
type QueueRepository interface {
	Insert(ctx context.Context, entries []*models.DigestQueueEntry) error

	// DeleteOlderThan 删除 time_modified < before 的队列项
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)

	// ListBefore 列出 time_modified < before 的队列项
	ListBefore(ctx context.Context, before time.Time) ([]*models.DigestQueueEntry, error)

	// DeleteForUser 删除用户 time_modified < before 的队列项
	DeleteForUser(ctx context.Context, userID int64, before time.Time) (int64, error)

	DeleteByDiscussion(ctx context.Context, discussionID int64) error
	EnsureIndexes(ctx context.Context) error
}

// StateRepository 进程级水位记录
type StateRepository interface {
	// GetTime 不存在时返回零值
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, value time.Time) error
}

// SequenceRepository 自增 ID 生成
type SequenceRepository interface {
	Next(ctx context.Context, name string) (int64, error)
}

// 水位键
const (
	StateLastDigestTime    = "last_digest_time"
	StateLastReadCleanTime = "last_read_clean_time"
)

// Store 聚合全部仓储
type Store struct {
	Forums        ForumRepository
	Courses       CourseRepository
	Discussions   DiscussionRepository
	Posts         PostRepository
	Users         UserRepository
	Reads         ReadRepository
	TrackPrefs    TrackPreferenceRepository
	Subscriptions SubscriptionRepository
	DiscussionSub DiscussionSubscriptionRepository
	Digests       DigestPreferenceRepository
	Queue         QueueRepository
	State         StateRepository
	Sequences     SequenceRepository
}
