// Package memory 提供全部仓储接口的内存实现，用于本地开发与测试
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
)

type pairKey struct{ a, b int64 }

// DB 内存数据库
type DB struct {
	mu sync.RWMutex

	forums      map[int64]models.Forum
	courses     map[int64]models.Course
	modules     map[int64]models.CourseModule
	discussions map[int64]models.Discussion
	posts       map[int64]models.Post
	users       map[int64]models.User
	reads       map[pairKey]models.ReadRecord // (user, post)
	trackPrefs  map[pairKey]struct{}          // (user, forum)
	subs        map[pairKey]struct{}          // (user, forum)
	discSubs    map[pairKey]models.DiscussionSubscription
	digests     map[pairKey]models.DigestPreference
	queue       []models.DigestQueueEntry
	state       map[string]time.Time
	sequences   map[string]int64
}

// New 创建内存数据库
func New() *DB {
	return &DB{
		forums:      make(map[int64]models.Forum),
		courses:     make(map[int64]models.Course),
		modules:     make(map[int64]models.CourseModule),
		discussions: make(map[int64]models.Discussion),
		posts:       make(map[int64]models.Post),
		users:       make(map[int64]models.User),
		reads:       make(map[pairKey]models.ReadRecord),
		trackPrefs:  make(map[pairKey]struct{}),
		subs:        make(map[pairKey]struct{}),
		discSubs:    make(map[pairKey]models.DiscussionSubscription),
		digests:     make(map[pairKey]models.DigestPreference),
		state:       make(map[string]time.Time),
		sequences:   make(map[string]int64),
	}
}

// NewStore 创建基于内存的仓储集合
func NewStore() (*repository.Store, *DB) {
	db := New()
	return db.Store(), db
}

// Store 返回绑定到该数据库的仓储集合
func (db *DB) Store() *repository.Store {
	return &repository.Store{
		Forums:        &forumRepo{db},
		Courses:       &courseRepo{db},
		Discussions:   &discussionRepo{db},
		Posts:         &postRepo{db},
		Users:         &userRepo{db},
		Reads:         &readRepo{db},
		TrackPrefs:    &trackPrefRepo{db},
		Subscriptions: &subscriptionRepo{db},
		DiscussionSub: &discussionSubRepo{db},
		Digests:       &digestRepo{db},
		Queue:         &queueRepo{db},
		State:         &stateRepo{db},
		Sequences:     &sequenceRepo{db},
	}
}

// ReadRecordCount 阅读记录总数
func (db *DB) ReadRecordCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.reads)
}

// ReadRecord 获取阅读记录
func (db *DB) ReadRecord(userID, postID int64) (models.ReadRecord, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	rec, ok := db.reads[pairKey{userID, postID}]
	return rec, ok
}

// QueueLen 摘要队列长度
func (db *DB) QueueLen() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.queue)
}

// PostStatus 帖子通知状态
func (db *DB) PostStatus(postID int64) models.MailStatus {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.posts[postID].Mailed
}

func idSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func sortIDs(ids []int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var (
	_ repository.ForumRepository                  = (*forumRepo)(nil)
	_ repository.CourseRepository                 = (*courseRepo)(nil)
	_ repository.DiscussionRepository             = (*discussionRepo)(nil)
	_ repository.PostRepository                   = (*postRepo)(nil)
	_ repository.UserRepository                   = (*userRepo)(nil)
	_ repository.ReadRepository                   = (*readRepo)(nil)
	_ repository.TrackPreferenceRepository        = (*trackPrefRepo)(nil)
	_ repository.SubscriptionRepository           = (*subscriptionRepo)(nil)
	_ repository.DiscussionSubscriptionRepository = (*discussionSubRepo)(nil)
	_ repository.DigestPreferenceRepository       = (*digestRepo)(nil)
	_ repository.QueueRepository                  = (*queueRepo)(nil)
	_ repository.StateRepository                  = (*stateRepo)(nil)
	_ repository.SequenceRepository               = (*sequenceRepo)(nil)
)

func noIndexes(context.Context) error { return nil }
