package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go_forum/internal/forum/models"
	"go_forum/internal/forum/repository"
)

type enrolmentCacheEntry struct {
	users   []*models.User
	expires time.Time
}

type enrolmentCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	values map[int64]enrolmentCacheEntry
}

func newEnrolmentCache(ttl time.Duration) *enrolmentCache {
	if ttl <= 0 {
		return nil
	}
	return &enrolmentCache{
		ttl:    ttl,
		values: make(map[int64]enrolmentCacheEntry),
	}
}

func (c *enrolmentCache) Get(courseID int64) ([]*models.User, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.values[courseID]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expires) {
		c.mu.Lock()
		delete(c.values, courseID)
		c.mu.Unlock()
		return nil, false
	}

	return entry.users, true
}

func (c *enrolmentCache) Set(courseID int64, users []*models.User) {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.values[courseID] = enrolmentCacheEntry{
		users:   users,
		expires: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *enrolmentCache) Delete(courseID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.values, courseID)
	c.mu.Unlock()
}

// Directory 课程选课用户查询，结果按 TTL 缓存
// 返回的用户对象在缓存内共享，调用方不得修改
type Directory struct {
	users repository.UserRepository
	cache *enrolmentCache
}

// NewDirectory 创建用户目录，ttl <= 0 时不缓存
func NewDirectory(users repository.UserRepository, ttl time.Duration) *Directory {
	return &Directory{
		users: users,
		cache: newEnrolmentCache(ttl),
	}
}

// EnrolledUsers 列出课程中可用的选课用户
func (d *Directory) EnrolledUsers(ctx context.Context, courseID int64) ([]*models.User, error) {
	if users, ok := d.cache.Get(courseID); ok {
		return users, nil
	}

	users, err := d.users.ListEnrolled(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list enrolled users of course %d: %w", courseID, err)
	}

	active := users[:0:0]
	for _, u := range users {
		if u.Active() && !u.Guest && u.EnrolledIn(courseID) != "" {
			active = append(active, u)
		}
	}
	d.cache.Set(courseID, active)
	return active, nil
}

// Invalidate 丢弃课程的缓存
func (d *Directory) Invalidate(courseID int64) {
	d.cache.Delete(courseID)
}
