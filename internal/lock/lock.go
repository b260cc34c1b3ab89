// Package lock 保证同名任务同一时刻只有一个在运行
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrLocked 锁已被占用
var ErrLocked = errors.New("lock is held by another run")

// Locker 非阻塞互斥锁
type Locker interface {
	// TryLock 立即尝试加锁，失败返回 ErrLocked；ttl 仅对分布式实现生效
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// Local 进程内锁
type Local struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewLocal 创建进程内锁
func NewLocal() *Local {
	return &Local{locks: make(map[string]*semaphore.Weighted)}
}

// TryLock 加锁
func (l *Local) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	sem, ok := l.locks[name]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[name] = sem
	}
	l.mu.Unlock()

	if !sem.TryAcquire(1) {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}
