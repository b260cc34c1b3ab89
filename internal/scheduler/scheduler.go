// Package scheduler 按 cron 表达式周期执行命名任务
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"go_forum/internal/logger"
)

// Job 定时任务
type Job struct {
	Name    string
	Spec    string        // cron 表达式
	Timeout time.Duration // 单次运行超时，0 表示不限制
	Run     func(ctx context.Context) error
}

// Scheduler 定时任务调度器，每个任务一个协程，上一次运行结束前不会再次触发
type Scheduler struct {
	location *time.Location
	jobs     []Job

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建调度器，location 为 nil 时使用 UTC
func New(location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{location: location}
}

// Add 注册任务，必须在 Start 之前调用
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job name and run func are required")
	}
	if !gronx.IsValid(job.Spec) {
		return fmt.Errorf("invalid cron expression for job %s: %q", job.Name, job.Spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

// Start 启动全部任务，重复调用无效
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.run(ctx, job)
	}
	logger.L().Infof("Scheduler started with %d jobs", len(s.jobs))
}

// Stop 停止调度并等待正在运行的任务返回
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	s.wg.Wait()
	logger.L().Info("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	defer s.wg.Done()

	for {
		now := time.Now().In(s.location)
		next, err := NextRun(job.Spec, now)
		if err != nil {
			logger.L().Errorf("Job %s: failed to compute next run: %v", job.Name, err)
			next = now.Add(time.Minute)
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		logger.L().Debugf("Job %s waiting %s until %s", job.Name, wait.String(), next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.dispatch(ctx, job)
		}
	}
}

func (s *Scheduler) dispatch(parent context.Context, job Job) {
	if parent.Err() != nil {
		return
	}

	ctx := parent
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, job.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.L().Errorf("Job %s panic recovered: %v", job.Name, r)
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		logger.L().Errorf("Job %s failed after %s: %v", job.Name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	logger.L().Debugf("Job %s finished in %s", job.Name, time.Since(start).Round(time.Millisecond))
}

// NextRun 计算 now 之后的下一次触发时间
func NextRun(spec string, now time.Time) (time.Time, error) {
	return gronx.NextTickAfter(spec, now, false)
}
