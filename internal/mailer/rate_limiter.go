package mailer

import (
	"context"
	"time"
)

// RateLimiter Token Bucket 速率限制器，避免触发 Telegram API 限制
type RateLimiter struct {
	tokens   chan struct{}
	stopCh   chan struct{}
	interval time.Duration
}

// NewRateLimiter 创建速率限制器，ratePerSecond <= 0 时按每秒 1 次处理
func NewRateLimiter(ratePerSecond int) *RateLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	limiter := &RateLimiter{
		tokens:   make(chan struct{}, ratePerSecond),
		stopCh:   make(chan struct{}),
		interval: time.Second / time.Duration(ratePerSecond),
	}

	for i := 0; i < ratePerSecond; i++ {
		limiter.tokens <- struct{}{}
	}

	go limiter.refill()
	return limiter
}

// Wait 阻塞直到取得令牌或 ctx 取消
func (r *RateLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.tokens:
		return nil
	}
}

func (r *RateLimiter) refill() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			select {
			case r.tokens <- struct{}{}:
			default:
				// 桶已满
			}
		}
	}
}

// Close 停止补充令牌
func (r *RateLimiter) Close() {
	close(r.stopCh)
}
