// Package mailer 负责把渲染好的通知投递到邮件和 Telegram
package mailer

import (
	"context"
	"errors"

	"go_forum/internal/forum/models"
	"go_forum/internal/logger"
)

// ErrNoChannel 收件人没有任何可用的投递渠道
var ErrNoChannel = errors.New("recipient has no delivery channel")

// Message 待投递的通知
type Message struct {
	To       *models.User
	FromName string // 发帖人显示名
	Subject  string
	Text     string
	HTML     string
	Headers  map[string]string // Message-ID、List-Id 等邮件头
}

// Sender 投递接口
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// SenderFunc 函数适配器
type SenderFunc func(ctx context.Context, msg *Message) error

// Send 调用 f
func (f SenderFunc) Send(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Router 按收件人资料选择渠道，至少一个渠道成功即视为送达
type Router struct {
	email    Sender
	telegram Sender
}

// NewRouter 创建路由，任一参数可为 nil
func NewRouter(email, telegram Sender) *Router {
	return &Router{email: email, telegram: telegram}
}

// Send 投递消息
func (r *Router) Send(ctx context.Context, msg *Message) error {
	user := msg.To
	if user == nil {
		return ErrNoChannel
	}

	var (
		attempted int
		delivered int
		errs      []error
	)

	if r.email != nil && user.Email != "" && !user.EmailStop {
		attempted++
		if err := r.email.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		} else {
			delivered++
		}
	}

	if r.telegram != nil && user.TelegramChatID != 0 {
		attempted++
		if err := r.telegram.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		} else {
			delivered++
		}
	}

	switch {
	case attempted == 0:
		return ErrNoChannel
	case delivered == 0:
		return errors.Join(errs...)
	case len(errs) > 0:
		logger.L().Warnf("Partial delivery to user %d: %v", user.ID, errors.Join(errs...))
	}
	return nil
}

// LogSender 只记录日志的投递实现，用于未配置 SMTP 的环境
type LogSender struct{}

// Send 记录消息摘要
func (LogSender) Send(ctx context.Context, msg *Message) error {
	logger.L().Infof("Mail (log only): to=%s subject=%q", msg.To.Email, msg.Subject)
	return nil
}
