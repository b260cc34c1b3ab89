package mailer

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/gomail.v2"

	"go_forum/internal/config"
	"go_forum/internal/logger"
)

type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender 通过 SMTP 发送邮件
type SMTPSender struct {
	dialer smtpDialer
	from   string
}

// NewSMTPSender 创建 SMTP 发送器
func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
	}
}

// Send 发送一次，不重试
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	start := time.Now()
	if err := s.dial(ctx, s.buildMessage(msg)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", msg.To.Email, err)
	}
	logger.L().Debugf("Mail sent: to=%s duration_ms=%d", msg.To.Email, time.Since(start).Milliseconds())
	return nil
}

// dial 在独立协程中发送，ctx 取消时立即返回
func (s *SMTPSender) dial(ctx context.Context, m *gomail.Message) error {
	done := make(chan error, 1)
	go func() {
		done <- s.dialer.DialAndSend(m)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (s *SMTPSender) buildMessage(msg *Message) *gomail.Message {
	m := gomail.NewMessage()
	if msg.FromName != "" {
		m.SetAddressHeader("From", s.from, msg.FromName)
	} else {
		m.SetHeader("From", s.from)
	}
	m.SetAddressHeader("To", msg.To.Email, msg.To.FullName())
	m.SetHeader("Subject", msg.Subject)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}

	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m
}
