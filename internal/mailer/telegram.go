package mailer

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"go_forum/internal/config"
)

// Telegram 单条消息长度上限
const telegramMaxRunes = 4000

type telegramAPI interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error)
}

// TelegramSender 通过 Telegram Bot 推送通知
type TelegramSender struct {
	api     telegramAPI
	limiter *RateLimiter
}

// NewTelegramSender 创建 Telegram 发送器
func NewTelegramSender(cfg config.TelegramConfig) (*TelegramSender, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}
	b, err := bot.New(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return newTelegramSender(b, cfg.RatePerSecond), nil
}

func newTelegramSender(api telegramAPI, ratePerSecond int) *TelegramSender {
	return &TelegramSender{api: api, limiter: NewRateLimiter(ratePerSecond)}
}

// Send 推送消息
func (s *TelegramSender) Send(ctx context.Context, msg *Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := s.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    msg.To.TelegramChatID,
		Text:      formatTelegram(msg),
		ParseMode: botModels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message to %d: %w", msg.To.TelegramChatID, err)
	}
	return nil
}

// Close 释放限流器
func (s *TelegramSender) Close() {
	s.limiter.Close()
}

func formatTelegram(msg *Message) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(msg.Subject))
	b.WriteString("</b>\n\n")
	b.WriteString(html.EscapeString(msg.Text))

	text := b.String()
	if utf8.RuneCountInString(text) <= telegramMaxRunes {
		return text
	}
	// 截断纯文本部分，保留标题标签完整
	runes := []rune(html.EscapeString(msg.Text))
	head := "<b>" + html.EscapeString(msg.Subject) + "</b>\n\n"
	budget := telegramMaxRunes - utf8.RuneCountInString(head) - 1
	if budget < 0 {
		budget = 0
	}
	if budget > len(runes) {
		budget = len(runes)
	}
	return head + strings.TrimRight(cutEntity(string(runes[:budget])), " \n") + "…"
}

// cutEntity 去掉末尾被截断的 HTML 实体
func cutEntity(s string) string {
	amp := strings.LastIndexByte(s, '&')
	if amp >= 0 && !strings.Contains(s[amp:], ";") {
		return s[:amp]
	}
	return s
}
