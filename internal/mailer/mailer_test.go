package mailer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"
	"gopkg.in/gomail.v2"

	"go_forum/internal/forum/models"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*Message
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestRouterSend(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name         string
		user         *models.User
		emailErr     error
		telegramErr  error
		wantErr      error
		wantEmail    int
		wantTelegram int
	}{
		{name: "EmailOnly", user: &models.User{ID: 1, Email: "a@example.com"}, wantEmail: 1},
		{name: "EmailStopped", user: &models.User{ID: 1, Email: "a@example.com", EmailStop: true}, wantErr: ErrNoChannel},
		{name: "Both", user: &models.User{ID: 1, Email: "a@example.com", TelegramChatID: 9}, wantEmail: 1, wantTelegram: 1},
		{name: "TelegramFallback", user: &models.User{ID: 1, Email: "a@example.com", TelegramChatID: 9}, emailErr: errors.New("smtp down"), wantTelegram: 1},
		{name: "NoChannel", user: &models.User{ID: 1}, wantErr: ErrNoChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := &recordingSender{err: tt.emailErr}
			telegram := &recordingSender{err: tt.telegramErr}
			err := NewRouter(email, telegram).Send(ctx, &Message{To: tt.user, Subject: "s"})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Send() error = %v, want %v", err, tt.wantErr)
			}
			if len(email.sent) != tt.wantEmail || len(telegram.sent) != tt.wantTelegram {
				t.Fatalf("email=%d telegram=%d, want %d/%d", len(email.sent), len(telegram.sent), tt.wantEmail, tt.wantTelegram)
			}
		})
	}
}

func TestRouterAllChannelsFail(t *testing.T) {
	boom := errors.New("boom")
	router := NewRouter(&recordingSender{err: boom}, nil)
	err := router.Send(context.Background(), &Message{To: &models.User{ID: 1, Email: "a@example.com"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

type stubDialer struct {
	calls int
	fail  int
	last  *gomail.Message
}

func (d *stubDialer) DialAndSend(m ...*gomail.Message) error {
	d.calls++
	d.last = m[0]
	if d.calls <= d.fail {
		return errors.New("temporary failure")
	}
	return nil
}

func TestSMTPSenderBuildsMessage(t *testing.T) {
	dialer := &stubDialer{}
	sender := &SMTPSender{dialer: dialer, from: "noreply@example.com"}

	msg := &Message{
		To:       &models.User{ID: 1, Email: "a@example.com", FirstName: "Ann"},
		FromName: "Bob",
		Subject:  "Course: Hello",
		Text:     "plain",
		HTML:     "<p>html</p>",
		Headers:  map[string]string{"List-Id": "forum-1"},
	}
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if dialer.calls != 1 {
		t.Fatalf("calls = %d, want 1", dialer.calls)
	}
	if got := dialer.last.GetHeader("Subject"); len(got) != 1 || got[0] != "Course: Hello" {
		t.Fatalf("subject header = %v", got)
	}
	if got := dialer.last.GetHeader("List-Id"); len(got) != 1 || got[0] != "forum-1" {
		t.Fatalf("List-Id header = %v", got)
	}
}

func TestSMTPSenderDoesNotRetry(t *testing.T) {
	dialer := &stubDialer{fail: 1}
	sender := &SMTPSender{dialer: dialer, from: "noreply@example.com"}

	err := sender.Send(context.Background(), &Message{To: &models.User{ID: 1, Email: "a@example.com"}})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if dialer.calls != 1 {
		t.Fatalf("calls = %d, want 1", dialer.calls)
	}
}

type blockingDialer struct{ release chan struct{} }

func (d *blockingDialer) DialAndSend(m ...*gomail.Message) error {
	<-d.release
	return nil
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	dialer := &blockingDialer{release: make(chan struct{})}
	defer close(dialer.release)
	sender := &SMTPSender{dialer: dialer, from: "noreply@example.com"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sender.Send(ctx, &Message{To: &models.User{ID: 1, Email: "a@example.com"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type stubTelegram struct {
	params []*bot.SendMessageParams
}

func (s *stubTelegram) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botModels.Message, error) {
	s.params = append(s.params, params)
	return &botModels.Message{ID: len(s.params)}, nil
}

func TestTelegramSender(t *testing.T) {
	api := &stubTelegram{}
	sender := newTelegramSender(api, 10)
	defer sender.Close()

	msg := &Message{To: &models.User{ID: 1, TelegramChatID: 42}, Subject: "A < B", Text: "body & more"}
	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected one call, got %d", len(api.params))
	}
	p := api.params[0]
	if p.ChatID != int64(42) || p.ParseMode != botModels.ParseModeHTML {
		t.Fatalf("unexpected params: %+v", p)
	}
	if p.Text != "<b>A &lt; B</b>\n\nbody &amp; more" {
		t.Fatalf("unexpected text: %q", p.Text)
	}
}

func TestFormatTelegramTruncates(t *testing.T) {
	msg := &Message{Subject: "s", Text: strings.Repeat("x", 5000)}
	text := formatTelegram(msg)
	if n := len([]rune(text)); n > telegramMaxRunes {
		t.Fatalf("text has %d runes, limit %d", n, telegramMaxRunes)
	}
	if !strings.HasSuffix(text, "…") {
		t.Fatalf("expected ellipsis")
	}
}

func TestRateLimiterWaitRespectsContext(t *testing.T) {
	limiter := NewRateLimiter(1)
	defer limiter.Close()

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first token should be available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
