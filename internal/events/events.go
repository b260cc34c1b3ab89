package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go_forum/internal/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	log "github.com/sirupsen/logrus"
)

// 事件主题
const (
	TopicSubscriptionCreated           = "forum.subscription.created"
	TopicSubscriptionDeleted           = "forum.subscription.deleted"
	TopicDiscussionSubscriptionCreated = "forum.discussion_subscription.created"
	TopicDiscussionSubscriptionDeleted = "forum.discussion_subscription.deleted"
	TopicReadTrackingEnabled           = "forum.readtracking.enabled"
	TopicReadTrackingDisabled          = "forum.readtracking.disabled"
	TopicDiscussionCreated             = "forum.discussion.created"
	TopicPostCreated                   = "forum.post.created"
	TopicDiscussionDeleted             = "forum.discussion.deleted"
	TopicPostDeleted                   = "forum.post.deleted"
)

// AllTopics 全部事件主题
var AllTopics = []string{
	TopicSubscriptionCreated,
	TopicSubscriptionDeleted,
	TopicDiscussionSubscriptionCreated,
	TopicDiscussionSubscriptionDeleted,
	TopicReadTrackingEnabled,
	TopicReadTrackingDisabled,
	TopicDiscussionCreated,
	TopicPostCreated,
	TopicDiscussionDeleted,
	TopicPostDeleted,
}

// Event 领域事件载荷
type Event struct {
	UserID       int64     `json:"user_id"`
	ForumID      int64     `json:"forum_id,omitempty"`
	DiscussionID int64     `json:"discussion_id,omitempty"`
	PostID       int64     `json:"post_id,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// Nop 丢弃所有事件
type Nop struct{}

// Publish 不做任何事
func (Nop) Publish(context.Context, string, Event) error { return nil }

// Bus 基于 watermill gochannel 的进程内事件总线
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            256,
				BlockPublishUntilSubscriberAck: false,
			},
			watermill.NewStdLogger(false, false),
		),
	}
}

// Publish 发布事件，没有订阅者时事件被丢弃
func (b *Bus) Publish(ctx context.Context, topic string, event Event) error {
	if event.At.IsZero() {
		event.At = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe 订阅主题
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// StartAudit 订阅主题并把事件写入日志，ctx 取消后退出
func (b *Bus) StartAudit(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		topics = AllTopics
	}
	for _, topic := range topics {
		messages, err := b.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", topic, err)
		}
		go audit(topic, messages)
	}
	logger.L().Infof("Event audit started for %d topics", len(topics))
	return nil
}

func audit(topic string, messages <-chan *message.Message) {
	for msg := range messages {
		var event Event
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			logger.L().Warnf("Event audit: undecodable payload on %s: %v", topic, err)
			msg.Ack()
			continue
		}
		logger.With(log.Fields{
			"topic":         topic,
			"user_id":       event.UserID,
			"forum_id":      event.ForumID,
			"discussion_id": event.DiscussionID,
			"post_id":       event.PostID,
		}).Info("forum event")
		msg.Ack()
	}
}

// Close 关闭总线
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
