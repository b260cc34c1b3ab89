package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, err := bus.Subscribe(ctx, TopicSubscriptionCreated)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, TopicSubscriptionCreated, Event{UserID: 7, ForumID: 3}))

	select {
	case msg := <-messages:
		var got Event
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, int64(7), got.UserID)
		require.Equal(t, int64(3), got.ForumID)
		require.False(t, got.At.IsZero())
		msg.Ack()
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	require.NoError(t, bus.Publish(context.Background(), TopicPostCreated, Event{PostID: 1}))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	require.NoError(t, p.Publish(context.Background(), TopicPostDeleted, Event{}))
}
