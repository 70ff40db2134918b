package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-receipts/internal/receipts"
)

func newPublisher(t *testing.T) (*miniredis.Miniredis, *RedisPublisher) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, NewRedisPublisher(client, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishEncodesEvent(t *testing.T) {
	srv, pub := newPublisher(t)
	require.Equal(t, DefaultChannel, pub.Channel())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	messages := sub.Channel()

	at := time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC)
	event := receipts.NewEvent(receipts.EventVoucherCreated, "HQ", "RV-HQ-26030001", map[string]any{"voucherId": 1}, at)
	require.NoError(t, pub.Publish(ctx, event))

	select {
	case msg := <-messages:
		require.Equal(t, DefaultChannel, msg.Channel)
		var got receipts.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		require.Equal(t, event.ID, got.ID)
		require.Equal(t, receipts.EventVoucherCreated, got.Type)
		require.Equal(t, "HQ", got.Branch)
		require.True(t, at.Equal(got.At))
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	_, pub := newPublisher(t)
	err := pub.Publish(context.Background(), receipts.NewEvent(receipts.EventBatchCompleted, "", "", nil, time.Now()))
	require.NoError(t, err)
}

func TestPublishFailsWhenRedisDown(t *testing.T) {
	srv, pub := newPublisher(t)
	srv.Close()
	err := pub.Publish(context.Background(), receipts.NewEvent(receipts.EventBatchCompleted, "", "", nil, time.Now()))
	require.Error(t, err)
}

func TestSubscribeDeliversEvents(t *testing.T) {
	srv, pub := newPublisher(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan receipts.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- pub.Subscribe(ctx, func(e receipts.Event) { got <- e })
	}()

	require.Eventually(t, func() bool {
		return len(srv.PubSubChannels("")) == 1
	}, time.Second, 10*time.Millisecond)

	srv.Publish(DefaultChannel, "not json")
	require.NoError(t, pub.Publish(ctx, receipts.NewEvent(receipts.EventRetryCompleted, "BKK", "", nil, time.Now())))

	select {
	case e := <-got:
		require.Equal(t, receipts.EventRetryCompleted, e.Type)
		require.Equal(t, "BKK", e.Branch)
	case <-ctx.Done():
		t.Fatal("no event delivered")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
