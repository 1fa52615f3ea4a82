package service

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAttemptEventPublisherUsesRedisChannel(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, "grader.test.finalized")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewAttemptEventPublisher(client, nil, "grader.test.finalized", zerolog.New(io.Discard))
	event := AttemptEvent{AttemptID: 4, StudentID: 7, EvaluationID: 2, HistoryID: 9, Score: 3.5, Source: "batch", FinalizedAt: time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)}
	require.NoError(t, publisher.PublishFinalized(ctx, event))

	select {
	case msg := <-sub.Channel():
		var received AttemptEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &received))
		require.Equal(t, event.AttemptID, received.AttemptID)
		require.Equal(t, "batch", received.Source)
		require.Equal(t, 3.5, received.Score)
	case <-time.After(2 * time.Second):
		t.Fatal("finalized event not delivered")
	}
}

func TestNoopPublisherAcceptsEvents(t *testing.T) {
	require.NoError(t, NoopAttemptEventPublisher().PublishFinalized(context.Background(), AttemptEvent{AttemptID: 1}))
}
