package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// AttemptEvent is broadcast when an attempt is frozen into history.
type AttemptEvent struct {
	AttemptID    uint      `json:"attempt_id"`
	StudentID    uint      `json:"student_id"`
	EvaluationID uint      `json:"evaluation_id"`
	HistoryID    uint      `json:"history_id"`
	Score        float64   `json:"score"`
	ElapsedMs    int64     `json:"elapsed_ms"`
	Source       string    `json:"source"`
	FinalizedAt  time.Time `json:"finalized_at"`
}

// AttemptEventPublisher distributes attempt lifecycle events.
type AttemptEventPublisher interface {
	PublishFinalized(ctx context.Context, event AttemptEvent) error
}

type brokerAttemptPublisher struct {
	redis   *redis.Client
	channel string
	nats    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewAttemptEventPublisher publishes to Redis pub/sub and NATS, whichever is configured.
func NewAttemptEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, subject string, logger zerolog.Logger) AttemptEventPublisher {
	if subject == "" {
		subject = "grader.attempt.finalized"
	}
	return &brokerAttemptPublisher{
		redis:   redisClient,
		channel: subject,
		nats:    natsConn,
		subject: subject,
		logger:  logger.With().Str("component", "attempt_events").Logger(),
	}
}

func (p *brokerAttemptPublisher) PublishFinalized(ctx context.Context, event AttemptEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if p.redis != nil {
		if err := p.redis.Publish(ctx, p.channel, payload).Err(); err != nil {
			return err
		}
	}

	if p.nats != nil {
		if err := p.nats.Publish(p.subject, payload); err != nil {
			return err
		}
	}

	p.logger.Debug().Uint("attempt_id", event.AttemptID).Str("source", event.Source).Msg("attempt finalized event published")
	return nil
}

type noopAttemptPublisher struct{}

// NoopAttemptEventPublisher discards events.
func NoopAttemptEventPublisher() AttemptEventPublisher {
	return noopAttemptPublisher{}
}

func (noopAttemptPublisher) PublishFinalized(context.Context, AttemptEvent) error {
	return nil
}
