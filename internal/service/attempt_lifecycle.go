package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

type attemptTally struct {
	answered int
	total    int
	score    float64
}

func (t attemptTally) complete() bool {
	return t.total > 0 && t.answered >= t.total
}

// attemptLifecycle owns the attempt transitions shared by every entry point.
type attemptLifecycle struct {
	attempts    repository.AttemptRepository
	answers     repository.AnswerRepository
	evaluations repository.EvaluationRepository
	history     HistoryService
	events      AttemptEventPublisher
	logger      zerolog.Logger
	now         func() time.Time
}

func newAttemptLifecycle(attempts repository.AttemptRepository, answers repository.AnswerRepository, evaluations repository.EvaluationRepository, history HistoryService, events AttemptEventPublisher, logger zerolog.Logger) *attemptLifecycle {
	if events == nil {
		events = NoopAttemptEventPublisher()
	}
	return &attemptLifecycle{
		attempts:    attempts,
		answers:     answers,
		evaluations: evaluations,
		history:     history,
		events:      events,
		logger:      logger,
		now:         time.Now,
	}
}

// open returns the student's attempt for the evaluation, creating or
// activating it. Closed attempts are returned as they are.
func (l *attemptLifecycle) open(ctx context.Context, studentID, evaluationID uint) (models.Attempt, error) {
	attempt, _, err := l.attempts.GetOrCreate(ctx, studentID, evaluationID, l.now().UTC())
	if err != nil {
		return models.Attempt{}, fmt.Errorf("load attempt: %w", err)
	}

	if attempt.State == models.AttemptStatePending {
		now := l.now().UTC()
		attempt.State = models.AttemptStateActive
		if attempt.StartedAt == nil {
			attempt.StartedAt = &now
		}
		activated, err := l.attempts.Transition(ctx, &attempt, models.AttemptStateActive, models.AttemptStateFinalized, models.AttemptStateExpelled)
		if err != nil {
			return models.Attempt{}, fmt.Errorf("activate attempt: %w", err)
		}
		if !activated {
			if err := l.refresh(ctx, &attempt); err != nil {
				return models.Attempt{}, err
			}
		}
	}

	return attempt, nil
}

// save writes score and progress while the attempt is still open. When
// another request closed it first, the stored row replaces the caller's copy.
func (l *attemptLifecycle) save(ctx context.Context, attempt *models.Attempt) error {
	written, err := l.attempts.Transition(ctx, attempt, models.ClosedAttemptStates()...)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if !written {
		l.logger.Info().Uint("attempt_id", attempt.ID).Msg("attempt closed concurrently, keeping stored state")
		return l.refresh(ctx, attempt)
	}
	return nil
}

func (l *attemptLifecycle) refresh(ctx context.Context, attempt *models.Attempt) error {
	stored, err := l.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		return fmt.Errorf("reload attempt: %w", err)
	}
	*attempt = stored
	return nil
}

// recalculate refreshes score and progress from the stored answers.
func (l *attemptLifecycle) recalculate(ctx context.Context, attempt *models.Attempt) (attemptTally, error) {
	answers, err := l.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return attemptTally{}, fmt.Errorf("list answers: %w", err)
	}
	total, err := l.evaluations.CountExercises(ctx, attempt.EvaluationID)
	if err != nil {
		return attemptTally{}, fmt.Errorf("count exercises: %w", err)
	}

	tally := attemptTally{answered: len(answers), total: int(total)}
	for _, answer := range answers {
		tally.score += answer.Score
	}

	score := round2(tally.score)
	attempt.Score = &score
	attempt.Progress = progressPercent(tally.answered, tally.total)
	return tally, nil
}

// finalize closes the attempt, freezes its history and publishes the event.
// Finalizing an already finalized attempt only ensures the snapshot exists.
func (l *attemptLifecycle) finalize(ctx context.Context, attempt *models.Attempt, clientElapsed *int64, source string) (models.HistoryRecord, bool, error) {
	if attempt.State == models.AttemptStateExpelled {
		return models.HistoryRecord{}, false, ErrAttemptClosed
	}

	if !attempt.Finalized() {
		if _, err := l.recalculate(ctx, attempt); err != nil {
			return models.HistoryRecord{}, false, err
		}

		now := l.now().UTC()
		if attempt.FinishedAt == nil {
			attempt.FinishedAt = &now
		}
		attempt.ElapsedMs = resolveElapsed(clientElapsed, attempt.ElapsedMs, attempt.StartedAt, attempt.FinishedAt)
		attempt.State = models.AttemptStateFinalized

		written, err := l.attempts.Transition(ctx, attempt, models.ClosedAttemptStates()...)
		if err != nil {
			return models.HistoryRecord{}, false, fmt.Errorf("update attempt: %w", err)
		}
		if !written {
			if err := l.refresh(ctx, attempt); err != nil {
				return models.HistoryRecord{}, false, err
			}
			if attempt.State == models.AttemptStateExpelled {
				return models.HistoryRecord{}, false, ErrAttemptClosed
			}
		}
	}

	record, created, err := l.history.Freeze(ctx, attempt.ID)
	if err != nil {
		return models.HistoryRecord{}, false, err
	}

	if created {
		event := AttemptEvent{
			AttemptID:    attempt.ID,
			StudentID:    attempt.StudentID,
			EvaluationID: attempt.EvaluationID,
			HistoryID:    record.ID,
			Score:        attempt.TotalScore(),
			Source:       source,
			FinalizedAt:  l.now().UTC(),
		}
		if attempt.ElapsedMs != nil {
			event.ElapsedMs = *attempt.ElapsedMs
		}
		if err := l.events.PublishFinalized(ctx, event); err != nil {
			l.logger.Warn().Err(err).Uint("attempt_id", attempt.ID).Msg("failed to publish attempt finalized event")
		}
	}

	return record, created, nil
}

// resolveElapsed picks the elapsed time: client value, then stored value,
// then the difference between finish and start.
func resolveElapsed(client, stored *int64, startedAt, finishedAt *time.Time) *int64 {
	if client != nil && *client >= 0 {
		value := *client
		return &value
	}
	if stored != nil {
		value := *stored
		return &value
	}
	if startedAt != nil && finishedAt != nil {
		value := finishedAt.Sub(*startedAt).Milliseconds()
		if value < 0 {
			value = 0
		}
		return &value
	}
	return nil
}

func progressPercent(answered, total int) int {
	if total <= 0 {
		return 0
	}
	percent := answered * 100 / total
	if percent > 100 {
		return 100
	}
	return percent
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func clampScore(score, max float64) float64 {
	if score < 0 || math.IsNaN(score) {
		return 0
	}
	if score > max {
		return max
	}
	return score
}
