package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// AttemptService manages the lifecycle of a student's attempt.
type AttemptService interface {
	Finalize(ctx context.Context, evaluationID, studentID uint, payload dto.FinalizeRequest) (dto.FinalizeResponse, error)
	Expel(ctx context.Context, evaluationID, studentID uint) (dto.AttemptSummary, error)
	Results(ctx context.Context, evaluationID, studentID uint) (dto.ResultsResponse, error)
}

type attemptService struct {
	attempts    repository.AttemptRepository
	answers     repository.AnswerRepository
	evaluations repository.EvaluationRepository
	lifecycle   *attemptLifecycle
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAttemptService constructs the attempt service.
func NewAttemptService(attemptRepo repository.AttemptRepository, answerRepo repository.AnswerRepository, evaluationRepo repository.EvaluationRepository, history HistoryService, events AttemptEventPublisher, validate *validator.Validate, logger zerolog.Logger) AttemptService {
	componentLogger := logger.With().Str("component", "attempt_service").Logger()
	return &attemptService{
		attempts:    attemptRepo,
		answers:     answerRepo,
		evaluations: evaluationRepo,
		lifecycle:   newAttemptLifecycle(attemptRepo, answerRepo, evaluationRepo, history, events, componentLogger),
		validator:   validate,
		logger:      componentLogger,
		now:         time.Now,
	}
}

func (s *attemptService) Finalize(ctx context.Context, evaluationID, studentID uint, payload dto.FinalizeRequest) (dto.FinalizeResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.FinalizeResponse{}, err
	}

	attempt, err := s.load(ctx, evaluationID, studentID)
	if err != nil {
		return dto.FinalizeResponse{}, err
	}

	record, created, err := s.lifecycle.finalize(ctx, &attempt, payload.ElapsedMs, "finalize")
	if err != nil {
		return dto.FinalizeResponse{}, err
	}

	return dto.FinalizeResponse{
		Attempt:        dto.NewAttemptSummary(attempt),
		HistoryID:      record.ID,
		HistoryCreated: created,
	}, nil
}

func (s *attemptService) Expel(ctx context.Context, evaluationID, studentID uint) (dto.AttemptSummary, error) {
	attempt, err := s.load(ctx, evaluationID, studentID)
	if err != nil {
		return dto.AttemptSummary{}, err
	}
	if attempt.State == models.AttemptStateExpelled {
		return dto.NewAttemptSummary(attempt), nil
	}

	now := s.now().UTC()
	attempt.State = models.AttemptStateExpelled
	if attempt.FinishedAt == nil {
		attempt.FinishedAt = &now
	}
	written, err := s.attempts.Transition(ctx, &attempt, models.AttemptStateExpelled)
	if err != nil {
		return dto.AttemptSummary{}, err
	}
	if !written {
		if err := s.lifecycle.refresh(ctx, &attempt); err != nil {
			return dto.AttemptSummary{}, err
		}
		return dto.NewAttemptSummary(attempt), nil
	}

	s.logger.Info().Uint("evaluation_id", evaluationID).Uint("student_id", studentID).Msg("student expelled from evaluation")
	return dto.NewAttemptSummary(attempt), nil
}

func (s *attemptService) Results(ctx context.Context, evaluationID, studentID uint) (dto.ResultsResponse, error) {
	attempt, err := s.load(ctx, evaluationID, studentID)
	if err != nil {
		return dto.ResultsResponse{}, err
	}

	links, err := s.evaluations.ListExercises(ctx, evaluationID)
	if err != nil {
		return dto.ResultsResponse{}, err
	}
	answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return dto.ResultsResponse{}, err
	}

	maxScore := 0.0
	for _, link := range links {
		maxScore += link.Exercise.MaxScore()
	}

	details := make([]dto.AnswerDetail, 0, len(answers))
	for _, answer := range answers {
		details = append(details, dto.AnswerDetail{
			ExerciseID:    answer.ExerciseID,
			ExerciseTitle: answer.Exercise.Title,
			Code:          answer.Content.Data.Code,
			LanguageID:    answer.LanguageID,
			IsCorrect:     answer.Correct,
			Score:         answer.Score,
			MaxScore:      answer.Exercise.MaxScore(),
			CasesCorrect:  answer.CasesCorrect,
			CasesTotal:    answer.CasesTotal,
			AnsweredAt:    answer.AnsweredAt,
		})
	}

	stats := computeStats(round2(attempt.TotalScore()), maxScore)
	return dto.ResultsResponse{
		Attempt:       dto.NewAttemptSummary(attempt),
		Score:         stats.TotalScore,
		MaxScore:      stats.MaxScore,
		ScoreOutOfTen: stats.ScoreOutOfTen,
		Percentage:    stats.Percentage,
		Answers:       details,
	}, nil
}

func (s *attemptService) load(ctx context.Context, evaluationID, studentID uint) (models.Attempt, error) {
	attempt, err := s.attempts.Get(ctx, studentID, evaluationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Attempt{}, ErrAttemptNotFound
		}
		return models.Attempt{}, err
	}
	return attempt, nil
}
