package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/verification"
	"github.com/noah-isme/gema-grader/pkg/judge0"
)

// GradingService grades single exercises against the execution service.
type GradingService interface {
	GradeExercise(ctx context.Context, code string, exercise models.Exercise, attempt models.Attempt, languageID int) dto.AnswerResult
	Submit(ctx context.Context, studentID uint, payload dto.SubmitRequest) (dto.SubmitResponse, error)
	TestRun(ctx context.Context, payload dto.TestRunRequest) (dto.TestRunResponse, error)
}

// GradingConfig describes grading knobs.
type GradingConfig struct {
	DefaultLanguageID int
	Timeout           time.Duration
}

type gradingService struct {
	evaluations repository.EvaluationRepository
	exercises   repository.ExerciseRepository
	attempts    repository.AttemptRepository
	answers     repository.AnswerRepository
	selector    *verification.Selector
	executor    verification.Executor
	health      judge0.HealthChecker
	lifecycle   *attemptLifecycle
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	config      GradingConfig
	now         func() time.Time
}

// NewGradingService constructs the grading engine.
func NewGradingService(evaluationRepo repository.EvaluationRepository, exerciseRepo repository.ExerciseRepository, attemptRepo repository.AttemptRepository, answerRepo repository.AnswerRepository, executor verification.Executor, health judge0.HealthChecker, validate *validator.Validate, logger zerolog.Logger, cfg GradingConfig) GradingService {
	if cfg.DefaultLanguageID == 0 {
		cfg.DefaultLanguageID = judge0.LanguagePython
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	componentLogger := logger.With().Str("component", "grading_service").Logger()

	return &gradingService{
		evaluations: evaluationRepo,
		exercises:   exerciseRepo,
		attempts:    attemptRepo,
		answers:     answerRepo,
		selector:    verification.NewSelector(executor, cfg.DefaultLanguageID, componentLogger),
		executor:    executor,
		health:      health,
		lifecycle:   newAttemptLifecycle(attemptRepo, answerRepo, evaluationRepo, nil, nil, componentLogger),
		validator:   validate,
		logger:      componentLogger,
		tracer:      otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading"),
		config:      cfg,
		now:         time.Now,
	}
}

func (s *gradingService) GradeExercise(ctx context.Context, code string, exercise models.Exercise, attempt models.Attempt, languageID int) dto.AnswerResult {
	attrs := []attribute.KeyValue{
		attribute.Int("exercise.id", int(exercise.ID)),
		attribute.Int("attempt.id", int(attempt.ID)),
		attribute.Int("language.id", languageID),
	}
	spanCtx, span := s.tracer.Start(ctx, "grading.grade_exercise", trace.WithAttributes(attrs...))
	defer span.End()

	gradeCtx, cancel := context.WithTimeout(spanCtx, s.config.Timeout)
	defer cancel()

	payload := exercisePayload(exercise)
	strategy := s.selector.Select(payload)
	verdict, err := strategy.Verify(gradeCtx, verification.Input{Code: code, LanguageID: languageID, Payload: payload})

	var result dto.AnswerResult
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
		s.logger.Warn().Err(err).Uint("exercise_id", exercise.ID).Str("strategy", strategy.Name()).Msg("verification failed")
		result = failedAnswerResult(exercise, strategy.Name(), err.Error())
		observability.GradingOutcomes().WithLabelValues(strategy.Name(), "error").Inc()
		if transientFailure(err) {
			return result
		}
	} else {
		var mapErr error
		result, mapErr = newAnswerResult(exercise, verdict)
		if mapErr != nil {
			s.logger.Warn().Err(mapErr).Uint("exercise_id", exercise.ID).Msg("failed to map case verdicts")
		}
		observability.GradingOutcomes().WithLabelValues(strategy.Name(), outcomeLabel(result)).Inc()
	}

	current, err := s.attempts.GetByID(spanCtx, attempt.ID)
	if err != nil {
		s.logger.Warn().Err(err).Uint("attempt_id", attempt.ID).Msg("failed to reload attempt before saving answer")
	} else if current.Closed() {
		s.logger.Warn().Uint("attempt_id", attempt.ID).Str("state", current.State).Msg("attempt closed while grading, answer not saved")
		result.PersistenceWarning = "attempt closed before the answer could be saved"
		return result
	}

	answer, err := newAnswer(attempt.ID, code, languageID, result, s.now().UTC())
	if err != nil {
		s.logger.Warn().Err(err).Uint("exercise_id", exercise.ID).Msg("failed to map stored cases")
	}
	if err := s.answers.Upsert(spanCtx, &answer); err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Uint("attempt_id", attempt.ID).Uint("exercise_id", exercise.ID).Msg("failed to persist answer")
		result.PersistenceWarning = "answer could not be saved"
	}

	return result
}

func (s *gradingService) Submit(ctx context.Context, studentID uint, payload dto.SubmitRequest) (dto.SubmitResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.SubmitResponse{}, err
	}

	languageID, err := resolveLanguage(payload.LanguageID, s.config.DefaultLanguageID)
	if err != nil {
		return dto.SubmitResponse{}, err
	}

	if _, err := s.evaluations.GetByID(ctx, payload.EvaluationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmitResponse{}, ErrEvaluationNotFound
		}
		return dto.SubmitResponse{}, err
	}

	exercise, err := s.exercises.GetByID(ctx, payload.ExerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmitResponse{}, ErrExerciseNotFound
		}
		return dto.SubmitResponse{}, err
	}

	member, err := s.evaluations.HasExercise(ctx, payload.EvaluationID, payload.ExerciseID)
	if err != nil {
		return dto.SubmitResponse{}, err
	}
	if !member {
		return dto.SubmitResponse{}, ErrExerciseNotInEvaluation
	}

	attempt, err := s.lifecycle.open(ctx, studentID, payload.EvaluationID)
	if err != nil {
		return dto.SubmitResponse{}, err
	}
	if attempt.Closed() {
		return dto.SubmitResponse{}, ErrAttemptClosed
	}

	if healthy, message := s.health.Health(ctx); !healthy {
		s.logger.Warn().Str("reason", message).Msg("execution service unavailable")
		return dto.SubmitResponse{}, ErrServiceUnavailable
	}

	result := s.GradeExercise(ctx, payload.Code, exercise, attempt, languageID)

	if _, err := s.lifecycle.recalculate(ctx, &attempt); err != nil {
		s.logger.Error().Err(err).Uint("attempt_id", attempt.ID).Msg("failed to recalculate attempt")
	} else if err := s.lifecycle.save(ctx, &attempt); err != nil {
		s.logger.Error().Err(err).Uint("attempt_id", attempt.ID).Msg("failed to update attempt progress")
	}

	s.logger.Info().
		Uint("student_id", studentID).
		Uint("exercise_id", exercise.ID).
		Bool("correct", result.IsCorrect).
		Float64("score", result.Score).
		Msg("exercise graded")

	return dto.SubmitResponse{Result: result, Attempt: dto.NewAttemptSummary(attempt)}, nil
}

func (s *gradingService) TestRun(ctx context.Context, payload dto.TestRunRequest) (dto.TestRunResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.TestRunResponse{}, err
	}

	languageID, err := resolveLanguage(payload.LanguageID, s.config.DefaultLanguageID)
	if err != nil {
		return dto.TestRunResponse{}, err
	}

	exercise, err := s.exercises.GetByID(ctx, payload.ExerciseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.TestRunResponse{}, ErrExerciseNotFound
		}
		return dto.TestRunResponse{}, err
	}

	examples := exercise.Examples()
	if len(examples) == 0 {
		return dto.TestRunResponse{}, ErrNoExamples
	}

	if healthy, _ := s.health.Health(ctx); !healthy {
		return dto.TestRunResponse{}, ErrServiceUnavailable
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	example := examples[0]
	expected := strings.TrimSpace(example.Output)
	result, err := s.executor.Execute(runCtx, judge0.Submission{
		SourceCode:     payload.Code,
		LanguageID:     languageID,
		Stdin:          example.Input,
		ExpectedOutput: expected,
	})
	if err != nil {
		if errors.Is(err, judge0.ErrServiceUnavailable) {
			return dto.TestRunResponse{}, ErrServiceUnavailable
		}
		return dto.TestRunResponse{}, fmt.Errorf("run example: %w", err)
	}

	actual := strings.TrimSpace(result.Stdout)
	stderr := result.Stderr
	if result.CompilationError() && result.CompileOutput != "" {
		stderr = result.CompileOutput
	}

	return dto.TestRunResponse{
		Input:    example.Input,
		Expected: expected,
		Actual:   actual,
		Correct:  result.Accepted() || (!result.TimedOut() && actual == expected),
		Status:   result.Status.Description,
		Time:     result.Time,
		Stderr:   stderr,
	}, nil
}

func resolveLanguage(requested, fallback int) (int, error) {
	languageID := requested
	if languageID == 0 {
		languageID = fallback
	}
	if !judge0.SupportedLanguage(languageID) {
		return 0, ErrUnsupportedLanguage
	}
	return languageID, nil
}

func exercisePayload(exercise models.Exercise) verification.Payload {
	declared := exercise.Examples()
	examples := make([]verification.Example, 0, len(declared))
	for _, example := range declared {
		examples = append(examples, verification.Example(example))
	}
	return verification.Payload{Harness: exercise.Harness(), Examples: examples}
}

// newAnswerResult scales a verdict to the exercise score. A case mapping
// error leaves Cases empty and is returned alongside the usable result.
func newAnswerResult(exercise models.Exercise, verdict verification.Verdict) (dto.AnswerResult, error) {
	max := exercise.MaxScore()
	result := dto.AnswerResult{
		ExerciseID:    exercise.ID,
		Success:       true,
		IsCorrect:     verdict.IsCorrect,
		Strategy:      verdict.Strategy,
		CasesCorrect:  verdict.CasesCorrect,
		CasesTotal:    verdict.CasesTotal,
		ScoreFraction: verdict.ScoreFraction,
		Score:         round2(verdict.ScoreFraction * max),
		MaxScore:      max,
		Output:        verdict.RawOutput,
		Stderr:        verdict.Stderr,
		Message:       verdict.Message,
	}
	if len(verdict.Cases) > 0 {
		if err := copier.Copy(&result.Cases, &verdict.Cases); err != nil {
			result.Cases = nil
			return result, fmt.Errorf("copy case verdicts: %w", err)
		}
	}
	return result, nil
}

func failedAnswerResult(exercise models.Exercise, strategy, message string) dto.AnswerResult {
	return dto.AnswerResult{
		ExerciseID: exercise.ID,
		Success:    false,
		Strategy:   strategy,
		CasesTotal: 1,
		MaxScore:   exercise.MaxScore(),
		Message:    message,
	}
}

func newAnswer(attemptID uint, code string, languageID int, result dto.AnswerResult, answeredAt time.Time) (models.Answer, error) {
	correct := result.IsCorrect
	cases := make([]models.AnswerCase, 0, len(result.Cases))
	var mapErr error
	if len(result.Cases) > 0 {
		if err := copier.Copy(&cases, &result.Cases); err != nil {
			cases = cases[:0]
			mapErr = fmt.Errorf("copy answer cases: %w", err)
		}
	}

	return models.Answer{
		AttemptID:  attemptID,
		ExerciseID: result.ExerciseID,
		Content: models.NewJSONDocument(models.AnswerContent{
			Code:       code,
			Results:    result.Output,
			Stderr:     result.Stderr,
			LanguageID: languageID,
		}),
		Cases:        models.NewJSONDocument(cases),
		CasesCorrect: result.CasesCorrect,
		CasesTotal:   result.CasesTotal,
		Correct:      &correct,
		Score:        result.Score,
		LanguageID:   languageID,
		AnsweredAt:   answeredAt,
	}, mapErr
}

// transientFailure reports errors that must not overwrite a stored answer.
func transientFailure(err error) bool {
	return errors.Is(err, judge0.ErrServiceUnavailable) ||
		errors.Is(err, judge0.ErrPollExhausted) ||
		errors.Is(err, judge0.ErrNoToken) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func outcomeLabel(result dto.AnswerResult) string {
	switch {
	case result.IsCorrect:
		return "correct"
	case result.CasesCorrect > 0:
		return "partial"
	default:
		return "incorrect"
	}
}
