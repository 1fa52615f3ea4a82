package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/verification"
	"github.com/noah-isme/gema-grader/pkg/judge0"
)

// Batch states in the order they are reached.
const (
	BatchStateDispatched     = "Dispatched"
	BatchStateAwaitingTokens = "AwaitingTokens"
	BatchStatePolling        = "Polling"
	BatchStateReconciled     = "Reconciled"
	BatchStateAttemptUpdated = "AttemptUpdated"
	BatchStateFinalized      = "Finalized"
	BatchStateStillOpen      = "StillOpen"
)

// Batch failure kinds reported per exercise.
const (
	FailureNotInEvaluation     = "not_in_evaluation"
	FailureUnsupportedLanguage = "unsupported_language"
	FailureServiceUnavailable  = "service_unavailable"
	FailureBadRequest          = "bad_request"
	FailureNoToken             = "no_token"
	FailureTimeout             = "timeout"
	FailureMissingResult       = "missing_result"
)

// BatchJudge submits and polls batches on the execution service.
type BatchJudge interface {
	SubmitBatch(ctx context.Context, subs []judge0.Submission) ([]string, error)
	PollBatch(ctx context.Context, tokens []string, maxAttempts int) ([]judge0.Result, error)
}

// BatchService grades every exercise of an evaluation in one round trip.
type BatchService interface {
	SubmitBatch(ctx context.Context, studentID uint, payload dto.BatchRequest) (dto.BatchResponse, error)
}

// BatchConfig describes batch knobs.
type BatchConfig struct {
	DefaultLanguageID int
	PollAttempts      int
	Timeout           time.Duration
	UpsertConcurrency int
}

type batchService struct {
	evaluations repository.EvaluationRepository
	answers     repository.AnswerRepository
	judge       BatchJudge
	health      judge0.HealthChecker
	lifecycle   *attemptLifecycle
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	config      BatchConfig
	now         func() time.Time
}

type batchEntry struct {
	exercise   models.Exercise
	code       string
	languageID int
	result     dto.AnswerResult
	resolved   bool
}

// NewBatchService constructs the batch coordinator.
func NewBatchService(evaluationRepo repository.EvaluationRepository, attemptRepo repository.AttemptRepository, answerRepo repository.AnswerRepository, judge BatchJudge, health judge0.HealthChecker, history HistoryService, events AttemptEventPublisher, validate *validator.Validate, logger zerolog.Logger, cfg BatchConfig) BatchService {
	if cfg.DefaultLanguageID == 0 {
		cfg.DefaultLanguageID = judge0.LanguagePython
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.UpsertConcurrency <= 0 {
		cfg.UpsertConcurrency = 4
	}

	componentLogger := logger.With().Str("component", "batch_service").Logger()

	return &batchService{
		evaluations: evaluationRepo,
		answers:     answerRepo,
		judge:       judge,
		health:      health,
		lifecycle:   newAttemptLifecycle(attemptRepo, answerRepo, evaluationRepo, history, events, componentLogger),
		validator:   validate,
		logger:      componentLogger,
		tracer:      otel.Tracer("github.com/noah-isme/gema-grader/internal/service/batch"),
		config:      cfg,
		now:         time.Now,
	}
}

func (s *batchService) SubmitBatch(ctx context.Context, studentID uint, payload dto.BatchRequest) (dto.BatchResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.BatchResponse{}, err
	}

	batchID := strings.TrimSpace(payload.BatchID)
	if batchID == "" {
		batchID = uuid.NewString()
	}

	attrs := []attribute.KeyValue{
		attribute.String("batch.id", batchID),
		attribute.Int("evaluation.id", int(payload.EvaluationID)),
		attribute.Int("batch.size", len(payload.Items)),
	}
	spanCtx, span := s.tracer.Start(ctx, "grading.submit_batch", trace.WithAttributes(attrs...))
	defer span.End()

	logger := s.logger.With().Str("batch_id", batchID).Uint("student_id", studentID).Logger()

	if _, err := s.evaluations.GetByID(spanCtx, payload.EvaluationID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.BatchResponse{}, ErrEvaluationNotFound
		}
		span.RecordError(err)
		return dto.BatchResponse{}, err
	}

	attempt, err := s.lifecycle.open(spanCtx, studentID, payload.EvaluationID)
	if err != nil {
		span.RecordError(err)
		return dto.BatchResponse{}, err
	}
	switch {
	case attempt.State == models.AttemptStateExpelled:
		return dto.BatchResponse{}, ErrAttemptClosed
	case attempt.Finalized():
		return s.replay(spanCtx, batchID, attempt, logger)
	}

	links, err := s.evaluations.ListExercises(spanCtx, payload.EvaluationID)
	if err != nil {
		span.RecordError(err)
		return dto.BatchResponse{}, err
	}

	response := dto.BatchResponse{BatchID: batchID, State: BatchStateDispatched, Failures: []dto.BatchFailure{}}
	entries, dispatch, failures := s.plan(links, payload)
	response.Failures = append(response.Failures, failures...)

	if len(dispatch) > 0 {
		runCtx, cancel := context.WithTimeout(spanCtx, s.config.Timeout)
		incomplete, failures := s.execute(runCtx, dispatch, logger, &response.State)
		cancel()
		response.Incomplete = incomplete
		response.Failures = append(response.Failures, failures...)
	}
	response.State = BatchStateReconciled

	if err := s.lifecycle.refresh(spanCtx, &attempt); err != nil {
		span.RecordError(err)
		return dto.BatchResponse{}, err
	}
	switch {
	case attempt.State == models.AttemptStateExpelled:
		return dto.BatchResponse{}, ErrAttemptClosed
	case attempt.Finalized():
		logger.Warn().Uint("attempt_id", attempt.ID).Msg("attempt finalized while the batch ran, discarding results")
		return s.replay(spanCtx, batchID, attempt, logger)
	}

	s.persist(spanCtx, attempt.ID, entries, logger)

	if payload.ElapsedMs != nil {
		elapsed := *payload.ElapsedMs
		attempt.ElapsedMs = &elapsed
	}

	tally, err := s.lifecycle.recalculate(spanCtx, &attempt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt recalculation failed")
		return dto.BatchResponse{}, err
	}
	response.State = BatchStateAttemptUpdated

	if tally.complete() && !response.Incomplete {
		if _, _, err := s.lifecycle.finalize(spanCtx, &attempt, payload.ElapsedMs, "batch"); err != nil {
			span.RecordError(err)
			return dto.BatchResponse{}, err
		}
		response.State = BatchStateFinalized
	} else {
		if err := s.lifecycle.save(spanCtx, &attempt); err != nil {
			span.RecordError(err)
			return dto.BatchResponse{}, err
		}
		response.State = BatchStateStillOpen
		if attempt.Finalized() {
			response.State = BatchStateFinalized
		}
	}

	response.Results = make([]dto.AnswerResult, 0, len(entries))
	for _, entry := range entries {
		if entry.resolved {
			response.Results = append(response.Results, entry.result)
		}
	}
	response.Attempt = dto.NewAttemptSummary(attempt)

	observability.BatchStates().WithLabelValues(response.State).Inc()
	logger.Info().
		Str("state", response.State).
		Bool("incomplete", response.Incomplete).
		Int("results", len(response.Results)).
		Int("failures", len(response.Failures)).
		Msg("batch processed")

	return response, nil
}

// plan splits the request into entries resolved without the execution
// service and entries that must be dispatched.
func (s *batchService) plan(links []models.EvaluationExercise, payload dto.BatchRequest) ([]*batchEntry, []*batchEntry, []dto.BatchFailure) {
	exercises := make(map[uint]models.Exercise, len(links))
	for _, link := range links {
		exercises[link.ExerciseID] = link.Exercise
	}

	precomputed := make(map[uint]dto.PrecomputedResult, len(payload.Precomputed))
	for _, item := range payload.Precomputed {
		precomputed[item.ExerciseID] = item
	}

	last := make(map[uint]int, len(payload.Items))
	for i, item := range payload.Items {
		last[item.ExerciseID] = i
	}

	var (
		entries  []*batchEntry
		dispatch []*batchEntry
		failures []dto.BatchFailure
	)

	for i, item := range payload.Items {
		if last[item.ExerciseID] != i {
			continue
		}

		exercise, ok := exercises[item.ExerciseID]
		if !ok {
			failures = append(failures, dto.BatchFailure{ExerciseID: item.ExerciseID, Kind: FailureNotInEvaluation, Message: ErrExerciseNotInEvaluation.Error()})
			continue
		}

		languageID, err := resolveLanguage(item.LanguageID, s.config.DefaultLanguageID)
		if err != nil {
			failures = append(failures, dto.BatchFailure{ExerciseID: item.ExerciseID, Kind: FailureUnsupportedLanguage, Message: err.Error()})
			continue
		}

		entry := &batchEntry{exercise: exercise, code: item.Code, languageID: languageID}
		entries = append(entries, entry)

		if result, ok := precomputed[item.ExerciseID]; ok {
			entry.result = precomputedAnswerResult(exercise, result)
			entry.resolved = true
			continue
		}

		if strings.TrimSpace(item.Code) == "" {
			entry.result = emptyAnswerResult(exercise)
			entry.resolved = true
			continue
		}

		dispatch = append(dispatch, entry)
	}

	return entries, dispatch, failures
}

// execute submits and polls the dispatched entries, filling their results.
func (s *batchService) execute(ctx context.Context, dispatch []*batchEntry, logger zerolog.Logger, state *string) (bool, []dto.BatchFailure) {
	if healthy, message := s.health.Health(ctx); !healthy {
		logger.Warn().Str("reason", message).Msg("execution service unavailable for batch")
		return false, failAll(dispatch, FailureServiceUnavailable, ErrServiceUnavailable.Error())
	}

	ids := make([]uint, 0, len(dispatch))
	byExercise := make(map[uint]*batchEntry, len(dispatch))
	submissions := make([]judge0.Submission, 0, len(dispatch))
	for _, entry := range dispatch {
		ids = append(ids, entry.exercise.ID)
		byExercise[entry.exercise.ID] = entry
		submissions = append(submissions, judge0.Submission{
			SourceCode: s.program(entry),
			LanguageID: entry.languageID,
		})
	}

	tokens, err := s.judge.SubmitBatch(ctx, submissions)
	if err != nil {
		logger.Error().Err(err).Msg("batch submission failed")
		return false, failAll(dispatch, failureKind(err), err.Error())
	}
	*state = BatchStateAwaitingTokens

	tokenMap := NewTokenMap(ids, tokens)
	var failures []dto.BatchFailure
	for _, exerciseID := range tokenMap.Missing() {
		failures = append(failures, dto.BatchFailure{ExerciseID: exerciseID, Kind: FailureNoToken, Message: "no token received"})
	}
	if len(tokenMap.Tokens()) == 0 {
		return false, failures
	}

	*state = BatchStatePolling
	results, err := s.judge.PollBatch(ctx, tokenMap.Tokens(), s.config.PollAttempts)
	if err != nil {
		pending := make([]*batchEntry, 0, len(tokenMap.Tokens()))
		for _, token := range tokenMap.Tokens() {
			if exerciseID, ok := tokenMap.Lookup(token); ok {
				pending = append(pending, byExercise[exerciseID])
			}
		}
		if errors.Is(err, judge0.ErrPollExhausted) {
			logger.Warn().Int("pending", len(pending)).Msg("batch results not ready, reporting incomplete")
			return true, append(failures, failAll(pending, FailureTimeout, "Tiempo de espera agotado")...)
		}
		logger.Error().Err(err).Msg("batch polling failed")
		return false, append(failures, failAll(pending, failureKind(err), err.Error())...)
	}

	for position, result := range results {
		exerciseID, ok := tokenMap.Resolve(position, result)
		if !ok {
			logger.Warn().Str("token", result.Token).Msg("dropping result for unknown token")
			continue
		}
		entry := byExercise[exerciseID]
		if entry.resolved {
			continue
		}
		mapped, err := newAnswerResult(entry.exercise, reconcileBatch(entry.exercise, result))
		if err != nil {
			logger.Warn().Err(err).Uint("exercise_id", exerciseID).Msg("failed to map case verdicts")
		}
		entry.result = mapped
		entry.resolved = true
		observability.GradingOutcomes().WithLabelValues(entry.result.Strategy, outcomeLabel(entry.result)).Inc()
	}

	for _, token := range tokenMap.Tokens() {
		exerciseID, _ := tokenMap.Lookup(token)
		if entry := byExercise[exerciseID]; entry != nil && !entry.resolved {
			failures = append(failures, dto.BatchFailure{ExerciseID: exerciseID, Kind: FailureMissingResult, Message: "no result returned for token"})
		}
	}

	return false, failures
}

func (s *batchService) program(entry *batchEntry) string {
	harness, ok := verification.ResolveHarness(entry.exercise.Harness(), entry.languageID, s.config.DefaultLanguageID)
	if !ok {
		return entry.code
	}
	return verification.Compose(entry.code, verification.WithHelpers(harness, entry.languageID, entry.code))
}

// persist upserts every resolved entry and waits for all writes.
func (s *batchService) persist(ctx context.Context, attemptID uint, entries []*batchEntry, logger zerolog.Logger) {
	var group errgroup.Group
	group.SetLimit(s.config.UpsertConcurrency)

	answeredAt := s.now().UTC()
	for _, entry := range entries {
		if !entry.resolved {
			continue
		}
		entry := entry
		group.Go(func() error {
			answer, err := newAnswer(attemptID, entry.code, entry.languageID, entry.result, answeredAt)
			if err != nil {
				logger.Warn().Err(err).Uint("exercise_id", entry.exercise.ID).Msg("failed to map stored cases")
			}
			if err := s.answers.Upsert(ctx, &answer); err != nil {
				logger.Error().Err(err).Uint("exercise_id", entry.exercise.ID).Msg("failed to persist batch answer")
				entry.result.PersistenceWarning = "answer could not be saved"
			}
			return nil
		})
	}
	_ = group.Wait()
}

// replay answers a batch for an attempt that is already finalized.
func (s *batchService) replay(ctx context.Context, batchID string, attempt models.Attempt, logger zerolog.Logger) (dto.BatchResponse, error) {
	answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return dto.BatchResponse{}, err
	}

	if _, _, err := s.lifecycle.finalize(ctx, &attempt, nil, "batch"); err != nil {
		return dto.BatchResponse{}, err
	}

	results := make([]dto.AnswerResult, 0, len(answers))
	for _, answer := range answers {
		results = append(results, storedAnswerResult(answer))
	}

	observability.BatchStates().WithLabelValues(BatchStateFinalized).Inc()
	logger.Info().Uint("attempt_id", attempt.ID).Msg("batch replayed for finalized attempt")

	return dto.BatchResponse{
		BatchID:  batchID,
		State:    BatchStateFinalized,
		Replayed: true,
		Results:  results,
		Failures: []dto.BatchFailure{},
		Attempt:  dto.NewAttemptSummary(attempt),
	}, nil
}

// reconcileBatch scores a finished batch run. Harness programs are parsed,
// anything else is graded on its terminal status.
func reconcileBatch(exercise models.Exercise, result judge0.Result) verification.Verdict {
	if exercisePayload(exercise).HasHarness() {
		return verification.ScoreHarness(result)
	}
	return verification.Reconcile(result)
}

func precomputedAnswerResult(exercise models.Exercise, precomputed dto.PrecomputedResult) dto.AnswerResult {
	max := exercise.MaxScore()
	score := clampScore(precomputed.Score, max)
	total := precomputed.CasesTotal
	if total <= 0 {
		total = 1
	}
	correct := precomputed.CasesCorrect
	if correct > total {
		correct = total
	}
	return dto.AnswerResult{
		ExerciseID:    exercise.ID,
		Success:       true,
		IsCorrect:     precomputed.IsCorrect,
		Strategy:      "precomputed",
		CasesCorrect:  correct,
		CasesTotal:    total,
		ScoreFraction: score / max,
		Score:         round2(score),
		MaxScore:      max,
		Output:        precomputed.Output,
	}
}

func emptyAnswerResult(exercise models.Exercise) dto.AnswerResult {
	return dto.AnswerResult{
		ExerciseID: exercise.ID,
		Success:    true,
		Strategy:   "empty",
		CasesTotal: 1,
		MaxScore:   exercise.MaxScore(),
		Message:    "Sin respuesta",
	}
}

func storedAnswerResult(answer models.Answer) dto.AnswerResult {
	return dto.AnswerResult{
		ExerciseID:   answer.ExerciseID,
		Success:      true,
		IsCorrect:    answer.IsCorrect(),
		CasesCorrect: answer.CasesCorrect,
		CasesTotal:   answer.CasesTotal,
		Score:        answer.Score,
		MaxScore:     answer.Exercise.MaxScore(),
		Output:       answer.Content.Data.Results,
		Stderr:       answer.Content.Data.Stderr,
	}
}

func failAll(entries []*batchEntry, kind, message string) []dto.BatchFailure {
	failures := make([]dto.BatchFailure, 0, len(entries))
	for _, entry := range entries {
		failures = append(failures, dto.BatchFailure{ExerciseID: entry.exercise.ID, Kind: kind, Message: message})
	}
	return failures
}

func failureKind(err error) string {
	switch judge0.KindOf(err) {
	case judge0.KindBadRequest:
		return FailureBadRequest
	case judge0.KindNoToken:
		return FailureNoToken
	case judge0.KindTimeout:
		return FailureTimeout
	default:
		return FailureServiceUnavailable
	}
}
