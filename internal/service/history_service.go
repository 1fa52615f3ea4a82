package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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
)

// Score colour buckets on the 0-10 scale.
const (
	ColorExcellent = "excellent"
	ColorGood      = "good"
	ColorAverage   = "average"
	ColorPoor      = "poor"
)

// HistoryService freezes finalized attempts and serves the frozen records.
type HistoryService interface {
	Freeze(ctx context.Context, attemptID uint) (models.HistoryRecord, bool, error)
	ListForStudent(ctx context.Context, studentID uint) ([]dto.HistorySummary, error)
	Get(ctx context.Context, id uint, viewerID uint, role string) (dto.HistoryDetail, error)
	MarkEvaluationDeleted(ctx context.Context, evaluationID uint) (dto.EvaluationHistoryResponse, error)
}

type historyService struct {
	history     repository.HistoryRepository
	attempts    repository.AttemptRepository
	answers     repository.AnswerRepository
	evaluations repository.EvaluationRepository
	students    repository.StudentRepository
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewHistoryService constructs the history snapshotter.
func NewHistoryService(historyRepo repository.HistoryRepository, attemptRepo repository.AttemptRepository, answerRepo repository.AnswerRepository, evaluationRepo repository.EvaluationRepository, studentRepo repository.StudentRepository, logger zerolog.Logger) HistoryService {
	return &historyService{
		history:     historyRepo,
		attempts:    attemptRepo,
		answers:     answerRepo,
		evaluations: evaluationRepo,
		students:    studentRepo,
		logger:      logger.With().Str("component", "history_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-grader/internal/service/history"),
		now:         time.Now,
	}
}

func (s *historyService) Freeze(ctx context.Context, attemptID uint) (models.HistoryRecord, bool, error) {
	spanCtx, span := s.tracer.Start(ctx, "history.freeze", trace.WithAttributes(attribute.Int("attempt.id", int(attemptID))))
	defer span.End()

	attempt, err := s.attempts.GetByID(spanCtx, attemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.HistoryRecord{}, false, ErrAttemptNotFound
		}
		span.RecordError(err)
		return models.HistoryRecord{}, false, err
	}

	existing, err := s.history.GetByStudentEvaluation(spanCtx, attempt.StudentID, attempt.EvaluationID)
	if err == nil {
		observability.HistorySnapshots().WithLabelValues("existing").Inc()
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.RecordError(err)
		return models.HistoryRecord{}, false, err
	}

	record, err := s.buildSnapshot(spanCtx, attempt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot build failed")
		return models.HistoryRecord{}, false, err
	}

	created, err := s.history.CreateIfAbsent(spanCtx, &record)
	if err != nil {
		span.RecordError(err)
		observability.HistorySnapshots().WithLabelValues("error").Inc()
		return models.HistoryRecord{}, false, fmt.Errorf("store history: %w", err)
	}
	if !created {
		// A concurrent freeze won the unique index.
		winner, err := s.history.GetByStudentEvaluation(spanCtx, attempt.StudentID, attempt.EvaluationID)
		if err != nil {
			return models.HistoryRecord{}, false, err
		}
		observability.HistorySnapshots().WithLabelValues("existing").Inc()
		return winner, false, nil
	}

	observability.HistorySnapshots().WithLabelValues("created").Inc()
	s.logger.Info().
		Uint("attempt_id", attempt.ID).
		Uint("history_id", record.ID).
		Float64("score", record.TotalScore).
		Msg("attempt frozen into history")

	return record, true, nil
}

func (s *historyService) buildSnapshot(ctx context.Context, attempt models.Attempt) (models.HistoryRecord, error) {
	evaluation, err := s.evaluations.GetByID(ctx, attempt.EvaluationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.HistoryRecord{}, ErrEvaluationNotFound
		}
		return models.HistoryRecord{}, err
	}

	links, err := s.evaluations.ListExercises(ctx, attempt.EvaluationID)
	if err != nil {
		return models.HistoryRecord{}, fmt.Errorf("list exercises: %w", err)
	}

	answers, err := s.answers.ListByAttempt(ctx, attempt.ID)
	if err != nil {
		return models.HistoryRecord{}, fmt.Errorf("list answers: %w", err)
	}

	student, found, err := s.students.Profile(ctx, attempt.StudentID)
	if err != nil {
		return models.HistoryRecord{}, err
	}
	if !found {
		s.logger.Warn().Uint("student_id", attempt.StudentID).Msg("student profile missing while freezing history")
	}

	details := models.HistoryDetails{
		Answers:   make([]models.HistoryAnswer, 0, len(answers)),
		Exercises: make([]models.HistoryExercise, 0, len(links)),
	}

	maxByExercise := make(map[uint]float64, len(links))
	maxScore := 0.0
	for _, link := range links {
		exercise := link.Exercise
		maxByExercise[exercise.ID] = exercise.MaxScore()
		maxScore += exercise.MaxScore()
		details.Exercises = append(details.Exercises, models.HistoryExercise{
			ID:          exercise.ID,
			Title:       exercise.Title,
			Description: exercise.Description,
			Difficulty:  exercise.Difficulty,
			Score:       exercise.Score,
			Order:       link.Order,
			Examples:    exercise.Examples(),
		})
	}
	if maxScore == 0 && evaluation.TotalScore > 0 {
		maxScore = float64(evaluation.TotalScore)
	}

	correct := 0
	answerScore := 0.0
	for _, answer := range answers {
		if answer.IsCorrect() {
			correct++
		}
		answerScore += answer.Score
		details.Answers = append(details.Answers, models.HistoryAnswer{
			ExerciseID:    answer.ExerciseID,
			ExerciseTitle: answer.Exercise.Title,
			Code:          answer.Content.Data.Code,
			LanguageID:    answer.LanguageID,
			Correct:       answer.Correct,
			Score:         answer.Score,
			MaxScore:      maxByExercise[answer.ExerciseID],
			CasesCorrect:  answer.CasesCorrect,
			CasesTotal:    answer.CasesTotal,
			Output:        answer.Content.Data.Results,
			Stderr:        answer.Content.Data.Stderr,
			AnsweredAt:    answer.AnsweredAt.UTC().Format(time.RFC3339),
		})
	}

	total := round2(answerScore + attempt.ScoreAdjustment)
	stats := computeStats(total, maxScore)
	stats.TotalExercises = len(links)
	stats.CorrectExercises = correct
	details.Stats = stats

	details.Evaluation = models.HistoryEvaluation{
		Title:           evaluation.Title,
		Description:     evaluation.Description,
		CreatedAt:       evaluation.CreatedAt.UTC().Format(time.RFC3339),
		DurationMinutes: evaluation.DurationMinutes,
		AllowReview:     evaluation.AllowReview,
		ShowResult:      evaluation.ShowResult,
	}

	finishedAt := attempt.FinishedAt
	if finishedAt == nil {
		now := s.now().UTC()
		finishedAt = &now
	}
	elapsedMs := resolveElapsed(nil, attempt.ElapsedMs, attempt.StartedAt, finishedAt)
	var elapsedSeconds *int64
	if elapsedMs != nil {
		seconds := *elapsedMs / 1000
		elapsedSeconds = &seconds
	}

	return models.HistoryRecord{
		StudentID:             attempt.StudentID,
		StudentName:           student.DisplayName(),
		StudentEmail:          student.Email,
		EvaluationID:          evaluation.ID,
		EvaluationTitle:       evaluation.Title,
		EvaluationDescription: evaluation.Description,
		EvaluationTotalScore:  evaluation.TotalScore,
		EvaluationAccessCode:  evaluation.AccessCode,
		TeacherID:             evaluation.CreatorID,
		TeacherName:           evaluation.CreatorName,
		StartedAt:             attempt.StartedAt,
		FinishedAt:            finishedAt,
		StoredAt:              s.now().UTC(),
		TotalScore:            total,
		Percentage:            stats.Percentage,
		ElapsedSeconds:        elapsedSeconds,
		ElapsedMs:             elapsedMs,
		Details:               models.NewJSONDocument(details),
		EvaluationActive:      true,
	}, nil
}

func computeStats(total, max float64) models.HistoryStats {
	stats := models.HistoryStats{TotalScore: total, MaxScore: round2(max)}
	if max > 0 {
		stats.ScoreOutOfTen = round2(total / max * 10)
		stats.Percentage = round2(total / max * 100)
	}
	stats.ColorClass = colorClass(stats.ScoreOutOfTen)
	return stats
}

func colorClass(outOfTen float64) string {
	switch {
	case outOfTen >= 9:
		return ColorExcellent
	case outOfTen >= 7:
		return ColorGood
	case outOfTen >= 5:
		return ColorAverage
	default:
		return ColorPoor
	}
}

func (s *historyService) ListForStudent(ctx context.Context, studentID uint) ([]dto.HistorySummary, error) {
	records, err := s.history.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}

	summaries := make([]dto.HistorySummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, dto.NewHistorySummary(record))
	}
	return summaries, nil
}

func (s *historyService) Get(ctx context.Context, id uint, viewerID uint, role string) (dto.HistoryDetail, error) {
	record, err := s.history.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.HistoryDetail{}, ErrHistoryNotFound
		}
		return dto.HistoryDetail{}, err
	}

	if record.StudentID != viewerID && !isStaffRole(role) {
		return dto.HistoryDetail{}, ErrHistoryForbidden
	}

	return dto.NewHistoryDetail(record), nil
}

func (s *historyService) MarkEvaluationDeleted(ctx context.Context, evaluationID uint) (dto.EvaluationHistoryResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "history.mark_evaluation_deleted", trace.WithAttributes(attribute.Int("evaluation.id", int(evaluationID))))
	defer span.End()

	attempts, err := s.attempts.ListFinalizedByEvaluation(spanCtx, evaluationID)
	if err != nil {
		span.RecordError(err)
		return dto.EvaluationHistoryResponse{}, err
	}

	frozen := 0
	for _, attempt := range attempts {
		if _, created, err := s.Freeze(spanCtx, attempt.ID); err != nil {
			span.RecordError(err)
			return dto.EvaluationHistoryResponse{}, fmt.Errorf("freeze attempt %d: %w", attempt.ID, err)
		} else if created {
			frozen++
		}
	}

	updated, err := s.history.MarkEvaluationInactive(spanCtx, evaluationID)
	if err != nil {
		span.RecordError(err)
		return dto.EvaluationHistoryResponse{}, err
	}

	s.logger.Info().
		Uint("evaluation_id", evaluationID).
		Int("frozen", frozen).
		Int64("records_updated", updated).
		Msg("evaluation history retired")

	return dto.EvaluationHistoryResponse{EvaluationID: evaluationID, Frozen: frozen, RecordsUpdated: updated}, nil
}

func isStaffRole(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "teacher", "admin":
		return true
	default:
		return false
	}
}
