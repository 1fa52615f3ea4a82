package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
)

func storeAnswer(t *testing.T, f *gradingFixture, attemptID uint, exercise models.Exercise, score float64, correct bool) {
	t.Helper()
	answer := models.Answer{
		AttemptID:    attemptID,
		ExerciseID:   exercise.ID,
		Content:      models.NewJSONDocument(models.AnswerContent{Code: "print('hola')", LanguageID: 71}),
		CasesCorrect: 1,
		CasesTotal:   1,
		Correct:      &correct,
		Score:        score,
		LanguageID:   71,
		AnsweredAt:   time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC),
	}
	require.NoError(t, f.answers.Upsert(context.Background(), &answer))
}

func TestFinalizeIsIdempotent(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()

	_, err := f.grading.Submit(ctx, f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID, ExerciseID: f.subtraction.ID, Code: "print(a - b)"})
	require.NoError(t, err)

	elapsed := int64(120000)
	first, err := f.attemptSvc.Finalize(ctx, f.evaluation.ID, f.student.ID, dto.FinalizeRequest{ElapsedMs: &elapsed})
	require.NoError(t, err)
	require.True(t, first.HistoryCreated)
	require.NotZero(t, first.HistoryID)
	require.Equal(t, models.AttemptStateFinalized, first.Attempt.State)
	require.NotNil(t, first.Attempt.FinishedAt)
	require.Equal(t, elapsed, *first.Attempt.ElapsedMs)
	require.Equal(t, 2.0, first.Attempt.Score)

	other := int64(1)
	second, err := f.attemptSvc.Finalize(ctx, f.evaluation.ID, f.student.ID, dto.FinalizeRequest{ElapsedMs: &other})
	require.NoError(t, err)
	require.False(t, second.HistoryCreated)
	require.Equal(t, first.HistoryID, second.HistoryID)
	require.Equal(t, elapsed, *second.Attempt.ElapsedMs)

	require.EqualValues(t, 1, f.countHistory(t))
	require.Len(t, f.events.events, 1)
	require.Equal(t, "finalize", f.events.events[0].Source)
	require.Equal(t, first.HistoryID, f.events.events[0].HistoryID)
}

func TestFinalizeRequiresAttempt(t *testing.T) {
	f := newGradingFixture(t)

	_, err := f.attemptSvc.Finalize(context.Background(), f.evaluation.ID, f.student.ID, dto.FinalizeRequest{})
	require.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestExpelClosesAttempt(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()

	_, _, err := f.attempts.GetOrCreate(ctx, f.student.ID, f.evaluation.ID, time.Now().UTC())
	require.NoError(t, err)

	summary, err := f.attemptSvc.Expel(ctx, f.evaluation.ID, f.student.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStateExpelled, summary.State)
	require.NotNil(t, summary.FinishedAt)

	_, err = f.grading.Submit(ctx, f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID, ExerciseID: f.subtraction.ID, Code: "print(1)"})
	require.ErrorIs(t, err, ErrAttemptClosed)

	_, err = f.attemptSvc.Finalize(ctx, f.evaluation.ID, f.student.ID, dto.FinalizeRequest{})
	require.ErrorIs(t, err, ErrAttemptClosed)
	require.EqualValues(t, 0, f.countHistory(t))
}

func TestAttemptResults(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()

	attempt, _, err := f.attempts.GetOrCreate(ctx, f.student.ID, f.evaluation.ID, time.Now().UTC())
	require.NoError(t, err)
	storeAnswer(t, f, attempt.ID, f.subtraction, 2, true)
	storeAnswer(t, f, attempt.ID, f.harnessed, 1.5, false)

	score := 3.5
	attempt.Score = &score
	written, err := f.attempts.Transition(ctx, &attempt, models.ClosedAttemptStates()...)
	require.NoError(t, err)
	require.True(t, written)

	results, err := f.attemptSvc.Results(ctx, f.evaluation.ID, f.student.ID)
	require.NoError(t, err)
	require.Equal(t, 3.5, results.Score)
	require.Equal(t, 5.0, results.MaxScore)
	require.Equal(t, 7.0, results.ScoreOutOfTen)
	require.Equal(t, 70.0, results.Percentage)
	require.Len(t, results.Answers, 2)
	require.Equal(t, "Resta", results.Answers[0].ExerciseTitle)
	require.Equal(t, 3.0, results.Answers[1].MaxScore)
}
