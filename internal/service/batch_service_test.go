package service

import (
	"context"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/pkg/judge0"
)

func TestBatchEmptyCodeSkipsExecutionAndFinalizes(t *testing.T) {
	f := newGradingFixture(t)

	response, err := f.batch.SubmitBatch(context.Background(), f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: "   "},
			{ExerciseID: f.harnessed.ID, Code: ""},
		},
	})
	require.NoError(t, err)

	require.Empty(t, f.judge.submitted)
	require.Empty(t, f.judge.polled)
	require.NotEmpty(t, response.BatchID)
	require.Equal(t, BatchStateFinalized, response.State)
	require.Len(t, response.Results, 2)
	for _, result := range response.Results {
		require.False(t, result.IsCorrect)
		require.Zero(t, result.Score)
	}

	require.Equal(t, models.AttemptStateFinalized, response.Attempt.State)
	require.EqualValues(t, 2, f.countAnswers(t))
	require.EqualValues(t, 1, f.countHistory(t))
	require.Len(t, f.events.events, 1)
	require.Equal(t, "batch", f.events.events[0].Source)
}

func TestBatchReconcilesResultsByToken(t *testing.T) {
	f := newGradingFixture(t)
	f.judge.tokens = []string{"tok-a", "tok-b"}
	f.judge.pollResults = []judge0.Result{
		{Token: "tok-b", Status: judge0.Status{ID: judge0.StatusAccepted}, Stdout: "✓ CORRECTO\n✗ INCORRECTO\nResultado: 1/2 pruebas pasadas\n"},
		{Token: "tok-a", Status: judge0.Status{ID: judge0.StatusAccepted}, Stdout: "2\n"},
	}
	elapsed := int64(60000)

	response, err := f.batch.SubmitBatch(context.Background(), f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		BatchID:      "batch-1",
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: "print(2)"},
			{ExerciseID: f.harnessed.ID, Code: "def factorial(n):\n    return n"},
		},
		ElapsedMs: &elapsed,
	})
	require.NoError(t, err)

	require.Equal(t, "batch-1", response.BatchID)
	require.Equal(t, BatchStateFinalized, response.State)
	require.False(t, response.Incomplete)
	require.Empty(t, response.Failures)
	require.Len(t, response.Results, 2)

	require.Equal(t, f.subtraction.ID, response.Results[0].ExerciseID)
	require.True(t, response.Results[0].IsCorrect)
	require.Equal(t, 2.0, response.Results[0].Score)

	require.Equal(t, f.harnessed.ID, response.Results[1].ExerciseID)
	require.False(t, response.Results[1].IsCorrect)
	require.Equal(t, 1.5, response.Results[1].Score)

	require.Len(t, f.judge.submitted, 1)
	submitted := f.judge.submitted[0]
	require.Len(t, submitted, 2)
	require.Equal(t, "print(2)", submitted[0].SourceCode)
	require.Contains(t, submitted[1].SourceCode, "def ejecutar_tests_avanzados")
	require.Equal(t, []string{"tok-a", "tok-b"}, f.judge.polled[0])

	require.Equal(t, 3.5, response.Attempt.Score)
	require.Equal(t, 100, response.Attempt.Progress)
	require.NotNil(t, response.Attempt.ElapsedMs)
	require.Equal(t, elapsed, *response.Attempt.ElapsedMs)

	record, err := f.historyRepo.GetByStudentEvaluation(context.Background(), f.student.ID, f.evaluation.ID)
	require.NoError(t, err)
	require.Equal(t, 3.5, record.TotalScore)
	require.Equal(t, elapsed, *record.ElapsedMs)
}

func TestBatchReconcileRules(t *testing.T) {
	f := newGradingFixture(t)
	f.judge.tokens = []string{"t1"}
	f.judge.pollResults = []judge0.Result{
		{Token: "t1", Status: judge0.Status{ID: judge0.StatusCompilationError, Description: "Compilation Error"}, CompileOutput: "SyntaxError: invalid syntax"},
	}

	response, err := f.batch.SubmitBatch(context.Background(), f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: "print(a - b)"},
			{ExerciseID: f.harnessed.ID, Code: "def factorial(n) return"},
			{ExerciseID: 999, Code: "print(1)"},
		},
		Precomputed: []dto.PrecomputedResult{
			{ExerciseID: f.subtraction.ID, IsCorrect: true, Score: 50, CasesCorrect: 2, CasesTotal: 2},
		},
	})
	require.NoError(t, err)

	require.Len(t, f.judge.submitted, 1)
	require.Len(t, f.judge.submitted[0], 1)

	require.Len(t, response.Failures, 1)
	require.Equal(t, uint(999), response.Failures[0].ExerciseID)
	require.Equal(t, FailureNotInEvaluation, response.Failures[0].Kind)

	require.Len(t, response.Results, 2)
	precomputed := response.Results[0]
	require.Equal(t, "precomputed", precomputed.Strategy)
	require.Equal(t, 2.0, precomputed.Score)

	compiled := response.Results[1]
	require.Zero(t, compiled.Score)
	require.Equal(t, "Error de compilación", compiled.Message)
	require.Equal(t, "SyntaxError: invalid syntax", compiled.Stderr)

	require.Equal(t, BatchStateFinalized, response.State)
	require.Equal(t, 2.0, response.Attempt.Score)
}

func TestReconcileBatchMissingInputAndRuntimeErrors(t *testing.T) {
	f := newGradingFixture(t)
	plain := models.Exercise{ID: 77, Score: 5}

	eof := judge0.Result{Status: judge0.Status{ID: 11}, Stderr: "Traceback\nEOFError: EOF when reading a line"}
	verdict := reconcileBatch(plain, eof)
	require.True(t, verdict.IsCorrect)
	require.Equal(t, "Código verificado (sin entrada)", verdict.Message)

	crash := judge0.Result{Status: judge0.Status{ID: 11}, Stderr: "ZeroDivisionError"}
	verdict = reconcileBatch(plain, crash)
	require.False(t, verdict.IsCorrect)
	require.Equal(t, "Error de ejecución", verdict.Message)

	wrong := judge0.Result{Status: judge0.Status{ID: judge0.StatusWrongAnswer}}
	require.False(t, reconcileBatch(plain, wrong).IsCorrect)

	require.True(t, reconcileBatch(f.harnessed, eof).IsCorrect)
}

func TestBatchPollExhaustionIsIncomplete(t *testing.T) {
	f := newGradingFixture(t)
	f.judge.tokens = []string{"t1", "t2"}
	f.judge.pollErr = judge0.ErrPollExhausted

	response, err := f.batch.SubmitBatch(context.Background(), f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: "print(a - b)"},
			{ExerciseID: f.harnessed.ID, Code: "def factorial(n): return 1"},
		},
	})
	require.NoError(t, err)

	require.True(t, response.Incomplete)
	require.Equal(t, BatchStateStillOpen, response.State)
	require.Empty(t, response.Results)
	require.Len(t, response.Failures, 2)
	for _, failure := range response.Failures {
		require.Equal(t, FailureTimeout, failure.Kind)
	}
	require.EqualValues(t, 0, f.countAnswers(t))
	require.EqualValues(t, 0, f.countHistory(t))
	require.Equal(t, models.AttemptStateActive, response.Attempt.State)
}

func TestBatchSubmitFailureIsReportedPerItem(t *testing.T) {
	f := newGradingFixture(t)
	f.judge.submitErr = judge0.ErrServiceUnavailable

	response, err := f.batch.SubmitBatch(context.Background(), f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: "print(a - b)"},
			{ExerciseID: f.harnessed.ID, Code: ""},
		},
	})
	require.NoError(t, err)

	require.Len(t, response.Failures, 1)
	require.Equal(t, FailureServiceUnavailable, response.Failures[0].Kind)
	require.Equal(t, f.subtraction.ID, response.Failures[0].ExerciseID)
	require.Len(t, response.Results, 1)
	require.EqualValues(t, 1, f.countAnswers(t))
	require.Equal(t, BatchStateStillOpen, response.State)
	require.Equal(t, 50, response.Attempt.Progress)
}

func TestBatchMissingTokenIsReported(t *testing.T) {
	f := newGradingFixture(t)
	f.judge.tokens = []string{"", "t2"}
	f.judge.pollResults = []judge0.Result{{Status: judge0.Status{ID: judge0.StatusAccepted}, Stdout: "Resultado: 4/4 pruebas pasadas"}}

	response, err := f.batch.SubmitBatch(context.Background(), f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: "print(a - b)"},
			{ExerciseID: f.harnessed.ID, Code: "def factorial(n): return 1"},
		},
	})
	require.NoError(t, err)

	require.Len(t, response.Failures, 1)
	require.Equal(t, FailureNoToken, response.Failures[0].Kind)
	require.Equal(t, f.subtraction.ID, response.Failures[0].ExerciseID)

	require.Len(t, response.Results, 1)
	require.Equal(t, f.harnessed.ID, response.Results[0].ExerciseID)
	require.Equal(t, 3.0, response.Results[0].Score)
	require.Equal(t, []string{"t2"}, f.judge.polled[0])
}

func TestBatchReplaysFinalizedAttempt(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()

	first, err := f.batch.SubmitBatch(ctx, f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: ""},
			{ExerciseID: f.harnessed.ID, Code: ""},
		},
	})
	require.NoError(t, err)
	require.Equal(t, BatchStateFinalized, first.State)

	f.judge.tokens = []string{"t1", "t2"}
	replay, err := f.batch.SubmitBatch(ctx, f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: "print(a - b)"},
			{ExerciseID: f.harnessed.ID, Code: "def factorial(n): return 1"},
		},
	})
	require.NoError(t, err)

	require.True(t, replay.Replayed)
	require.Equal(t, BatchStateFinalized, replay.State)
	require.Len(t, replay.Results, 2)
	require.Empty(t, f.judge.submitted)
	require.EqualValues(t, 1, f.countHistory(t))
	require.Len(t, f.events.events, 1)
	require.Equal(t, first.Attempt.Score, replay.Attempt.Score)
}

func TestBatchReturnsResultsWhenAnswersCannotBeSaved(t *testing.T) {
	f := newGradingFixture(t)
	answers := failingAnswers{AnswerRepository: f.answers, err: errors.New("disk I/O error")}
	batch := NewBatchService(f.evaluations, f.attempts, answers, f.judge, f.judge, f.history, f.events, validator.New(), zerolog.Nop(), BatchConfig{PollAttempts: 5, UpsertConcurrency: 2})

	f.judge.tokens = []string{"tok-a", "tok-b"}
	f.judge.pollResults = []judge0.Result{
		{Token: "tok-a", Status: judge0.Status{ID: judge0.StatusAccepted}, Stdout: "2\n"},
		{Token: "tok-b", Status: judge0.Status{ID: judge0.StatusAccepted}, Stdout: "Resultado: 3/3 pruebas pasadas\n"},
	}

	response, err := batch.SubmitBatch(context.Background(), f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: "print(2)"},
			{ExerciseID: f.harnessed.ID, Code: "def factorial(n): return 1"},
		},
	})
	require.NoError(t, err)

	require.Len(t, response.Results, 2)
	for _, result := range response.Results {
		require.True(t, result.IsCorrect)
		require.Equal(t, "answer could not be saved", result.PersistenceWarning)
	}
	require.Equal(t, 3.0, response.Results[1].Score)

	require.Equal(t, BatchStateStillOpen, response.State)
	require.Equal(t, models.AttemptStateActive, response.Attempt.State)
	require.EqualValues(t, 0, f.countAnswers(t))
	require.EqualValues(t, 0, f.countHistory(t))
}

func TestBatchDiscardsResultsWhenAttemptFinalizedDuringPolling(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()

	var finalizeErr error
	f.judge.tokens = []string{"tok-a", "tok-b"}
	f.judge.pollResults = []judge0.Result{
		{Token: "tok-a", Status: judge0.Status{ID: judge0.StatusAccepted}, Stdout: "2\n"},
		{Token: "tok-b", Status: judge0.Status{ID: judge0.StatusAccepted}, Stdout: "Resultado: 3/3 pruebas pasadas\n"},
	}
	f.judge.onPoll = func() {
		_, finalizeErr = f.attemptSvc.Finalize(ctx, f.evaluation.ID, f.student.ID, dto.FinalizeRequest{})
	}

	response, err := f.batch.SubmitBatch(ctx, f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items: []dto.BatchItem{
			{ExerciseID: f.subtraction.ID, Code: "print(2)"},
			{ExerciseID: f.harnessed.ID, Code: "def factorial(n): return 1"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, finalizeErr)

	require.True(t, response.Replayed)
	require.Equal(t, BatchStateFinalized, response.State)
	require.Equal(t, models.AttemptStateFinalized, response.Attempt.State)
	require.Zero(t, response.Attempt.Score)
	require.EqualValues(t, 0, f.countAnswers(t))
	require.EqualValues(t, 1, f.countHistory(t))
	require.Len(t, f.events.events, 1)
	require.Equal(t, "finalize", f.events.events[0].Source)
}

func TestBatchRejectsExpelledAttempt(t *testing.T) {
	f := newGradingFixture(t)
	require.NoError(t, f.db.Create(&models.Attempt{StudentID: f.student.ID, EvaluationID: f.evaluation.ID, State: models.AttemptStateExpelled}).Error)

	_, err := f.batch.SubmitBatch(context.Background(), f.student.ID, dto.BatchRequest{
		EvaluationID: f.evaluation.ID,
		Items:        []dto.BatchItem{{ExerciseID: f.subtraction.ID, Code: "print(1)"}},
	})
	require.ErrorIs(t, err, ErrAttemptClosed)
}

func TestBatchUnknownEvaluation(t *testing.T) {
	f := newGradingFixture(t)

	_, err := f.batch.SubmitBatch(context.Background(), f.student.ID, dto.BatchRequest{
		EvaluationID: 404,
		Items:        []dto.BatchItem{{ExerciseID: f.subtraction.ID, Code: "print(1)"}},
	})
	require.ErrorIs(t, err, ErrEvaluationNotFound)
}

func TestTokenMapPairsByPosition(t *testing.T) {
	tokens := NewTokenMap([]uint{10, 20, 30}, []string{"a", "", "c"})

	require.Equal(t, []string{"a", "c"}, tokens.Tokens())
	require.Equal(t, []uint{20}, tokens.Missing())

	id, ok := tokens.Resolve(0, judge0.Result{Token: "c"})
	require.True(t, ok)
	require.Equal(t, uint(30), id)

	id, ok = tokens.Resolve(1, judge0.Result{})
	require.True(t, ok)
	require.Equal(t, uint(30), id)

	_, ok = tokens.Resolve(0, judge0.Result{Token: "zzz"})
	require.False(t, ok)

	_, ok = tokens.Resolve(5, judge0.Result{})
	require.False(t, ok)

	short := NewTokenMap([]uint{1, 2}, []string{"only"})
	require.Equal(t, []uint{2}, short.Missing())
}
