package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/verification"
	"github.com/noah-isme/gema-grader/pkg/judge0"
)

func TestGradingSubmitScoresExamplesAndTracksProgress(t *testing.T) {
	f := newGradingFixture(t)

	response, err := f.grading.Submit(context.Background(), f.student.ID, dto.SubmitRequest{
		EvaluationID: f.evaluation.ID,
		ExerciseID:   f.subtraction.ID,
		Code:         "a, b = map(int, input().split())\nprint(a - b)",
	})
	require.NoError(t, err)

	result := response.Result
	require.True(t, result.Success)
	require.True(t, result.IsCorrect)
	require.Equal(t, "examples", result.Strategy)
	require.Equal(t, 2, result.CasesCorrect)
	require.Equal(t, 2, result.CasesTotal)
	require.Equal(t, 2.0, result.Score)
	require.Len(t, result.Cases, 2)
	require.Equal(t, "2", result.Cases[0].Actual)
	require.Empty(t, result.PersistenceWarning)

	require.Equal(t, models.AttemptStateActive, response.Attempt.State)
	require.Equal(t, 50, response.Attempt.Progress)
	require.Equal(t, 2.0, response.Attempt.Score)

	require.Len(t, f.judge.executed, 2)
	require.Equal(t, judge0.LanguagePython, f.judge.executed[0].LanguageID)
	require.Equal(t, "5 3", f.judge.executed[0].Stdin)

	attempt, err := f.attempts.Get(context.Background(), f.student.ID, f.evaluation.ID)
	require.NoError(t, err)
	answer, err := f.answers.Get(context.Background(), attempt.ID, f.subtraction.ID)
	require.NoError(t, err)
	require.True(t, answer.IsCorrect())
	require.Len(t, answer.Cases.Data, 2)
	require.Equal(t, "10 4", answer.Cases.Data[1].Input)
}

func TestGradingSubmitOverwritesPreviousAnswer(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()

	f.judge.execute = func(sub judge0.Submission) (judge0.Result, error) {
		return judge0.Result{Status: judge0.Status{ID: judge0.StatusWrongAnswer, Description: "Wrong Answer"}, Stdout: "0\n"}, nil
	}
	first, err := f.grading.Submit(ctx, f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID, ExerciseID: f.subtraction.ID, Code: "print(0)"})
	require.NoError(t, err)
	require.False(t, first.Result.IsCorrect)
	require.Zero(t, first.Result.Score)

	f.judge.execute = subtractProgram
	second, err := f.grading.Submit(ctx, f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID, ExerciseID: f.subtraction.ID, Code: "print(a - b)"})
	require.NoError(t, err)
	require.True(t, second.Result.IsCorrect)

	require.EqualValues(t, 1, f.countAnswers(t))
	attempt, err := f.attempts.Get(ctx, f.student.ID, f.evaluation.ID)
	require.NoError(t, err)
	answer, err := f.answers.Get(ctx, attempt.ID, f.subtraction.ID)
	require.NoError(t, err)
	require.Equal(t, 2.0, answer.Score)
	require.Equal(t, "print(a - b)", answer.Content.Data.Code)
}

func TestGradingSubmitPartialCredit(t *testing.T) {
	f := newGradingFixture(t)
	f.judge.execute = func(sub judge0.Submission) (judge0.Result, error) {
		if sub.Stdin == "5 3" {
			return acceptedResult("2\n"), nil
		}
		return judge0.Result{Status: judge0.Status{ID: judge0.StatusWrongAnswer, Description: "Wrong Answer"}, Stdout: "7\n"}, nil
	}

	response, err := f.grading.Submit(context.Background(), f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID, ExerciseID: f.subtraction.ID, Code: "print(2)"})
	require.NoError(t, err)
	require.False(t, response.Result.IsCorrect)
	require.Equal(t, 1, response.Result.CasesCorrect)
	require.Equal(t, 0.5, response.Result.ScoreFraction)
	require.Equal(t, 1.0, response.Result.Score)
}

func TestGradingSubmitRejections(t *testing.T) {
	t.Run("closed attempt", func(t *testing.T) {
		f := newGradingFixture(t)
		require.NoError(t, f.db.Create(&models.Attempt{StudentID: f.student.ID, EvaluationID: f.evaluation.ID, State: models.AttemptStateFinalized}).Error)

		_, err := f.grading.Submit(context.Background(), f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID, ExerciseID: f.subtraction.ID, Code: "print(1)"})
		require.ErrorIs(t, err, ErrAttemptClosed)
		require.Empty(t, f.judge.executed)
	})

	t.Run("service unavailable", func(t *testing.T) {
		f := newGradingFixture(t)
		f.judge.unhealthy = true

		_, err := f.grading.Submit(context.Background(), f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID, ExerciseID: f.subtraction.ID, Code: "print(1)"})
		require.ErrorIs(t, err, ErrServiceUnavailable)
		require.EqualValues(t, 0, f.countAnswers(t))
	})

	t.Run("foreign exercise", func(t *testing.T) {
		f := newGradingFixture(t)
		other := models.Exercise{Title: "Suelto", Score: 1}
		require.NoError(t, f.db.Create(&other).Error)

		_, err := f.grading.Submit(context.Background(), f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID, ExerciseID: other.ID, Code: "print(1)"})
		require.ErrorIs(t, err, ErrExerciseNotInEvaluation)
	})

	t.Run("unknown evaluation", func(t *testing.T) {
		f := newGradingFixture(t)
		_, err := f.grading.Submit(context.Background(), f.student.ID, dto.SubmitRequest{EvaluationID: 404, ExerciseID: f.subtraction.ID, Code: "print(1)"})
		require.ErrorIs(t, err, ErrEvaluationNotFound)
	})

	t.Run("unsupported language", func(t *testing.T) {
		f := newGradingFixture(t)
		_, err := f.grading.Submit(context.Background(), f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID, ExerciseID: f.subtraction.ID, Code: "x", LanguageID: 9999})
		require.ErrorIs(t, err, ErrUnsupportedLanguage)
	})

	t.Run("validation", func(t *testing.T) {
		f := newGradingFixture(t)
		_, err := f.grading.Submit(context.Background(), f.student.ID, dto.SubmitRequest{EvaluationID: f.evaluation.ID})
		require.Error(t, err)
	})
}

func TestGradeExerciseHarnessMissingInputEarnsFullScore(t *testing.T) {
	f := newGradingFixture(t)
	attempt, _, err := f.attempts.GetOrCreate(context.Background(), f.student.ID, f.evaluation.ID, f.evaluation.CreatedAt)
	require.NoError(t, err)

	// The harness runs with empty stdin, so the subtraction program fails on input().
	result := f.grading.GradeExercise(context.Background(), "n = int(input())", f.harnessed, attempt, judge0.LanguagePython)
	require.True(t, result.Success)
	require.True(t, result.IsCorrect)
	require.Equal(t, 3.0, result.Score)
	require.Equal(t, "Código verificado (sin entrada)", result.Message)

	require.Len(t, f.judge.executed, 1)
	require.Contains(t, f.judge.executed[0].SourceCode, "def ejecutar_tests_avanzados")
	require.Contains(t, f.judge.executed[0].SourceCode, "ejecutar_tests_avanzados(factorial, casos)")
}

func TestGradeExerciseHarnessSummary(t *testing.T) {
	f := newGradingFixture(t)
	attempt, _, err := f.attempts.GetOrCreate(context.Background(), f.student.ID, f.evaluation.ID, f.evaluation.CreatedAt)
	require.NoError(t, err)

	f.judge.execute = func(sub judge0.Submission) (judge0.Result, error) {
		return acceptedResult("✓ CORRECTO\n✗ INCORRECTO\n\nResultado: 2/3 pruebas pasadas\n"), nil
	}

	result := f.grading.GradeExercise(context.Background(), "def factorial(n): return 1", f.harnessed, attempt, judge0.LanguagePython)
	require.False(t, result.IsCorrect)
	require.Equal(t, 2, result.CasesCorrect)
	require.Equal(t, 3, result.CasesTotal)
	require.Equal(t, 2.0, result.Score)
}

func TestGradeExerciseTransientFailureKeepsStoredAnswer(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()
	attempt, _, err := f.attempts.GetOrCreate(ctx, f.student.ID, f.evaluation.ID, f.evaluation.CreatedAt)
	require.NoError(t, err)

	first := f.grading.GradeExercise(ctx, "print(a - b)", f.subtraction, attempt, judge0.LanguagePython)
	require.True(t, first.IsCorrect)

	f.judge.execute = func(sub judge0.Submission) (judge0.Result, error) {
		return judge0.Result{}, judge0.ErrServiceUnavailable
	}
	second := f.grading.GradeExercise(ctx, "print(a - b)", f.subtraction, attempt, judge0.LanguagePython)
	require.False(t, second.Success)
	require.Equal(t, 1, second.CasesTotal)
	require.Zero(t, second.Score)
	require.NotEmpty(t, second.Message)

	answer, err := f.answers.Get(ctx, attempt.ID, f.subtraction.ID)
	require.NoError(t, err)
	require.Equal(t, 2.0, answer.Score)
}

func TestGradeExerciseCompileOnlyMissingInput(t *testing.T) {
	f := newGradingFixture(t)
	plain := models.Exercise{Title: "Libre", Score: 4}
	require.NoError(t, f.db.Create(&plain).Error)
	attempt, _, err := f.attempts.GetOrCreate(context.Background(), f.student.ID, f.evaluation.ID, f.evaluation.CreatedAt)
	require.NoError(t, err)

	result := f.grading.GradeExercise(context.Background(), "x = input()", plain, attempt, judge0.LanguagePython)
	require.Equal(t, "compile_only", result.Strategy)
	require.True(t, result.IsCorrect)
	require.Equal(t, 4.0, result.Score)
}

func TestGradingTestRun(t *testing.T) {
	f := newGradingFixture(t)

	response, err := f.grading.TestRun(context.Background(), dto.TestRunRequest{ExerciseID: f.subtraction.ID, Code: "print(a - b)"})
	require.NoError(t, err)
	require.True(t, response.Correct)
	require.Equal(t, "5 3", response.Input)
	require.Equal(t, "2", response.Expected)
	require.Equal(t, "2", response.Actual)
	require.EqualValues(t, 0, f.countAnswers(t))

	_, err = f.grading.TestRun(context.Background(), dto.TestRunRequest{ExerciseID: f.harnessed.ID, Code: "print(1)"})
	require.ErrorIs(t, err, ErrNoExamples)

	_, err = f.grading.TestRun(context.Background(), dto.TestRunRequest{ExerciseID: 404, Code: "print(1)"})
	require.ErrorIs(t, err, ErrExerciseNotFound)
}

func TestGradingSubmitReturnsVerdictWhenAnswerCannotBeSaved(t *testing.T) {
	f := newGradingFixture(t)
	answers := failingAnswers{AnswerRepository: f.answers, err: errors.New("disk I/O error")}
	grading := NewGradingService(f.evaluations, f.exercises, f.attempts, answers, f.judge, f.judge, validator.New(), zerolog.Nop(), GradingConfig{})

	response, err := grading.Submit(context.Background(), f.student.ID, dto.SubmitRequest{
		EvaluationID: f.evaluation.ID,
		ExerciseID:   f.subtraction.ID,
		Code:         "print(a - b)",
	})
	require.NoError(t, err)
	require.True(t, response.Result.Success)
	require.True(t, response.Result.IsCorrect)
	require.Equal(t, 2.0, response.Result.Score)
	require.Equal(t, "answer could not be saved", response.Result.PersistenceWarning)

	require.EqualValues(t, 0, f.countAnswers(t))
	require.Zero(t, response.Attempt.Score)
	require.Equal(t, models.AttemptStateActive, response.Attempt.State)
}

func TestGradingSubmitKeepsAttemptFinalizedDuringGrading(t *testing.T) {
	f := newGradingFixture(t)
	ctx := context.Background()

	attempt, _, err := f.attempts.GetOrCreate(ctx, f.student.ID, f.evaluation.ID, time.Now().UTC())
	require.NoError(t, err)
	storeAnswer(t, f, attempt.ID, f.harnessed, 1.5, false)

	var (
		once        sync.Once
		finalizeErr error
	)
	f.judge.execute = func(sub judge0.Submission) (judge0.Result, error) {
		once.Do(func() {
			_, finalizeErr = f.attemptSvc.Finalize(ctx, f.evaluation.ID, f.student.ID, dto.FinalizeRequest{})
		})
		return subtractProgram(sub)
	}

	response, err := f.grading.Submit(ctx, f.student.ID, dto.SubmitRequest{
		EvaluationID: f.evaluation.ID,
		ExerciseID:   f.subtraction.ID,
		Code:         "print(a - b)",
	})
	require.NoError(t, err)
	require.NoError(t, finalizeErr)
	require.True(t, response.Result.IsCorrect)
	require.NotEmpty(t, response.Result.PersistenceWarning)
	require.Equal(t, models.AttemptStateFinalized, response.Attempt.State)

	stored, err := f.attempts.GetByID(ctx, attempt.ID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptStateFinalized, stored.State)
	require.Equal(t, 1.5, stored.TotalScore())

	record, err := f.historyRepo.GetByStudentEvaluation(ctx, f.student.ID, f.evaluation.ID)
	require.NoError(t, err)
	require.Equal(t, stored.TotalScore(), record.TotalScore)
	require.EqualValues(t, 1, f.countAnswers(t))
}

func TestAnswerMappingCarriesCases(t *testing.T) {
	f := newGradingFixture(t)
	verdict := verification.Verdict{
		Strategy:      "examples",
		CasesCorrect:  1,
		CasesTotal:    2,
		ScoreFraction: 0.5,
		Cases: []verification.CaseResult{
			{Index: 1, Input: "5 3", Expected: "2", Actual: "2", Correct: true},
			{Index: 2, Input: "10 4", Expected: "6", Actual: "14", Error: "Wrong Answer"},
		},
	}

	result, err := newAnswerResult(f.subtraction, verdict)
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Score)
	require.Len(t, result.Cases, 2)
	require.Equal(t, "14", result.Cases[1].Actual)

	answer, err := newAnswer(9, "print(a + b)", judge0.LanguagePython, result, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, answer.Cases.Data, 2)
	require.Equal(t, "Wrong Answer", answer.Cases.Data[1].Error)
	require.Equal(t, "print(a + b)", answer.Content.Data.Code)
}

func TestResolveElapsedPriority(t *testing.T) {
	client := int64(1500)
	stored := int64(9000)
	started := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	finished := started.Add(42 * time.Second)

	require.Equal(t, int64(1500), *resolveElapsed(&client, &stored, &started, &finished))
	require.Equal(t, int64(9000), *resolveElapsed(nil, &stored, &started, &finished))
	require.Equal(t, int64(42000), *resolveElapsed(nil, nil, &started, &finished))
	require.Nil(t, resolveElapsed(nil, nil, nil, &finished))
}

func TestProgressAndClamp(t *testing.T) {
	require.Equal(t, 0, progressPercent(0, 0))
	require.Equal(t, 66, progressPercent(2, 3))
	require.Equal(t, 100, progressPercent(4, 3))
	require.Equal(t, 0.0, clampScore(-1, 5))
	require.Equal(t, 5.0, clampScore(12, 5))
	require.Equal(t, 2.5, clampScore(2.5, 5))
}
