package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/pkg/judge0"
)

type fakeJudge struct {
	mu          sync.Mutex
	unhealthy   bool
	execute     func(sub judge0.Submission) (judge0.Result, error)
	executed    []judge0.Submission
	submitted   [][]judge0.Submission
	tokens      []string
	submitErr   error
	pollResults []judge0.Result
	pollErr     error
	onPoll      func()
	polled      [][]string
}

func (f *fakeJudge) Health(context.Context) (bool, string) {
	if f.unhealthy {
		return false, "connection refused"
	}
	return true, "ok"
}

func (f *fakeJudge) Execute(ctx context.Context, sub judge0.Submission) (judge0.Result, error) {
	f.mu.Lock()
	f.executed = append(f.executed, sub)
	f.mu.Unlock()
	if f.execute == nil {
		return acceptedResult(""), nil
	}
	return f.execute(sub)
}

func (f *fakeJudge) SubmitBatch(ctx context.Context, subs []judge0.Submission) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, subs)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.tokens, nil
}

func (f *fakeJudge) PollBatch(ctx context.Context, tokens []string, maxAttempts int) ([]judge0.Result, error) {
	if f.onPoll != nil {
		f.onPoll()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = append(f.polled, tokens)
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return f.pollResults, nil
}

// failingAnswers stores nothing and reports err on every upsert.
type failingAnswers struct {
	repository.AnswerRepository
	err error
}

func (a failingAnswers) Upsert(context.Context, *models.Answer) error {
	return a.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []AttemptEvent
}

func (p *recordingPublisher) PublishFinalized(ctx context.Context, event AttemptEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func acceptedResult(stdout string) judge0.Result {
	return judge0.Result{Status: judge0.Status{ID: judge0.StatusAccepted, Description: "Accepted"}, Stdout: stdout, Time: "0.01"}
}

// subtractProgram answers "a b" on stdin with a-b, like a correct student solution.
func subtractProgram(sub judge0.Submission) (judge0.Result, error) {
	fields := strings.Fields(sub.Stdin)
	if len(fields) != 2 {
		return judge0.Result{Status: judge0.Status{ID: 11, Description: "Runtime Error (NZEC)"}, Stderr: "EOFError: EOF when reading a line"}, nil
	}
	a, _ := strconv.Atoi(fields[0])
	b, _ := strconv.Atoi(fields[1])
	out := strconv.Itoa(a-b) + "\n"
	if strings.TrimSpace(out) == sub.ExpectedOutput {
		return acceptedResult(out), nil
	}
	return judge0.Result{Status: judge0.Status{ID: judge0.StatusWrongAnswer, Description: "Wrong Answer"}, Stdout: out}, nil
}

type gradingFixture struct {
	db          *gorm.DB
	judge       *fakeJudge
	events      *recordingPublisher
	evaluations repository.EvaluationRepository
	exercises   repository.ExerciseRepository
	attempts    repository.AttemptRepository
	answers     repository.AnswerRepository
	historyRepo repository.HistoryRepository
	grading     GradingService
	batch       BatchService
	attemptSvc  AttemptService
	history     HistoryService
	evaluation  models.Evaluation
	subtraction models.Exercise
	harnessed   models.Exercise
	student     models.Student
}

func newGradingFixture(t *testing.T) *gradingFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Student{},
		&models.Exercise{},
		&models.Evaluation{},
		&models.EvaluationExercise{},
		&models.Attempt{},
		&models.Answer{},
		&models.HistoryRecord{},
	))

	f := &gradingFixture{
		db:          db,
		judge:       &fakeJudge{execute: subtractProgram},
		events:      &recordingPublisher{},
		evaluations: repository.NewEvaluationRepository(db),
		exercises:   repository.NewExerciseRepository(db),
		attempts:    repository.NewAttemptRepository(db),
		answers:     repository.NewAnswerRepository(db),
		historyRepo: repository.NewHistoryRepository(db),
	}

	f.student = models.Student{Name: "Ana Torres", Email: "ana@example.com"}
	require.NoError(t, db.Create(&f.student).Error)

	f.evaluation = models.Evaluation{
		Title:           "Parcial 1",
		Description:     "Operaciones básicas",
		AccessCode:      "PX7K2Q",
		DurationMinutes: 45,
		AllowReview:     true,
		CreatorID:       99,
		CreatorName:     "Prof. Ruiz",
	}
	require.NoError(t, db.Create(&f.evaluation).Error)

	f.subtraction = models.Exercise{
		Title: "Resta",
		Score: 2,
		Content: models.NewJSONDocument(models.ExerciseContent{
			Examples: []models.ExerciseExample{
				{Input: "5 3", Output: "2"},
				{Input: "10 4", Output: "6"},
			},
		}),
	}
	f.harnessed = models.Exercise{
		Title:         "Factorial",
		Score:         3,
		AdvancedTests: models.NewJSONDocument(map[string]string{"71": "ejecutar_tests_avanzados(factorial, casos)"}),
	}
	for i, exercise := range []*models.Exercise{&f.subtraction, &f.harnessed} {
		require.NoError(t, db.Create(exercise).Error)
		link := models.EvaluationExercise{EvaluationID: f.evaluation.ID, ExerciseID: exercise.ID, Order: i + 1}
		require.NoError(t, db.Create(&link).Error)
	}

	validate := validator.New()
	logger := zerolog.Nop()
	studentRepo := repository.NewStudentRepository(db)

	f.history = NewHistoryService(f.historyRepo, f.attempts, f.answers, f.evaluations, studentRepo, logger)
	f.grading = NewGradingService(f.evaluations, f.exercises, f.attempts, f.answers, f.judge, f.judge, validate, logger, GradingConfig{})
	f.batch = NewBatchService(f.evaluations, f.attempts, f.answers, f.judge, f.judge, f.history, f.events, validate, logger, BatchConfig{PollAttempts: 5, UpsertConcurrency: 1})
	f.attemptSvc = NewAttemptService(f.attempts, f.answers, f.evaluations, f.history, f.events, validate, logger)

	return f
}

func (f *gradingFixture) countAnswers(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.Answer{}).Count(&count).Error)
	return count
}

func (f *gradingFixture) countHistory(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.HistoryRecord{}).Count(&count).Error)
	return count
}
