package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// SubmitRequest grades one exercise of an evaluation.
type SubmitRequest struct {
	EvaluationID uint   `json:"evaluation_id" validate:"required"`
	ExerciseID   uint   `json:"exercise_id" validate:"required"`
	Code         string `json:"code" validate:"required"`
	LanguageID   int    `json:"language_id" validate:"omitempty,gt=0"`
}

// TestRunRequest runs code against the first example without persisting.
type TestRunRequest struct {
	ExerciseID uint   `json:"exercise_id" validate:"required"`
	Code       string `json:"code" validate:"required"`
	LanguageID int    `json:"language_id" validate:"omitempty,gt=0"`
}

// CaseResult describes one verified example.
type CaseResult struct {
	Index    int    `json:"index"`
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Correct  bool   `json:"correct"`
	Time     string `json:"time,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AnswerResult is the verdict returned for one exercise.
type AnswerResult struct {
	ExerciseID         uint         `json:"exercise_id"`
	Success            bool         `json:"success"`
	IsCorrect          bool         `json:"is_correct"`
	Strategy           string       `json:"strategy,omitempty"`
	CasesCorrect       int          `json:"cases_correct"`
	CasesTotal         int          `json:"cases_total"`
	ScoreFraction      float64      `json:"score_fraction"`
	Score              float64      `json:"score"`
	MaxScore           float64      `json:"max_score"`
	Output             string       `json:"output,omitempty"`
	Stderr             string       `json:"stderr,omitempty"`
	Message            string       `json:"message,omitempty"`
	Cases              []CaseResult `json:"cases,omitempty"`
	PersistenceWarning string       `json:"persistence_warning,omitempty"`
}

// AttemptSummary exposes the state of an attempt.
type AttemptSummary struct {
	ID           uint       `json:"id"`
	EvaluationID uint       `json:"evaluation_id"`
	StudentID    uint       `json:"student_id"`
	State        string     `json:"state"`
	Score        float64    `json:"score"`
	Progress     int        `json:"progress"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ElapsedMs    *int64     `json:"elapsed_ms,omitempty"`
}

// SubmitResponse is returned by the single exercise submit endpoint.
type SubmitResponse struct {
	Result  AnswerResult   `json:"result"`
	Attempt AttemptSummary `json:"attempt"`
}

// TestRunResponse is returned by the test run endpoint.
type TestRunResponse struct {
	Input    string `json:"input"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Correct  bool   `json:"correct"`
	Status   string `json:"status"`
	Time     string `json:"time,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// BatchItem is one exercise inside a batch submission.
type BatchItem struct {
	ExerciseID uint   `json:"exercise_id" validate:"required"`
	Code       string `json:"code"`
	LanguageID int    `json:"language_id" validate:"omitempty,gt=0"`
}

// PrecomputedResult carries a verdict computed before the batch call.
type PrecomputedResult struct {
	ExerciseID   uint    `json:"exercise_id" validate:"required"`
	IsCorrect    bool    `json:"is_correct"`
	Score        float64 `json:"score"`
	CasesCorrect int     `json:"cases_correct"`
	CasesTotal   int     `json:"cases_total"`
	Output       string  `json:"output"`
}

// BatchRequest grades several exercises of one evaluation.
type BatchRequest struct {
	EvaluationID uint                `json:"evaluation_id" validate:"required"`
	BatchID      string              `json:"batch_id"`
	Items        []BatchItem         `json:"items" validate:"required,min=1,dive"`
	Precomputed  []PrecomputedResult `json:"precomputed_results" validate:"omitempty,dive"`
	ElapsedMs    *int64              `json:"elapsed_ms" validate:"omitempty,gte=0"`
}

// BatchFailure reports an exercise that could not be graded.
type BatchFailure struct {
	ExerciseID uint   `json:"exercise_id"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// BatchResponse summarises a batch submission.
type BatchResponse struct {
	BatchID    string         `json:"batch_id"`
	State      string         `json:"state"`
	Replayed   bool           `json:"replayed"`
	Incomplete bool           `json:"incomplete"`
	Results    []AnswerResult `json:"results"`
	Failures   []BatchFailure `json:"failures"`
	Attempt    AttemptSummary `json:"attempt"`
}

// FinalizeRequest closes an attempt explicitly.
type FinalizeRequest struct {
	ElapsedMs *int64 `json:"elapsed_ms" validate:"omitempty,gte=0"`
}

// ExpelRequest identifies the student removed from an evaluation.
type ExpelRequest struct {
	StudentID uint `json:"student_id" validate:"required"`
}

// AnswerDetail is one stored answer in a results view.
type AnswerDetail struct {
	ExerciseID    uint      `json:"exercise_id"`
	ExerciseTitle string    `json:"exercise_title"`
	Code          string    `json:"code"`
	LanguageID    int       `json:"language_id"`
	IsCorrect     *bool     `json:"is_correct"`
	Score         float64   `json:"score"`
	MaxScore      float64   `json:"max_score"`
	CasesCorrect  int       `json:"cases_correct"`
	CasesTotal    int       `json:"cases_total"`
	AnsweredAt    time.Time `json:"answered_at"`
}

// ResultsResponse summarises a student's attempt.
type ResultsResponse struct {
	Attempt       AttemptSummary `json:"attempt"`
	Score         float64        `json:"score"`
	MaxScore      float64        `json:"max_score"`
	ScoreOutOfTen float64        `json:"score_out_of_ten"`
	Percentage    float64        `json:"percentage"`
	Answers       []AnswerDetail `json:"answers"`
}

// FinalizeResponse is returned after closing an attempt.
type FinalizeResponse struct {
	Attempt        AttemptSummary `json:"attempt"`
	HistoryID      uint           `json:"history_id"`
	HistoryCreated bool           `json:"history_created"`
}

// HistorySummary is a list entry of a student's history.
type HistorySummary struct {
	ID               uint       `json:"id"`
	EvaluationID     uint       `json:"evaluation_id"`
	EvaluationTitle  string     `json:"evaluation_title"`
	TotalScore       float64    `json:"total_score"`
	Percentage       float64    `json:"percentage"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	StoredAt         time.Time  `json:"stored_at"`
	ElapsedMs        *int64     `json:"elapsed_ms,omitempty"`
	EvaluationActive bool       `json:"evaluation_active"`
}

// HistoryDetail is the full snapshot of a finalized attempt.
type HistoryDetail struct {
	HistorySummary
	StudentID    uint   `json:"student_id"`
	StudentName  string `json:"student_name"`
	StudentEmail string `json:"student_email"`
	TeacherName  string `json:"teacher_name"`
	AccessCode   string `json:"access_code"`
	Details      any    `json:"details"`
}

// EvaluationHistoryResponse reports the effect of retiring an evaluation.
type EvaluationHistoryResponse struct {
	EvaluationID   uint  `json:"evaluation_id"`
	Frozen         int   `json:"frozen"`
	RecordsUpdated int64 `json:"records_updated"`
}

// NewAttemptSummary maps an attempt model into its API shape.
func NewAttemptSummary(attempt models.Attempt) AttemptSummary {
	score := 0.0
	if attempt.Score != nil {
		score = *attempt.Score
	}
	return AttemptSummary{
		ID:           attempt.ID,
		EvaluationID: attempt.EvaluationID,
		StudentID:    attempt.StudentID,
		State:        attempt.State,
		Score:        score,
		Progress:     attempt.Progress,
		StartedAt:    attempt.StartedAt,
		FinishedAt:   attempt.FinishedAt,
		ElapsedMs:    attempt.ElapsedMs,
	}
}

// NewHistorySummary maps a history record into a list entry.
func NewHistorySummary(record models.HistoryRecord) HistorySummary {
	return HistorySummary{
		ID:               record.ID,
		EvaluationID:     record.EvaluationID,
		EvaluationTitle:  record.EvaluationTitle,
		TotalScore:       record.TotalScore,
		Percentage:       record.Percentage,
		StartedAt:        record.StartedAt,
		FinishedAt:       record.FinishedAt,
		StoredAt:         record.StoredAt,
		ElapsedMs:        record.ElapsedMs,
		EvaluationActive: record.EvaluationActive,
	}
}

// NewHistoryDetail maps a history record including its nested document.
func NewHistoryDetail(record models.HistoryRecord) HistoryDetail {
	return HistoryDetail{
		HistorySummary: NewHistorySummary(record),
		StudentID:      record.StudentID,
		StudentName:    record.StudentName,
		StudentEmail:   record.StudentEmail,
		TeacherName:    record.TeacherName,
		AccessCode:     record.EvaluationAccessCode,
		Details:        record.Details.Data,
	}
}
