package models

import "time"

// Attempt lifecycle states.
const (
	AttemptStatePending   = "pendiente"
	AttemptStateActive    = "activo"
	AttemptStateFinalized = "finalizado"
	AttemptStateExpelled  = "expulsado"
)

// ClosedAttemptStates lists the states that no longer accept answers.
func ClosedAttemptStates() []string {
	return []string{AttemptStateFinalized, AttemptStateExpelled}
}

// Attempt is a student's participation in one evaluation.
type Attempt struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	StudentID       uint       `gorm:"not null;uniqueIndex:idx_attempt_student_evaluation" json:"estudiante_id"`
	EvaluationID    uint       `gorm:"not null;uniqueIndex:idx_attempt_student_evaluation" json:"evaluacion_id"`
	State           string     `gorm:"size:16;not null;default:pendiente" json:"estado"`
	StartedAt       *time.Time `json:"fecha_inicio"`
	FinishedAt      *time.Time `json:"fecha_fin"`
	ElapsedMs       *int64     `json:"tiempo_total_ms"`
	Score           *float64   `json:"puntaje"`
	ScoreAdjustment float64    `gorm:"default:0" json:"ajustes_puntaje"`
	Progress        int        `gorm:"default:0" json:"progreso"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Evaluation      Evaluation `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// Closed reports whether the attempt no longer accepts answers.
func (a Attempt) Closed() bool {
	return a.State == AttemptStateFinalized || a.State == AttemptStateExpelled
}

// Finalized reports whether the attempt finished normally.
func (a Attempt) Finalized() bool {
	return a.State == AttemptStateFinalized
}

// TotalScore returns the cumulative score including manual adjustments.
func (a Attempt) TotalScore() float64 {
	if a.Score == nil {
		return a.ScoreAdjustment
	}
	return *a.Score + a.ScoreAdjustment
}
