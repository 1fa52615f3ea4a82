package models

import "time"

// Evaluation groups exercises into a timed assessment.
type Evaluation struct {
	ID                  uint                 `gorm:"primaryKey" json:"id"`
	Title               string               `gorm:"size:200;not null" json:"titulo"`
	Description         string               `gorm:"type:text" json:"descripcion"`
	AccessCode          string               `gorm:"size:8;index" json:"codigo_acceso"`
	DurationMinutes     int                  `gorm:"default:60" json:"duracion_minutos"`
	AllowReview         bool                 `json:"permitir_revision"`
	ShowResult          bool                 `json:"mostrar_resultado"`
	TotalScore          int                  `gorm:"default:0" json:"puntaje_total"`
	CreatorID           uint                 `gorm:"index" json:"creador_id"`
	CreatorName         string               `gorm:"size:255" json:"creador_nombre"`
	CreatedAt           time.Time            `json:"fecha_creacion"`
	UpdatedAt           time.Time            `json:"updated_at"`
	EvaluationExercises []EvaluationExercise `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// EvaluationExercise orders exercises within an evaluation.
type EvaluationExercise struct {
	ID           uint     `gorm:"primaryKey" json:"id"`
	EvaluationID uint     `gorm:"not null;uniqueIndex:idx_evaluation_exercise" json:"evaluation_id"`
	ExerciseID   uint     `gorm:"not null;uniqueIndex:idx_evaluation_exercise" json:"exercise_id"`
	Order        int      `gorm:"column:position;default:0" json:"orden"`
	Exercise     Exercise `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}
