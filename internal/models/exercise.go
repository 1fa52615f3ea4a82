package models

import (
	"time"

	"gorm.io/datatypes"
)

// Exercise difficulty levels.
const (
	DifficultyBasic        = "basico"
	DifficultyIntermediate = "intermedio"
	DifficultyAdvanced     = "avanzado"
)

// ExerciseExample is one stdin/stdout pair shown to students.
type ExerciseExample struct {
	Input  string `json:"entrada"`
	Output string `json:"salida"`
}

// ExerciseContent is the authored body of an exercise.
type ExerciseContent struct {
	Examples      []ExerciseExample `json:"ejemplos,omitempty"`
	Constraints   datatypes.JSON    `json:"restricciones,omitempty"`
	OutputFormat  string            `json:"formato_salida,omitempty"`
	Hint          string            `json:"pista,omitempty"`
	Tags          []string          `json:"etiquetas,omitempty"`
	Credit        string            `json:"credito,omitempty"`
	Templates     datatypes.JSONMap `json:"templates,omitempty"`
	AdvancedTests map[string]string `json:"tests_avanzados,omitempty"`
}

// Exercise is a gradable programming problem.
type Exercise struct {
	ID            uint                            `gorm:"primaryKey" json:"id"`
	Title         string                          `gorm:"size:200;not null" json:"titulo"`
	Description   string                          `gorm:"type:text" json:"descripcion"`
	Difficulty    string                          `gorm:"size:20;default:intermedio" json:"dificultad"`
	Score         int                             `gorm:"not null;default:1" json:"puntaje"`
	Content       JSONDocument[ExerciseContent]   `json:"contenido"`
	AdvancedTests JSONDocument[map[string]string] `json:"tests_avanzados"`
	CreatorName   string                          `gorm:"size:255" json:"creador_nombre"`
	CreatedAt     time.Time                       `json:"fecha_creacion"`
	UpdatedAt     time.Time                       `json:"updated_at"`
}

// MaxScore returns the positive maximum score of the exercise.
func (e Exercise) MaxScore() float64 {
	if e.Score <= 0 {
		return 1
	}
	return float64(e.Score)
}

// Harness returns the per-language test programs, preferring the dedicated
// column over the copy nested in the content.
func (e Exercise) Harness() map[string]string {
	if len(e.AdvancedTests.Data) > 0 {
		return e.AdvancedTests.Data
	}
	return e.Content.Data.AdvancedTests
}

// Examples returns the declared examples.
func (e Exercise) Examples() []ExerciseExample {
	return e.Content.Data.Examples
}
