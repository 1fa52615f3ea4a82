package models

import "time"

// AnswerContent is the stored body of an answer.
type AnswerContent struct {
	Code       string `json:"codigo"`
	Results    string `json:"resultados,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	LanguageID int    `json:"language_id"`
}

// AnswerCase is one per-case verdict kept with an answer.
type AnswerCase struct {
	Index    int    `json:"ejemplo"`
	Input    string `json:"entrada,omitempty"`
	Expected string `json:"salida_esperada,omitempty"`
	Actual   string `json:"salida_obtenida,omitempty"`
	Correct  bool   `json:"es_correcto"`
	Time     string `json:"tiempo,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Answer is the latest submission of one exercise within an attempt.
type Answer struct {
	ID           uint                        `gorm:"primaryKey" json:"id"`
	AttemptID    uint                        `gorm:"not null;uniqueIndex:idx_answer_attempt_exercise" json:"estudiante_evaluacion_id"`
	ExerciseID   uint                        `gorm:"not null;uniqueIndex:idx_answer_attempt_exercise" json:"ejercicio_id"`
	Content      JSONDocument[AnswerContent] `json:"respuesta"`
	Cases        JSONDocument[[]AnswerCase]  `json:"casos"`
	CasesCorrect int                         `gorm:"default:0" json:"casos_correctos"`
	CasesTotal   int                         `gorm:"default:0" json:"total_casos"`
	Correct      *bool                       `json:"es_correcta"`
	Score        float64                     `gorm:"default:0" json:"puntaje_obtenido"`
	LanguageID   int                         `gorm:"default:71" json:"language_id"`
	AnsweredAt   time.Time                   `json:"fecha_respuesta"`
	Exercise     Exercise                    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

// IsCorrect dereferences the nullable correctness flag.
func (a Answer) IsCorrect() bool {
	return a.Correct != nil && *a.Correct
}
