package models

import "time"

// HistoryAnswer is the frozen copy of one answer.
type HistoryAnswer struct {
	ExerciseID    uint    `json:"ejercicio_id"`
	ExerciseTitle string  `json:"ejercicio_titulo"`
	Code          string  `json:"codigo"`
	LanguageID    int     `json:"language_id"`
	Correct       *bool   `json:"es_correcta"`
	Score         float64 `json:"puntaje_obtenido"`
	MaxScore      float64 `json:"puntaje_maximo"`
	CasesCorrect  int     `json:"casos_correctos"`
	CasesTotal    int     `json:"total_casos"`
	Output        string  `json:"resultados,omitempty"`
	Stderr        string  `json:"stderr,omitempty"`
	AnsweredAt    string  `json:"fecha_respuesta"`
}

// HistoryExercise is the frozen copy of one exercise.
type HistoryExercise struct {
	ID          uint              `json:"id"`
	Title       string            `json:"titulo"`
	Description string            `json:"descripcion"`
	Difficulty  string            `json:"dificultad"`
	Score       int               `json:"puntaje"`
	Order       int               `json:"orden"`
	Examples    []ExerciseExample `json:"ejemplos"`
}

// HistoryStats summarises the frozen attempt.
type HistoryStats struct {
	TotalExercises   int     `json:"total_ejercicios"`
	CorrectExercises int     `json:"ejercicios_correctos"`
	TotalScore       float64 `json:"puntaje_total"`
	MaxScore         float64 `json:"puntaje_maximo"`
	ScoreOutOfTen    float64 `json:"puntaje_sobre_10"`
	Percentage       float64 `json:"porcentaje"`
	ColorClass       string  `json:"color_clase"`
}

// HistoryEvaluation is the frozen copy of the evaluation settings.
type HistoryEvaluation struct {
	Title           string `json:"titulo"`
	Description     string `json:"descripcion"`
	CreatedAt       string `json:"fecha_creacion"`
	DurationMinutes int    `json:"duracion_minutos"`
	AllowReview     bool   `json:"permitir_revision"`
	ShowResult      bool   `json:"mostrar_resultado"`
}

// HistoryDetails is the nested document stored with every record.
type HistoryDetails struct {
	Answers    []HistoryAnswer   `json:"respuestas"`
	Exercises  []HistoryExercise `json:"ejercicios"`
	Stats      HistoryStats      `json:"estadisticas"`
	Evaluation HistoryEvaluation `json:"evaluacion"`
}

// HistoryRecord is an immutable snapshot of a finalized attempt.
type HistoryRecord struct {
	ID                    uint                         `gorm:"primaryKey" json:"id"`
	StudentID             uint                         `gorm:"not null;uniqueIndex:idx_history_student_evaluation" json:"estudiante_id"`
	StudentName           string                       `gorm:"size:200" json:"estudiante_nombre"`
	StudentEmail          string                       `gorm:"size:255" json:"estudiante_email"`
	EvaluationID          uint                         `gorm:"not null;uniqueIndex:idx_history_student_evaluation;index" json:"evaluacion_id"`
	EvaluationTitle       string                       `gorm:"size:200" json:"evaluacion_titulo"`
	EvaluationDescription string                       `gorm:"type:text" json:"evaluacion_descripcion"`
	EvaluationTotalScore  int                          `json:"evaluacion_puntaje_total"`
	EvaluationAccessCode  string                       `gorm:"size:8" json:"evaluacion_codigo_acceso"`
	TeacherID             uint                         `json:"docente_id"`
	TeacherName           string                       `gorm:"size:200" json:"docente_nombre"`
	StartedAt             *time.Time                   `json:"fecha_inicio"`
	FinishedAt            *time.Time                   `json:"fecha_fin"`
	StoredAt              time.Time                    `json:"fecha_almacenamiento"`
	TotalScore            float64                      `json:"puntaje_total"`
	Percentage            float64                      `json:"porcentaje_aprobacion"`
	ElapsedSeconds        *int64                       `json:"tiempo_total"`
	ElapsedMs             *int64                       `json:"tiempo_total_ms"`
	Details               JSONDocument[HistoryDetails] `json:"detalles"`
	EvaluationActive      bool                         `json:"evaluacion_activa"`
}
