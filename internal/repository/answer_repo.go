package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// AnswerRepository persists per-exercise answers.
type AnswerRepository interface {
	Upsert(ctx context.Context, answer *models.Answer) error
	Get(ctx context.Context, attemptID, exerciseID uint) (models.Answer, error)
	ListByAttempt(ctx context.Context, attemptID uint) ([]models.Answer, error)
}

// NewAnswerRepository constructs an answer repository.
func NewAnswerRepository(db *gorm.DB) AnswerRepository {
	return &answerRepository{db: db}
}

type answerRepository struct {
	db *gorm.DB
}

// Upsert writes the answer, replacing any previous answer for the same
// attempt and exercise.
func (r *answerRepository) Upsert(ctx context.Context, answer *models.Answer) error {
	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "attempt_id"}, {Name: "exercise_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"content", "cases", "cases_correct", "cases_total", "correct", "score", "language_id", "answered_at",
			}),
		}).
		Create(answer).Error
}

func (r *answerRepository) Get(ctx context.Context, attemptID, exerciseID uint) (models.Answer, error) {
	var answer models.Answer
	err := r.db.WithContext(ctx).
		Where("attempt_id = ? AND exercise_id = ?", attemptID, exerciseID).
		First(&answer).Error
	if err != nil {
		return models.Answer{}, err
	}
	return answer, nil
}

func (r *answerRepository) ListByAttempt(ctx context.Context, attemptID uint) ([]models.Answer, error) {
	var answers []models.Answer
	err := r.db.WithContext(ctx).
		Preload("Exercise").
		Where("attempt_id = ?", attemptID).
		Order("exercise_id ASC").
		Find(&answers).Error
	if err != nil {
		return nil, err
	}
	return answers, nil
}
