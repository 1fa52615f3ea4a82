package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// EvaluationRepository exposes read access to evaluations and their exercises.
type EvaluationRepository interface {
	GetByID(ctx context.Context, id uint) (models.Evaluation, error)
	ListExercises(ctx context.Context, evaluationID uint) ([]models.EvaluationExercise, error)
	HasExercise(ctx context.Context, evaluationID, exerciseID uint) (bool, error)
	CountExercises(ctx context.Context, evaluationID uint) (int64, error)
}

// NewEvaluationRepository constructs an evaluation repository.
func NewEvaluationRepository(db *gorm.DB) EvaluationRepository {
	return &evaluationRepository{db: db}
}

type evaluationRepository struct {
	db *gorm.DB
}

func (r *evaluationRepository) GetByID(ctx context.Context, id uint) (models.Evaluation, error) {
	var evaluation models.Evaluation
	if err := r.db.WithContext(ctx).First(&evaluation, id).Error; err != nil {
		return models.Evaluation{}, err
	}
	return evaluation, nil
}

func (r *evaluationRepository) ListExercises(ctx context.Context, evaluationID uint) ([]models.EvaluationExercise, error) {
	var links []models.EvaluationExercise
	err := r.db.WithContext(ctx).
		Preload("Exercise").
		Where("evaluation_id = ?", evaluationID).
		Order("position ASC").
		Order("id ASC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

func (r *evaluationRepository) HasExercise(ctx context.Context, evaluationID, exerciseID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EvaluationExercise{}).
		Where("evaluation_id = ? AND exercise_id = ?", evaluationID, exerciseID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *evaluationRepository) CountExercises(ctx context.Context, evaluationID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EvaluationExercise{}).
		Where("evaluation_id = ?", evaluationID).
		Count(&count).Error
	return count, err
}
