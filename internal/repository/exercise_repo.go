package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ExerciseRepository exposes read access to exercises.
type ExerciseRepository interface {
	GetByID(ctx context.Context, id uint) (models.Exercise, error)
	GetByIDs(ctx context.Context, ids []uint) (map[uint]models.Exercise, error)
}

// NewExerciseRepository constructs an exercise repository.
func NewExerciseRepository(db *gorm.DB) ExerciseRepository {
	return &exerciseRepository{db: db}
}

type exerciseRepository struct {
	db *gorm.DB
}

func (r *exerciseRepository) GetByID(ctx context.Context, id uint) (models.Exercise, error) {
	var exercise models.Exercise
	if err := r.db.WithContext(ctx).First(&exercise, id).Error; err != nil {
		return models.Exercise{}, err
	}
	return exercise, nil
}

func (r *exerciseRepository) GetByIDs(ctx context.Context, ids []uint) (map[uint]models.Exercise, error) {
	result := make(map[uint]models.Exercise, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var exercises []models.Exercise
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&exercises).Error; err != nil {
		return nil, err
	}
	for _, exercise := range exercises {
		result[exercise.ID] = exercise
	}
	return result, nil
}
