package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// StudentRepository reads the learner profiles that history snapshots embed.
type StudentRepository interface {
	Profile(ctx context.Context, id uint) (models.Student, bool, error)
}

// NewStudentRepository constructs a student repository.
func NewStudentRepository(db *gorm.DB) StudentRepository {
	return &studentRepository{db: db}
}

type studentRepository struct {
	db *gorm.DB
}

// Profile loads the student's name and email. A missing profile is not an
// error: the boolean is false and the zero student is returned.
func (r *studentRepository) Profile(ctx context.Context, id uint) (models.Student, bool, error) {
	var student models.Student
	err := r.db.WithContext(ctx).
		Select("id", "name", "email").
		Where("id = ?", id).
		Take(&student).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Student{ID: id}, false, nil
	}
	if err != nil {
		return models.Student{}, false, err
	}
	return student, true, nil
}
