package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// AttemptRepository persists evaluation attempts.
type AttemptRepository interface {
	GetOrCreate(ctx context.Context, studentID, evaluationID uint, startedAt time.Time) (models.Attempt, bool, error)
	Get(ctx context.Context, studentID, evaluationID uint) (models.Attempt, error)
	GetByID(ctx context.Context, id uint) (models.Attempt, error)
	Transition(ctx context.Context, attempt *models.Attempt, blocked ...string) (bool, error)
	ListFinalizedByEvaluation(ctx context.Context, evaluationID uint) ([]models.Attempt, error)
}

// NewAttemptRepository constructs an attempt repository.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

type attemptRepository struct {
	db *gorm.DB
}

// GetOrCreate returns the unique attempt for the pair, creating an active
// one when absent. Concurrent creators converge on the same row.
func (r *attemptRepository) GetOrCreate(ctx context.Context, studentID, evaluationID uint, startedAt time.Time) (models.Attempt, bool, error) {
	attempt := models.Attempt{
		StudentID:    studentID,
		EvaluationID: evaluationID,
		State:        models.AttemptStateActive,
		StartedAt:    &startedAt,
	}

	tx := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "evaluation_id"}},
			DoNothing: true,
		}).
		Create(&attempt)
	if tx.Error != nil {
		return models.Attempt{}, false, tx.Error
	}

	stored, err := r.Get(ctx, studentID, evaluationID)
	if err != nil {
		return models.Attempt{}, false, err
	}
	return stored, tx.RowsAffected > 0, nil
}

func (r *attemptRepository) Get(ctx context.Context, studentID, evaluationID uint) (models.Attempt, error) {
	var attempt models.Attempt
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND evaluation_id = ?", studentID, evaluationID).
		First(&attempt).Error
	if err != nil {
		return models.Attempt{}, err
	}
	return attempt, nil
}

func (r *attemptRepository) GetByID(ctx context.Context, id uint) (models.Attempt, error) {
	var attempt models.Attempt
	if err := r.db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return models.Attempt{}, err
	}
	return attempt, nil
}

// Transition writes the attempt's mutable columns unless the stored row is
// already in one of the blocked states. The boolean reports whether the row
// was written; callers holding a stale copy must reload when it is false.
func (r *attemptRepository) Transition(ctx context.Context, attempt *models.Attempt, blocked ...string) (bool, error) {
	query := r.db.WithContext(ctx).Model(&models.Attempt{}).Where("id = ?", attempt.ID)
	if len(blocked) > 0 {
		query = query.Where("state NOT IN ?", blocked)
	}

	tx := query.Updates(map[string]interface{}{
		"state":       attempt.State,
		"started_at":  attempt.StartedAt,
		"finished_at": attempt.FinishedAt,
		"elapsed_ms":  attempt.ElapsedMs,
		"score":       attempt.Score,
		"progress":    attempt.Progress,
	})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *attemptRepository) ListFinalizedByEvaluation(ctx context.Context, evaluationID uint) ([]models.Attempt, error) {
	var attempts []models.Attempt
	err := r.db.WithContext(ctx).
		Where("evaluation_id = ? AND state = ?", evaluationID, models.AttemptStateFinalized).
		Order("id ASC").
		Find(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}
