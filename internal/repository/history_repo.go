package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// HistoryRepository persists frozen attempt snapshots.
type HistoryRepository interface {
	CreateIfAbsent(ctx context.Context, record *models.HistoryRecord) (bool, error)
	GetByStudentEvaluation(ctx context.Context, studentID, evaluationID uint) (models.HistoryRecord, error)
	GetByID(ctx context.Context, id uint) (models.HistoryRecord, error)
	ListByStudent(ctx context.Context, studentID uint) ([]models.HistoryRecord, error)
	MarkEvaluationInactive(ctx context.Context, evaluationID uint) (int64, error)
}

// NewHistoryRepository constructs a history repository.
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

type historyRepository struct {
	db *gorm.DB
}

// CreateIfAbsent inserts the record unless one already exists for the same
// student and evaluation. It reports whether a row was written.
func (r *historyRepository) CreateIfAbsent(ctx context.Context, record *models.HistoryRecord) (bool, error) {
	tx := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_id"}, {Name: "evaluation_id"}},
			DoNothing: true,
		}).
		Create(record)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *historyRepository) GetByStudentEvaluation(ctx context.Context, studentID, evaluationID uint) (models.HistoryRecord, error) {
	var record models.HistoryRecord
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND evaluation_id = ?", studentID, evaluationID).
		First(&record).Error
	if err != nil {
		return models.HistoryRecord{}, err
	}
	return record, nil
}

func (r *historyRepository) GetByID(ctx context.Context, id uint) (models.HistoryRecord, error) {
	var record models.HistoryRecord
	if err := r.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return models.HistoryRecord{}, err
	}
	return record, nil
}

func (r *historyRepository) ListByStudent(ctx context.Context, studentID uint) ([]models.HistoryRecord, error) {
	var records []models.HistoryRecord
	err := r.db.WithContext(ctx).
		Where("student_id = ?", studentID).
		Order("stored_at DESC").
		Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MarkEvaluationInactive flips the only mutable column of a snapshot.
func (r *historyRepository) MarkEvaluationInactive(ctx context.Context, evaluationID uint) (int64, error) {
	tx := r.db.WithContext(ctx).
		Model(&models.HistoryRecord{}).
		Where("evaluation_id = ? AND evaluation_active = ?", evaluationID, true).
		Update("evaluation_active", false)
	return tx.RowsAffected, tx.Error
}
