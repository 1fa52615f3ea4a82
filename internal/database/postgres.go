package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-grader/internal/models"
)

// ConnectPostgres initialises a GORM connection sized for concurrent grading requests.
func ConnectPostgres(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn must not be empty")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// Migrate creates or updates the grading tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Student{},
		&models.Evaluation{},
		&models.Exercise{},
		&models.EvaluationExercise{},
		&models.Attempt{},
		&models.Answer{},
		&models.HistoryRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate grading schema: %w", err)
	}
	return nil
}
