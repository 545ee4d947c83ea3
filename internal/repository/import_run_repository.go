package repository

import (
	"context"
	"errors"

	"dining-service/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImportRunRepository handles database operations for import run history
type ImportRunRepository struct {
	db *gorm.DB
}

// NewImportRunRepository creates a new ImportRunRepository
func NewImportRunRepository(db *gorm.DB) *ImportRunRepository {
	return &ImportRunRepository{db: db}
}

// Create records a new run
func (r *ImportRunRepository) Create(ctx context.Context, run *models.ImportRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// Update saves the status, timing and outcome of a run
func (r *ImportRunRepository) Update(ctx context.Context, run *models.ImportRun) error {
	return r.db.WithContext(ctx).Model(&models.ImportRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":        run.Status,
			"finished_at":   run.FinishedAt,
			"summary":       run.Summary,
			"warnings":      run.Warnings,
			"error_message": run.ErrorMessage,
		}).Error
}

// GetByID retrieves a run
func (r *ImportRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImportRun, error) {
	var run models.ImportRun
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// List returns a page of runs, newest first
func (r *ImportRunRepository) List(ctx context.Context, status models.ImportStatus, page, limit int) ([]models.ImportRun, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ImportRun{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []models.ImportRun
	err := query.Order("started_at DESC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&runs).Error
	return runs, total, err
}
