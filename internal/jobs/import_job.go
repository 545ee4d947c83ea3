package jobs

import (
	"context"
	"errors"
	"time"

	"dining-service/internal/models"
	"dining-service/internal/services"
	"github.com/sirupsen/logrus"
)

// Importer is the part of the import service the job drives
type Importer interface {
	RunFromPath(ctx context.Context, identity models.Identity, trigger models.ImportTrigger, path string) (*models.ImportRun, *models.ImportResult, error)
}

// ImportJob periodically re-imports the configured dining workbook
type ImportJob struct {
	importer Importer
	path     string
	logger   *logrus.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewImportJob creates a new import job
func NewImportJob(importer Importer, path string, interval time.Duration, logger *logrus.Logger) *ImportJob {
	return &ImportJob{
		importer: importer,
		path:     path,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the import job
func (j *ImportJob) Start(ctx context.Context) {
	j.logger.WithField("interval", j.interval.String()).Info("Dining import job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.runImport(ctx)

	for {
		select {
		case <-ticker.C:
			j.runImport(ctx)
		case <-j.stopCh:
			j.logger.Info("Dining import job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Dining import job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *ImportJob) Stop() {
	close(j.stopCh)
}

func (j *ImportJob) runImport(ctx context.Context) {
	run, result, err := j.importer.RunFromPath(ctx, models.SystemIdentity("scheduler"), models.ImportTriggerScheduled, j.path)
	if err != nil {
		if errors.Is(err, services.ErrImportInProgress) {
			j.logger.Info("Skipping scheduled dining import, another run is in progress")
			return
		}
		j.logger.WithError(err).Error("Scheduled dining import failed")
		return
	}

	j.logger.WithFields(logrus.Fields{
		"run_id":        run.ID,
		"itemsInserted": result.ItemsInserted,
		"itemsUpdated":  result.ItemsUpdated,
		"embedded":      result.Embedded,
		"skipped":       result.Skipped,
	}).Info("Scheduled dining import finished")
}
