package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"dining-service/internal/importer"
	"dining-service/internal/models"
	"dining-service/internal/repository"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

var (
	ErrImportInProgress    = errors.New("a dining import is already running")
	ErrNoSourcePath        = errors.New("no import source path configured")
	ErrBackfillUnavailable = errors.New("embedding service is not configured")
)

// ImportPipeline runs the normalization pipeline
type ImportPipeline interface {
	Run(ctx context.Context, path string) (*models.ImportResult, error)
	Process(ctx context.Context, sheets []importer.Sheet) (*models.ImportResult, error)
}

// ImportRunStore persists import run history
type ImportRunStore interface {
	Create(ctx context.Context, run *models.ImportRun) error
	Update(ctx context.Context, run *models.ImportRun) error
	List(ctx context.Context, status models.ImportStatus, page, limit int) ([]models.ImportRun, int64, error)
}

// RunLocker serializes import runs
type RunLocker interface {
	Acquire(ctx context.Context) (func(), error)
}

// CatalogInvalidator drops cached catalog reads after the menu data changed
type CatalogInvalidator interface {
	InvalidateCatalog(ctx context.Context)
}

// EventPublisher announces finished runs
type EventPublisher interface {
	PublishImportCompleted(ctx context.Context, run *models.ImportRun, result *models.ImportResult) error
	PublishImportFailed(ctx context.Context, run *models.ImportRun, cause error) error
}

// Backfiller embeds items that have no stored vector
type Backfiller interface {
	Backfill(ctx context.Context, limit int) (int, error)
}

// ImportDeps groups the collaborators of ImportService. Publisher and
// Backfiller are optional.
type ImportDeps struct {
	Pipeline    ImportPipeline
	Runs        ImportRunStore
	Lock        RunLocker
	Catalog     CatalogInvalidator
	Publisher   EventPublisher
	Backfiller  Backfiller
	DefaultPath string
}

// ImportService wraps pipeline invocations with locking, run history,
// cache invalidation and event publishing
type ImportService struct {
	deps   ImportDeps
	logger *logrus.Entry
}

// NewImportService creates a new ImportService
func NewImportService(deps ImportDeps, logger *logrus.Logger) *ImportService {
	return &ImportService{
		deps:   deps,
		logger: logger.WithField("component", "import_service"),
	}
}

// RunFromPath imports the workbook at path, or the configured default path when empty
func (s *ImportService) RunFromPath(ctx context.Context, identity models.Identity, trigger models.ImportTrigger, path string) (*models.ImportRun, *models.ImportResult, error) {
	if strings.TrimSpace(path) == "" {
		path = s.deps.DefaultPath
	}
	if path == "" {
		return nil, nil, ErrNoSourcePath
	}

	return s.execute(ctx, identity, trigger, path, func(ctx context.Context) (*models.ImportResult, error) {
		return s.deps.Pipeline.Run(ctx, path)
	})
}

// RunFromUpload imports an uploaded workbook
func (s *ImportService) RunFromUpload(ctx context.Context, identity models.Identity, filename string, r io.Reader) (*models.ImportRun, *models.ImportResult, error) {
	format, err := importer.FormatFromFilename(filename)
	if err != nil {
		return nil, nil, err
	}

	return s.execute(ctx, identity, models.ImportTriggerUpload, filename, func(ctx context.Context) (*models.ImportResult, error) {
		name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
		sheets, err := importer.ReadWorkbook(ctx, r, format, name)
		if err != nil {
			return nil, err
		}
		return s.deps.Pipeline.Process(ctx, sheets)
	})
}

// ListRuns returns a page of import run history
func (s *ImportService) ListRuns(ctx context.Context, status models.ImportStatus, page, limit int) ([]models.ImportRun, int64, error) {
	return s.deps.Runs.List(ctx, status, page, limit)
}

// Backfill embeds up to limit items lacking embeddings. It holds the import
// lock so it never overlaps a run that rewrites the same items.
func (s *ImportService) Backfill(ctx context.Context, limit int) (int, error) {
	if s.deps.Backfiller == nil {
		return 0, ErrBackfillUnavailable
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	embedded, err := s.deps.Backfiller.Backfill(ctx, limit)
	log := s.logger.WithFields(logrus.Fields{"limit": limit, "embedded": embedded})
	if err != nil {
		log.WithError(err).Error("Embedding backfill failed")
		return embedded, err
	}
	log.Info("Embedding backfill completed")
	return embedded, nil
}

// acquire takes the import lock, mapping a held lock to ErrImportInProgress
func (s *ImportService) acquire(ctx context.Context) (func(), error) {
	release, err := s.deps.Lock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			return nil, ErrImportInProgress
		}
		return nil, fmt.Errorf("failed to acquire import lock: %w", err)
	}
	return release, nil
}

func (s *ImportService) execute(ctx context.Context, identity models.Identity, trigger models.ImportTrigger, source string, fn func(context.Context) (*models.ImportResult, error)) (*models.ImportRun, *models.ImportResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	run := &models.ImportRun{
		Status:      models.ImportStatusPending,
		Trigger:     trigger,
		Source:      source,
		TriggeredBy: identity.String(),
		StartedAt:   time.Now(),
	}
	if err := s.deps.Runs.Create(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("failed to record import run: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"run_id":       run.ID,
		"trigger":      trigger,
		"source":       source,
		"triggered_by": run.TriggeredBy,
	})
	log.Info("Dining import started")

	run.Status = models.ImportStatusProcessing
	if err := s.deps.Runs.Update(ctx, run); err != nil {
		log.WithError(err).Warn("Failed to mark import run as processing")
	}

	result, runErr := fn(ctx)

	// Bookkeeping must land even when the run was cancelled
	bgCtx := context.WithoutCancel(ctx)
	finished := time.Now()
	run.FinishedAt = &finished

	if runErr != nil {
		msg := runErr.Error()
		run.Status = models.ImportStatusFailed
		run.ErrorMessage = &msg
		s.saveRun(bgCtx, log, run)
		log.WithError(runErr).Error("Dining import failed")
		if s.deps.Publisher != nil {
			if err := s.deps.Publisher.PublishImportFailed(bgCtx, run, runErr); err != nil {
				log.WithError(err).Warn("Failed to publish import failed event")
			}
		}
		return run, nil, runErr
	}

	run.Status = models.ImportStatusCompleted
	if summary, err := json.Marshal(result); err == nil {
		run.Summary = datatypes.JSON(summary)
	}
	if len(result.Warnings) > 0 {
		if warnings, err := json.Marshal(result.Warnings); err == nil {
			run.Warnings = datatypes.JSON(warnings)
		}
	}
	s.saveRun(bgCtx, log, run)

	if s.deps.Catalog != nil {
		s.deps.Catalog.InvalidateCatalog(bgCtx)
	}
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishImportCompleted(bgCtx, run, result); err != nil {
			log.WithError(err).Warn("Failed to publish import completed event")
		}
	}

	return run, result, nil
}

func (s *ImportService) saveRun(ctx context.Context, log *logrus.Entry, run *models.ImportRun) {
	if err := s.deps.Runs.Update(ctx, run); err != nil {
		log.WithError(err).Error("Failed to save import run outcome")
	}
}
