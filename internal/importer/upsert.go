package importer

import (
	"context"
	"errors"
	"fmt"

	"dining-service/internal/models"
	"dining-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrStoreUnavailable marks vendor-level store failures, which abort the run
var ErrStoreUnavailable = errors.New("item store unavailable")

// upsertEngine writes vendors and items one at a time and records which
// items need a fresh embedding
type upsertEngine struct {
	store  ItemStore
	logger *logrus.Entry
	result *models.ImportResult
	queue  []uuid.UUID
	queued map[uuid.UUID]struct{}
}

func newUpsertEngine(store ItemStore, logger *logrus.Entry, result *models.ImportResult) *upsertEngine {
	return &upsertEngine{
		store:  store,
		logger: logger,
		result: result,
		queued: make(map[uuid.UUID]struct{}),
	}
}

// upsertVendor writes the vendor and then each of its rows in order.
// Only vendor-level and context errors are returned.
func (e *upsertEngine) upsertVendor(ctx context.Context, name string, rows []RawRow) error {
	if len(rows) == 0 {
		return nil
	}

	vendor, err := e.store.FindVendorByName(ctx, name)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: find vendor %q: %v", ErrStoreUnavailable, name, err)
		}
		vendor = &models.Vendor{Name: name}
	}
	vendor.Source = models.SourceCampusDining
	vendor.CampusLoc = rows[0].CampusLoc

	if err := e.store.UpsertVendor(ctx, vendor); err != nil {
		return fmt.Errorf("%w: upsert vendor %q: %v", ErrStoreUnavailable, name, err)
	}
	e.result.VendorsUpserted++

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.upsertItem(ctx, vendor.ID, row); err != nil {
			e.result.Skipped++
			e.logger.WithError(err).WithFields(logrus.Fields{
				"vendor": name,
				"item":   row.Name,
				"sheet":  row.Sheet,
				"line":   row.Line,
			}).Warn("Failed to upsert menu item, skipping")
		}
	}
	return nil
}

func (e *upsertEngine) upsertItem(ctx context.Context, vendorID uuid.UUID, row RawRow) error {
	normalized := NormalizeName(row.Name)

	existing, err := e.store.FindItemByVendorAndNormalizedName(ctx, vendorID, normalized)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("find item: %w", err)
	}

	if existing == nil {
		item := &models.MenuItem{
			VendorID:       vendorID,
			Name:           row.Name,
			NormalizedName: normalized,
			Description:    row.Description,
			Calories:       row.Calories,
			ProteinG:       row.ProteinG,
			CarbsG:         row.CarbsG,
			FatG:           row.FatG,
			PriceUSD:       row.PriceUSD,
			Tags:           row.Tags,
			SourceUpdated:  row.UpdatedAt,
		}
		if err := e.store.InsertItem(ctx, item); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		e.result.ItemsInserted++
		e.enqueue(item.ID)
		return nil
	}

	invalidate := embeddingFieldsChanged(existing, row)

	existing.Name = row.Name
	existing.Calories = row.Calories
	existing.ProteinG = row.ProteinG
	existing.Description = row.Description
	existing.CarbsG = row.CarbsG
	existing.FatG = row.FatG
	existing.PriceUSD = row.PriceUSD
	existing.Tags = row.Tags
	existing.SourceUpdated = row.UpdatedAt
	if invalidate {
		existing.Embedding = nil
		existing.EmbeddingModel = nil
		existing.EmbeddedAt = nil
	}

	if err := e.store.UpdateItem(ctx, existing, invalidate); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	e.result.ItemsUpdated++
	if invalidate {
		e.enqueue(existing.ID)
	}
	return nil
}

func (e *upsertEngine) enqueue(id uuid.UUID) {
	if _, ok := e.queued[id]; ok {
		return
	}
	e.queued[id] = struct{}{}
	e.queue = append(e.queue, id)
}

// embeddingFieldsChanged reports whether the fields the embedding text is
// built from differ between the stored item and the incoming row
func embeddingFieldsChanged(stored *models.MenuItem, row RawRow) bool {
	return stored.Name != row.Name ||
		!sameNumber(stored.Calories, row.Calories) ||
		!sameNumber(stored.ProteinG, row.ProteinG)
}

func sameNumber(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
