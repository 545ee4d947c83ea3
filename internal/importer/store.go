package importer

import (
	"context"

	"dining-service/internal/models"
	"github.com/google/uuid"
)

// ItemStore is the persistence the upsert engine writes through.
// FindVendorByName and FindItemByVendorAndNormalizedName return
// repository.ErrNotFound when nothing matches.
type ItemStore interface {
	FindVendorByName(ctx context.Context, name string) (*models.Vendor, error)
	UpsertVendor(ctx context.Context, vendor *models.Vendor) error
	FindItemByVendorAndNormalizedName(ctx context.Context, vendorID uuid.UUID, normalizedName string) (*models.MenuItem, error)
	InsertItem(ctx context.Context, item *models.MenuItem) error
	UpdateItem(ctx context.Context, item *models.MenuItem, invalidateEmbedding bool) error
}

// EmbeddingService generates and stores embeddings for the given items and
// returns how many were stored. Retries are its own concern.
type EmbeddingService interface {
	EmbedItems(ctx context.Context, ids []uuid.UUID) (int, error)
}
