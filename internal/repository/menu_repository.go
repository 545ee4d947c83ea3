package repository

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dining-service/internal/models"
	"github.com/Tesseract-Nexus/go-shared/cache"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("not found")

// Cache TTL constants
const (
	CatalogCacheTTL = 2 * time.Minute
	cacheKeyPrefix  = "dining:"
)

// MenuRepository persists dining vendors and menu items
type MenuRepository struct {
	db    *gorm.DB
	redis *redis.Client
	cache *cache.CacheLayer
}

// NewMenuRepository creates a repository. redis may be nil, which disables catalog caching.
func NewMenuRepository(db *gorm.DB, redisClient *redis.Client) *MenuRepository {
	repo := &MenuRepository{
		db:    db,
		redis: redisClient,
	}

	if redisClient != nil {
		cacheConfig := cache.CacheConfig{
			L1Enabled:  true,
			L1MaxItems: 1000,
			L1TTL:      30 * time.Second,
			DefaultTTL: CatalogCacheTTL,
			KeyPrefix:  cacheKeyPrefix,
		}
		repo.cache = cache.NewCacheLayerFromClient(redisClient, cacheConfig)
	}

	return repo
}

// generateListCacheKey creates a deterministic cache key for list queries
func generateListCacheKey(prefix string, params interface{}) string {
	data, _ := json.Marshal(params)
	hash := md5.Sum(data)
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(hash[:]))
}

// InvalidateCatalog drops every cached catalog read
func (r *MenuRepository) InvalidateCatalog(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.DeletePattern(ctx, "catalog:*")
}

// --- Import store operations ---

// FindVendorByName looks a vendor up by its unique name
func (r *MenuRepository) FindVendorByName(ctx context.Context, name string) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&vendor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vendor, nil
}

// UpsertVendor creates the vendor or updates source and location of the
// existing one with the same name. vendor.ID is set to the stored row's id.
func (r *MenuRepository) UpsertVendor(ctx context.Context, vendor *models.Vendor) error {
	now := time.Now()
	vendor.UpdatedAt = now

	if vendor.ID != uuid.Nil {
		return r.db.WithContext(ctx).Model(&models.Vendor{}).
			Where("id = ?", vendor.ID).
			Updates(map[string]interface{}{
				"source":     vendor.Source,
				"campus_loc": vendor.CampusLoc,
				"updated_at": now,
			}).Error
	}

	// A vendor created between lookup and insert resolves through the name index
	row := models.Vendor{
		ID:        uuid.New(),
		Name:      vendor.Name,
		Source:    vendor.Source,
		CampusLoc: vendor.CampusLoc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"source", "campus_loc", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return err
	}

	var stored models.Vendor
	if err := r.db.WithContext(ctx).Where("name = ?", vendor.Name).First(&stored).Error; err != nil {
		return err
	}
	vendor.ID = stored.ID
	vendor.CreatedAt = stored.CreatedAt
	return nil
}

// FindItemByVendorAndNormalizedName looks an item up by its dedup key
func (r *MenuRepository) FindItemByVendorAndNormalizedName(ctx context.Context, vendorID uuid.UUID, normalizedName string) (*models.MenuItem, error) {
	var item models.MenuItem
	err := r.db.WithContext(ctx).
		Where("vendor_id = ? AND normalized_name = ?", vendorID, normalizedName).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// InsertItem creates a menu item
func (r *MenuRepository) InsertItem(ctx context.Context, item *models.MenuItem) error {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	return r.db.WithContext(ctx).Create(item).Error
}

// UpdateItem overwrites the imported fields of an item. The embedding columns
// are only touched when invalidateEmbedding is set, and then cleared.
func (r *MenuRepository) UpdateItem(ctx context.Context, item *models.MenuItem, invalidateEmbedding bool) error {
	item.UpdatedAt = time.Now()
	updates := map[string]interface{}{
		"name":           item.Name,
		"description":    item.Description,
		"calories":       item.Calories,
		"protein_g":      item.ProteinG,
		"carbs_g":        item.CarbsG,
		"fat_g":          item.FatG,
		"price_usd":      item.PriceUSD,
		"tags":           item.Tags,
		"source_updated": item.SourceUpdated,
		"updated_at":     item.UpdatedAt,
	}
	if invalidateEmbedding {
		updates["embedding"] = nil
		updates["embedding_model"] = nil
		updates["embedded_at"] = nil
	}

	result := r.db.WithContext(ctx).Model(&models.MenuItem{}).
		Where("id = ?", item.ID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Embedding bookkeeping ---

// GetItemsByIDs retrieves items in a single query
func (r *MenuRepository) GetItemsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.MenuItem, error) {
	if len(ids) == 0 {
		return []models.MenuItem{}, nil
	}
	var items []models.MenuItem
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error
	return items, err
}

// ListItemsMissingEmbedding returns ids of items without a stored vector, oldest first
func (r *MenuRepository) ListItemsMissingEmbedding(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&models.MenuItem{}).
		Where("embedding IS NULL").
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// SetEmbedding stores the vector for an item that still has none and has not
// been updated since loadedAt. A vector computed from an older version of the
// item is discarded and reported as not stored. updated_at is left alone.
func (r *MenuRepository) SetEmbedding(ctx context.Context, id uuid.UUID, vector []byte, model string, loadedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.MenuItem{}).
		Where("id = ? AND embedding IS NULL AND updated_at <= ?", id, loadedAt).
		UpdateColumns(map[string]interface{}{
			"embedding":       vector,
			"embedding_model": model,
			"embedded_at":     time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// --- Catalog reads ---

// ListVendors returns every vendor with its item count, cached briefly
func (r *MenuRepository) ListVendors(ctx context.Context) ([]models.VendorSummary, error) {
	cacheKey := "catalog:vendors"
	if r.redis != nil {
		if val, err := r.redis.Get(ctx, cacheKeyPrefix+cacheKey).Result(); err == nil {
			var vendors []models.VendorSummary
			if err := json.Unmarshal([]byte(val), &vendors); err == nil {
				return vendors, nil
			}
		}
	}

	var vendors []models.VendorSummary
	err := r.db.WithContext(ctx).
		Table("dining_vendors v").
		Select("v.id, v.name, v.source, v.campus_loc, v.updated_at, COUNT(i.id) AS item_count").
		Joins("LEFT JOIN dining_menu_items i ON i.vendor_id = v.id").
		Group("v.id").
		Order("v.name ASC").
		Scan(&vendors).Error
	if err != nil {
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(vendors); err == nil {
			r.redis.Set(ctx, cacheKeyPrefix+cacheKey, data, CatalogCacheTTL)
		}
	}
	return vendors, nil
}

// GetVendorByID retrieves a vendor
func (r *MenuRepository) GetVendorByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&vendor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vendor, nil
}

type itemListPage struct {
	Items []models.MenuItem `json:"items"`
	Total int64             `json:"total"`
}

// ListItems returns a page of items matching the filters.
// filters.Query is matched against normalized names and must already be normalized.
func (r *MenuRepository) ListItems(ctx context.Context, filters models.ItemFilters, page, limit int) ([]models.MenuItem, int64, error) {
	cacheKey := generateListCacheKey("catalog:items", struct {
		Filters models.ItemFilters
		Page    int
		Limit   int
	}{filters, page, limit})

	if r.redis != nil {
		if val, err := r.redis.Get(ctx, cacheKeyPrefix+cacheKey).Result(); err == nil {
			var cached itemListPage
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return cached.Items, cached.Total, nil
			}
		}
	}

	query := r.db.WithContext(ctx).Model(&models.MenuItem{})
	if filters.VendorID != nil {
		query = query.Where("vendor_id = ?", *filters.VendorID)
	}
	if filters.Query != "" {
		query = query.Where("normalized_name LIKE ?", "%"+filters.Query+"%")
	}
	if filters.MaxCalories != nil {
		query = query.Where("calories <= ?", *filters.MaxCalories)
	}
	if filters.MinProtein != nil {
		query = query.Where("protein_g >= ?", *filters.MinProtein)
	}
	if filters.Tag != "" {
		query = query.Where("? = ANY(tags)", filters.Tag)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []models.MenuItem
	err := query.
		Order("name ASC").
		Limit(limit).
		Offset((page - 1) * limit).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(itemListPage{Items: items, Total: total}); err == nil {
			r.redis.Set(ctx, cacheKeyPrefix+cacheKey, data, CatalogCacheTTL)
		}
	}
	return items, total, nil
}
