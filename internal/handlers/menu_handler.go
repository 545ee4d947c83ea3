package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"dining-service/internal/importer"
	"dining-service/internal/models"
	"dining-service/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CatalogReader is the read side of the menu repository
type CatalogReader interface {
	ListVendors(ctx context.Context) ([]models.VendorSummary, error)
	GetVendorByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	ListItems(ctx context.Context, filters models.ItemFilters, page, limit int) ([]models.MenuItem, int64, error)
}

// MenuHandler serves the imported dining catalog
type MenuHandler struct {
	catalog CatalogReader
}

// NewMenuHandler creates a new menu handler
func NewMenuHandler(catalog CatalogReader) *MenuHandler {
	return &MenuHandler{catalog: catalog}
}

// ListVendors returns all dining vendors with item counts
// GET /api/v1/dining/vendors
func (h *MenuHandler) ListVendors(c *gin.Context) {
	vendors, err := h.catalog.ListVendors(c.Request.Context())
	if err != nil {
		respondFetchError(c, "Failed to retrieve vendors")
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    vendors,
	})
}

// ListVendorItems returns a page of a vendor's menu items
// GET /api/v1/dining/vendors/:id/items
func (h *MenuHandler) ListVendorItems(c *gin.Context) {
	vendorID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "INVALID_ID",
				Message: "Invalid vendor ID",
				Field:   "id",
			},
		})
		return
	}

	if _, err := h.catalog.GetVendorByID(c.Request.Context(), vendorID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "NOT_FOUND",
					Message: "Vendor not found",
				},
			})
			return
		}
		respondFetchError(c, "Failed to retrieve vendor")
		return
	}

	filters, ok := parseItemFilters(c)
	if !ok {
		return
	}
	filters.VendorID = &vendorID
	h.listItems(c, filters)
}

// SearchItems finds items by name across vendors
// GET /api/v1/dining/items/search?q=chicken&maxCalories=600&minProtein=20&tag=vegan
func (h *MenuHandler) SearchItems(c *gin.Context) {
	filters, ok := parseItemFilters(c)
	if !ok {
		return
	}
	if filters.Query == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "QUERY_REQUIRED",
				Message: "Search query is required",
				Field:   "q",
			},
		})
		return
	}
	h.listItems(c, filters)
}

func (h *MenuHandler) listItems(c *gin.Context, filters models.ItemFilters) {
	page, limit := parsePagination(c)

	items, total, err := h.catalog.ListItems(c.Request.Context(), filters, page, limit)
	if err != nil {
		respondFetchError(c, "Failed to retrieve menu items")
		return
	}

	c.JSON(http.StatusOK, models.ListResponse{
		Success:    true,
		Data:       items,
		Pagination: models.NewPaginationInfo(page, limit, total),
	})
}

// parseItemFilters reads the optional filter params. The search text is
// normalized the same way item names are, so matching ignores case and punctuation.
func parseItemFilters(c *gin.Context) (models.ItemFilters, bool) {
	filters := models.ItemFilters{
		Query: importer.NormalizeName(c.Query("q")),
		Tag:   c.Query("tag"),
	}

	for param, target := range map[string]**float64{
		"maxCalories": &filters.MaxCalories,
		"minProtein":  &filters.MinProtein,
	} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "INVALID_FILTER",
					Message: "Filter must be a number",
					Field:   param,
				},
			})
			return filters, false
		}
		*target = &v
	}
	return filters, true
}

func respondFetchError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    "FETCH_FAILED",
			Message: message,
		},
	})
}
