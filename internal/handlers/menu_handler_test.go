package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dining-service/internal/models"
	"dining-service/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	vendors     []models.VendorSummary
	vendor      *models.Vendor
	items       []models.MenuItem
	err         error
	lastFilters models.ItemFilters
	lastPage    int
	lastLimit   int
}

func (f *fakeCatalog) ListVendors(ctx context.Context) ([]models.VendorSummary, error) {
	return f.vendors, f.err
}

func (f *fakeCatalog) GetVendorByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	if f.vendor == nil || f.vendor.ID != id {
		return nil, repository.ErrNotFound
	}
	return f.vendor, nil
}

func (f *fakeCatalog) ListItems(ctx context.Context, filters models.ItemFilters, page, limit int) ([]models.MenuItem, int64, error) {
	f.lastFilters, f.lastPage, f.lastLimit = filters, page, limit
	return f.items, int64(len(f.items)), f.err
}

func setupMenuRouter(catalog CatalogReader) *gin.Engine {
	router := gin.New()
	h := NewMenuHandler(catalog)
	dining := router.Group("/api/v1/dining")
	dining.GET("/vendors", h.ListVendors)
	dining.GET("/vendors/:id/items", h.ListVendorItems)
	dining.GET("/items/search", h.SearchItems)
	return router
}

func TestListVendors(t *testing.T) {
	catalog := &fakeCatalog{vendors: []models.VendorSummary{{ID: uuid.New(), Name: "Cafe A", ItemCount: 2}}}

	w := httptest.NewRecorder()
	setupMenuRouter(catalog).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/dining/vendors", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"itemCount":2`)
}

func TestListVendors_Error(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("db down")}

	w := httptest.NewRecorder()
	setupMenuRouter(catalog).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/dining/vendors", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListVendorItems(t *testing.T) {
	vendor := &models.Vendor{ID: uuid.New(), Name: "Cafe A"}
	catalog := &fakeCatalog{vendor: vendor, items: []models.MenuItem{{ID: uuid.New(), Name: "Chicken Bowl"}}}

	w := httptest.NewRecorder()
	url := "/api/v1/dining/vendors/" + vendor.ID.String() + "/items?maxCalories=600&page=1&limit=5"
	setupMenuRouter(catalog).ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, catalog.lastFilters.VendorID)
	assert.Equal(t, vendor.ID, *catalog.lastFilters.VendorID)
	require.NotNil(t, catalog.lastFilters.MaxCalories)
	assert.Equal(t, 600.0, *catalog.lastFilters.MaxCalories)
	assert.Equal(t, 5, catalog.lastLimit)
}

func TestListVendorItems_NotFoundAndInvalid(t *testing.T) {
	router := setupMenuRouter(&fakeCatalog{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/dining/vendors/"+uuid.NewString()+"/items", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/dining/vendors/not-a-uuid/items", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchItems_NormalizesQuery(t *testing.T) {
	catalog := &fakeCatalog{items: []models.MenuItem{}}

	w := httptest.NewRecorder()
	setupMenuRouter(catalog).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/dining/items/search?q=Chicken%20%20BOWL!&minProtein=20&tag=vegan", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "chicken bowl", catalog.lastFilters.Query)
	assert.Equal(t, "vegan", catalog.lastFilters.Tag)
	require.NotNil(t, catalog.lastFilters.MinProtein)
	assert.Equal(t, 20.0, *catalog.lastFilters.MinProtein)

	var resp models.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestSearchItems_Validation(t *testing.T) {
	router := setupMenuRouter(&fakeCatalog{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/dining/items/search?q=%21%21", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "QUERY_REQUIRED")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/dining/items/search?q=soup&maxCalories=lots", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_FILTER")
}

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"dining-service"}`, w.Body.String())
}
