package importer

import (
	"context"
	"errors"
	"testing"

	"dining-service/internal/models"
	"dining-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ItemStore
type memStore struct {
	vendors map[string]*models.Vendor
	items   map[string]*models.MenuItem

	failVendor   error
	failItemName string
}

func newMemStore() *memStore {
	return &memStore{
		vendors: make(map[string]*models.Vendor),
		items:   make(map[string]*models.MenuItem),
	}
}

func itemKey(vendorID uuid.UUID, normalized string) string {
	return vendorID.String() + "|" + normalized
}

func (s *memStore) FindVendorByName(ctx context.Context, name string) (*models.Vendor, error) {
	if s.failVendor != nil {
		return nil, s.failVendor
	}
	v, ok := s.vendors[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *memStore) UpsertVendor(ctx context.Context, vendor *models.Vendor) error {
	if vendor.ID == uuid.Nil {
		vendor.ID = uuid.New()
	}
	cp := *vendor
	s.vendors[vendor.Name] = &cp
	return nil
}

func (s *memStore) FindItemByVendorAndNormalizedName(ctx context.Context, vendorID uuid.UUID, normalizedName string) (*models.MenuItem, error) {
	item, ok := s.items[itemKey(vendorID, normalizedName)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *memStore) InsertItem(ctx context.Context, item *models.MenuItem) error {
	if item.Name == s.failItemName {
		return errors.New("constraint violation")
	}
	item.ID = uuid.New()
	cp := *item
	s.items[itemKey(item.VendorID, item.NormalizedName)] = &cp
	return nil
}

func (s *memStore) UpdateItem(ctx context.Context, item *models.MenuItem, invalidateEmbedding bool) error {
	if item.Name == s.failItemName {
		return errors.New("constraint violation")
	}
	key := itemKey(item.VendorID, item.NormalizedName)
	stored := s.items[key]
	cp := *item
	if !invalidateEmbedding {
		cp.Embedding = stored.Embedding
		cp.EmbeddingModel = stored.EmbeddingModel
		cp.EmbeddedAt = stored.EmbeddedAt
	}
	s.items[key] = &cp
	return nil
}

func (s *memStore) item(vendor, name string) *models.MenuItem {
	v, ok := s.vendors[vendor]
	if !ok {
		return nil
	}
	return s.items[itemKey(v.ID, NormalizeName(name))]
}

func (s *memStore) byID(id uuid.UUID) *models.MenuItem {
	for _, item := range s.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// stubEmbedder stores a fixed vector on every item it is asked to embed
type stubEmbedder struct {
	store *memStore
	calls [][]uuid.UUID
	err   error
	limit int
}

func (e *stubEmbedder) EmbedItems(ctx context.Context, ids []uuid.UUID) (int, error) {
	e.calls = append(e.calls, ids)
	n := 0
	for _, id := range ids {
		if e.limit > 0 && n >= e.limit {
			break
		}
		if item := e.store.byID(id); item != nil {
			item.Embedding = []byte{1, 2, 3, 4}
			n++
		}
	}
	return n, e.err
}

func newTestPipeline(store *memStore, embedder EmbeddingService) *Pipeline {
	logger, _ := test.NewNullLogger()
	return NewPipeline(NewFileSource(), store, embedder, logger)
}

func menuSheet(rows ...[]any) Sheet {
	headers := []string{"Vendor", "Item Name", "Description", "Calories", "Protein (g)"}
	sheet := Sheet{Name: "Menu", Headers: headers}
	for i, r := range rows {
		cells := make(map[string]any)
		for j, v := range r {
			if v != nil {
				cells[headers[j]] = v
			}
		}
		sheet.Rows = append(sheet.Rows, Row{Sheet: "Menu", Line: i + 2, Cells: cells})
	}
	return sheet
}

func TestProcess_TwoVendorsThenReimport(t *testing.T) {
	store := newMemStore()
	embedder := &stubEmbedder{store: store}
	p := newTestPipeline(store, embedder)
	sheet := menuSheet(
		[]any{"Cafe A", "Chicken Bowl", nil, "450 kcal", "30g"},
		[]any{"Cafe B", "Veggie Wrap", nil, 380.0, 12.0},
	)

	result, err := p.Process(context.Background(), []Sheet{sheet})
	require.NoError(t, err)
	assert.Equal(t, 2, result.VendorsUpserted)
	assert.Equal(t, 2, result.ItemsInserted)
	assert.Equal(t, 0, result.ItemsUpdated)
	assert.Equal(t, 2, result.Embedded)
	assert.Equal(t, 0, result.Skipped)

	result, err = p.Process(context.Background(), []Sheet{sheet})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ItemsInserted)
	assert.Equal(t, 2, result.ItemsUpdated)
	assert.Equal(t, 0, result.Embedded)
	assert.Len(t, embedder.calls, 1, "unchanged items must not reach the embedder")

	item := store.item("Cafe A", "Chicken Bowl")
	require.NotNil(t, item)
	assert.True(t, item.HasEmbedding())
	assert.Equal(t, models.SourceCampusDining, store.vendors["Cafe A"].Source)
}

func TestProcess_DescriptionChangeKeepsEmbedding(t *testing.T) {
	store := newMemStore()
	embedder := &stubEmbedder{store: store}
	p := newTestPipeline(store, embedder)

	_, err := p.Process(context.Background(), []Sheet{menuSheet([]any{"Cafe A", "Chicken Bowl", "grilled", 450.0, 30.0})})
	require.NoError(t, err)

	result, err := p.Process(context.Background(), []Sheet{menuSheet([]any{"Cafe A", "Chicken Bowl", "grilled, with rice", 450.0, 30.0})})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ItemsUpdated)
	assert.Equal(t, 0, result.Embedded)
	item := store.item("Cafe A", "Chicken Bowl")
	assert.True(t, item.HasEmbedding())
	require.NotNil(t, item.Description)
	assert.Equal(t, "grilled, with rice", *item.Description)
}

func TestProcess_CalorieChangeInvalidatesEmbedding(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store, nil)
	seeded := newTestPipeline(store, &stubEmbedder{store: store})

	_, err := seeded.Process(context.Background(), []Sheet{menuSheet([]any{"Cafe A", "Chicken Bowl", nil, 450.0, 30.0})})
	require.NoError(t, err)
	require.True(t, store.item("Cafe A", "Chicken Bowl").HasEmbedding())

	result, err := p.Process(context.Background(), []Sheet{menuSheet([]any{"Cafe A", "Chicken Bowl", nil, 520.0, 30.0})})
	require.NoError(t, err)

	assert.Equal(t, 1, result.ItemsUpdated)
	assert.Equal(t, 0, result.Embedded)
	item := store.item("Cafe A", "Chicken Bowl")
	assert.False(t, item.HasEmbedding())
	assert.Equal(t, 520.0, *item.Calories)
}

func TestProcess_AbsentNumbersCompareEqual(t *testing.T) {
	store := newMemStore()
	embedder := &stubEmbedder{store: store}
	p := newTestPipeline(store, embedder)
	sheet := menuSheet([]any{"Cafe A", "Toast", nil, nil, "N/A"})

	_, err := p.Process(context.Background(), []Sheet{sheet})
	require.NoError(t, err)
	result, err := p.Process(context.Background(), []Sheet{sheet})
	require.NoError(t, err)

	assert.Equal(t, 0, result.Embedded)
	assert.Len(t, embedder.calls, 1)

	// absent -> present differs
	result, err = p.Process(context.Background(), []Sheet{menuSheet([]any{"Cafe A", "Toast", nil, 90.0, nil})})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Embedded)
}

func TestProcess_DuplicateRowsInBatch(t *testing.T) {
	store := newMemStore()
	embedder := &stubEmbedder{store: store}
	p := newTestPipeline(store, embedder)

	result, err := p.Process(context.Background(), []Sheet{menuSheet(
		[]any{"Cafe A", "Chicken Bowl", nil, 450.0, 30.0},
		[]any{"Cafe A", "chicken  bowl!", nil, 470.0, 30.0},
	)})
	require.NoError(t, err)

	assert.Equal(t, 1, result.VendorsUpserted)
	assert.Equal(t, 1, result.ItemsInserted)
	assert.Equal(t, 1, result.ItemsUpdated)
	assert.Equal(t, 1, result.Embedded, "the same id is queued once")
	require.Len(t, embedder.calls, 1)
	assert.Len(t, embedder.calls[0], 1)

	item := store.item("Cafe A", "Chicken Bowl")
	assert.Equal(t, "chicken  bowl!", item.Name)
	assert.Equal(t, 470.0, *item.Calories)
}

func TestProcess_SheetRejectedSilently(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store, &stubEmbedder{store: store})
	notes := Sheet{Name: "Notes", Headers: []string{"Remarks"}, Rows: []Row{{Cells: map[string]any{"Remarks": "x"}}}}

	result, err := p.Process(context.Background(), []Sheet{notes, menuSheet([]any{"Cafe A", "Soup", nil, nil, nil})})

	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsInserted)
	assert.Equal(t, 2, result.Diagnostics.SheetsRead)
	assert.Equal(t, 1, result.Diagnostics.SheetsSkipped)
	assert.Equal(t, 1, result.Diagnostics.RowsRead)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Notes")
}

func TestProcess_DroppedRowsCounted(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store, nil)

	result, err := p.Process(context.Background(), []Sheet{menuSheet(
		[]any{"Cafe A", "Soup", nil, nil, nil},
		[]any{nil, "Orphan", nil, nil, nil},
		[]any{"Cafe A", "   ", nil, nil, nil},
	)})

	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemsInserted)
	assert.Equal(t, 3, result.Diagnostics.RowsRead)
	assert.Equal(t, 2, result.Diagnostics.RowsDropped)
}

func TestProcess_ItemFailureSkipped(t *testing.T) {
	store := newMemStore()
	store.failItemName = "Bad Item"
	logger, hook := test.NewNullLogger()
	p := NewPipeline(NewFileSource(), store, nil, logger)

	result, err := p.Process(context.Background(), []Sheet{menuSheet(
		[]any{"Cafe A", "Bad Item", nil, nil, nil},
		[]any{"Cafe A", "Good Item", nil, nil, nil},
	)})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.ItemsInserted)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["item"] == "Bad Item" {
			warned = true
		}
	}
	assert.True(t, warned, "item failure is logged with the item name")
}

func TestProcess_VendorFailureIsFatal(t *testing.T) {
	store := newMemStore()
	store.failVendor = errors.New("connection refused")
	p := newTestPipeline(store, nil)

	result, err := p.Process(context.Background(), []Sheet{menuSheet([]any{"Cafe A", "Soup", nil, nil, nil})})

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Nil(t, result)
}

func TestProcess_Cancelled(t *testing.T) {
	store := newMemStore()
	p := newTestPipeline(store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Process(ctx, []Sheet{menuSheet([]any{"Cafe A", "Soup", nil, nil, nil})})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	assert.Empty(t, store.items)
}

func TestProcess_EmbeddingFailureDoesNotFailImport(t *testing.T) {
	store := newMemStore()
	embedder := &stubEmbedder{store: store, err: errors.New("embedding API down"), limit: 1}
	p := newTestPipeline(store, embedder)

	result, err := p.Process(context.Background(), []Sheet{menuSheet(
		[]any{"Cafe A", "Soup", nil, nil, nil},
		[]any{"Cafe A", "Salad", nil, nil, nil},
	)})

	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsInserted)
	assert.Equal(t, 1, result.Embedded)
}

func TestProcess_EmptyQueueSkipsEmbedder(t *testing.T) {
	store := newMemStore()
	embedder := &stubEmbedder{store: store}
	p := newTestPipeline(store, embedder)

	result, err := p.Process(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, models.ImportResult{}, *result)
	assert.Empty(t, embedder.calls)
}

func TestRun_XLSXEndToEnd(t *testing.T) {
	path := writeWorkbook(t, map[string][][]any{
		"West": {
			{"Dining Hall", "Campus", "Dish", "Energy (kcal)", "Protein", "Price", "Dietary", "Updated"},
			{"Cafe A", "West", "Chicken Bowl", 450, "30g", "$8.99", "gluten-free; high-protein", 45536},
		},
		"East": {
			{"Restaurant", "Menu Item", "Calories"},
			{"Cafe B", "Veggie Wrap", "380 kcal"},
		},
	}, "West", "East")
	store := newMemStore()
	p := newTestPipeline(store, &stubEmbedder{store: store})

	result, err := p.Run(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, 2, result.VendorsUpserted)
	assert.Equal(t, 2, result.ItemsInserted)
	assert.Equal(t, 2, result.Embedded)

	item := store.item("Cafe A", "Chicken Bowl")
	require.NotNil(t, item)
	assert.Equal(t, 450.0, *item.Calories)
	assert.Equal(t, 30.0, *item.ProteinG)
	assert.Equal(t, 8.99, *item.PriceUSD)
	assert.Equal(t, []string{"gluten-free", "high-protein"}, []string(item.Tags))
	require.NotNil(t, item.SourceUpdated)
	assert.Equal(t, 2024, item.SourceUpdated.Year())
	require.NotNil(t, store.vendors["Cafe A"].CampusLoc)
	assert.Equal(t, "West", *store.vendors["Cafe A"].CampusLoc)
}

func TestRun_UnreadableSource(t *testing.T) {
	p := newTestPipeline(newMemStore(), nil)

	_, err := p.Run(context.Background(), "/does/not/exist.xlsx")

	assert.ErrorIs(t, err, ErrSourceUnreadable)
}

func TestValidate(t *testing.T) {
	logger, _ := test.NewNullLogger()
	preview := Validate([]Sheet{menuSheet(
		[]any{"Cafe A", "Soup", nil, nil, nil},
		[]any{"Cafe A", "SOUP", nil, nil, nil},
		[]any{"Cafe B", "Soup", nil, "lots", nil},
	)}, logger)

	assert.Equal(t, []string{"Cafe A", "Cafe B"}, preview.Vendors)
	assert.Equal(t, 2, preview.Items)
	assert.Equal(t, 1, preview.Diagnostics.NumericParseFailures)
}
