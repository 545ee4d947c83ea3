package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dining-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Pipeline imports dining menu workbooks into the item store.
// A Pipeline is not safe for concurrent runs; callers serialize invocations.
type Pipeline struct {
	source   SourceReader
	store    ItemStore
	embedder EmbeddingService
	logger   *logrus.Entry
}

// NewPipeline creates a pipeline. embedder may be nil, in which case queued
// items are left for a later backfill.
func NewPipeline(source SourceReader, store ItemStore, embedder EmbeddingService, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		source:   source,
		store:    store,
		embedder: embedder,
		logger:   logger.WithField("component", "dining_import"),
	}
}

// Run reads the workbook at path and imports every valid sheet
func (p *Pipeline) Run(ctx context.Context, path string) (*models.ImportResult, error) {
	sheets, err := p.source.Open(ctx, path)
	if err != nil {
		if errors.Is(err, ErrSourceUnreadable) || errors.Is(err, ErrUnsupportedFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	return p.Process(ctx, sheets)
}

// Process imports already-read sheets. Per-row and per-item failures are
// counted; vendor-level store failures and cancellation abort the run.
func (p *Pipeline) Process(ctx context.Context, sheets []Sheet) (*models.ImportResult, error) {
	start := time.Now()
	result := &models.ImportResult{}

	rows := collectRows(sheets, result, p.logger)
	vendors, groups := groupByVendor(rows)

	engine := newUpsertEngine(p.store, p.logger, result)
	for _, vendor := range vendors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := engine.upsertVendor(ctx, vendor, groups[vendor]); err != nil {
			return nil, err
		}
	}

	result.Embedded = p.embed(ctx, engine.queue)

	p.logger.WithFields(logrus.Fields{
		"vendorsUpserted": result.VendorsUpserted,
		"itemsInserted":   result.ItemsInserted,
		"itemsUpdated":    result.ItemsUpdated,
		"embedded":        result.Embedded,
		"skipped":         result.Skipped,
		"rowsRead":        result.Diagnostics.RowsRead,
		"rowsDropped":     result.Diagnostics.RowsDropped,
		"durationMs":      time.Since(start).Milliseconds(),
	}).Info("Dining import completed")

	return result, nil
}

// collectRows resolves headers per sheet and normalizes the rows of every
// sheet that has both a vendor and an item name column
func collectRows(sheets []Sheet, result *models.ImportResult, logger *logrus.Entry) []RawRow {
	diag := &result.Diagnostics
	var rows []RawRow
	for _, sheet := range sheets {
		diag.SheetsRead++
		mapping := ResolveHeaders(sheet.Headers)
		if missing := mapping.Missing(); len(missing) > 0 {
			diag.SheetsSkipped++
			warning := fmt.Sprintf("sheet %q skipped: missing required columns %v", sheet.Name, missing)
			result.Warnings = append(result.Warnings, warning)
			logger.WithFields(logrus.Fields{
				"sheet":   sheet.Name,
				"headers": sheet.Headers,
				"missing": missing,
			}).Warn("Skipping sheet without required columns")
			continue
		}

		for _, row := range sheet.Rows {
			diag.RowsRead++
			raw, ok := NormalizeRow(row, mapping, diag)
			if !ok {
				diag.RowsDropped++
				continue
			}
			rows = append(rows, raw)
		}
	}
	return rows
}

// Preview is what a run over the sheets would write, computed without a store
type Preview struct {
	Vendors     []string                 `json:"vendors"`
	Items       int                      `json:"items"`
	Diagnostics models.ImportDiagnostics `json:"diagnostics"`
	Warnings    []string                 `json:"warnings,omitempty"`
}

// Validate resolves and normalizes sheets exactly as Process does. Items
// counts distinct (vendor, normalized name) keys.
func Validate(sheets []Sheet, logger *logrus.Logger) *Preview {
	result := &models.ImportResult{}
	rows := collectRows(sheets, result, logger.WithField("component", "dining_import_validate"))
	vendors, groups := groupByVendor(rows)

	items := 0
	for _, vendor := range vendors {
		seen := make(map[string]struct{})
		for _, row := range groups[vendor] {
			seen[NormalizeName(row.Name)] = struct{}{}
		}
		items += len(seen)
	}

	return &Preview{
		Vendors:     vendors,
		Items:       items,
		Diagnostics: result.Diagnostics,
		Warnings:    result.Warnings,
	}
}

// embed hands the queued ids to the embedding service. A failure there does
// not fail the import; the items stay unembedded until the next backfill.
func (p *Pipeline) embed(ctx context.Context, ids []uuid.UUID) int {
	if len(ids) == 0 {
		return 0
	}
	if p.embedder == nil {
		p.logger.WithField("queued", len(ids)).Warn("No embedding service configured, items left for backfill")
		return 0
	}
	embedded, err := p.embedder.EmbedItems(ctx, ids)
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"queued":   len(ids),
			"embedded": embedded,
		}).Error("Embedding generation failed")
	}
	return embedded
}

// groupByVendor buckets rows by vendor name, keeping first-seen vendor order
func groupByVendor(rows []RawRow) ([]string, map[string][]RawRow) {
	var order []string
	groups := make(map[string][]RawRow)
	for _, row := range rows {
		if _, ok := groups[row.Vendor]; !ok {
			order = append(order, row.Vendor)
		}
		groups[row.Vendor] = append(groups[row.Vendor], row)
	}
	return order, groups
}
