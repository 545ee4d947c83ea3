package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"dining-service/internal/models"
	"github.com/xuri/excelize/v2"
)

var (
	ErrSourceUnreadable  = errors.New("import source unreadable")
	ErrUnsupportedFormat = errors.New("unsupported import format")
)

// Row is one data row of a sheet, keyed by header text.
// Cell values are strings or float64.
type Row struct {
	Sheet string
	Line  int
	Cells map[string]any
}

// Sheet is one tab of a workbook. A CSV file is a single sheet.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []Row
}

// SourceReader opens a workbook and returns its sheets in order
type SourceReader interface {
	Open(ctx context.Context, path string) ([]Sheet, error)
}

// FileSource reads XLSX and CSV files from the local filesystem
type FileSource struct{}

// NewFileSource creates a filesystem workbook reader
func NewFileSource() *FileSource {
	return &FileSource{}
}

// Open reads every sheet of the workbook at path
func (s *FileSource) Open(ctx context.Context, path string) ([]Sheet, error) {
	format, err := FormatFromFilename(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	defer file.Close()

	return ReadWorkbook(ctx, file, format, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// FormatFromFilename determines the workbook format from its extension
func FormatFromFilename(name string) (models.ImportFormat, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return models.ImportFormatCSV, nil
	case strings.HasSuffix(lower, ".xlsx"):
		return models.ImportFormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %s (only CSV and XLSX files are supported)", ErrUnsupportedFormat, filepath.Base(name))
	}
}

// ReadWorkbook parses a workbook stream. name labels the sheet of a CSV file.
func ReadWorkbook(ctx context.Context, r io.Reader, format models.ImportFormat, name string) ([]Sheet, error) {
	switch format {
	case models.ImportFormatCSV:
		sheet, err := parseCSV(r, name)
		if err != nil {
			return nil, err
		}
		return []Sheet{sheet}, nil
	case models.ImportFormatXLSX:
		return parseXLSX(ctx, r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// parseCSV parses a CSV file into a single sheet
func parseCSV(r io.Reader, name string) (Sheet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return Sheet{Name: name}, nil
		}
		return Sheet{}, fmt.Errorf("%w: failed to read CSV header: %v", ErrSourceUnreadable, err)
	}
	headers = cleanHeaders(headers)

	sheet := Sheet{Name: name, Headers: headers}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return Sheet{}, fmt.Errorf("%w: error reading line %d: %v", ErrSourceUnreadable, line, err)
		}
		if row, ok := buildRow(name, line, headers, record, false); ok {
			sheet.Rows = append(sheet.Rows, row)
		}
	}
	return sheet, nil
}

// parseXLSX parses every sheet of an Excel file. Cells are read raw so
// dates arrive as serial numbers and numeric cells keep full precision.
func parseXLSX(ctx context.Context, r io.Reader) ([]Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open Excel file: %v", ErrSourceUnreadable, err)
	}
	defer f.Close()

	var sheets []Sheet
	for _, name := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		excelRows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read sheet %q: %v", ErrSourceUnreadable, name, err)
		}
		sheet := Sheet{Name: name}
		if len(excelRows) == 0 {
			sheets = append(sheets, sheet)
			continue
		}
		sheet.Headers = cleanHeaders(excelRows[0])
		for i, excelRow := range excelRows[1:] {
			// 1-indexed, +1 for header
			if row, ok := buildRow(name, i+2, sheet.Headers, excelRow, true); ok {
				sheet.Rows = append(sheet.Rows, row)
			}
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

func cleanHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimPrefix(h, "\ufeff")
		// template marks required columns with " *"
		out[i] = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(h), " *"))
	}
	return out
}

// buildRow keys a record by header. Blank rows are skipped. When typed is set,
// numeric-looking cells become float64 (raw XLSX values); CSV stays text.
func buildRow(sheet string, line int, headers, record []string, typed bool) (Row, bool) {
	row := Row{Sheet: sheet, Line: line, Cells: make(map[string]any, len(headers))}
	blank := true
	for i, value := range record {
		if i >= len(headers) || headers[i] == "" {
			continue
		}
		if _, dup := row.Cells[headers[i]]; dup {
			continue
		}
		value = strings.TrimSpace(value)
		if value != "" {
			blank = false
		}
		if typed && value != "" {
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				row.Cells[headers[i]] = n
				continue
			}
		}
		row.Cells[headers[i]] = value
	}
	return row, !blank
}
