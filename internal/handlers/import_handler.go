package handlers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"dining-service/internal/importer"
	"dining-service/internal/middleware"
	"dining-service/internal/models"
	"dining-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const (
	defaultBackfillLimit = 500
	maxBackfillLimit     = 5000
	maxUploadBytes       = 20 << 20
)

// ImportRunner is the import service surface used by the admin handlers
type ImportRunner interface {
	RunFromPath(ctx context.Context, identity models.Identity, trigger models.ImportTrigger, path string) (*models.ImportRun, *models.ImportResult, error)
	RunFromUpload(ctx context.Context, identity models.Identity, filename string, r io.Reader) (*models.ImportRun, *models.ImportResult, error)
	ListRuns(ctx context.Context, status models.ImportStatus, page, limit int) ([]models.ImportRun, int64, error)
	Backfill(ctx context.Context, limit int) (int, error)
}

// errPathNotAllowed rejects a requested workbook outside the import directory
var errPathNotAllowed = errors.New("path is outside the import directory")

// ImportHandler exposes the dining import pipeline to administrators
type ImportHandler struct {
	service   ImportRunner
	importDir string
}

// NewImportHandler creates a new import handler. importDir bounds the paths
// an administrator may request; when empty only the configured default
// workbook can be imported by path.
func NewImportHandler(service ImportRunner, importDir string) *ImportHandler {
	return &ImportHandler{service: service, importDir: importDir}
}

// TriggerImportRequest is the optional body of the admin trigger
type TriggerImportRequest struct {
	Path string `json:"path"`
}

// ImportResponse is returned by both import endpoints
type ImportResponse struct {
	Success bool                 `json:"success"`
	RunID   string               `json:"runId"`
	Data    *models.ImportResult `json:"data"`
}

// TriggerImport runs the pipeline on the configured workbook or the given path
// POST /api/v1/admin/dining/import
func (h *ImportHandler) TriggerImport(c *gin.Context) {
	var req TriggerImportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "INVALID_REQUEST",
					Message: err.Error(),
				},
			})
			return
		}
	}

	path := strings.TrimSpace(req.Path)
	if path != "" {
		resolved, err := resolveImportPath(h.importDir, path)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "PATH_NOT_ALLOWED",
					Message: err.Error(),
					Field:   "path",
				},
			})
			return
		}
		path = resolved
	}

	run, result, err := h.service.RunFromPath(c.Request.Context(), middleware.GetIdentity(c), models.ImportTriggerAdmin, path)
	if err != nil {
		respondImportError(c, err)
		return
	}

	c.JSON(http.StatusOK, ImportResponse{Success: true, RunID: run.ID.String(), Data: result})
}

// UploadImport runs the pipeline on an uploaded CSV or Excel file
// POST /api/v1/admin/dining/import/upload
func (h *ImportHandler) UploadImport(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FILE_REQUIRED",
				Message: "Please upload a CSV or Excel file",
			},
		})
		return
	}
	defer file.Close()

	run, result, err := h.service.RunFromUpload(c.Request.Context(), middleware.GetIdentity(c), header.Filename, file)
	if err != nil {
		respondImportError(c, err)
		return
	}

	c.JSON(http.StatusOK, ImportResponse{Success: true, RunID: run.ID.String(), Data: result})
}

// ListImportRuns returns recent import runs
// GET /api/v1/admin/dining/imports
func (h *ImportHandler) ListImportRuns(c *gin.Context) {
	page, limit := parsePagination(c)
	status := models.ImportStatus(strings.ToUpper(c.Query("status")))

	runs, total, err := h.service.ListRuns(c.Request.Context(), status, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FETCH_FAILED",
				Message: "Failed to retrieve import runs",
			},
		})
		return
	}

	c.JSON(http.StatusOK, models.ListResponse{
		Success:    true,
		Data:       runs,
		Pagination: models.NewPaginationInfo(page, limit, total),
	})
}

// BackfillEmbeddings embeds items that have no stored vector
// POST /api/v1/admin/dining/embeddings/backfill?limit=500
func (h *ImportHandler) BackfillEmbeddings(c *gin.Context) {
	limit := defaultBackfillLimit
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = min(l, maxBackfillLimit)
	}

	embedded, err := h.service.Backfill(c.Request.Context(), limit)
	if err != nil {
		status := http.StatusBadGateway
		code := "BACKFILL_FAILED"
		switch {
		case errors.Is(err, services.ErrBackfillUnavailable):
			status, code = http.StatusServiceUnavailable, "EMBEDDING_UNAVAILABLE"
		case errors.Is(err, services.ErrImportInProgress):
			status, code = http.StatusConflict, "IMPORT_IN_PROGRESS"
		}
		c.JSON(status, gin.H{
			"success":  false,
			"embedded": embedded,
			"error":    models.Error{Code: code, Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"embedded": embedded,
	})
}

// GetImportTemplate returns the import template definition or file
// GET /api/v1/admin/dining/import/template?format=json|csv|xlsx
func (h *ImportHandler) GetImportTemplate(c *gin.Context) {
	template := models.DiningImportTemplate()

	switch c.DefaultQuery("format", "json") {
	case "csv":
		h.generateCSVTemplate(c, template)
	case "xlsx":
		h.generateXLSXTemplate(c, template)
	default:
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"template": template,
		})
	}
}

// generateCSVTemplate writes the header row only
func (h *ImportHandler) generateCSVTemplate(c *gin.Context, template models.ImportTemplate) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=dining_menu_import_template.csv")

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	headers := make([]string, len(template.Columns))
	for i, col := range template.Columns {
		headers[i] = col.Name
	}
	writer.Write(headers)
}

// generateXLSXTemplate writes a styled header row plus an Instructions sheet
func (h *ImportHandler) generateXLSXTemplate(c *gin.Context, template models.ImportTemplate) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Menu"
	f.SetSheetName("Sheet1", sheetName)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	requiredStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	// Required headers get a " *" suffix, which the importer strips again
	for i, col := range template.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		headerText := col.Name
		style := headerStyle
		if col.Required {
			headerText = col.Name + " *"
			style = requiredStyle
		}
		f.SetCellValue(sheetName, cell, headerText)
		f.SetCellStyle(sheetName, cell, cell, style)

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, colName, colName, 20)
	}

	f.NewSheet("Instructions")
	f.SetCellValue("Instructions", "A1", "Dining Menu Import Instructions")

	f.SetCellValue("Instructions", "A3", "HOW ROWS ARE MATCHED:")
	f.SetCellValue("Instructions", "A4", "- Column headers are matched by keyword, so 'Restaurant' or 'Dining Hall' work for Vendor and 'Dish' works for Item Name.")
	f.SetCellValue("Instructions", "A5", "- Every sheet with a vendor and an item name column is imported; other sheets are skipped.")
	f.SetCellValue("Instructions", "A6", "- Items are matched to existing ones by vendor and name, ignoring case and punctuation.")
	f.SetCellValue("Instructions", "A7", "- Rows without a vendor or item name are ignored.")

	f.SetCellValue("Instructions", "A9", "NUMBERS:")
	f.SetCellValue("Instructions", "A10", "Units and currency symbols are stripped: '450 kcal', '30g' and '$8.99' are all accepted. Unreadable values are left empty.")

	f.SetCellValue("Instructions", "A12", "Column Definitions:")
	f.SetCellValue("Instructions", "A13", "Column")
	f.SetCellValue("Instructions", "B13", "Description")
	f.SetCellValue("Instructions", "C13", "Required")
	f.SetCellValue("Instructions", "D13", "Type")
	f.SetCellValue("Instructions", "E13", "Example")

	for i, col := range template.Columns {
		row := i + 14
		f.SetCellValue("Instructions", fmt.Sprintf("A%d", row), col.Name)
		f.SetCellValue("Instructions", fmt.Sprintf("B%d", row), col.Description)
		required := "Optional"
		if col.Required {
			required = "Required"
		}
		f.SetCellValue("Instructions", fmt.Sprintf("C%d", row), required)
		f.SetCellValue("Instructions", fmt.Sprintf("D%d", row), col.Type)
		f.SetCellValue("Instructions", fmt.Sprintf("E%d", row), col.Example)
	}

	f.SetColWidth("Instructions", "A", "A", 25)
	f.SetColWidth("Instructions", "B", "B", 60)
	f.SetColWidth("Instructions", "C", "D", 15)
	f.SetColWidth("Instructions", "E", "E", 30)

	sheetIdx, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(sheetIdx)

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=dining_menu_import_template.xlsx")

	f.Write(c.Writer)
}

// respondImportError maps pipeline and service errors to HTTP responses
func respondImportError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "IMPORT_FAILED"

	switch {
	case errors.Is(err, services.ErrImportInProgress):
		status, code = http.StatusConflict, "IMPORT_IN_PROGRESS"
	case errors.Is(err, importer.ErrUnsupportedFormat):
		status, code = http.StatusBadRequest, "INVALID_FORMAT"
	case errors.Is(err, importer.ErrSourceUnreadable):
		status, code = http.StatusBadRequest, "SOURCE_UNREADABLE"
	case errors.Is(err, services.ErrNoSourcePath):
		status, code = http.StatusBadRequest, "PATH_REQUIRED"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "IMPORT_CANCELLED"
	}

	c.JSON(status, models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    code,
			Message: err.Error(),
		},
	})
}

// resolveImportPath confines a requested path to dir. Relative paths are
// taken relative to dir; symlinks are followed when the file exists.
func resolveImportPath(dir, path string) (string, error) {
	if dir == "" {
		return "", errPathNotAllowed
	}
	base, err := filepath.Abs(dir)
	if err != nil {
		return "", errPathNotAllowed
	}
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(base, target)
	}
	target = filepath.Clean(target)

	if !withinDir(base, target) {
		return "", errPathNotAllowed
	}
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		realBase, err := filepath.EvalSymlinks(base)
		if err != nil || !withinDir(realBase, resolved) {
			return "", errPathNotAllowed
		}
	}
	return target, nil
}

func withinDir(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// parsePagination reads page and limit query params with defaults
func parsePagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
