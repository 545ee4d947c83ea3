package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ImportFormat represents the file format for import
type ImportFormat string

const (
	ImportFormatCSV  ImportFormat = "csv"
	ImportFormatXLSX ImportFormat = "xlsx"
)

// ImportStatus represents the status of an import run
type ImportStatus string

const (
	ImportStatusPending    ImportStatus = "PENDING"
	ImportStatusProcessing ImportStatus = "PROCESSING"
	ImportStatusCompleted  ImportStatus = "COMPLETED"
	ImportStatusFailed     ImportStatus = "FAILED"
)

// ImportTrigger records which surface started a run
type ImportTrigger string

const (
	ImportTriggerManual    ImportTrigger = "manual"
	ImportTriggerAdmin     ImportTrigger = "admin"
	ImportTriggerUpload    ImportTrigger = "upload"
	ImportTriggerScheduled ImportTrigger = "scheduled"
)

// ImportTemplateColumn defines a column in the import template
type ImportTemplateColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // string, number, list, date
	Example     string `json:"example"`
}

// ImportTemplate defines the structure of an import template
type ImportTemplate struct {
	Entity  string                 `json:"entity"`
	Version string                 `json:"version"`
	Columns []ImportTemplateColumn `json:"columns"`
}

// ImportDiagnostics counts rows lost before reaching the store.
// Dropped rows are not errors; these counters make unexpected drop rates visible.
type ImportDiagnostics struct {
	SheetsRead           int `json:"sheetsRead"`
	SheetsSkipped        int `json:"sheetsSkipped"`
	RowsRead             int `json:"rowsRead"`
	RowsDropped          int `json:"rowsDropped"`
	NumericParseFailures int `json:"numericParseFailures"`
	DateParseFailures    int `json:"dateParseFailures"`
}

// ImportResult summarizes one pipeline run
type ImportResult struct {
	VendorsUpserted int               `json:"vendorsUpserted"`
	ItemsInserted   int               `json:"itemsInserted"`
	ItemsUpdated    int               `json:"itemsUpdated"`
	Embedded        int               `json:"embedded"`
	Skipped         int               `json:"skipped"`
	Diagnostics     ImportDiagnostics `json:"diagnostics"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// ImportRun is the persisted history record of one pipeline invocation
type ImportRun struct {
	ID           uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Status       ImportStatus   `json:"status" gorm:"size:20;not null;index"`
	Trigger      ImportTrigger  `json:"trigger" gorm:"size:20;not null"`
	Source       string         `json:"source" gorm:"size:500"`
	TriggeredBy  string         `json:"triggeredBy" gorm:"size:255"`
	StartedAt    time.Time      `json:"startedAt"`
	FinishedAt   *time.Time     `json:"finishedAt,omitempty"`
	Summary      datatypes.JSON `json:"summary,omitempty" gorm:"type:jsonb"`
	Warnings     datatypes.JSON `json:"warnings,omitempty" gorm:"type:jsonb"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// TableName returns the table name for ImportRun
func (ImportRun) TableName() string {
	return "dining_import_runs"
}

// DiningImportColumns returns the column definitions for dining menu import.
// Header matching is synonym based, so these are the preferred names only.
func DiningImportColumns() []ImportTemplateColumn {
	return []ImportTemplateColumn{
		{Name: "Vendor", Description: "Dining location or restaurant name", Required: true, Type: "string", Example: "Cafe A"},
		{Name: "Campus Location", Description: "Building or campus area", Required: false, Type: "string", Example: "West Campus"},
		{Name: "Item Name", Description: "Menu item display name", Required: true, Type: "string", Example: "Chicken Bowl"},
		{Name: "Description", Description: "Menu item description or ingredients", Required: false, Type: "string", Example: "Grilled chicken, rice, greens"},
		{Name: "Calories", Description: "Calories per serving (units like 'kcal' are stripped)", Required: false, Type: "number", Example: "450 kcal"},
		{Name: "Protein (g)", Description: "Protein grams per serving", Required: false, Type: "number", Example: "30g"},
		{Name: "Carbs (g)", Description: "Carbohydrate grams per serving", Required: false, Type: "number", Example: "52"},
		{Name: "Fat (g)", Description: "Fat grams per serving", Required: false, Type: "number", Example: "12"},
		{Name: "Price", Description: "Price in USD (currency symbols are stripped)", Required: false, Type: "number", Example: "$8.99"},
		{Name: "Tags", Description: "Comma or semicolon separated dietary tags", Required: false, Type: "list", Example: "gluten-free; high-protein"},
		{Name: "Last Updated", Description: "Date the menu entry was last changed", Required: false, Type: "date", Example: "2024-09-01"},
	}
}

// DiningImportTemplate returns the template definition for dining menus
func DiningImportTemplate() ImportTemplate {
	return ImportTemplate{
		Entity:  "dining_menu_items",
		Version: "1.0",
		Columns: DiningImportColumns(),
	}
}
