package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SourceCampusDining identifies vendors and items written by the dining menu import
const SourceCampusDining = "campus_dining"

// Vendor is a dining establishment. Name is unique across all import channels.
type Vendor struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name      string    `json:"name" gorm:"uniqueIndex;not null;size:255"`
	Source    string    `json:"source" gorm:"size:100;not null"`
	CampusLoc *string   `json:"campusLoc,omitempty" gorm:"size:255"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Items []MenuItem `json:"items,omitempty" gorm:"foreignKey:VendorID"`
}

// TableName returns the table name for Vendor
func (Vendor) TableName() string {
	return "dining_vendors"
}

// MenuItem is one dish served by a vendor, deduplicated by normalized name
type MenuItem struct {
	ID             uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	VendorID       uuid.UUID      `json:"vendorId" gorm:"type:uuid;not null;uniqueIndex:idx_menu_item_vendor_name"`
	Name           string         `json:"name" gorm:"not null;size:255"`
	NormalizedName string         `json:"normalizedName" gorm:"not null;size:255;uniqueIndex:idx_menu_item_vendor_name"`
	Description    *string        `json:"description,omitempty"`
	Calories       *float64       `json:"calories,omitempty" gorm:"type:double precision"`
	ProteinG       *float64       `json:"proteinG,omitempty" gorm:"type:double precision"`
	CarbsG         *float64       `json:"carbsG,omitempty" gorm:"type:double precision"`
	FatG           *float64       `json:"fatG,omitempty" gorm:"type:double precision"`
	PriceUSD       *float64       `json:"priceUsd,omitempty" gorm:"type:decimal(10,2)"`
	Tags           pq.StringArray `json:"tags" gorm:"type:text[]"`
	Embedding      []byte         `json:"-" gorm:"type:bytea"`
	EmbeddingModel *string        `json:"embeddingModel,omitempty" gorm:"size:100"`
	EmbeddedAt     *time.Time     `json:"embeddedAt,omitempty"`
	SourceUpdated  *time.Time     `json:"sourceUpdatedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`

	Vendor *Vendor `json:"vendor,omitempty" gorm:"foreignKey:VendorID"`
}

// TableName returns the table name for MenuItem
func (MenuItem) TableName() string {
	return "dining_menu_items"
}

// HasEmbedding reports whether a vector is stored for the item
func (m *MenuItem) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// VendorSummary is a vendor with its item count, used by catalog listings
type VendorSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	CampusLoc *string   `json:"campusLoc,omitempty"`
	ItemCount int64     `json:"itemCount"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ItemFilters narrows catalog item queries
type ItemFilters struct {
	VendorID    *uuid.UUID
	Query       string
	MaxCalories *float64
	MinProtein  *float64
	Tag         string
}
