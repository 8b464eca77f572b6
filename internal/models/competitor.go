package models

import (
	"time"
)

// Gender represents the target audience of a brand or product
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderUnisex Gender = "Unisex"
)

// AllGenders returns all valid gender values
func AllGenders() []Gender {
	return []Gender{GenderMale, GenderFemale, GenderUnisex}
}

// Competitor is a tracked competitor brand with its product catalog
type Competitor struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"not null;index"`
	Domain      string    `json:"domain"`
	Focus       Gender    `json:"focus,omitempty"`
	IsDomestic  bool      `json:"is_domestic"`
	FoundedDate string    `json:"founded_date,omitempty"` // YYYY or YYYY-MM
	Country     string    `json:"country,omitempty"`
	Products    []Product `json:"products" gorm:"foreignKey:CompetitorID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CatalogEntry pairs a product with its owning competitor for search and
// AI delegation, mirroring the flattened list the knowledge base operates on.
type CatalogEntry struct {
	Product    Product    `json:"product"`
	Competitor Competitor `json:"competitor"`
}

// FlattenCatalog expands a competitor list into (product, competitor) pairs
func FlattenCatalog(competitors []Competitor) []CatalogEntry {
	var entries []CatalogEntry
	for _, comp := range competitors {
		for _, prod := range comp.Products {
			entries = append(entries, CatalogEntry{Product: prod, Competitor: comp})
		}
	}
	return entries
}
