package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PricePoint is one observed price on one calendar date.
// OriginalPrice is the listed pre-discount price and is only set when the
// source row carried a valid value.
type PricePoint struct {
	Date          string   `json:"date"` // YYYY-MM-DD
	FinalPrice    float64  `json:"final_price"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
}

// PriceHistory is a reconciled price series: unique dates, ascending order.
// Stored as a JSON column on the product row.
type PriceHistory []PricePoint

func (h PriceHistory) Value() (driver.Value, error) {
	if h == nil {
		h = PriceHistory{}
	}
	return json.Marshal(h)
}

func (h *PriceHistory) Scan(value interface{}) error {
	if value == nil {
		*h = PriceHistory{}
		return nil
	}
	data, err := toBytes(value)
	if err != nil {
		return fmt.Errorf("price history: %w", err)
	}
	return json.Unmarshal(data, h)
}

// StringSlice is a JSON-serialized string list column (product tags)
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		s = StringSlice{}
	}
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}
	data, err := toBytes(value)
	if err != nil {
		return fmt.Errorf("string slice: %w", err)
	}
	return json.Unmarshal(data, s)
}

// ReviewAnalysis holds the AI-generated review summary for a product
type ReviewAnalysis struct {
	Pros    []string `json:"pros"`
	Cons    []string `json:"cons"`
	Summary string   `json:"summary"`
}

func (a ReviewAnalysis) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ReviewAnalysis) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	data, err := toBytes(value)
	if err != nil {
		return fmt.Errorf("review analysis: %w", err)
	}
	return json.Unmarshal(data, a)
}

func toBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported column type %T", value)
	}
}

// Product is a single competitor product
type Product struct {
	ID           string          `json:"id" gorm:"primaryKey"`
	CompetitorID string          `json:"competitor_id" gorm:"not null;index"`
	Name         string          `json:"name" gorm:"not null;index"`
	Price        float64         `json:"price"`
	Category     string          `json:"category,omitempty"`
	Gender       Gender          `json:"gender,omitempty"`
	Sales        *int64          `json:"sales,omitempty"`
	LaunchDate   string          `json:"launch_date,omitempty"` // YYYY or YYYY-MM
	Link         string          `json:"link,omitempty"`
	Tags         StringSlice     `json:"tags" gorm:"type:text"`
	PriceHistory PriceHistory    `json:"price_history" gorm:"type:text"`
	Analysis     *ReviewAnalysis `json:"analysis,omitempty" gorm:"type:text"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Review is a single customer review submitted for analysis
type Review struct {
	Text      string `json:"text"`
	LikeCount int    `json:"like_count,omitempty"`
}
