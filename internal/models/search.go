package models

// RangeCondition is a numeric query constraint: qualifier word plus value.
// The operator is kept verbatim from the query (e.g. "低于", "大于") and
// interpreted by the matcher; an empty operator means an approximate match.
type RangeCondition struct {
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

// DateCondition is a launch-date constraint. Value is YYYY or YYYY-MM.
type DateCondition struct {
	Operator string `json:"operator"` // 等于, 之前, 之后
	Value    string `json:"value"`
}

// QueryConditions is the structured form of a free-text knowledge base
// query. Built fresh per query, never persisted.
type QueryConditions struct {
	Categories      []string        `json:"categories"`
	Features        []string        `json:"features"`
	PriceRange      *RangeCondition `json:"price_range,omitempty"`
	SalesRange      *RangeCondition `json:"sales_range,omitempty"`
	LaunchDateRange *DateCondition  `json:"launch_date_range,omitempty"`
	Keywords        []string        `json:"keywords"`
}

// HasStrictConditions reports whether any veto-capable condition was
// extracted. Residual keywords only contribute to scoring.
func (c QueryConditions) HasStrictConditions() bool {
	return len(c.Categories) > 0 ||
		len(c.Features) > 0 ||
		c.PriceRange != nil ||
		c.SalesRange != nil ||
		c.LaunchDateRange != nil
}

// SearchResult is one matched product with its match explanation
type SearchResult struct {
	Product        Product    `json:"product"`
	Competitor     Competitor `json:"competitor"`
	RelevanceScore int        `json:"relevance_score,omitempty"`
	MatchedFields  []string   `json:"matched_fields,omitempty"`
	AIAnalysis     string     `json:"ai_analysis,omitempty"`
}

// SearchStatus distinguishes "no data" from "service down" so callers can
// react differently (soft message vs retry prompt).
type SearchStatus string

const (
	SearchOK            SearchStatus = "ok"
	SearchEmpty         SearchStatus = "empty"
	SearchAIUnavailable SearchStatus = "ai_unavailable"
)

// SearchOutcome is the full result of a knowledge base search
type SearchOutcome struct {
	Status     SearchStatus   `json:"status"`
	Results    []SearchResult `json:"results"`
	AIUsed     bool           `json:"ai_used"`
	AIAnalysis string         `json:"ai_analysis,omitempty"`
}
