package domain

import "time"

// HighlightColor flags how far the live price has moved against the
// highlighted window. Green (range breach) outranks yellow (WMA breach).
type HighlightColor string

const (
	HighlightNone   HighlightColor = ""
	HighlightYellow HighlightColor = "yellow"
	HighlightGreen  HighlightColor = "green"
)

// SymbolSnapshot is the published per-symbol view handed to the display
// layer: live price, reference close, the full window table and the
// evaluated highlight state.
type SymbolSnapshot struct {
	Symbol          string         `json:"symbol"`
	Price           float64        `json:"price"`
	ReferenceClose  float64        `json:"referenceClose"`
	Windows         []WindowRange  `json:"windows"`
	HighlightedSize int            `json:"highlightedSize"`
	Color           HighlightColor `json:"color"`
	WMAThreshold    float64        `json:"wmaThreshold"`
	RangeThreshold  float64        `json:"rangeThreshold"`
	WMADots         int            `json:"wmaDots"`
	RangeDots       int            `json:"rangeDots"`
	YellowMet       bool           `json:"yellowMet"`
	GreenMet        bool           `json:"greenMet"`
	RateLimited     bool           `json:"rateLimited"`
	PriceError      string         `json:"priceError,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// AlertEvent records one notification trigger: a symbol whose deviation
// crossed its configured target while the volatility gates were open.
type AlertEvent struct {
	ID         string         `json:"id" db:"id"`
	Symbol     string         `json:"symbol" db:"symbol"`
	Color      HighlightColor `json:"color" db:"color"`
	Price      float64        `json:"price" db:"price"`
	Deviation  float64        `json:"deviation" db:"deviation"`
	Threshold  float64        `json:"threshold" db:"threshold"`
	WindowSize int            `json:"windowSize" db:"window_size"`
	CreatedAt  time.Time      `json:"createdAt" db:"created_at"`
}
