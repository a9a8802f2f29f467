package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NotifyTarget is a notification filter for one highlight color: disabled
// (always met), an automatic time-decaying bar, or a fixed dot count 1..4.
type NotifyTarget struct {
	Auto bool
	Dots int
}

// ParseNotifyTarget parses "auto" or a dot count "0".."4".
func ParseNotifyTarget(s string) (NotifyTarget, error) {
	if strings.EqualFold(strings.TrimSpace(s), "auto") {
		return NotifyTarget{Auto: true}, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 4 {
		return NotifyTarget{}, fmt.Errorf("invalid notify target %q", s)
	}
	return NotifyTarget{Dots: n}, nil
}

// Disabled reports whether the filter is off, which counts as always met.
func (t NotifyTarget) Disabled() bool {
	return !t.Auto && t.Dots == 0
}

func (t NotifyTarget) String() string {
	if t.Auto {
		return "auto"
	}
	return strconv.Itoa(t.Dots)
}

// MarshalJSON encodes the target as its string form.
func (t NotifyTarget) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the string form.
func (t *NotifyTarget) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseNotifyTarget(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements driver.Valuer so the target persists as TEXT.
func (t NotifyTarget) Value() (driver.Value, error) {
	return t.String(), nil
}

// Scan implements sql.Scanner.
func (t *NotifyTarget) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into NotifyTarget", src)
	}
	parsed, err := ParseNotifyTarget(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Settings holds the dashboard-wide preferences the tracker evaluates with.
type Settings struct {
	Timeframe        string       `json:"timeframe" db:"timeframe"`
	Multiplier       float64      `json:"multiplier" db:"multiplier"`
	UseVolatility    bool         `json:"useVolatility" db:"use_volatility"`
	YellowTarget     NotifyTarget `json:"yellowTarget" db:"yellow_target"`
	GreenTarget      NotifyTarget `json:"greenTarget" db:"green_target"`
	MinMaxVolatility float64      `json:"minMaxVolatility" db:"min_max_volatility"`
	MinWMAVolatility float64      `json:"minWmaVolatility" db:"min_wma_volatility"`
}

// DefaultSettings returns the preferences a fresh dashboard starts with.
func DefaultSettings() Settings {
	return Settings{
		Timeframe:    "1d",
		Multiplier:   100,
		YellowTarget: NotifyTarget{Auto: true},
		GreenTarget:  NotifyTarget{Auto: true},
	}
}

// Validate checks the settings against their allowed ranges.
func (s Settings) Validate() error {
	if _, err := TimeframeByName(s.Timeframe); err != nil {
		return err
	}
	if s.Multiplier < 0 {
		return fmt.Errorf("multiplier must not be negative, got %v", s.Multiplier)
	}
	if s.MinMaxVolatility < 0 {
		return fmt.Errorf("min max volatility must not be negative, got %v", s.MinMaxVolatility)
	}
	if s.MinWMAVolatility < 0 {
		return fmt.Errorf("min wma volatility must not be negative, got %v", s.MinWMAVolatility)
	}
	return nil
}
