package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Resolution is the bucket duration of a candle stream. The values double as
// exchange kline interval identifiers.
type Resolution string

const (
	ResolutionMinute Resolution = "1m"
	ResolutionHour   Resolution = "1h"
)

// Step returns the bucket duration of the resolution.
func (r Resolution) Step() time.Duration {
	if r == ResolutionHour {
		return time.Hour
	}
	return time.Minute
}

// StepMillis returns the bucket duration in milliseconds, the unit kline
// open times are expressed in.
func (r Resolution) StepMillis() int64 {
	return r.Step().Milliseconds()
}

// Candle is one OHLCV bucket. Price fields keep the exact decimal strings
// the exchange sent so the UI can show them without float formatting drift;
// the parsed values are cached at construction for window scans.
type Candle struct {
	OpenTime int64  `json:"openTime"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`

	openF, highF, lowF, closeF float64
}

// NewCandle validates the raw kline fields and builds a Candle. Empty or
// unparsable decimal strings are rejected here so malformed upstream rows
// never reach the buffers.
func NewCandle(openTime int64, open, high, low, close, volume string) (Candle, error) {
	c := Candle{OpenTime: openTime, Open: open, High: high, Low: low, Close: close, Volume: volume}
	var err error
	if c.openF, err = parseDecimal("open", open); err != nil {
		return Candle{}, err
	}
	if c.highF, err = parseDecimal("high", high); err != nil {
		return Candle{}, err
	}
	if c.lowF, err = parseDecimal("low", low); err != nil {
		return Candle{}, err
	}
	if c.closeF, err = parseDecimal("close", close); err != nil {
		return Candle{}, err
	}
	if _, err = parseDecimal("volume", volume); err != nil {
		return Candle{}, err
	}
	return c, nil
}

func parseDecimal(field, s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("candle %s: empty value", field)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("candle %s: %w", field, err)
	}
	return v, nil
}

// OpenF returns the parsed open price.
func (c Candle) OpenF() float64 { return c.openF }

// HighF returns the parsed high price.
func (c Candle) HighF() float64 { return c.highF }

// LowF returns the parsed low price.
func (c Candle) LowF() float64 { return c.lowF }

// CloseF returns the parsed close price.
func (c Candle) CloseF() float64 { return c.closeF }

// AbsChange returns the absolute body size of the candle, |close - open|.
func (c Candle) AbsChange() float64 {
	return math.Abs(c.closeF - c.openF)
}
