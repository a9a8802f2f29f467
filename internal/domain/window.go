package domain

// WindowRange holds the sliding-window statistics for one window size over a
// candle buffer. High and Low carry the exact price strings of the candles
// that set the widest range, so the display never sees a re-serialized float.
type WindowRange struct {
	WindowSize    int     `json:"windowSize"`
	Range         float64 `json:"range"`
	High          string  `json:"high"`
	Low           string  `json:"low"`
	WMA           float64 `json:"wma"`
	AvgAbsChange  float64 `json:"avgAbsChange"`
	WMAAbsChange  float64 `json:"wmaAbsChange"`
	MaxAbsChange  float64 `json:"maxAbsChange"`
	MaxVolatility float64 `json:"maxVolatility"`
	WMAVolatility float64 `json:"wmaVolatility"`
}

// WindowAggregate is the memoized scan result for one window slice,
// identified by window size and the open time of its first candle.
// Historical OHLC never changes, so an aggregate stays valid for as long as
// its first candle remains in the buffer.
type WindowAggregate struct {
	High       float64
	Low        float64
	Range      float64
	Volatility float64
}
