package domain

import (
	"fmt"
	"time"
)

// Timeframe is one selectable trading interval of the dashboard. Boundaries
// are aligned to UTC the way exchange kline buckets are.
type Timeframe struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"-"`
}

var timeframes = []Timeframe{
	{Name: "15m", Interval: 15 * time.Minute},
	{Name: "1h", Interval: time.Hour},
	{Name: "4h", Interval: 4 * time.Hour},
	{Name: "1d", Interval: 24 * time.Hour},
}

// Timeframes returns the supported timeframes in display order.
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(timeframes))
	copy(out, timeframes)
	return out
}

// TimeframeByName resolves a timeframe by its interval name.
func TimeframeByName(name string) (Timeframe, error) {
	for _, tf := range timeframes {
		if tf.Name == name {
			return tf, nil
		}
	}
	return Timeframe{}, fmt.Errorf("unknown timeframe %q", name)
}

// NextBoundary returns the first interval boundary strictly after now.
func (tf Timeframe) NextBoundary(now time.Time) time.Time {
	return now.UTC().Truncate(tf.Interval).Add(tf.Interval)
}

// Remaining returns the time left until the next interval boundary.
func (tf Timeframe) Remaining(now time.Time) time.Duration {
	return tf.NextBoundary(now).Sub(now.UTC())
}

// Minutes returns the interval length in whole minutes.
func (tf Timeframe) Minutes() int {
	return int(tf.Interval / time.Minute)
}

// TimeLeftFraction returns the remaining share of the current interval,
// clamped to [0, 1]. Right after a boundary it is close to 1 and it decays
// to 0 as the close approaches.
func (tf Timeframe) TimeLeftFraction(now time.Time) float64 {
	f := tf.Remaining(now).Minutes() / float64(tf.Minutes())
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// ResolutionFor decides which candle resolution a timeframe should be
// tracked at. Intervals of an hour or less always run on minute candles;
// longer intervals run on hour candles until the final hour before the
// boundary, which is tracked minute by minute.
func ResolutionFor(tf Timeframe, now time.Time) Resolution {
	if tf.Interval <= time.Hour {
		return ResolutionMinute
	}
	if tf.Remaining(now) <= time.Hour {
		return ResolutionMinute
	}
	return ResolutionHour
}

// HighlightWindow returns the window size covering the time left until the
// next boundary, in units of the active resolution, clamped to
// [1, maxWindow]. A partially elapsed bucket still counts as a whole one.
func HighlightWindow(tf Timeframe, now time.Time, maxWindow int) int {
	step := ResolutionFor(tf, now).Step()
	n := int((tf.Remaining(now) + step - 1) / step)
	if n < 1 {
		n = 1
	}
	if n > maxWindow {
		n = maxWindow
	}
	return n
}
