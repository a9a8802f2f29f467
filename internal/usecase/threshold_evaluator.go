package usecase

import (
	"math"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

// ThresholdInput bundles everything one highlight evaluation needs: the live
// price, the close of the previous timeframe interval, the highlighted
// window's statistics and the active settings. TimeLeftFraction is the
// remaining share of the current interval, used by auto notify targets.
type ThresholdInput struct {
	Price            float64
	ReferenceClose   float64
	Window           domain.WindowRange
	Settings         domain.Settings
	TimeLeftFraction float64
}

// ThresholdResult is the outcome of one evaluation.
type ThresholdResult struct {
	Deviation      float64
	WMAThreshold   float64
	RangeThreshold float64
	Color          domain.HighlightColor
	WMADots        int
	RangeDots      int
	YellowMet      bool
	GreenMet       bool
}

// ThresholdEvaluator turns live-price deviation against the highlighted
// window into highlight colors, dot scores and notification decisions.
type ThresholdEvaluator struct{}

func NewThresholdEvaluator() *ThresholdEvaluator {
	return &ThresholdEvaluator{}
}

// Evaluate computes the highlight state for one symbol. Without a live
// price or a reference close there is nothing to compare, so the zero
// result comes back: no color, no dots, no notifications.
func (e *ThresholdEvaluator) Evaluate(in ThresholdInput) ThresholdResult {
	if in.Price == 0 || in.ReferenceClose == 0 {
		return ThresholdResult{}
	}

	wmaRatio, rangeRatio := e.ratios(in)
	res := ThresholdResult{
		Deviation:      math.Abs(in.Price - in.ReferenceClose),
		WMAThreshold:   in.Window.WMA * wmaRatio,
		RangeThreshold: in.Window.Range * rangeRatio,
	}
	res.Color = e.color(in.Window, res)
	res.WMADots = DotScore(res.Deviation, res.WMAThreshold)
	res.RangeDots = DotScore(res.Deviation, res.RangeThreshold)
	res.YellowMet = e.targetMet(in, in.Settings.YellowTarget, res.Deviation, res.WMAThreshold, res.WMADots)
	res.GreenMet = e.targetMet(in, in.Settings.GreenTarget, res.Deviation, res.RangeThreshold, res.RangeDots)
	return res
}

// ratios picks the threshold multipliers. Fixed mode scales both thresholds
// by the same configured percentage. Volatility mode scales each threshold
// by its own volatility statistic, floored at 1 so a calm market never
// shrinks a threshold below its base value.
func (e *ThresholdEvaluator) ratios(in ThresholdInput) (wmaRatio, rangeRatio float64) {
	if in.Settings.UseVolatility {
		return math.Max(in.Window.WMAVolatility, 1), math.Max(in.Window.MaxVolatility, 1)
	}
	ratio := in.Settings.Multiplier / 100
	return ratio, ratio
}

// color flags the deviation. Green is checked first: breaching the full
// range outranks breaching the weighted average.
func (e *ThresholdEvaluator) color(window domain.WindowRange, res ThresholdResult) domain.HighlightColor {
	if window.Range == 0 {
		return domain.HighlightNone
	}
	if res.WMAThreshold == 0 && res.RangeThreshold == 0 {
		return domain.HighlightNone
	}
	if res.Deviation > res.RangeThreshold {
		return domain.HighlightGreen
	}
	if res.Deviation > res.WMAThreshold {
		return domain.HighlightYellow
	}
	return domain.HighlightNone
}

func (e *ThresholdEvaluator) targetMet(in ThresholdInput, target domain.NotifyTarget, deviation, threshold float64, dots int) bool {
	var met bool
	switch {
	case target.Disabled():
		met = true
	case target.Auto:
		met = deviation >= threshold*in.TimeLeftFraction
	default:
		met = dots >= target.Dots
	}
	if !met {
		return false
	}
	if in.Settings.MinMaxVolatility > 0 && in.Window.MaxVolatility < in.Settings.MinMaxVolatility {
		return false
	}
	if in.Settings.MinWMAVolatility > 0 && in.Window.WMAVolatility < in.Settings.MinWMAVolatility {
		return false
	}
	return true
}

// DotScore grades how far a deviation has progressed toward and past a
// threshold on a 0..4 scale. A zero threshold scores zero: there is no bar
// to progress against.
func DotScore(deviation, threshold float64) int {
	if threshold <= 0 {
		return 0
	}
	ratio := deviation / threshold
	switch {
	case ratio > 1:
		return 4
	case ratio > 0.75:
		return 3
	case ratio > 0.5:
		return 2
	case ratio > 0.25:
		return 1
	default:
		return 0
	}
}
