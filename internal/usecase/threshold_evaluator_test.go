package usecase_test

import (
	"testing"

	"github.com/yehancha/crypto-dashboard/internal/domain"
	"github.com/yehancha/crypto-dashboard/internal/usecase"
)

func fixedInput(price, refClose float64) usecase.ThresholdInput {
	return usecase.ThresholdInput{
		Price:            price,
		ReferenceClose:   refClose,
		Window:           domain.WindowRange{WindowSize: 10, WMA: 10, Range: 20, High: "120", Low: "100"},
		Settings:         domain.DefaultSettings(),
		TimeLeftFraction: 1.0,
	}
}

func TestDotScore(t *testing.T) {
	cases := []struct {
		deviation float64
		threshold float64
		want      int
	}{
		{0, 100, 0},
		{25, 100, 0},
		{26, 100, 1},
		{50, 100, 1},
		{51, 100, 2},
		{75, 100, 2},
		{76, 100, 3},
		{100, 100, 3},
		{101, 100, 4},
		{110, 100, 4},
		{999, 0, 0},
		{50, -1, 0},
	}
	for _, tc := range cases {
		if got := usecase.DotScore(tc.deviation, tc.threshold); got != tc.want {
			t.Errorf("DotScore(%v, %v): expected %d, got %d", tc.deviation, tc.threshold, got, tc.want)
		}
	}
}

func TestEvaluateColorPrecedence(t *testing.T) {
	eval := usecase.NewThresholdEvaluator()

	// Multiplier 100 leaves the thresholds at wma=10 and range=20.
	within := eval.Evaluate(fixedInput(105, 100))
	if within.Color != domain.HighlightNone {
		t.Errorf("Expected no color for deviation 5, got %q", within.Color)
	}

	yellow := eval.Evaluate(fixedInput(111, 100))
	if yellow.Color != domain.HighlightYellow {
		t.Errorf("Expected yellow for deviation 11, got %q", yellow.Color)
	}

	// Past the range threshold green wins even though wma is breached too.
	green := eval.Evaluate(fixedInput(125, 100))
	if green.Color != domain.HighlightGreen {
		t.Errorf("Expected green for deviation 25, got %q", green.Color)
	}

	falling := eval.Evaluate(fixedInput(75, 100))
	if falling.Color != domain.HighlightGreen {
		t.Errorf("Expected green for a downward deviation too, got %q", falling.Color)
	}
	if falling.Deviation != 25 {
		t.Errorf("Expected absolute deviation 25, got %v", falling.Deviation)
	}
}

func TestEvaluateMultiplierScalesThresholds(t *testing.T) {
	eval := usecase.NewThresholdEvaluator()

	in := fixedInput(107, 100)
	in.Settings.Multiplier = 50
	res := eval.Evaluate(in)
	if res.WMAThreshold != 5 || res.RangeThreshold != 10 {
		t.Fatalf("Expected thresholds 5 and 10 at multiplier 50, got %v and %v",
			res.WMAThreshold, res.RangeThreshold)
	}
	if res.Color != domain.HighlightYellow {
		t.Errorf("Expected yellow for deviation 7, got %q", res.Color)
	}
}

func TestEvaluateVolatilityMode(t *testing.T) {
	eval := usecase.NewThresholdEvaluator()

	in := fixedInput(100, 100)
	in.Settings.UseVolatility = true
	in.Window.WMAVolatility = 2.5
	in.Window.MaxVolatility = 3
	res := eval.Evaluate(in)
	if res.WMAThreshold != 25 {
		t.Errorf("Expected wma threshold 10*2.5=25, got %v", res.WMAThreshold)
	}
	if res.RangeThreshold != 60 {
		t.Errorf("Expected range threshold 20*3=60, got %v", res.RangeThreshold)
	}

	// Calm markets floor the ratios at 1 so thresholds never shrink.
	in.Window.WMAVolatility = 0.4
	in.Window.MaxVolatility = 0.2
	res = eval.Evaluate(in)
	if res.WMAThreshold != 10 || res.RangeThreshold != 20 {
		t.Errorf("Expected floored thresholds 10 and 20, got %v and %v",
			res.WMAThreshold, res.RangeThreshold)
	}
}

func TestEvaluateZeroStateYieldsNothing(t *testing.T) {
	eval := usecase.NewThresholdEvaluator()

	noRef := fixedInput(105, 0)
	if res := eval.Evaluate(noRef); res != (usecase.ThresholdResult{}) {
		t.Errorf("Expected zero result without reference close, got %+v", res)
	}

	noPrice := fixedInput(0, 100)
	if res := eval.Evaluate(noPrice); res != (usecase.ThresholdResult{}) {
		t.Errorf("Expected zero result without live price, got %+v", res)
	}

	flat := fixedInput(105, 100)
	flat.Window = domain.WindowRange{WindowSize: 10}
	res := eval.Evaluate(flat)
	if res.Color != domain.HighlightNone {
		t.Errorf("Expected no color for an empty window, got %q", res.Color)
	}
	if res.WMADots != 0 || res.RangeDots != 0 {
		t.Errorf("Expected no dots without thresholds, got %d and %d", res.WMADots, res.RangeDots)
	}
}

func TestEvaluateAutoTargetDecaysWithTime(t *testing.T) {
	eval := usecase.NewThresholdEvaluator()

	// Deviation 6 against wma threshold 10.
	in := fixedInput(106, 100)
	in.TimeLeftFraction = 1.0
	if res := eval.Evaluate(in); res.YellowMet {
		t.Error("Expected auto target unmet early in the interval")
	}

	in.TimeLeftFraction = 0.5
	if res := eval.Evaluate(in); !res.YellowMet {
		t.Error("Expected auto target met once the bar decayed to 5")
	}

	in.TimeLeftFraction = 0
	if res := eval.Evaluate(in); !res.YellowMet {
		t.Error("Expected auto target met at the boundary")
	}
}

func TestEvaluateFixedDotTarget(t *testing.T) {
	eval := usecase.NewThresholdEvaluator()

	in := fixedInput(107.6, 100) // deviation 7.6, wma threshold 10, 3 dots
	in.Settings.YellowTarget = domain.NotifyTarget{Dots: 3}
	if res := eval.Evaluate(in); !res.YellowMet {
		t.Errorf("Expected 3-dot target met at 3 dots, got %+v", res)
	}

	in.Settings.YellowTarget = domain.NotifyTarget{Dots: 4}
	if res := eval.Evaluate(in); res.YellowMet {
		t.Error("Expected 4-dot target unmet at 3 dots")
	}
}

func TestEvaluateDisabledTargetAlwaysMet(t *testing.T) {
	eval := usecase.NewThresholdEvaluator()

	in := fixedInput(100.1, 100) // deviation 0.1, far below both thresholds
	in.Settings.YellowTarget = domain.NotifyTarget{Dots: 0}
	in.Settings.GreenTarget = domain.NotifyTarget{Dots: 0}
	res := eval.Evaluate(in)
	if !res.YellowMet || !res.GreenMet {
		t.Errorf("Expected disabled targets to count as met, got %+v", res)
	}
}

func TestEvaluateVolatilityGates(t *testing.T) {
	eval := usecase.NewThresholdEvaluator()

	in := fixedInput(100.1, 100)
	in.Settings.YellowTarget = domain.NotifyTarget{Dots: 0}
	in.Settings.GreenTarget = domain.NotifyTarget{Dots: 0}
	in.Settings.MinMaxVolatility = 2
	in.Window.MaxVolatility = 1.5
	res := eval.Evaluate(in)
	if res.YellowMet || res.GreenMet {
		t.Errorf("Expected the max-volatility gate to suppress both targets, got %+v", res)
	}

	in.Window.MaxVolatility = 2.5
	res = eval.Evaluate(in)
	if !res.YellowMet || !res.GreenMet {
		t.Errorf("Expected open gate at volatility 2.5, got %+v", res)
	}

	in.Settings.MinWMAVolatility = 3
	in.Window.WMAVolatility = 1
	res = eval.Evaluate(in)
	if res.YellowMet || res.GreenMet {
		t.Errorf("Expected the wma-volatility gate to suppress both targets, got %+v", res)
	}

	// A zero gate is disabled.
	in.Settings.MinMaxVolatility = 0
	in.Settings.MinWMAVolatility = 0
	in.Window.MaxVolatility = 0.1
	in.Window.WMAVolatility = 0.1
	res = eval.Evaluate(in)
	if !res.YellowMet || !res.GreenMet {
		t.Errorf("Expected zero gates to pass everything, got %+v", res)
	}
}
