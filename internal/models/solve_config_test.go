package models

import (
	"errors"
	"testing"
)

func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }

func TestNormalizeDefaults(t *testing.T) {
	var cfg SolveConfig

	cons, obj, err := cfg.Normalize()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !cons.Volume || !cons.Price || !cons.Supply || !cons.CType ||
		!cons.Balance || !cons.DemandSplit || !cons.DemandBased || !cons.PriceBased {
		t.Errorf("expected every family enabled by default, got %+v", cons)
	}
	if cons.VolumeTolerance != DefaultVolumeTolerance {
		t.Errorf("expected volume tolerance %v, got %v", DefaultVolumeTolerance, cons.VolumeTolerance)
	}
	if cons.PriceBasedRatio != DefaultPriceBasedRatio {
		t.Errorf("expected price based ratio %v, got %v", DefaultPriceBasedRatio, cons.PriceBasedRatio)
	}
	if cons.CTypeVolumeLimit != DefaultCTypeVolumeLimit {
		t.Errorf("expected c type volume limit %v, got %v", DefaultCTypeVolumeLimit, cons.CTypeVolumeLimit)
	}
	if obj.MaximizeAllocationWeight != DefaultMaximizeAllocationWeight {
		t.Errorf("expected maximize allocation weight %v, got %v", DefaultMaximizeAllocationWeight, obj.MaximizeAllocationWeight)
	}
	if obj.SmoothTransitionWeight != DefaultSmoothTransitionWeight {
		t.Errorf("expected smooth transition weight %v, got %v", DefaultSmoothTransitionWeight, obj.SmoothTransitionWeight)
	}
}

func TestNormalizeRejectsOutOfRange(t *testing.T) {
	testCases := []struct {
		name string
		cfg  SolveConfig
	}{
		{
			name: "ratio above one",
			cfg:  SolveConfig{Constraints: ConstraintConfig{PriceBasedRatio: floatPtr(1.5)}},
		},
		{
			name: "negative tolerance",
			cfg:  SolveConfig{Constraints: ConstraintConfig{VolumeTolerance: floatPtr(-0.1)}},
		},
		{
			name: "negative volume limit",
			cfg:  SolveConfig{Constraints: ConstraintConfig{CTypeVolumeLimit: floatPtr(-1)}},
		},
		{
			name: "negative round override",
			cfg:  SolveConfig{Constraints: ConstraintConfig{VolumeLimits: map[string]float64{"round 1": -5}}},
		},
		{
			name: "negative objective weight",
			cfg:  SolveConfig{Objective: ObjectiveConfig{RoundVarianceWeight: floatPtr(-10)}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := tc.cfg.Normalize()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestNormalizeDisabledFamilyResetsParams(t *testing.T) {
	cfg := SolveConfig{
		Constraints: ConstraintConfig{
			EnableCType:  boolPtr(false),
			CTypeRatio:   floatPtr(0.9),
			EnableVolume: boolPtr(false),
			VolumeLimits: map[string]float64{"round 1": 777},
		},
	}

	cons, _, err := cfg.Normalize()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cons.CType {
		t.Error("expected c_type disabled")
	}
	if cons.CTypeRatio != DefaultCTypeRatio {
		t.Errorf("expected disabled family ratio reset to %v, got %v", DefaultCTypeRatio, cons.CTypeRatio)
	}
	if cons.VolumeLimits != nil {
		t.Errorf("expected disabled volume overrides cleared, got %v", cons.VolumeLimits)
	}
}

func TestNormalizeDisabledObjectiveTermZeroesWeight(t *testing.T) {
	cfg := SolveConfig{
		Objective: ObjectiveConfig{
			EnableRoundBalance: boolPtr(false),
			RoundBalanceWeight: floatPtr(123),
		},
	}

	_, obj, err := cfg.Normalize()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if obj.RoundBalanceWeight != 0 {
		t.Errorf("expected disabled term weight 0, got %v", obj.RoundBalanceWeight)
	}
}

func TestRoundOverridesResolve(t *testing.T) {
	cons := Constraints{
		VolumeLimits:     map[string]float64{"round 2": 1200},
		PriceUpperLimits: map[string]float64{"round 2": 400},
	}
	r1 := Round{Name: "round 1", TotalQuantity: 1000, PriceLowerLimit: 200, PriceUpperLimit: 350}
	r2 := Round{Name: "round 2", TotalQuantity: 1000, PriceLowerLimit: 200, PriceUpperLimit: 350}

	if got := cons.RoundTarget(r1); got != 1000 {
		t.Errorf("expected dataset target 1000, got %v", got)
	}
	if got := cons.RoundTarget(r2); got != 1200 {
		t.Errorf("expected override target 1200, got %v", got)
	}

	lo, hi := cons.RoundPriceBand(r2)
	if lo != 200 || hi != 400 {
		t.Errorf("expected band [200, 400], got [%v, %v]", lo, hi)
	}
}

func TestProductHelpers(t *testing.T) {
	p := Product{WholesalePrice: 100, StickRatio: 250}
	if got := p.CasePrice(); got != 20000 {
		t.Errorf("expected case price 20000, got %v", got)
	}

	noRatio := Product{WholesalePrice: 100}
	if got := noRatio.CasePrice(); got != 100 {
		t.Errorf("expected fallback to wholesale price, got %v", got)
	}

	if p.HasExisting() {
		t.Error("expected no existing allocations")
	}
	p.Existing = map[string]float64{"round 1": 5}
	if !p.HasExisting() {
		t.Error("expected existing allocation detected")
	}
}
