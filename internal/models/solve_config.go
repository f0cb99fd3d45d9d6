package models

import (
	"errors"
	"fmt"
)

// Defaults for constraint parameters. Disabled families have their parameters
// reset to these values during normalization so downstream code never
// observes an unset parameter.
const (
	DefaultVolumeTolerance     = 0.005
	DefaultPriceBasedRatio     = 0.3
	DefaultCTypeRatio          = 0.4
	DefaultCTypeVolumeLimit    = 4900.0
	DefaultLongTypeRatio       = 0.2
	DefaultLongTypeVolumeLimit = 1000.0
	DefaultThinTypeRatio       = 0.6
	DefaultThinTypeVolumeLimit = 3000.0
)

// Default objective term weights.
const (
	DefaultMaximizeAllocationWeight = 1000.0
	DefaultRoundBalanceWeight       = 800.0
	DefaultRoundVarianceWeight      = 400.0
	DefaultProductBalanceWeight     = 100.0
	DefaultSmoothTransitionWeight   = 300.0
)

var ErrInvalidConfig = errors.New("invalid solve configuration")

// ConstraintConfig toggles constraint families and carries their parameters.
// Pointer fields distinguish "omitted" from zero; Normalize materializes
// defaults so the builder never reads a nil numeric field.
type ConstraintConfig struct {
	EnableVolume      *bool `json:"enable_volume_constraints,omitempty"`
	EnablePrice       *bool `json:"enable_price_constraints,omitempty"`
	EnableSupply      *bool `json:"enable_supply_constraints,omitempty"`
	EnableCType       *bool `json:"enable_c_type_constraints,omitempty"`
	EnableBalance     *bool `json:"enable_balance_constraints,omitempty"`
	EnableDemandSplit *bool `json:"enable_demand_split_constraints,omitempty"`
	EnableDemandBased *bool `json:"enable_demand_based_constraints,omitempty"`
	EnablePriceBased  *bool `json:"enable_price_based_constraints,omitempty"`

	VolumeTolerance *float64 `json:"volume_tolerance,omitempty"`
	PriceBasedRatio *float64 `json:"price_based_ratio,omitempty"`

	CTypeRatio          *float64 `json:"c_type_ratio,omitempty"`
	CTypeVolumeLimit    *float64 `json:"c_type_volume_limit,omitempty"`
	LongTypeRatio       *float64 `json:"long_type_ratio,omitempty"`
	LongTypeVolumeLimit *float64 `json:"long_type_volume_limit,omitempty"`
	ThinTypeRatio       *float64 `json:"thin_type_ratio,omitempty"`
	ThinTypeVolumeLimit *float64 `json:"thin_type_volume_limit,omitempty"`

	// Per-round overrides of the dataset defaults, keyed by round name.
	PriceUpperLimits map[string]float64 `json:"price_upper_limits,omitempty"`
	PriceLowerLimits map[string]float64 `json:"price_lower_limits,omitempty"`
	VolumeLimits     map[string]float64 `json:"volume_limits,omitempty"`
}

// ObjectiveConfig toggles objective terms and carries their weights.
type ObjectiveConfig struct {
	EnableMaximizeAllocation *bool `json:"enable_maximize_allocation,omitempty"`
	EnableRoundBalance       *bool `json:"enable_round_balance,omitempty"`
	EnableRoundVariance      *bool `json:"enable_round_variance,omitempty"`
	EnableProductBalance     *bool `json:"enable_product_balance,omitempty"`
	EnableSmoothTransition   *bool `json:"enable_smooth_transition,omitempty"`

	MaximizeAllocationWeight *float64 `json:"maximize_allocation_weight,omitempty"`
	RoundBalanceWeight       *float64 `json:"round_balance_weight,omitempty"`
	RoundVarianceWeight      *float64 `json:"round_variance_weight,omitempty"`
	ProductBalanceWeight     *float64 `json:"product_balance_weight,omitempty"`
	SmoothTransitionWeight   *float64 `json:"smooth_transition_weight,omitempty"`
}

// SolveConfig is the wire shape of a solve request configuration.
type SolveConfig struct {
	Constraints ConstraintConfig `json:"constraints"`
	Objective   ObjectiveConfig  `json:"objective"`
}

// Constraints is the normalized, fully-materialized constraint configuration
// consumed by the builder and the validator.
type Constraints struct {
	Volume      bool
	Price       bool
	Supply      bool
	CType       bool
	Balance     bool
	DemandSplit bool
	DemandBased bool
	PriceBased  bool

	VolumeTolerance float64
	PriceBasedRatio float64

	CTypeRatio          float64
	CTypeVolumeLimit    float64
	LongTypeRatio       float64
	LongTypeVolumeLimit float64
	ThinTypeRatio       float64
	ThinTypeVolumeLimit float64

	PriceUpperLimits map[string]float64
	PriceLowerLimits map[string]float64
	VolumeLimits     map[string]float64
}

// Objective is the normalized objective configuration. Disabled terms carry
// weight 0 but remain structurally present in the model.
type Objective struct {
	MaximizeAllocationWeight float64
	RoundBalanceWeight       float64
	RoundVarianceWeight      float64
	ProductBalanceWeight     float64
	SmoothTransitionWeight   float64
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Normalize validates the wire configuration and materializes defaults.
// Out-of-range values are rejected, never clamped.
func (c *SolveConfig) Normalize() (Constraints, Objective, error) {
	cons := Constraints{
		Volume:      boolOr(c.Constraints.EnableVolume, true),
		Price:       boolOr(c.Constraints.EnablePrice, true),
		Supply:      boolOr(c.Constraints.EnableSupply, true),
		CType:       boolOr(c.Constraints.EnableCType, true),
		Balance:     boolOr(c.Constraints.EnableBalance, true),
		DemandSplit: boolOr(c.Constraints.EnableDemandSplit, true),
		DemandBased: boolOr(c.Constraints.EnableDemandBased, true),
		PriceBased:  boolOr(c.Constraints.EnablePriceBased, true),

		VolumeTolerance: floatOr(c.Constraints.VolumeTolerance, DefaultVolumeTolerance),
		PriceBasedRatio: floatOr(c.Constraints.PriceBasedRatio, DefaultPriceBasedRatio),

		CTypeRatio:          floatOr(c.Constraints.CTypeRatio, DefaultCTypeRatio),
		CTypeVolumeLimit:    floatOr(c.Constraints.CTypeVolumeLimit, DefaultCTypeVolumeLimit),
		LongTypeRatio:       floatOr(c.Constraints.LongTypeRatio, DefaultLongTypeRatio),
		LongTypeVolumeLimit: floatOr(c.Constraints.LongTypeVolumeLimit, DefaultLongTypeVolumeLimit),
		ThinTypeRatio:       floatOr(c.Constraints.ThinTypeRatio, DefaultThinTypeRatio),
		ThinTypeVolumeLimit: floatOr(c.Constraints.ThinTypeVolumeLimit, DefaultThinTypeVolumeLimit),

		PriceUpperLimits: c.Constraints.PriceUpperLimits,
		PriceLowerLimits: c.Constraints.PriceLowerLimits,
		VolumeLimits:     c.Constraints.VolumeLimits,
	}

	for name, ratio := range map[string]float64{
		"volume_tolerance":  cons.VolumeTolerance,
		"price_based_ratio": cons.PriceBasedRatio,
		"c_type_ratio":      cons.CTypeRatio,
		"long_type_ratio":   cons.LongTypeRatio,
		"thin_type_ratio":   cons.ThinTypeRatio,
	} {
		if ratio < 0 || ratio > 1 {
			return Constraints{}, Objective{}, fmt.Errorf("%w: %s must be in [0, 1], got %v", ErrInvalidConfig, name, ratio)
		}
	}
	for name, limit := range map[string]float64{
		"c_type_volume_limit":    cons.CTypeVolumeLimit,
		"long_type_volume_limit": cons.LongTypeVolumeLimit,
		"thin_type_volume_limit": cons.ThinTypeVolumeLimit,
	} {
		if limit < 0 {
			return Constraints{}, Objective{}, fmt.Errorf("%w: %s must be nonnegative, got %v", ErrInvalidConfig, name, limit)
		}
	}
	for name, overrides := range map[string]map[string]float64{
		"volume_limits":      cons.VolumeLimits,
		"price_upper_limits": cons.PriceUpperLimits,
		"price_lower_limits": cons.PriceLowerLimits,
	} {
		for round, v := range overrides {
			if v < 0 {
				return Constraints{}, Objective{}, fmt.Errorf("%w: %s[%s] must be nonnegative, got %v", ErrInvalidConfig, name, round, v)
			}
		}
	}

	// Disabled families fall back to documented defaults so the parameters
	// stay observable and deterministic.
	if !cons.Volume {
		cons.VolumeTolerance = DefaultVolumeTolerance
		cons.VolumeLimits = nil
	}
	if !cons.Price {
		cons.PriceUpperLimits = nil
		cons.PriceLowerLimits = nil
	}
	if !cons.PriceBased {
		cons.PriceBasedRatio = DefaultPriceBasedRatio
	}
	if !cons.CType {
		cons.CTypeRatio = DefaultCTypeRatio
		cons.CTypeVolumeLimit = DefaultCTypeVolumeLimit
		cons.LongTypeRatio = DefaultLongTypeRatio
		cons.LongTypeVolumeLimit = DefaultLongTypeVolumeLimit
		cons.ThinTypeRatio = DefaultThinTypeRatio
		cons.ThinTypeVolumeLimit = DefaultThinTypeVolumeLimit
	}

	obj := Objective{
		MaximizeAllocationWeight: floatOr(c.Objective.MaximizeAllocationWeight, DefaultMaximizeAllocationWeight),
		RoundBalanceWeight:       floatOr(c.Objective.RoundBalanceWeight, DefaultRoundBalanceWeight),
		RoundVarianceWeight:      floatOr(c.Objective.RoundVarianceWeight, DefaultRoundVarianceWeight),
		ProductBalanceWeight:     floatOr(c.Objective.ProductBalanceWeight, DefaultProductBalanceWeight),
		SmoothTransitionWeight:   floatOr(c.Objective.SmoothTransitionWeight, DefaultSmoothTransitionWeight),
	}

	for name, w := range map[string]float64{
		"maximize_allocation_weight": obj.MaximizeAllocationWeight,
		"round_balance_weight":       obj.RoundBalanceWeight,
		"round_variance_weight":      obj.RoundVarianceWeight,
		"product_balance_weight":     obj.ProductBalanceWeight,
		"smooth_transition_weight":   obj.SmoothTransitionWeight,
	} {
		if w < 0 {
			return Constraints{}, Objective{}, fmt.Errorf("%w: %s must be nonnegative, got %v", ErrInvalidConfig, name, w)
		}
	}

	// Disabled terms keep their aux variables but contribute nothing.
	if !boolOr(c.Objective.EnableMaximizeAllocation, true) {
		obj.MaximizeAllocationWeight = 0
	}
	if !boolOr(c.Objective.EnableRoundBalance, true) {
		obj.RoundBalanceWeight = 0
	}
	if !boolOr(c.Objective.EnableRoundVariance, true) {
		obj.RoundVarianceWeight = 0
	}
	if !boolOr(c.Objective.EnableProductBalance, true) {
		obj.ProductBalanceWeight = 0
	}
	if !boolOr(c.Objective.EnableSmoothTransition, true) {
		obj.SmoothTransitionWeight = 0
	}

	return cons, obj, nil
}

// RoundTarget resolves the volume target for a round, preferring a
// per-round override over the dataset default.
func (c *Constraints) RoundTarget(r Round) float64 {
	if v, ok := c.VolumeLimits[r.Name]; ok {
		return v
	}
	return r.TotalQuantity
}

// RoundPriceBand resolves the price band for a round, preferring per-round
// overrides over the dataset defaults.
func (c *Constraints) RoundPriceBand(r Round) (lower, upper float64) {
	lower, upper = r.PriceLowerLimit, r.PriceUpperLimit
	if v, ok := c.PriceLowerLimits[r.Name]; ok {
		lower = v
	}
	if v, ok := c.PriceUpperLimits[r.Name]; ok {
		upper = v
	}
	return lower, upper
}
