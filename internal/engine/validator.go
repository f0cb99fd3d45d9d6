package engine

import (
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/leyuan/allocsrv/internal/models"
)

// Numeric slack for post-solve checks. Quantities tolerate solver noise up
// to a thousandth of a case; prices up to a cent.
const (
	qtyEpsilon   = 1e-3
	priceEpsilon = 1e-2
)

// Constraint family names as reported by the validator.
const (
	FamilyDemand      = "demand"
	FamilySupply      = "supply"
	FamilyVolume      = "volume"
	FamilyPrice       = "price"
	FamilyFixed       = "fixed_allocation"
	FamilyDemandSplit = "demand_split"
	FamilyDemandBased = "demand_based_priority"
	FamilyPriceBased  = "price_based"
	FamilyCType       = "c_type"
	FamilyBalance     = "balance"
)

// Validator independently re-checks every enabled constraint family against
// a materialized allocation. It never consults the solver's internal state:
// soft families that entered the model only as objective penalties can fail
// here even though the solve was optimal, and surfacing that gap is the
// point.
type Validator struct {
	ds   *models.Dataset
	cons models.Constraints
}

// NewValidator creates a validator for one dataset and configuration.
func NewValidator(ds *models.Dataset, cons models.Constraints) *Validator {
	return &Validator{ds: ds, cons: cons}
}

type familyCheck struct {
	name    string
	enabled func(c *models.Constraints) bool
	check   func(v *Validator, r *models.AllocationResult) models.FamilyReport
}

// checks is iterated in this order; every family lands in exactly one of
// passed, violated, or skipped.
var checks = []familyCheck{
	{FamilyDemand, func(*models.Constraints) bool { return true }, (*Validator).checkDemand},
	{FamilySupply, func(c *models.Constraints) bool { return c.Supply }, (*Validator).checkSupply},
	{FamilyVolume, func(c *models.Constraints) bool { return c.Volume }, (*Validator).checkVolume},
	{FamilyPrice, func(c *models.Constraints) bool { return c.Price }, (*Validator).checkPrice},
	{FamilyFixed, func(*models.Constraints) bool { return true }, (*Validator).checkFixed},
	{FamilyDemandSplit, func(c *models.Constraints) bool { return c.DemandSplit }, (*Validator).checkDemandSplit},
	{FamilyDemandBased, func(c *models.Constraints) bool { return c.DemandBased }, (*Validator).checkDemandBased},
	{FamilyPriceBased, func(c *models.Constraints) bool { return c.PriceBased }, (*Validator).checkPriceBased},
	{FamilyCType, func(c *models.Constraints) bool { return c.CType }, (*Validator).checkCType},
	{FamilyBalance, func(c *models.Constraints) bool { return c.Balance }, (*Validator).checkBalance},
}

// Validate runs every family check and aggregates the report.
func (v *Validator) Validate(result *models.AllocationResult) *models.ValidationReport {
	report := &models.ValidationReport{
		OverallValid: true,
		Families:     make(map[string]models.FamilyReport, len(checks)),
	}

	for _, c := range checks {
		if !c.enabled(&v.cons) {
			report.Summary.Skipped = append(report.Summary.Skipped, c.name)
			continue
		}
		report.Summary.Enabled = append(report.Summary.Enabled, c.name)
		fr := c.check(v, result)
		fr.IsValid = len(fr.Violations) == 0
		report.Families[c.name] = fr
		if fr.IsValid {
			report.Summary.Passed = append(report.Summary.Passed, c.name)
		} else {
			report.Summary.Violated = append(report.Summary.Violated, c.name)
			report.Summary.TotalViolations += len(fr.Violations)
			report.OverallValid = false
		}
	}

	log.WithFields(log.Fields{
		"violations": report.Summary.TotalViolations,
		"violated":   report.Summary.Violated,
		"skipped":    report.Summary.Skipped,
	}).Info("constraint validation finished")
	return report
}

func (v *Validator) checkDemand(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport
	for _, row := range r.Rows {
		if row.TotalAllocation > row.Demand+qtyEpsilon {
			fr.Violations = append(fr.Violations, models.Violation{
				ProductCode: row.ProductCode,
				Actual:      row.TotalAllocation,
				Limit:       row.Demand,
			})
		}
	}
	return fr
}

func (v *Validator) checkSupply(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport
	for _, row := range r.Rows {
		if row.TotalAllocation > row.AvailableSupply+qtyEpsilon {
			fr.Violations = append(fr.Violations, models.Violation{
				ProductCode: row.ProductCode,
				Actual:      row.TotalAllocation,
				Limit:       row.AvailableSupply,
			})
		}
	}
	return fr
}

func (v *Validator) checkVolume(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport
	for i, summary := range r.RoundSummaries {
		target := v.cons.RoundTarget(v.ds.Rounds[i])
		lower := target * (1 - v.cons.VolumeTolerance)
		upper := target * (1 + v.cons.VolumeTolerance)
		if summary.TotalAllocation > upper+qtyEpsilon || summary.TotalAllocation < lower-qtyEpsilon {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:      summary.RoundName,
				Actual:     summary.TotalAllocation,
				Target:     target,
				LowerLimit: lower,
				UpperLimit: upper,
			})
		}
	}
	return fr
}

func (v *Validator) checkPrice(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport
	for i, summary := range r.RoundSummaries {
		if summary.TotalAllocation <= 0 {
			continue
		}
		lower, upper := v.cons.RoundPriceBand(v.ds.Rounds[i])
		if summary.AveragePrice > upper+priceEpsilon || summary.AveragePrice < lower-priceEpsilon {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:      summary.RoundName,
				Actual:     summary.AveragePrice,
				LowerLimit: lower,
				UpperLimit: upper,
			})
		}
	}
	return fr
}

func (v *Validator) checkFixed(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport
	for pi, row := range r.Rows {
		p := &v.ds.Products[pi]
		for roundName, fixed := range p.Existing {
			if fixed <= 0 {
				continue
			}
			if math.Abs(row.Allocations[roundName]-fixed) > qtyEpsilon {
				fr.Violations = append(fr.Violations, models.Violation{
					ProductCode: row.ProductCode,
					Round:       roundName,
					Actual:      row.Allocations[roundName],
					Target:      fixed,
				})
			}
		}
	}
	return fr
}

func (v *Validator) checkDemandSplit(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport
	for pi, row := range r.Rows {
		p := &v.ds.Products[pi]
		if p.Demand <= 0 || p.HasExisting() {
			continue
		}
		used := 0
		for _, qty := range row.Allocations {
			if qty > qtyEpsilon {
				used++
			}
		}
		switch {
		case p.Demand <= splitConcentrateMax && used > 2:
			fr.Violations = append(fr.Violations, models.Violation{
				ProductCode: row.ProductCode,
				Constraint:  "at_most_two_rounds",
				Actual:      float64(used),
				Limit:       2,
			})
		case p.Demand > splitConcentrateMax && p.Demand <= splitSpreadMax &&
			used < 2 && len(v.ds.Rounds) >= 2 && row.TotalAllocation > qtyEpsilon:
			fr.Violations = append(fr.Violations, models.Violation{
				ProductCode: row.ProductCode,
				Constraint:  "at_least_two_rounds",
				Actual:      float64(used),
				Limit:       2,
			})
		}
	}
	return fr
}

// checkDemandBased is the literal reading of the soft priority rule:
// demand-based products should land entirely in the first two rounds. The
// model only penalizes late allocation, so an optimal solve can still fail
// this threshold.
func (v *Validator) checkDemandBased(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport
	if len(v.ds.Rounds) < 2 {
		return fr
	}
	for pi, row := range r.Rows {
		p := &v.ds.Products[pi]
		if !p.DemandBased || row.TotalAllocation <= qtyEpsilon {
			continue
		}
		early := 0.0
		for ri := 0; ri < 2; ri++ {
			early += row.Allocations[v.ds.Rounds[ri].Name]
		}
		if ratio := early / row.TotalAllocation; ratio < 1.0-1e-9 {
			fr.Violations = append(fr.Violations, models.Violation{
				ProductCode: row.ProductCode,
				Constraint:  "first_two_rounds",
				Actual:      ratio,
				Limit:       1.0,
			})
		}
	}
	return fr
}

func (v *Validator) checkPriceBased(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport
	for _, round := range v.ds.Rounds {
		total := 0
		priceBased := 0
		for pi, row := range r.Rows {
			if row.Allocations[round.Name] > qtyEpsilon {
				total++
				if v.ds.Products[pi].PriceBased {
					priceBased++
				}
			}
		}
		if total == 0 {
			continue
		}
		ratio := float64(priceBased) / float64(total)
		if ratio < v.cons.PriceBasedRatio-1e-9 {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:  round.Name,
				Actual: ratio,
				Limit:  v.cons.PriceBasedRatio,
			})
		}
	}
	return fr
}

func (v *Validator) checkCType(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport

	squareRounds := 0
	for _, round := range v.ds.Rounds {
		roundTotal := 0.0
		cTotal := 0.0
		longTotal := 0.0
		thinTotal := 0.0
		squareUsed := false
		for pi, row := range r.Rows {
			qty := row.Allocations[round.Name]
			roundTotal += qty
			p := &v.ds.Products[pi]
			if !p.CType {
				continue
			}
			cTotal += qty
			switch p.CCategory {
			case models.CSubCategoryLong:
				longTotal += qty
			case models.CSubCategoryThin:
				thinTotal += qty
			case models.CSubCategorySquare:
				if !p.HasExisting() && qty > qtyEpsilon {
					squareUsed = true
				}
			}
		}
		if squareUsed {
			squareRounds++
		}

		if roundTotal > 0 && cTotal/roundTotal > v.cons.CTypeRatio+1e-9 {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:      round.Name,
				Constraint: "c_type_round_ratio",
				Actual:     cTotal / roundTotal,
				Limit:      v.cons.CTypeRatio,
			})
		}
		if cTotal > v.cons.CTypeVolumeLimit+qtyEpsilon {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:      round.Name,
				Constraint: "c_type_round_volume",
				Actual:     cTotal,
				Limit:      v.cons.CTypeVolumeLimit,
			})
		}
		if longTotal > v.cons.LongTypeVolumeLimit+qtyEpsilon {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:      round.Name,
				Constraint: "long_type_round_volume",
				Actual:     longTotal,
				Limit:      v.cons.LongTypeVolumeLimit,
			})
		}
		if cTotal > 0 && longTotal/cTotal > v.cons.LongTypeRatio+1e-9 {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:      round.Name,
				Constraint: "long_type_round_ratio",
				Actual:     longTotal / cTotal,
				Limit:      v.cons.LongTypeRatio,
			})
		}
		if thinTotal > v.cons.ThinTypeVolumeLimit+qtyEpsilon {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:      round.Name,
				Constraint: "thin_type_round_volume",
				Actual:     thinTotal,
				Limit:      v.cons.ThinTypeVolumeLimit,
			})
		}
		if cTotal > 0 && thinTotal/cTotal > v.cons.ThinTypeRatio+1e-9 {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:      round.Name,
				Constraint: "thin_type_round_ratio",
				Actual:     thinTotal / cTotal,
				Limit:      v.cons.ThinTypeRatio,
			})
		}
	}

	if squareRounds > 1 {
		fr.Violations = append(fr.Violations, models.Violation{
			Constraint: "square_type_single_round",
			Actual:     float64(squareRounds),
			Limit:      1,
		})
	}
	return fr
}

// checkBalance applies the literal adjacent-round band: each round total
// must stay within [0.8, 1.2] of its successor. This family is soft in the
// model, so an optimal solve can legitimately fail here.
func (v *Validator) checkBalance(r *models.AllocationResult) models.FamilyReport {
	var fr models.FamilyReport
	for i := 0; i+1 < len(r.RoundSummaries); i++ {
		cur := r.RoundSummaries[i].TotalAllocation
		next := r.RoundSummaries[i+1].TotalAllocation
		if next <= 0 {
			continue
		}
		ratio := cur / next
		if ratio > 1.2+1e-9 || ratio < 0.8-1e-9 {
			fr.Violations = append(fr.Violations, models.Violation{
				Round:      r.RoundSummaries[i].RoundName,
				Constraint: "adjacent_round_band",
				Actual:     ratio,
				LowerLimit: 0.8,
				UpperLimit: 1.2,
			})
		}
	}
	return fr
}
