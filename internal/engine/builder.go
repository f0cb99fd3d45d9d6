package engine

import (
	"math"

	"github.com/bartolsthoorn/gohighs/highs"
	log "github.com/sirupsen/logrus"

	"github.com/leyuan/allocsrv/internal/models"
)

// Demand-split thresholds: products up to the concentrate bound (inclusive)
// must fit in at most two rounds, products above it up to the spread bound
// must use at least two.
const (
	splitConcentrateMax = 100.0
	splitSpreadMax      = 250.0
)

// minimum allocation linked to an active indicator, keeps the solver from
// declaring a round "used" by a hairline quantity
const indicatorFloor = 0.01

// familyBuilder emits the rows of one constraint family into the space.
type familyBuilder struct {
	name string
	emit func(b *ConstraintBuilder)
	when func(c *models.Constraints) bool
}

// ConstraintBuilder translates the enabled configuration into linear rows
// over the model space. Disabling a family omits its rows entirely rather
// than relaxing them, so infeasibility can be attributed to the remaining
// active families.
type ConstraintBuilder struct {
	space *modelSpace
	cons  models.Constraints
}

// NewConstraintBuilder creates a builder over an assembled variable space.
func NewConstraintBuilder(space *modelSpace, cons models.Constraints) *ConstraintBuilder {
	return &ConstraintBuilder{space: space, cons: cons}
}

// families is the registry of constraint emitters, iterated in this fixed
// order so build output is deterministic.
var families = []familyBuilder{
	{"demand", (*ConstraintBuilder).emitDemand, func(*models.Constraints) bool { return true }},
	{"supply", (*ConstraintBuilder).emitSupply, func(c *models.Constraints) bool { return c.Supply }},
	{"volume", (*ConstraintBuilder).emitVolume, func(c *models.Constraints) bool { return c.Volume }},
	{"price", (*ConstraintBuilder).emitPrice, func(c *models.Constraints) bool { return c.Price }},
	{"indicator_links", (*ConstraintBuilder).emitIndicatorLinks, func(c *models.Constraints) bool { return c.PriceBased || c.DemandSplit }},
	{"price_based", (*ConstraintBuilder).emitPriceBased, func(c *models.Constraints) bool { return c.PriceBased }},
	{"demand_split", (*ConstraintBuilder).emitDemandSplit, func(c *models.Constraints) bool { return c.DemandSplit }},
	{"c_type", (*ConstraintBuilder).emitCType, func(c *models.Constraints) bool { return c.CType }},
	{"balance", (*ConstraintBuilder).emitBalance, func(c *models.Constraints) bool { return c.Balance }},
}

// Build emits every enabled family.
func (b *ConstraintBuilder) Build() {
	for _, f := range families {
		if !f.when(&b.cons) {
			continue
		}
		before := b.space.rows
		f.emit(b)
		log.WithFields(log.Fields{
			"family": f.name,
			"rows":   b.space.rows - before,
		}).Debug("constraint family emitted")
	}
}

// emitDemand caps each product's total allocation at its demand. Zero-demand
// products are already pinned to zero through their variable bounds.
func (b *ConstraintBuilder) emitDemand() {
	for pi := range b.space.ds.Products {
		p := &b.space.ds.Products[pi]
		if p.Demand <= 0 {
			continue
		}
		cols := make([]int, 0, len(b.space.ds.Rounds))
		vals := make([]float64, 0, len(b.space.ds.Rounds))
		for ri := range b.space.ds.Rounds {
			cols = append(cols, b.space.x[pi][ri])
			vals = append(vals, 1)
		}
		b.space.addRow(highs.NegInf(), cols, vals, p.Demand)
	}
}

// emitSupply caps each product's total allocation at its available supply
// when that is tighter than demand.
func (b *ConstraintBuilder) emitSupply() {
	for pi := range b.space.ds.Products {
		p := &b.space.ds.Products[pi]
		if p.Demand <= 0 || p.AvailableSupply >= p.Demand {
			continue
		}
		cols := make([]int, 0, len(b.space.ds.Rounds))
		vals := make([]float64, 0, len(b.space.ds.Rounds))
		for ri := range b.space.ds.Rounds {
			cols = append(cols, b.space.x[pi][ri])
			vals = append(vals, 1)
		}
		b.space.addRow(highs.NegInf(), cols, vals, p.AvailableSupply)
	}
}

// emitVolume keeps each round's total inside the tolerance band around its
// target. Per-round overrides win over the dataset default.
func (b *ConstraintBuilder) emitVolume() {
	for ri, r := range b.space.ds.Rounds {
		target := b.cons.RoundTarget(r)
		cols, vals := b.space.roundTotal(ri)
		lower := target * (1 - b.cons.VolumeTolerance)
		upper := target * (1 + b.cons.VolumeTolerance)
		b.space.addRow(lower, cols, vals, upper)
	}
}

// emitPrice constrains each round's allocation-weighted average wholesale
// price to its band. The average is a ratio of sums, linearized by
// multiplying through:
//
//	sum x*(price - lower) >= 0 and sum x*(upper - price) >= 0
//
// A round with zero allocation satisfies both rows vacuously; the band only
// bites when another family (volume) forces quantity into the round.
func (b *ConstraintBuilder) emitPrice() {
	for ri, r := range b.space.ds.Rounds {
		lower, upper := b.cons.RoundPriceBand(r)

		loCols := make([]int, 0, len(b.space.ds.Products))
		loVals := make([]float64, 0, len(b.space.ds.Products))
		hiCols := make([]int, 0, len(b.space.ds.Products))
		hiVals := make([]float64, 0, len(b.space.ds.Products))
		for pi := range b.space.ds.Products {
			price := b.space.ds.Products[pi].WholesalePrice
			loCols = append(loCols, b.space.x[pi][ri])
			loVals = append(loVals, price-lower)
			hiCols = append(hiCols, b.space.x[pi][ri])
			hiVals = append(hiVals, upper-price)
		}
		b.space.addRow(0, loCols, loVals, highs.Inf())
		b.space.addRow(0, hiCols, hiVals, highs.Inf())
	}
}

// emitIndicatorLinks ties z[p][r] to x[p][r]: z must be 1 whenever the
// allocation is nonzero, and an active indicator demands at least the floor
// quantity. Shared by the price_based and demand_split families.
func (b *ConstraintBuilder) emitIndicatorLinks() {
	for pi := range b.space.ds.Products {
		p := &b.space.ds.Products[pi]
		bigM := allocationBound(p)
		if bigM <= 0 {
			bigM = 1
		}
		for ri := range b.space.ds.Rounds {
			x := b.space.x[pi][ri]
			z := b.space.z[pi][ri]
			// x - M*z <= 0
			b.space.addRow(highs.NegInf(), []int{x, z}, []float64{1, -bigM}, 0)
			// x - floor*z >= 0
			b.space.addRow(0, []int{x, z}, []float64{1, -indicatorFloor}, highs.Inf())
		}
	}
}

// emitPriceBased requires that, in each round, price-based products make up
// at least the configured fraction of all products with nonzero allocation.
func (b *ConstraintBuilder) emitPriceBased() {
	ratio := b.cons.PriceBasedRatio
	for ri := range b.space.ds.Rounds {
		cols := make([]int, 0, len(b.space.ds.Products))
		vals := make([]float64, 0, len(b.space.ds.Products))
		for pi := range b.space.ds.Products {
			coeff := -ratio
			if b.space.ds.Products[pi].PriceBased {
				coeff = 1 - ratio
			}
			cols = append(cols, b.space.z[pi][ri])
			vals = append(vals, coeff)
		}
		b.space.addRow(0, cols, vals, highs.Inf())
	}
}

// emitDemandSplit bounds how many rounds a product's demand may spread over.
// Products with pre-existing fixed allocations are exempt.
func (b *ConstraintBuilder) emitDemandSplit() {
	for pi := range b.space.ds.Products {
		p := &b.space.ds.Products[pi]
		if p.Demand <= 0 || p.HasExisting() {
			continue
		}
		cols := make([]int, 0, len(b.space.ds.Rounds))
		vals := make([]float64, 0, len(b.space.ds.Rounds))
		for ri := range b.space.ds.Rounds {
			cols = append(cols, b.space.z[pi][ri])
			vals = append(vals, 1)
		}
		switch {
		case p.Demand <= splitConcentrateMax:
			b.space.addRow(highs.NegInf(), cols, vals, 2)
		case p.Demand <= splitSpreadMax:
			if len(b.space.ds.Rounds) >= 2 {
				b.space.addRow(2, cols, vals, highs.Inf())
			}
		}
	}
}

// emitCType caps C-class allocation per round by ratio and by absolute
// volume, bounds the long/thin sub-categories against the round's C-class
// total, and concentrates square products into a single round.
func (b *ConstraintBuilder) emitCType() {
	var cIdx, longIdx, thinIdx, squareIdx []int
	for pi := range b.space.ds.Products {
		p := &b.space.ds.Products[pi]
		if !p.CType {
			continue
		}
		cIdx = append(cIdx, pi)
		switch p.CCategory {
		case models.CSubCategoryLong:
			longIdx = append(longIdx, pi)
		case models.CSubCategoryThin:
			thinIdx = append(thinIdx, pi)
		case models.CSubCategorySquare:
			if !p.HasExisting() {
				squareIdx = append(squareIdx, pi)
			}
		}
	}
	if len(cIdx) == 0 {
		return
	}

	for ri := range b.space.ds.Rounds {
		// sum_C x - ratio * sum_all x <= 0
		cols := make([]int, 0, len(b.space.ds.Products))
		vals := make([]float64, 0, len(b.space.ds.Products))
		cSet := make(map[int]bool, len(cIdx))
		for _, pi := range cIdx {
			cSet[pi] = true
		}
		for pi := range b.space.ds.Products {
			coeff := -b.cons.CTypeRatio
			if cSet[pi] {
				coeff = 1 - b.cons.CTypeRatio
			}
			cols = append(cols, b.space.x[pi][ri])
			vals = append(vals, coeff)
		}
		b.space.addRow(highs.NegInf(), cols, vals, 0)

		// sum_C x <= volume limit
		cCols := make([]int, 0, len(cIdx))
		cVals := make([]float64, 0, len(cIdx))
		for _, pi := range cIdx {
			cCols = append(cCols, b.space.x[pi][ri])
			cVals = append(cVals, 1)
		}
		b.space.addRow(highs.NegInf(), cCols, cVals, b.cons.CTypeVolumeLimit)

		b.emitSubCategory(ri, longIdx, cIdx, b.cons.LongTypeRatio, b.cons.LongTypeVolumeLimit)
		b.emitSubCategory(ri, thinIdx, cIdx, b.cons.ThinTypeRatio, b.cons.ThinTypeVolumeLimit)
	}

	if len(squareIdx) > 0 {
		cols := make([]int, 0, len(b.space.ds.Rounds))
		vals := make([]float64, 0, len(b.space.ds.Rounds))
		for ri := range b.space.ds.Rounds {
			cols = append(cols, b.space.squareOn[ri])
			vals = append(vals, 1)
		}
		b.space.addRow(1, cols, vals, 1)

		for ri := range b.space.ds.Rounds {
			bigM := 0.0
			rowCols := []int{b.space.squareOn[ri]}
			rowVals := []float64{0} // placeholder, filled after bigM known
			for _, pi := range squareIdx {
				rowCols = append(rowCols, b.space.x[pi][ri])
				rowVals = append(rowVals, 1)
				bigM += math.Max(allocationBound(&b.space.ds.Products[pi]), 1)
			}
			rowVals[0] = -bigM
			b.space.addRow(highs.NegInf(), rowCols, rowVals, 0)
		}
	}
}

func (b *ConstraintBuilder) emitSubCategory(ri int, subIdx, cIdx []int, ratio, volumeLimit float64) {
	if len(subIdx) == 0 {
		return
	}
	subSet := make(map[int]bool, len(subIdx))
	for _, pi := range subIdx {
		subSet[pi] = true
	}

	// sum_sub x - ratio * sum_C x <= 0
	cols := make([]int, 0, len(cIdx))
	vals := make([]float64, 0, len(cIdx))
	for _, pi := range cIdx {
		coeff := -ratio
		if subSet[pi] {
			coeff = 1 - ratio
		}
		cols = append(cols, b.space.x[pi][ri])
		vals = append(vals, coeff)
	}
	b.space.addRow(highs.NegInf(), cols, vals, 0)

	// sum_sub x <= volume limit
	subCols := make([]int, 0, len(subIdx))
	subVals := make([]float64, 0, len(subIdx))
	for _, pi := range subIdx {
		subCols = append(subCols, b.space.x[pi][ri])
		subVals = append(subVals, 1)
	}
	b.space.addRow(highs.NegInf(), subCols, subVals, volumeLimit)
}

// emitBalance keeps adjacent round totals inside a [0.8, 1.2] ratio band as
// a soft constraint: band overshoot flows into penalty variables priced by
// the objective composer.
func (b *ConstraintBuilder) emitBalance() {
	for i := 0; i+1 < len(b.space.ds.Rounds); i++ {
		curCols, curVals := b.space.roundTotal(i)
		nextCols, _ := b.space.roundTotal(i + 1)

		// cur - 1.2*next - balPos <= 0
		cols := append(append([]int{}, curCols...), nextCols...)
		vals := append([]float64{}, curVals...)
		for range nextCols {
			vals = append(vals, -1.2)
		}
		cols = append(cols, b.space.balPos[i])
		vals = append(vals, -1)
		b.space.addRow(highs.NegInf(), cols, vals, 0)

		// cur - 0.8*next + balNeg >= 0
		cols = append(append([]int{}, curCols...), nextCols...)
		vals = append([]float64{}, curVals...)
		for range nextCols {
			vals = append(vals, -0.8)
		}
		cols = append(cols, b.space.balNeg[i])
		vals = append(vals, 1)
		b.space.addRow(0, cols, vals, highs.Inf())
	}
}
