package engine

import (
	"github.com/bartolsthoorn/gohighs/highs"

	"github.com/leyuan/allocsrv/internal/models"
)

// Penalty coefficients of the soft constraint families. These are fixed
// business weights, not caller-tunable knobs.
const (
	balancePenaltyWeight = 500.0
	lateRoundBasePenalty = 50.0
	smoothProductDamping = 1.0
)

// ObjectiveComposer prices the model's columns into a single minimized
// scalar objective. The linearization rows that define the auxiliary
// variables are emitted unconditionally; disabled terms contribute weight 0,
// so the model's variable/constraint shape is identical across every toggle
// combination.
type ObjectiveComposer struct {
	space *modelSpace
	cons  models.Constraints
	obj   models.Objective
}

// NewObjectiveComposer creates a composer over an assembled variable space.
func NewObjectiveComposer(space *modelSpace, cons models.Constraints, obj models.Objective) *ObjectiveComposer {
	return &ObjectiveComposer{space: space, cons: cons, obj: obj}
}

// Compose emits the auxiliary linearization rows and sets every column cost.
// The model is minimized; allocation volume enters with a negative cost.
func (o *ObjectiveComposer) Compose() {
	o.linkRoundEnvelope()
	o.linkRoundDeviation()
	o.linkProductEnvelope()
	o.linkSmoothing()
	o.linkLatePenalties()

	nR := len(o.space.ds.Rounds)

	// 1. Maximize total allocation.
	for pi := range o.space.ds.Products {
		for ri := 0; ri < nR; ri++ {
			o.space.setCost(o.space.x[pi][ri], -o.obj.MaximizeAllocationWeight)
		}
	}

	// 2. Round balance: minimize the max-min spread of round totals.
	o.space.setCost(o.space.maxRound, o.obj.RoundBalanceWeight)
	o.space.setCost(o.space.minRound, -o.obj.RoundBalanceWeight)

	// 3. Round variance proxy: sum of absolute deviations from the mean.
	for ri := 0; ri < nR; ri++ {
		o.space.setCost(o.space.devPos[ri], o.obj.RoundVarianceWeight)
		o.space.setCost(o.space.devNeg[ri], o.obj.RoundVarianceWeight)
	}

	// 4. Product-level balance: per-product allocation spread. Products with
	// pre-existing fixed allocations are left out, matching the split/smooth
	// exemption.
	for pi := range o.space.ds.Products {
		p := &o.space.ds.Products[pi]
		if p.Demand <= 0 || p.HasExisting() {
			continue
		}
		o.space.setCost(o.space.prodMax[pi], o.obj.ProductBalanceWeight)
		o.space.setCost(o.space.prodMin[pi], -o.obj.ProductBalanceWeight)
	}

	// 5. Smooth transition between consecutive rounds, per product.
	for pi := range o.space.ds.Products {
		p := &o.space.ds.Products[pi]
		if p.Demand <= 0 || p.HasExisting() {
			continue
		}
		for _, col := range o.space.smooth[pi] {
			o.space.setCost(col, o.obj.SmoothTransitionWeight*smoothProductDamping)
		}
	}

	// Soft constraint families: demand-based late-round penalties double each
	// round past the second; balance band overshoot is priced flat.
	if o.cons.DemandBased {
		for _, rounds := range o.space.latePen {
			for ri, col := range rounds {
				weight := lateRoundBasePenalty
				for i := 2; i < ri; i++ {
					weight *= 2
				}
				o.space.setCost(col, weight)
			}
		}
	}
	if o.cons.Balance {
		for i := range o.space.balPos {
			o.space.setCost(o.space.balPos[i], balancePenaltyWeight)
			o.space.setCost(o.space.balNeg[i], balancePenaltyWeight)
		}
	}
}

// linkRoundEnvelope defines maxRound >= total_r and minRound <= total_r.
func (o *ObjectiveComposer) linkRoundEnvelope() {
	for ri := range o.space.ds.Rounds {
		cols, vals := o.space.roundTotal(ri)

		maxCols := append(append([]int{}, cols...), o.space.maxRound)
		maxVals := append(append([]float64{}, vals...), -1)
		o.space.addRow(highs.NegInf(), maxCols, maxVals, 0)

		minCols := append(append([]int{}, cols...), o.space.minRound)
		minVals := append(append([]float64{}, vals...), -1)
		o.space.addRow(0, minCols, minVals, highs.Inf())
	}
}

// linkRoundDeviation defines total_r - mean = devPos_r - devNeg_r, where
// mean is the average of all round totals.
func (o *ObjectiveComposer) linkRoundDeviation() {
	nR := len(o.space.ds.Rounds)
	if nR == 0 {
		return
	}
	meanCoeff := 1.0 / float64(nR)
	for ri := range o.space.ds.Rounds {
		var cols []int
		var vals []float64
		for pi := range o.space.ds.Products {
			for rj := 0; rj < nR; rj++ {
				coeff := -meanCoeff
				if rj == ri {
					coeff += 1
				}
				if coeff != 0 {
					cols = append(cols, o.space.x[pi][rj])
					vals = append(vals, coeff)
				}
			}
		}
		cols = append(cols, o.space.devPos[ri], o.space.devNeg[ri])
		vals = append(vals, -1, 1)
		o.space.addRow(0, cols, vals, 0)
	}
}

// linkProductEnvelope defines prodMax >= x[p][r] and prodMin <= x[p][r].
func (o *ObjectiveComposer) linkProductEnvelope() {
	for pi := range o.space.ds.Products {
		for ri := range o.space.ds.Rounds {
			x := o.space.x[pi][ri]
			o.space.addRow(highs.NegInf(), []int{x, o.space.prodMax[pi]}, []float64{1, -1}, 0)
			o.space.addRow(0, []int{x, o.space.prodMin[pi]}, []float64{1, -1}, highs.Inf())
		}
	}
}

// linkSmoothing defines smooth[p][i] >= |x[p][i+1] - x[p][i]| through the
// standard two-inequality absolute value linearization.
func (o *ObjectiveComposer) linkSmoothing() {
	for pi := range o.space.ds.Products {
		for i := 0; i+1 < len(o.space.ds.Rounds); i++ {
			cur := o.space.x[pi][i]
			next := o.space.x[pi][i+1]
			s := o.space.smooth[pi][i]
			o.space.addRow(highs.NegInf(), []int{next, cur, s}, []float64{1, -1, -1}, 0)
			o.space.addRow(highs.NegInf(), []int{cur, next, s}, []float64{1, -1, -1}, 0)
		}
	}
}

// linkLatePenalties pins each late-round penalty variable to the product's
// allocation in that round. Iterates in index order to keep row emission
// deterministic.
func (o *ObjectiveComposer) linkLatePenalties() {
	for pi := range o.space.ds.Products {
		rounds, ok := o.space.latePen[pi]
		if !ok {
			continue
		}
		for ri := 2; ri < len(o.space.ds.Rounds); ri++ {
			col, ok := rounds[ri]
			if !ok {
				continue
			}
			o.space.addRow(0, []int{o.space.x[pi][ri], col}, []float64{1, -1}, 0)
		}
	}
}
