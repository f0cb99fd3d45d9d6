package engine

import (
	"github.com/bartolsthoorn/gohighs/highs"

	"github.com/leyuan/allocsrv/internal/models"
)

// modelSpace owns the variable layout of one assembled model. The layout is a
// function of the dataset only, never of the enabled constraint families or
// objective toggles, so model shape is identical across toggle combinations.
//
// Column order (documented for deterministic builds):
//  1. x[p][r]        allocation of product p in round r (continuous, >= 0)
//  2. z[p][r]        nonzero-allocation indicator (binary)
//  3. squareOn[r]    square sub-category active-round indicator (binary)
//  4. latePen[p][r]  late-round allocation of demand-based products (r >= 3)
//  5. balPos/balNeg  adjacent-round balance band deviations
//  6. maxRound, minRound
//  7. devPos/devNeg  per-round deviation from the mean round total
//  8. prodMax/prodMin per-product allocation spread bounds
//  9. smooth[p][i]   |x[p][i+1] - x[p][i]| linearization
type modelSpace struct {
	ds *models.Dataset

	hm *highs.Model

	x        [][]int // [product][round]
	z        [][]int
	squareOn []int
	latePen  map[int]map[int]int // product -> round -> col
	balPos   []int
	balNeg   []int
	maxRound int
	minRound int
	devPos   []int
	devNeg   []int
	prodMax  []int
	prodMin  []int
	smooth   [][]int // [product][pair]

	cols int
	rows int
}

func (s *modelSpace) addCol(lower, upper float64, integer bool) int {
	col := s.cols
	s.cols++
	s.hm.ColLower = append(s.hm.ColLower, lower)
	s.hm.ColUpper = append(s.hm.ColUpper, upper)
	s.hm.ColCosts = append(s.hm.ColCosts, 0)
	vt := highs.Continuous
	if integer {
		vt = highs.Integer
	}
	s.hm.VarTypes = append(s.hm.VarTypes, vt)
	return col
}

func (s *modelSpace) addRow(lower float64, cols []int, vals []float64, upper float64) {
	s.hm.AddSparseRow(lower, cols, vals, upper)
	s.rows++
}

func (s *modelSpace) setCost(col int, cost float64) {
	s.hm.ColCosts[col] = cost
}

// allocationBound is the natural upper bound of x[p][r] and the big-M used
// for indicator linking. An overly loose bound weakens the LP relaxation, so
// the bound is derived from the data rather than an arbitrary large constant.
// Frozen cells are pinned at their recorded value even when that exceeds the
// product demand, so the bound must cover both.
func allocationBound(p *models.Product) float64 {
	bound := p.Demand
	for _, v := range p.Existing {
		if v > bound {
			bound = v
		}
	}
	return bound
}

// newModelSpace creates every variable of the model. Fixed pre-existing
// allocations are frozen by pinning both bounds; zero-demand products are
// fixed to zero rather than left free.
func newModelSpace(ds *models.Dataset) *modelSpace {
	s := &modelSpace{
		ds:      ds,
		hm:      &highs.Model{},
		latePen: make(map[int]map[int]int),
	}

	nP := len(ds.Products)
	nR := len(ds.Rounds)

	s.x = make([][]int, nP)
	for pi := range ds.Products {
		p := &ds.Products[pi]
		s.x[pi] = make([]int, nR)
		for ri, r := range ds.Rounds {
			if fixed, ok := p.Existing[r.Name]; ok && fixed > 0 {
				s.x[pi][ri] = s.addCol(fixed, fixed, false)
				continue
			}
			if p.Demand <= 0 {
				s.x[pi][ri] = s.addCol(0, 0, false)
				continue
			}
			s.x[pi][ri] = s.addCol(0, allocationBound(p), false)
		}
	}

	s.z = make([][]int, nP)
	for pi := range ds.Products {
		s.z[pi] = make([]int, nR)
		for ri := range ds.Rounds {
			s.z[pi][ri] = s.addCol(0, 1, true)
		}
	}

	s.squareOn = make([]int, nR)
	for ri := range ds.Rounds {
		s.squareOn[ri] = s.addCol(0, 1, true)
	}

	for pi := range ds.Products {
		if !ds.Products[pi].DemandBased {
			continue
		}
		s.latePen[pi] = make(map[int]int)
		for ri := 2; ri < nR; ri++ {
			s.latePen[pi][ri] = s.addCol(0, highs.Inf(), false)
		}
	}

	for i := 0; i+1 < nR; i++ {
		s.balPos = append(s.balPos, s.addCol(0, highs.Inf(), false))
		s.balNeg = append(s.balNeg, s.addCol(0, highs.Inf(), false))
	}

	s.maxRound = s.addCol(highs.NegInf(), highs.Inf(), false)
	s.minRound = s.addCol(highs.NegInf(), highs.Inf(), false)

	for range ds.Rounds {
		s.devPos = append(s.devPos, s.addCol(0, highs.Inf(), false))
		s.devNeg = append(s.devNeg, s.addCol(0, highs.Inf(), false))
	}

	for range ds.Products {
		s.prodMax = append(s.prodMax, s.addCol(highs.NegInf(), highs.Inf(), false))
		s.prodMin = append(s.prodMin, s.addCol(highs.NegInf(), highs.Inf(), false))
	}

	s.smooth = make([][]int, nP)
	for pi := range ds.Products {
		for i := 0; i+1 < nR; i++ {
			s.smooth[pi] = append(s.smooth[pi], s.addCol(0, highs.Inf(), false))
		}
	}

	return s
}

// roundTotal returns the column/value pairs of a round's total allocation.
func (s *modelSpace) roundTotal(ri int) (cols []int, vals []float64) {
	for pi := range s.ds.Products {
		cols = append(cols, s.x[pi][ri])
		vals = append(vals, 1)
	}
	return cols, vals
}
