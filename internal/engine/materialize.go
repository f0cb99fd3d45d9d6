package engine

import (
	"math"

	"github.com/leyuan/allocsrv/internal/models"
)

// crumbThreshold is the smallest allocation kept as-is; smaller slivers are
// swept into the product's largest round so the published matrix is clean.
const crumbThreshold = 0.1

// tinyShortfall is the largest demand gap that gets topped up into the
// product's biggest round after rounding.
const tinyShortfall = 0.01

// Materializer projects raw solver variable values into the allocation
// matrix and round summaries. Pure projection, no decisions.
type Materializer struct {
	space *modelSpace
}

// NewMaterializer creates a materializer over the solved model space.
func NewMaterializer(space *modelSpace) *Materializer {
	return &Materializer{space: space}
}

// Materialize converts the solver's column values into the result view.
func (m *Materializer) Materialize(values []float64) *models.AllocationResult {
	ds := m.space.ds
	nR := len(ds.Rounds)

	alloc := make([][]float64, len(ds.Products))
	for pi := range ds.Products {
		alloc[pi] = make([]float64, nR)
		for ri := 0; ri < nR; ri++ {
			col := m.space.x[pi][ri]
			v := 0.0
			if col < len(values) {
				v = values[col]
			}
			alloc[pi][ri] = round3(v)
		}
		sweepCrumbs(alloc[pi])
		topUpShortfall(alloc[pi], ds.Products[pi].Demand)
	}

	result := &models.AllocationResult{}
	for pi := range ds.Products {
		p := &ds.Products[pi]
		row := models.AllocationRow{
			ProductCode:     p.Code,
			ProductName:     p.Name,
			Category:        p.Category,
			Brand:           p.Brand,
			CType:           p.CType,
			CCategory:       p.CCategory,
			DemandBased:     p.DemandBased,
			PriceBased:      p.PriceBased,
			Demand:          p.Demand,
			WholesalePrice:  p.WholesalePrice,
			AvailableSupply: p.AvailableSupply,
			Allocations:     make(map[string]float64, nR),
			UnitPrice:       p.WholesalePrice,
		}
		for ri, r := range ds.Rounds {
			row.Allocations[r.Name] = alloc[pi][ri]
			row.TotalAllocation += alloc[pi][ri]
		}
		row.TotalAllocation = round3(row.TotalAllocation)
		if p.Demand > 0 {
			row.AllocationRate = row.TotalAllocation / p.Demand
		}
		result.Rows = append(result.Rows, row)
		result.TotalAllocation += row.TotalAllocation
	}
	result.TotalAllocation = round3(result.TotalAllocation)

	for ri, r := range ds.Rounds {
		summary := models.RoundSummary{RoundName: r.Name}
		weighted := 0.0
		for pi := range ds.Products {
			v := alloc[pi][ri]
			if v <= 0 {
				continue
			}
			summary.TotalAllocation += v
			summary.ProductCount++
			weighted += v * ds.Products[pi].WholesalePrice
		}
		summary.TotalAllocation = round3(summary.TotalAllocation)
		if summary.TotalAllocation > 0 {
			summary.AveragePrice = weighted / summary.TotalAllocation
		}
		result.RoundSummaries = append(result.RoundSummaries, summary)
	}

	return result
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// sweepCrumbs merges sub-threshold slivers into the largest allocation of
// the same product. When every allocation is a sliver they are merged into
// the first nonzero round if they add up past the threshold, cleared
// otherwise.
func sweepCrumbs(alloc []float64) {
	maxIdx := -1
	crumbs := 0.0
	for i, v := range alloc {
		if v >= crumbThreshold && (maxIdx == -1 || v > alloc[maxIdx]) {
			maxIdx = i
		}
	}
	for i, v := range alloc {
		if v > 0 && v < crumbThreshold {
			crumbs += v
			alloc[i] = 0
		}
	}
	if crumbs == 0 {
		return
	}
	if maxIdx >= 0 {
		alloc[maxIdx] = round3(alloc[maxIdx] + crumbs)
		return
	}
	if crumbs >= crumbThreshold {
		for i := range alloc {
			alloc[i] = 0
		}
		alloc[0] = round3(crumbs)
	}
}

// topUpShortfall folds a hairline rounding gap between total allocation and
// demand into the product's biggest round.
func topUpShortfall(alloc []float64, demand float64) {
	if demand <= 0 {
		return
	}
	total := 0.0
	maxIdx := -1
	for i, v := range alloc {
		total += v
		if v > 0 && (maxIdx == -1 || v > alloc[maxIdx]) {
			maxIdx = i
		}
	}
	gap := demand - total
	if maxIdx >= 0 && gap > 0 && gap <= tinyShortfall {
		alloc[maxIdx] = round3(alloc[maxIdx] + gap)
	}
}
