package engine

import (
	"testing"

	"github.com/leyuan/allocsrv/internal/models"
)

func buildWith(t *testing.T, mutate func(*models.SolveConfig)) *modelSpace {
	t.Helper()
	var cfg models.SolveConfig
	if mutate != nil {
		mutate(&cfg)
	}
	cons, obj, err := cfg.Normalize()
	if err != nil {
		t.Fatalf("config should normalize: %v", err)
	}

	space := newModelSpace(testDataset())
	NewConstraintBuilder(space, cons).Build()
	NewObjectiveComposer(space, cons, obj).Compose()
	return space
}

func disable(field string) func(*models.SolveConfig) {
	off := false
	return func(cfg *models.SolveConfig) {
		switch field {
		case "volume":
			cfg.Constraints.EnableVolume = &off
		case "price":
			cfg.Constraints.EnablePrice = &off
		case "supply":
			cfg.Constraints.EnableSupply = &off
		case "c_type":
			cfg.Constraints.EnableCType = &off
		case "balance":
			cfg.Constraints.EnableBalance = &off
		case "demand_split":
			cfg.Constraints.EnableDemandSplit = &off
		case "demand_based":
			cfg.Constraints.EnableDemandBased = &off
		case "price_based":
			cfg.Constraints.EnablePriceBased = &off
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a := buildWith(t, nil)
	b := buildWith(t, nil)

	if a.rows != b.rows {
		t.Fatalf("expected identical row counts, got %d and %d", a.rows, b.rows)
	}
	if a.cols != b.cols {
		t.Fatalf("expected identical column counts, got %d and %d", a.cols, b.cols)
	}
	for col := 0; col < a.cols; col++ {
		if a.hm.ColCosts[col] != b.hm.ColCosts[col] {
			t.Fatalf("column %d cost differs between identical builds", col)
		}
	}
}

func TestDisablingFamiliesKeepsColumns(t *testing.T) {
	full := buildWith(t, nil)

	for _, family := range []string{
		"volume", "price", "supply", "c_type",
		"demand_split", "demand_based", "price_based",
	} {
		reduced := buildWith(t, disable(family))
		if reduced.cols != full.cols {
			t.Errorf("disabling %s changed column count: %d vs %d", family, reduced.cols, full.cols)
		}
	}
}

func TestDisablingFamiliesDropsRows(t *testing.T) {
	full := buildWith(t, nil)

	testCases := []struct {
		family string
		// rows the family emits for testDataset: see the emitter in question
		dropped int
	}{
		// one range row per round
		{"volume", 3},
		// two band rows per round
		{"price", 6},
		// only P6 has supply < demand (frozen product, 50 >= 50 excluded):
		// none of the test products has supply strictly below demand
		{"supply", 0},
		// ratio + volume rows per round, long sub-category 2 rows per round,
		// square: one sum row + one link row per round
		{"c_type", 3*2 + 3*2 + 1 + 3},
	}

	for _, tc := range testCases {
		t.Run(tc.family, func(t *testing.T) {
			reduced := buildWith(t, disable(tc.family))
			if got := full.rows - reduced.rows; got != tc.dropped {
				t.Errorf("expected disabling %s to drop %d rows, dropped %d", tc.family, tc.dropped, got)
			}
		})
	}
}

func TestIndicatorLinksSharedByTwoFamilies(t *testing.T) {
	full := buildWith(t, nil)
	noPriceBased := buildWith(t, disable("price_based"))
	neither := buildWith(t, func(cfg *models.SolveConfig) {
		disable("price_based")(cfg)
		disable("demand_split")(cfg)
	})

	// Dropping one of the two owning families keeps the shared link rows.
	// price_based itself emits one row per round.
	if got := full.rows - noPriceBased.rows; got != 3 {
		t.Errorf("expected 3 price_based rows dropped, got %d", got)
	}

	// Dropping both removes the link rows too: two per product and round,
	// plus demand_split's per-product row (P1..P5 qualify; P6 is frozen and
	// P7 has no demand).
	nP, nR := 7, 3
	linkRows := 2 * nP * nR
	splitRows := 5
	priceBasedRows := 3
	if got := full.rows - neither.rows; got != linkRows+splitRows+priceBasedRows {
		t.Errorf("expected %d rows dropped, got %d", linkRows+splitRows+priceBasedRows, got)
	}
}

func TestObjectiveTogglesOnlyChangeCosts(t *testing.T) {
	full := buildWith(t, nil)
	off := false
	reduced := buildWith(t, func(cfg *models.SolveConfig) {
		cfg.Objective.EnableRoundVariance = &off
		cfg.Objective.EnableSmoothTransition = &off
	})

	if reduced.rows != full.rows || reduced.cols != full.cols {
		t.Fatalf("objective toggles must not change model shape: %dx%d vs %dx%d",
			reduced.rows, reduced.cols, full.rows, full.cols)
	}
	for ri := range reduced.devPos {
		if reduced.hm.ColCosts[reduced.devPos[ri]] != 0 {
			t.Errorf("expected zero cost on disabled variance term, round %d", ri)
		}
	}
}

func buildDataset(t *testing.T, ds *models.Dataset, mutate func(*models.SolveConfig)) *modelSpace {
	t.Helper()
	var cfg models.SolveConfig
	if mutate != nil {
		mutate(&cfg)
	}
	cons, obj, err := cfg.Normalize()
	if err != nil {
		t.Fatalf("config should normalize: %v", err)
	}

	space := newModelSpace(ds)
	NewConstraintBuilder(space, cons).Build()
	NewObjectiveComposer(space, cons, obj).Compose()
	return space
}

func TestIndicatorBigMCoversFrozenAllocations(t *testing.T) {
	// A zero-demand product can still carry a frozen allocation. The x > 0
	// indicator link must stay satisfiable for the pinned cell, so its big-M
	// has to cover the frozen value, not just the demand.
	ds := &models.Dataset{
		Products: []models.Product{
			{Code: "F", WholesalePrice: 300, StickRatio: 200, Demand: 0,
				AvailableSupply: 0, Existing: map[string]float64{"round 1": 30}},
		},
		Rounds: []models.Round{
			{Name: "round 1", TotalQuantity: 30, PriceLowerLimit: 100, PriceUpperLimit: 500},
			{Name: "round 2", TotalQuantity: 0, PriceLowerLimit: 100, PriceUpperLimit: 500},
		},
	}
	if got := allocationBound(&ds.Products[0]); got != 30 {
		t.Fatalf("expected the bound to cover the frozen allocation, got %v", got)
	}

	space := buildDataset(t, ds, nil)
	x := space.x[0][0]
	z := space.z[0][0]

	// Recover the x - M*z <= 0 row and check M against the pinned value.
	zCoeff := map[int]float64{}
	xRow := map[int]bool{}
	for _, nz := range space.hm.ConstMatrix {
		if nz.Col == z {
			zCoeff[nz.Row] = nz.Val
		}
		if nz.Col == x && nz.Val == 1 {
			xRow[nz.Row] = true
		}
	}
	bigM := 0.0
	for row, val := range zCoeff {
		if xRow[row] && -val > bigM {
			bigM = -val
		}
	}
	if bigM < 30 {
		t.Fatalf("indicator big-M %v cannot cover the frozen allocation 30", bigM)
	}
}

func TestSupplyRowEmittedWhenTighterThanDemand(t *testing.T) {
	ds := &models.Dataset{
		Products: []models.Product{
			{Code: "S", WholesalePrice: 300, StickRatio: 200, Demand: 100,
				AvailableSupply: 40, PriceBased: true},
		},
		Rounds: []models.Round{
			{Name: "round 1", TotalQuantity: 20, PriceLowerLimit: 100, PriceUpperLimit: 500},
			{Name: "round 2", TotalQuantity: 20, PriceLowerLimit: 100, PriceUpperLimit: 500},
		},
	}

	full := buildDataset(t, ds, nil)
	reduced := buildDataset(t, ds, disable("supply"))
	if got := full.rows - reduced.rows; got != 1 {
		t.Fatalf("expected 1 supply row for supply below demand, got %d", got)
	}
}
