package models

// CSubCategory labels the sub-type of a C-class product.
type CSubCategory string

const (
	CSubCategoryNone   CSubCategory = ""
	CSubCategorySquare CSubCategory = "square"
	CSubCategoryLong   CSubCategory = "long"
	CSubCategoryThin   CSubCategory = "thin"
)

// Product is one stock-keeping entity. Immutable after load.
type Product struct {
	Code            string       `json:"code"`
	Name            string       `json:"name"`
	Category        string       `json:"category"`
	Brand           string       `json:"brand"`
	WholesalePrice  float64      `json:"wholesale_price"`
	StickRatio      float64      `json:"stick_ratio"`
	Demand          float64      `json:"demand"`
	AvailableSupply float64      `json:"available_supply"`
	CType           bool         `json:"c_type"`
	CCategory       CSubCategory `json:"c_category"`
	DemandBased     bool         `json:"demand_based"`
	PriceBased      bool         `json:"price_based"`
	// Existing carries pre-determined allocations per round name. Variables
	// for these cells are frozen at the given value and the product is
	// excluded from split/balance/smoothing treatment.
	Existing map[string]float64 `json:"existing,omitempty"`
}

// HasExisting reports whether the product carries any nonzero fixed allocation.
func (p *Product) HasExisting() bool {
	for _, v := range p.Existing {
		if v > 0 {
			return true
		}
	}
	return false
}

// CasePrice is the per-case price derived from the wholesale price and the
// stick ratio. Falls back to the wholesale price when the ratio is unset.
func (p *Product) CasePrice() float64 {
	if p.StickRatio > 0 {
		return p.WholesalePrice * 50000 / p.StickRatio
	}
	return p.WholesalePrice
}

// Round is one distribution event in a fixed ordered sequence. Immutable
// after load; order matters for smoothing and variance objective terms.
type Round struct {
	Name            string  `json:"name"`
	TotalQuantity   float64 `json:"total_quantity"`
	PriceUpperLimit float64 `json:"price_upper_limit"`
	PriceLowerLimit float64 `json:"price_lower_limit"`
}

// Dataset is the parsed product/round input handed to the engine. The engine
// assumes well-typed numeric fields and unique product codes; spreadsheet
// structure validation is the loader's job.
type Dataset struct {
	Products []Product `json:"products"`
	Rounds   []Round   `json:"rounds"`
}

// RoundNames returns the ordered round name slice.
func (d *Dataset) RoundNames() []string {
	names := make([]string, len(d.Rounds))
	for i, r := range d.Rounds {
		names[i] = r.Name
	}
	return names
}

// SolveStatus is the normalized solver outcome.
type SolveStatus string

const (
	StatusOptimal     SolveStatus = "Optimal"
	StatusInfeasible  SolveStatus = "Infeasible"
	StatusUnbounded   SolveStatus = "Unbounded"
	StatusTimedOut    SolveStatus = "TimedOut"
	StatusSolverError SolveStatus = "SolverError"
)

// AllocationRow is one product row of the materialized allocation matrix.
type AllocationRow struct {
	ProductCode     string             `json:"product_code"`
	ProductName     string             `json:"product_name"`
	Category        string             `json:"category"`
	Brand           string             `json:"brand"`
	CType           bool               `json:"c_type"`
	CCategory       CSubCategory       `json:"c_category"`
	DemandBased     bool               `json:"demand_based"`
	PriceBased      bool               `json:"price_based"`
	Demand          float64            `json:"demand"`
	WholesalePrice  float64            `json:"wholesale_price"`
	AvailableSupply float64            `json:"available_supply"`
	Allocations     map[string]float64 `json:"allocations"`
	TotalAllocation float64            `json:"total_allocation"`
	AllocationRate  float64            `json:"allocation_rate"`
	UnitPrice       float64            `json:"unit_price"`
}

// RoundSummary aggregates one round of the materialized allocation.
type RoundSummary struct {
	RoundName       string  `json:"round_name"`
	TotalAllocation float64 `json:"total_allocation"`
	AveragePrice    float64 `json:"average_price"`
	ProductCount    int     `json:"product_count"`
}

// AllocationResult is the materialized view of a solved allocation: the only
// structure downstream consumers (result endpoint, validator, export) read.
type AllocationResult struct {
	Rows            []AllocationRow `json:"rows"`
	RoundSummaries  []RoundSummary  `json:"round_summaries"`
	TotalAllocation float64         `json:"total_allocation"`
}

// Solution describes one completed solve.
type Solution struct {
	RunID          string            `json:"run_id"`
	Status         SolveStatus       `json:"status"`
	ObjectiveValue float64           `json:"objective_value"`
	SolveSeconds   float64           `json:"solve_seconds"`
	ModelVars      int               `json:"model_vars"`
	ModelRows      int               `json:"model_rows"`
	Result         *AllocationResult `json:"result,omitempty"`
}

// Violation is one structured constraint violation record. Fields are
// populated per family; unused fields are omitted from JSON.
type Violation struct {
	Round       string  `json:"round,omitempty"`
	ProductCode string  `json:"product_code,omitempty"`
	Constraint  string  `json:"constraint,omitempty"`
	Actual      float64 `json:"actual"`
	Limit       float64 `json:"limit,omitempty"`
	LowerLimit  float64 `json:"lower_limit,omitempty"`
	UpperLimit  float64 `json:"upper_limit,omitempty"`
	Target      float64 `json:"target,omitempty"`
}

// FamilyReport is the validation outcome for one constraint family.
type FamilyReport struct {
	IsValid    bool        `json:"is_valid"`
	Violations []Violation `json:"violations"`
}

// ValidationReport aggregates per-family validation results.
type ValidationReport struct {
	OverallValid bool                    `json:"overall_valid"`
	Families     map[string]FamilyReport `json:"families"`
	Summary      ValidationSummary       `json:"summary"`
}

// ValidationSummary lists family dispositions. Every family appears in
// exactly one of Passed, Violated, or Skipped.
type ValidationSummary struct {
	TotalViolations int      `json:"total_violations"`
	Passed          []string `json:"passed"`
	Violated        []string `json:"violated"`
	Skipped         []string `json:"skipped"`
	Enabled         []string `json:"enabled"`
}
