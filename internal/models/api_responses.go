package models

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// UploadResponse describes a parsed dataset after upload
type UploadResponse struct {
	TotalProducts int          `json:"total_products"`
	Rounds        []RoundsInfo `json:"rounds"`
	UploadTime    string       `json:"upload_time"`
}

// RoundsInfo echoes one round's defaults back to the caller
type RoundsInfo struct {
	Name            string  `json:"name"`
	TotalQuantity   float64 `json:"total_quantity"`
	PriceUpperLimit float64 `json:"price_upper_limit"`
	PriceLowerLimit float64 `json:"price_lower_limit"`
}

// SolveResponse summarizes a completed solve attempt
type SolveResponse struct {
	RunID           string            `json:"run_id"`
	Status          SolveStatus       `json:"status"`
	ObjectiveValue  float64           `json:"objective_value"`
	SolveSeconds    float64           `json:"solve_seconds"`
	TotalAllocated  float64           `json:"total_allocated"`
	Validation      *ValidationReport `json:"validation,omitempty"`
	Message         string            `json:"message,omitempty"`
	ModelVars       int               `json:"model_vars"`
	ModelRows       int               `json:"model_rows"`
}

// ResultResponse carries the materialized allocation view
type ResultResponse struct {
	AllocationDetails []AllocationRow `json:"allocation_details"`
	RoundSummary      []RoundSummary  `json:"round_summary"`
	TotalProducts     int             `json:"total_products"`
	TotalAllocation   float64         `json:"total_allocation"`
}
