package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leyuan/allocsrv/internal/engine"
	"github.com/leyuan/allocsrv/internal/export"
	"github.com/leyuan/allocsrv/internal/ingest"
	"github.com/leyuan/allocsrv/internal/models"
	"github.com/leyuan/allocsrv/internal/services"
)

const maxUploadBytes = 16 << 20

// AllocationHandler handles the upload/solve/result endpoints
type AllocationHandler struct {
	allocSvc *services.AllocationService
}

// NewAllocationHandler creates a new AllocationHandler
func NewAllocationHandler(allocSvc *services.AllocationService) *AllocationHandler {
	return &AllocationHandler{allocSvc: allocSvc}
}

// Upload handles POST /api/upload
func (h *AllocationHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: "missing multipart field 'file'",
		})
		return
	}
	if !strings.HasSuffix(strings.ToLower(fileHeader.Filename), ".xlsx") {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: "file must be an .xlsx workbook",
		})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, models.ErrorResponse{
			Error:   "too_large",
			Message: fmt.Sprintf("upload exceeds %d bytes", maxUploadBytes),
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}
	defer f.Close()

	ds, err := ingest.ParseWorkbook(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_workbook",
			Message: err.Error(),
		})
		return
	}

	h.allocSvc.LoadDataset(ds)

	resp := models.UploadResponse{
		TotalProducts: len(ds.Products),
		UploadTime:    time.Now().Format(time.RFC3339),
	}
	for _, rd := range ds.Rounds {
		resp.Rounds = append(resp.Rounds, models.RoundsInfo{
			Name:            rd.Name,
			TotalQuantity:   rd.TotalQuantity,
			PriceUpperLimit: rd.PriceUpperLimit,
			PriceLowerLimit: rd.PriceLowerLimit,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Solve handles POST /api/solve
func (h *AllocationHandler) Solve(c *gin.Context) {
	var cfg models.SolveConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: err.Error(),
		})
		return
	}

	out, err := h.allocSvc.Solve(c.Request.Context(), &cfg)
	if err != nil {
		h.solveError(c, err)
		return
	}

	sol := out.Solution
	c.JSON(http.StatusOK, models.SolveResponse{
		RunID:          sol.RunID,
		Status:         sol.Status,
		ObjectiveValue: sol.ObjectiveValue,
		SolveSeconds:   sol.SolveSeconds,
		TotalAllocated: sol.Result.TotalAllocation,
		Validation:     out.Validation,
		ModelVars:      sol.ModelVars,
		ModelRows:      sol.ModelRows,
	})
}

// solveError maps solve failures onto HTTP statuses.
func (h *AllocationHandler) solveError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrSolveBusy):
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "solve_busy",
			Message: "a solve is already in progress",
		})
	case errors.Is(err, services.ErrNoDataset):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "no_dataset",
			Message: "upload a dataset before solving",
		})
	case errors.Is(err, models.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid_config",
			Message: err.Error(),
		})
	case errors.Is(err, engine.ErrInfeasible):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   "infeasible",
			Message: "no allocation satisfies the enabled constraints",
		})
	case errors.Is(err, engine.ErrUnbounded):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   "unbounded",
			Message: "the model is unbounded",
		})
	default:
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "solver_error",
			Message: err.Error(),
		})
	}
}

// Result handles GET /api/result
func (h *AllocationHandler) Result(c *gin.Context) {
	out, err := h.allocSvc.Result()
	if err != nil {
		h.resultError(c, err)
		return
	}

	result := out.Solution.Result
	c.JSON(http.StatusOK, models.ResultResponse{
		AllocationDetails: result.Rows,
		RoundSummary:      result.RoundSummaries,
		TotalProducts:     len(result.Rows),
		TotalAllocation:   result.TotalAllocation,
	})
}

// Constraints handles GET /api/constraints
func (h *AllocationHandler) Constraints(c *gin.Context) {
	report, err := h.allocSvc.Validation()
	if err != nil {
		h.resultError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Runs handles GET /api/runs
func (h *AllocationHandler) Runs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: "limit must be an integer between 1 and 100",
		})
		return
	}

	runs, err := h.allocSvc.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		if errors.Is(err, services.ErrHistoryDisabled) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{
				Error:   "history_disabled",
				Message: "run history requires a configured database",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// Export handles GET /api/export
func (h *AllocationHandler) Export(c *gin.Context) {
	h.export(c, "allocation_result", export.AllocationExport)
}

// ExportStatistics handles GET /api/export/statistics
func (h *AllocationHandler) ExportStatistics(c *gin.Context) {
	h.export(c, "allocation_statistics", export.StatisticsExport)
}

func (h *AllocationHandler) export(c *gin.Context, baseName string,
	render func(*models.Dataset, *models.AllocationResult, string) (*bytes.Buffer, string, error)) {

	out, err := h.allocSvc.Result()
	if err != nil {
		h.resultError(c, err)
		return
	}

	format := strings.ToLower(c.DefaultQuery("format", "xlsx"))
	buf, contentType, err := render(out.Dataset, out.Solution.Result, format)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_request",
			Message: err.Error(),
		})
		return
	}

	filename := fmt.Sprintf("%s_%s.%s", baseName, time.Now().Format("20060102_150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

func (h *AllocationHandler) resultError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrNoResult) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "no_result",
			Message: "run a solve first",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: err.Error(),
	})
}
