package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/leyuan/allocsrv/internal/engine"
	"github.com/leyuan/allocsrv/internal/models"
	"github.com/leyuan/allocsrv/internal/repository"
	"github.com/leyuan/allocsrv/internal/services"
)

func newTestRouter(t *testing.T) (*gin.Engine, *services.AllocationService) {
	return newTestRouterWithStore(t, nil)
}

func newTestRouterWithStore(t *testing.T, store services.RunStore) (*gin.Engine, *services.AllocationService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := services.NewAllocationService(engine.New(30), store)
	h := NewAllocationHandler(svc)

	r := gin.New()
	api := r.Group("/api")
	{
		api.POST("/upload", h.Upload)
		api.POST("/solve", h.Solve)
		api.GET("/result", h.Result)
		api.GET("/constraints", h.Constraints)
		api.GET("/runs", h.Runs)
		api.GET("/export", h.Export)
		api.GET("/export/statistics", h.ExportStatistics)
	}
	return r, svc
}

// runStoreStub serves canned run history for endpoint tests.
type runStoreStub struct {
	runs []repository.SolveRun
}

func (s *runStoreStub) Record(_ context.Context, run *repository.SolveRun) error {
	s.runs = append(s.runs, *run)
	return nil
}

func (s *runStoreStub) Recent(_ context.Context, limit int) ([]repository.SolveRun, error) {
	if limit > len(s.runs) {
		limit = len(s.runs)
	}
	return s.runs[:limit], nil
}

// testWorkbook builds a minimal valid upload: one product, two rounds.
func testWorkbook(t *testing.T) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "Rounds"))
	roundRows := [][]any{
		{"round", "total_quantity", "price_upper_limit", "price_lower_limit"},
		{"round 1", 50, 500, 100},
		{"round 2", 50, 500, 100},
	}
	for i, row := range roundRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Rounds", cell, &row))
	}

	_, err := f.NewSheet("Products")
	require.NoError(t, err)
	productRows := [][]any{
		{"code", "name", "wholesale_price", "stick_ratio", "demand", "available_supply", "price_based"},
		{"A", "Alpha", 300, 200, 100, 200, "y"},
	}
	for i, row := range productRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Products", cell, &row))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error
}

func TestSolveWithoutUpload(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/solve", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "no_dataset", errorCode(t, w))
}

func TestResultWithoutSolve(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/result", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "no_result", errorCode(t, w))
}

func TestUploadRejectsNonWorkbook(t *testing.T) {
	r, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, "data.xlsx", []byte("not a workbook"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_workbook", errorCode(t, w))
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	r, _ := newTestRouter(t)

	body, contentType := multipartUpload(t, "data.csv", []byte("a,b,c"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "bad_request", errorCode(t, w))
}

func TestSolveRejectsInvalidConfiguration(t *testing.T) {
	r, svc := newTestRouter(t)
	svc.LoadDataset(&models.Dataset{
		Products: []models.Product{
			{Code: "A", WholesalePrice: 300, StickRatio: 200, Demand: 100, AvailableSupply: 200, PriceBased: true},
		},
		Rounds: []models.Round{
			{Name: "round 1", TotalQuantity: 50, PriceLowerLimit: 100, PriceUpperLimit: 500},
			{Name: "round 2", TotalQuantity: 50, PriceLowerLimit: 100, PriceUpperLimit: 500},
		},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/solve",
		strings.NewReader(`{"constraints":{"price_based_ratio":1.5}}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_config", errorCode(t, w))
}

func TestUploadSolveResultExportFlow(t *testing.T) {
	r, _ := newTestRouter(t)

	// Upload.
	body, contentType := multipartUpload(t, "plan.xlsx", testWorkbook(t).Bytes())
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var upload models.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &upload))
	require.Equal(t, 1, upload.TotalProducts)
	require.Len(t, upload.Rounds, 2)

	// Solve with defaults.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/solve", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var solve models.SolveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &solve))
	require.Equal(t, models.StatusOptimal, solve.Status)
	require.NotEmpty(t, solve.RunID)
	require.InDelta(t, 100, solve.TotalAllocated, 1)
	require.NotNil(t, solve.Validation)

	// Result.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/result", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var result models.ResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, 1, result.TotalProducts)
	require.Len(t, result.RoundSummary, 2)

	// Constraint report.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/constraints", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// CSV export.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/export?format=csv", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	require.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	require.True(t, strings.HasPrefix(w.Body.String(), "code,"))
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	r, svc := newTestRouter(t)
	svc.LoadDataset(&models.Dataset{
		Products: []models.Product{
			{Code: "A", WholesalePrice: 300, StickRatio: 200, Demand: 100, AvailableSupply: 200, PriceBased: true},
		},
		Rounds: []models.Round{
			{Name: "round 1", TotalQuantity: 50, PriceLowerLimit: 100, PriceUpperLimit: 500},
			{Name: "round 2", TotalQuantity: 50, PriceLowerLimit: 100, PriceUpperLimit: 500},
		},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/solve", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/export?format=pdf", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "bad_request", errorCode(t, w))
}

func TestRunsWithoutDatabase(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "history_disabled", errorCode(t, w))
}

func TestRunsListsHistory(t *testing.T) {
	store := &runStoreStub{runs: []repository.SolveRun{
		{RunID: "run-2", Status: "Optimal", ProductCount: 3, RoundCount: 2},
		{RunID: "run-1", Status: "Optimal", ProductCount: 3, RoundCount: 2},
	}}
	r, _ := newTestRouterWithStore(t, store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?limit=1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Runs  []repository.SolveRun `json:"runs"`
		Count int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Equal(t, "run-2", resp.Runs[0].RunID)
}

func TestRunsRejectsBadLimit(t *testing.T) {
	r, _ := newTestRouterWithStore(t, &runStoreStub{})

	for _, q := range []string{"limit=0", "limit=-3", "limit=500", "limit=abc"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/runs?"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}
