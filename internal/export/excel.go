package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"github.com/leyuan/allocsrv/internal/models"
)

// Sheet names in generated workbooks.
const (
	allocationSheet = "Allocation"
	statisticsSheet = "Statistics"
)

// table is a rendered export: one header row plus data rows. Cells are
// kept as native values so xlsx output preserves numbers as numbers.
type table struct {
	header []string
	rows   [][]any
}

// allocationTable renders the full allocation matrix: one row per product
// with per-round quantities, total, and allocation rate.
func allocationTable(ds *models.Dataset, result *models.AllocationResult) table {
	header := []string{"code", "name", "category", "brand", "demand", "wholesale_price"}
	header = append(header, ds.RoundNames()...)
	header = append(header, "total_allocation", "allocation_rate")

	t := table{header: header}
	for _, row := range result.Rows {
		cells := []any{
			row.ProductCode, row.ProductName, row.Category, row.Brand,
			row.Demand, row.WholesalePrice,
		}
		for _, rd := range ds.Rounds {
			cells = append(cells, round2(row.Allocations[rd.Name]))
		}
		cells = append(cells, round2(row.TotalAllocation), round2(row.AllocationRate))
		t.rows = append(t.rows, cells)
	}
	return t
}

// statisticsTable renders the aggregate statistics block: one metric per
// row, one column per round plus a grand total. The unit price row is the
// case-price weighted average; ratio rows are percent strings.
func statisticsTable(ds *models.Dataset, result *models.AllocationResult) table {
	header := append([]string{"metric"}, ds.RoundNames()...)
	header = append(header, "total")
	t := table{header: header}

	all := func(*models.Product) bool { return true }
	cType := func(p *models.Product) bool { return p.CType }
	sub := func(cat models.CSubCategory) func(*models.Product) bool {
		return func(p *models.Product) bool { return p.CType && p.CCategory == cat }
	}

	t.addRow("unit_price", priceRow(ds, result))
	qtyAll := quantityRow(ds, result, all)
	t.addRow("total_quantity", qtyAll)
	t.addRow("product_count", countRow(ds, result, all))

	qtyC := quantityRow(ds, result, cType)
	t.addRow("c_type_quantity", qtyC)
	t.addRow("c_type_share", shareRow(qtyC, qtyAll))
	t.addRow("c_type_count", countRow(ds, result, cType))

	for _, cat := range []models.CSubCategory{
		models.CSubCategorySquare, models.CSubCategoryLong, models.CSubCategoryThin,
	} {
		qtySub := quantityRow(ds, result, sub(cat))
		t.addRow(string(cat)+"_quantity", qtySub)
		t.addRow(string(cat)+"_count", countRow(ds, result, sub(cat)))
		t.addRow(string(cat)+"_share", shareRow(qtySub, qtyC))
	}
	return t
}

func (t *table) addRow(metric string, cells []any) {
	t.rows = append(t.rows, append([]any{metric}, cells...))
}

// quantityRow sums allocations per round (and overall) across products
// matched by the filter.
func quantityRow(ds *models.Dataset, result *models.AllocationResult, match func(*models.Product) bool) []any {
	cells := make([]any, 0, len(ds.Rounds)+1)
	grand := 0.0
	for _, rd := range ds.Rounds {
		total := 0.0
		for pi := range result.Rows {
			if match(&ds.Products[pi]) {
				total += result.Rows[pi].Allocations[rd.Name]
			}
		}
		grand += total
		cells = append(cells, round2(total))
	}
	return append(cells, round2(grand))
}

func countRow(ds *models.Dataset, result *models.AllocationResult, match func(*models.Product) bool) []any {
	cells := make([]any, 0, len(ds.Rounds)+1)
	for _, rd := range ds.Rounds {
		n := 0
		for pi := range result.Rows {
			if match(&ds.Products[pi]) && result.Rows[pi].Allocations[rd.Name] > 0 {
				n++
			}
		}
		cells = append(cells, n)
	}
	grand := 0
	for pi := range result.Rows {
		if match(&ds.Products[pi]) && result.Rows[pi].TotalAllocation > 0 {
			grand++
		}
	}
	return append(cells, grand)
}

// priceRow computes the case-price weighted average per round and overall.
func priceRow(ds *models.Dataset, result *models.AllocationResult) []any {
	cells := make([]any, 0, len(ds.Rounds)+1)
	grandQty, grandValue := 0.0, 0.0
	for _, rd := range ds.Rounds {
		qty, value := 0.0, 0.0
		for pi := range result.Rows {
			q := result.Rows[pi].Allocations[rd.Name]
			qty += q
			value += q * ds.Products[pi].CasePrice()
		}
		grandQty += qty
		grandValue += value
		cells = append(cells, weightedAvg(value, qty))
	}
	return append(cells, weightedAvg(grandValue, grandQty))
}

// shareRow renders part/whole per column as a percent string.
func shareRow(part, whole []any) []any {
	cells := make([]any, len(part))
	for i := range part {
		p, _ := part[i].(float64)
		w, _ := whole[i].(float64)
		if w > 0 {
			cells[i] = fmt.Sprintf("%.1f%%", p/w*100)
		} else {
			cells[i] = "0.0%"
		}
	}
	return cells
}

func weightedAvg(value, qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	return math.Round(value/qty*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// workbook writes a table as a single-sheet xlsx.
func workbook(sheet string, t table) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	head := make([]any, len(t.header))
	for i, h := range t.header {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	return f.WriteToBuffer()
}

// csvBuffer writes a table as UTF-8 csv.
func csvBuffer(t table) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.header); err != nil {
		return nil, err
	}
	record := make([]string, len(t.header))
	for _, row := range t.rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = fmt.Sprint(row[i])
			}
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// AllocationExport renders the allocation matrix in the requested format
// and returns the payload with its content type.
func AllocationExport(ds *models.Dataset, result *models.AllocationResult, format string) (*bytes.Buffer, string, error) {
	return render(allocationTable(ds, result), allocationSheet, format)
}

// StatisticsExport renders the statistics block in the requested format.
func StatisticsExport(ds *models.Dataset, result *models.AllocationResult, format string) (*bytes.Buffer, string, error) {
	return render(statisticsTable(ds, result), statisticsSheet, format)
}

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	csvContentType  = "text/csv; charset=utf-8"
)

func render(t table, sheet, format string) (*bytes.Buffer, string, error) {
	switch format {
	case "", "xlsx":
		buf, err := workbook(sheet, t)
		return buf, xlsxContentType, err
	case "csv":
		buf, err := csvBuffer(t)
		return buf, csvContentType, err
	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}
