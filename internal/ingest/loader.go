package ingest

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/leyuan/allocsrv/internal/models"
)

// Workbook sheet names.
const (
	ProductSheet = "Products"
	RoundSheet   = "Rounds"
)

// ErrInvalidWorkbook wraps all structural problems with an uploaded file.
var ErrInvalidWorkbook = errors.New("invalid workbook")

const defaultStickRatio = 200

// ParseWorkbook reads an uploaded xlsx into a Dataset. The Rounds sheet
// fixes the round order; the Products sheet supplies the catalog plus any
// frozen pre-existing allocations in per-round columns.
func ParseWorkbook(r io.Reader) (*models.Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	rounds, err := parseRounds(f)
	if err != nil {
		return nil, err
	}
	products, err := parseProducts(f, rounds)
	if err != nil {
		return nil, err
	}

	return &models.Dataset{Products: products, Rounds: rounds}, nil
}

func parseRounds(f *excelize.File) ([]models.Round, error) {
	rows, err := f.GetRows(RoundSheet)
	if err != nil {
		return nil, fmt.Errorf("%w: missing sheet %q", ErrInvalidWorkbook, RoundSheet)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: sheet %q has no data rows", ErrInvalidWorkbook, RoundSheet)
	}

	idx, err := headerIndex(rows[0], []string{"round", "total_quantity", "price_upper_limit", "price_lower_limit"}, RoundSheet)
	if err != nil {
		return nil, err
	}

	var rounds []models.Round
	seen := make(map[string]bool)
	for i, row := range rows[1:] {
		name := cell(row, idx["round"])
		if name == "" {
			continue
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate round %q", ErrInvalidWorkbook, name)
		}
		seen[name] = true

		rd := models.Round{
			Name:            name,
			TotalQuantity:   parseFloat(cell(row, idx["total_quantity"])),
			PriceUpperLimit: parseFloat(cell(row, idx["price_upper_limit"])),
			PriceLowerLimit: parseFloat(cell(row, idx["price_lower_limit"])),
		}
		if rd.TotalQuantity < 0 {
			return nil, fmt.Errorf("%w: round %q has negative total quantity", ErrInvalidWorkbook, name)
		}
		if rd.PriceLowerLimit > rd.PriceUpperLimit {
			return nil, fmt.Errorf("%w: round %q price band is inverted (row %d)", ErrInvalidWorkbook, name, i+2)
		}
		rounds = append(rounds, rd)
	}
	if len(rounds) == 0 {
		return nil, fmt.Errorf("%w: sheet %q defines no rounds", ErrInvalidWorkbook, RoundSheet)
	}
	return rounds, nil
}

func parseProducts(f *excelize.File, rounds []models.Round) ([]models.Product, error) {
	rows, err := f.GetRows(ProductSheet)
	if err != nil {
		return nil, fmt.Errorf("%w: missing sheet %q", ErrInvalidWorkbook, ProductSheet)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: sheet %q has no data rows", ErrInvalidWorkbook, ProductSheet)
	}

	idx, err := headerIndex(rows[0], []string{"code", "name", "wholesale_price", "demand", "available_supply"}, ProductSheet)
	if err != nil {
		return nil, err
	}
	roundCols := make(map[string]int)
	for col, h := range rows[0] {
		h = strings.TrimSpace(h)
		for _, rd := range rounds {
			if h == rd.Name {
				roundCols[rd.Name] = col
			}
		}
	}

	var products []models.Product
	seen := make(map[string]bool)
	for i, row := range rows[1:] {
		code := cell(row, idx["code"])
		if code == "" {
			continue
		}
		if seen[code] {
			return nil, fmt.Errorf("%w: duplicate product code %q (row %d)", ErrInvalidWorkbook, code, i+2)
		}
		seen[code] = true

		p := models.Product{
			Code:            code,
			Name:            cell(row, idx["name"]),
			Category:        cell(row, colOf(idx, "category")),
			Brand:           cell(row, colOf(idx, "brand")),
			WholesalePrice:  parseFloat(cell(row, idx["wholesale_price"])),
			StickRatio:      parseFloat(cell(row, colOf(idx, "stick_ratio"))),
			Demand:          parseFloat(cell(row, idx["demand"])),
			AvailableSupply: parseFloat(cell(row, idx["available_supply"])),
			CType:           parseBool(cell(row, colOf(idx, "c_type"))),
			DemandBased:     parseBool(cell(row, colOf(idx, "demand_based"))),
			PriceBased:      parseBool(cell(row, colOf(idx, "price_based"))),
		}
		if p.StickRatio <= 0 {
			p.StickRatio = defaultStickRatio
		}
		if p.Demand < 0 || p.AvailableSupply < 0 || p.WholesalePrice < 0 {
			return nil, fmt.Errorf("%w: product %q has a negative numeric field (row %d)", ErrInvalidWorkbook, code, i+2)
		}

		p.CCategory, err = parseCCategory(cell(row, colOf(idx, "c_category")))
		if err != nil {
			return nil, fmt.Errorf("%w: product %q: %v (row %d)", ErrInvalidWorkbook, code, err, i+2)
		}
		if p.CCategory != models.CSubCategoryNone && !p.CType {
			return nil, fmt.Errorf("%w: product %q has a sub-category but is not C-type (row %d)", ErrInvalidWorkbook, code, i+2)
		}

		for name, col := range roundCols {
			if qty := parseFloat(cell(row, col)); qty > 0 {
				if p.Existing == nil {
					p.Existing = make(map[string]float64)
				}
				p.Existing[name] = qty
			}
		}

		products = append(products, p)
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: sheet %q defines no products", ErrInvalidWorkbook, ProductSheet)
	}
	return products, nil
}

// colOf returns the position of an optional header, or -1 when absent, so
// cell() reads blank instead of the wrong column.
func colOf(idx map[string]int, name string) int {
	if c, ok := idx[name]; ok {
		return c
	}
	return -1
}

// headerIndex maps trimmed lowercase headers to column positions and
// verifies the required set is present.
func headerIndex(header []string, required []string, sheet string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for col, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, ok := idx[h]; !ok {
			idx[h] = col
		}
	}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("%w: sheet %q is missing column %q", ErrInvalidWorkbook, sheet, name)
		}
	}
	return idx, nil
}

func parseCCategory(s string) (models.CSubCategory, error) {
	switch models.CSubCategory(strings.ToLower(strings.TrimSpace(s))) {
	case models.CSubCategoryNone:
		return models.CSubCategoryNone, nil
	case models.CSubCategorySquare:
		return models.CSubCategorySquare, nil
	case models.CSubCategoryLong:
		return models.CSubCategoryLong, nil
	case models.CSubCategoryThin:
		return models.CSubCategoryThin, nil
	default:
		return models.CSubCategoryNone, fmt.Errorf("unknown c_category %q", s)
	}
}

// cell reads a column from a row, tolerating excelize's ragged rows.
func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func parseFloat(s string) float64 {
	s = strings.ReplaceAll(s, ",", "")
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "y", "yes", "true":
		return true
	}
	return false
}
