// Package export writes the engine's tables to an Excel workbook for people
// who'd rather not read CSV.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"EquitySync/internal/freshness"
	"EquitySync/internal/model"
)

const (
	attributesSheet = "Attributes"
	freshnessSheet  = "Freshness"
)

var attributeColumns = []string{
	"Ticker", "Name", "Sector", "Industry", "Country", "Market Cap", "Beta",
	"Dividend Yield", "52W High", "52W Low", "Forward PE", "Price/Book",
	"EV/EBITDA", "ROA", "Last Updated",
}

// Workbook writes the attribute table and the freshness index to path.
func Workbook(path string, attrs []model.Attributes, entries []freshness.Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", attributesSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRows(f, attributesSheet, header(attributeColumns), attributeRows(attrs)); err != nil {
		return err
	}

	if _, err := f.NewSheet(freshnessSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{string(e.Entity), e.Date.Format("2006-01-02")})
	}
	if err := writeRows(f, freshnessSheet, header([]string{"Ticker", "Last Date"}), rows); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func header(cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = c
	}
	return out
}

func attributeRows(attrs []model.Attributes) [][]any {
	rows := make([][]any, 0, len(attrs))
	for _, a := range attrs {
		updated := ""
		if !a.LastUpdated.IsZero() {
			updated = a.LastUpdated.UTC().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []any{
			string(a.Ticker), a.ShortName, a.Sector, a.Industry, a.Country,
			cell(a.MarketCap), cell(a.Beta), cell(a.DividendYield),
			cell(a.High52w), cell(a.Low52w), cell(a.ForwardPE), cell(a.PriceToBook),
			cell(a.EnterpriseToEbitda), cell(a.ReturnOnAssets), updated,
		})
	}
	return rows
}

// cell leaves absent values as empty cells.
func cell(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func writeRows(f *excelize.File, sheet string, head []any, rows [][]any) error {
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	for i, row := range rows {
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}
