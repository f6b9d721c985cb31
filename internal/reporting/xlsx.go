package reporting

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// Sheet names of the XLSX workbook.
const (
	SheetFactors = "Factors"
	SheetRuns    = "Runs"
)

// WriteXLSX writes the report as a workbook with one sheet per section.
func WriteXLSX(r *Report, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetFactors); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetRuns); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	factorRows := [][]interface{}{
		{"factor", "rows", "symbols", "dates", "first_date", "last_date", "mean", "stddev", "min", "max"},
	}
	for _, s := range r.Factors {
		factorRows = append(factorRows, []interface{}{
			s.Name, s.Rows, s.Symbols, s.Dates,
			fmtDate(s.FirstDate), fmtDate(s.LastDate),
			s.Mean, s.Stddev, s.Min, s.Max,
		})
	}
	if err := writeRows(f, SheetFactors, factorRows); err != nil {
		return err
	}

	header := []interface{}{"run_id", "run_name", "started_at", "spec_hash", "data_hash"}
	for _, m := range runMetricColumns {
		header = append(header, m)
	}
	runRows := [][]interface{}{header}
	for _, run := range r.Runs {
		row := []interface{}{run.RunID, run.RunName, run.StartedAt.UTC(), run.SpecHash, run.DataHash}
		for _, m := range runMetricColumns {
			if v, ok := run.Metrics[m]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		runRows = append(runRows, row)
	}
	if err := writeRows(f, SheetRuns, runRows); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
