// Package ingestion loads raw panel data from wide CSV or XLSX tables into a
// PanelStore.
package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"factor-lab/internal/domain"
)

// Column names required in every table header.
const (
	ColumnDate   = "date"
	ColumnSymbol = "symbol"
)

// ErrInvalidTable is returned for malformed headers or cells.
var ErrInvalidTable = errors.New("invalid panel table")

// ParseRecords converts a wide table into long-format bars. The first record
// is the header: date and symbol columns (any position, case-insensitive)
// plus one column per field. Empty cells and "NaN" are nulls and produce no
// bar. Dates are truncated to freq.
func ParseRecords(records [][]string, freq domain.Frequency) ([]domain.Bar, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no header", ErrInvalidTable)
	}

	dateCol, symbolCol := -1, -1
	fields := make(map[int]string)
	for i, h := range records[0] {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case ColumnDate:
			dateCol = i
		case ColumnSymbol:
			symbolCol = i
		case "":
		default:
			fields[i] = name
		}
	}
	if dateCol < 0 || symbolCol < 0 {
		return nil, fmt.Errorf("%w: header needs %q and %q columns", ErrInvalidTable, ColumnDate, ColumnSymbol)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no value columns", ErrInvalidTable)
	}

	var bars []domain.Bar
	for n, rec := range records[1:] {
		line := n + 2
		if blank(rec) {
			continue
		}
		if dateCol >= len(rec) || symbolCol >= len(rec) {
			return nil, fmt.Errorf("%w: row %d: missing date or symbol", ErrInvalidTable, line)
		}

		date, err := parseDate(rec[dateCol])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidTable, line, err)
		}
		date = freq.Truncate(date)
		symbol := strings.TrimSpace(rec[symbolCol])
		if symbol == "" {
			return nil, fmt.Errorf("%w: row %d: empty symbol", ErrInvalidTable, line)
		}

		for i, field := range fields {
			if i >= len(rec) {
				continue
			}
			cell := strings.TrimSpace(rec[i])
			if cell == "" || strings.EqualFold(cell, "nan") {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %s: %q is not a number", ErrInvalidTable, line, field, cell)
			}
			bars = append(bars, domain.Bar{Date: date, Symbol: symbol, Field: field, Value: v})
		}
	}

	SortBars(bars)
	return bars, nil
}

// ReadCSV parses a wide CSV table.
func ReadCSV(r io.Reader, freq domain.Frequency) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return ParseRecords(records, freq)
}

// ReadXLSX parses a wide table from a workbook sheet. An empty sheet name
// selects the first sheet.
func ReadXLSX(r io.Reader, sheet string, freq domain.Frequency) ([]domain.Bar, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidTable)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return ParseRecords(rows, freq)
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", time.DateOnly}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
