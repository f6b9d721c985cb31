package reporting

import (
	"strconv"
	"strings"
	"time"

	"factor-lab/internal/domain"
)

// RenderFactorCSV renders a long-form factor table as CSV string.
func RenderFactorCSV(points []*domain.FactorPoint) string {
	var sb strings.Builder

	// Header
	sb.WriteString("date,symbol,value\n")

	// Rows
	for _, p := range points {
		sb.WriteString(p.Date.UTC().Format(time.RFC3339))
		sb.WriteByte(',')
		sb.WriteString(csvField(p.Symbol))
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(p.Value, 'g', -1, 64))
		sb.WriteByte('\n')
	}

	return sb.String()
}

// RenderRunsCSV renders tracked runs as CSV string.
func RenderRunsCSV(runs []RunRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("run_id,run_name,started_at,spec_hash,data_hash")
	for _, m := range runMetricColumns {
		sb.WriteString("," + m)
	}
	sb.WriteByte('\n')

	// Rows
	for _, r := range runs {
		sb.WriteString(strings.Join([]string{
			r.RunID,
			csvField(r.RunName),
			r.StartedAt.UTC().Format(time.RFC3339),
			r.SpecHash,
			r.DataHash,
		}, ","))
		for _, m := range runMetricColumns {
			sb.WriteByte(',')
			if v, ok := r.Metrics[m]; ok {
				sb.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
			}
		}
		sb.WriteByte('\n')
	}

	return sb.String()
}

// csvField quotes a value containing separators or quotes.
func csvField(s string) string {
	if !strings.ContainsAny(s, ",\"\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
