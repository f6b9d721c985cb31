package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Factor Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Experiment: %s | Factors: %d | Runs: %d\n\n", r.Experiment, len(r.Factors), len(r.Runs)))

	// Factor tables
	sb.WriteString("## Factors\n\n")
	if len(r.Factors) > 0 {
		sb.WriteString("| Factor | Rows | Symbols | Dates | First | Last | Mean | Stddev | Min | Max |\n")
		sb.WriteString("|--------|------|---------|-------|-------|------|------|--------|-----|-----|\n")
		for _, f := range r.Factors {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %s | %s | %.4f | %.4f | %.4f | %.4f |\n",
				f.Name, f.Rows, f.Symbols, f.Dates,
				fmtDate(f.FirstDate), fmtDate(f.LastDate),
				f.Mean, f.Stddev, f.Min, f.Max))
		}
	} else {
		sb.WriteString("No stored factors.\n")
	}
	sb.WriteString("\n")

	// Runs
	sb.WriteString("## Runs\n\n")
	if len(r.Runs) > 0 {
		sb.WriteString("| Run | Started | Spec | Data |")
		for _, m := range runMetricColumns {
			sb.WriteString(" " + m + " |")
		}
		sb.WriteString("\n|-----|---------|------|------|")
		for range runMetricColumns {
			sb.WriteString("------|")
		}
		sb.WriteString("\n")
		for _, run := range r.Runs {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |",
				run.RunName, run.StartedAt.Format(time.RFC3339), run.SpecHash, run.DataHash))
			for _, m := range runMetricColumns {
				if v, ok := run.Metrics[m]; ok {
					sb.WriteString(fmt.Sprintf(" %.4f |", v))
				} else {
					sb.WriteString(" - |")
				}
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("No tracked runs.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
