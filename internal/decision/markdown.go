package decision

import (
	"fmt"
	"strings"
)

// RenderMarkdown renders decision results for one or more factors as a
// Markdown report: a summary table followed by the checklist per factor.
func RenderMarkdown(results []*DecisionResult) string {
	var sb strings.Builder

	sb.WriteString("# Decision Gate Report\n\n")

	if len(results) == 0 {
		sb.WriteString("No factors evaluated.\n")
		return sb.String()
	}

	sb.WriteString("| Factor | Run | Decision | GO passed | NO-GO triggered |\n")
	sb.WriteString("|--------|-----|----------|-----------|-----------------|\n")
	for _, r := range results {
		runID := r.RunID
		if runID == "" {
			runID = "-"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d/%d | %d/%d |\n",
			r.Factor, runID, r.Decision,
			r.goPassed(), len(r.GOCriteria),
			r.nogoTriggered(), len(r.NOGOChecks)))
	}
	sb.WriteString("\n")

	for _, r := range results {
		renderResult(&sb, r)
	}
	return sb.String()
}

func renderResult(sb *strings.Builder, result *DecisionResult) {
	sb.WriteString(fmt.Sprintf("## %s: %s\n\n", result.Factor, result.Decision))

	// GO Criteria table
	sb.WriteString("### GO Criteria\n\n")
	sb.WriteString("| # | Criterion | Threshold | Actual | Pass |\n")
	sb.WriteString("|---|-----------|-----------|--------|------|\n")
	for i, c := range result.GOCriteria {
		passStr := "PASS"
		if !c.Pass {
			passStr = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
			i+1, c.Name, c.Threshold, c.Actual, passStr))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("GO Criteria: %d/%d passed\n\n", result.goPassed(), len(result.GOCriteria)))

	// NO-GO Triggers table
	sb.WriteString("### NO-GO Triggers\n\n")
	sb.WriteString("| # | Trigger | Condition | Actual | Status |\n")
	sb.WriteString("|---|---------|-----------|--------|--------|\n")
	for i, c := range result.NOGOChecks {
		statusStr := "NOT TRIGGERED"
		if !c.Pass { // Pass=false means triggered
			statusStr = "TRIGGERED"
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
			i+1, c.Name, c.Threshold, c.Actual, statusStr))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("NO-GO Triggers: %d/%d triggered\n\n", result.nogoTriggered(), len(result.NOGOChecks)))

	if result.Decision == DecisionGO {
		sb.WriteString("All GO criteria passed and no NO-GO triggers fired.\n\n")
		return
	}
	sb.WriteString("Decision is NO-GO due to:\n")
	for _, c := range result.GOCriteria {
		if !c.Pass {
			sb.WriteString(fmt.Sprintf("- GO criterion failed: %s (actual: %s)\n", c.Name, c.Actual))
		}
	}
	for _, c := range result.NOGOChecks {
		if !c.Pass {
			sb.WriteString(fmt.Sprintf("- NO-GO trigger fired: %s (actual: %s)\n", c.Name, c.Actual))
		}
	}
	sb.WriteString("\n")
}

func (r *DecisionResult) goPassed() int {
	n := 0
	for _, c := range r.GOCriteria {
		if c.Pass {
			n++
		}
	}
	return n
}

func (r *DecisionResult) nogoTriggered() int {
	n := 0
	for _, c := range r.NOGOChecks {
		if !c.Pass {
			n++
		}
	}
	return n
}
