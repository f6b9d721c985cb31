package reporting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"factor-lab/internal/decision"
	"factor-lab/internal/observability"
)

// Output file names written by WriteDir.
const (
	FileMarkdown = "FACTOR_REPORT.md"
	FileRunsCSV  = "RUNS.csv"
	FileXLSX     = "FACTOR_REPORT.xlsx"
	FileDecision = "DECISION_GATE.md"
	DirFactors   = "factors"
)

// WriteDir generates the report and writes the Markdown summary, the runs
// CSV, the workbook, the decision gate report and one CSV per stored factor
// under dir. It returns the written paths.
func (g *Generator) WriteDir(ctx context.Context, dir string) ([]string, error) {
	r, err := g.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}

	factorDir := filepath.Join(dir, DirFactors)
	if err := os.MkdirAll(factorDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	var written []string
	write := func(path string, data []byte) error {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	if err := write(filepath.Join(dir, FileMarkdown), []byte(RenderMarkdown(r))); err != nil {
		return written, err
	}
	if err := write(filepath.Join(dir, FileRunsCSV), []byte(RenderRunsCSV(r.Runs))); err != nil {
		return written, err
	}

	xlsxPath := filepath.Join(dir, FileXLSX)
	f, err := os.Create(xlsxPath)
	if err != nil {
		return written, fmt.Errorf("create %s: %w", xlsxPath, err)
	}
	if err := WriteXLSX(r, f); err != nil {
		f.Close()
		return written, err
	}
	if err := f.Close(); err != nil {
		return written, err
	}
	written = append(written, xlsxPath)

	decisions, err := Decisions(r.Runs)
	if err != nil {
		return written, err
	}
	if err := write(filepath.Join(dir, FileDecision), []byte(decision.RenderMarkdown(decisions))); err != nil {
		return written, err
	}

	for _, fs := range r.Factors {
		points, err := g.factorStore.Read(ctx, fs.Name, nil, nil)
		if err != nil {
			return written, err
		}
		if err := write(filepath.Join(factorDir, fs.Name+".csv"), []byte(RenderFactorCSV(points))); err != nil {
			return written, err
		}
	}

	observability.RecordReportGenerated()
	return written, nil
}

// Decisions evaluates the decision gate on the latest run of each factor.
// Runs without a factor parameter are ignored. Results are sorted by factor.
func Decisions(runs []RunRow) ([]*decision.DecisionResult, error) {
	latest := make(map[string]RunRow)
	var names []string
	for _, run := range runs {
		if run.Factor == "" {
			continue
		}
		prev, seen := latest[run.Factor]
		if !seen {
			names = append(names, run.Factor)
		}
		if !seen || !run.StartedAt.Before(prev.StartedAt) {
			latest[run.Factor] = run
		}
	}
	sort.Strings(names)

	gate := decision.NewEvaluator()
	results := make([]*decision.DecisionResult, 0, len(names))
	for _, name := range names {
		run := latest[name]
		res, err := gate.Evaluate(decision.InputFromMetrics(name, run.RunID, run.Metrics, nil))
		if err != nil {
			return nil, fmt.Errorf("decision for %s: %w", name, err)
		}
		results = append(results, res)
	}
	return results, nil
}
