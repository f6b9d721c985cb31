package reporting

import "time"

// Report summarises stored factors and tracked runs of one experiment.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	Experiment  string

	// Factor tables (sorted by name)
	Factors []FactorSummaryRow

	// Tracked runs (sorted by start time)
	Runs []RunRow
}

// FactorSummaryRow describes one stored factor table.
type FactorSummaryRow struct {
	Name      string
	Rows      int
	Symbols   int
	Dates     int
	FirstDate time.Time // zero for an empty table
	LastDate  time.Time
	Mean      float64
	Stddev    float64 // sample stddev, 0 below two rows
	Min       float64
	Max       float64
}

// RunRow describes one tracked run.
type RunRow struct {
	RunID     string
	RunName   string
	Factor    string // params["factor"]
	StartedAt time.Time
	EndedAt   *time.Time
	SpecHash  string // params["spec_hash"]
	DataHash  string // params["data_hash"]
	Metrics   map[string]float64
}

// runMetricColumns are the metrics shown in run tables, in order.
var runMetricColumns = []string{"IC", "IR", "coverage", "ret_annual", "max_drawdown"}
