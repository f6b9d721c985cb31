package domain

import "time"

// ExperimentRun is one tracked orchestrator run.
type ExperimentRun struct {
	RunID      string             // uuid
	Experiment string             // experiment name, e.g. "AlphaFactors"
	RunName    string             // "<factor>_<freq>_<mode>"
	Params     map[string]string  // string-valued parameters
	Metrics    map[string]float64 // evaluation metrics
	Artifacts  map[string]string  // artifact name -> text content
	StartedAt  time.Time
	EndedAt    *time.Time // nil while the run is open
}
