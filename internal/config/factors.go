package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"factor-lab/internal/domain"
	"factor-lab/internal/expr"
)

// ErrUnknownFactor is returned when a factor name is not defined.
var ErrUnknownFactor = errors.New("unknown factor")

// FactorFile is the YAML document of factor definitions.
//
//	universe: [AAA, BBB]
//	start: 2024-01-01
//	end: 2024-03-31
//	factors:
//	  - name: ma_diff
//	    inputs: [close]
//	    output: alpha
//	    lookback: 5
//	    lag: 1
//	    blocks:
//	      - output: alpha
//	        expr: {op: sub, args: [...]}
type FactorFile struct {
	Universe []string    `yaml:"universe" validate:"dive,required"`
	Start    string      `yaml:"start" validate:"omitempty,datetime=2006-01-02"`
	End      string      `yaml:"end" validate:"omitempty,datetime=2006-01-02"`
	Factors  []FactorDef `yaml:"factors" validate:"required,min=1,dive"`
}

// FactorDef declares one factor.
type FactorDef struct {
	Name     string           `yaml:"name" validate:"required"`
	Freq     string           `yaml:"freq" validate:"omitempty,oneof=1d 1h 1m"`
	Inputs   []string         `yaml:"inputs" validate:"required,min=1,dive,required"`
	Output   string           `yaml:"output" validate:"required"`
	Lookback int              `yaml:"lookback" validate:"gte=0"`
	Lag      int              `yaml:"lag" validate:"gte=0"`
	Blocks   []expr.BlockSpec `yaml:"blocks" validate:"required,min=1,dive"`
}

// LoadFactors reads and validates a factor definitions file.
func LoadFactors(path string) (*FactorFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read factors file: %w", err)
	}
	return ParseFactors(data)
}

// ParseFactors decodes and validates factor definitions.
func ParseFactors(data []byte) (*FactorFile, error) {
	var f FactorFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("decode factors: %w", err)
	}
	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("factors validation failed: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Factors))
	for _, d := range f.Factors {
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("factors validation failed: duplicate factor %q", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return &f, nil
}

// Range returns the parsed start and end dates. Unset dates are zero.
func (f *FactorFile) Range() (start, end time.Time, err error) {
	if f.Start != "" {
		if start, err = time.Parse(time.DateOnly, f.Start); err != nil {
			return start, end, err
		}
	}
	if f.End != "" {
		if end, err = time.Parse(time.DateOnly, f.End); err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}

// Specs builds every defined factor.
func (f *FactorFile) Specs() ([]*domain.FactorSpec, error) {
	specs := make([]*domain.FactorSpec, 0, len(f.Factors))
	for _, d := range f.Factors {
		s, err := d.Build()
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// Spec builds the factor with the given name.
func (f *FactorFile) Spec(name string) (*domain.FactorSpec, error) {
	for _, d := range f.Factors {
		if d.Name == name {
			return d.Build()
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFactor, name)
}

// Build turns the definition into a validated FactorSpec.
func (d FactorDef) Build() (*domain.FactorSpec, error) {
	blocks := make([]domain.TransformBlock, len(d.Blocks))
	for i, bs := range d.Blocks {
		b, err := bs.Build()
		if err != nil {
			return nil, fmt.Errorf("factor %s: %w", d.Name, err)
		}
		blocks[i] = b
	}

	freq := domain.Frequency(d.Freq)
	if freq == "" {
		freq = domain.FrequencyDaily
	}
	spec := &domain.FactorSpec{
		Name:     d.Name,
		Freq:     freq,
		Inputs:   append([]string(nil), d.Inputs...),
		Blocks:   blocks,
		Output:   d.Output,
		Lookback: d.Lookback,
		Lag:      d.Lag,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
