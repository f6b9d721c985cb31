package ingestion

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"factor-lab/internal/domain"
)

// DefaultMaxGapRatio is the tolerated share of missing symbol-periods.
const DefaultMaxGapRatio = 0.05

// maxSufficiencyErrors caps the integrity errors listed per check.
const maxSufficiencyErrors = 20

// SufficiencyCheck represents one data sufficiency criterion.
type SufficiencyCheck struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// SufficiencyResult contains all 6 checks.
type SufficiencyResult struct {
	Checks  []SufficiencyCheck
	AllPass bool
	Errors  []string // data integrity errors
}

// SufficiencyRequirements parameterise CheckSufficiency.
type SufficiencyRequirements struct {
	Universe    []string // symbols that must be present; empty accepts any
	Fields      []string // fields every symbol must carry
	MinPeriods  int      // distinct periods required
	MaxGapRatio float64  // Default: DefaultMaxGapRatio
}

// CheckSufficiency validates that bars can back factor computation before
// they are loaded. Gaps are measured per symbol against the union of periods
// seen in bars, so non-trading days are not counted as missing.
func CheckSufficiency(bars []domain.Bar, req SufficiencyRequirements) *SufficiencyResult {
	if req.MaxGapRatio <= 0 {
		req.MaxGapRatio = DefaultMaxGapRatio
	}
	result := &SufficiencyResult{
		Checks:  make([]SufficiencyCheck, 0, 6),
		AllPass: true,
		Errors:  []string{},
	}
	add := func(c SufficiencyCheck, errs []string) {
		result.Checks = append(result.Checks, c)
		if !c.Pass {
			result.AllPass = false
			result.Errors = append(result.Errors, errs...)
		}
	}

	idx := indexBars(bars)

	add(checkUniverse(idx, req.Universe))
	add(checkFields(idx, req.Fields))
	add(checkHistory(idx, req.MinPeriods), nil)
	add(checkDuplicates(bars))
	add(checkGaps(idx, req.MaxGapRatio), nil)
	add(checkFinite(bars))

	return result
}

// Summary returns "n/m checks passed".
func (r *SufficiencyResult) Summary() string {
	passed := 0
	for _, c := range r.Checks {
		if c.Pass {
			passed++
		}
	}
	return fmt.Sprintf("%d/%d checks passed", passed, len(r.Checks))
}

type barIndex struct {
	periods map[int64]struct{}
	symbols map[string]map[int64]struct{}  // symbol -> periods with any bar
	fields  map[string]map[string]struct{} // symbol -> fields
}

func indexBars(bars []domain.Bar) *barIndex {
	idx := &barIndex{
		periods: make(map[int64]struct{}),
		symbols: make(map[string]map[int64]struct{}),
		fields:  make(map[string]map[string]struct{}),
	}
	for _, b := range bars {
		key := b.Date.UnixNano()
		idx.periods[key] = struct{}{}
		if idx.symbols[b.Symbol] == nil {
			idx.symbols[b.Symbol] = make(map[int64]struct{})
			idx.fields[b.Symbol] = make(map[string]struct{})
		}
		idx.symbols[b.Symbol][key] = struct{}{}
		idx.fields[b.Symbol][b.Field] = struct{}{}
	}
	return idx
}

// checkUniverse: every universe symbol has bars.
func checkUniverse(idx *barIndex, universe []string) (SufficiencyCheck, []string) {
	check := SufficiencyCheck{Name: "Universe coverage"}
	if len(universe) == 0 {
		check.Threshold = ">= 1 symbol"
		check.Actual = fmt.Sprintf("%d symbols", len(idx.symbols))
		check.Pass = len(idx.symbols) > 0
		return check, nil
	}

	var errs []string
	present := 0
	for _, sym := range universe {
		if _, ok := idx.symbols[sym]; ok {
			present++
		} else {
			errs = appendCapped(errs, fmt.Sprintf("symbol %s has no bars", sym))
		}
	}
	check.Threshold = "100%"
	check.Actual = fmt.Sprintf("%d/%d symbols", present, len(universe))
	check.Pass = present == len(universe)
	return check, errs
}

// checkFields: every symbol carries every required field.
func checkFields(idx *barIndex, fields []string) (SufficiencyCheck, []string) {
	check := SufficiencyCheck{
		Name:      "Field coverage",
		Threshold: "[" + strings.Join(fields, ",") + "] for every symbol",
	}

	var errs []string
	missing := 0
	for _, sym := range sortedKeys(idx.fields) {
		for _, f := range fields {
			if _, ok := idx.fields[sym][f]; !ok {
				missing++
				errs = appendCapped(errs, fmt.Sprintf("symbol %s is missing field %s", sym, f))
			}
		}
	}
	check.Actual = fmt.Sprintf("%d missing", missing)
	check.Pass = missing == 0
	return check, errs
}

// checkHistory: enough distinct periods for lookback plus evaluation.
func checkHistory(idx *barIndex, minPeriods int) SufficiencyCheck {
	return SufficiencyCheck{
		Name:      "History length",
		Threshold: fmt.Sprintf(">= %d periods", minPeriods),
		Actual:    fmt.Sprintf("%d periods", len(idx.periods)),
		Pass:      len(idx.periods) >= minPeriods && len(idx.periods) > 0,
	}
}

// checkDuplicates: duplicate (date, symbol, field) count == 0.
func checkDuplicates(bars []domain.Bar) (SufficiencyCheck, []string) {
	type key struct {
		date   int64
		symbol string
		field  string
	}
	seen := make(map[key]struct{}, len(bars))
	var errs []string
	dups := 0
	for _, b := range bars {
		k := key{b.Date.UnixNano(), b.Symbol, b.Field}
		if _, ok := seen[k]; ok {
			dups++
			errs = appendCapped(errs, fmt.Sprintf("duplicate bar %s %s %s", b.Date.Format(time.RFC3339), b.Symbol, b.Field))
			continue
		}
		seen[k] = struct{}{}
	}
	return SufficiencyCheck{
		Name:      "Duplicate bars",
		Threshold: "== 0",
		Actual:    fmt.Sprintf("%d", dups),
		Pass:      dups == 0,
	}, errs
}

// checkGaps: missing symbol-periods over the panel calendar.
func checkGaps(idx *barIndex, maxRatio float64) SufficiencyCheck {
	total := len(idx.periods) * len(idx.symbols)
	present := 0
	for _, periods := range idx.symbols {
		present += len(periods)
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(total-present) / float64(total)
	}
	return SufficiencyCheck{
		Name:      "Calendar gaps",
		Threshold: fmt.Sprintf("<= %.1f%%", maxRatio*100),
		Actual:    fmt.Sprintf("%.2f%%", ratio*100),
		Pass:      ratio <= maxRatio,
	}
}

// checkFinite: non-finite values == 0.
func checkFinite(bars []domain.Bar) (SufficiencyCheck, []string) {
	var errs []string
	bad := 0
	for _, b := range bars {
		if math.IsNaN(b.Value) || math.IsInf(b.Value, 0) {
			bad++
			errs = appendCapped(errs, fmt.Sprintf("non-finite %s at %s %s", b.Field, b.Date.Format(time.RFC3339), b.Symbol))
		}
	}
	return SufficiencyCheck{
		Name:      "Non-finite values",
		Threshold: "== 0",
		Actual:    fmt.Sprintf("%d", bad),
		Pass:      bad == 0,
	}, errs
}

func appendCapped(errs []string, msg string) []string {
	if len(errs) < maxSufficiencyErrors {
		return append(errs, msg)
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
