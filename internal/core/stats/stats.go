// Package stats computes the per-window statistical summary.
//
// Everything here is deterministic: the same multiset of values always
// produces the same summary, which is what makes replay after recovery
// reproduce identical aggregation results.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Percentile labels in the fixed emitted set.
const (
	P25 = "p25"
	P50 = "p50"
	P75 = "p75"
	P90 = "p90"
	P95 = "p95"
	P99 = "p99"
)

var percentileRanks = []struct {
	Label string
	Rank  float64
}{
	{P25, 0.25},
	{P50, 0.50},
	{P75, 0.75},
	{P90, 0.90},
	{P95, 0.95},
	{P99, 0.99},
}

// Summary holds the fixed statistic set computed over one closed window.
// Sum/min/max/avg use exact decimal arithmetic; stddev is the population
// standard deviation.
type Summary struct {
	Count       int64                      `json:"count"`
	Sum         decimal.Decimal            `json:"sum"`
	Avg         decimal.Decimal            `json:"avg"`
	Min         decimal.Decimal            `json:"min"`
	Max         decimal.Decimal            `json:"max"`
	StdDev      float64                    `json:"stddev"`
	Percentiles map[string]decimal.Decimal `json:"percentiles"`
}

// Result is one window's aggregation output for a subject, optionally
// enriched with predictions from the external scoring collaborator.
type Result struct {
	JobName      string                 `json:"job_name"`
	SubjectID    string                 `json:"subject_id"`
	WindowStart  time.Time              `json:"window_start"`
	WindowEnd    time.Time              `json:"window_end"`
	Summary      Summary                `json:"summary"`
	Predictions  map[string]interface{} `json:"predictions,omitempty"`
	EnrichFailed bool                   `json:"enrich_failed,omitempty"`
}

// Key identifies the idempotent upsert slot for a result in the feature store.
type Key struct {
	JobName     string
	SubjectID   string
	WindowStart time.Time
	WindowEnd   time.Time
}

// ResultKey returns the upsert key for r.
func (r *Result) ResultKey() Key {
	return Key{JobName: r.JobName, SubjectID: r.SubjectID, WindowStart: r.WindowStart, WindowEnd: r.WindowEnd}
}

// Summarize computes the fixed statistic set over values.
// Percentiles use nearest-rank on a sorted copy so each percentile is an
// actual sample, never an interpolation, and replays reproduce it exactly.
// An empty input yields the zero Summary.
func Summarize(values []decimal.Decimal) Summary {
	n := len(values)
	if n == 0 {
		return Summary{Percentiles: map[string]decimal.Decimal{}}
	}

	sorted := make([]decimal.Decimal, n)
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	sum := decimal.Zero
	for _, v := range sorted {
		sum = sum.Add(v)
	}
	avg := sum.Div(decimal.NewFromInt(int64(n)))

	// Population variance on float64; the sqrt has no exact decimal form.
	mean, _ := avg.Float64()
	var sq float64
	for _, v := range sorted {
		f, _ := v.Float64()
		d := f - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(n))

	pct := make(map[string]decimal.Decimal, len(percentileRanks))
	for _, p := range percentileRanks {
		pct[p.Label] = sorted[nearestRank(p.Rank, n)]
	}

	return Summary{
		Count:       int64(n),
		Sum:         sum,
		Avg:         avg,
		Min:         sorted[0],
		Max:         sorted[n-1],
		StdDev:      stddev,
		Percentiles: pct,
	}
}

// nearestRank returns the zero-based index of percentile rank p over n
// sorted samples: ceil(p*n) clamped to [1, n], minus one.
func nearestRank(p float64, n int) int {
	r := int(math.Ceil(p * float64(n)))
	if r < 1 {
		r = 1
	}
	if r > n {
		r = n
	}
	return r - 1
}

// ExtractDecimal pulls a numeric field out of an event payload.
// Missing or non-numeric fields count as zero; a field name of "" means
// the job aggregates event occurrences, not a payload value.
func ExtractDecimal(payload map[string]interface{}, field string) decimal.Decimal {
	if field == "" {
		return decimal.NewFromInt(1)
	}
	raw, ok := payload[field]
	if !ok {
		return decimal.Zero
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case float32:
		return decimal.NewFromFloat32(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}
