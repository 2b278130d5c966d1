// Package metrics implements the run-wide metric sinks shared by all virtual users.
//
// All sinks are safe for concurrent use. Rates keep a (hits, total) pair so the
// denominator always equals the number of samples added, counters and gauges are
// atomic, and trends keep every sample so percentiles are exact.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Rate is the fraction of non-zero samples
type Rate struct {
	hits  atomic.Int64
	total atomic.Int64
}

// Add records one sample. hit=true counts as 1, false as 0.
func (r *Rate) Add(hit bool) {
	if hit {
		r.hits.Add(1)
	}
	r.total.Add(1)
}

// Stats returns the current hits/total pair
func (r *Rate) Stats() RateStats {
	// total is read first so hits never exceeds it in the returned view
	total := r.total.Load()
	hits := r.hits.Load()
	if hits > total {
		hits = total
	}
	return RateStats{Hits: hits, Total: total}
}

// Value returns hits/total, 0 when empty
func (r *Rate) Value() float64 {
	return r.Stats().Rate()
}

// RateStats is an immutable view of a Rate
type RateStats struct {
	Hits  int64 `json:"hits" yaml:"hits"`
	Total int64 `json:"total" yaml:"total"`
}

func (s RateStats) Rate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Total)
}

// Misses returns the number of zero samples
func (s RateStats) Misses() int64 {
	return s.Total - s.Hits
}

// Counter is a monotonic sum
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Add(n int64) {
	c.v.Add(n)
}

func (c *Counter) Value() int64 {
	return c.v.Load()
}

// Gauge holds the last value set and the highest value seen
type Gauge struct {
	v   atomic.Int64
	max atomic.Int64
}

func (g *Gauge) Set(n int64) {
	g.v.Store(n)
	for {
		cur := g.max.Load()
		if n <= cur || g.max.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (g *Gauge) Value() int64 {
	return g.v.Load()
}

func (g *Gauge) Max() int64 {
	return g.max.Load()
}

// RecentWindow is how many of the latest samples a Trend keeps for live percentiles
const RecentWindow = 1024

// Trend collects duration samples in milliseconds
type Trend struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
	min     float64
	max     float64

	// ring of the latest RecentWindow samples
	recent []float64
	next   int
}

// NewTrend creates an empty trend
func NewTrend() *Trend {
	return &Trend{samples: make([]float64, 0, 1000)}
}

// Add records a duration
func (t *Trend) Add(d time.Duration) {
	t.AddValue(float64(d) / float64(time.Millisecond))
}

// AddValue records a raw millisecond value
func (t *Trend) AddValue(ms float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 || ms < t.min {
		t.min = ms
	}
	if len(t.samples) == 0 || ms > t.max {
		t.max = ms
	}
	t.samples = append(t.samples, ms)
	t.sum += ms

	if len(t.recent) < RecentWindow {
		t.recent = append(t.recent, ms)
	} else {
		t.recent[t.next] = ms
	}
	t.next = (t.next + 1) % RecentWindow
}

// RecentPercentile returns a percentile over the latest RecentWindow samples only.
// Its cost does not grow with the run length.
func (t *Trend) RecentPercentile(p float64) float64 {
	t.mu.Lock()
	window := make([]float64, len(t.recent))
	copy(window, t.recent)
	t.mu.Unlock()

	sort.Float64s(window)
	return percentile(window, p)
}

// Count returns the number of samples
func (t *Trend) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// Stats computes the aggregate view. Percentiles are taken over a sorted copy.
func (t *Trend) Stats() TrendStats {
	t.mu.Lock()
	sorted := make([]float64, len(t.samples))
	copy(sorted, t.samples)
	stats := TrendStats{Count: int64(len(t.samples)), Min: t.min, Max: t.max}
	sum := t.sum
	t.mu.Unlock()

	if stats.Count == 0 {
		return TrendStats{}
	}

	sort.Float64s(sorted)
	stats.Avg = sum / float64(stats.Count)
	stats.Med = percentile(sorted, 50)
	stats.P90 = percentile(sorted, 90)
	stats.P95 = percentile(sorted, 95)
	stats.P99 = percentile(sorted, 99)
	stats.sorted = sorted
	return stats
}

// TrendStats is an immutable view of a Trend, values in milliseconds
type TrendStats struct {
	Count int64   `json:"count" yaml:"count"`
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Avg   float64 `json:"avg" yaml:"avg"`
	Med   float64 `json:"med" yaml:"med"`
	P90   float64 `json:"p90" yaml:"p90"`
	P95   float64 `json:"p95" yaml:"p95"`
	P99   float64 `json:"p99" yaml:"p99"`

	sorted []float64
}

// Percentile returns an arbitrary percentile (0-100)
func (s TrendStats) Percentile(p float64) float64 {
	return percentile(s.sorted, p)
}

// percentile uses linear interpolation between the closest ranks of a sorted slice
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	p = math.Max(0, math.Min(100, p))

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1

	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
