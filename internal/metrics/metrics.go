// Package metrics is the in-process metrics store. Counters, gauges and
// histograms live for the gateway lifetime; the metrics endpoints read
// snapshots straight out of it. One instance per gateway process, passed
// explicitly into components.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// histogramWindow bounds the per-name sample ring.
const histogramWindow = 1000

// Store holds counters, gauges and bounded histograms.
type Store struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string]*ring
	startedAt  time.Time
}

type ring struct {
	samples []float64
	next    int
	full    bool
}

func (r *ring) add(v float64) {
	if len(r.samples) < histogramWindow {
		r.samples = append(r.samples, v)
		return
	}
	r.samples[r.next] = v
	r.next = (r.next + 1) % histogramWindow
	r.full = true
}

// NewStore returns an empty metrics store.
func NewStore() *Store {
	return &Store{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string]*ring),
		startedAt:  time.Now(),
	}
}

// Inc increments a counter by delta.
func (s *Store) Inc(name string, delta int64) {
	s.mu.Lock()
	s.counters[name] += delta
	s.mu.Unlock()
}

// SetGauge sets a gauge to the given value.
func (s *Store) SetGauge(name string, v float64) {
	s.mu.Lock()
	s.gauges[name] = v
	s.mu.Unlock()
}

// AddGauge adjusts a gauge by delta. Useful for in-flight counts.
func (s *Store) AddGauge(name string, delta float64) {
	s.mu.Lock()
	s.gauges[name] += delta
	s.mu.Unlock()
}

// Observe records one histogram sample.
func (s *Store) Observe(name string, v float64) {
	s.mu.Lock()
	r, ok := s.histograms[name]
	if !ok {
		r = &ring{}
		s.histograms[name] = r
	}
	r.add(v)
	s.mu.Unlock()
}

// ObserveDuration records an elapsed time in milliseconds.
func (s *Store) ObserveDuration(name string, d time.Duration) {
	s.Observe(name, float64(d.Milliseconds()))
}

// Counter returns the current value of a counter.
func (s *Store) Counter(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name]
}

// Histogram summarizes one histogram's retained samples. Unknown
// names yield zero stats.
func (s *Store) Histogram(name string) HistogramStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.histograms[name]
	if !ok {
		return HistogramStats{}
	}
	return summarize(r.samples)
}

// Uptime returns the elapsed time since the store was created.
func (s *Store) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// HistogramStats summarizes a histogram's retained samples.
type HistogramStats struct {
	Count int     `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Avg   float64 `json:"avg"`
}

// Snapshot is a point-in-time copy of the whole store.
type Snapshot struct {
	Counters   map[string]int64          `json:"counters"`
	Gauges     map[string]float64        `json:"gauges"`
	Histograms map[string]HistogramStats `json:"histograms"`
}

// Snapshot computes percentiles on demand and returns a copy of all metrics.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Counters:   make(map[string]int64, len(s.counters)),
		Gauges:     make(map[string]float64, len(s.gauges)),
		Histograms: make(map[string]HistogramStats, len(s.histograms)),
	}
	for k, v := range s.counters {
		snap.Counters[k] = v
	}
	for k, v := range s.gauges {
		snap.Gauges[k] = v
	}
	for k, r := range s.histograms {
		snap.Histograms[k] = summarize(r.samples)
	}
	return snap
}

func summarize(samples []float64) HistogramStats {
	if len(samples) == 0 {
		return HistogramStats{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return HistogramStats{
		Count: len(sorted),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
		Avg:   sum / float64(len(sorted)),
	}
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
