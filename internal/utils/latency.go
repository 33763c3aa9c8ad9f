package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent run durations in a fixed-size ring and
// answers percentile queries over them. The interval loop uses it to log p95
// run latency; memory stays bounded however long the process runs.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
}

// NewLatencyTracker creates a tracker retaining up to size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{samples: make([]time.Duration, 0, size)}
}

// Observe records one duration, evicting the oldest sample once the ring
// is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.samples) < cap(l.samples) {
		l.samples = append(l.samples, d)
		return
	}
	l.samples[l.next] = d
	l.next = (l.next + 1) % len(l.samples)
}

// Percentile returns the p-th percentile (0-100, clamped) of the retained
// samples, or zero when nothing has been observed.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.Lock()
	sorted := append([]time.Duration(nil), l.samples...)
	l.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return sorted[int(p/100*float64(len(sorted)-1))]
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}
