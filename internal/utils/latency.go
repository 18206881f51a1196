package utils

import (
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps the most recent run durations in a ring and answers
// percentile queries over them.
type LatencyTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	maxSize int
}

// NewLatencyTracker creates a tracker retaining up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{maxSize: maxSize, samples: make([]time.Duration, 0, maxSize)}
}

// Observe records d, overwriting the oldest sample once full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.samples) < l.maxSize {
		l.samples = append(l.samples, d)
		return
	}
	l.samples[l.next] = d
	l.next = (l.next + 1) % l.maxSize
}

// Percentile returns the nearest-rank duration for p in [0,100], or zero
// without samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	sorted := slices.Clone(l.samples)
	l.mu.RUnlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	return sorted[int(p/100*float64(len(sorted)-1))]
}

// Count returns the number of retained samples.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples)
}
