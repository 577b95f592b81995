package monitoring

import (
	"sync"
	"time"
)

// RollingWindow keeps timestamped observations for a fixed duration
// and answers average and rate questions over what is left. The stream
// steps keep one per endpoint to derive the latency_avg_5m and
// predictions_per_second real-time series.
type RollingWindow struct {
	span time.Duration

	mu     sync.Mutex
	points []MetricPoint
}

// NewRollingWindow creates a window covering the given span.
func NewRollingWindow(span time.Duration) *RollingWindow {
	return &RollingWindow{span: span}
}

// Observe records a value at the given time and drops anything older
// than the window span.
func (w *RollingWindow) Observe(ts time.Time, value float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.points = append(w.points, MetricPoint{Timestamp: ts, Value: value})
	w.trim(ts)
}

// Average returns the mean of the retained values, or 0 when empty.
func (w *RollingWindow) Average(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.trim(now)
	if len(w.points) == 0 {
		return 0
	}
	var total float64
	for _, p := range w.points {
		total += p.Value
	}
	return total / float64(len(w.points))
}

// Rate returns retained observations per second.
func (w *RollingWindow) Rate(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.trim(now)
	if len(w.points) == 0 {
		return 0
	}
	return float64(len(w.points)) / w.span.Seconds()
}

// Count returns the number of retained observations.
func (w *RollingWindow) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.trim(now)
	return len(w.points)
}

// trim drops observations that fell out of the window. Caller holds
// the lock.
func (w *RollingWindow) trim(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for ; i < len(w.points); i++ {
		if !w.points[i].Timestamp.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		w.points = append(w.points[:0], w.points[i:]...)
	}
}
