package channel

import "math"

// pingAlpha weights a new sample in the moving average.
const pingAlpha = 0.25

// estimator is an exponentially weighted moving average of round-trip
// samples in milliseconds. The first sample seeds the average.
type estimator struct {
	value  float64
	seeded bool
}

// Sample folds ms into the average. Negative samples are ignored.
func (e *estimator) Sample(ms float64) {
	if ms < 0 {
		return
	}
	if !e.seeded {
		e.value = ms
		e.seeded = true
		return
	}
	e.value += (ms - e.value) * pingAlpha
}

// Value returns the rounded average, 0 before the first sample.
func (e *estimator) Value() int {
	return int(math.Round(e.value))
}
