package engine

import "gonum.org/v1/gonum/stat"

// CongestionTracker keeps the daily car totals and the moving average that
// feeds back into the next day's decisions.
type CongestionTracker struct {
	totals  []float64
	average float64
}

// NewCongestionTracker creates a tracker whose average starts at seed.
func NewCongestionTracker(seed float64) *CongestionTracker {
	return &CongestionTracker{average: seed}
}

// Reset discards all recorded totals and reseeds the average.
func (c *CongestionTracker) Reset(seed float64) {
	c.totals = c.totals[:0]
	c.average = seed
}

// Record appends a day's car total and recomputes the average over the most
// recent window days, or over every day recorded so far if fewer. A window
// below 1 is treated as 1.
func (c *CongestionTracker) Record(cars int, window int) float64 {
	c.totals = append(c.totals, float64(cars))
	if window < 1 {
		window = 1
	}
	start := len(c.totals) - window
	if start < 0 {
		start = 0
	}
	c.average = stat.Mean(c.totals[start:], nil)
	return c.average
}

// Average returns the current moving average.
func (c *CongestionTracker) Average() float64 {
	return c.average
}

// Len returns the number of days recorded since the last reset.
func (c *CongestionTracker) Len() int {
	return len(c.totals)
}
