package engine

// DayRecord is one day's row of the history.
type DayRecord struct {
	Day           int     `json:"day" db:"day"`
	Cars          int     `json:"cars" db:"cars"`
	Bikes         int     `json:"bikes" db:"bikes"`
	MovingAverage float64 `json:"moving_average" db:"moving_average"`
	Rain          bool    `json:"rain" db:"rain"`
	Roadworks     bool    `json:"roadworks" db:"roadworks"`
}

// History is the per-day record of aggregate results, stored as parallel
// arrays indexed by day. Capacity is fixed when the history is created;
// Days counts the entries recorded so far.
type History struct {
	Days          int       `json:"days"`
	CarTotals     []int     `json:"car_totals"`
	BikeTotals    []int     `json:"bike_totals"`
	MovingAverage []float64 `json:"moving_average"`
	Rain          []bool    `json:"rain"`
	Roadworks     []bool    `json:"roadworks"`
}

// NewHistory creates a zero-filled history able to hold maxDays+1 days.
func NewHistory(maxDays int) *History {
	n := maxDays + 1
	return &History{
		CarTotals:     make([]int, n),
		BikeTotals:    make([]int, n),
		MovingAverage: make([]float64, n),
		Rain:          make([]bool, n),
		Roadworks:     make([]bool, n),
	}
}

// Cap returns the number of days the history can hold.
func (h *History) Cap() int {
	return len(h.CarTotals)
}

// Record stores a day's results at r.Day. Days beyond capacity are dropped.
func (h *History) Record(r DayRecord) bool {
	if r.Day < 0 || r.Day >= h.Cap() {
		return false
	}
	h.CarTotals[r.Day] = r.Cars
	h.BikeTotals[r.Day] = r.Bikes
	h.MovingAverage[r.Day] = r.MovingAverage
	h.Rain[r.Day] = r.Rain
	h.Roadworks[r.Day] = r.Roadworks
	if r.Day+1 > h.Days {
		h.Days = r.Day + 1
	}
	return true
}

// Day returns the record for day i.
func (h *History) Day(i int) DayRecord {
	return DayRecord{
		Day:           i,
		Cars:          h.CarTotals[i],
		Bikes:         h.BikeTotals[i],
		MovingAverage: h.MovingAverage[i],
		Rain:          h.Rain[i],
		Roadworks:     h.Roadworks[i],
	}
}

// Records returns the recorded days as rows.
func (h *History) Records() []DayRecord {
	out := make([]DayRecord, h.Days)
	for i := range out {
		out[i] = h.Day(i)
	}
	return out
}

// Clear zero-fills the history, keeping its capacity.
func (h *History) Clear() {
	clear(h.CarTotals)
	clear(h.BikeTotals)
	clear(h.MovingAverage)
	clear(h.Rain)
	clear(h.Roadworks)
	h.Days = 0
}

// Clone returns a deep copy.
func (h *History) Clone() History {
	return History{
		Days:          h.Days,
		CarTotals:     append([]int(nil), h.CarTotals...),
		BikeTotals:    append([]int(nil), h.BikeTotals...),
		MovingAverage: append([]float64(nil), h.MovingAverage...),
		Rain:          append([]bool(nil), h.Rain...),
		Roadworks:     append([]bool(nil), h.Roadworks...),
	}
}
