package engine

import (
	"math"

	"github.com/talgya/commutersim/internal/agents"
	"github.com/talgya/commutersim/internal/environment"
)

// Tally aggregates one day's decisions across the population.
type Tally struct {
	Cars           int       `json:"cars"`
	Bikes          int       `json:"bikes"`
	AffinitySum    float64   `json:"affinity_sum"`
	IdealCarsByLoc []float64 `json:"ideal_cars_by_location"` // Un-rounded car affinity summed per location
}

// Aggregate evaluates every agent and totals the result. Car and bike totals
// are estimates: the summed affinity rounded to the nearest commuter.
func Aggregate(pop agents.Population, locations int, c environment.Conditions, congestion float64, w Weights) Tally {
	t := Tally{IdealCarsByLoc: make([]float64, locations)}

	for _, a := range pop {
		aff := CarAffinity(a, c, congestion, w)
		t.AffinitySum += aff
		if a.HomeLocation >= 0 && a.HomeLocation < locations {
			t.IdealCarsByLoc[a.HomeLocation] += aff
		}
	}

	t.Cars = int(math.Round(t.AffinitySum))
	t.Bikes = len(pop) - t.Cars
	return t
}

// CarsByLocation returns the per-location car estimates rounded to whole commuters.
func (t Tally) CarsByLocation() []int {
	out := make([]int, len(t.IdealCarsByLoc))
	for i, v := range t.IdealCarsByLoc {
		out[i] = int(math.Round(v))
	}
	return out
}
