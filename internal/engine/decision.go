package engine

import (
	"github.com/talgya/commutersim/internal/agents"
	"github.com/talgya/commutersim/internal/environment"
)

// Affinity bounds. The upper bound sits on the car end of the [0, 1] scale
// but the lower bound is -1, not 0, so strongly bike-minded agents pull the
// car estimate below zero.
const (
	MaxAffinity = 1.0
	MinAffinity = -1.0
)

// distanceScale maps a location index onto the time/effort factor.
const distanceScale = 5.0

// Factors is the per-agent breakdown of the decision model, in cost units.
type Factors struct {
	TimeEffort float64 `json:"time_effort"`
	Expense    float64 `json:"expense"`
	Weather    float64 `json:"weather"`
	Congestion float64 `json:"congestion"`
	Roadworks  float64 `json:"roadworks"`
	Individual float64 `json:"individual"`
}

// Sum returns the total cost across all factors.
func (f Factors) Sum() float64 {
	return f.TimeEffort + f.Expense + f.Weather + f.Congestion + f.Roadworks + f.Individual
}

// Affinity maps the summed factors onto the car-affinity scale.
func (f Factors) Affinity() float64 {
	v := f.Sum()/200.0 + 0.5
	if v > MaxAffinity {
		v = MaxAffinity
	}
	if v < MinAffinity {
		v = MinAffinity
	}
	return v
}

// StandardizedCongestion scales the moving-average car count so that a road
// carrying the whole population scores 2.0.
func StandardizedCongestion(avgCars float64, population int) float64 {
	if population <= 0 {
		return 0
	}
	return 2.0 * avgCars / float64(population)
}

// Evaluate computes the decision factors for one agent. congestion is the
// standardized congestion signal.
func Evaluate(a agents.Agent, c environment.Conditions, congestion float64, w Weights) Factors {
	f := Factors{
		TimeEffort: w.TimeEffort * (float64(a.HomeLocation) / distanceScale),
		Expense:    w.Expense,
		Congestion: w.Congestion * congestion,
	}
	if c.Rain {
		f.Weather = w.Weather
	}
	if c.RoadworksAffect(a.HomeLocation) {
		f.Roadworks = w.Roadworks * congestion
	}
	if a.PrefersCar {
		f.Individual = w.Individual
	} else {
		f.Individual = -w.Individual
	}
	return f
}

// CarAffinity returns how strongly an agent leans towards the car today.
func CarAffinity(a agents.Agent, c environment.Conditions, congestion float64, w Weights) float64 {
	return Evaluate(a, c, congestion, w).Affinity()
}
