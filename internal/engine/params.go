package engine

import "github.com/talgya/commutersim/internal/environment"

// Weights are the tunable decision-model weights. Positive values favour the
// car, negative values the bike; each is nominally in [-100, 100].
type Weights struct {
	TimeEffort float64 `json:"time_effort" yaml:"time_effort"` // Scaled by commute distance
	Expense    float64 `json:"expense" yaml:"expense"`         // Fixed cost offset
	Congestion float64 `json:"congestion" yaml:"congestion"`   // Scaled by average cars
	Roadworks  float64 `json:"roadworks" yaml:"roadworks"`     // Scaled by average cars, affected commuters only
	Weather    float64 `json:"weather" yaml:"weather"`         // Applied on bad-weather days
	Individual float64 `json:"individual" yaml:"individual"`   // Signed by each agent's baseline preference
}

// DefaultWeights returns the calibrated default weights.
func DefaultWeights() Weights {
	return Weights{
		TimeEffort: 70,
		Expense:    -20,
		Congestion: -64,
		Roadworks:  -80,
		Weather:    25,
		Individual: 74,
	}
}

// Params is the runtime-tunable configuration. The simulation reads one
// snapshot per simulated day; callers replace the whole value with SetParams
// rather than mutating it.
type Params struct {
	Weights          Weights              `json:"weights"`
	CongestionWindow int                  `json:"congestion_window"` // Days in the congestion moving average
	Rain             environment.Schedule `json:"rain"`
	Roadworks        environment.Schedule `json:"roadworks"`
}

// DefaultParams returns the default runtime parameters.
func DefaultParams() Params {
	return Params{
		Weights:          DefaultWeights(),
		CongestionWindow: 10,
		Rain:             environment.Schedule{StartProbability: 0.1, MaxDuration: 5},
		Roadworks:        environment.Schedule{StartProbability: 0.05, MaxDuration: 10},
	}
}
