// Package engine runs the commuter simulation: one step is one working day in
// which every agent weighs car against bike, the day's totals are recorded and
// the congestion signal is updated for tomorrow.
package engine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/commutersim/internal/agents"
	"github.com/talgya/commutersim/internal/entropy"
	"github.com/talgya/commutersim/internal/environment"
	"github.com/talgya/commutersim/internal/world"
)

// Setup holds the values that shape a population. Changing any of them
// requires Initialize.
type Setup struct {
	ResidentsPerLocation int     `json:"residents_per_location"`
	CarProbability       float64 `json:"initial_car_probability"`
	MaxDays              int     `json:"max_days"`
	Seed                 *int64  `json:"seed,omitempty"` // Nil = fresh seed per Initialize
}

// clone returns a copy that shares no memory with s.
func (s Setup) clone() Setup {
	if s.Seed != nil {
		v := *s.Seed
		s.Seed = &v
	}
	return s
}

// Simulation owns the complete model state. Step, Run and Stop may be called
// from any goroutine; at most one step executes at a time.
type Simulation struct {
	mu         sync.RWMutex
	runID      uuid.UUID
	setup      Setup
	topology   *world.Topology
	population agents.Population
	env        environment.State
	congestion *CongestionTracker
	history    *History
	day        int
	lastTally  Tally
	eventRng   *rand.Rand
	eventSeed  int64

	busy    atomic.Bool // Held for the whole of a step, including run mode
	running atomic.Bool // Run mode requested
	params  atomic.Pointer[Params]

	reporter Reporter
	log      *slog.Logger
}

// NewSimulation creates and initializes a simulation. reporter may be nil.
func NewSimulation(setup Setup, params Params, reporter Reporter, logger *slog.Logger) *Simulation {
	if reporter == nil {
		reporter = Reporters(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulation{
		env:      environment.NewState(),
		reporter: reporter,
		log:      logger,
	}
	s.SetParams(params)
	s.Initialize(setup)
	return s
}

// Initialize rebuilds the topology and population and resets to day 0.
// setup must already be validated.
func (s *Simulation) Initialize(setup Setup) {
	s.mu.Lock()

	popSeed := entropy.Seed()
	if setup.Seed != nil {
		popSeed = *setup.Seed
	}
	popRng := rand.New(rand.NewSource(popSeed))

	s.setup = setup.clone()
	s.topology = world.NewTopology(world.NumLocations)
	s.population = agents.NewSpawner(popRng).SpawnPopulation(s.topology.Len(), agents.SpawnConfig{
		ResidentsPerLocation: setup.ResidentsPerLocation,
		CarProbability:       setup.CarProbability,
	})
	s.history = NewHistory(setup.MaxDays)
	s.congestion = NewCongestionTracker(0)
	s.eventSeed = popSeed + 1
	s.eventRng = rand.New(rand.NewSource(s.eventSeed))

	s.log.Info("simulation initialized",
		"locations", s.topology.Len(),
		"population", len(s.population),
		"prefer_car", s.population.CarPreferring(),
		"max_days", setup.MaxDays,
		"seeded", setup.Seed != nil,
	)

	ev := s.resetLocked()
	s.mu.Unlock()

	s.reporter.SimulationReset(ev)
}

// Reset returns the simulation to day 0 with the same population. Run mode is
// cancelled. With a fixed seed the environment replays the same sequence.
func (s *Simulation) Reset() {
	s.mu.Lock()
	ev := s.resetLocked()
	s.mu.Unlock()

	s.reporter.SimulationReset(ev)
}

func (s *Simulation) resetLocked() ResetEvent {
	s.running.Store(false)
	s.runID = uuid.New()
	s.day = 0
	s.env.Clear()
	s.lastTally = Tally{IdealCarsByLoc: make([]float64, s.topology.Len())}
	s.history.Clear()

	// Day 0 assumes congestion follows the population-wide prior.
	s.congestion.Reset(s.setup.CarProbability * float64(len(s.population)))

	if s.setup.Seed != nil {
		s.eventRng.Seed(s.eventSeed)
	}

	ev := ResetEvent{
		RunID:      s.runID,
		Setup:      s.setup.clone(),
		Population: len(s.population),
		At:         time.Now().UTC(),
	}
	s.log.Info(ev.Status(), "run_id", s.runID)
	return ev
}

// Step simulates one day, or in run mode keeps simulating until the last day
// or until Stop is called. It returns false without doing anything if the
// last day has been reached or another step is already in progress.
func (s *Simulation) Step() bool {
	if s.Finished() {
		return false
	}
	if !s.busy.CompareAndSwap(false, true) {
		return false
	}
	return s.stepHeld()
}

// stepHeld runs the day loop with the busy guard already taken and releases
// it when done.
func (s *Simulation) stepHeld() bool {
	advanced := 0
	for {
		report, ok := s.advanceDay()
		if !ok {
			break
		}
		advanced++
		s.reporter.DayCompleted(report)

		if !s.running.Load() || s.Finished() {
			break
		}
	}

	s.running.Store(false)
	s.busy.Store(false)

	// Another step may have taken the last day between the check and the CAS.
	if advanced == 0 {
		return false
	}

	summary := s.Summary()
	s.log.Info("step finished",
		"run_id", summary.RunID,
		"day", summary.Day,
		"max_days", summary.MaxDays,
	)
	s.reporter.RunFinished(summary)
	return true
}

// Run switches on run mode and steps until the last day or Stop.
func (s *Simulation) Run() bool {
	s.running.Store(true)
	return s.Step()
}

// Stop cancels run mode. A step in progress finishes its current day first.
func (s *Simulation) Stop() {
	s.running.Store(false)
}

// advanceDay simulates a single day under the state lock.
func (s *Simulation) advanceDay() (DayReport, bool) {
	p := s.params.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.day >= s.setup.MaxDays {
		return DayReport{}, false
	}

	locations := s.topology.Len()
	s.env.Advance(s.eventRng, p.Rain, p.Roadworks, locations)
	cond := s.env.Conditions()

	congestion := StandardizedCongestion(s.congestion.Average(), len(s.population))
	tally := Aggregate(s.population, locations, cond, congestion, p.Weights)
	avg := s.congestion.Record(tally.Cars, p.CongestionWindow)

	rec := DayRecord{
		Day:           s.day,
		Cars:          tally.Cars,
		Bikes:         tally.Bikes,
		MovingAverage: avg,
		Rain:          cond.Rain,
		Roadworks:     cond.Roadworks,
	}
	s.history.Record(rec)
	s.lastTally = tally
	s.day++

	report := DayReport{
		RunID:      s.runID,
		Day:        s.day,
		Record:     rec,
		Tally:      tally,
		Conditions: cond,
		Population: len(s.population),
	}
	s.log.Debug(report.Status(),
		"rain", cond.Rain,
		"roadworks", cond.Roadworks,
		"moving_average", fmt.Sprintf("%.1f", avg),
	)
	return report, true
}

// SetParams replaces the runtime parameters from the next simulated day on.
func (s *Simulation) SetParams(p Params) {
	s.params.Store(&p)
}

// Params returns the current runtime parameters.
func (s *Simulation) Params() Params {
	return *s.params.Load()
}

// SetRainAuto switches automatic weather generation on or off.
func (s *Simulation) SetRainAuto(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Weather.Auto = on
}

// SetRoadworksAuto switches automatic roadworks generation on or off.
func (s *Simulation) SetRoadworksAuto(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Roadworks.Auto = on
}

// SetRain sets today's weather by hand.
func (s *Simulation) SetRain(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Weather.Set(active, environment.NoLocation, s.eventRng, s.topology.Len())
}

// SetRoadworks sets roadworks by hand at the given location. A negative
// location places them at random.
func (s *Simulation) SetRoadworks(active bool, location int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if active && location >= s.topology.Len() {
		return fmt.Errorf("roadworks location %d out of range [0, %d)", location, s.topology.Len())
	}
	s.env.Roadworks.Set(active, location, s.eventRng, s.topology.Len())
	return nil
}

// Finished reports whether the last day has been simulated.
func (s *Simulation) Finished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.day >= s.setup.MaxDays
}

// Busy reports whether a step is in progress.
func (s *Simulation) Busy() bool {
	return s.busy.Load()
}

// Status is a point-in-time view of the simulation.
type Status struct {
	RunID         uuid.UUID         `json:"run_id"`
	Day           int               `json:"day"`
	MaxDays       int               `json:"max_days"`
	Population    int               `json:"population"`
	Locations     int               `json:"locations"`
	MovingAverage float64           `json:"moving_average"`
	Environment   environment.State `json:"environment"`
	Running       bool              `json:"running"`
	Busy          bool              `json:"busy"`
}

// Status returns the current status.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		RunID:         s.runID,
		Day:           s.day,
		MaxDays:       s.setup.MaxDays,
		Population:    len(s.population),
		Locations:     s.topology.Len(),
		MovingAverage: s.congestion.Average(),
		Environment:   s.env,
		Running:       s.running.Load(),
		Busy:          s.busy.Load(),
	}
}

// Summary returns the run summary with a copy of the full history.
func (s *Simulation) Summary() RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return RunSummary{
		RunID:   s.runID,
		Day:     s.day,
		MaxDays: s.setup.MaxDays,
		History: s.history.Clone(),
	}
}

// History returns a copy of the history.
func (s *Simulation) History() History {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Clone()
}

// LastTally returns the most recent day's aggregate, including the per-location
// ideal car counts. Before the first step it is all zeroes.
func (s *Simulation) LastTally() Tally {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.lastTally
	t.IdealCarsByLoc = append([]float64(nil), t.IdealCarsByLoc...)
	return t
}

// Population returns a copy of the agents.
func (s *Simulation) Population() agents.Population {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(agents.Population(nil), s.population...)
}

// Topology returns the road layout.
func (s *Simulation) Topology() world.Topology {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return world.Topology{Locations: append([]world.Location(nil), s.topology.Locations...)}
}

// Setup returns the setup of the current population.
func (s *Simulation) Setup() Setup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.setup.clone()
}
