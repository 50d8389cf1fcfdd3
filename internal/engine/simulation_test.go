package engine

import (
	"io"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededSetup(residents int, carProb float64, maxDays int, seed int64) Setup {
	return Setup{
		ResidentsPerLocation: residents,
		CarProbability:       carProb,
		MaxDays:              maxDays,
		Seed:                 &seed,
	}
}

func newTestSim(t *testing.T, setup Setup, reporter Reporter) *Simulation {
	t.Helper()
	return NewSimulation(setup, DefaultParams(), reporter, quietLogger())
}

func TestPopulationSizeInvariant(t *testing.T) {
	for _, r := range []int{1, 7, 50, 200} {
		sim := newTestSim(t, seededSetup(r, 0.8, 10, 1), nil)
		if got := len(sim.Population()); got != 10*r {
			t.Errorf("residents %d: expected population %d, got %d", r, 10*r, got)
		}
		if got := sim.Status().Population; got != 10*r {
			t.Errorf("residents %d: status population %d", r, got)
		}
	}
}

func TestEndToEndFirstStep(t *testing.T) {
	sim := newTestSim(t, seededSetup(50, 0.8, 50, 42), nil)

	if day := sim.Status().Day; day != 0 {
		t.Fatalf("expected day 0 before stepping, got %d", day)
	}
	if !sim.Step() {
		t.Fatal("expected first step to run")
	}

	st := sim.Status()
	if st.Day != 1 {
		t.Errorf("expected day 1, got %d", st.Day)
	}

	h := sim.History()
	if h.Days != 1 {
		t.Fatalf("expected 1 recorded day, got %d", h.Days)
	}
	cars, bikes := h.CarTotals[0], h.BikeTotals[0]
	if cars <= 0 || cars >= 500 {
		t.Errorf("expected car total strictly between 0 and 500, got %d", cars)
	}
	if bikes != 500-cars {
		t.Errorf("expected bikes = 500 - cars = %d, got %d", 500-cars, bikes)
	}
	if h.Rain[0] || h.Roadworks[0] {
		t.Error("expected no weather or roadworks with auto mode off")
	}
	if h.MovingAverage[0] != float64(cars) {
		t.Errorf("expected first moving average to equal the first total %d, got %.2f", cars, h.MovingAverage[0])
	}

	ideal := sim.LastTally().IdealCarsByLoc
	if len(ideal) != 10 {
		t.Fatalf("expected 10 per-location values, got %d", len(ideal))
	}
	sum := 0.0
	for _, v := range ideal {
		sum += v
	}
	if int(math.Round(sum)) != cars {
		t.Errorf("expected per-location ideal cars to sum to %d, got %.2f", cars, sum)
	}
}

func TestTerminalIdempotence(t *testing.T) {
	sim := newTestSim(t, seededSetup(10, 0.5, 3, 5), nil)

	for i := 0; i < 3; i++ {
		if !sim.Step() {
			t.Fatalf("step %d: expected to run", i)
		}
	}
	if !sim.Finished() {
		t.Fatal("expected simulation to be finished")
	}

	before := sim.History()
	for i := 0; i < 5; i++ {
		if sim.Step() {
			t.Fatal("expected step past the last day to be a no-op")
		}
		if sim.Run() {
			t.Fatal("expected run past the last day to be a no-op")
		}
	}

	if got := sim.Status().Day; got != 3 {
		t.Errorf("expected day to stay at 3, got %d", got)
	}
	if after := sim.History(); !reflect.DeepEqual(before, after) {
		t.Error("expected history to be unchanged after terminal steps")
	}
}

func TestSetupReturnsIndependentCopy(t *testing.T) {
	setup := seededSetup(5, 0.5, 10, 21)
	sim := newTestSim(t, setup, nil)

	*setup.Seed = 1
	got := sim.Setup()
	if *got.Seed != 21 {
		t.Fatalf("expected seed 21 after caller changed its setup, got %d", *got.Seed)
	}

	*got.Seed = 2
	if again := sim.Setup(); *again.Seed != 21 {
		t.Errorf("expected seed 21 after changing a returned copy, got %d", *again.Seed)
	}
}

func TestGuardRejectsReentrantStep(t *testing.T) {
	var sim *Simulation
	var reentered atomic.Bool
	var days atomic.Int32

	reporter := Hooks{
		OnDay: func(DayReport) {
			days.Add(1)
			if sim.Step() || sim.Run() {
				reentered.Store(true)
			}
		},
	}
	sim = newTestSim(t, seededSetup(5, 0.5, 10, 9), reporter)

	if !sim.Step() {
		t.Fatal("expected outer step to run")
	}
	if reentered.Load() {
		t.Error("expected re-entrant step to be rejected")
	}
	if days.Load() != 1 {
		t.Errorf("expected exactly 1 day reported, got %d", days.Load())
	}
	if got := sim.History().Days; got != 1 {
		t.Errorf("expected exactly 1 history entry, got %d", got)
	}
	if sim.Busy() {
		t.Error("expected guard released after step")
	}
}

func TestStepAtLastDayAfterGuardIsSilent(t *testing.T) {
	var finished atomic.Int32
	sim := newTestSim(t, seededSetup(5, 0.5, 2, 4), Hooks{
		OnFinish: func(RunSummary) { finished.Add(1) },
	})
	sim.Run()
	if finished.Load() != 1 {
		t.Fatalf("expected 1 finish notification, got %d", finished.Load())
	}

	// A caller that passed the last-day check just before another step took
	// the final day acquires the guard at the terminal day.
	sim.busy.Store(true)
	if sim.stepHeld() {
		t.Error("expected step at the last day to report no progress")
	}
	if finished.Load() != 1 {
		t.Errorf("expected no further finish notification, got %d", finished.Load())
	}
	if sim.Busy() {
		t.Error("expected guard released")
	}
	if got := sim.History().Days; got != 2 {
		t.Errorf("expected history unchanged at 2 days, got %d", got)
	}
}

func TestGuardConcurrentSteps(t *testing.T) {
	var reported atomic.Int32
	sim := newTestSim(t, seededSetup(20, 0.6, 200, 3), Hooks{
		OnDay: func(DayReport) { reported.Add(1) },
	})

	var wg sync.WaitGroup
	var stepped atomic.Int32
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if sim.Step() {
					stepped.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	day := sim.Status().Day
	if int32(day) != stepped.Load() {
		t.Errorf("expected one day per successful step: day %d, steps %d", day, stepped.Load())
	}
	if sim.History().Days != day {
		t.Errorf("expected %d history entries, got %d", day, sim.History().Days)
	}
	if reported.Load() != int32(day) {
		t.Errorf("expected %d day reports, got %d", day, reported.Load())
	}
}

func TestRunModeCompletes(t *testing.T) {
	var finished []RunSummary
	sim := newTestSim(t, seededSetup(10, 0.8, 25, 2), Hooks{
		OnFinish: func(s RunSummary) { finished = append(finished, s) },
	})

	if !sim.Run() {
		t.Fatal("expected run to execute")
	}

	st := sim.Status()
	if st.Day != 25 {
		t.Errorf("expected run mode to reach day 25, got %d", st.Day)
	}
	if st.Running {
		t.Error("expected run flag cleared after the run")
	}
	if len(finished) != 1 {
		t.Fatalf("expected one run summary, got %d", len(finished))
	}
	if finished[0].History.Days != 25 || finished[0].Day != 25 {
		t.Errorf("unexpected summary: day %d, history days %d", finished[0].Day, finished[0].History.Days)
	}
}

func TestStopTakesEffectAtDayBoundary(t *testing.T) {
	var sim *Simulation
	sim = newTestSim(t, seededSetup(10, 0.8, 50, 2), Hooks{
		OnDay: func(d DayReport) {
			if d.Day == 5 {
				sim.Stop()
			}
		},
	})

	sim.Run()

	if got := sim.Status().Day; got != 5 {
		t.Errorf("expected run to stop at day 5, got %d", got)
	}
}

func TestResetDeterminism(t *testing.T) {
	sim := newTestSim(t, seededSetup(50, 0.8, 20, 4), nil)
	sim.SetRainAuto(true)
	for i := 0; i < 7; i++ {
		sim.Step()
	}

	sim.Reset()
	first, firstHist := sim.Status(), sim.History()
	sim.Reset()
	second, secondHist := sim.Status(), sim.History()

	for _, st := range []Status{first, second} {
		if st.Day != 0 {
			t.Errorf("expected day 0, got %d", st.Day)
		}
		if math.Abs(st.MovingAverage-0.8*500) > 1e-9 {
			t.Errorf("expected moving average 400, got %.2f", st.MovingAverage)
		}
		if st.Environment.Weather.Active || st.Environment.Roadworks.Active {
			t.Error("expected both tracks inactive after reset")
		}
	}
	if firstHist.Days != 0 {
		t.Errorf("expected empty history, got %d days", firstHist.Days)
	}
	if !reflect.DeepEqual(firstHist, secondHist) {
		t.Error("expected identical histories after consecutive resets")
	}
	first.RunID = second.RunID
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical state after consecutive resets")
	}
}

func TestSeededRunsReproduce(t *testing.T) {
	run := func(sim *Simulation) History {
		sim.SetRainAuto(true)
		sim.SetRoadworksAuto(true)
		sim.Run()
		return sim.History()
	}

	a := newTestSim(t, seededSetup(30, 0.7, 40, 99), nil)
	b := newTestSim(t, seededSetup(30, 0.7, 40, 99), nil)
	ha, hb := run(a), run(b)

	if !reflect.DeepEqual(ha, hb) {
		t.Error("expected identically seeded simulations to produce identical histories")
	}

	// A reset with a fixed seed replays the same environment.
	a.Reset()
	if again := run(a); !reflect.DeepEqual(ha, again) {
		t.Error("expected a seeded reset to replay the same history")
	}
}

func TestParamsSnapshotAppliesNextDay(t *testing.T) {
	sim := newTestSim(t, seededSetup(50, 0.8, 10, 1), nil)

	// All weights zero: every agent sits at 0.5.
	p := DefaultParams()
	p.Weights = Weights{}
	sim.SetParams(p)
	sim.Step()

	h := sim.History()
	if h.CarTotals[0] != 250 || h.BikeTotals[0] != 250 {
		t.Errorf("expected a 250/250 split with zero weights, got %d/%d", h.CarTotals[0], h.BikeTotals[0])
	}

	// Saturate the bike end: the asymmetric clamp lets the estimate go negative.
	p.Weights = Weights{Expense: -100, Weather: -100, Roadworks: -100}
	sim.SetParams(p)
	sim.SetRain(true)
	if err := sim.SetRoadworks(true, 0); err != nil {
		t.Fatal(err)
	}
	sim.Step()

	h = sim.History()
	if h.CarTotals[1] != -500 || h.BikeTotals[1] != 1000 {
		t.Errorf("expected -500 cars and 1000 bikes at the clamp floor, got %d/%d", h.CarTotals[1], h.BikeTotals[1])
	}
	if got := sim.Params().Weights.Expense; got != -100 {
		t.Errorf("expected params to report the new snapshot, got expense %.0f", got)
	}
}

func TestManualOverrides(t *testing.T) {
	sim := newTestSim(t, seededSetup(10, 0.5, 10, 1), nil)

	sim.SetRain(true)
	if err := sim.SetRoadworks(true, 3); err != nil {
		t.Fatalf("SetRoadworks failed: %v", err)
	}
	sim.Step()

	h := sim.History()
	if !h.Rain[0] || !h.Roadworks[0] {
		t.Error("expected manual rain and roadworks to hold through the step")
	}
	if loc := sim.Status().Environment.Roadworks.Location; loc != 3 {
		t.Errorf("expected roadworks at 3, got %d", loc)
	}

	if err := sim.SetRoadworks(true, 10); err == nil {
		t.Error("expected error for a location off the road")
	}

	sim.SetRain(false)
	if err := sim.SetRoadworks(false, 0); err != nil {
		t.Fatalf("SetRoadworks(false) failed: %v", err)
	}
	sim.Step()
	h = sim.History()
	if h.Rain[1] || h.Roadworks[1] {
		t.Error("expected manual overrides switched off")
	}
}

func TestRoadworksRaiseBikeShareDownstream(t *testing.T) {
	base := newTestSim(t, seededSetup(50, 0.8, 5, 8), nil)
	base.Step()

	hit := newTestSim(t, seededSetup(50, 0.8, 5, 8), nil)
	if err := hit.SetRoadworks(true, 3); err != nil {
		t.Fatal(err)
	}
	hit.Step()

	b, h := base.LastTally().IdealCarsByLoc, hit.LastTally().IdealCarsByLoc
	for loc := 0; loc < 3; loc++ {
		if math.Abs(b[loc]-h[loc]) > 1e-9 {
			t.Errorf("location %d: expected no change upstream of roadworks", loc)
		}
	}
	for loc := 3; loc < 10; loc++ {
		if h[loc] >= b[loc] {
			t.Errorf("location %d: expected fewer cars with roadworks (%.2f >= %.2f)", loc, h[loc], b[loc])
		}
	}
}

func TestInitializeReplacesPopulation(t *testing.T) {
	var resets atomic.Int32
	sim := newTestSim(t, seededSetup(10, 0.5, 10, 1), Hooks{
		OnReset: func(ResetEvent) { resets.Add(1) },
	})
	sim.Step()
	firstRun := sim.Status().RunID

	sim.Initialize(seededSetup(20, 0.3, 30, 2))

	st := sim.Status()
	if st.Population != 200 || st.MaxDays != 30 || st.Day != 0 {
		t.Errorf("unexpected status after re-initialization: %+v", st)
	}
	if st.RunID == firstRun {
		t.Error("expected a new run ID after re-initialization")
	}
	if n := len(sim.History().CarTotals); n != 31 {
		t.Errorf("expected history capacity 31, got %d", n)
	}
	if resets.Load() != 2 {
		t.Errorf("expected 2 reset events, got %d", resets.Load())
	}
}

func TestDayReportStatusLine(t *testing.T) {
	r := DayReport{
		Day: 3,
		Tally: Tally{
			Cars:           12,
			Bikes:          8,
			IdealCarsByLoc: []float64{1.2, 4.6, 6.4},
		},
	}
	want := "Day 3: Cars by location = {1 5 6 }, Total cars = 12, Total bikes = 8"
	if got := r.Status(); got != want {
		t.Errorf("Status() = %q, want %q", got, want)
	}
	if got := (ResetEvent{}).Status(); got != "Day 0: [Simulator Reset]" {
		t.Errorf("unexpected reset status %q", got)
	}
}
