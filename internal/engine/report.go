package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/commutersim/internal/environment"
)

// ResetEvent is published whenever the simulation returns to day 0.
type ResetEvent struct {
	RunID      uuid.UUID `json:"run_id"`
	Setup      Setup     `json:"setup"`
	Population int       `json:"population"`
	At         time.Time `json:"at"`
}

// Status returns the console status line for a reset.
func (e ResetEvent) Status() string {
	return StatusLine(0, "[Simulator Reset]")
}

// DayReport is published after each simulated day.
type DayReport struct {
	RunID      uuid.UUID              `json:"run_id"`
	Day        int                    `json:"day"` // Day counter after the step, so day 1 is the first simulated day
	Record     DayRecord              `json:"record"`
	Tally      Tally                  `json:"tally"`
	Conditions environment.Conditions `json:"conditions"`
	Population int                    `json:"population"`
}

// Status returns the console status line for the day.
func (r DayReport) Status() string {
	var b strings.Builder
	b.WriteString("Cars by location = {")
	for _, n := range r.Tally.CarsByLocation() {
		fmt.Fprintf(&b, "%d ", n)
	}
	fmt.Fprintf(&b, "}, Total cars = %d, Total bikes = %d", r.Tally.Cars, r.Tally.Bikes)
	return StatusLine(r.Day, b.String())
}

// RunSummary is published when a step (single or run mode) finishes.
type RunSummary struct {
	RunID   uuid.UUID `json:"run_id"`
	Day     int       `json:"day"`
	MaxDays int       `json:"max_days"`
	History History   `json:"history"`
}

// StatusLine formats a status message for the given day.
func StatusLine(day int, message string) string {
	return fmt.Sprintf("Day %d: %s", day, message)
}

// Reporter consumes simulation output. Calls are made from the goroutine
// running the simulation, outside its state lock, so a Reporter may read the
// simulation but must not block for long.
type Reporter interface {
	SimulationReset(ResetEvent)
	DayCompleted(DayReport)
	RunFinished(RunSummary)
}

// Reporters fans each call out to every reporter in order.
type Reporters []Reporter

func (rs Reporters) SimulationReset(e ResetEvent) {
	for _, r := range rs {
		r.SimulationReset(e)
	}
}

func (rs Reporters) DayCompleted(d DayReport) {
	for _, r := range rs {
		r.DayCompleted(d)
	}
}

func (rs Reporters) RunFinished(s RunSummary) {
	for _, r := range rs {
		r.RunFinished(s)
	}
}

// Hooks adapts plain callbacks to a Reporter. Nil callbacks are skipped.
type Hooks struct {
	OnReset  func(ResetEvent)
	OnDay    func(DayReport)
	OnFinish func(RunSummary)
}

func (h Hooks) SimulationReset(e ResetEvent) {
	if h.OnReset != nil {
		h.OnReset(e)
	}
}

func (h Hooks) DayCompleted(d DayReport) {
	if h.OnDay != nil {
		h.OnDay(d)
	}
}

func (h Hooks) RunFinished(s RunSummary) {
	if h.OnFinish != nil {
		h.OnFinish(s)
	}
}
