package main

import (
	"fmt"
	"io"

	"github.com/talgya/commutersim/internal/engine"
)

// consoleReporter prints one status line per reset and per simulated day.
type consoleReporter struct {
	out io.Writer
}

func (c consoleReporter) SimulationReset(ev engine.ResetEvent) {
	fmt.Fprintln(c.out, ev.Status())
}

func (c consoleReporter) DayCompleted(d engine.DayReport) {
	fmt.Fprintln(c.out, d.Status())
}

func (c consoleReporter) RunFinished(engine.RunSummary) {}
