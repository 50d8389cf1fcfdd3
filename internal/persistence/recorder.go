package persistence

import (
	"log/slog"
	"time"

	"github.com/talgya/commutersim/internal/engine"
)

// MetaLastRun is the run_meta key holding the most recently started run ID.
const MetaLastRun = "last_run_id"

// Recorder stores simulation output as it is produced. Write failures are
// logged and do not interrupt the simulation.
type Recorder struct {
	db  *DB
	log *slog.Logger
}

// NewRecorder creates a Recorder writing to db.
func NewRecorder(db *DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, log: logger}
}

// SimulationReset starts a new stored run.
func (r *Recorder) SimulationReset(ev engine.ResetEvent) {
	if err := r.db.SaveRun(ev); err != nil {
		r.log.Error("failed to save run", "run_id", ev.RunID, "error", err)
		return
	}
	if err := r.db.SaveMeta(MetaLastRun, ev.RunID.String()); err != nil {
		r.log.Warn("failed to save meta", "key", MetaLastRun, "error", err)
	}
}

// DayCompleted appends the day to its run.
func (r *Recorder) DayCompleted(d engine.DayReport) {
	if err := r.db.SaveDay(d.RunID.String(), d.Record); err != nil {
		r.log.Error("failed to save day", "run_id", d.RunID, "day", d.Record.Day, "error", err)
	}
}

// RunFinished checkpoints the full history, replacing any partially written
// days, and stamps the run with the day it stopped at.
func (r *Recorder) RunFinished(s engine.RunSummary) {
	if err := r.db.SaveHistory(s.RunID.String(), s.History); err != nil {
		r.log.Error("failed to save history", "run_id", s.RunID, "error", err)
	}
	if err := r.db.FinishRun(s.RunID.String(), s.Day, time.Now()); err != nil {
		r.log.Error("failed to finish run", "run_id", s.RunID, "error", err)
	}
}
