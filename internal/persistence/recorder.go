package persistence

import (
	"time"

	"hedge-core/internal/orchestrator"
	"hedge-core/pkg/db"
)

// Recorder writes batch history through a BatchWriter. It satisfies
// orchestrator.Recorder and never blocks the caller on I/O.
type Recorder struct {
	w   *BatchWriter
	now func() time.Time
}

var _ orchestrator.Recorder = (*Recorder)(nil)

// NewRecorder wraps w.
func NewRecorder(w *BatchWriter) *Recorder {
	return &Recorder{w: w, now: time.Now}
}

func (r *Recorder) BatchStarted(b orchestrator.Batch) {
	r.w.WriteQuery(db.InsertBatchSQL,
		b.ID, b.Name, b.Kind, b.Total, b.Concurrency, db.StatusRunning, b.StartedAt.UTC())
}

func (r *Recorder) ItemFinished(batchID, label string, outcome orchestrator.Outcome, err error) {
	var msg any
	if err != nil {
		msg = err.Error()
	}
	r.w.WriteQuery(db.InsertBatchItemSQL, batchID, label, string(outcome), msg, r.now().UTC())
}

func (r *Recorder) BatchFinished(b orchestrator.Batch, p orchestrator.Progress) {
	status := db.StatusFinished
	if p.Interrupted > 0 || p.Skipped > 0 {
		status = db.StatusStopped
	}
	r.w.WriteQuery(db.FinishBatchSQL,
		p.SuccessCount, p.FailedCount, p.Interrupted, p.Skipped, status, r.now().UTC(), b.ID)
}
