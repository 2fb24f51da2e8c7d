// Package orchestrator runs one batch of independent work items at a time
// on a bounded worker pool, broadcasting progress as items resolve.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hedge-core/internal/events"
	"hedge-core/internal/tradeerr"
)

var log = logrus.WithField("component", "orchestrator")

// ErrBatchRunning rejects a batch while another one is active.
var ErrBatchRunning = errors.New("a batch task is already running")

// Item is one unit of work. Label names it in logs and history.
type Item interface {
	Label() string
}

// WorkerFunc executes a single item. Returning an error classified as
// tradeerr.Interrupted marks the item as interrupted rather than failed.
type WorkerFunc func(ctx context.Context, item Item) error

// Broadcaster receives progress and status updates.
type Broadcaster interface {
	Log(level, message string)
	Status(message string, running bool)
	Progress(p events.ProgressMessage)
	Refresh()
}

// Outcome is the resolved state of one item.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeSkipped     Outcome = "skipped"
)

// Recorder persists batch history. All methods must be non-blocking.
type Recorder interface {
	BatchStarted(b Batch)
	ItemFinished(batchID, label string, outcome Outcome, err error)
	BatchFinished(b Batch, p Progress)
}

// Batch identifies a running batch.
type Batch struct {
	ID          string
	Name        string
	Kind        string
	Total       int
	Concurrency int
	StartedAt   time.Time
}

// Progress is the batch accounting. SuccessCount and FailedCount are what
// observers see; Interrupted and Skipped are kept for history.
type Progress struct {
	TaskName     string `json:"task_name"`
	Total        int    `json:"total"`
	SuccessCount int    `json:"success_count"`
	FailedCount  int    `json:"failed_count"`
	Interrupted  int    `json:"interrupted"`
	Skipped      int    `json:"skipped"`
	IsFinal      bool   `json:"is_final"`
}

func (p Progress) message() events.ProgressMessage {
	return events.ProgressMessage{
		TaskName:     p.TaskName,
		Total:        p.Total,
		SuccessCount: p.SuccessCount,
		FailedCount:  p.FailedCount,
		IsFinal:      p.IsFinal,
	}
}

// Status is a snapshot of the orchestrator.
type Status struct {
	IsRunning bool      `json:"is_running"`
	BatchID   string    `json:"batch_id,omitempty"`
	Progress  *Progress `json:"progress,omitempty"`
}

// Orchestrator owns the single-flight running flag, the cancellation
// function and the progress of the active batch, all guarded by mu.
type Orchestrator struct {
	broadcast Broadcaster
	recorder  Recorder

	mu       sync.Mutex
	running  bool
	batch    Batch
	progress Progress
	cancel   context.CancelFunc
	stopped  bool
	done     chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder attaches a batch history recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// New creates an orchestrator that reports to b.
func New(b Broadcaster, opts ...Option) *Orchestrator {
	o := &Orchestrator{broadcast: b}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Spec describes a batch to start.
type Spec struct {
	Name        string
	Kind        string
	Items       []Item
	Worker      WorkerFunc
	Concurrency int
	// After runs once every item resolved, before the final broadcast. It
	// is skipped when the batch was stopped.
	After func(ctx context.Context)
}

// Start launches the batch and returns its id. Only a concurrently running
// batch is rejected; per-item results arrive through the broadcaster.
func (o *Orchestrator) Start(spec Spec) (string, error) {
	if spec.Worker == nil {
		return "", errors.New("orchestrator: nil worker")
	}
	if spec.Concurrency <= 0 {
		spec.Concurrency = 1
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return "", ErrBatchRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.running = true
	o.cancel = cancel
	o.stopped = false
	o.done = make(chan struct{})
	o.batch = Batch{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		Kind:        spec.Kind,
		Total:       len(spec.Items),
		Concurrency: spec.Concurrency,
		StartedAt:   time.Now(),
	}
	o.progress = Progress{TaskName: spec.Name, Total: len(spec.Items)}
	batch, initial, done := o.batch, o.progress, o.done
	o.mu.Unlock()

	log.WithFields(logrus.Fields{"batch": batch.ID, "items": batch.Total, "concurrency": batch.Concurrency}).
		Infof("✓ batch %q started", batch.Name)
	if o.recorder != nil {
		o.recorder.BatchStarted(batch)
	}
	o.broadcast.Status(fmt.Sprintf("task %s running", spec.Name), true)
	o.broadcast.Progress(initial.message())

	go o.run(ctx, batch, spec, done)
	return batch.ID, nil
}

func (o *Orchestrator) run(ctx context.Context, batch Batch, spec Spec, done chan struct{}) {
	sem := make(chan struct{}, spec.Concurrency)
	var wg sync.WaitGroup

	for _, item := range spec.Items {
		wg.Add(1)
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			o.record(batch, item, OutcomeSkipped, nil)
			wg.Done()
			continue
		}
		go func(item Item) {
			defer wg.Done()
			defer func() { <-sem }()
			o.execute(ctx, batch, spec.Worker, item)
		}(item)
	}
	wg.Wait()
	if spec.After != nil && ctx.Err() == nil {
		o.runAfter(ctx, batch, spec.After)
	}
	o.finish(batch, done)
}

func (o *Orchestrator) runAfter(ctx context.Context, batch Batch, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("batch", batch.ID).Errorf("❌ post-batch step panicked: %v", r)
		}
	}()
	fn(ctx)
}

func (o *Orchestrator) execute(ctx context.Context, batch Batch, worker WorkerFunc, item Item) {
	if ctx.Err() != nil {
		o.record(batch, item, OutcomeSkipped, nil)
		return
	}

	err := o.safeCall(ctx, worker, item)
	outcome := OutcomeSuccess
	if err != nil {
		switch tradeerr.KindOf(err) {
		case tradeerr.Interrupted:
			outcome = OutcomeInterrupted
		default:
			outcome = OutcomeFailed
		}
	}
	o.record(batch, item, outcome, err)
}

func (o *Orchestrator) safeCall(ctx context.Context, worker WorkerFunc, item Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = tradeerr.Wrap(tradeerr.Unexpected, "worker panic", item.Label(), fmt.Errorf("%v", r))
		}
	}()
	return worker(ctx, item)
}

// record applies one outcome under the lock and broadcasts the new counters.
// Skipped items are not broadcast.
func (o *Orchestrator) record(batch Batch, item Item, outcome Outcome, err error) {
	o.mu.Lock()
	switch outcome {
	case OutcomeSuccess:
		o.progress.SuccessCount++
	case OutcomeFailed:
		o.progress.FailedCount++
	case OutcomeInterrupted:
		o.progress.Interrupted++
	case OutcomeSkipped:
		o.progress.Skipped++
	}
	snapshot := o.progress
	o.mu.Unlock()

	entry := log.WithFields(logrus.Fields{"batch": batch.ID, "item": item.Label()})
	switch outcome {
	case OutcomeFailed:
		entry.WithField("kind", tradeerr.KindOf(err)).Errorf("❌ %s failed: %v", item.Label(), err)
		o.broadcast.Log(events.LevelError, fmt.Sprintf("%s failed: %v", item.Label(), err))
	case OutcomeInterrupted:
		entry.Warnf("⚠️ %s interrupted", item.Label())
		o.broadcast.Log(events.LevelWarning, fmt.Sprintf("%s interrupted", item.Label()))
	case OutcomeSkipped:
		entry.Debug("skipped after stop")
	default:
		entry.Debug("done")
	}

	if o.recorder != nil {
		o.recorder.ItemFinished(batch.ID, item.Label(), outcome, err)
	}
	if outcome != OutcomeSkipped {
		o.broadcast.Progress(snapshot.message())
	}
}

func (o *Orchestrator) finish(batch Batch, done chan struct{}) {
	o.mu.Lock()
	o.progress.IsFinal = true
	final := o.progress
	stopped := o.stopped
	if o.cancel != nil {
		o.cancel()
	}
	o.running = false
	o.cancel = nil
	o.mu.Unlock()

	o.broadcast.Progress(final.message())

	summary := fmt.Sprintf("task %s finished: %d succeeded, %d failed, %d total",
		batch.Name, final.SuccessCount, final.FailedCount, final.Total)
	if stopped {
		summary = fmt.Sprintf("task %s stopped: %d succeeded, %d failed, %d interrupted, %d skipped, %d total",
			batch.Name, final.SuccessCount, final.FailedCount, final.Interrupted, final.Skipped, final.Total)
	}
	level := events.LevelSuccess
	if final.FailedCount > 0 || stopped {
		level = events.LevelWarning
	}
	o.broadcast.Log(level, summary)
	log.WithFields(logrus.Fields{"batch": batch.ID, "duration": time.Since(batch.StartedAt).Round(time.Millisecond)}).Info(summary)

	if o.recorder != nil {
		o.recorder.BatchFinished(batch, final)
	}
	o.broadcast.Status(fmt.Sprintf("task %s finished", batch.Name), false)
	o.broadcast.Refresh()
	close(done)
}

// Stop requests cooperative cancellation of the running batch. Items not yet
// started are skipped; in-flight items unwind at their next suspension point.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running || o.cancel == nil {
		return false
	}
	o.stopped = true
	o.cancel()
	log.WithField("batch", o.batch.ID).Warn("⚠️ stop requested")
	return true
}

// Status returns the running flag and a copy of the progress.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return Status{}
	}
	p := o.progress
	return Status{IsRunning: true, BatchID: o.batch.ID, Progress: &p}
}

// Running reports whether a batch is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Wait blocks until the current batch, if any, has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
