package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-core/internal/events"
	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/logger"
)

func init() { logger.Discard() }

type label string

func (l label) Label() string { return string(l) }

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = label(fmt.Sprintf("item-%d", i))
	}
	return out
}

type recordingBroadcaster struct {
	mu       sync.Mutex
	progress []events.ProgressMessage
	statuses []bool
	logs     []string
	refresh  int
}

func (b *recordingBroadcaster) Log(level, message string) {
	b.mu.Lock()
	b.logs = append(b.logs, level+": "+message)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) Status(_ string, running bool) {
	b.mu.Lock()
	b.statuses = append(b.statuses, running)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) Progress(p events.ProgressMessage) {
	b.mu.Lock()
	b.progress = append(b.progress, p)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) Refresh() {
	b.mu.Lock()
	b.refresh++
	b.mu.Unlock()
}

func (b *recordingBroadcaster) snapshot() []events.ProgressMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.ProgressMessage(nil), b.progress...)
}

func waitDone(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))
}

func TestSevenCloseItemsProgress(t *testing.T) {
	b := &recordingBroadcaster{}
	o := New(b)

	worker := func(_ context.Context, it Item) error {
		if it.Label() == "item-3" || it.Label() == "item-5" {
			return errors.New("exchange rejected")
		}
		return nil
	}
	_, err := o.Start(Spec{Name: "close", Items: items(7), Worker: worker, Concurrency: 10})
	require.NoError(t, err)
	waitDone(t, o)

	msgs := b.snapshot()
	require.NotEmpty(t, msgs)

	initial, final := msgs[0], msgs[len(msgs)-1]
	assert.Equal(t, 0, initial.SuccessCount+initial.FailedCount)
	assert.False(t, initial.IsFinal)
	assert.True(t, final.IsFinal)
	assert.Equal(t, 7, final.SuccessCount+final.FailedCount)
	assert.Equal(t, 5, final.SuccessCount)
	assert.Equal(t, 2, final.FailedCount)

	perItem := msgs[1 : len(msgs)-1]
	assert.Len(t, perItem, 7)
	for _, m := range perItem {
		assert.False(t, m.IsFinal)
	}

	b.mu.Lock()
	assert.Equal(t, []bool{true, false}, b.statuses)
	assert.Equal(t, 1, b.refresh)
	b.mu.Unlock()
	assert.False(t, o.Running())
}

func TestSingleFlight(t *testing.T) {
	o := New(&recordingBroadcaster{})
	release := make(chan struct{})
	worker := func(ctx context.Context, _ Item) error {
		<-release
		return nil
	}

	_, err := o.Start(Spec{Name: "open", Items: items(2), Worker: worker, Concurrency: 2})
	require.NoError(t, err)

	_, err = o.Start(Spec{Name: "second", Items: items(1), Worker: worker, Concurrency: 1})
	assert.ErrorIs(t, err, ErrBatchRunning)
	assert.True(t, o.Status().IsRunning)

	close(release)
	waitDone(t, o)

	_, err = o.Start(Spec{Name: "third", Items: items(1), Worker: func(context.Context, Item) error { return nil }, Concurrency: 1})
	require.NoError(t, err)
	waitDone(t, o)
}

func TestConcurrencyBound(t *testing.T) {
	o := New(&recordingBroadcaster{})
	var inFlight, peak int32
	worker := func(context.Context, Item) error {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	_, err := o.Start(Spec{Name: "open", Items: items(30), Worker: worker, Concurrency: 4})
	require.NoError(t, err)
	waitDone(t, o)

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(0))
}

func TestStopInterruptsWithoutFailures(t *testing.T) {
	b := &recordingBroadcaster{}
	o := New(b)
	started := make(chan struct{}, 10)
	worker := func(ctx context.Context, _ Item) error {
		started <- struct{}{}
		<-ctx.Done()
		return tradeerr.Wrap(tradeerr.Interrupted, "poll order", "BTCUSDT", ctx.Err())
	}

	_, err := o.Start(Spec{Name: "open", Items: items(6), Worker: worker, Concurrency: 2})
	require.NoError(t, err)
	<-started
	<-started
	assert.True(t, o.Stop())
	waitDone(t, o)

	msgs := b.snapshot()
	final := msgs[len(msgs)-1]
	assert.True(t, final.IsFinal)
	assert.Equal(t, 0, final.FailedCount)
	assert.Equal(t, 0, final.SuccessCount)
	assert.False(t, o.Stop(), "stop with no batch running")
}

func TestWorkerPanicCountsAsFailure(t *testing.T) {
	b := &recordingBroadcaster{}
	o := New(b)
	_, err := o.Start(Spec{Name: "sltp", Items: items(2), Concurrency: 2, Worker: func(_ context.Context, it Item) error {
		if it.Label() == "item-0" {
			panic("nil book")
		}
		return nil
	}})
	require.NoError(t, err)
	waitDone(t, o)

	msgs := b.snapshot()
	final := msgs[len(msgs)-1]
	assert.Equal(t, 1, final.FailedCount)
	assert.Equal(t, 1, final.SuccessCount)
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  int
	items    map[Outcome]int
	finished *Progress
}

func (r *fakeRecorder) BatchStarted(Batch) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
}

func (r *fakeRecorder) ItemFinished(_ string, _ string, outcome Outcome, _ error) {
	r.mu.Lock()
	if r.items == nil {
		r.items = map[Outcome]int{}
	}
	r.items[outcome]++
	r.mu.Unlock()
}

func (r *fakeRecorder) BatchFinished(_ Batch, p Progress) {
	r.mu.Lock()
	r.finished = &p
	r.mu.Unlock()
}

func TestRecorderSeesEveryItem(t *testing.T) {
	rec := &fakeRecorder{}
	o := New(&recordingBroadcaster{}, WithRecorder(rec))
	_, err := o.Start(Spec{Name: "rebalance", Items: items(3), Concurrency: 1, Worker: func(_ context.Context, it Item) error {
		if it.Label() == "item-1" {
			return tradeerr.Validationf("quantity below minimum")
		}
		return nil
	}})
	require.NoError(t, err)
	waitDone(t, o)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.started)
	assert.Equal(t, 2, rec.items[OutcomeSuccess])
	assert.Equal(t, 1, rec.items[OutcomeFailed])
	require.NotNil(t, rec.finished)
	assert.True(t, rec.finished.IsFinal)
}

func TestEmptyBatchFinishes(t *testing.T) {
	b := &recordingBroadcaster{}
	o := New(b)
	_, err := o.Start(Spec{Name: "noop", Worker: func(context.Context, Item) error { return nil }, Concurrency: 3})
	require.NoError(t, err)
	waitDone(t, o)
	msgs := b.snapshot()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsFinal)
}

func TestAfterRunsBeforeFinalProgress(t *testing.T) {
	b := &recordingBroadcaster{}
	o := New(b)
	var progressAtAfter int
	_, err := o.Start(Spec{
		Name:        "sltp",
		Items:       items(3),
		Concurrency: 3,
		Worker:      func(context.Context, Item) error { return nil },
		After: func(context.Context) {
			progressAtAfter = len(b.snapshot())
		},
	})
	require.NoError(t, err)
	waitDone(t, o)

	msgs := b.snapshot()
	assert.Equal(t, 4, progressAtAfter, "initial plus one per item")
	assert.Len(t, msgs, 5)
}

func TestAfterSkippedWhenStopped(t *testing.T) {
	o := New(&recordingBroadcaster{})
	started := make(chan struct{})
	var ran atomic.Bool
	_, err := o.Start(Spec{
		Name:        "sltp",
		Items:       items(1),
		Concurrency: 1,
		Worker: func(ctx context.Context, _ Item) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
		After: func(context.Context) { ran.Store(true) },
	})
	require.NoError(t, err)
	<-started
	o.Stop()
	waitDone(t, o)
	assert.False(t, ran.Load())
}
