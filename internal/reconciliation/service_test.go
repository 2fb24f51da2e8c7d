package reconciliation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-core/pkg/logger"
)

func init() { logger.Discard() }

type fakeSweeper struct {
	calls     int32
	leverage  int
	cancelled int
	err       error
}

func (f *fakeSweeper) SweepOrphans(_ context.Context, leverage int) (int, int, error) {
	atomic.AddInt32(&f.calls, 1)
	f.leverage = leverage
	return 3, f.cancelled, f.err
}

type running bool

func (r running) Running() bool { return bool(r) }

func TestReconcileReportsSweep(t *testing.T) {
	sw := &fakeSweeper{cancelled: 2}
	s := NewService(sw, running(false), func() int { return 20 }, time.Minute)

	_, ok := s.LastReport()
	assert.False(t, ok)

	r := s.Reconcile(context.Background())
	assert.Equal(t, 3, r.Checked)
	assert.Equal(t, 2, r.Cancelled)
	assert.Empty(t, r.Errors)
	assert.Equal(t, 20, sw.leverage)

	last, ok := s.LastReport()
	require.True(t, ok)
	assert.Equal(t, r, last)
}

func TestReconcileSkipsWhileBatchRunning(t *testing.T) {
	sw := &fakeSweeper{}
	s := NewService(sw, running(true), nil, time.Minute)

	r := s.Reconcile(context.Background())
	assert.True(t, r.Skipped)
	assert.Zero(t, atomic.LoadInt32(&sw.calls))
}

func TestReconcileRecordsErrors(t *testing.T) {
	sw := &fakeSweeper{err: errors.New("boom")}
	s := NewService(sw, running(false), nil, time.Minute)

	r := s.Reconcile(context.Background())
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestStartRunsOnInterval(t *testing.T) {
	sw := &fakeSweeper{}
	s := NewService(sw, running(false), nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sw.calls) >= 2 }, time.Second, time.Millisecond)
}

func TestZeroIntervalDisables(t *testing.T) {
	sw := &fakeSweeper{}
	s := NewService(sw, running(false), nil, 0)
	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&sw.calls))
}
