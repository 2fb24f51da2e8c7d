// Package reconciliation periodically removes protective orders that no
// longer guard a position.
package reconciliation

import (
	"context"
	"sync"
	"time"

	"hedge-core/pkg/logger"
)

var log = logger.WithComponent("reconciliation")

// Sweeper cancels orphaned protective orders.
type Sweeper interface {
	SweepOrphans(ctx context.Context, leverage int) (checked, cancelled int, err error)
}

// BatchState reports whether a batch is running.
type BatchState interface {
	Running() bool
}

// Report is the result of one pass.
type Report struct {
	Timestamp time.Time     `json:"timestamp"`
	Checked   int           `json:"checked"`
	Cancelled int           `json:"cancelled"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped"`
}

// Service runs the sweep on a fixed interval.
type Service struct {
	sweeper  Sweeper
	batches  BatchState
	leverage func() int
	interval time.Duration

	mu   sync.Mutex
	last *Report
}

// NewService creates the loop. A zero interval disables Start.
func NewService(sweeper Sweeper, batches BatchState, leverage func() int, interval time.Duration) *Service {
	return &Service{sweeper: sweeper, batches: batches, leverage: leverage, interval: interval}
}

// Start begins periodic reconciliation until ctx is done.
func (s *Service) Start(ctx context.Context) {
	if s.interval <= 0 {
		log.Info("reconciliation disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Reconcile(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Infof("✓ Reconciliation service started (interval: %v)", s.interval)
}

// Reconcile performs one pass. It does nothing while a batch is running so
// the sweep never races an open or close flow.
func (s *Service) Reconcile(ctx context.Context) Report {
	start := time.Now()
	report := Report{Timestamp: start}

	if s.batches != nil && s.batches.Running() {
		report.Skipped = true
		log.Debug("batch running, reconciliation skipped")
		s.store(report)
		return report
	}

	leverage := 0
	if s.leverage != nil {
		leverage = s.leverage()
	}
	checked, cancelled, err := s.sweeper.SweepOrphans(ctx, leverage)
	report.Checked = checked
	report.Cancelled = cancelled
	report.Duration = time.Since(start)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		log.Errorf("❌ Reconciliation error: %v", err)
	} else if cancelled > 0 {
		log.Warnf("⚠️ Reconciliation cancelled %d orphan protective orders", cancelled)
	} else {
		log.Debugf("reconciliation OK, %d positions checked", checked)
	}

	s.store(report)
	return report
}

// LastReport returns the most recent pass, if any.
func (s *Service) LastReport() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

func (s *Service) store(r Report) {
	s.mu.Lock()
	s.last = &r
	s.mu.Unlock()
}
