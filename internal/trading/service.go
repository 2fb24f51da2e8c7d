// Package trading turns user requests into orchestrated batches of work
// items and implements the per-item workers.
package trading

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"hedge-core/internal/events"
	"hedge-core/internal/execution"
	"hedge-core/internal/orchestrator"
	"hedge-core/internal/plan"
	"hedge-core/internal/positions"
	"hedge-core/internal/session"
	"hedge-core/internal/sltp"
	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/config"
	"hedge-core/pkg/exchanges/common"
)

var log = logrus.WithField("component", "trading")

// Batch concurrency per kind. Closes are cheaper than opens.
const (
	OpenConcurrency  = 4
	CloseConcurrency = 10
	SLTPConcurrency  = 10
)

// Broadcaster receives user-facing messages.
type Broadcaster interface {
	Logf(level, format string, args ...any)
	PositionClosed(symbol string, ratio float64)
}

// Config tunes worker pacing.
type Config struct {
	Execution       execution.Config
	RefetchAttempts int
	RefetchDelay    time.Duration
}

// Service runs trading batches on the orchestrator.
type Service struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	hub      Broadcaster
	cfg      Config
}

// NewService wires a trading service.
func NewService(orch *orchestrator.Orchestrator, sessions *session.Manager, hub Broadcaster, cfg Config) *Service {
	if cfg.RefetchAttempts <= 0 {
		cfg.RefetchAttempts = 5
	}
	if cfg.RefetchDelay <= 0 {
		cfg.RefetchDelay = 2 * time.Second
	}
	return &Service{orch: orch, sessions: sessions, hub: hub, cfg: cfg}
}

// StartTrading opens every position of the trade plan built from s.
func (s *Service) StartTrading(settings config.Settings) (string, error) {
	if err := settings.Validate(); err != nil {
		return "", tradeerr.Wrap(tradeerr.Validation, "start trading", "", err)
	}
	plans, err := plan.Calculate(plan.FromSettings(settings))
	if err != nil {
		return "", err
	}
	items := make([]orchestrator.Item, 0, len(plans))
	for _, p := range plans {
		items = append(items, WorkItem{Kind: KindOpen, Coin: p.Coin, Side: p.Side, Value: p.Value})
	}
	return s.orch.Start(orchestrator.Spec{
		Name:        "open positions",
		Kind:        string(KindOpen),
		Items:       items,
		Worker:      s.worker(settings),
		Concurrency: OpenConcurrency,
	})
}

// SyncAllSLTP re-places protective orders on every open position, then
// sweeps protective orders left on symbols without a position.
func (s *Service) SyncAllSLTP(ctx context.Context, settings config.Settings) (string, error) {
	if s.orch.Running() {
		return "", orchestrator.ErrBatchRunning
	}
	var held []positions.Position
	err := s.withSession(ctx, func(t *toolkit) error {
		var err error
		held, err = t.positions.List(ctx, settings.Leverage)
		return err
	})
	if err != nil {
		return "", err
	}

	items := make([]orchestrator.Item, 0, len(held))
	active := make(map[string]bool, len(held))
	for _, p := range held {
		items = append(items, WorkItem{Kind: KindSLTP, Position: p})
		active[p.FullSymbol] = true
	}
	return s.orch.Start(orchestrator.Spec{
		Name:        "sync sl/tp",
		Kind:        string(KindSLTP),
		Items:       items,
		Worker:      s.worker(settings),
		Concurrency: SLTPConcurrency,
		After: func(ctx context.Context) {
			s.sweepOrphans(ctx, active)
		},
	})
}

// ClosePosition closes ratio of one position.
func (s *Service) ClosePosition(settings config.Settings, fullSymbol string, ratio float64) (string, error) {
	return s.CloseMultiple(settings, []string{fullSymbol}, ratio)
}

// CloseMultiple closes ratio of each listed position.
func (s *Service) CloseMultiple(settings config.Settings, fullSymbols []string, ratio float64) (string, error) {
	if err := validRatio(ratio); err != nil {
		return "", err
	}
	items := make([]orchestrator.Item, 0, len(fullSymbols))
	seen := map[string]bool{}
	for _, sym := range fullSymbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		items = append(items, WorkItem{Kind: KindClose, FullSymbol: sym, Ratio: ratio})
	}
	if len(items) == 0 {
		return "", tradeerr.Validationf("no symbols to close")
	}
	return s.startClose(settings, "close positions", items)
}

// CloseBySide closes ratio of every long, short or (with "all") every
// position.
func (s *Service) CloseBySide(ctx context.Context, settings config.Settings, side string, ratio float64) (string, error) {
	if err := validRatio(ratio); err != nil {
		return "", err
	}
	all := strings.EqualFold(strings.TrimSpace(side), "all")
	want, ok := positions.ParseSide(side)
	if !all && !ok {
		return "", tradeerr.Validationf("unknown side %q", side)
	}
	if s.orch.Running() {
		return "", orchestrator.ErrBatchRunning
	}

	var held []positions.Position
	err := s.withSession(ctx, func(t *toolkit) error {
		var err error
		held, err = t.positions.List(ctx, settings.Leverage)
		return err
	})
	if err != nil {
		return "", err
	}
	var items []orchestrator.Item
	for _, p := range held {
		if all || p.Side == want {
			items = append(items, WorkItem{Kind: KindClose, FullSymbol: p.FullSymbol, Ratio: ratio})
		}
	}
	name := "close all positions"
	if !all {
		name = "close " + string(want) + " positions"
	}
	return s.startClose(settings, name, items)
}

func (s *Service) startClose(settings config.Settings, name string, items []orchestrator.Item) (string, error) {
	return s.orch.Start(orchestrator.Spec{
		Name:        name,
		Kind:        string(KindClose),
		Items:       items,
		Worker:      s.worker(settings),
		Concurrency: CloseConcurrency,
	})
}

// ExecutePlan runs a reviewed rebalance plan. Closes are queued ahead of
// opens but items run concurrently.
func (s *Service) ExecutePlan(settings config.Settings, orders []PlanOrder) (string, error) {
	if len(orders) == 0 {
		return "", tradeerr.Validationf("execution plan is empty")
	}
	var closes, opens []orchestrator.Item
	for _, o := range orders {
		side, ok := positions.ParseSide(o.Side)
		if !ok {
			return "", tradeerr.Validationf("unknown side %q for %s", o.Side, o.Symbol)
		}
		coin := strings.ToUpper(strings.TrimSpace(o.Symbol))
		if coin == "" {
			return "", tradeerr.Validationf("plan order without symbol")
		}
		item := WorkItem{Kind: KindRebalance, Coin: coin, Side: side, Action: strings.ToUpper(o.Action)}
		switch item.Action {
		case ActionOpen:
			if o.ValueToTrade <= 0 {
				return "", tradeerr.Validationf("open %s needs a positive value_to_trade", coin)
			}
			item.Value = o.ValueToTrade
			opens = append(opens, item)
		case ActionClose:
			if err := validRatio(o.CloseRatio); err != nil {
				return "", err
			}
			item.Ratio = o.CloseRatio
			closes = append(closes, item)
		default:
			return "", tradeerr.Validationf("unknown action %q for %s", o.Action, coin)
		}
	}
	return s.orch.Start(orchestrator.Spec{
		Name:        "execute rebalance",
		Kind:        string(KindRebalance),
		Items:       append(closes, opens...),
		Worker:      s.worker(settings),
		Concurrency: OpenConcurrency,
	})
}

// Stop cancels the running batch.
func (s *Service) Stop() bool {
	return s.orch.Stop()
}

// Status reports the orchestrator state.
func (s *Service) Status() orchestrator.Status {
	return s.orch.Status()
}

// Positions lists valued positions through a short-lived session.
func (s *Service) Positions(ctx context.Context, leverage int) ([]positions.Position, error) {
	var out []positions.Position
	err := s.withSession(ctx, func(t *toolkit) error {
		var err error
		out, err = t.positions.List(ctx, leverage)
		return err
	})
	return out, err
}

func (s *Service) sweepOrphans(ctx context.Context, active map[string]bool) {
	err := s.withSession(ctx, func(t *toolkit) error {
		n, err := t.sltp.CleanupOrphans(ctx, active)
		if err == nil && n > 0 {
			s.hub.Logf(events.LevelInfo, "cancelled %d orphan SL/TP orders", n)
		}
		return err
	})
	if err != nil {
		log.Warnf("⚠️ orphan sweep failed: %v", err)
	}
}

func validRatio(r float64) error {
	if r <= 0 || r > 1 {
		return tradeerr.Validationf("ratio must be in (0,1], got %v", r)
	}
	return nil
}

// toolkit bundles the components bound to one leased session.
type toolkit struct {
	ex        common.Exchange
	engine    *execution.Engine
	positions *positions.Service
	sltp      *sltp.Synchronizer
}

// withSession leases a session for fn and releases it with fn's error.
func (s *Service) withSession(ctx context.Context, fn func(t *toolkit) error) (err error) {
	lease, err := s.sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { lease.Release(err) }()

	ex := lease.Exchange()
	pos := positions.NewService(ex)
	return fn(&toolkit{
		ex:        ex,
		engine:    execution.New(ex, s.cfg.Execution),
		positions: pos,
		sltp:      sltp.New(ex, pos, s.hub),
	})
}

// SweepOrphans cancels protective orders on symbols without a position. It
// returns how many positions were checked and how many orders it cancelled.
func (s *Service) SweepOrphans(ctx context.Context, leverage int) (checked, cancelled int, err error) {
	err = s.withSession(ctx, func(t *toolkit) error {
		held, err := t.positions.List(ctx, leverage)
		if err != nil {
			return err
		}
		checked = len(held)
		active := make(map[string]bool, len(held))
		for _, p := range held {
			active[p.FullSymbol] = true
		}
		cancelled, err = t.sltp.CleanupOrphans(ctx, active)
		return err
	})
	return checked, cancelled, err
}
