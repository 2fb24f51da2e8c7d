// Package sltp keeps one reduce-only stop-loss and one take-profit order on
// every open position. Existing protective orders are always replaced, never
// patched.
package sltp

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"hedge-core/internal/events"
	"hedge-core/internal/positions"
	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/config"
	"hedge-core/pkg/exchanges/common"
)

var log = logrus.WithField("component", "sltp")

// Config selects the protective distances per side. Percentages are of
// margin, so the price distance is pct/100/leverage.
type Config struct {
	EnableLong         bool    `json:"enable_long_sl_tp"`
	LongStopLossPct    float64 `json:"long_stop_loss_percentage"`
	LongTakeProfitPct  float64 `json:"long_take_profit_percentage"`
	EnableShort        bool    `json:"enable_short_sl_tp"`
	ShortStopLossPct   float64 `json:"short_stop_loss_percentage"`
	ShortTakeProfitPct float64 `json:"short_take_profit_percentage"`
	Leverage           int     `json:"leverage"`
}

// FromSettings extracts the SL/TP part of a settings snapshot.
func FromSettings(s config.Settings) Config {
	return Config{
		EnableLong:         s.EnableLongSLTP,
		LongStopLossPct:    s.LongStopLossPercentage,
		LongTakeProfitPct:  s.LongTakeProfitPercentage,
		EnableShort:        s.EnableShortSLTP,
		ShortStopLossPct:   s.ShortStopLossPercentage,
		ShortTakeProfitPct: s.ShortTakeProfitPercentage,
		Leverage:           s.Leverage,
	}
}

// forSide returns the enabled flag and percentages for side.
func (c Config) forSide(side positions.Side) (bool, float64, float64) {
	if side == positions.SideShort {
		return c.EnableShort, c.ShortStopLossPct, c.ShortTakeProfitPct
	}
	return c.EnableLong, c.LongStopLossPct, c.LongTakeProfitPct
}

// Target holds the trigger prices for one position.
type Target struct {
	StopLoss   float64
	TakeProfit float64
}

// Targets computes trigger prices from the entry price. It returns false
// when protection is disabled for the side or a percentage is not positive.
func Targets(pos positions.Position, cfg Config, market common.MarketInfo) (Target, bool) {
	enabled, slPct, tpPct := cfg.forSide(pos.Side)
	if !enabled || slPct <= 0 || tpPct <= 0 {
		return Target{}, false
	}
	lev := float64(cfg.Leverage)
	if lev <= 0 {
		lev = 1
	}
	sl := slPct / 100 / lev
	tp := tpPct / 100 / lev
	if pos.Side == positions.SideShort {
		sl, tp = -sl, -tp
	}
	return Target{
		StopLoss:   market.RoundPrice(pos.EntryPrice * (1 - sl)),
		TakeProfit: market.RoundPrice(pos.EntryPrice * (1 + tp)),
	}, true
}

// PositionReader returns the live position for a pair.
type PositionReader interface {
	Get(ctx context.Context, fullSymbol string, leverage int) (positions.Position, bool, error)
}

// Notifier receives user-facing log lines.
type Notifier interface {
	Logf(level, format string, args ...any)
}

type logNotifier struct{}

func (logNotifier) Logf(level, format string, args ...any) {
	switch level {
	case events.LevelError:
		log.Errorf(format, args...)
	case events.LevelWarning:
		log.Warnf(format, args...)
	default:
		log.Infof(format, args...)
	}
}

// Synchronizer places and cleans protective orders.
type Synchronizer struct {
	ex     common.Exchange
	reader PositionReader
	notify Notifier
}

// New creates a synchronizer. A nil notifier logs to the process log only.
func New(ex common.Exchange, reader PositionReader, n Notifier) *Synchronizer {
	if n == nil {
		n = logNotifier{}
	}
	return &Synchronizer{ex: ex, reader: reader, notify: n}
}

// Sync replaces the protective orders of pos. It returns true when both
// orders were accepted, or when there is nothing to protect and cleanup ran.
// A single accepted order is reported as false so the caller can retry.
func (s *Synchronizer) Sync(ctx context.Context, pos positions.Position, cfg Config) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, tradeerr.Wrap(tradeerr.Interrupted, "sync sltp", pos.FullSymbol, err)
	}

	live, ok, err := s.reader.Get(ctx, pos.FullSymbol, cfg.Leverage)
	if err != nil {
		return false, tradeerr.Wrap(tradeerr.KindOf(err), "read position", pos.FullSymbol, err)
	}
	if !ok {
		s.notify.Logf(events.LevelWarning, "⚠️ %s position is gone, cleaning protective orders only", pos.Symbol)
		_, err := s.cancelProtective(ctx, pos.FullSymbol)
		return err == nil, err
	}

	market, err := s.ex.Market(ctx, live.FullSymbol)
	if err != nil {
		return false, tradeerr.Wrap(tradeerr.KindOf(err), "load market", live.FullSymbol, err)
	}
	target, enabled := Targets(live, cfg, market)
	if !enabled {
		s.notify.Logf(events.LevelInfo, "%s SL/TP disabled or invalid, cleaning existing orders", live.Symbol)
		_, err := s.cancelProtective(ctx, live.FullSymbol)
		return err == nil, err
	}

	if _, err := s.cancelProtective(ctx, live.FullSymbol); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, tradeerr.Wrap(tradeerr.Interrupted, "sync sltp", live.FullSymbol, err)
	}

	qty := market.RoundQty(live.Contracts)
	closeSide := live.Side.CloseSide()
	s.notify.Logf(events.LevelInfo, "  > submitting %s SL (%v) / TP (%v) for %v", live.Symbol, target.StopLoss, target.TakeProfit, qty)

	orders := []common.OrderRequest{
		{Symbol: live.FullSymbol, Side: closeSide, Type: common.OrderTypeStopMarket, Qty: qty, StopPrice: target.StopLoss, ReduceOnly: true},
		{Symbol: live.FullSymbol, Side: closeSide, Type: common.OrderTypeTakeProfitMarket, Qty: qty, StopPrice: target.TakeProfit, ReduceOnly: true},
	}
	errs := make([]error, len(orders))
	var g errgroup.Group
	for i, req := range orders {
		i, req := i, req
		g.Go(func() error {
			_, err := s.ex.SubmitOrder(ctx, req)
			if common.IsNotRequired(err) {
				log.WithField("symbol", req.Symbol).Warnf("⚠️ %s order not required, position may be closing: %v", req.Type, err)
				err = nil
			}
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	accepted := 0
	for i, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		s.notify.Logf(events.LevelError, "  > ❌ %s %s submit failed: %v", live.Symbol, orders[i].Type, err)
	}
	switch accepted {
	case len(orders):
		s.notify.Logf(events.LevelSuccess, "✅ %s stop-loss and take-profit synced", live.Symbol)
		return true, nil
	case 0:
		if ctx.Err() != nil {
			return false, tradeerr.Wrap(tradeerr.Interrupted, "sync sltp", live.FullSymbol, ctx.Err())
		}
		return false, tradeerr.Wrap(tradeerr.KindOf(errs[0]), "submit sltp", live.FullSymbol, errs[0])
	default:
		s.notify.Logf(events.LevelWarning, "⚠️ %s SL/TP only partially set, check manually", live.Symbol)
		return false, nil
	}
}

// cancelProtective cancels every reduce-only stop and take-profit order on
// symbol and returns how many were cancelled.
func (s *Synchronizer) cancelProtective(ctx context.Context, symbol string) (int, error) {
	open, err := s.ex.FetchOpenOrders(ctx, symbol)
	if err != nil {
		return 0, tradeerr.Wrap(tradeerr.KindOf(err), "fetch open orders", symbol, err)
	}
	var stale []common.OpenOrder
	for _, o := range open {
		if o.IsProtective() {
			stale = append(stale, o)
		}
	}
	n := s.cancelAll(ctx, stale)
	if n > 0 {
		s.notify.Logf(events.LevelInfo, "  > cleaned %d old SL/TP orders on %s", n, symbol)
	}
	return n, nil
}

// Cleanup removes protective orders from one symbol.
func (s *Synchronizer) Cleanup(ctx context.Context, symbol string) error {
	_, err := s.cancelProtective(ctx, symbol)
	return err
}

// CleanupOrphans cancels reduce-only conditional orders on any symbol not
// in active. It returns the number of cancelled orders.
func (s *Synchronizer) CleanupOrphans(ctx context.Context, active map[string]bool) (int, error) {
	open, err := s.ex.FetchOpenOrders(ctx, "")
	if err != nil {
		return 0, errors.Wrap(err, "fetch open orders")
	}
	var orphans []common.OpenOrder
	for _, o := range open {
		if o.IsProtective() && !active[o.Symbol] {
			orphans = append(orphans, o)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	s.notify.Logf(events.LevelWarning, "found %d orphan SL/TP orders, cancelling", len(orphans))
	return s.cancelAll(ctx, orphans), nil
}

// cancelAll cancels orders concurrently. Individual failures are logged.
func (s *Synchronizer) cancelAll(ctx context.Context, orders []common.OpenOrder) int {
	var (
		mu sync.Mutex
		n  int
		g  errgroup.Group
	)
	for _, o := range orders {
		o := o
		g.Go(func() error {
			err := s.ex.CancelOrder(ctx, o.Symbol, o.OrderID)
			if err != nil && !common.IsUnknownOrder(err) {
				log.WithField("symbol", o.Symbol).Warnf("⚠️ cancel %s %s failed: %v", o.Type, o.OrderID, err)
				return nil
			}
			mu.Lock()
			n++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return n
}
