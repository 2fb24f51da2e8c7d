package trading

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hedge-core/internal/events"
	"hedge-core/internal/execution"
	"hedge-core/internal/orchestrator"
	"hedge-core/internal/positions"
	"hedge-core/internal/sltp"
	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/config"
	"hedge-core/pkg/exchanges/common"
)

// worker dispatches items by kind. Every item runs on its own session.
func (s *Service) worker(settings config.Settings) orchestrator.WorkerFunc {
	return func(ctx context.Context, it orchestrator.Item) error {
		item, ok := it.(WorkItem)
		if !ok {
			return tradeerr.Validationf("unexpected work item %T", it)
		}
		return s.withSession(ctx, func(t *toolkit) error {
			switch item.Kind {
			case KindOpen:
				return s.open(ctx, t, settings, item.Coin, item.Side, item.Value)
			case KindClose:
				return s.close(ctx, t, settings, item.FullSymbol, item.Ratio)
			case KindSLTP:
				return s.syncSLTP(ctx, t, settings, item.Position)
			case KindRebalance:
				if item.Action == ActionClose {
					return s.closeCoin(ctx, t, settings, item.Coin, item.Side, item.Ratio)
				}
				return s.open(ctx, t, settings, item.Coin, item.Side, item.Value)
			}
			return tradeerr.Validationf("unknown work item kind %q", item.Kind)
		})
	}
}

// open resolves the pair, sets leverage, fills a maker order for value and
// protects the resulting position.
func (s *Service) open(ctx context.Context, t *toolkit, settings config.Settings, coin string, side positions.Side, value float64) error {
	s.hub.Logf(events.LevelInfo, "--- [%s] opening %s $%.2f ---", coin, side, value)

	symbol, err := resolveSymbol(ctx, t.ex, coin, settings.QuotePreference)
	if err != nil {
		return err
	}
	if err := t.ex.SetLeverage(ctx, symbol, settings.Leverage); err != nil {
		return tradeerr.Wrap(kindOf(ctx, err), "set leverage", symbol, err)
	}
	s.hub.Logf(events.LevelInfo, "  > [%s] leverage set to %dx", coin, settings.Leverage)

	res, err := t.engine.PlaceMakerOrder(ctx, execution.Request{
		Symbol:     symbol,
		Side:       side.OpenSide(),
		Value:      value,
		Timeout:    settings.OpenTimeout(),
		MaxRetries: settings.OpenMakerRetries,
	})
	if err != nil {
		return err
	}
	s.hub.Logf(events.LevelSuccess, "  > [%s] ✅ order %s filled: %v @ %v", coin, res.OrderID, res.Qty, res.Price)

	pos, err := s.refetch(ctx, t, symbol, settings.Leverage)
	if err != nil {
		return err
	}
	ok, err := t.sltp.Sync(ctx, pos, sltp.FromSettings(settings))
	if err != nil {
		if tradeerr.IsInterrupted(err) {
			return err
		}
		s.hub.Logf(events.LevelWarning, "  > [%s] ⚠️ SL/TP not set: %v", coin, err)
	} else if !ok {
		s.hub.Logf(events.LevelWarning, "  > [%s] ⚠️ SL/TP only partially set", coin)
	}
	s.hub.Logf(events.LevelSuccess, "✅ %s open flow complete", coin)
	return nil
}

// refetch waits for a filled order to show up as a position.
func (s *Service) refetch(ctx context.Context, t *toolkit, symbol string, leverage int) (positions.Position, error) {
	for i := 0; i < s.cfg.RefetchAttempts; i++ {
		if i > 0 {
			if err := sleep(ctx, s.cfg.RefetchDelay); err != nil {
				return positions.Position{}, tradeerr.Wrap(tradeerr.Interrupted, "refetch position", symbol, err)
			}
		}
		pos, ok, err := t.positions.Get(ctx, symbol, leverage)
		if err != nil {
			if ctx.Err() != nil {
				return positions.Position{}, tradeerr.Wrap(tradeerr.Interrupted, "refetch position", symbol, err)
			}
			log.WithField("symbol", symbol).Warnf("⚠️ refetch position: %v", err)
			continue
		}
		if ok {
			return pos, nil
		}
	}
	return positions.Position{}, tradeerr.Wrap(tradeerr.Unexpected, "refetch position", symbol,
		fmt.Errorf("position not visible after %d attempts", s.cfg.RefetchAttempts))
}

// close reduces one position by ratio with a reduce-only maker order.
func (s *Service) close(ctx context.Context, t *toolkit, settings config.Settings, fullSymbol string, ratio float64) error {
	pos, ok, err := t.positions.Get(ctx, fullSymbol, settings.Leverage)
	if err != nil {
		return tradeerr.Wrap(kindOf(ctx, err), "read position", fullSymbol, err)
	}
	if !ok {
		return tradeerr.Wrap(tradeerr.Validation, "close", fullSymbol, fmt.Errorf("no open position"))
	}
	return s.closePosition(ctx, t, settings, pos, ratio)
}

// closeCoin closes the side's position on a base coin.
func (s *Service) closeCoin(ctx context.Context, t *toolkit, settings config.Settings, coin string, side positions.Side, ratio float64) error {
	held, err := t.positions.List(ctx, settings.Leverage)
	if err != nil {
		return tradeerr.Wrap(kindOf(ctx, err), "read positions", coin, err)
	}
	for _, p := range held {
		if p.Symbol == coin && p.Side == side {
			return s.closePosition(ctx, t, settings, p, ratio)
		}
	}
	return tradeerr.Wrap(tradeerr.Validation, "close", coin, fmt.Errorf("no open %s position", side))
}

func (s *Service) closePosition(ctx context.Context, t *toolkit, settings config.Settings, pos positions.Position, ratio float64) error {
	market, err := t.ex.Market(ctx, pos.FullSymbol)
	if err != nil {
		return tradeerr.Wrap(kindOf(ctx, err), "load market", pos.FullSymbol, err)
	}
	amount := positions.CloseAmount(pos.Contracts, ratio, market.StepSize)
	if amount <= 0 || amount < market.MinQty {
		return tradeerr.Wrap(tradeerr.Validation, "close", pos.FullSymbol,
			fmt.Errorf("close amount %v below exchange minimum %v", amount, market.MinQty))
	}
	s.hub.Logf(events.LevelInfo, "closing %v %s (%.1f%%) on %s", amount, pos.Symbol, ratio*100, pos.FullSymbol)

	res, err := t.engine.PlaceMakerOrder(ctx, execution.Request{
		Symbol:     pos.FullSymbol,
		Side:       pos.Side.CloseSide(),
		Contracts:  amount,
		ReduceOnly: true,
		Timeout:    settings.CloseTimeout(),
		MaxRetries: settings.CloseMakerRetries,
	})
	if err != nil {
		return err
	}
	s.hub.Logf(events.LevelSuccess, "✅ %s closed %v @ %v", pos.Symbol, res.Qty, res.Price)

	if ratio >= 1 {
		if err := t.sltp.Cleanup(ctx, pos.FullSymbol); err != nil {
			s.hub.Logf(events.LevelWarning, "⚠️ %s protective order cleanup failed: %v", pos.Symbol, err)
		}
	}
	s.hub.PositionClosed(pos.Symbol, ratio)
	return nil
}

func (s *Service) syncSLTP(ctx context.Context, t *toolkit, settings config.Settings, pos positions.Position) error {
	ok, err := t.sltp.Sync(ctx, pos, sltp.FromSettings(settings))
	if err != nil {
		return err
	}
	if !ok {
		return tradeerr.Wrap(tradeerr.Retryable, "sync sltp", pos.FullSymbol, fmt.Errorf("protective orders only partially placed"))
	}
	return nil
}

// resolveSymbol finds the perpetual pair for coin, trying quotes in order.
func resolveSymbol(ctx context.Context, ex common.Exchange, coin string, quotes []string) (string, error) {
	if len(quotes) == 0 {
		quotes = []string{"USDC", "USDT"}
	}
	coin = strings.ToUpper(coin)
	for _, q := range quotes {
		sym := coin + strings.ToUpper(q)
		if _, err := ex.Market(ctx, sym); err == nil {
			return sym, nil
		} else if ctx.Err() != nil {
			return "", tradeerr.Wrap(tradeerr.Interrupted, "resolve symbol", coin, ctx.Err())
		}
	}
	return "", tradeerr.Wrap(tradeerr.Validation, "resolve symbol", coin,
		fmt.Errorf("no perpetual market for %s in %v", coin, quotes))
}

func kindOf(ctx context.Context, err error) tradeerr.Kind {
	if ctx.Err() != nil {
		return tradeerr.Interrupted
	}
	return tradeerr.KindOf(err)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
