package positions

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"hedge-core/pkg/exchanges/common"
)

var log = logrus.WithField("component", "positions")

// knownQuotes is the suffix fallback when market metadata is unavailable.
var knownQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD"}

// Service values the account's open positions.
type Service struct {
	ex common.Exchange
}

// NewService creates a valuation service over ex.
func NewService(ex common.Exchange) *Service {
	return &Service{ex: ex}
}

// List returns every nonzero position valued at the current mark price.
// Prices for all held symbols come from one batched ticker call. A record
// that cannot be parsed is skipped.
func (s *Service) List(ctx context.Context, leverage int) ([]Position, error) {
	raw, err := s.ex.FetchPositions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetch positions")
	}

	held := make([]common.PositionRisk, 0, len(raw))
	symbols := make([]string, 0, len(raw))
	for _, r := range raw {
		amt, err := strconv.ParseFloat(strings.TrimSpace(r.PositionAmt), 64)
		if err != nil || amt == 0 {
			continue
		}
		held = append(held, r)
		symbols = append(symbols, r.Symbol)
	}
	if len(held) == 0 {
		return []Position{}, nil
	}

	tickers, err := s.ex.FetchTickers(ctx, symbols)
	if err != nil {
		return nil, errors.Wrap(err, "fetch tickers")
	}

	out := make([]Position, 0, len(held))
	for _, r := range held {
		p, err := value(r, tickers[r.Symbol], leverage)
		if err != nil {
			log.WithField("symbol", r.Symbol).Warnf("⚠️ skipping malformed position: %v", err)
			continue
		}
		p.Symbol = s.baseOf(ctx, r.Symbol)
		out = append(out, p)
	}
	return out, nil
}

// Get returns the live position for fullSymbol, or false when it is flat.
func (s *Service) Get(ctx context.Context, fullSymbol string, leverage int) (Position, bool, error) {
	list, err := s.List(ctx, leverage)
	if err != nil {
		return Position{}, false, err
	}
	for _, p := range list {
		if p.FullSymbol == fullSymbol {
			return p, true, nil
		}
	}
	return Position{}, false, nil
}

func value(r common.PositionRisk, t common.Ticker, leverage int) (Position, error) {
	amt, err := num(r.PositionAmt)
	if err != nil {
		return Position{}, fmt.Errorf("positionAmt: %w", err)
	}
	entry, err := num(r.EntryPrice)
	if err != nil {
		return Position{}, fmt.Errorf("entryPrice: %w", err)
	}
	breakEven, err := num(r.BreakEvenPrice)
	if err != nil {
		return Position{}, fmt.Errorf("breakEvenPrice: %w", err)
	}
	upnl, err := num(r.UnRealizedProfit)
	if err != nil {
		return Position{}, fmt.Errorf("unRealizedProfit: %w", err)
	}
	margin, err := num(r.InitialMargin)
	if err != nil {
		return Position{}, fmt.Errorf("initialMargin: %w", err)
	}

	mark := t.MarkPrice
	if mark <= 0 {
		mark = t.LastPrice
	}
	if mark <= 0 {
		if mark, err = num(r.MarkPrice); err != nil {
			return Position{}, fmt.Errorf("markPrice: %w", err)
		}
	}
	if mark <= 0 {
		return Position{}, fmt.Errorf("no price for %s", r.Symbol)
	}

	side := SideLong
	if amt < 0 {
		side = SideShort
	}
	contracts := math.Abs(amt)
	notional := mark * contracts

	pnl := upnl
	if breakEven > 0 {
		pnl = (mark - breakEven) * amt
	}

	if margin <= 0 {
		if leverage <= 0 {
			leverage, _ = strconv.Atoi(r.Leverage)
		}
		if leverage > 0 {
			margin = notional / float64(leverage)
		}
	}
	var pct float64
	if margin > 0 {
		pct = pnl / margin * 100
	}

	return Position{
		FullSymbol:     r.Symbol,
		Side:           side,
		Contracts:      contracts,
		EntryPrice:     entry,
		BreakEvenPrice: breakEven,
		MarkPrice:      mark,
		Notional:       notional,
		PNL:            pnl,
		PNLPercentage:  pct,
	}, nil
}

// baseOf strips the quote asset from a pair, preferring market metadata.
func (s *Service) baseOf(ctx context.Context, symbol string) string {
	if m, err := s.ex.Market(ctx, symbol); err == nil {
		if m.Base != "" {
			return m.Base
		}
		if m.Quote != "" && strings.HasSuffix(symbol, m.Quote) {
			return strings.TrimSuffix(symbol, m.Quote)
		}
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q)
		}
	}
	return symbol
}

// num parses an optional numeric field; empty means zero.
func num(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not finite: %q", v)
	}
	return f, nil
}
