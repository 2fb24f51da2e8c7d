package rebalance

import (
	"context"

	"golang.org/x/sync/errgroup"

	"hedge-core/internal/events"
	"hedge-core/internal/positions"
	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/exchanges/common"
)

// PositionLister lists valued positions.
type PositionLister interface {
	List(ctx context.Context, leverage int) ([]positions.Position, error)
}

// PlanClose is one close line of a plan response.
type PlanClose struct {
	Symbol         string  `json:"symbol"`
	FullSymbol     string  `json:"full_symbol"`
	CloseValue     float64 `json:"close_value"`
	CloseRatioPerc float64 `json:"close_ratio_perc"`
}

// PlanOpen is one open line of a plan response.
type PlanOpen struct {
	Symbol     string  `json:"symbol"`
	OpenValue  float64 `json:"open_value"`
	Percentage float64 `json:"percentage"`
}

// PlanResponse is the reviewable rebalance proposal.
type PlanResponse struct {
	TargetRatioPerc  float64     `json:"target_ratio_perc"`
	LongValue        float64     `json:"long_value"`
	TargetShortValue float64     `json:"target_short_value"`
	Targets          []string    `json:"targets"`
	PositionsToClose []PlanClose `json:"positions_to_close"`
	PositionsToOpen  []PlanOpen  `json:"positions_to_open"`
}

// Planner combines valuation and screening into a plan.
type Planner struct {
	ex        common.Exchange
	positions PositionLister
	screener  *Screener
	notify    Notifier
}

// NewPlanner wires a planner. A nil notifier logs to the process log only.
func NewPlanner(ex common.Exchange, p PositionLister, s *Screener, n Notifier) *Planner {
	if n == nil {
		n = logNotifier{}
	}
	return &Planner{ex: ex, positions: p, screener: s, notify: n}
}

// Generate values the book and screens candidates concurrently, then sizes
// the short book as long value times the target ratio.
func (p *Planner) Generate(ctx context.Context, c Criteria) (PlanResponse, error) {
	if err := c.Validate(); err != nil {
		return PlanResponse{}, err
	}

	var (
		held    []positions.Position
		targets []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		held, err = p.positions.List(gctx, c.Leverage)
		return err
	})
	g.Go(func() error {
		snapshot, err := p.ex.Fetch24hTickers(gctx)
		if err != nil {
			return tradeerr.Wrap(tradeerr.KindOf(err), "fetch 24h tickers", "", err)
		}
		targets, err = p.screener.Screen(gctx, c, snapshot, c.ShortPool)
		return err
	})
	if err := g.Wait(); err != nil {
		p.notify.Logf(events.LevelError, "rebalance plan failed: %v", err)
		return PlanResponse{}, err
	}
	p.notify.Logf(events.LevelSuccess, "screening done, %d target coins", len(targets))

	var longValue float64
	shorts := make([]positions.Position, 0, len(held))
	for _, pos := range held {
		if pos.Side == positions.SideLong {
			longValue += pos.Notional
		} else {
			shorts = append(shorts, pos)
		}
	}
	if longValue <= 0 {
		return PlanResponse{}, tradeerr.Validationf("long book value is zero, nothing to hedge")
	}

	ratio := TargetRatio(c.SentimentIndex, c.ShortRatioMin, c.ShortRatioMax)
	targetShort := longValue * ratio
	p.notify.Logf(events.LevelInfo, "long value $%.2f, target short ratio %.1f%%, target short value $%.2f", longValue, ratio*100, targetShort)

	plan := BuildPlan(shorts, targets, targetShort)
	resp := PlanResponse{
		TargetRatioPerc:  ratio * 100,
		LongValue:        longValue,
		TargetShortValue: targetShort,
		Targets:          targets,
		PositionsToClose: make([]PlanClose, 0, len(plan.Close)),
		PositionsToOpen:  make([]PlanOpen, 0, len(plan.Open)),
	}
	for _, cl := range plan.Close {
		resp.PositionsToClose = append(resp.PositionsToClose, PlanClose{
			Symbol:         cl.Symbol,
			FullSymbol:     cl.FullSymbol,
			CloseValue:     cl.Notional * cl.CloseRatio,
			CloseRatioPerc: cl.CloseRatio * 100,
		})
	}
	for _, op := range plan.Open {
		pct := 100.0
		if plan.IdealValue > 0.01 {
			pct = op.Value / plan.IdealValue * 100
		}
		resp.PositionsToOpen = append(resp.PositionsToOpen, PlanOpen{Symbol: op.Symbol, OpenValue: op.Value, Percentage: pct})
	}
	return resp, nil
}
