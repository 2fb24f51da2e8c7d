// Package positions turns raw exchange position records into valued
// positions with notional and PnL.
package positions

import (
	"strings"

	"github.com/shopspring/decimal"

	"hedge-core/pkg/exchanges/common"
)

// Side is the direction of a held position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide accepts long/short in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideLong:
		return SideLong, true
	case SideShort:
		return SideShort, true
	}
	return "", false
}

// OpenSide is the order side that grows a position on this side.
func (s Side) OpenSide() common.Side {
	if s == SideShort {
		return common.SideSell
	}
	return common.SideBuy
}

// CloseSide is the order side that reduces a position on this side.
func (s Side) CloseSide() common.Side {
	return s.OpenSide().Opposite()
}

// Position is one live, valued position. It is never persisted.
type Position struct {
	Symbol         string  `json:"symbol"`
	FullSymbol     string  `json:"full_symbol"`
	Side           Side    `json:"side"`
	Contracts      float64 `json:"contracts"`
	EntryPrice     float64 `json:"entry_price"`
	BreakEvenPrice float64 `json:"break_even_price"`
	MarkPrice      float64 `json:"mark_price"`
	Notional       float64 `json:"notional"`
	PNL            float64 `json:"pnl"`
	PNLPercentage  float64 `json:"pnl_percentage"`
}

// CloseAmount returns contracts*ratio rounded down to step. The result never
// exceeds contracts; a ratio of 1 closes the whole position.
func CloseAmount(contracts, ratio, step float64) float64 {
	if contracts <= 0 || ratio <= 0 {
		return 0
	}
	if ratio >= 1 {
		return contracts
	}
	amt := decimal.NewFromFloat(contracts).Mul(decimal.NewFromFloat(ratio))
	if step > 0 {
		s := decimal.NewFromFloat(step)
		amt = amt.Div(s).Floor().Mul(s)
	}
	out := amt.InexactFloat64()
	if out > contracts {
		return contracts
	}
	return out
}
