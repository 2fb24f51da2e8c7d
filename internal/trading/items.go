package trading

import (
	"fmt"

	"hedge-core/internal/positions"
)

// Kind discriminates work items.
type Kind string

const (
	KindOpen      Kind = "open"
	KindClose     Kind = "close"
	KindSLTP      Kind = "sltp"
	KindRebalance Kind = "rebalance"
)

// Rebalance actions.
const (
	ActionOpen  = "OPEN"
	ActionClose = "CLOSE"
)

// WorkItem is one unit of a batch. Which fields are set depends on Kind:
// open uses Coin, Side and Value; close uses FullSymbol and Ratio; sltp uses
// Position; rebalance uses Action, Coin, Side and Value or Ratio.
type WorkItem struct {
	Kind       Kind
	Coin       string
	FullSymbol string
	Side       positions.Side
	Value      float64
	Ratio      float64
	Action     string
	Position   positions.Position
}

// Label names the item in logs and batch history.
func (w WorkItem) Label() string {
	switch w.Kind {
	case KindOpen:
		return fmt.Sprintf("open %s %s $%.2f", w.Side, w.Coin, w.Value)
	case KindClose:
		return fmt.Sprintf("close %s %.0f%%", w.FullSymbol, w.Ratio*100)
	case KindSLTP:
		return fmt.Sprintf("sltp %s", w.Position.FullSymbol)
	case KindRebalance:
		if w.Action == ActionClose {
			return fmt.Sprintf("rebalance close %s %s %.0f%%", w.Side, w.Coin, w.Ratio*100)
		}
		return fmt.Sprintf("rebalance open %s %s $%.2f", w.Side, w.Coin, w.Value)
	}
	return string(w.Kind)
}

// PlanOrder is one reviewed line of a rebalance plan submitted for
// execution. CloseRatio is a fraction in (0,1].
type PlanOrder struct {
	Symbol       string  `json:"symbol"`
	Action       string  `json:"action"`
	Side         string  `json:"side"`
	ValueToTrade float64 `json:"value_to_trade,omitempty"`
	CloseRatio   float64 `json:"close_ratio,omitempty"`
}
