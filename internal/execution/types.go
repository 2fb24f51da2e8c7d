package execution

import (
	"time"

	"hedge-core/pkg/exchanges/common"
)

// State is a step of one maker order attempt.
type State int

const (
	StateInit State = iota
	StatePriceDiscovery
	StateSubmitted
	StateFilled
	StateTimedOutCancelled
	StateRejectedByExchange
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StatePriceDiscovery:
		return "price_discovery"
	case StateSubmitted:
		return "submitted"
	case StateFilled:
		return "filled"
	case StateTimedOutCancelled:
		return "timed_out_cancelled"
	case StateRejectedByExchange:
		return "rejected_by_exchange"
	default:
		return "unknown"
	}
}

// Request describes one maker order. Exactly one of Value (quote notional to
// open) or Contracts (base quantity, used for closes) drives the size.
type Request struct {
	Symbol     string
	Side       common.Side
	Value      float64
	Contracts  float64
	ReduceOnly bool
	Timeout    time.Duration
	MaxRetries int
}

// Result describes a filled order.
type Result struct {
	OrderID  string
	Qty      float64
	Price    float64
	Attempts int
}

// Order is the order placed by one attempt. After the attempt resolves Qty
// holds the executed quantity and Price the average fill price.
type Order struct {
	ID    string
	Qty   float64
	Price float64
}
