// Package plan splits the configured long and short budgets across coins.
package plan

import (
	"strings"

	"hedge-core/internal/positions"
	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/config"
)

// Core weights used when BTC or ETH are held next to satellite coins.
const (
	btcCoreWeight = 0.40
	ethCoreWeight = 0.30
	btcPairWeight = 0.60
	ethPairWeight = 0.40
)

// Request is the budget and coin selection for one open batch.
type Request struct {
	LongCoins     []string           `json:"long_coin_list"`
	ShortCoins    []string           `json:"short_coin_list"`
	CustomWeights map[string]float64 `json:"long_custom_weights"`
	TotalLong     float64            `json:"total_long_position_value"`
	TotalShort    float64            `json:"total_short_position_value"`
	EnableLong    bool               `json:"enable_long_trades"`
	EnableShort   bool               `json:"enable_short_trades"`
}

// FromSettings builds a request from a settings snapshot.
func FromSettings(s config.Settings) Request {
	return Request{
		LongCoins:     s.LongCoinList,
		ShortCoins:    s.ShortCoinList,
		CustomWeights: s.LongCustomWeights,
		TotalLong:     s.TotalLongPositionValue,
		TotalShort:    s.TotalShortPositionValue,
		EnableLong:    s.EnableLongTrades,
		EnableShort:   s.EnableShortTrades,
	}
}

// OrderPlan is the notional to open on one coin.
type OrderPlan struct {
	Coin  string         `json:"coin"`
	Side  positions.Side `json:"side"`
	Value float64        `json:"value"`
}

// Calculate returns long plans followed by short plans. It fails with a
// validation error when nothing would be opened.
func Calculate(req Request) ([]OrderPlan, error) {
	var out []OrderPlan
	if req.EnableLong && req.TotalLong > 0 {
		longs := normalize(req.LongCoins)
		weights := longWeights(longs, req.CustomWeights)
		for _, coin := range longs {
			if v := weights[coin] * req.TotalLong; v > 0 {
				out = append(out, OrderPlan{Coin: coin, Side: positions.SideLong, Value: v})
			}
		}
	}
	if req.EnableShort && req.TotalShort > 0 {
		shorts := normalize(req.ShortCoins)
		for _, coin := range shorts {
			out = append(out, OrderPlan{Coin: coin, Side: positions.SideShort, Value: req.TotalShort / float64(len(shorts))})
		}
	}
	if len(out) == 0 {
		return nil, tradeerr.Validationf("trade plan is empty: check coin lists, totals and enable flags")
	}
	return out, nil
}

// longWeights returns fractions summing to 1 over coins.
func longWeights(coins []string, custom map[string]float64) map[string]float64 {
	weights := make(map[string]float64, len(coins))
	if len(coins) == 0 {
		return weights
	}

	if len(custom) > 0 {
		assigned := map[string]float64{}
		var assignedTotal float64
		var unassigned []string
		for _, c := range coins {
			if w := lookup(custom, c); w > 0 {
				assigned[c] = w
				assignedTotal += w
			} else {
				unassigned = append(unassigned, c)
			}
		}
		for c, w := range assigned {
			weights[c] = w
		}
		if len(unassigned) > 0 && assignedTotal < 100 {
			each := (100 - assignedTotal) / float64(len(unassigned))
			for _, c := range unassigned {
				weights[c] = each
			}
		}
		var total float64
		for _, w := range weights {
			total += w
		}
		if total > 0 {
			for c := range weights {
				weights[c] /= total
			}
		}
		return weights
	}

	var hasBTC, hasETH bool
	var satellites []string
	for _, c := range coins {
		switch c {
		case "BTC":
			hasBTC = true
		case "ETH":
			hasETH = true
		default:
			satellites = append(satellites, c)
		}
	}
	switch {
	case (hasBTC || hasETH) && len(satellites) > 0:
		rest := 1.0
		if hasBTC {
			weights["BTC"] = btcCoreWeight
			rest -= btcCoreWeight
		}
		if hasETH {
			weights["ETH"] = ethCoreWeight
			rest -= ethCoreWeight
		}
		for _, c := range satellites {
			weights[c] = rest / float64(len(satellites))
		}
	case hasBTC && hasETH:
		weights["BTC"] = btcPairWeight
		weights["ETH"] = ethPairWeight
	default:
		for _, c := range coins {
			weights[c] = 1 / float64(len(coins))
		}
	}
	return weights
}

func lookup(m map[string]float64, coin string) float64 {
	if w, ok := m[coin]; ok {
		return w
	}
	for k, w := range m {
		if strings.EqualFold(k, coin) {
			return w
		}
	}
	return 0
}

// normalize upper-cases, trims and de-duplicates coins in order.
func normalize(coins []string) []string {
	seen := make(map[string]bool, len(coins))
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
