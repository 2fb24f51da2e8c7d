package rebalance

import (
	"sort"

	"hedge-core/internal/positions"
)

// DeadBandUSD suppresses adjustments smaller than this many dollars.
const DeadBandUSD = 10.0

// CloseInstruction reduces one held short.
type CloseInstruction struct {
	Symbol     string  `json:"symbol"`
	FullSymbol string  `json:"full_symbol"`
	Notional   float64 `json:"notional"`
	CloseRatio float64 `json:"close_ratio"`
}

// OpenInstruction opens or adds to one short.
type OpenInstruction struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
}

// Plan is the diff between the current short book and the target.
type Plan struct {
	Close      []CloseInstruction `json:"close"`
	Open       []OpenInstruction  `json:"open"`
	IdealValue float64            `json:"ideal_value"`
}

// BuildPlan diffs current against an equal-weight allocation of totalValue
// over targets. Held coins outside targets are closed in full; held targets
// are adjusted only past the dead-band.
func BuildPlan(current []positions.Position, targets []string, totalValue float64) Plan {
	var plan Plan
	targetSet := upperSet(targets)
	if len(targetSet) == 0 {
		for _, p := range current {
			plan.Close = append(plan.Close, closeAll(p))
		}
		return plan
	}

	plan.IdealValue = totalValue / float64(len(targetSet))
	held := make(map[string]bool, len(current))
	for _, p := range current {
		held[p.Symbol] = true
		if !targetSet[p.Symbol] {
			plan.Close = append(plan.Close, closeAll(p))
			continue
		}
		delta := plan.IdealValue - p.Notional
		switch {
		case delta > DeadBandUSD:
			plan.Open = append(plan.Open, OpenInstruction{Symbol: p.Symbol, Value: delta})
		case delta < -DeadBandUSD:
			ratio := 1.0
			if p.Notional > 0 {
				ratio = min(-delta/p.Notional, 1)
			}
			plan.Close = append(plan.Close, CloseInstruction{Symbol: p.Symbol, FullSymbol: p.FullSymbol, Notional: p.Notional, CloseRatio: ratio})
		}
	}

	fresh := make([]string, 0, len(targetSet))
	for sym := range targetSet {
		if !held[sym] {
			fresh = append(fresh, sym)
		}
	}
	sort.Strings(fresh)
	for _, sym := range fresh {
		plan.Open = append(plan.Open, OpenInstruction{Symbol: sym, Value: plan.IdealValue})
	}
	return plan
}

func closeAll(p positions.Position) CloseInstruction {
	return CloseInstruction{Symbol: p.Symbol, FullSymbol: p.FullSymbol, Notional: p.Notional, CloseRatio: 1}
}

// TargetRatio interpolates the short/long ratio from a 0-100 sentiment
// index: 0 gives maxRatio and 100 gives minRatio.
func TargetRatio(index, minRatio, maxRatio float64) float64 {
	r := maxRatio - index/100*(maxRatio-minRatio)
	return max(minRatio, min(maxRatio, r))
}
