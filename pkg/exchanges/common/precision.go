package common

import "github.com/shopspring/decimal"

// RoundQty rounds qty down to a multiple of the step size.
func (m MarketInfo) RoundQty(qty float64) float64 {
	return floorToStep(qty, m.StepSize)
}

// RoundPrice rounds price to the nearest tick.
func (m MarketInfo) RoundPrice(price float64) float64 {
	if m.TickSize <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(m.TickSize)
	v, _ := decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick).Float64()
	return v
}

func floorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	out, _ := decimal.NewFromFloat(v).Div(s).Floor().Mul(s).Float64()
	return out
}
