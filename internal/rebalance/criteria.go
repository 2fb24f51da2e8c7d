// Package rebalance screens the short pool for the weakest coins and diffs
// the current short book against an equal-weight target.
package rebalance

import (
	"strings"

	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/config"
)

// DefaultSentimentIndex is used when no alt-season index is supplied.
const DefaultSentimentIndex = 50

// Criteria configures one screening run.
type Criteria struct {
	Method           string   `json:"method"`
	TopN             int      `json:"top_n"`
	MinVolumeUSD     float64  `json:"min_volume_usd"`
	AbsMomentumDays  int      `json:"abs_momentum_days"`
	RelStrengthDays  int      `json:"rel_strength_days"`
	FoamDays         int      `json:"foam_days"`
	VolumeMADays     int      `json:"volume_ma_days"`
	VolumeSpikeRatio float64  `json:"volume_spike_ratio"`
	Quotes           []string `json:"quotes,omitempty"`

	// ShortPool limits the candidates. Empty means every listed pair.
	ShortPool []string `json:"short_pool,omitempty"`
	// Exclude removes coins, typically the long book, from the candidates.
	Exclude []string `json:"exclude,omitempty"`

	SentimentIndex float64 `json:"sentiment_index"`
	ShortRatioMin  float64 `json:"short_ratio_min"`
	ShortRatioMax  float64 `json:"short_ratio_max"`
	Leverage       int     `json:"leverage"`
}

// FromSettings builds criteria from a settings snapshot.
func FromSettings(s config.Settings) Criteria {
	return Criteria{
		Method:           s.RebalanceMethod,
		TopN:             s.RebalanceTopN,
		MinVolumeUSD:     s.RebalanceMinVolumeUSD,
		AbsMomentumDays:  s.RebalanceAbsMomentumDays,
		RelStrengthDays:  s.RebalanceRelStrengthDays,
		FoamDays:         s.RebalanceFoamDays,
		VolumeMADays:     s.RebalanceVolumeMADays,
		VolumeSpikeRatio: s.RebalanceVolumeSpikeRatio,
		Quotes:           append([]string(nil), s.QuotePreference...),
		ShortPool:        append([]string(nil), s.ShortCoinList...),
		Exclude:          append([]string(nil), s.LongCoinList...),
		SentimentIndex:   DefaultSentimentIndex,
		ShortRatioMin:    s.RebalanceShortRatioMin,
		ShortRatioMax:    s.RebalanceShortRatioMax,
		Leverage:         s.Leverage,
	}
}

// Validate rejects criteria the screener cannot run with.
func (c Criteria) Validate() error {
	switch {
	case c.Method != config.MethodFoam && c.Method != config.MethodMultiFactorWeakest:
		return tradeerr.Validationf("unknown rebalance method %q", c.Method)
	case c.TopN <= 0:
		return tradeerr.Validationf("top_n must be positive")
	case c.SentimentIndex < 0 || c.SentimentIndex > 100:
		return tradeerr.Validationf("sentiment index must be in [0,100], got %v", c.SentimentIndex)
	}
	return nil
}

func (c Criteria) quotes() []string {
	if len(c.Quotes) == 0 {
		return []string{"USDC", "USDT"}
	}
	return c.Quotes
}

// historyDays is how many daily candles a coin needs for every factor.
func (c Criteria) historyDays() int {
	n := max(c.AbsMomentumDays, c.RelStrengthDays, c.FoamDays, 2) + 2
	return max(n, c.VolumeMADays+1)
}

func upperSet(coins []string) map[string]bool {
	out := make(map[string]bool, len(coins))
	for _, c := range coins {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			out[c] = true
		}
	}
	return out
}
