package rebalance

import (
	"sort"

	"hedge-core/pkg/exchanges/common"
)

// minMeanVolume guards the spike ratio against near-zero averages.
const minMeanVolume = 1e-6

// PctChange is the percent move from the open of the candle days bars
// before the last to the last close. It is undefined without days+1 bars.
func PctChange(series []common.Candle, days int) (float64, bool) {
	if days <= 0 || len(series) < days+1 {
		return 0, false
	}
	start := series[len(series)-1-days].Open
	end := series[len(series)-1].Close
	if start <= 0 {
		return 0, true
	}
	return (end - start) / start * 100, true
}

// VolumeSpike compares the latest volume with the mean of the maDays bars
// before it. ok is false when there is not enough usable history.
func VolumeSpike(series []common.Candle, maDays int, ratio float64) (spiked, ok bool) {
	if maDays <= 0 || len(series) < maDays+1 {
		return false, false
	}
	window := series[len(series)-maDays-1 : len(series)-1]
	var sum float64
	for _, c := range window {
		sum += c.Volume
	}
	mean := sum / float64(len(window))
	if mean < minMeanVolume {
		return false, false
	}
	return series[len(series)-1].Volume > mean*ratio, true
}

// SynthesizeBTCSeries divides a coin series by a BTC series at matching
// timestamps, giving the coin priced in BTC.
func SynthesizeBTCSeries(coin, btc []common.Candle) []common.Candle {
	byTime := make(map[int64]common.Candle, len(btc))
	for _, b := range btc {
		byTime[b.Timestamp.UnixMilli()] = b
	}
	out := make([]common.Candle, 0, len(coin))
	for _, c := range coin {
		b, ok := byTime[c.Timestamp.UnixMilli()]
		if !ok || b.Open <= 0 || b.Close <= 0 {
			continue
		}
		o, cl := c.Open/b.Open, c.Close/b.Close
		out = append(out, common.Candle{
			Timestamp: c.Timestamp,
			Open:      o,
			High:      max(o, cl),
			Low:       min(o, cl),
			Close:     cl,
			Volume:    c.Volume,
		})
	}
	return out
}

// Candidate is a coin that survived the filters, with its factor values.
type Candidate struct {
	Symbol      string  `json:"symbol"`
	Foam        float64 `json:"foam"`
	AbsMomentum float64 `json:"abs_momentum"`
	RelStrength float64 `json:"rel_strength"`
	RankAbs     int     `json:"rank_abs"`
	RankRel     int     `json:"rank_rel"`
	Score       float64 `json:"score"`
}

// RankFoam orders candidates by foam, strongest first.
func RankFoam(cands []Candidate) {
	sortBySymbol(cands)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Foam > cands[j].Foam })
}

// RankWeakest assigns ascending 0-based ranks for absolute momentum and
// relative strength and orders by 0.6*rank_abs + 0.4*rank_rel, weakest first.
func RankWeakest(cands []Candidate) {
	sortBySymbol(cands)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].AbsMomentum < cands[j].AbsMomentum })
	for i := range cands {
		cands[i].RankAbs = i
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].RelStrength < cands[j].RelStrength })
	for i := range cands {
		cands[i].RankRel = i
		cands[i].Score = 0.6*float64(cands[i].RankAbs) + 0.4*float64(cands[i].RankRel)
	}
	sortBySymbol(cands)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score < cands[j].Score })
}

func sortBySymbol(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Symbol < cands[j].Symbol })
}
