package rebalance

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"hedge-core/internal/events"
	"hedge-core/internal/tradeerr"
	"hedge-core/pkg/config"
	"hedge-core/pkg/exchanges/common"
)

var log = logrus.WithField("component", "rebalance")

const (
	dailyInterval  = "1d"
	btcReference   = "BTCUSDT"
	candleFetchers = 8
)

// SpotKlines serves candles for spot pairs such as ETHBTC.
type SpotKlines interface {
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error)
}

// Notifier receives user-facing log lines.
type Notifier interface {
	Logf(level, format string, args ...any)
}

type logNotifier struct{}

func (logNotifier) Logf(level, format string, args ...any) {
	if level == events.LevelWarning || level == events.LevelError {
		log.Warnf(format, args...)
		return
	}
	log.Infof(format, args...)
}

// Screener ranks short candidates from market data.
type Screener struct {
	ex     common.Exchange
	spot   SpotKlines
	notify Notifier
}

// NewScreener creates a screener. spot may be nil, in which case coin/BTC
// series are always synthesized from futures candles.
func NewScreener(ex common.Exchange, spot SpotKlines, n Notifier) *Screener {
	if n == nil {
		n = logNotifier{}
	}
	return &Screener{ex: ex, spot: spot, notify: n}
}

type liquidCoin struct {
	coin   string
	symbol string
}

type coinSeries struct {
	liquidCoin
	quote []common.Candle
	btc   []common.Candle
}

// Screen returns the top_n base coins of shortPool by the chosen method.
// snapshot is the 24h ticker list used for the liquidity filter.
func (s *Screener) Screen(ctx context.Context, c Criteria, snapshot []common.Ticker24h, shortPool []string) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s.notify.Logf(events.LevelInfo, "screening with %s, top %d", c.Method, c.TopN)

	liquid := s.liquidity(c, snapshot, shortPool)
	if len(liquid) == 0 {
		return nil, tradeerr.Validationf("no coins passed the liquidity filter; check the short pool or lower the volume threshold")
	}
	s.notify.Logf(events.LevelInfo, "%d coins passed the liquidity filter", len(liquid))

	series, err := s.fetchSeries(ctx, c, liquid)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, tradeerr.Validationf("no candle data for any liquid coin")
	}

	kept := series[:0]
	for _, cs := range series {
		spiked, ok := VolumeSpike(cs.quote, c.VolumeMADays, c.VolumeSpikeRatio)
		if !ok {
			continue
		}
		if spiked {
			s.notify.Logf(events.LevelInfo, "excluding %s: volume spike above %vx its %d-day mean", cs.coin, c.VolumeSpikeRatio, c.VolumeMADays)
			continue
		}
		kept = append(kept, cs)
	}

	cands := make([]Candidate, 0, len(kept))
	for _, cs := range kept {
		cand := Candidate{Symbol: cs.coin}
		switch c.Method {
		case config.MethodFoam:
			v, ok := PctChange(cs.quote, c.FoamDays)
			if !ok {
				continue
			}
			cand.Foam = v
		case config.MethodMultiFactorWeakest:
			abs, ok := PctChange(cs.quote, c.AbsMomentumDays)
			if !ok {
				continue
			}
			cand.AbsMomentum = abs
			cand.RelStrength = abs
			if rel, ok := PctChange(cs.btc, c.RelStrengthDays); ok {
				cand.RelStrength = rel
			}
		}
		cands = append(cands, cand)
	}

	if c.Method == config.MethodFoam {
		RankFoam(cands)
	} else {
		RankWeakest(cands)
	}
	if len(cands) > c.TopN {
		cands = cands[:c.TopN]
	}
	out := make([]string, len(cands))
	for i, cand := range cands {
		out[i] = cand.Symbol
	}
	s.notify.Logf(events.LevelSuccess, "screening selected %d coins", len(out))
	return out, nil
}

// liquidity keeps pool coins that trade against an accepted quote with
// enough 24h quote volume. The first quote in preference order wins.
func (s *Screener) liquidity(c Criteria, snapshot []common.Ticker24h, shortPool []string) []liquidCoin {
	volumes := make(map[string]float64, len(snapshot))
	for _, t := range snapshot {
		volumes[t.Symbol] = t.QuoteVolume
	}
	exclude := upperSet(c.Exclude)

	var pool []string
	if len(shortPool) > 0 {
		for coin := range upperSet(shortPool) {
			pool = append(pool, coin)
		}
	} else {
		pool = basesOf(snapshot, c.quotes())
	}
	sort.Strings(pool)

	out := make([]liquidCoin, 0, len(pool))
	for _, coin := range pool {
		if exclude[coin] {
			continue
		}
		for _, q := range c.quotes() {
			sym := coin + q
			if v, ok := volumes[sym]; ok && v > c.MinVolumeUSD {
				out = append(out, liquidCoin{coin: coin, symbol: sym})
				break
			}
		}
	}
	return out
}

func basesOf(snapshot []common.Ticker24h, quotes []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range snapshot {
		for _, q := range quotes {
			if base, ok := strings.CutSuffix(t.Symbol, q); ok && base != "" && !seen[base] {
				seen[base] = true
				out = append(out, base)
				break
			}
		}
	}
	return out
}

// fetchSeries loads daily candles per coin concurrently. Coins whose
// candles cannot be loaded are dropped with a warning.
func (s *Screener) fetchSeries(ctx context.Context, c Criteria, liquid []liquidCoin) ([]coinSeries, error) {
	days := c.historyDays()
	weakest := c.Method == config.MethodMultiFactorWeakest

	var btcRef []common.Candle
	if weakest {
		ref, err := s.ex.FetchCandles(ctx, btcReference, dailyInterval, days)
		if err != nil {
			log.Warnf("⚠️ BTC reference series unavailable: %v", err)
		}
		btcRef = ref
	}

	var (
		mu  sync.Mutex
		out = make([]coinSeries, 0, len(liquid))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(candleFetchers)
	for _, lc := range liquid {
		lc := lc
		g.Go(func() error {
			quote, err := s.ex.FetchCandles(gctx, lc.symbol, dailyInterval, days)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.WithField("symbol", lc.symbol).Warnf("⚠️ candles unavailable: %v", err)
				return nil
			}
			cs := coinSeries{liquidCoin: lc, quote: quote}
			if weakest {
				cs.btc = s.btcSeries(gctx, lc.coin, quote, btcRef, c.RelStrengthDays+2)
			}
			mu.Lock()
			out = append(out, cs)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, tradeerr.Wrap(tradeerr.Interrupted, "fetch candles", "", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].coin < out[j].coin })
	return out, nil
}

// btcSeries prefers the spot COINBTC pair and falls back to dividing the
// coin series by the BTC reference.
func (s *Screener) btcSeries(ctx context.Context, coin string, quote, btcRef []common.Candle, limit int) []common.Candle {
	if coin == "BTC" {
		return nil
	}
	if s.spot != nil {
		series, err := s.spot.GetKlines(ctx, coin+"BTC", dailyInterval, limit)
		if err == nil && len(series) > 0 {
			return series
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.WithField("coin", coin).Debugf("spot %sBTC unavailable, synthesizing: %v", coin, err)
		}
	}
	if len(btcRef) == 0 {
		return nil
	}
	return SynthesizeBTCSeries(quote, btcRef)
}
