package futures_usdt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"hedge-core/pkg/exchanges/common"
)

// FetchOrderBook returns the top `limit` levels of the book.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string, limit int) (common.OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depthLimit(limit)))
	body, err := c.doPublic(ctx, "/fapi/v1/depth", params)
	if err != nil {
		return common.OrderBook{}, err
	}
	var raw struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return common.OrderBook{}, errors.Wrap(err, "decode depth")
	}
	return common.OrderBook{Symbol: symbol, Bids: levels(raw.Bids), Asks: levels(raw.Asks)}, nil
}

// depthLimit snaps to the sizes the depth endpoint accepts.
func depthLimit(n int) int {
	for _, allowed := range []int{5, 10, 20, 50, 100, 500, 1000} {
		if n <= allowed {
			return allowed
		}
	}
	return 1000
}

func levels(raw [][]string) []common.Level {
	out := make([]common.Level, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		out = append(out, common.Level{Price: parseFloat(l[0]), Qty: parseFloat(l[1])})
	}
	return out
}

// FetchTickers returns mark prices for the given symbols in one call. Prices
// younger than tickerTTL are served from cache.
func (c *Client) FetchTickers(ctx context.Context, symbols []string) (map[string]common.Ticker, error) {
	out := make(map[string]common.Ticker, len(symbols))
	missing := false
	for _, s := range symbols {
		t, ok := c.tickers.GetFresh(s, tickerTTL)
		if !ok {
			missing = true
			break
		}
		out[s] = t
	}
	if !missing {
		return out, nil
	}

	body, err := c.doPublic(ctx, "/fapi/v1/premiumIndex", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "decode premium index")
	}

	want := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		want[s] = struct{}{}
	}
	for _, r := range raw {
		t := common.Ticker{Symbol: r.Symbol, MarkPrice: parseFloat(r.MarkPrice)}
		c.tickers.Set(r.Symbol, t)
		if _, ok := want[r.Symbol]; ok {
			out[r.Symbol] = t
		}
	}
	return out, nil
}

// Fetch24hTickers returns rolling 24h statistics for every symbol.
func (c *Client) Fetch24hTickers(ctx context.Context) ([]common.Ticker24h, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		Volume      string `json:"volume"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "decode 24h tickers")
	}
	out := make([]common.Ticker24h, 0, len(raw))
	for _, r := range raw {
		out = append(out, common.Ticker24h{
			Symbol:      r.Symbol,
			LastPrice:   parseFloat(r.LastPrice),
			Volume:      parseFloat(r.Volume),
			QuoteVolume: parseFloat(r.QuoteVolume),
		})
	}
	return out, nil
}

// FetchCandles returns the latest `limit` klines, oldest first.
func (c *Client) FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}
	return decodeCandles(body)
}

func decodeCandles(body []byte) ([]common.Candle, error) {
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "decode klines")
	}
	out := make([]common.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		out = append(out, common.Candle{
			Timestamp: time.UnixMilli(toInt64(k[0])).UTC(),
			Open:      toFloat(k[1]),
			High:      toFloat(k[2]),
			Low:       toFloat(k[3]),
			Close:     toFloat(k[4]),
			Volume:    toFloat(k[5]),
		})
	}
	return out, nil
}

// Market returns trading rules for a symbol, loading exchangeInfo lazily.
func (c *Client) Market(ctx context.Context, symbol string) (common.MarketInfo, error) {
	symbol = strings.ToUpper(symbol)
	if err := c.ensureMarkets(ctx); err != nil {
		return common.MarketInfo{}, err
	}
	m, ok := c.markets.Get(symbol)
	if !ok {
		return common.MarketInfo{}, fmt.Errorf("market %s not found", symbol)
	}
	return m, nil
}

func (c *Client) ensureMarkets(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()
	if !c.marketsLoaded.IsZero() && time.Since(c.marketsLoaded) < marketTTL {
		return nil
	}

	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return err
	}
	var info struct {
		Symbols []struct {
			Symbol       string `json:"symbol"`
			Status       string `json:"status"`
			ContractType string `json:"contractType"`
			BaseAsset    string `json:"baseAsset"`
			QuoteAsset   string `json:"quoteAsset"`
			Filters      []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return errors.Wrap(err, "decode exchange info")
	}

	loaded := 0
	for _, s := range info.Symbols {
		if s.ContractType != "" && s.ContractType != "PERPETUAL" {
			continue
		}
		m := common.MarketInfo{Symbol: s.Symbol, Base: s.BaseAsset, Quote: s.QuoteAsset, Status: s.Status}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				m.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				m.StepSize = parseFloat(f.StepSize)
				m.MinQty = parseFloat(f.MinQty)
			}
		}
		c.markets.Set(s.Symbol, m)
		loaded++
	}
	c.marketsLoaded = time.Now()
	log.Infof("✓ loaded %d perpetual markets", loaded)
	return nil
}
