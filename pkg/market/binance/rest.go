// Package market reads public Binance spot market data. The rebalance
// screener uses it for coin/BTC pairs, which only exist on spot.
package market

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"hedge-core/pkg/exchanges/common"
)

// ErrUnknownSymbol is returned when the spot venue does not list the pair.
var ErrUnknownSymbol = errors.New("spot symbol not listed")

const codeInvalidSymbol = -1121

// Client wraps public REST access to Binance spot.
type Client struct {
	http *resty.Client
}

// NewClient builds a REST client. baseURL may be empty for mainnet.
func NewClient(baseURL string, testnet bool) *Client {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
		if testnet {
			baseURL = "https://testnet.binance.vision"
		}
	}
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
	}
}

// GetKlines fetches the most recent klines, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	req := c.http.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("interval", interval)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	res, err := req.Get("/api/v3/klines")
	if err != nil {
		return nil, errors.Wrapf(err, "binance spot klines %s", symbol)
	}
	if res.StatusCode() != http.StatusOK {
		var apiErr common.APIError
		if json.Unmarshal(res.Body(), &apiErr) == nil && apiErr.Code == codeInvalidSymbol {
			return nil, ErrUnknownSymbol
		}
		return nil, errors.Errorf("binance spot klines %s status %d: %s", symbol, res.StatusCode(), res.String())
	}

	var raw [][]any
	if err := json.Unmarshal(res.Body(), &raw); err != nil {
		return nil, errors.Wrap(err, "decode spot klines")
	}
	out := make([]common.Candle, 0, len(raw))
	for _, item := range raw {
		if len(item) < 6 {
			continue
		}
		out = append(out, common.Candle{
			Timestamp: time.UnixMilli(toInt64(item[0])).UTC(),
			Open:      toFloat(item[1]),
			High:      toFloat(item[2]),
			Low:       toFloat(item[3]),
			Close:     toFloat(item[4]),
			Volume:    toFloat(item[5]),
		})
	}
	return out, nil
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case float64:
		return x
	}
	return 0
}

func toInt64(v any) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	}
	return 0
}
