package futures_usdt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hedge-core/pkg/exchanges/common"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "key", APISecret: "secret", BaseURL: srv.URL, RequestsPerSecond: 1000})
}

func TestSubmitPostOnlyOrder(t *testing.T) {
	var form url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/fapi/v1/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("X-MBX-USED-WEIGHT-1M", "12")
		io.WriteString(w, `{"symbol":"BTCUSDT","orderId":42,"clientOrderId":"hc-1","status":"NEW","price":"50000","origQty":"0.01","executedQty":"0"}`)
	})

	res, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        common.SideSell,
		Type:        common.OrderTypeLimit,
		Qty:         0.01,
		Price:       50000,
		TimeInForce: common.TIFGTX,
		ReduceOnly:  true,
		ClientID:    "hc-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", res.ExchangeOrderID)
	assert.Equal(t, common.StatusNew, res.Status)

	assert.Equal(t, "GTX", form.Get("timeInForce"))
	assert.Equal(t, "true", form.Get("reduceOnly"))
	assert.Equal(t, "0.01", form.Get("quantity"))
	assert.NotEmpty(t, form.Get("signature"))
	assert.NotEmpty(t, form.Get("timestamp"))

	used, _, _ := c.Usage()
	assert.Equal(t, 12, used)
}

func TestStopMarketCarriesStopPrice(t *testing.T) {
	var form url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		io.WriteString(w, `{"orderId":7,"status":"NEW"}`)
	})
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{
		Symbol: "ETHUSDT", Side: common.SideSell, Type: common.OrderTypeStopMarket,
		Qty: 1, StopPrice: 2950.5, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "2950.5", form.Get("stopPrice"))
	assert.Empty(t, form.Get("price"))
	assert.Empty(t, form.Get("timeInForce"))
}

func TestAPIErrorDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-5022,"msg":"Due to the order could not be executed as maker, the Post Only order will be rejected."}`)
	})
	_, err := c.SubmitOrder(context.Background(), common.OrderRequest{Symbol: "BTCUSDT", Type: common.OrderTypeLimit})
	require.Error(t, err)

	var apiErr *common.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, common.CodePostOnlyRejected, apiErr.Code)
	assert.True(t, apiErr.IsRetryable())
}

func TestFetchTickersBatchedAndCached(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/premiumIndex", r.URL.Path)
		assert.Empty(t, r.URL.Query().Get("symbol"))
		atomic.AddInt32(&calls, 1)
		io.WriteString(w, `[{"symbol":"BTCUSDT","markPrice":"55000"},{"symbol":"ETHUSDT","markPrice":"3000"},{"symbol":"XRPUSDT","markPrice":"0.5"}]`)
	})

	got, err := c.FetchTickers(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 55000.0, got["BTCUSDT"].MarkPrice)

	_, err = c.FetchTickers(context.Background(), []string{"BTCUSDT", "XRPUSDT"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMarketAndCandles(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			io.WriteString(w, `{"symbols":[
				{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","baseAsset":"BTC","quoteAsset":"USDT",
				 "filters":[{"filterType":"PRICE_FILTER","tickSize":"0.10"},{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"}]},
				{"symbol":"BTCUSDT_250926","status":"TRADING","contractType":"CURRENT_QUARTER","baseAsset":"BTC","quoteAsset":"USDT","filters":[]}]}`)
		case "/fapi/v1/klines":
			assert.Equal(t, "1d", r.URL.Query().Get("interval"))
			io.WriteString(w, `[[1700000000000,"100","110","90","105","1234.5",1700086399999,"0",1,"0","0","0"],
				[1700086400000,"105","120","100","118","2000",1700172799999,"0",1,"0","0","0"]]`)
		default:
			http.NotFound(w, r)
		}
	})

	m, err := c.Market(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC", m.Base)
	assert.Equal(t, 0.1, m.TickSize)
	assert.Equal(t, 0.001, m.MinQty)

	_, err = c.Market(context.Background(), "BTCUSDT_250926")
	assert.Error(t, err)

	candles, err := c.FetchCandles(context.Background(), "BTCUSDT", "1d", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 105.0, candles[0].Close)
	assert.Equal(t, 2000.0, candles[1].Volume)
	assert.True(t, candles[0].Timestamp.Before(candles[1].Timestamp))
}

func TestSignedRequiresCredentials(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0"})
	_, err := c.FetchPositions(context.Background())
	assert.Error(t, err)
}
