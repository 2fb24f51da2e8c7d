package futures_usdt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"hedge-core/pkg/cache"
	"hedge-core/pkg/exchanges/common"
)

var log = logrus.WithField("component", "binance_usdt")

const (
	mainnetURL = "https://fapi.binance.com"
	testnetURL = "https://testnet.binancefuture.com"

	marketTTL = time.Hour
	tickerTTL = 5 * time.Second
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
	BaseURL    string
	// RequestsPerSecond paces outgoing calls before the exchange does.
	RequestsPerSecond float64
}

// Client handles Binance USDT-M futures.
type Client struct {
	cfg         Config
	http        *resty.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	pacer       *rate.Limiter

	marketsMu     sync.Mutex
	marketsLoaded time.Time
	markets       *cache.Sharded[common.MarketInfo]
	tickers       *cache.Sharded[common.Ticker]
}

var _ common.Exchange = (*Client)(nil)

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = mainnetURL
		if cfg.Testnet {
			base = testnetURL
		}
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}

	c := &Client{
		cfg:         cfg,
		rateLimiter: common.NewRateLimiter(2400, time.Minute),
		pacer:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)*2),
		markets:     cache.New[common.MarketInfo](),
		tickers:     cache.New[common.Ticker](),
	}
	c.http = resty.New().
		SetBaseURL(base).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryReads).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if s, err := strconv.Atoi(resp.Header().Get("Retry-After")); err == nil {
					return time.Duration(s) * time.Second, nil
				}
			}
			return 0, nil
		})
	c.timeSync = common.NewTimeSync(c.ServerTime)
	return c
}

// retryReads retries idempotent reads only; order placement is never replayed.
func retryReads(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return true
	}
	return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
}

// StartTimeSync keeps the signing clock aligned with the server.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

// SyncTime aligns the signing clock once.
func (c *Client) SyncTime(ctx context.Context) error {
	return c.timeSync.Sync(ctx)
}

// Usage reports the weight used in the current window.
func (c *Client) Usage() (used, limit int, pct float64) {
	return c.rateLimiter.GetUsage()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doPublic(ctx, "/fapi/v1/ping", nil)
	return err
}

// ServerTime fetches futures server time in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, errors.Wrap(err, "decode server time")
	}
	return res.ServerTime, nil
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

func (c *Client) wait(ctx context.Context) error {
	if c.rateLimiter.ShouldDelay() {
		pause := c.rateLimiter.WindowRemaining()
		if pause > 5*time.Second {
			pause = 5 * time.Second
		}
		log.Warnf("⚠️ request weight above 90%%, pausing %s", pause)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
	return c.pacer.Wait(ctx)
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryString(params.Encode())
	}
	resp, err := req.Get(path)
	return c.handle(http.MethodGet, path, resp, err)
}

// doSigned handles signing and sending authenticated requests.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance usdt futures: API key/secret required")
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))
	encoded := params.Encode()

	req := c.http.R().SetContext(ctx).SetHeader("X-MBX-APIKEY", c.cfg.APIKey)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req.SetQueryString(encoded)
	default:
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded").SetBody(encoded)
	}
	resp, err := req.Execute(method, path)
	return c.handle(method, path, resp, err)
}

func (c *Client) handle(method, path string, resp *resty.Response, err error) ([]byte, error) {
	if err != nil {
		return nil, errors.Wrapf(err, "binance usdt futures %s %s", method, path)
	}
	c.rateLimiter.UpdateFromHeader(resp.Header().Get("X-MBX-USED-WEIGHT-1M"))

	body := resp.Body()
	if resp.StatusCode() >= 300 {
		apiErr := &common.APIError{Status: resp.StatusCode()}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		return nil, errors.Wrapf(apiErr, "binance usdt futures %s %s", method, path)
	}
	return body, nil
}
