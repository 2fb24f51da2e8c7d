package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Exchange is the capability the trading core needs from a futures venue.
type Exchange interface {
	FetchPositions(ctx context.Context) ([]PositionRisk, error)
	FetchTickers(ctx context.Context, symbols []string) (map[string]Ticker, error)
	Fetch24hTickers(ctx context.Context) ([]Ticker24h, error)
	FetchOrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error)
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	FetchOrder(ctx context.Context, symbol, orderID string) (OrderResult, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	Market(ctx context.Context, symbol string) (MarketInfo, error)
}

// Binance error codes the core reacts to.
const (
	CodeUnknown          = -1000
	CodeDisconnected     = -1001
	CodeTooManyRequests  = -1003
	CodeServerBusy       = -1008
	CodeNotRequired      = -1106
	CodeUnknownOrder     = -2011
	CodeNoSuchOrder      = -2013
	CodePostOnlyRejected = -5022
)

// APIError is a decoded exchange error response.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d (http %d): %s", e.Code, e.Status, e.Msg)
}

// IsRetryable reports transient conditions: rate limits, overload and
// post-only orders that would have matched immediately.
func (e *APIError) IsRetryable() bool {
	switch e.Code {
	case CodeDisconnected, CodeTooManyRequests, CodeServerBusy, CodePostOnlyRejected:
		return true
	}
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusTeapot || e.Status >= 500
}

// IsUnknownOrder reports that the exchange no longer knows the order.
func (e *APIError) IsUnknownOrder() bool {
	return e.Code == CodeUnknownOrder || e.Code == CodeNoSuchOrder
}

// IsUnknownOrder reports whether err is an APIError for a missing order.
func IsUnknownOrder(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.IsUnknownOrder()
}

// IsNotRequired reports the "parameter sent when not required" rejection,
// which the SL/TP path treats as accepted.
func IsNotRequired(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == CodeNotRequired
}
