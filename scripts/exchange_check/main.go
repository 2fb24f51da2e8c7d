// exchange_check runs read-only calls against the configured USDT-M
// account to confirm keys, clock and connectivity before trading.
//
//	go run ./scripts/exchange_check
//
// CHECK_SYMBOL (default BTCUSDT) selects the market to probe.
package main

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"hedge-core/internal/positions"
	"hedge-core/pkg/config"
	futures "hedge-core/pkg/exchanges/binance/futures_usdt"
)

func main() {
	log := logrus.WithField("component", "exchange_check")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	symbol := os.Getenv("CHECK_SYMBOL")
	if symbol == "" {
		symbol = "BTCUSDT"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c := futures.NewClient(futures.Config{
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		Testnet:    cfg.BinanceTestnet,
		RecvWindow: cfg.RecvWindow,
	})
	if err := c.Ping(ctx); err != nil {
		log.Fatalf("❌ ping: %v", err)
	}
	if err := c.SyncTime(ctx); err != nil {
		log.Warnf("⚠️ time sync: %v", err)
	}
	log.Infof("✓ connected (testnet=%v)", cfg.BinanceTestnet)

	m, err := c.Market(ctx, symbol)
	if err != nil {
		log.Fatalf("❌ market %s: %v", symbol, err)
	}
	log.Infof("✓ %s tick=%v step=%v min=%v", m.Symbol, m.TickSize, m.StepSize, m.MinQty)

	book, err := c.FetchOrderBook(ctx, symbol, 5)
	if err != nil {
		log.Errorf("❌ order book: %v", err)
	} else if bid, ok := book.BestBid(); ok {
		ask, _ := book.BestAsk()
		log.Infof("✓ %s bid=%v ask=%v", symbol, bid, ask)
	}

	if cfg.BinanceAPIKey == "" {
		log.Warn("⚠️ BINANCE_API_KEY empty, skipping signed checks")
		return
	}
	held, err := positions.NewService(c).List(ctx, cfg.Settings.Leverage)
	if err != nil {
		log.Fatalf("❌ positions: %v", err)
	}
	for _, p := range held {
		log.Infof("  %s %s contracts=%v notional=%.2f pnl=%.2f (%.2f%%)",
			p.FullSymbol, p.Side, p.Contracts, p.Notional, p.PNL, p.PNLPercentage)
	}

	open, err := c.FetchOpenOrders(ctx, "")
	if err != nil {
		log.Fatalf("❌ open orders: %v", err)
	}
	protective := 0
	for _, o := range open {
		if o.IsProtective() {
			protective++
		}
	}
	used, limit, pct := c.Usage()
	log.Infof("✓ %d positions, %d open orders (%d protective), weight %d/%d (%.1f%%)",
		len(held), len(open), protective, used, limit, pct)
}
