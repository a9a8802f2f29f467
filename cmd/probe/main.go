// Command probe checks what the dashboard would ingest for one symbol:
// the live ticker price and the most recent klines, including how a
// rate-limit response would be classified.
//
// Usage: probe [-base URL] [-interval 1m] [-limit 5] SYMBOL
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yehancha/crypto-dashboard/internal/domain"
	"github.com/yehancha/crypto-dashboard/internal/infrastructure/exchange"
)

func main() {
	base := flag.String("base", exchange.DefaultBaseURL, "Binance REST base URL")
	interval := flag.String("interval", "1m", "kline interval")
	limit := flag.Int("limit", 5, "number of klines to fetch")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: probe [flags] SYMBOL")
		flag.PrintDefaults()
		os.Exit(2)
	}
	symbol := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := exchange.NewBinanceClient(*base)

	prices, err := client.GetPrices(ctx, []string{symbol})
	if err != nil {
		report(err)
		os.Exit(1)
	}
	fmt.Printf("Ticker price %s: %v\n", symbol, prices[symbol])

	candles, err := client.GetKlines(ctx, symbol, *interval, *limit)
	if err != nil {
		report(err)
		os.Exit(1)
	}
	fmt.Printf("Klines %s %s (last row is the forming candle):\n", symbol, *interval)
	for _, c := range candles {
		fmt.Printf("  %s  O=%s H=%s L=%s C=%s V=%s\n",
			time.UnixMilli(c.OpenTime).UTC().Format(time.RFC3339),
			c.Open, c.High, c.Low, c.Close, c.Volume)
	}
}

func report(err error) {
	if domain.IsRateLimit(err) {
		fmt.Fprintf(os.Stderr, "RATE LIMITED: %v (advised retry after %s)\n", err, domain.RetryAfter(err))
		return
	}
	fmt.Fprintf(os.Stderr, "fetch failed: %v\n", err)
}
