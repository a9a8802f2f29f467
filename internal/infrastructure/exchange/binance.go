package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

const DefaultBaseURL = "https://api.binance.com"

// BinanceClient talks to the Binance spot REST API. Only public market-data
// endpoints are used, so no request signing is involved.
type BinanceClient struct {
	baseURL string
	client  *http.Client
}

var _ domain.MarketDataSource = (*BinanceClient)(nil)

func NewBinanceClient(baseURL string) *BinanceClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &BinanceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// GetPrices fetches the latest traded price for every requested symbol in a
// single batch call.
func (b *BinanceClient) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	list, err := json.Marshal(symbols)
	if err != nil {
		return nil, fmt.Errorf("binance: encode symbol list: %w", err)
	}

	body, err := b.get(ctx, "/api/v3/ticker/price?symbols="+url.QueryEscape(string(list)))
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode ticker prices: %w", err)
	}

	prices := make(map[string]float64, len(rows))
	for _, row := range rows {
		price, err := strconv.ParseFloat(row.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("binance: ticker price for %s: %w", row.Symbol, err)
		}
		prices[row.Symbol] = price
	}
	return prices, nil
}

// GetKlines fetches up to limit klines for the symbol and interval. Binance
// returns rows oldest first with the running interval's forming candle
// last; rows are passed through in that order.
func (b *BinanceClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", interval)
	query.Set("limit", strconv.Itoa(limit))

	body, err := b.get(ctx, "/api/v3/klines?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("binance: kline row %d for %s: %w", i, symbol, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseKlineRow decodes one kline array: open time, then the OHLCV price
// strings. Fields past the volume are ignored.
func parseKlineRow(row []any) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}
	openTime, ok := row[0].(float64)
	if !ok {
		return domain.Candle{}, errors.New("open time is not a number")
	}
	fields := make([]string, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return domain.Candle{}, fmt.Errorf("field %d is not a string", i)
		}
		fields[i-1] = s
	}
	return domain.NewCandle(int64(openTime), fields[0], fields[1], fields[2], fields[3], fields[4])
}

func (b *BinanceClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("binance: read response: %w", err)
	}

	// 429 is the generic throttle; 418 is the IP ban Binance escalates to.
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
		return nil, &domain.RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
