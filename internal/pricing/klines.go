package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

// Default configuration values.
const (
	DefaultKlinesURL = "https://api.binance.com/api/v3/klines"
	DefaultSymbol    = "SOLUSDT"
	DefaultTimeout   = 10 * time.Second
	DefaultRPS       = 10.0

	// MaxKlines is the exchange's page size for 1m candles.
	MaxKlines = 1000
)

// KlineClient fetches 1-minute candles over REST.
type KlineClient struct {
	url     string
	symbol  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewKlineClient creates a client. Empty url or symbol use the defaults.
func NewKlineClient(klinesURL, symbol string, rps float64) *KlineClient {
	if klinesURL == "" {
		klinesURL = DefaultKlinesURL
	}
	if symbol == "" {
		symbol = DefaultSymbol
	}
	if rps <= 0 {
		rps = DefaultRPS
	}
	return &KlineClient{
		url:     klinesURL,
		symbol:  symbol,
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Fetch returns up to MaxKlines close prices for candles opening in [start, end].
func (c *KlineClient) Fetch(ctx context.Context, start, end time.Time) ([]*domain.QuotePrice, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("symbol", c.symbol)
	q.Set("interval", "1m")
	q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	q.Set("limit", strconv.Itoa(MaxKlines))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal klines: %w", err)
	}

	out := make([]*domain.QuotePrice, 0, len(rows))
	for _, row := range rows {
		p, err := parseKline(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// parseKline reads open time (index 0) and close price (index 4).
func parseKline(row []json.RawMessage) (*domain.QuotePrice, error) {
	if len(row) < 5 {
		return nil, fmt.Errorf("kline has %d fields", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return nil, fmt.Errorf("kline open time: %w", err)
	}
	var closeStr string
	if err := json.Unmarshal(row[4], &closeStr); err != nil {
		return nil, fmt.Errorf("kline close: %w", err)
	}
	price, err := decimal.NewFromString(closeStr)
	if err != nil {
		return nil, fmt.Errorf("kline close %q: %w", closeStr, err)
	}
	return &domain.QuotePrice{
		Minute:   domain.Minute(time.UnixMilli(openMs)),
		PriceUSD: price,
	}, nil
}
