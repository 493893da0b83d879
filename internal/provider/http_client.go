package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 5 * time.Minute
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
	DefaultRPS         = 2.0

	swapsPath = "/v1/swaps/query"
)

// Query run states reported by the provider.
const (
	statusCompleted = "completed"
	statusCancelled = "cancelled"
	statusFailed    = "failed"
)

// HTTPClient implements Client over the provider's JSON API.
type HTTPClient struct {
	baseURL     string
	client      *http.Client
	limiter     *rate.Limiter
	quoteMint   string
	excluded    []string
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) ClientOption {
	return func(c *HTTPClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithMaxRetries sets maximum retry attempts for transport errors, 429 and 5xx.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithBlacklist excludes swaps that trade any of the given mints.
func WithBlacklist(mints []string) ClientOption {
	return func(c *HTTPClient) {
		c.excluded = append(c.excluded, mints...)
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a client for swaps against quoteMint.
// The quote mint is always part of the exclusion list so quote-to-quote
// swaps never come back.
func NewHTTPClient(baseURL, quoteMint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRPS), 1),
		quoteMint:   quoteMint,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.excluded = dedupMints(append(c.excluded, quoteMint))
	return c
}

// swapsRequest is the provider query body.
type swapsRequest struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	QuoteMint     string    `json:"quote_mint"`
	ExcludedMints []string  `json:"excluded_mints"`
	Offset        int       `json:"offset"`
	Limit         int       `json:"limit"`
}

type swapsResponse struct {
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Rows   []swapRow `json:"rows"`
}

type swapRow struct {
	TxID           string          `json:"tx_id"`
	BlockID        int64           `json:"block_id"`
	Swapper        string          `json:"swapper"`
	FromMint       string          `json:"swap_from_mint"`
	ToMint         string          `json:"swap_to_mint"`
	FromAmount     decimal.Decimal `json:"swap_from_amount"`
	ToAmount       decimal.Decimal `json:"swap_to_amount"`
	BlockTimestamp time.Time       `json:"block_timestamp"`
}

// FetchSwaps returns one page of swaps. Quota and cancellation failures are
// returned immediately as ErrQuotaExceeded and ErrQueryCancelled.
func (c *HTTPClient) FetchSwaps(ctx context.Context, apiKey string, q Query) ([]*domain.RawSwap, error) {
	body, err := json.Marshal(swapsRequest{
		Start:         q.Start.UTC(),
		End:           q.End.UTC(),
		QuoteMint:     c.quoteMint,
		ExcludedMints: c.excluded,
		Offset:        q.Offset,
		Limit:         q.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp swapsResponse
	if err := c.post(ctx, apiKey, body, &resp); err != nil {
		return nil, err
	}

	switch resp.Status {
	case statusCompleted, "":
	case statusCancelled:
		return nil, fmt.Errorf("%w: %s", ErrQueryCancelled, resp.Error)
	case statusFailed:
		return nil, fmt.Errorf("query failed: %s", resp.Error)
	default:
		return nil, fmt.Errorf("unexpected query status %q", resp.Status)
	}

	out := make([]*domain.RawSwap, 0, len(resp.Rows))
	for i := range resp.Rows {
		r := &resp.Rows[i]
		out = append(out, &domain.RawSwap{
			TxID:           r.TxID,
			BlockID:        r.BlockID,
			Swapper:        r.Swapper,
			FromMint:       r.FromMint,
			ToMint:         r.ToMint,
			FromAmount:     r.FromAmount,
			ToAmount:       r.ToAmount,
			BlockTimestamp: r.BlockTimestamp.UTC(),
		})
	}
	return out, nil
}

// post performs the request with retries and exponential backoff.
func (c *HTTPClient) post(ctx context.Context, apiKey string, body []byte, result interface{}) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+swapsPath, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, truncate(respBody))
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode >= http.StatusInternalServerError:
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody))
			continue
		case resp.StatusCode != http.StatusOK:
			// other client errors are not retried
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody))
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func dedupMints(mints []string) []string {
	seen := make(map[string]struct{}, len(mints))
	out := make([]string, 0, len(mints))
	for _, m := range mints {
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
