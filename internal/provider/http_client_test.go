package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testQuote = "So11111111111111111111111111111111111111112"

func newTestClient(url string, opts ...ClientOption) *HTTPClient {
	opts = append([]ClientOption{WithRateLimit(1000), WithRetryDelay(time.Millisecond)}, opts...)
	return NewHTTPClient(url, testQuote, opts...)
}

func TestHTTPClient_FetchSwaps(t *testing.T) {
	start := time.Date(2025, 1, 12, 7, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != swapsPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "key-1" {
			t.Errorf("expected api key key-1, got %q", got)
		}

		var req swapsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Offset != 200 || req.Limit != 100 {
			t.Errorf("expected offset 200 limit 100, got %d/%d", req.Offset, req.Limit)
		}
		if !req.Start.Equal(start) {
			t.Errorf("expected start %v, got %v", start, req.Start)
		}
		if len(req.ExcludedMints) != 2 {
			t.Errorf("expected blacklist plus quote mint, got %v", req.ExcludedMints)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "completed",
			"rows": []map[string]interface{}{{
				"tx_id":            "tx1",
				"block_id":         310000000,
				"swapper":          "Wallet1",
				"swap_from_mint":   testQuote,
				"swap_to_mint":     "TokenA",
				"swap_from_amount": "1.5",
				"swap_to_amount":   1000,
				"block_timestamp":  "2025-01-12T07:00:05Z",
			}},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, WithBlacklist([]string{"Blocked", testQuote}))
	rows, err := client.FetchSwaps(context.Background(), "key-1", Query{
		Start: start, End: start.Add(5 * time.Minute), Offset: 200, Limit: 100,
	})
	if err != nil {
		t.Fatalf("FetchSwaps: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	r := rows[0]
	if r.TxID != "tx1" || r.BlockID != 310000000 || r.Swapper != "Wallet1" {
		t.Errorf("unexpected row: %+v", r)
	}
	if r.FromAmount.String() != "1.5" || r.ToAmount.String() != "1000" {
		t.Errorf("unexpected amounts %s/%s", r.FromAmount, r.ToAmount)
	}
	if !r.BlockTimestamp.Equal(start.Add(5 * time.Second)) {
		t.Errorf("unexpected timestamp %v", r.BlockTimestamp)
	}
}

func TestHTTPClient_QuotaExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":"no credits"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchSwaps(context.Background(), "k", Query{Limit: 10})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if !IsCredentialError(err) {
		t.Error("quota error must be a credential error")
	}
	if calls.Load() != 1 {
		t.Errorf("402 must not be retried, got %d calls", calls.Load())
	}
}

func TestHTTPClient_QueryCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "cancelled", "error": "QUERY_RUN_CANCELLED"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).FetchSwaps(context.Background(), "k", Query{Limit: 10})
	if !errors.Is(err, ErrQueryCancelled) {
		t.Fatalf("expected ErrQueryCancelled, got %v", err)
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "completed", "rows": []interface{}{}})
	}))
	defer server.Close()

	rows, err := newTestClient(server.URL).FetchSwaps(context.Background(), "k", Query{Limit: 10})
	if err != nil {
		t.Fatalf("FetchSwaps: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected empty page, got %d rows", len(rows))
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, WithMaxRetries(1)).FetchSwaps(context.Background(), "k", Query{Limit: 10})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsCredentialError(err) {
		t.Errorf("rate limiting must not rotate credentials: %v", err)
	}
}
