package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/provider"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage/memory"
)

// fakeClient serves rows per sub-interval start and can fail chosen keys.
type fakeClient struct {
	mu        sync.Mutex
	rows      map[time.Time]int // interval start -> total rows
	badKeys   map[string]error
	calls     int
	keysSeen  []string
	pageSizes []int
}

func (f *fakeClient) FetchSwaps(_ context.Context, apiKey string, q provider.Query) ([]*domain.RawSwap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.keysSeen = append(f.keysSeen, apiKey)
	if err, ok := f.badKeys[apiKey]; ok {
		return nil, err
	}

	total := f.rows[q.Start]
	n := total - q.Offset
	if n > q.Limit {
		n = q.Limit
	}
	if n < 0 {
		n = 0
	}
	f.pageSizes = append(f.pageSizes, n)
	out := make([]*domain.RawSwap, n)
	for i := range out {
		out[i] = &domain.RawSwap{TxID: fmt.Sprintf("%s-%d", q.Start.Format(time.RFC3339), q.Offset+i)}
	}
	return out, nil
}

func TestSplitRange(t *testing.T) {
	start := time.Date(2025, 1, 12, 7, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	parts := SplitRange(start, end, 6)
	if len(parts) != 6 {
		t.Fatalf("expected 6 parts, got %d", len(parts))
	}
	for i, p := range parts {
		if p.End.Sub(p.Start) != 5*time.Minute {
			t.Errorf("part %d spans %v", i, p.End.Sub(p.Start))
		}
		if i > 0 && !p.Start.Equal(parts[i-1].End) {
			t.Errorf("part %d does not start where part %d ends", i, i-1)
		}
	}
	if !parts[5].End.Equal(end) {
		t.Errorf("last part must end at %v, got %v", end, parts[5].End)
	}

	if got := SplitRange(end, start, 3); got != nil {
		t.Errorf("empty range must produce no parts, got %v", got)
	}
}

func TestExtractor_PaginatesUntilShortPage(t *testing.T) {
	start := time.Date(2025, 1, 12, 7, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)

	creds := memory.NewCredentialStore()
	creds.Add(context.Background(), "key-1")

	client := &fakeClient{rows: map[time.Time]int{
		start:                      25,
		start.Add(5 * time.Minute): 10,
	}}
	ex := New(client, NewCredentialPool(creds, nil), Options{Workers: 2, PageLimit: 10})

	rows, err := ex.Extract(context.Background(), start, end)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != 35 {
		t.Errorf("expected 35 rows, got %d", len(rows))
	}
	// 25 rows: 10, 10, 5. 10 rows: 10, 0.
	if client.calls != 5 {
		t.Errorf("expected 5 page calls, got %d", client.calls)
	}
	if rows[0].TxID != start.Format(time.RFC3339)+"-0" {
		t.Errorf("rows must keep sub-interval order, first = %s", rows[0].TxID)
	}
}

func TestExtractor_RotatesCredentialOnQuota(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 12, 7, 0, 0, 0, time.UTC)

	creds := memory.NewCredentialStore()
	first, _ := creds.Add(ctx, "exhausted")
	creds.Add(ctx, "fresh")

	client := &fakeClient{
		rows:    map[time.Time]int{start: 3},
		badKeys: map[string]error{"exhausted": fmt.Errorf("page: %w", provider.ErrQuotaExceeded)},
	}
	ex := New(client, NewCredentialPool(creds, nil), Options{Workers: 1, PageLimit: 10})

	rows, err := ex.Extract(ctx, start, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 rows, got %d", len(rows))
	}

	next, err := creds.NextActive(ctx)
	if err != nil {
		t.Fatalf("NextActive: %v", err)
	}
	if next.ID == first.ID || next.APIKey != "fresh" {
		t.Errorf("exhausted key must be deactivated, next active = %+v", next)
	}
}

func TestExtractor_NoCredentialsLeft(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 12, 7, 0, 0, 0, time.UTC)

	creds := memory.NewCredentialStore()
	creds.Add(ctx, "a")
	creds.Add(ctx, "b")

	client := &fakeClient{badKeys: map[string]error{
		"a": provider.ErrQueryCancelled,
		"b": provider.ErrQuotaExceeded,
	}}
	ex := New(client, NewCredentialPool(creds, nil), Options{Workers: 1, PageLimit: 10})

	_, err := ex.Extract(ctx, start, start.Add(time.Minute))
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected ErrNoCredentials, got %v", err)
	}
	if !IsFatal(err) {
		t.Error("ErrNoCredentials must be fatal")
	}
}

func TestExtractor_OtherErrorsDoNotRotate(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 1, 12, 7, 0, 0, 0, time.UTC)

	creds := memory.NewCredentialStore()
	creds.Add(ctx, "only")

	boom := errors.New("boom")
	client := &fakeClient{badKeys: map[string]error{"only": boom}}
	ex := New(client, NewCredentialPool(creds, nil), Options{Workers: 1, PageLimit: 10})

	_, err := ex.Extract(ctx, start, start.Add(time.Minute))
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := creds.NextActive(ctx); err != nil {
		t.Errorf("key must stay active after a generic error: %v", err)
	}
}
