package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/5ou1e/CryptoStorage-sub000/internal/storage"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestOnConflict_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := OnConflict(context.Background(), fastPolicy(5), "load", func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("apply batch: %w", storage.ErrConflict)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestOnConflict_StopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := OnConflict(context.Background(), fastPolicy(5), "load", func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOnConflict_Exhausted(t *testing.T) {
	calls := 0
	retries := 0
	p := fastPolicy(4)
	p.OnRetry = func(int, error) { retries++ }
	err := OnConflict(context.Background(), p, "load", func(context.Context) error {
		calls++
		return storage.ErrConflict
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("err = %v, want wrapped ErrConflict", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if retries != 3 {
		t.Errorf("retries = %d, want 3", retries)
	}
}

func TestOnConflict_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := OnConflict(ctx, fastPolicy(5), "load", func(context.Context) error {
		return storage.ErrConflict
	})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
