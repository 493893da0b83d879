package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/5ou1e/CryptoStorage-sub000/internal/address"
	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/query"
	"github.com/5ou1e/CryptoStorage-sub000/internal/storage/memory"
)

type fakeService struct {
	err error
}

func (f *fakeService) GetWalletByAddress(_ context.Context, addr string) (*query.WalletDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &query.WalletDetails{Wallet: &domain.Wallet{ID: 7, Address: addr}, Stats: &domain.WalletStats{}}, nil
}

func (f *fakeService) GetRelatedWallets(_ context.Context, addr string) (*domain.RelatedWallets, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := &domain.RelatedWallets{}
	r.Add(domain.CategoryCopiedBy, &domain.RelatedWallet{Address: "follower"})
	return r, nil
}

func (f *fakeService) TriggerRefresh(_ context.Context, addr string) (*domain.RefreshJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RefreshJob{ID: "job-1", WalletAddress: addr, Status: domain.JobPending}, nil
}

func (f *fakeService) PollRefresh(_ context.Context, id string) (*domain.RefreshJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RefreshJob{ID: id, Status: domain.JobFailure, Error: "boom"}, nil
}

func serve(t *testing.T, svc Service, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	NewHandler(svc, nil).ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetWallet(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodGet, "/api/v1/wallets/abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.Equal(t, "abc", body["address"])
	assert.Contains(t, body, "stats")
}

func TestGetRelated(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodGet, "/api/v1/wallets/abc/related_wallets")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	copiedBy, ok := body["copied_by_wallets"].([]any)
	require.True(t, ok)
	assert.Len(t, copiedBy, 1)
}

func TestRefreshAndPoll(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodPost, "/api/v1/wallets/abc/refresh_stats")
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "job-1", body["task_id"])
	assert.Equal(t, "pending", body["status"])

	rec = serve(t, &fakeService{}, http.MethodGet, "/api/v1/tasks/job-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "failure", body["status"])
	assert.Equal(t, "boom", body["error"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", &query.NotFoundError{Kind: "wallet", Key: "abc"}, http.StatusNotFound},
		{"invalid address", fmt.Errorf("%w: abc", address.ErrInvalid), http.StatusBadRequest},
		{"internal", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeService{err: tt.err}, http.MethodGet, "/api/v1/wallets/abc")
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestOffCurveAddressIsBadRequest(t *testing.T) {
	stores := memory.NewStores(time.Minute)
	svc := query.New(query.Deps{
		Wallets: stores.Wallets,
		Stats:   stores.Stats,
		Cache:   stores.Related,
		Jobs:    stores.Jobs,
	}, query.Options{})

	// 32 bytes of 0x02 decode fine but are not an ed25519 point.
	offCurve := base58.Encode(bytes.Repeat([]byte{2}, 32))
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/wallets/" + offCurve},
		{http.MethodGet, "/api/v1/wallets/" + offCurve + "/related_wallets"},
		{http.MethodPost, "/api/v1/wallets/" + offCurve + "/refresh_stats"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := serve(t, svc, tt.method, tt.path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], "off curve")
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodGet, "/api/v1/wallets/abc/refresh_stats")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := serve(t, &fakeService{}, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}
