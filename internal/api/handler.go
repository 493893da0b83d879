// Package api exposes the query service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/5ou1e/CryptoStorage-sub000/internal/address"
	"github.com/5ou1e/CryptoStorage-sub000/internal/domain"
	"github.com/5ou1e/CryptoStorage-sub000/internal/logging"
	"github.com/5ou1e/CryptoStorage-sub000/internal/observability"
	"github.com/5ou1e/CryptoStorage-sub000/internal/query"
)

// Service is the read side the handler serves.
type Service interface {
	GetWalletByAddress(ctx context.Context, addr string) (*query.WalletDetails, error)
	GetRelatedWallets(ctx context.Context, addr string) (*domain.RelatedWallets, error)
	TriggerRefresh(ctx context.Context, addr string) (*domain.RefreshJob, error)
	PollRefresh(ctx context.Context, id string) (*domain.RefreshJob, error)
}

var _ Service = (*query.Service)(nil)

// Handler routes the /api/v1 endpoints.
type Handler struct {
	svc    Service
	logger *zerolog.Logger
	mux    *http.ServeMux
}

// NewHandler builds the router. Health and metrics endpoints are included.
func NewHandler(svc Service, logger *zerolog.Logger) *Handler {
	h := &Handler{svc: svc, logger: logging.OrGlobal(logger), mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /api/v1/wallets/{address}", h.getWallet)
	h.mux.HandleFunc("GET /api/v1/wallets/{address}/related_wallets", h.getRelated)
	h.mux.HandleFunc("POST /api/v1/wallets/{address}/refresh_stats", h.refreshStats)
	h.mux.HandleFunc("GET /api/v1/tasks/{id}", h.getTask)
	h.mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	h.mux.Handle("GET /metrics", observability.Handler())
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	details, err := h.svc.GetWalletByAddress(r.Context(), r.PathValue("address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *Handler) getRelated(w http.ResponseWriter, r *http.Request) {
	related, err := h.svc.GetRelatedWallets(r.Context(), r.PathValue("address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, related)
}

func (h *Handler) refreshStats(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.TriggerRefresh(r.Context(), r.PathValue("address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: job.ID, Status: job.Status})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.PollRefresh(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskResponse{TaskID: job.ID, Status: job.Status, Error: job.Error})
}

type taskResponse struct {
	TaskID string           `json:"task_id"`
	Status domain.JobStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var nf *query.NotFoundError
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: nf.Error()})
	case errors.Is(err, address.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
