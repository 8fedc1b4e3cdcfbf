package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/trailstop/internal/domain"
	"github.com/alanyoungcy/trailstop/internal/server/handler"
)

type emptyTrades struct{}

func (emptyTrades) RecordTrade(_ context.Context, t domain.TradeRecord) (domain.TradeRecord, error) {
	return t, nil
}

func (emptyTrades) ImportTrades(_ context.Context, trades []domain.TradeRecord) (int, error) {
	return len(trades), nil
}

func (emptyTrades) ListTrades(context.Context, string, domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (emptyTrades) Holdings(context.Context, string) (domain.Holding, error) {
	return domain.Holding{}, domain.ErrNotFound
}

func (emptyTrades) AllHoldings(context.Context) ([]domain.Holding, error) { return nil, nil }

func newTestServer(apiKey string) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(Config{Port: 0, APIKey: apiKey}, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Status:   handler.NewStatusHandler("api", "paper", nil),
		Trades:   handler.NewTradeHandler(emptyTrades{}, logger),
		Holdings: handler.NewHoldingsHandler(emptyTrades{}, logger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	}, nil, logger)
}

func TestServer_Routes(t *testing.T) {
	h := newTestServer("k").Handler()

	tests := []struct {
		method, path string
		key          bool
		want         int
	}{
		{http.MethodGet, "/api/health", false, http.StatusOK},
		{http.MethodGet, "/metrics", false, http.StatusOK},
		{http.MethodGet, "/api/status", false, http.StatusUnauthorized},
		{http.MethodGet, "/api/status", true, http.StatusOK},
		{http.MethodGet, "/api/holdings", true, http.StatusOK},
		{http.MethodGet, "/api/holdings/BTC", true, http.StatusNotFound},
		// No reconciler in this process.
		{http.MethodGet, "/api/stops", true, http.StatusNotFound},
		{http.MethodPost, "/api/paper/price", true, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.key {
				req.Header.Set("X-API-Key", "k")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
