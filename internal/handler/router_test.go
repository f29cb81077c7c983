package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/vpswatch/internal/hub"
	"github.com/hitoshi/vpswatch/internal/middleware"
	"github.com/hitoshi/vpswatch/internal/model"
)

type okPinger struct{}

func (okPinger) PingContext(context.Context) error { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(100),
		Burst:           100,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	reg := prometheus.NewRegistry()

	return NewRouter(&RouterDeps{
		Logger:            discardLogger(),
		CORSAllowedOrigin: "http://localhost:3000",
		CronSecret:        "topsecret",
		RateLimiter:       rl,
		Poller:            &mockPollRunner{summary: &model.PollSummary{ModelsChecked: 6}},
		Dispatcher:        &mockDispatchRunner{summary: &model.ProcessingSummary{}},
		Breaker:           &mockBreakerController{snapshot: model.BreakerSnapshot{State: "CLOSED"}},
		StatusRepo:        &mockStatusReader{records: seedStatusRecords()},
		Hub:               hub.New(0, nopHubMetrics{}, discardLogger()),
		HubMaxConn:        hub.DefaultMaxConnections,
		DB:                okPinger{},
		MetricsGatherer:   reg,
	})
}

func TestRouter_CronEndpointsRequireSecret(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/cron/poll"},
		{http.MethodPost, "/api/cron/dispatch"},
		{http.MethodGet, "/api/admin/breaker"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusUnauthorized {
				t.Errorf("status without secret = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
			}

			req = httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set(middleware.CronSecretHeader, "topsecret")
			w = httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Result().StatusCode != http.StatusOK {
				t.Errorf("status with secret = %d, want %d", w.Result().StatusCode, http.StatusOK)
			}
		})
	}
}

func TestRouter_PublicStatusEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_Healthz(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_UnknownPathReturns404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}
