package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/xela07ax/approval-relay/internal/api/handler"
	"github.com/xela07ax/approval-relay/internal/domain"
	"go.uber.org/zap"
)

type stubService struct{}

func (stubService) SubmitEvent(context.Context, domain.InboundEvent) error { return nil }
func (stubService) QueryStatus(context.Context, string) (domain.RequestState, error) {
	return domain.StatePending, nil
}
func (stubService) HandleAction(context.Context, string, domain.MessageRef) error { return nil }
func (stubService) HandleCommand(context.Context, int64, string) error            { return nil }

type stubAcker struct{}

func (stubAcker) AnswerCallback(context.Context, string) error { return nil }

func newTestServer(t *testing.T) *RelayServer {
	t.Helper()
	logger := zap.NewNop()
	svc := stubService{}
	return NewRelayServer(
		logger,
		handler.NewEventHandler(svc),
		handler.NewStatusHandler(svc),
		handler.NewWebhookHandler(svc, stubAcker{}, logger),
		prometheus.NewRegistry(),
	)
}

func TestRouting(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		method string
		path   string
		body   string
		code   int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodPost, "/notify", `{"event":"permission_requested","machine_id":"mac-001"}`, http.StatusOK},
		{http.MethodGet, "/check_status/mac-001", "", http.StatusOK},
		{http.MethodPost, "/telegram", `{}`, http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		// Контракт только из этих маршрутов
		{http.MethodGet, "/notify", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/no-such-route", "", http.StatusNotFound},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, tc.code, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestHealthzBody(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
