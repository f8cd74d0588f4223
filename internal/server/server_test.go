package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/events"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/health"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/metrics"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/registry"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
)

type stubAdapter struct {
	name   string
	status schema.ServiceStatus
	issues []schema.Event
}

func (s stubAdapter) Name() string { return s.name }
func (s stubAdapter) DisplayName() string { return strings.ToUpper(s.name) }
func (s stubAdapter) Capabilities() []services.Capability { return nil }
func (s stubAdapter) IsEnabled() bool { return s.status.Enabled }
func (s stubAdapter) IsInstalled() bool { return s.status.Installed }
func (s stubAdapter) IsConfigured() bool { return s.status.Configured }
func (s stubAdapter) IsHealthy() bool { return s.status.Healthy() }
func (s stubAdapter) GetStatus(context.Context) schema.ServiceStatus { return s.status }
func (s stubAdapter) RunAudit(context.Context) schema.AuditResult {
	status := schema.AuditSecure
	if len(s.issues) > 0 {
		status = schema.AuditIssuesFound
	}
	return schema.AuditResult{Service: s.name, DisplayName: s.DisplayName(), Status: status, Issues: s.issues}
}

type stubFirewall struct {
	stubAdapter
	recent []schema.Event
}

func (s stubFirewall) RecentEvents(_ context.Context, limit int) []schema.Event {
	if limit < len(s.recent) {
		return s.recent[:limit]
	}
	return s.recent
}

func blockEvent(src string) schema.Event {
	return schema.MustEvent(schema.Event{
		Timestamp:   time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC),
		Type:        schema.TypeFirewall,
		Severity:    schema.SevMedium,
		Service:     "ufw",
		Description: "UFW BLOCK TCP " + src,
		Location:    src,
	})
}

func newTestServer(t *testing.T) (*Server, *events.Bus, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	bus := events.NewBus(10, logging.Nop(), m)
	reg := registry.New()

	up := schema.ServiceStatus{Enabled: true, Installed: true, Configured: true, Running: true}
	reg.Register("clamav", func(services.Settings) (services.Adapter, error) {
		return stubAdapter{name: "clamav", status: up}, nil
	}, services.Settings{})
	reg.Register("ufw", func(services.Settings) (services.Adapter, error) {
		return stubFirewall{
			stubAdapter: stubAdapter{name: "ufw", status: up, issues: []schema.Event{blockEvent("10.0.0.9")}},
			recent:      []schema.Event{blockEvent("10.0.0.1"), blockEvent("10.0.0.2")},
		}, nil
	}, services.Settings{})
	reg.Register("trivy", func(services.Settings) (services.Adapter, error) {
		return stubAdapter{name: "trivy"}, nil
	}, services.Settings{})

	return New(reg, bus, m, logging.Nop()), bus, m
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStatusSummarizesRegistry(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var sum health.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Healthy)
	assert.Equal(t, 1, sum.NotApplicable)
	assert.True(t, sum.AllHealthy())
}

func TestAuditAllAndSingle(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/audit")
	require.Equal(t, http.StatusOK, rec.Code)
	var all auditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all.Results, 3)
	assert.Equal(t, 1, all.Totals[schema.SevMedium])

	rec = do(t, s, http.MethodPost, "/audit/ufw")
	require.Equal(t, http.StatusOK, rec.Code)
	var one auditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.Len(t, one.Results, 1)
	assert.Equal(t, schema.AuditIssuesFound, one.Results[0].Status)

	rec = do(t, s, http.MethodPost, "/audit/nessus")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsFromBusAndService(t *testing.T) {
	s, bus, _ := newTestServer(t)
	bus.Publish(context.Background(), blockEvent("192.0.2.1"))
	bus.Publish(context.Background(), blockEvent("192.0.2.2"))

	rec := do(t, s, http.MethodGet, "/events?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []schema.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "192.0.2.2", got[0].Location)

	rec = do(t, s, http.MethodGet, "/events/ufw?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	got = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.1", got[0].Location)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/events/clamav").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/events?limit=zero").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/events/nessus").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, bus, _ := newTestServer(t)
	bus.Publish(context.Background(), blockEvent("192.0.2.7"))

	rec := do(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `yoroguard_events_total{service="ufw",severity="medium"} 1`)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
