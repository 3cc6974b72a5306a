package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := NewLogger(LogConfig{Level: level, Format: "json"})
		require.NoError(t, err, "level %s", level)
		logger.Info("test", String("level", level))
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "info", Format: "console"})
	require.NoError(t, err)
	logger.Info("console line")
}

func TestNopLogger_With(t *testing.T) {
	logger := NopLogger()
	child := logger.With(String("k", "v"))
	assert.NotNil(t, child)
	child.Info("discarded")
}

func TestMetrics_RecordAndServe(t *testing.T) {
	m := NewMetrics("gateway_test")

	m.RecordRequest("GET", "catalog", 200, 12*time.Millisecond)
	m.RecordRequest("POST", "orders", 503, 30*time.Millisecond)
	m.RequestStarted("catalog")
	m.RequestFinished("catalog")
	m.RecordAuthDecision("authorize", "allowed")
	m.RecordTokenCache("hit")
	m.SetCircuitState("orders", 1)
	m.RecordRetry("orders", "retried")
	m.RecordRateLimitHit("user")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "gateway_test_requests_total")
	assert.Contains(t, body, "gateway_test_circuit_breaker_state")
}

func TestMetrics_EmptyServiceLabeledUnmatched(t *testing.T) {
	m := NewMetrics("gateway_test")
	m.RecordRequest("GET", "", 404, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `service="unmatched"`)
}
