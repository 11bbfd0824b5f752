package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("/api/project", http.MethodPost, 200, 10*time.Millisecond)
	m.ObserveRequest("", http.MethodGet, 404, time.Millisecond)

	body := metricsBody(t, m)
	assert.Contains(t, body, `buildgen_http_requests_total{method="POST",route="/api/project",status="200"} 1`)
	assert.Contains(t, body, `buildgen_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
}

func TestGenerationCounters(t *testing.T) {
	m := New()
	m.ObserveGeneration("initial", "succeeded", 2*time.Second)
	m.ObserveGeneration("initial", "failed", time.Second)
	m.AddRefund(5)
	m.IncPaymentSettled()
	m.SetQueueDepth(3)

	body := metricsBody(t, m)
	assert.Contains(t, body, `buildgen_generations_total{kind="initial",status="succeeded"} 1`)
	assert.Contains(t, body, `buildgen_generations_total{kind="initial",status="failed"} 1`)
	assert.Contains(t, body, "buildgen_credits_refunded_total 5")
	assert.Contains(t, body, "buildgen_payments_settled_total 1")
	assert.Contains(t, body, "buildgen_generation_queue_depth 3")
}

func metricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return string(body)
}
