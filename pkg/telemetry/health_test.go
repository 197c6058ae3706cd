package telemetry

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessHandlerAlwaysReturnsOK(t *testing.T) {
	hc := NewHealthChecker("queue")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/livez", nil)
	hc.LivenessHandler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alive", body["status"])
}

func TestReadyHandlerUnhealthyBeforeCriticalComponentsRegister(t *testing.T) {
	hc := NewHealthChecker("queue", "sandbox")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/readyz", nil)
	hc.ReadyHandler().ServeHTTP(rec, req)

	require.Equal(t, 503, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestReadyHandlerHealthyOnceAllCriticalComponentsHealthy(t *testing.T) {
	hc := NewHealthChecker("queue", "sandbox")
	hc.SetComponent("queue", true, "")
	hc.SetComponent("sandbox", true, "")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/readyz", nil)
	hc.ReadyHandler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestHealthHandlerReportsUnhealthyComponentDetail(t *testing.T) {
	hc := NewHealthChecker("queue")
	hc.SetComponent("queue", false, "connection refused")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	hc.HealthHandler().ServeHTTP(rec, req)

	require.Equal(t, 503, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Components["queue"], "connection refused")
}

func TestReadyHandlerIgnoresNonCriticalComponents(t *testing.T) {
	hc := NewHealthChecker("queue")
	hc.SetComponent("queue", true, "")
	hc.SetComponent("optional-extra", false, "still warming up")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/readyz", nil)
	hc.ReadyHandler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
}
