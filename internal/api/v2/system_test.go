package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v2/health", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "abc123", resp.Commit)
	assert.Equal(t, "static", resp.ModelVersion)
	assert.True(t, resp.ModelReady)
	assert.Equal(t, "sqlite", resp.Database.Dialect)
	assert.True(t, resp.Database.Connected)
	assert.Positive(t, resp.System.NumCPU)
	assert.NotEmpty(t, resp.System.GoVersion)
}

func TestHealthDegradedWhenDatabaseDown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Close())

	rec := f.do(t, http.MethodGet, "/api/v2/health", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.False(t, resp.Database.Connected)
	assert.NotEmpty(t, resp.Database.Error)

	rec = f.do(t, http.MethodGet, "/api/v2/readiness", "", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var ready ReadinessResponse
	decode(t, rec, &ready)
	assert.False(t, ready.Ready)
	assert.False(t, ready.Database)
	assert.True(t, ready.Model)
}

func TestReadiness(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v2/readiness", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadinessResponse
	decode(t, rec, &ready)
	assert.True(t, ready.Ready)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/v2/health", "", nil, "")
	f.do(t, http.MethodGet, "/api/v2/scans", "", nil, "")

	rec := f.do(t, http.MethodGet, "/api/v2/metrics", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "pneumai_http_requests_total")
	assert.Contains(t, body, `route="/api/v2/health"`)
}
