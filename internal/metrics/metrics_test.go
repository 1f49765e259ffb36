package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	raw, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(raw)
}

func TestCountersExported(t *testing.T) {
	m := New()
	m.Submission("patch", "ok")
	m.Submission("patch", "ok")
	m.Noop()
	m.Conflict()
	m.Mutation("patch", http.StatusPreconditionFailed)
	m.Request(http.MethodGet, http.StatusOK, 20*time.Millisecond)

	out := scrape(t, m)
	assert.Contains(t, out, `envline_engine_submissions_total{op="patch",outcome="ok"} 2`)
	assert.Contains(t, out, "envline_engine_noop_saves_total 1")
	assert.Contains(t, out, "envline_engine_pipeline_conflicts_total 1")
	assert.Contains(t, out, `envline_server_mutations_total{op="patch",status="412"} 1`)
	assert.True(t, strings.Contains(out, "envline_server_http_request_duration_seconds_count"))
}

func TestNilMetricsIsSilent(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Submission("create", "error")
		m.Noop()
		m.Conflict()
		m.ValidationFailure()
		m.StaleDrop()
		m.Mutation("delete", http.StatusOK)
		m.Request(http.MethodGet, http.StatusOK, time.Second)
	})
}

func TestSeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.Noop()
	assert.Contains(t, scrape(t, a), "envline_engine_noop_saves_total 1")
	assert.Contains(t, scrape(t, b), "envline_engine_noop_saves_total 0")
}
