package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshCompleted(t *testing.T) {
	m := New(false)
	m.RefreshCompleted("success", 200*time.Millisecond)
	m.RefreshCompleted("success", 100*time.Millisecond)
	m.RefreshCompleted("failure", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("failure")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("throttled")))
}

func TestRefreshDurationHistogram(t *testing.T) {
	m := New(false)
	m.RefreshCompleted("success", 250*time.Millisecond)
	m.RefreshCompleted("failure", 2*time.Second)
	m.RefreshCompleted("throttled", 0)

	expected := `
# HELP tokenrelay_refresh_duration_seconds Duration of token endpoint exchanges
# TYPE tokenrelay_refresh_duration_seconds histogram
tokenrelay_refresh_duration_seconds_bucket{le="0.05"} 0
tokenrelay_refresh_duration_seconds_bucket{le="0.1"} 0
tokenrelay_refresh_duration_seconds_bucket{le="0.25"} 1
tokenrelay_refresh_duration_seconds_bucket{le="0.5"} 1
tokenrelay_refresh_duration_seconds_bucket{le="1"} 1
tokenrelay_refresh_duration_seconds_bucket{le="2.5"} 2
tokenrelay_refresh_duration_seconds_bucket{le="5"} 2
tokenrelay_refresh_duration_seconds_bucket{le="10"} 2
tokenrelay_refresh_duration_seconds_bucket{le="+Inf"} 2
tokenrelay_refresh_duration_seconds_sum 2.25
tokenrelay_refresh_duration_seconds_count 2
`
	require.NoError(t, testutil.CollectAndCompare(m.refreshDuration, strings.NewReader(expected)))
}

func TestTokenStored(t *testing.T) {
	m := New(false)
	expiry := time.Date(2025, time.January, 1, 1, 0, 0, 0, time.UTC)

	m.TokenStored(expiry)

	assert.Equal(t, float64(expiry.Unix()), testutil.ToFloat64(m.tokenExpiry))
}

func TestTokenRequest(t *testing.T) {
	m := New(false)
	m.TokenRequest(http.StatusOK)
	m.TokenRequest(http.StatusOK)
	m.TokenRequest(http.StatusServiceUnavailable)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokenRequests.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRequests.WithLabelValues("503")))
}

func TestHandler(t *testing.T) {
	m := New(true)
	m.RefreshCompleted("success", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `tokenrelay_refresh_total{result="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
