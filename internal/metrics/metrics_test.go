package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauge(t *testing.T) {
	c := New()
	c.RunStarted()
	c.RunStarted()
	c.RunFinished("COMPLETED")
	c.Step("click", "EXECUTED", 200*time.Millisecond)
	c.Step("click", "EXECUTED", 300*time.Millisecond)
	c.Blocker("cookie-consent", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("COMPLETED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.steps.WithLabelValues("click", "EXECUTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.blockers.WithLabelValues("cookie-consent", "true")))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RunStarted()
		c.Step("scroll", "SKIPPED", time.Second)
		c.Issue("visual", "high", "vision")
		c.Vision("interval", "ok", time.Second)
		c.Pattern("state-loop")
	})
	assert.Nil(t, c.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.Issue("console", "medium", "console")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `explorer_issues_total{category="console",severity="medium",source="console"} 1`)
}
