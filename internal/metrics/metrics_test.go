package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New(true)

	m.JobStarted()
	m.JobFinished("COMPLETE", "", 2*time.Second)
	m.JobStarted()
	m.JobFinished("FAILED", "transient", time.Second)
	m.RetryScheduled("transient")
	m.Timeout()
	m.StanzasWritten(12)
	m.RecordsWritten("input", 3)
	m.RecordsWritten("input", 2)
	m.ProjectionDefect("props")
	m.BatchSkipped("stanzas")
	m.SetQueuedJobs(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("COMPLETE", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsFinished.WithLabelValues("FAILED", "transient")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeJobs))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.recordsWritten.WithLabelValues("input")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.stanzasWritten))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queuedJobs))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "confingest_records_written_total"))
}

func TestDisabledMetricsAreNoop(t *testing.T) {
	m := New(false)
	m.JobStarted()
	m.JobFinished("COMPLETE", "", time.Second)
	m.RecordsWritten("input", 1)
	m.SetQueuedJobs(1)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
