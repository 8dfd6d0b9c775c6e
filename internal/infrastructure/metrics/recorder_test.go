package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counters(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.DecisionRecorded("approved")
	r.DecisionRecorded("approved")
	r.DecisionRecorded("rejected")
	r.EscalationRecorded("no_target")
	r.ReminderSent()
	r.CollaboratorFailure("status_sink")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.decisions.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.escalations.WithLabelValues("no_target")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reminders))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.collaboratorFailures.WithLabelValues("status_sink")))
}

func TestRecorder_SweepCompleted(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.SweepCompleted("deadline", 5, 2, 150*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.sweepRuns.WithLabelValues("deadline")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.sweepItems.WithLabelValues("deadline", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.sweepItems.WithLabelValues("deadline", "failed")))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	r.WorkflowInitiated("STANDARD")
	r.ObserveHTTP(http.MethodPost, "/api/v1/workflows", http.StatusCreated, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `change_approval_workflows_initiated_total{archetype="STANDARD"} 1`))
	assert.True(t, strings.Contains(body, `change_approval_http_requests_total{endpoint="/api/v1/workflows",method="POST",status="201"} 1`))
}
