package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DedupVerdict("accepted")
	m.DebounceFlushed()
	m.DebouncePending(3)
	m.WebhookOutcome("ok", "")
	m.Nudge(30, "sent")
	m.LockOp("acquire", "ok")
	m.Job("transcription", "done")
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.DedupVerdict("duplicate")
	m.DedupVerdict("duplicate")
	m.Nudge(180, "sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dedup.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nudges.WithLabelValues("180", "sent")))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "sdr_dedup_verdicts_total"))
}
