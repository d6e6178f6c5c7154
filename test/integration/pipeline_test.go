//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	v1 "github.com/bursarynetwork007/auxeira-backend-sub004/internal/api/v1"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/broker"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/checkpoint"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/stats"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/enrich"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/ingestion"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/job"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/ops"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/routing"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/sink"
)

const riskJobYAML = `
name: risk-monitor
parallelism: 4
sources: [risk-assessments-stream]
window:
  strategy: tumbling
  size: 1m
  lateness: 2m
field: risk_score
alert_rule: risk
checkpoint:
  interval: 1h
`

type stack struct {
	router   *gin.Engine
	jobs     *job.Manager
	features *sink.MemoryFeatureStore
	log      *broker.Log
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "risk.yaml"), []byte(riskJobYAML), 0o644))
	defs, err := job.NewDefinitionRepository(dir)
	require.NoError(t, err)

	specs, err := v1.LoadPayloadSpecs(filepath.Join(dir, "no-specs"))
	require.NoError(t, err)

	router, err := routing.NewRouter()
	require.NoError(t, err)

	l := broker.NewLog(routing.AllTopics(), 100000)
	t.Cleanup(l.Close)
	publisher := broker.NewPublisher(l, router, broker.DefaultPublisherConfig())

	features := sink.NewMemoryFeatureStore()
	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	alerts := alerting.NewManager(alerting.DefaultThresholds(), sink.NewMemoryAlertSink())
	jobs := job.NewManager(defs, l, enrich.NewHeuristicScorer(), 2*time.Second, alerts, features, store)
	t.Cleanup(func() { jobs.Shutdown(context.Background()) })

	r := gin.New()
	ingestion.NewService(publisher, specs, 1).RegisterRoutes(r)
	ops.NewService(jobs, alerts).RegisterRoutes(r)

	return &stack{router: r, jobs: jobs, features: features, log: l}
}

func (s *stack) do(method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	s.router.ServeHTTP(w, req)
	return w
}

func TestPipelineEndToEnd(t *testing.T) {
	s := newStack(t)

	w := s.do(http.MethodPost, "/v1/jobs", `{"name": "risk-monitor"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Eventually(t, func() bool {
		j, err := s.jobs.Status("risk-monitor")
		return err == nil && j.Status == job.StatusRunning
	}, 5*time.Second, 20*time.Millisecond)

	// Anchored to the wall clock: the runner's flush ticks advance event time
	// from it, so a fixed historic instant would fall beyond grace.
	base := time.Now().UTC().Truncate(time.Minute)
	postEvent := func(eventID string, at time.Time, score float64) *httptest.ResponseRecorder {
		return s.do(http.MethodPost, "/v1/events", fmt.Sprintf(`{
			"event_id": %q,
			"subject_id": "startup-x",
			"kind": "risk_assessment",
			"occurred_at": %q,
			"payload": {"risk_score": %g}
		}`, eventID, at.Format(time.RFC3339), score))
	}

	require.Equal(t, http.StatusAccepted, postEvent("evt-1", base, 0.9).Code)
	require.Equal(t, http.StatusAccepted, postEvent("evt-2", base.Add(20*time.Second), 0.95).Code)

	// Idempotent publish: a client retry conflicts without a second record.
	require.Equal(t, http.StatusConflict, postEvent("evt-1", base, 0.9).Code)

	// A later event closes the first window.
	require.Equal(t, http.StatusAccepted, postEvent("evt-3", base.Add(2*time.Minute), 0.5).Code)

	require.Eventually(t, func() bool { return s.features.Len() >= 1 },
		5*time.Second, 20*time.Millisecond)

	got := s.features.Get(stats.Key{
		JobName:     "risk-monitor",
		SubjectID:   "startup-x",
		WindowStart: base,
		WindowEnd:   base.Add(time.Minute),
	})
	require.NotNil(t, got)
	require.Equal(t, int64(2), got.Summary.Count, "the duplicate must not be counted")
	require.NotNil(t, got.Predictions)

	// The high risk scores raised an alert visible on the ops surface.
	w = s.do(http.MethodGet, "/v1/alerts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var alertsResp struct {
		Alerts []alerting.Alert `json:"alerts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alertsResp))
	require.NotEmpty(t, alertsResp.Alerts)
	require.Equal(t, alerting.TypeRiskIncrease, alertsResp.Alerts[0].AlertType)

	w = s.do(http.MethodPost, "/v1/jobs/risk-monitor/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPipelineResumesFromCheckpoint(t *testing.T) {
	s := newStack(t)

	s.do(http.MethodPost, "/v1/jobs", `{"name": "risk-monitor"}`)
	require.Eventually(t, func() bool {
		j, err := s.jobs.Status("risk-monitor")
		return err == nil && j.Status == job.StatusRunning
	}, 5*time.Second, 20*time.Millisecond)

	base := time.Now().UTC().Truncate(time.Minute)
	post := func(id string, at time.Time) {
		w := s.do(http.MethodPost, "/v1/events", fmt.Sprintf(`{
			"event_id": %q,
			"subject_id": "startup-y",
			"kind": "risk_assessment",
			"occurred_at": %q,
			"payload": {"risk_score": 0.4}
		}`, id, at.Format(time.RFC3339)))
		require.Equal(t, http.StatusAccepted, w.Code)
	}

	post("re-1", base)
	post("re-2", base.Add(10*time.Second))

	require.NoError(t, s.jobs.Suspend("risk-monitor"))
	require.NoError(t, s.jobs.Resume("risk-monitor"))

	post("re-3", base.Add(2*time.Minute))

	require.Eventually(t, func() bool {
		got := s.features.Get(stats.Key{
			JobName:     "risk-monitor",
			SubjectID:   "startup-y",
			WindowStart: base,
			WindowEnd:   base.Add(time.Minute),
		})
		return got != nil && got.Summary.Count == 2
	}, 5*time.Second, 20*time.Millisecond, "buffered window state must survive suspend/resume")
}
