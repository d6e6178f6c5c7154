package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/stats"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/metrics"
)

var (
	// ErrUnknownAlert is returned when acknowledging an ID the manager
	// has never delivered.
	ErrUnknownAlert = errors.New("unknown alert")

	// ErrAlreadyAcknowledged is returned on a second acknowledge.
	// Non-fatal: reported to the caller, nothing else changes.
	ErrAlreadyAcknowledged = errors.New("alert already acknowledged")
)

// Thresholds are the trigger parameters for the fixed rule set. The defaults
// come from the upstream scoring platform; their correctness is a business
// decision, so they are configuration, not constants.
type Thresholds struct {
	RiskScore      float64       `koanf:"risk_score"`       // risk alert when risk score >= this
	RiskTrend      float64       `koanf:"risk_trend"`       // or risk trend >= this
	ScoreDrop      float64       `koanf:"score_drop"`       // score-drop alert when avg score delta <= this (negative)
	EngagementDrop float64       `koanf:"engagement_drop"`  // engagement alert when avg engagement <= this
	DedupWindow    time.Duration `koanf:"-"`                // rolling suppression window per (type, subject)
}

// DefaultThresholds returns the platform defaults: risk ≥ 0.7 or trend ≥ 0.2,
// score drop ≤ -5, 15-minute dedup window.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RiskScore:      0.7,
		RiskTrend:      0.2,
		ScoreDrop:      -5,
		EngagementDrop: 10,
		DedupWindow:    15 * time.Minute,
	}
}

// Sink receives delivered alerts. Best-effort, at-least-once; the transport
// behind it (webhook, email, dashboard) is an external collaborator.
type Sink interface {
	Deliver(ctx context.Context, alert *Alert) error
}

type dedupKey struct {
	alertType Type
	subjectID string
}

// Manager owns alert evaluation, deduplication and delivery. Safe for
// concurrent use by multiple job workers.
type Manager struct {
	thresholds Thresholds
	sinks      []Sink

	mu       sync.Mutex
	lastSeen map[dedupKey]*Alert // surviving alert per key inside the dedup window
	byID     map[string]*Alert   // every delivered alert, for acknowledge
	now      func() time.Time
}

// NewManager creates a manager delivering to sinks.
func NewManager(thresholds Thresholds, sinks ...Sink) *Manager {
	if thresholds.DedupWindow <= 0 {
		thresholds.DedupWindow = 15 * time.Minute
	}
	return &Manager{
		thresholds: thresholds,
		sinks:      sinks,
		lastSeen:   make(map[dedupKey]*Alert),
		byID:       make(map[string]*Alert),
		now:        time.Now,
	}
}

// Evaluate applies the threshold rules to an enriched aggregation result and
// returns the raised alert, or nil when no rule fires. Evaluation itself has
// no side effects; pair with Dispatch.
func (m *Manager) Evaluate(result *stats.Result, kind RuleKind) *Alert {
	raisedAt := m.now()
	switch kind {
	case RuleRisk:
		score, _ := result.Summary.Avg.Float64()
		trend := trendOf(result)
		if score >= m.thresholds.RiskScore || trend >= m.thresholds.RiskTrend {
			return newAlert(result.SubjectID, TypeRiskIncrease, riskSeverity(score),
				"risk level above threshold",
				map[string]interface{}{
					"risk_score":   score,
					"risk_trend":   trend,
					"window_start": result.WindowStart,
					"window_end":   result.WindowEnd,
				}, raisedAt)
		}
	case RuleScoreDrop:
		delta := deltaOf(result)
		if delta <= m.thresholds.ScoreDrop {
			return newAlert(result.SubjectID, TypeScoreDrop, dropSeverity(delta, m.thresholds.ScoreDrop),
				"score dropped over window",
				map[string]interface{}{
					"score_delta":  delta,
					"window_start": result.WindowStart,
					"window_end":   result.WindowEnd,
				}, raisedAt)
		}
	case RuleEngagement:
		avg, _ := result.Summary.Avg.Float64()
		if result.Summary.Count > 0 && avg <= m.thresholds.EngagementDrop {
			return newAlert(result.SubjectID, TypeEngagementDecline, SeverityMedium,
				"engagement below threshold",
				map[string]interface{}{
					"avg_engagement": avg,
					"window_start":   result.WindowStart,
					"window_end":     result.WindowEnd,
				}, raisedAt)
		}
	}
	return nil
}

// Dispatch runs dedup and delivers the alert when it survives. A suppressed
// repeat updates the surviving alert's data and occurrence count instead of
// being silently dropped.
func (m *Manager) Dispatch(ctx context.Context, alert *Alert) (delivered bool) {
	key := dedupKey{alertType: alert.AlertType, subjectID: alert.SubjectID}

	m.mu.Lock()
	if prev, ok := m.lastSeen[key]; ok && alert.RaisedAt.Sub(prev.RaisedAt) < m.thresholds.DedupWindow {
		prev.Occurrences++
		prev.Data = alert.Data
		m.mu.Unlock()
		metrics.AlertSuppressed(string(alert.AlertType))
		slog.Debug("[Alerts] Suppressed repeat alert",
			"alert_type", alert.AlertType, "subject_id", alert.SubjectID, "surviving", prev.AlertID)
		return false
	}
	m.lastSeen[key] = alert
	m.byID[alert.AlertID] = alert
	m.mu.Unlock()

	for _, sink := range m.sinks {
		if err := sink.Deliver(ctx, alert); err != nil {
			slog.Error("[Alerts] Delivery failed",
				"alert_id", alert.AlertID, "alert_type", alert.AlertType, "error", err)
		}
	}
	metrics.AlertDelivered(string(alert.AlertType))
	slog.Info("[Alerts] Alert delivered",
		"alert_id", alert.AlertID,
		"alert_type", alert.AlertType,
		"subject_id", alert.SubjectID,
		"severity", alert.Severity)
	return true
}

// Acknowledge flips an alert's acknowledged flag exactly once.
func (m *Manager) Acknowledge(alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.byID[alertID]
	if !ok {
		return ErrUnknownAlert
	}
	if alert.Acknowledged {
		return ErrAlreadyAcknowledged
	}
	alert.Acknowledged = true
	return nil
}

// Get returns a delivered alert by ID.
func (m *Manager) Get(alertID string) (*Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[alertID]
	return a, ok
}

// List returns every delivered alert, newest first.
func (m *Manager) List() []*Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Alert, 0, len(m.byID))
	for _, a := range m.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaisedAt.After(out[j].RaisedAt) })
	return out
}

// RuleKind selects which threshold rule a job applies to its results.
type RuleKind string

const (
	RuleRisk       RuleKind = "risk"
	RuleScoreDrop  RuleKind = "score_drop"
	RuleEngagement RuleKind = "engagement"
	RuleNone       RuleKind = ""
)

// Valid reports whether k names a threshold rule (or no rule).
func (k RuleKind) Valid() bool {
	switch k {
	case RuleRisk, RuleScoreDrop, RuleEngagement, RuleNone:
		return true
	}
	return false
}

// trendOf reads a trend signal out of the enrichment predictions, falling
// back to zero when enrichment was skipped or degraded.
func trendOf(result *stats.Result) float64 {
	if result.Predictions == nil {
		return 0
	}
	if v, ok := result.Predictions["risk_trend"].(float64); ok {
		return v
	}
	return 0
}

// deltaOf measures the score movement across the window: last minus first
// is not retained by the summary, so the spread min→max signed by whether
// the average sits below the midpoint approximates direction; predictions
// may override with an exact delta.
func deltaOf(result *stats.Result) float64 {
	if result.Predictions != nil {
		if v, ok := result.Predictions["score_delta"].(float64); ok {
			return v
		}
	}
	minV, _ := result.Summary.Min.Float64()
	maxV, _ := result.Summary.Max.Float64()
	avg, _ := result.Summary.Avg.Float64()
	if avg < (minV+maxV)/2 {
		return minV - maxV // trending down: negative spread
	}
	return maxV - minV
}

func riskSeverity(score float64) Severity {
	switch {
	case score >= 0.9:
		return SeverityCritical
	case score >= 0.8:
		return SeverityHigh
	case score >= 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func dropSeverity(delta, threshold float64) Severity {
	switch {
	case delta <= threshold*4:
		return SeverityCritical
	case delta <= threshold*2:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
