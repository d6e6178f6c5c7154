// Package alerting evaluates aggregation results against threshold rules,
// classifies severity, deduplicates repeats and routes deliveries.
package alerting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the fixed enumeration of alert types.
type Type string

const (
	TypeScoreDrop              Type = "sse_score_drop"
	TypeEngagementDecline      Type = "engagement_decline"
	TypeMilestoneDelay         Type = "milestone_delay"
	TypePerformanceDegradation Type = "performance_degradation"
	TypeRiskIncrease           Type = "risk_increase"
	TypeFundingOpportunity     Type = "funding_opportunity"
	TypeMarketChange           Type = "market_change"
	TypeCompetitiveThreat      Type = "competitive_threat"
	TypeSystemAnomaly          Type = "system_anomaly"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is the delivery payload. Acknowledged is the only mutable field and
// flips exactly once, false→true.
type Alert struct {
	AlertID      string                 `json:"alert_id"`
	SubjectID    string                 `json:"subject_id"`
	AlertType    Type                   `json:"alert_type"`
	Severity     Severity               `json:"severity"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data"`
	RaisedAt     time.Time              `json:"raised_at"`
	Acknowledged bool                   `json:"acknowledged"`

	// Occurrences counts suppressed repeats folded into this alert inside
	// the dedup window. Starts at 1.
	Occurrences int `json:"occurrences"`
}

func newAlert(subjectID string, t Type, sev Severity, msg string, data map[string]interface{}, raisedAt time.Time) *Alert {
	return &Alert{
		AlertID:     fmt.Sprintf("alert-%d-%s", raisedAt.UnixMilli(), uuid.NewString()),
		SubjectID:   subjectID,
		AlertType:   t,
		Severity:    sev,
		Message:     msg,
		Data:        data,
		RaisedAt:    raisedAt,
		Occurrences: 1,
	}
}
