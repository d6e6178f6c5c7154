package routing

import (
	"fmt"
	"time"

	v1 "github.com/bursarynetwork007/auxeira-backend-sub004/internal/api/v1"
	"github.com/google/uuid"
)

// FeatureEnvelope derives the feature-store side-channel record for an
// envelope: a kind-specific subset of the payload, re-wrapped as a new
// envelope for the same subject. Returns nil for kinds without a projection.
//
// Each projection is a pure function of the source payload, so the side
// channel can be recomputed from the primary stream at any time.
func FeatureEnvelope(src *v1.Envelope) *v1.Envelope {
	project, ok := projections[src.Kind]
	if !ok {
		return nil
	}
	features := project(src.Payload)
	if len(features) == 0 {
		return nil
	}
	return &v1.Envelope{
		EventID:    fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()),
		SubjectID:  src.SubjectID,
		Kind:       src.Kind,
		OccurredAt: src.OccurredAt,
		Payload:    features,
		Metadata: v1.Metadata{
			Source:        "feature-projection",
			SchemaVersion: src.Metadata.SchemaVersion,
			SessionID:     src.Metadata.SessionID,
			CorrelationID: src.EventID, // trace the feature back to its source event
		},
	}
}

type projection func(payload map[string]interface{}) map[string]interface{}

var projections = map[v1.Kind]projection{
	v1.KindScoreUpdate:         projectScoreUpdate,
	v1.KindBehavior:            projectBehavior,
	v1.KindPerformanceMetric:   projectPerformanceMetric,
	v1.KindMilestone:           projectMilestone,
	v1.KindMentorshipSession:   projectMentorship,
	v1.KindGamification:        projectGamification,
	v1.KindInvestorInteraction: projectInvestorInteraction,
	v1.KindExternalValidation:  projectExternalValidation,
	v1.KindSocialSignal:        projectPassthrough("sentiment", "reach", "source"),
	v1.KindRiskAssessment:      projectPassthrough("risk_score", "risk_trend", "risk_factors"),
}

func projectScoreUpdate(p map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{
		"sse_score":        num(p, "new_score"),
		"sse_score_change": num(p, "new_score") - num(p, "previous_score"),
	}
	if comps, ok := p["score_components"].(map[string]interface{}); ok {
		for _, c := range []string{"financial", "operational", "market", "team", "product", "traction"} {
			out[c+"_score"] = num(comps, c)
		}
	}
	return out
}

func projectBehavior(p map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"last_action":      str(p, "action"),
		"action_category":  str(p, "category"),
		"session_duration": num(p, "session_duration"),
		"page_views":       num(p, "page_views"),
		"clicks":           num(p, "clicks"),
	}
}

func projectPerformanceMetric(p map[string]interface{}) map[string]interface{} {
	metric := str(p, "metric_type")
	if metric == "" {
		return nil
	}
	out := map[string]interface{}{
		metric + "_current": num(p, "metric_value"),
		metric + "_change":  num(p, "change_percentage"),
	}
	if b := num(p, "benchmark"); b != 0 {
		out[metric+"_vs_benchmark"] = num(p, "metric_value") / b
	}
	return out
}

func projectMilestone(p map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"milestone_completed": 1.0,
		"milestone_category":  str(p, "category"),
		"milestone_impact":    str(p, "impact"),
		"days_early_late":     num(p, "days_early_late"),
	}
}

func projectMentorship(p map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"session_duration":         num(p, "duration"),
		"messages_per_session":     num(p, "message_count"),
		"mentorship_satisfaction":  num(p, "satisfaction_rating"),
		"recommendations_received": num(p, "recommendation_count"),
	}
}

func projectGamification(p map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"points_earned":     num(p, "points"),
		"aux_tokens_earned": num(p, "aux_tokens"),
		"current_level":     num(p, "level"),
	}
}

func projectInvestorInteraction(p map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"investor_interest_level": str(p, "interest_level"),
		"investment_amount":       num(p, "investment_amount"),
		"investor_stage_match":    str(p, "stage"),
	}
}

func projectExternalValidation(p map[string]interface{}) map[string]interface{} {
	source := str(p, "source")
	if source == "" {
		source = "external"
	}
	return map[string]interface{}{
		source + "_score":      num(p, "score"),
		source + "_confidence": num(p, "confidence"),
	}
}

// projectPassthrough copies a fixed field subset verbatim.
func projectPassthrough(fields ...string) projection {
	return func(p map[string]interface{}) map[string]interface{} {
		out := make(map[string]interface{}, len(fields))
		for _, f := range fields {
			if v, ok := p[f]; ok {
				out[f] = v
			}
		}
		return out
	}
}

func num(p map[string]interface{}, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func str(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}
