// Package routing owns the static topic catalog and the kind→topic table.
//
// The table is data, not code paths: routing behavior is auditable and
// testable by inspecting it. Renaming a topic is a breaking change that
// requires a migration of checkpointed cursors, never a runtime toggle.
package routing

import (
	"fmt"

	v1 "github.com/bursarynetwork007/auxeira-backend-sub004/internal/api/v1"
)

// Topic catalog. One stream per event kind plus the shared feature-store
// side channel and the alert delivery channel.
const (
	TopicScores              = "sse-scores-stream"
	TopicBehavior            = "user-behavior-stream"
	TopicPerformanceMetrics  = "performance-metrics-stream"
	TopicMilestones          = "milestone-events-stream"
	TopicMentorship          = "ai-mentorship-stream"
	TopicGamification        = "gamification-stream"
	TopicInvestorInteraction = "investor-interactions-stream"
	TopicExternalValidation  = "external-validation-stream"
	TopicMarketData          = "market-data-stream"
	TopicSocialSignals       = "social-signals-stream"
	TopicRiskAssessments     = "risk-assessments-stream"
	TopicFeatureStore        = "feature-store-stream"
	TopicAlerts              = "alerts-stream"
)

// Route is one routing table entry: exactly one primary topic, plus optional
// side topics for fan-out.
type Route struct {
	Primary string
	Sides   []string
}

// table maps every event kind to its channels. Market data is platform-wide
// context, not a per-subject feature, so it does not fan out.
var table = map[v1.Kind]Route{
	v1.KindScoreUpdate:         {Primary: TopicScores, Sides: []string{TopicFeatureStore}},
	v1.KindBehavior:            {Primary: TopicBehavior, Sides: []string{TopicFeatureStore}},
	v1.KindPerformanceMetric:   {Primary: TopicPerformanceMetrics, Sides: []string{TopicFeatureStore}},
	v1.KindMilestone:           {Primary: TopicMilestones, Sides: []string{TopicFeatureStore}},
	v1.KindMentorshipSession:   {Primary: TopicMentorship, Sides: []string{TopicFeatureStore}},
	v1.KindGamification:        {Primary: TopicGamification, Sides: []string{TopicFeatureStore}},
	v1.KindInvestorInteraction: {Primary: TopicInvestorInteraction, Sides: []string{TopicFeatureStore}},
	v1.KindExternalValidation:  {Primary: TopicExternalValidation, Sides: []string{TopicFeatureStore}},
	v1.KindMarketData:          {Primary: TopicMarketData},
	v1.KindSocialSignal:        {Primary: TopicSocialSignals, Sides: []string{TopicFeatureStore}},
	v1.KindRiskAssessment:      {Primary: TopicRiskAssessments, Sides: []string{TopicFeatureStore}},
}

// Router resolves event kinds against the static table.
type Router struct{}

// NewRouter verifies the table is total over the taxonomy and returns a
// router. A missing entry means the enum and the table drifted; fatal at
// startup, it can never be a per-event condition.
func NewRouter() (*Router, error) {
	for _, k := range v1.Kinds {
		if _, ok := table[k]; !ok {
			return nil, fmt.Errorf("routing table missing entry for kind %q", k)
		}
	}
	return &Router{}, nil
}

// Route returns the channels for kind.
func (r *Router) Route(kind v1.Kind) (Route, error) {
	route, ok := table[kind]
	if !ok {
		return Route{}, fmt.Errorf("routing table missing entry for kind %q", kind)
	}
	return route, nil
}

// AllTopics returns the full static catalog, for declaring the log.
func AllTopics() []string {
	return []string{
		TopicScores, TopicBehavior, TopicPerformanceMetrics, TopicMilestones,
		TopicMentorship, TopicGamification, TopicInvestorInteraction,
		TopicExternalValidation, TopicMarketData, TopicSocialSignals,
		TopicRiskAssessments, TopicFeatureStore, TopicAlerts,
	}
}
