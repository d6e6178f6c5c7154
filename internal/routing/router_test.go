package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	v1 "github.com/bursarynetwork007/auxeira-backend-sub004/internal/api/v1"
)

func TestRouterTotalOverTaxonomy(t *testing.T) {
	router, err := NewRouter()
	require.NoError(t, err)

	for _, kind := range v1.Kinds {
		route, err := router.Route(kind)
		require.NoError(t, err, "kind %q must route", kind)
		require.NotEmpty(t, route.Primary)
	}
}

func TestRouteTable(t *testing.T) {
	router, err := NewRouter()
	require.NoError(t, err)

	tests := []struct {
		kind    v1.Kind
		primary string
		fanOut  bool
	}{
		{v1.KindScoreUpdate, TopicScores, true},
		{v1.KindBehavior, TopicBehavior, true},
		{v1.KindPerformanceMetric, TopicPerformanceMetrics, true},
		{v1.KindMilestone, TopicMilestones, true},
		{v1.KindMentorshipSession, TopicMentorship, true},
		{v1.KindGamification, TopicGamification, true},
		{v1.KindInvestorInteraction, TopicInvestorInteraction, true},
		{v1.KindExternalValidation, TopicExternalValidation, true},
		{v1.KindMarketData, TopicMarketData, false},
		{v1.KindSocialSignal, TopicSocialSignals, true},
		{v1.KindRiskAssessment, TopicRiskAssessments, true},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			route, err := router.Route(tc.kind)
			require.NoError(t, err)
			require.Equal(t, tc.primary, route.Primary)
			if tc.fanOut {
				require.Equal(t, []string{TopicFeatureStore}, route.Sides)
			} else {
				require.Empty(t, route.Sides)
			}
		})
	}
}

func TestRouteUnknownKind(t *testing.T) {
	router, err := NewRouter()
	require.NoError(t, err)

	_, err = router.Route("mystery-kind")
	require.Error(t, err)
}

func TestAllTopicsCoversTable(t *testing.T) {
	topics := make(map[string]bool)
	for _, topic := range AllTopics() {
		topics[topic] = true
	}
	for kind, route := range table {
		require.True(t, topics[route.Primary], "primary for %q missing from catalog", kind)
		for _, side := range route.Sides {
			require.True(t, topics[side], "side topic for %q missing from catalog", kind)
		}
	}
	require.True(t, topics[TopicAlerts])
}
