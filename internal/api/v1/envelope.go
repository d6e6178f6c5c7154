package v1

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the fixed taxonomy of pipeline events.
// Adding a kind requires a routing table entry (internal/routing);
// the router verifies the table is total over this enum at startup.
type Kind string

const (
	KindScoreUpdate         Kind = "score_update"
	KindBehavior            Kind = "behavior"
	KindPerformanceMetric   Kind = "performance_metric"
	KindMilestone           Kind = "milestone"
	KindMentorshipSession   Kind = "mentorship_session"
	KindGamification        Kind = "gamification"
	KindInvestorInteraction Kind = "investor_interaction"
	KindExternalValidation  Kind = "external_validation"
	KindMarketData          Kind = "market_data"
	KindSocialSignal        Kind = "social_signal"
	KindRiskAssessment      Kind = "risk_assessment"
)

// Kinds lists every event kind in declaration order.
var Kinds = []Kind{
	KindScoreUpdate,
	KindBehavior,
	KindPerformanceMetric,
	KindMilestone,
	KindMentorshipSession,
	KindGamification,
	KindInvestorInteraction,
	KindExternalValidation,
	KindMarketData,
	KindSocialSignal,
	KindRiskAssessment,
}

// Valid reports whether k is part of the fixed taxonomy.
func (k Kind) Valid() bool {
	switch k {
	case KindScoreUpdate, KindBehavior, KindPerformanceMetric, KindMilestone,
		KindMentorshipSession, KindGamification, KindInvestorInteraction,
		KindExternalValidation, KindMarketData, KindSocialSignal, KindRiskAssessment:
		return true
	default:
		return false
	}
}

var (
	// ErrUnknownKind is returned when a kind is outside the fixed taxonomy.
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrEmptySubject is returned when the partition key is missing.
	ErrEmptySubject = errors.New("subject_id is required")
)

// Metadata carries side-channel context stamped by the producing system.
type Metadata struct {
	Source        string `json:"source"`
	SchemaVersion string `json:"schema_version"`
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Envelope is the atomic unit of the pipeline. Immutable once created.
//
// EventID is globally unique and producer-generated; SubjectID is the
// partition key (the startup/user the event pertains to); OccurredAt is
// event time, distinct from any processing timestamp.
type Envelope struct {
	EventID    string                 `json:"event_id"`
	SubjectID  string                 `json:"subject_id"`
	Kind       Kind                   `json:"kind"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
	Metadata   Metadata               `json:"metadata"`
}

// NewEnvelope constructs an envelope with a fresh collision-resistant event ID.
// Fails with ErrUnknownKind / ErrEmptySubject; no side effects beyond construction.
func NewEnvelope(subjectID string, kind Kind, payload map[string]interface{}, meta Metadata) (*Envelope, error) {
	if subjectID == "" {
		return nil, ErrEmptySubject
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return &Envelope{
		EventID:    newEventID(),
		SubjectID:  subjectID,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
		Metadata:   meta,
	}, nil
}

// newEventID combines a milli timestamp with a UUID suffix. The timestamp
// prefix keeps IDs roughly sortable in logs; the UUID provides uniqueness.
func newEventID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString())
}

// Validate checks the envelope's required system attributes.
// Used for envelopes arriving over the ingestion API, where the client
// supplies the full wire shape.
func (e *Envelope) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.SubjectID == "" {
		return ErrEmptySubject
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}
