package window

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Emission is a window ready for aggregation: either an on-time close or a
// recomputation triggered by an in-grace late arrival. Values carry every
// buffered event value for the window so the aggregation result replaces
// (not duplicates) any earlier emission for the same span. Superseded lists
// previously emitted spans this emission absorbs: a session merge can change
// the span, and the old spans' results must be withdrawn downstream or one
// logical session leaves several rows.
type Emission struct {
	SubjectID  string
	Span       Span
	Values     []decimal.Decimal
	Recomputed bool
	Superseded []Span
}

// Drop records an event rejected from a window because it arrived beyond
// the grace period. Drops are routed to an audit channel, never silently
// discarded.
type Drop struct {
	SubjectID  string
	EventID    string
	OccurredAt time.Time
	Reason     string
}

// bucket is the buffered state of one open (or in-grace) window.
type bucket struct {
	span    Span
	values  []decimal.Decimal
	emitted bool // on-time emission already fired
}

type subjectState struct {
	buckets []*bucket // sorted by span start
}

// State is the keyed windowing state for one worker's partition range.
// Not safe for concurrent use: each worker owns its state exclusively,
// which is what the disjoint-partition scheduling model guarantees.
type State struct {
	strategy  Strategy
	lateness  time.Duration // grace period after a window's nominal close
	subjects  map[string]*subjectState
	watermark time.Time // max event time observed
}

// NewState creates empty keyed state for strategy with the given grace period.
func NewState(strategy Strategy, allowedLateness time.Duration) *State {
	return &State{
		strategy: strategy,
		lateness: allowedLateness,
		subjects: make(map[string]*subjectState),
	}
}

// Watermark returns the highest event time observed so far.
func (st *State) Watermark() time.Time { return st.watermark }

// Add routes one event value into the subject's windows and returns any
// emissions it caused: recomputations for in-grace late arrivals, plus
// on-time closes unlocked by the advancing watermark. A beyond-grace event
// produces a Drop instead of touching any window.
func (st *State) Add(subjectID, eventID string, occurredAt time.Time, value decimal.Decimal) ([]Emission, *Drop) {
	t := occurredAt.UTC()
	sub := st.subjects[subjectID]
	if sub == nil {
		sub = &subjectState{}
		st.subjects[subjectID] = sub
	}

	var emissions []Emission

	if st.strategy.Type == TypeSession {
		if drop := st.addSession(sub, subjectID, eventID, t, value, &emissions); drop != nil {
			return emissions, drop
		}
	} else {
		spans := st.strategy.Assign(t)
		accepted := false
		for _, span := range spans {
			// Beyond grace for this span: the window is finalized and gone.
			if !st.watermark.Before(span.End.Add(st.lateness)) {
				continue
			}
			b := sub.bucket(span)
			b.values = append(b.values, value)
			accepted = true
			if b.emitted {
				// Late but in grace: idempotent re-emission, not a duplicate.
				emissions = append(emissions, Emission{
					SubjectID: subjectID, Span: b.span, Values: cloneValues(b.values), Recomputed: true,
				})
			}
		}
		if !accepted {
			return emissions, &Drop{
				SubjectID:  subjectID,
				EventID:    eventID,
				OccurredAt: t,
				Reason:     fmt.Sprintf("beyond grace period (%s) for all assigned windows", st.lateness),
			}
		}
	}

	if t.After(st.watermark) {
		st.watermark = t
	}
	emissions = append(emissions, st.closeReady()...)
	return emissions, nil
}

// addSession folds an event into the subject's session windows, merging any
// sessions the extended candidate span now overlaps. Returns a Drop when the
// event can only land in a finalized session.
func (st *State) addSession(sub *subjectState, subjectID, eventID string, t time.Time, value decimal.Decimal, emissions *[]Emission) *Drop {
	cand := &bucket{span: Span{Start: t, End: t.Add(st.strategy.Gap)}, values: []decimal.Decimal{value}}

	// An event whose candidate session could only merge into already
	// finalized state is beyond grace.
	if !st.watermark.Before(cand.span.End.Add(st.lateness)) {
		return &Drop{
			SubjectID:  subjectID,
			EventID:    eventID,
			OccurredAt: t,
			Reason:     fmt.Sprintf("session beyond grace period (%s)", st.lateness),
		}
	}

	merged := cand
	var rest []*bucket
	var absorbed []Span // spans of already-emitted sessions folded into merged
	for _, b := range sub.buckets {
		if sessionsOverlap(merged.span, b.span) {
			if b.emitted {
				absorbed = append(absorbed, b.span)
			}
			merged = mergeSessions(merged, b)
		} else {
			rest = append(rest, b)
		}
	}
	sub.buckets = append(rest, merged)
	sort.Slice(sub.buckets, func(i, j int) bool { return sub.buckets[i].span.Start.Before(sub.buckets[j].span.Start) })

	if len(absorbed) > 0 {
		merged.emitted = true
		var superseded []Span
		for _, s := range absorbed {
			if !s.Start.Equal(merged.span.Start) || !s.End.Equal(merged.span.End) {
				superseded = append(superseded, s)
			}
		}
		*emissions = append(*emissions, Emission{
			SubjectID: subjectID, Span: merged.span, Values: cloneValues(merged.values),
			Recomputed: true, Superseded: superseded,
		})
	}
	return nil
}

// sessionsOverlap reports whether two session spans belong to one session:
// the inactivity gap is already baked into each span's End, so touching or
// overlapping spans merge.
func sessionsOverlap(a, b Span) bool {
	return !a.Start.After(b.End) && !b.Start.After(a.End)
}

func mergeSessions(a, b *bucket) *bucket {
	start := a.span.Start
	if b.span.Start.Before(start) {
		start = b.span.Start
	}
	end := a.span.End
	if b.span.End.After(end) {
		end = b.span.End
	}
	return &bucket{
		span:    Span{Start: start, End: end},
		values:  append(append([]decimal.Decimal{}, a.values...), b.values...),
		emitted: a.emitted || b.emitted,
	}
}

// AdvanceWatermark moves the watermark forward (never backward) and returns
// on-time emissions unlocked by it. The runner calls this on flush ticks so
// idle streams still close their windows.
func (st *State) AdvanceWatermark(t time.Time) []Emission {
	t = t.UTC()
	if t.After(st.watermark) {
		st.watermark = t
	}
	return st.closeReady()
}

// closeReady emits windows whose nominal close has passed and finalizes
// (frees) windows past their grace period. Emission order is deterministic:
// subjects sorted lexically, windows by start time.
func (st *State) closeReady() []Emission {
	var emissions []Emission

	ids := make([]string, 0, len(st.subjects))
	for id := range st.subjects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		sub := st.subjects[id]
		kept := sub.buckets[:0]
		for _, b := range sub.buckets {
			if !b.emitted && !st.watermark.Before(b.span.End) {
				b.emitted = true
				emissions = append(emissions, Emission{
					SubjectID: id, Span: b.span, Values: cloneValues(b.values),
				})
			}
			// Retain until end+grace so in-grace stragglers can recompute.
			if st.watermark.Before(b.span.End.Add(st.lateness)) {
				kept = append(kept, b)
			}
		}
		sub.buckets = kept
		if len(sub.buckets) == 0 {
			delete(st.subjects, id)
		}
	}
	return emissions
}

// OpenWindows returns the number of buffered windows across all subjects.
func (st *State) OpenWindows() int {
	n := 0
	for _, sub := range st.subjects {
		n += len(sub.buckets)
	}
	return n
}

func (sub *subjectState) bucket(span Span) *bucket {
	for _, b := range sub.buckets {
		if b.span.Start.Equal(span.Start) && b.span.End.Equal(span.End) {
			return b
		}
	}
	b := &bucket{span: span}
	sub.buckets = append(sub.buckets, b)
	sort.Slice(sub.buckets, func(i, j int) bool { return sub.buckets[i].span.Start.Before(sub.buckets[j].span.Start) })
	return b
}

func cloneValues(vals []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	copy(out, vals)
	return out
}

// snapshot wire shapes. Decimal marshals as a JSON string, so buffered
// values round-trip exactly.
type bucketSnapshot struct {
	Span    Span              `json:"span"`
	Values  []decimal.Decimal `json:"values"`
	Emitted bool              `json:"emitted"`
}

type stateSnapshot struct {
	Watermark time.Time                   `json:"watermark"`
	Subjects  map[string][]bucketSnapshot `json:"subjects"`
}

// Snapshot serializes the keyed state for checkpointing.
func (st *State) Snapshot() ([]byte, error) {
	snap := stateSnapshot{
		Watermark: st.watermark,
		Subjects:  make(map[string][]bucketSnapshot, len(st.subjects)),
	}
	for id, sub := range st.subjects {
		bs := make([]bucketSnapshot, 0, len(sub.buckets))
		for _, b := range sub.buckets {
			bs = append(bs, bucketSnapshot{Span: b.span, Values: cloneValues(b.values), Emitted: b.emitted})
		}
		snap.Subjects[id] = bs
	}
	return json.Marshal(snap)
}

// Restore replaces the keyed state with a checkpointed snapshot.
func (st *State) Restore(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("restore window state: %w", err)
	}
	st.watermark = snap.Watermark
	st.subjects = make(map[string]*subjectState, len(snap.Subjects))
	for id, bs := range snap.Subjects {
		sub := &subjectState{}
		for _, b := range bs {
			sub.buckets = append(sub.buckets, &bucket{span: b.Span, values: b.Values, emitted: b.Emitted})
		}
		sort.Slice(sub.buckets, func(i, j int) bool { return sub.buckets[i].span.Start.Before(sub.buckets[j].span.Start) })
		st.subjects[id] = sub
	}
	return nil
}
