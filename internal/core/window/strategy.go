// Package window implements the windowing engine: tumbling, sliding and
// session strategies over a per-subject key, with bounded lateness.
package window

import (
	"fmt"
	"time"
)

// Type tags the closed set of window strategy variants.
type Type string

const (
	TypeTumbling Type = "tumbling"
	TypeSliding  Type = "sliding"
	TypeSession  Type = "session"
)

// Strategy is a tagged window-strategy variant. Exactly one shape is valid
// per Type: tumbling uses Size; sliding uses Size+Slide; session uses Gap.
type Strategy struct {
	Type  Type          `json:"type"`
	Size  time.Duration `json:"size,omitempty"`
	Slide time.Duration `json:"slide,omitempty"`
	Gap   time.Duration `json:"gap,omitempty"`
}

// Validate reports configuration errors. Invalid strategies are fatal at
// job submission, never tolerated per event.
func (s Strategy) Validate() error {
	switch s.Type {
	case TypeTumbling:
		if s.Size <= 0 {
			return fmt.Errorf("tumbling window size must be positive, got %v", s.Size)
		}
	case TypeSliding:
		if s.Size <= 0 {
			return fmt.Errorf("sliding window size must be positive, got %v", s.Size)
		}
		if s.Slide <= 0 || s.Slide > s.Size {
			return fmt.Errorf("sliding window slide must be in (0, size], got %v", s.Slide)
		}
	case TypeSession:
		if s.Gap <= 0 {
			return fmt.Errorf("session gap must be positive, got %v", s.Gap)
		}
	default:
		return fmt.Errorf("unknown window type %q", s.Type)
	}
	return nil
}

// Span is a half-open window interval [Start, End).
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (sp Span) contains(t time.Time) bool {
	return !t.Before(sp.Start) && t.Before(sp.End)
}

// Assign returns the spans an event at occurredAt belongs to.
// Pure for tumbling and sliding: a deterministic function of the timestamp
// and strategy parameters, aligned to epoch so replays reproduce identical
// assignment. For session it returns the candidate span [t, t+Gap); merging
// with neighbouring sessions is keyed-state work (see State).
func (s Strategy) Assign(occurredAt time.Time) []Span {
	t := occurredAt.UTC()
	switch s.Type {
	case TypeTumbling:
		start := t.Truncate(s.Size)
		return []Span{{Start: start, End: start.Add(s.Size)}}
	case TypeSliding:
		// Every window whose [start, start+Size) covers t, stepping by Slide.
		last := t.Truncate(s.Slide)
		var spans []Span
		for start := last; t.Sub(start) < s.Size; start = start.Add(-s.Slide) {
			spans = append(spans, Span{Start: start, End: start.Add(s.Size)})
		}
		// Oldest first, so emissions come out in window order.
		for i, j := 0, len(spans)-1; i < j; i, j = i+1, j-1 {
			spans[i], spans[j] = spans[j], spans[i]
		}
		return spans
	case TypeSession:
		return []Span{{Start: t, End: t.Add(s.Gap)}}
	default:
		return nil
	}
}

// ParseSize parses a duration string using Go syntax plus "Xd" for days,
// which time.ParseDuration does not support.
func ParseSize(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration must not be empty")
	}
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if days <= 0 {
			return 0, fmt.Errorf("duration must be positive, got %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %q", s)
	}
	return d, nil
}
