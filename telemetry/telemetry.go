// Package telemetry records per-turn performance checkpoints and hands them
// to a Sink when the turn ends.
//
// A Tracker belongs to exactly one turn. Components open a Span for their
// area, mark named checkpoints while they work and end the span; Flush then
// emits every checkpoint collected for the turn and resets the tracker.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known areas.
const (
	AreaDispatchToAgent  = "DispatchToAgent"
	AreaLoginFlowHandler = "LoginFlowHandler"
)

// Checkpoint is one named measurement inside an area.
type Checkpoint struct {
	TurnID   string        `json:"turnId"`
	Area     string        `json:"area"`
	Scenario string        `json:"scenario"`
	Elapsed  time.Duration `json:"elapsed"`
	At       time.Time     `json:"at"`
}

// Sink receives the checkpoints of a finished turn in recording order.
type Sink interface {
	Emit(ctx context.Context, checkpoints []Checkpoint) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, checkpoints []Checkpoint) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, checkpoints []Checkpoint) error { return f(ctx, checkpoints) }

// Discard drops all checkpoints.
var Discard Sink = SinkFunc(func(context.Context, []Checkpoint) error { return nil })

// Tracker collects checkpoints for one turn. A nil *Tracker is valid and
// records nothing.
type Tracker struct {
	mu     sync.Mutex
	turnID string
	sink   Sink
	now    func() time.Time
	points []Checkpoint
}

// NewTracker creates a tracker emitting to sink (Discard when nil).
func NewTracker(sink Sink) *Tracker {
	if sink == nil {
		sink = Discard
	}
	return &Tracker{turnID: uuid.NewString(), sink: sink, now: time.Now}
}

// TurnID returns the id shared by all checkpoints of this turn.
func (t *Tracker) TurnID() string {
	if t == nil {
		return ""
	}
	return t.turnID
}

// Start opens a span in area and records its "Start" checkpoint.
func (t *Tracker) Start(area string) *Span {
	if t == nil {
		return nil
	}
	s := &Span{tracker: t, area: area, start: t.now()}
	s.lap = s.start
	t.record(area, "Start", 0)
	return s
}

// Checkpoints returns a copy of what has been recorded so far.
func (t *Tracker) Checkpoints() []Checkpoint {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Checkpoint(nil), t.points...)
}

// Flush emits the recorded checkpoints and clears them.
func (t *Tracker) Flush(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	points := t.points
	t.points = nil
	t.mu.Unlock()
	if len(points) == 0 {
		return nil
	}
	if err := t.sink.Emit(ctx, points); err != nil {
		return fmt.Errorf("emit telemetry: %w", err)
	}
	return nil
}

func (t *Tracker) record(area, scenario string, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = append(t.points, Checkpoint{
		TurnID:   t.turnID,
		Area:     area,
		Scenario: scenario,
		Elapsed:  elapsed,
		At:       t.now(),
	})
}

// Span measures one area. Mark records the time since the previous mark,
// Total the time since the span opened. A nil *Span is a no-op.
type Span struct {
	tracker *Tracker
	area    string
	start   time.Time
	lap     time.Time
	ended   bool
}

// Mark records scenario with the time elapsed since the previous mark.
func (s *Span) Mark(scenario string) {
	if s == nil || s.ended {
		return
	}
	now := s.tracker.now()
	s.tracker.record(s.area, scenario, now.Sub(s.lap))
	s.lap = now
}

// Markf is Mark with a formatted scenario name.
func (s *Span) Markf(format string, args ...any) {
	if s == nil {
		return
	}
	s.Mark(fmt.Sprintf(format, args...))
}

// Total records scenario with the time elapsed since the span opened.
func (s *Span) Total(scenario string) {
	if s == nil || s.ended {
		return
	}
	s.tracker.record(s.area, scenario, s.tracker.now().Sub(s.start))
}

// End records scenario as the span total and closes the span. Further
// marks are ignored.
func (s *Span) End(scenario string) {
	if s == nil || s.ended {
		return
	}
	s.Total(scenario)
	s.ended = true
}

type trackerKey struct{}

// WithTracker returns a context carrying t.
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerKey{}, t)
}

// FromContext returns the tracker carried by ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(trackerKey{}).(*Tracker)
	return t
}
