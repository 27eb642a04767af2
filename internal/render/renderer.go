// Package render carries drawing notifications from the measurement loop to
// the presentation layer. The loop only ever posts plain data; sinks own how
// it is shown.
package render

import (
	"fmt"
	"time"

	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/trajectory"
)

// HighlightKind selects the colour a highlighted pixel is drawn in.
type HighlightKind int

const (
	// Provisional marks a point accepted during a running loop.
	Provisional HighlightKind = iota
	// Final marks the point committed by the stopping pass.
	Final
)

func (k HighlightKind) String() string {
	switch k {
	case Provisional:
		return "provisional"
	case Final:
		return "final"
	default:
		return fmt.Sprintf("HighlightKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k HighlightKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Renderer receives drawing notifications. Implementations must not block
// the caller for long; the measurement loop calls them between cycles.
type Renderer interface {
	HighlightPixel(x, y int, kind HighlightKind)
	DrawSegment(s trajectory.Segment)
	Clear()
	// Message reports a recoverable condition to the user.
	Message(text string)
}

// Lifecycle is optionally implemented by renderers that care about loop and
// calibration transitions.
type Lifecycle interface {
	LoopStarted(runID string)
	// LoopCommitted carries the last trajectory point in frame pixel
	// coordinates; ok is false when nothing was tracked.
	LoopCommitted(runID string, last field.Point, ok bool)
	RegionChanged(r field.Region, ok bool)
}

// EventType names a notification on the wire.
type EventType string

const (
	EventHighlight     EventType = "highlight"
	EventSegment       EventType = "segment"
	EventClear         EventType = "clear"
	EventMessage       EventType = "message"
	EventLoopStarted   EventType = "loop_started"
	EventLoopCommitted EventType = "loop_committed"
	EventRegion        EventType = "region"
)

// Event is one notification as delivered to sinks.
type Event struct {
	Seq     uint64              `json:"seq"`
	Type    EventType           `json:"type"`
	Time    time.Time           `json:"time"`
	Point   *field.Point        `json:"point,omitempty"`
	Kind    *HighlightKind      `json:"kind,omitempty"`
	Segment *trajectory.Segment `json:"segment,omitempty"`
	Region  *field.Region       `json:"region,omitempty"`
	Text    string              `json:"text,omitempty"`
	RunID   string              `json:"run_id,omitempty"`
}

// Sink consumes events on the dispatcher goroutine, one at a time, in post
// order.
type Sink interface {
	Handle(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Handle implements Sink.
func (f SinkFunc) Handle(e Event) { f(e) }

// Nop discards every notification.
type Nop struct{}

func (Nop) HighlightPixel(int, int, HighlightKind) {}
func (Nop) DrawSegment(trajectory.Segment)        {}
func (Nop) Clear()                                {}
func (Nop) Message(string)                        {}
