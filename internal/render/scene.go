package render

import (
	"sync"

	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/trajectory"
)

const maxSceneMessages = 20

// Highlight is one highlighted pixel in region-local coordinates.
type Highlight struct {
	Point field.Point   `json:"point"`
	Kind  HighlightKind `json:"kind"`
}

// SceneState is a copy of everything currently drawn.
type SceneState struct {
	Region       *field.Region        `json:"region,omitempty"`
	DisplayScale float64              `json:"display_scale"`
	RunID        string               `json:"run_id,omitempty"`
	Committed    bool                 `json:"committed"`
	Highlights   []Highlight          `json:"highlights"`
	Segments     []trajectory.Segment `json:"segments"`
	Messages     []string             `json:"messages"`
	LastSeq      uint64               `json:"last_seq"`
}

// Scene is a Sink that accumulates drawing state for pages and plots.
type Scene struct {
	mu    sync.RWMutex
	state SceneState
}

// NewScene returns an empty scene. displayScale is passed through to readers
// that map region pixels back to display space.
func NewScene(displayScale float64) *Scene {
	return &Scene{state: SceneState{DisplayScale: displayScale}}
}

// Handle implements Sink.
func (s *Scene) Handle(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.state
	st.LastSeq = e.Seq
	switch e.Type {
	case EventClear:
		st.Highlights = nil
		st.Segments = nil
		st.Committed = false
	case EventHighlight:
		if e.Point != nil && e.Kind != nil {
			st.Highlights = append(st.Highlights, Highlight{Point: *e.Point, Kind: *e.Kind})
		}
	case EventSegment:
		if e.Segment != nil {
			st.Segments = append(st.Segments, *e.Segment)
		}
	case EventMessage:
		st.Messages = append(st.Messages, e.Text)
		if n := len(st.Messages); n > maxSceneMessages {
			st.Messages = append([]string(nil), st.Messages[n-maxSceneMessages:]...)
		}
	case EventLoopStarted:
		st.RunID = e.RunID
		st.Committed = false
	case EventLoopCommitted:
		st.Committed = true
	case EventRegion:
		st.Region = e.Region
		st.Highlights = nil
		st.Segments = nil
		st.Committed = false
	}
}

// Snapshot returns a deep copy of the scene.
func (s *Scene) Snapshot() SceneState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	if s.state.Region != nil {
		r := *s.state.Region
		out.Region = &r
	}
	out.Highlights = append([]Highlight(nil), s.state.Highlights...)
	out.Segments = append([]trajectory.Segment(nil), s.state.Segments...)
	out.Messages = append([]string(nil), s.state.Messages...)
	return out
}
