// Package trajectory accumulates the representative points of a measurement
// loop into a de-duplicated path and derives the segments the renderer draws.
package trajectory

import (
	"sync"

	"github.com/banshee-data/discfield/internal/field"
)

// DefaultMinSeparation is the per-axis distance, in pixels, a point must move
// from the last accepted point to count as a new position.
const DefaultMinSeparation = 5

// Observation is the outcome of one Observe call. Segments are in draw
// order; a lead, when present, comes before the normal segment. Err carries a
// recoverable geometry problem and never means the point was rejected.
type Observation struct {
	Accepted bool
	Segments []Segment
	Err      error
}

// Tracker holds the trajectory of one measurement loop.
type Tracker struct {
	mu            sync.Mutex
	minSeparation int
	bounds        Bounds
	points        []field.Point
	lead          *Segment
}

// NewTracker returns an empty tracker. A negative minSeparation is treated
// as zero, so any movement is accepted.
func NewTracker(minSeparation int, b Bounds) *Tracker {
	if minSeparation < 0 {
		minSeparation = 0
	}
	return &Tracker{minSeparation: minSeparation, bounds: b}
}

// Observe offers the representative point of one pass. ok=false means the
// pass flagged nothing and is a no-op.
func (t *Tracker) Observe(p field.Point, ok bool) Observation {
	if !ok {
		return Observation{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.points)
	if n == 0 {
		t.points = append(t.points, p)
		return Observation{Accepted: true}
	}

	last := t.points[n-1]
	if !t.separated(last, p) {
		return Observation{}
	}
	t.points = append(t.points, p)

	obs := Observation{Accepted: true}
	if n == 1 {
		lead, err := LeadSegment(VecOf(last), VecOf(p), t.bounds)
		if err != nil {
			obs.Err = err
		} else {
			t.lead = &lead
			obs.Segments = append(obs.Segments, lead)
		}
	}
	obs.Segments = append(obs.Segments, Segment{Start: VecOf(last), End: VecOf(p), Kind: Normal})
	return obs
}

func (t *Tracker) separated(a, b field.Point) bool {
	return abs(b.X-a.X) > t.minSeparation || abs(b.Y-a.Y) > t.minSeparation
}

// Points returns a copy of the accepted points in order.
func (t *Tracker) Points() []field.Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]field.Point, len(t.points))
	copy(out, t.points)
	return out
}

// Len returns the number of accepted points.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.points)
}

// Last returns the most recently accepted point.
func (t *Tracker) Last() (field.Point, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.points) == 0 {
		return field.Point{}, false
	}
	return t.points[len(t.points)-1], true
}

// Segments rebuilds every segment drawn so far, lead first.
func (t *Tracker) Segments() []Segment {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Segment
	if t.lead != nil {
		out = append(out, *t.lead)
	}
	for i := 1; i < len(t.points); i++ {
		out = append(out, Segment{Start: VecOf(t.points[i-1]), End: VecOf(t.points[i]), Kind: Normal})
	}
	return out
}

// Reset clears the points and the cached lead.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = nil
	t.lead = nil
}

// SetBounds replaces the field extents used for the lead. It does not touch
// the accepted points.
func (t *Tracker) SetBounds(b Bounds) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bounds = b
}

// Bounds returns the current field extents.
func (t *Tracker) Bounds() Bounds {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bounds
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
