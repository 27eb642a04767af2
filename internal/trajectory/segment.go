package trajectory

import (
	"errors"
	"fmt"

	"github.com/banshee-data/discfield/internal/field"
)

// ErrDegenerateGeometry is reported when the first two accepted points share
// an x coordinate, so the lead segment has no defined slope.
var ErrDegenerateGeometry = errors.New("degenerate trajectory geometry")

// SegmentKind distinguishes the synthetic lead from observed segments.
type SegmentKind int

const (
	// Normal joins two accepted points.
	Normal SegmentKind = iota
	// Lead extends the first observed segment back to the field edge.
	Lead
)

func (k SegmentKind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Lead:
		return "lead"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k SegmentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Vec is a point in region-local pixel space with fractional precision.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VecOf converts an integer pixel to a Vec.
func VecOf(p field.Point) Vec {
	return Vec{X: float64(p.X), Y: float64(p.Y)}
}

// Segment is a line the renderer draws.
type Segment struct {
	Start Vec         `json:"start"`
	End   Vec         `json:"end"`
	Kind  SegmentKind `json:"kind"`
}

// Bounds are the x extents of the field in the same frame as the points.
type Bounds struct {
	MinX float64
	MaxX float64
}

// BoundsFor returns bounds for a region-local frame of the given width.
func BoundsFor(width int) Bounds {
	return Bounds{MinX: 0, MaxX: float64(width - 1)}
}

// FarEdge returns the boundary behind a movement from x1 to x2: MinX for
// travel towards +x and MaxX for travel towards -x.
func (b Bounds) FarEdge(x1, x2 float64) float64 {
	if x2 > x1 {
		return b.MinX
	}
	return b.MaxX
}

// LeadSegment extends the line through p1 and p2 back from p1 to the far
// edge. It returns ErrDegenerateGeometry when p1 and p2 share x.
func LeadSegment(p1, p2 Vec, b Bounds) (Segment, error) {
	dx := p2.X - p1.X
	if dx == 0 {
		return Segment{}, fmt.Errorf("%w: first points %v and %v are vertical", ErrDegenerateGeometry, p1, p2)
	}
	m := (p2.Y - p1.Y) / dx
	edge := b.FarEdge(p1.X, p2.X)
	return Segment{
		Start: Vec{X: edge, Y: p1.Y + m*(edge-p1.X)},
		End:   p1,
		Kind:  Lead,
	}, nil
}
