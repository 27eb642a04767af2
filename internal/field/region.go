// Package field owns the calibrated area of the depth frame: the region the
// user picked, the baseline and live depth fields captured over it, and the
// per-pass detection of pixels that moved closer than baseline.
//
// Coordinates handed out by Detect and Locate are region-local: (0, 0) is the
// region's top-left pixel.
package field

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidRegion is returned for a zero-area or inverted region.
	ErrInvalidRegion = errors.New("invalid calibration region")
	// ErrAlreadyCalibrated is returned when a third corner is picked without
	// a reset in between.
	ErrAlreadyCalibrated = fmt.Errorf("%w: already calibrated, reset first", ErrInvalidRegion)
	// ErrFieldMismatch is returned when two fields do not cover the same region.
	ErrFieldMismatch = errors.New("depth fields cover different regions")
)

// Point is an integer pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Region is a rectangle in frame pixel space. TopLeft is inclusive and
// BottomRight exclusive, so Width and Height are plain differences.
type Region struct {
	TopLeft     Point `json:"top_left"`
	BottomRight Point `json:"bottom_right"`
}

// NewRegion builds a region and validates it.
func NewRegion(topLeft, bottomRight Point) (Region, error) {
	r := Region{TopLeft: topLeft, BottomRight: bottomRight}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}

// Validate rejects regions whose bottom-right corner is not strictly below
// and to the right of the top-left corner.
func (r Region) Validate() error {
	if r.BottomRight.X <= r.TopLeft.X || r.BottomRight.Y <= r.TopLeft.Y {
		return fmt.Errorf("%w: %v to %v has no area", ErrInvalidRegion, r.TopLeft, r.BottomRight)
	}
	return nil
}

// Width is the number of pixel columns.
func (r Region) Width() int { return r.BottomRight.X - r.TopLeft.X }

// Height is the number of pixel rows.
func (r Region) Height() int { return r.BottomRight.Y - r.TopLeft.Y }

// Len is the number of pixels covered.
func (r Region) Len() int { return r.Width() * r.Height() }

// Contains reports whether frame pixel p lies inside the region.
func (r Region) Contains(p Point) bool {
	return p.X >= r.TopLeft.X && p.X < r.BottomRight.X &&
		p.Y >= r.TopLeft.Y && p.Y < r.BottomRight.Y
}

// ToFrame converts a region-local point to frame pixel space.
func (r Region) ToFrame(local Point) Point {
	return Point{X: local.X + r.TopLeft.X, Y: local.Y + r.TopLeft.Y}
}

func (r Region) String() string {
	return fmt.Sprintf("%v-%v (%dx%d)", r.TopLeft, r.BottomRight, r.Width(), r.Height())
}

// DisplayPoint is a position in the renderer's coordinate space.
type DisplayPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DisplayMapping converts renderer coordinates into frame pixels. Scale is the
// number of display units per frame pixel.
type DisplayMapping struct {
	Scale       float64
	FrameWidth  int
	FrameHeight int
}

// ToPixel divides by Scale, rounds half away from zero and clamps to the
// frame. A corner may sit on the far frame edge (x == FrameWidth) since
// BottomRight is exclusive.
func (m DisplayMapping) ToPixel(p DisplayPoint) Point {
	scale := m.Scale
	if scale <= 0 {
		scale = 1
	}
	x := int(math.Round(p.X / scale))
	y := int(math.Round(p.Y / scale))
	return Point{X: clamp(x, 0, m.FrameWidth), Y: clamp(y, 0, m.FrameHeight)}
}

// ToDisplay maps a frame pixel back to display space.
func (m DisplayMapping) ToDisplay(p Point) DisplayPoint {
	scale := m.Scale
	if scale <= 0 {
		scale = 1
	}
	return DisplayPoint{X: float64(p.X) * scale, Y: float64(p.Y) * scale}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
