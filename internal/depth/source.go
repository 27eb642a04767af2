// Package depth defines the depth camera boundary: a source that hands out
// frame snapshots on demand and the frame readers the field engine scans.
//
// A reading is a distance in metres. Zero means the sensor had no valid
// return for that pixel; it is never "very close".
package depth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by BeginFrame after the source has been closed.
	ErrClosed = errors.New("depth source closed")
	// ErrFrameTimeout is returned when a frame does not arrive in time.
	ErrFrameTimeout = errors.New("timed out waiting for depth frame")
	// ErrDropout is returned by the synthetic source when a frame is
	// deliberately withheld.
	ErrDropout = errors.New("depth frame dropped")
)

// Frame is a snapshot of one depth image. Callers must Release it when done.
type Frame interface {
	// DistanceAt returns the reading at frame pixel (x, y), or 0 when the
	// pixel is out of range or has no valid depth.
	DistanceAt(x, y int) float32
	// Release frees any resources held by the frame.
	Release()
}

// Source supplies depth frames. BeginFrame blocks until a frame is available
// or ctx is done.
type Source interface {
	BeginFrame(ctx context.Context) (Frame, error)
	// Size returns the fixed frame resolution.
	Size() (width, height int)
	Close() error
}

// WithFrame acquires one frame, runs fn against it and releases the frame on
// every exit path, including a panic in fn.
func WithFrame(ctx context.Context, src Source, fn func(Frame) error) error {
	f, err := src.BeginFrame(ctx)
	if err != nil {
		return err
	}
	defer f.Release()
	return fn(f)
}

// ReadDistance reads a single pixel from a fresh frame.
func ReadDistance(ctx context.Context, src Source, x, y int) (float32, error) {
	w, h := src.Size()
	if x < 0 || y < 0 || x >= w || y >= h {
		return 0, fmt.Errorf("pixel (%d,%d) outside %dx%d frame", x, y, w, h)
	}
	var d float32
	err := WithFrame(ctx, src, func(f Frame) error {
		d = f.DistanceAt(x, y)
		return nil
	})
	return d, err
}

// Grid is a dense depth frame stored row by row: Values[y*Width+x].
type Grid struct {
	Width  int
	Height int
	Values []float32
}

// NewGrid allocates a zeroed (all invalid) grid.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Values: make([]float32, width*height),
	}
}

// DistanceAt implements Frame.
func (g *Grid) DistanceAt(x, y int) float32 {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return 0
	}
	return g.Values[y*g.Width+x]
}

// Set stores a reading; out of range pixels are ignored.
func (g *Grid) Set(x, y int, d float32) {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return
	}
	g.Values[y*g.Width+x] = d
}

// Fill sets every pixel to d.
func (g *Grid) Fill(d float32) {
	for i := range g.Values {
		g.Values[i] = d
	}
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	c := &Grid{Width: g.Width, Height: g.Height, Values: make([]float32, len(g.Values))}
	copy(c.Values, g.Values)
	return c
}

// Release implements Frame. Grids are plain memory; nothing to free.
func (g *Grid) Release() {}

// Snapshot copies any Frame of the given size into a Grid.
func Snapshot(f Frame, width, height int) *Grid {
	g := NewGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g.Values[y*width+x] = f.DistanceAt(x, y)
		}
	}
	return g
}
