package depth

import (
	"context"
	"math"
	"sync"
)

// Disc places a round object in one synthetic frame. Pixels within Radius of
// (X, Y) read Distance instead of the floor.
type Disc struct {
	X, Y     int
	Radius   int
	Distance float32
}

// SyntheticSource renders a flat playing field at a fixed distance and
// composites a scripted sequence of discs onto it, one script entry per frame.
// It stands in for the camera in dev mode and in tests.
type SyntheticSource struct {
	mu       sync.Mutex
	width    int
	height   int
	floor    float32
	dead     map[[2]int]struct{}
	script   []*Disc
	pos      int
	loop     bool
	failNext int
	frames   int
	closed   bool
}

// NewSyntheticSource creates a width x height source whose empty field reads
// floor metres everywhere.
func NewSyntheticSource(width, height int, floor float32) *SyntheticSource {
	return &SyntheticSource{
		width:  width,
		height: height,
		floor:  floor,
		dead:   make(map[[2]int]struct{}),
	}
}

// Enqueue appends frames to the script. A nil entry yields an empty field.
func (s *SyntheticSource) Enqueue(discs ...*Disc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, discs...)
}

// SetLoop makes the script restart from the beginning once exhausted.
func (s *SyntheticSource) SetLoop(loop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = loop
}

// SetDead marks a pixel as permanently invalid (reads 0).
func (s *SyntheticSource) SetDead(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead[[2]int{x, y}] = struct{}{}
}

// FailNext makes the next n BeginFrame calls return ErrDropout without
// consuming the script.
func (s *SyntheticSource) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Frames reports how many frames have been handed out.
func (s *SyntheticSource) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Size implements Source.
func (s *SyntheticSource) Size() (int, int) { return s.width, s.height }

// BeginFrame implements Source.
func (s *SyntheticSource) BeginFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.failNext > 0 {
		s.failNext--
		return nil, ErrDropout
	}

	g := NewGrid(s.width, s.height)
	g.Fill(s.floor)
	for p := range s.dead {
		g.Set(p[0], p[1], 0)
	}

	var disc *Disc
	if s.pos < len(s.script) {
		disc = s.script[s.pos]
		s.pos++
		if s.loop && s.pos == len(s.script) {
			s.pos = 0
		}
	}
	if disc != nil {
		paintDisc(g, disc, s.dead)
	}
	s.frames++
	return g, nil
}

// Close implements Source.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func paintDisc(g *Grid, d *Disc, dead map[[2]int]struct{}) {
	r2 := d.Radius * d.Radius
	for y := d.Y - d.Radius; y <= d.Y+d.Radius; y++ {
		for x := d.X - d.Radius; x <= d.X+d.Radius; x++ {
			dx, dy := x-d.X, y-d.Y
			if dx*dx+dy*dy > r2 {
				continue
			}
			if _, ok := dead[[2]int{x, y}]; ok {
				continue
			}
			g.Set(x, y, d.Distance)
		}
	}
}

// ThrowScript builds a straight-line throw from (x0, y0) to (x1, y1) over
// steps frames, followed by idle empty frames.
func ThrowScript(x0, y0, x1, y1, steps, radius int, distance float32, idle int) []*Disc {
	if steps < 1 {
		steps = 1
	}
	out := make([]*Disc, 0, steps+idle)
	for i := 0; i < steps; i++ {
		t := 0.0
		if steps > 1 {
			t = float64(i) / float64(steps-1)
		}
		out = append(out, &Disc{
			X:        int(math.Round(float64(x0) + t*float64(x1-x0))),
			Y:        int(math.Round(float64(y0) + t*float64(y1-y0))),
			Radius:   radius,
			Distance: distance,
		})
	}
	for i := 0; i < idle; i++ {
		out = append(out, nil)
	}
	return out
}
