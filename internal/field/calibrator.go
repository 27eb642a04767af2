package field

import "sync"

// Calibrator collects the two sequential corner picks that define a Region.
type Calibrator struct {
	mu      sync.Mutex
	mapping DisplayMapping
	picks   int
	topLeft Point
	region  *Region
}

// NewCalibrator returns a calibrator with no corners picked.
func NewCalibrator(m DisplayMapping) *Calibrator {
	return &Calibrator{mapping: m}
}

// SetCorner records the next corner pick. The first pick sets the top-left
// corner and returns done=false. The second pick sets the bottom-right corner
// and returns the completed region with done=true. A degenerate second pick
// returns ErrInvalidRegion and leaves the first corner in place so the second
// can be picked again. Any pick after a completed region returns
// ErrAlreadyCalibrated until Reset.
func (c *Calibrator) SetCorner(p DisplayPoint) (region Region, done bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	px := c.mapping.ToPixel(p)
	switch c.picks {
	case 0:
		c.topLeft = px
		c.picks = 1
		return Region{}, false, nil
	case 1:
		r, err := NewRegion(c.topLeft, px)
		if err != nil {
			return Region{}, false, err
		}
		c.region = &r
		c.picks = 2
		return r, true, nil
	default:
		return Region{}, false, ErrAlreadyCalibrated
	}
}

// Restore installs a region directly, as if both corners had been picked.
func (c *Calibrator) Restore(r Region) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topLeft = r.TopLeft
	c.region = &r
	c.picks = 2
	return nil
}

// Reset forgets all picks.
func (c *Calibrator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.picks = 0
	c.topLeft = Point{}
	c.region = nil
}

// Region returns the completed region, if any.
func (c *Calibrator) Region() (Region, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.region == nil {
		return Region{}, false
	}
	return *c.region, true
}

// Picks reports how many corners have been accepted since the last reset.
func (c *Calibrator) Picks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.picks
}

// Mapping returns the display mapping in use.
func (c *Calibrator) Mapping() DisplayMapping {
	return c.mapping
}
