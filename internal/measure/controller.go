// Package measure runs the measurement loop: it owns the calibration state,
// drives capture, detection and tracking on a background worker, and posts
// the results to a renderer.
package measure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/discfield/internal/config"
	"github.com/banshee-data/discfield/internal/depth"
	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/monitoring"
	"github.com/banshee-data/discfield/internal/render"
	"github.com/banshee-data/discfield/internal/timeutil"
	"github.com/banshee-data/discfield/internal/trajectory"
)

var (
	// ErrInvalidRegion is returned for a degenerate region or a corner pick
	// on an already calibrated field.
	ErrInvalidRegion = field.ErrInvalidRegion
	// ErrDegenerateGeometry is reported when the lead cannot be extrapolated.
	ErrDegenerateGeometry = trajectory.ErrDegenerateGeometry
	// ErrUncalibrated is returned when an operation needs a region and none
	// has been picked.
	ErrUncalibrated = errors.New("no calibration region set")
	// ErrDepthSourceUnavailable wraps any failure to obtain a frame.
	ErrDepthSourceUnavailable = errors.New("depth source unavailable")
	// ErrLoopBusy is returned for calibration changes while a loop runs.
	ErrLoopBusy = errors.New("measurement loop is running")
	// ErrOutOfFrame is returned for a pixel read outside the frame.
	ErrOutOfFrame = errors.New("pixel outside frame")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

var logf = monitoring.Component("measure")

// Config holds the loop tuning.
type Config struct {
	NoiseMargin   float32
	MinSeparation int
	DetectWorkers int
	CycleInterval time.Duration
	// DisplayScale is the number of display units per frame pixel.
	DisplayScale float64
}

// ConfigFromTuning maps the tuning file onto a loop config.
func ConfigFromTuning(t *config.TuningConfig) Config {
	return Config{
		NoiseMargin:   float32(t.GetNoiseMargin()),
		MinSeparation: t.GetMinSeparation(),
		DetectWorkers: t.GetDetectWorkers(),
		CycleInterval: t.GetCycleInterval(),
		DisplayScale:  t.GetDisplayScale(),
	}
}

// CalibrationStore persists captured baselines.
type CalibrationStore interface {
	SaveCalibration(snap *field.CalibrationSnapshot) (int64, error)
}

// Options are the optional collaborators of a Controller.
type Options struct {
	Clock    timeutil.Clock
	Renderer render.Renderer
	Store    CalibrationStore
}

// Controller is the measurement loop controller. User operations are
// serialised; while a loop runs the worker goroutine is the only writer of
// the live field and the trajectory.
type Controller struct {
	cfg      Config
	src      depth.Source
	clock    timeutil.Clock
	renderer render.Renderer
	store    CalibrationStore
	cal      *field.Calibrator
	tracker  *trajectory.Tracker

	ctx    context.Context
	cancel context.CancelFunc

	// opMu serialises user operations.
	opMu sync.Mutex

	mu     sync.Mutex
	st     state
	stop   chan struct{}
	done   chan struct{}
	spare  *field.DepthField
	closed bool
}

// New returns an idle, uncalibrated controller reading from src.
func New(src depth.Source, cfg Config, opts Options) *Controller {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = config.EmptyTuningConfig().GetCycleInterval()
	}
	if cfg.DisplayScale <= 0 {
		cfg.DisplayScale = 1
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Renderer == nil {
		opts.Renderer = render.Nop{}
	}
	w, h := src.Size()
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		src:      src,
		clock:    opts.Clock,
		renderer: opts.Renderer,
		store:    opts.Store,
		cal:      field.NewCalibrator(field.DisplayMapping{Scale: cfg.DisplayScale, FrameWidth: w, FrameHeight: h}),
		tracker:  trajectory.NewTracker(cfg.MinSeparation, trajectory.BoundsFor(w)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Controller) lifecycle() (render.Lifecycle, bool) {
	lc, ok := c.renderer.(render.Lifecycle)
	return lc, ok
}

// requireIdle must be called with c.mu held.
func (c *Controller) requireIdle() error {
	if c.closed {
		return ErrClosed
	}
	if c.st.loop != Idle {
		return ErrLoopBusy
	}
	return nil
}

// SetCorner records a corner pick in display coordinates. The second valid
// pick installs the new region: baseline and live fields are reallocated to
// its size and the trajectory is cleared.
func (c *Controller) SetCorner(p field.DisplayPoint) (field.Region, bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	err := c.requireIdle()
	c.mu.Unlock()
	if err != nil {
		return field.Region{}, false, err
	}

	r, done, err := c.cal.SetCorner(p)
	if err != nil {
		c.renderer.Message(err.Error())
		return field.Region{}, false, err
	}
	if done {
		c.applyRegion(r, nil)
		logf("calibration region set to %v", r)
	}
	return r, done, nil
}

// applyRegion installs r. A nil baseline allocates an empty one that has not
// been captured yet.
func (c *Controller) applyRegion(r field.Region, baseline *field.DepthField) {
	c.mu.Lock()
	c.st.region = &r
	c.st.captured = baseline != nil
	if baseline == nil {
		baseline = field.NewDepthField(r)
	}
	c.st.baseline = baseline
	c.st.live = field.NewDepthField(r)
	c.st.last = nil
	c.spare = nil
	c.mu.Unlock()

	c.tracker.Reset()
	c.tracker.SetBounds(trajectory.BoundsFor(r.Width()))
	if lc, ok := c.lifecycle(); ok {
		lc.RegionChanged(r, true)
	}
}

// ResetCalibration discards the region, both fields and the trajectory.
func (c *Controller) ResetCalibration() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.requireIdle(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.st.region = nil
	c.st.baseline = nil
	c.st.live = nil
	c.st.captured = false
	c.st.last = nil
	c.spare = nil
	c.mu.Unlock()

	c.cal.Reset()
	c.tracker.Reset()
	if lc, ok := c.lifecycle(); ok {
		lc.RegionChanged(field.Region{}, false)
	}
	logf("calibration reset")
	return nil
}

// RestoreCalibration installs a previously captured calibration.
func (c *Controller) RestoreCalibration(snap *field.CalibrationSnapshot) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	err := c.requireIdle()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	baseline, err := snap.Field()
	if err != nil {
		return err
	}
	w, h := c.src.Size()
	if baseline.Region.BottomRight.X > w || baseline.Region.BottomRight.Y > h {
		return fmt.Errorf("%w: %v does not fit the %dx%d frame", ErrInvalidRegion, baseline.Region, w, h)
	}
	if err := c.cal.Restore(baseline.Region); err != nil {
		return err
	}
	c.applyRegion(baseline.Region, baseline)
	logf("restored calibration %v", baseline.Region)
	return nil
}

// CaptureBaseline takes a one-shot baseline over the current region without
// starting a loop.
func (c *Controller) CaptureBaseline(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.requireIdle(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.st.region == nil {
		c.mu.Unlock()
		return ErrUncalibrated
	}
	r := *c.st.region
	c.mu.Unlock()

	var baseline *field.DepthField
	err := depth.WithFrame(ctx, c.src, func(f depth.Frame) error {
		baseline = field.Capture(f, r)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDepthSourceUnavailable, err)
	}

	c.mu.Lock()
	c.st.baseline = baseline
	c.st.live = field.NewDepthField(r)
	c.st.captured = true
	c.st.last = nil
	c.mu.Unlock()

	valid := baseline.ValidCount()
	c.renderer.Message(fmt.Sprintf("calibration done: %d / %d valid", valid, r.Len()))
	logf("baseline captured over %v, %d/%d valid readings", r, valid, r.Len())

	if c.store != nil {
		if id, err := c.store.SaveCalibration(field.SnapshotOf(baseline)); err != nil {
			logf("failed to persist calibration: %v", err)
		} else {
			logf("persisted calibration %d", id)
		}
	}
	return nil
}

// Compare runs one detection pass outside a loop and reports the flagged
// count. The trajectory is not touched.
func (c *Controller) Compare(ctx context.Context) (PassReport, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if err := c.requireIdle(); err != nil {
		c.mu.Unlock()
		return PassReport{}, err
	}
	if c.st.region == nil {
		c.mu.Unlock()
		return PassReport{}, ErrUncalibrated
	}
	r, baseline := *c.st.region, c.st.baseline
	c.mu.Unlock()

	var live *field.DepthField
	err := depth.WithFrame(ctx, c.src, func(f depth.Frame) error {
		live = field.Capture(f, r)
		return nil
	})
	if err != nil {
		return PassReport{}, fmt.Errorf("%w: %w", ErrDepthSourceUnavailable, err)
	}
	flagged, err := field.DetectParallel(baseline, live, c.cfg.NoiseMargin, c.cfg.DetectWorkers)
	if err != nil {
		return PassReport{}, err
	}

	report := PassReport{Flagged: len(flagged), RegionLen: r.Len()}
	if p, ok := field.Locate(flagged); ok {
		report.Point = &p
	}
	c.mu.Lock()
	c.st.live = live
	c.st.last = &report
	c.mu.Unlock()

	c.renderer.Message(report.Ratio())
	return report, nil
}

// ReadDistance reads one frame pixel. x and y are 1-based.
func (c *Controller) ReadDistance(ctx context.Context, x, y int) (float32, error) {
	w, h := c.src.Size()
	if x < 1 || y < 1 || x > w || y > h {
		return 0, fmt.Errorf("%w: (%d,%d) not in 1..%d x 1..%d", ErrOutOfFrame, x, y, w, h)
	}
	d, err := depth.ReadDistance(ctx, c.src, x-1, y-1)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDepthSourceUnavailable, err)
	}
	return d, nil
}

// Start moves Idle to Running, clears the trajectory and launches the
// worker. It reports false without error when a loop is already active.
func (c *Controller) Start() (bool, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	if c.st.loop != Idle {
		c.mu.Unlock()
		return false, nil
	}
	if c.st.region == nil {
		c.mu.Unlock()
		return false, ErrUncalibrated
	}
	runID := uuid.NewString()
	c.st.loop = Running
	c.st.runID = runID
	c.st.last = nil
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop = stop
	c.done = done
	ticker := c.clock.NewTicker(c.cfg.CycleInterval)
	c.mu.Unlock()

	c.tracker.Reset()
	c.renderer.Clear()
	if lc, ok := c.lifecycle(); ok {
		lc.LoopStarted(runID)
	}
	logf("loop %s started", runID)

	go c.run(runID, ticker, stop, done)
	return true, nil
}

// Stop requests the final pass. It reports false when no loop is running,
// so repeated stops only ever produce one final pass.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.loop != Running {
		return false
	}
	c.st.loop = StoppingFinalPass
	close(c.stop)
	return true
}

// Toggle starts an idle loop or stops a running one.
func (c *Controller) Toggle() (LoopState, error) {
	c.mu.Lock()
	running := c.st.loop == Running
	c.mu.Unlock()
	if running {
		c.Stop()
	} else if _, err := c.Start(); err != nil {
		return c.LoopState(), err
	}
	return c.LoopState(), nil
}

// LoopState returns the current loop state.
func (c *Controller) LoopState() LoopState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.loop
}

func (c *Controller) run(runID string, ticker timeutil.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		final := false
		select {
		case <-c.ctx.Done():
			c.finish(runID, false, false)
			return
		case <-stop:
			final = true
		case <-ticker.C():
			// a stop that raced the tick turns this cycle into the final one
			select {
			case <-stop:
				final = true
			default:
			}
		}
		accepted, err := c.cycle(runID, final)
		if final {
			if err != nil {
				logf("run %s: final pass failed, committing the trajectory so far: %v", runID, err)
				c.renderer.Message("final pass failed: " + err.Error())
			}
			c.finish(runID, true, accepted)
			return
		}
	}
}

// cycle runs one capture, detect, locate and observe pass. It reports
// whether a new point was accepted and returns the error when no frame could
// be captured.
func (c *Controller) cycle(runID string, final bool) (bool, error) {
	c.mu.Lock()
	region, baseline := c.st.region, c.st.baseline
	next := c.spare
	c.mu.Unlock()
	if region == nil || baseline == nil {
		return false, nil
	}
	if next == nil || next.Region != *region {
		next = field.NewDepthField(*region)
	}

	err := depth.WithFrame(c.ctx, c.src, func(f depth.Frame) error {
		next.CaptureFrom(f)
		return nil
	})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrDepthSourceUnavailable, err)
		c.mu.Lock()
		c.st.failures++
		c.st.lastErr = err
		c.mu.Unlock()
		logf("run %s: cycle aborted: %v", runID, err)
		return false, err
	}

	flagged, err := field.DetectParallel(baseline, next, c.cfg.NoiseMargin, c.cfg.DetectWorkers)
	if err != nil {
		logf("run %s: detect failed: %v", runID, err)
		return false, nil
	}
	p, ok := field.Locate(flagged)
	obs := c.tracker.Observe(p, ok)

	report := &PassReport{Flagged: len(flagged), RegionLen: region.Len(), Accepted: obs.Accepted, Final: final}
	if ok {
		report.Point = &p
	}
	c.mu.Lock()
	c.spare = c.st.live
	c.st.live = next
	c.st.passes++
	c.st.last = report
	if obs.Err != nil {
		c.st.lastErr = obs.Err
	}
	c.mu.Unlock()

	if obs.Err != nil {
		logf("run %s: %v", runID, obs.Err)
		c.renderer.Message(obs.Err.Error())
	}
	for _, s := range obs.Segments {
		c.renderer.DrawSegment(s)
	}
	if obs.Accepted {
		kind := render.Provisional
		if final {
			kind = render.Final
		}
		c.renderer.HighlightPixel(p.X, p.Y, kind)
	}
	return obs.Accepted, nil
}

// finish returns the loop to Idle. A committed run marks its last point as
// final, unless the final pass already did, and notifies lifecycle sinks with
// that point in frame coordinates.
func (c *Controller) finish(runID string, committed, finalHighlighted bool) {
	last, ok := c.tracker.Last()
	if committed {
		if ok && !finalHighlighted {
			c.renderer.HighlightPixel(last.X, last.Y, render.Final)
		}
		c.mu.Lock()
		region := c.st.region
		c.mu.Unlock()
		if ok && region != nil {
			last = region.ToFrame(last)
		}
		if lc, isLC := c.lifecycle(); isLC {
			lc.LoopCommitted(runID, last, ok)
		}
	}

	c.mu.Lock()
	c.st.loop = Idle
	c.stop = nil
	passes, failures := c.st.passes, c.st.failures
	c.mu.Unlock()

	logf("loop %s finished: committed=%t points=%d passes=%d failures=%d",
		runID, committed, c.tracker.Len(), passes, failures)
}

// Wait blocks until the current worker, if any, has exited.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close stops any running loop, waits for the final pass and releases the
// worker context. The depth source is left open.
func (c *Controller) Close() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Stop()
	c.Wait()
	c.cancel()
	return nil
}

// Snapshot returns a consistent copy of the controller state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	s := State{
		Loop:             c.st.loop,
		RunID:            c.st.runID,
		Passes:           c.st.passes,
		Failures:         c.st.failures,
		BaselineCaptured: c.st.captured,
	}
	if c.st.region != nil {
		r := *c.st.region
		s.Region = &r
	}
	if c.st.baseline != nil && c.st.captured {
		s.BaselineValid = c.st.baseline.ValidCount()
	}
	if c.st.lastErr != nil {
		s.LastError = c.st.lastErr.Error()
	}
	if c.st.last != nil {
		lp := *c.st.last
		s.LastPass = &lp
	}
	c.mu.Unlock()

	s.CornerPicks = c.cal.Picks()
	s.Trajectory = c.tracker.Points()
	s.Segments = c.tracker.Segments()
	return s
}

// Fields returns copies of the baseline and the latest live field. Either is
// nil when no region is set.
func (c *Controller) Fields() (baseline, live *field.DepthField) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.baseline != nil {
		baseline = c.st.baseline.Clone()
	}
	if c.st.live != nil {
		live = c.st.live.Clone()
	}
	return baseline, live
}
