package render

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/monitoring"
	"github.com/banshee-data/discfield/internal/trajectory"
)

// DefaultBuffer is the dispatcher queue depth used when none is configured.
const DefaultBuffer = 256

var logf = monitoring.Component("render")

type queued struct {
	ev      Event
	barrier chan struct{}
}

// Dispatcher is a Renderer that posts each notification onto a queue drained
// by a single goroutine, which fans events out to its sinks in post order.
// Posting never blocks. Once buffer events are waiting, provisional
// highlights and messages are dropped and counted; lifecycle, clear, segment
// and final highlight events are always queued so a slow sink cannot lose a
// commit.
type Dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []queued
	buffer  int
	sinks   []Sink
	closed  bool
	done    chan struct{}
	now     func() time.Time

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher starts a dispatcher that holds up to buffer droppable events.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		buffer: buffer,
		sinks:  append([]Sink(nil), sinks...),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// AddSink registers s for every event posted from now on.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := make([]Sink, len(d.sinks), len(d.sinks)+1)
	copy(next, d.sinks)
	d.sinks = append(next, s)
}

// droppable reports whether e may be discarded under backpressure.
func droppable(e Event) bool {
	switch e.Type {
	case EventMessage:
		return true
	case EventHighlight:
		return e.Kind == nil || *e.Kind == Provisional
	default:
		return false
	}
}

func (d *Dispatcher) post(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if droppable(e) && len(d.pending) >= d.buffer {
		n := d.dropped.Add(1)
		logf("queue full, dropped %s event (total dropped %d)", e.Type, n)
		return
	}
	e.Seq = d.seq.Add(1)
	e.Time = d.now()
	d.pending = append(d.pending, queued{ev: e})
	d.cond.Signal()
}

// next blocks for the oldest queued entry. It reports false once the
// dispatcher is closed and drained.
func (d *Dispatcher) next() (queued, []Sink, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.pending) == 0 && !d.closed {
		d.cond.Wait()
	}
	if len(d.pending) == 0 {
		return queued{}, nil, false
	}
	q := d.pending[0]
	d.pending[0] = queued{}
	d.pending = d.pending[1:]
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return q, d.sinks, true
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		q, sinks, ok := d.next()
		if !ok {
			return
		}
		if q.barrier != nil {
			close(q.barrier)
			continue
		}
		for _, s := range sinks {
			deliver(s, q.ev)
		}
	}
}

func deliver(s Sink, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logf("sink %T panicked on %s event: %v", s, e.Type, r)
		}
	}()
	s.Handle(e)
}

// Flush waits until every event posted before the call has been delivered.
func (d *Dispatcher) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.pending = append(d.pending, queued{barrier: barrier})
	d.cond.Signal()
	d.mu.Unlock()

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many events were discarded under backpressure.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Close delivers the events already queued and stops the dispatcher. Later
// posts are ignored.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.cond.Broadcast()
	}
	d.mu.Unlock()
	<-d.done
}

// HighlightPixel implements Renderer.
func (d *Dispatcher) HighlightPixel(x, y int, kind HighlightKind) {
	d.post(Event{Type: EventHighlight, Point: &field.Point{X: x, Y: y}, Kind: &kind})
}

// DrawSegment implements Renderer.
func (d *Dispatcher) DrawSegment(s trajectory.Segment) {
	d.post(Event{Type: EventSegment, Segment: &s})
}

// Clear implements Renderer.
func (d *Dispatcher) Clear() {
	d.post(Event{Type: EventClear})
}

// Message implements Renderer.
func (d *Dispatcher) Message(text string) {
	d.post(Event{Type: EventMessage, Text: text})
}

// LoopStarted implements Lifecycle.
func (d *Dispatcher) LoopStarted(runID string) {
	d.post(Event{Type: EventLoopStarted, RunID: runID})
}

// LoopCommitted implements Lifecycle.
func (d *Dispatcher) LoopCommitted(runID string, last field.Point, ok bool) {
	e := Event{Type: EventLoopCommitted, RunID: runID}
	if ok {
		e.Point = &last
	}
	d.post(e)
}

// RegionChanged implements Lifecycle.
func (d *Dispatcher) RegionChanged(r field.Region, ok bool) {
	e := Event{Type: EventRegion}
	if ok {
		e.Region = &r
	}
	d.post(e)
}
