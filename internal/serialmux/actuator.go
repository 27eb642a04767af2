package serialmux

import (
	"fmt"

	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/render"
)

// StartMessage is sent when a measurement run begins.
const StartMessage = "START"

// EndMessage formats the commit message for the last trajectory point, or
// "END -" when the run tracked nothing.
func EndMessage(last *field.Point) string {
	if last == nil {
		return "END -"
	}
	return fmt.Sprintf("END %d,%d", last.X, last.Y)
}

// Sender is the part of Link the actuator sink needs.
type Sender interface {
	Send(msg string) bool
}

// Actuator is a render sink that drives the scoring hardware from the loop
// lifecycle. All other events are ignored.
type Actuator struct {
	link Sender
}

// NewActuator returns a sink writing through link.
func NewActuator(link Sender) *Actuator {
	return &Actuator{link: link}
}

// Handle implements render.Sink.
func (a *Actuator) Handle(e render.Event) {
	var msg string
	switch e.Type {
	case render.EventLoopStarted:
		msg = StartMessage
	case render.EventLoopCommitted:
		msg = EndMessage(e.Point)
	default:
		return
	}
	if !a.link.Send(msg) {
		logf("run %s: actuator did not take %q", e.RunID, msg)
	}
}
