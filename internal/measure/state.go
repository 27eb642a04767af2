package measure

import (
	"fmt"

	"github.com/banshee-data/discfield/internal/field"
	"github.com/banshee-data/discfield/internal/trajectory"
)

// LoopState is the measurement loop state machine.
type LoopState int

const (
	Idle LoopState = iota
	Running
	// StoppingFinalPass runs exactly one more cycle with commit semantics
	// before returning to Idle.
	StoppingFinalPass
)

func (s LoopState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case StoppingFinalPass:
		return "stopping"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s LoopState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PassReport summarises one detection pass.
type PassReport struct {
	Flagged   int          `json:"flagged"`
	RegionLen int          `json:"region_len"`
	Point     *field.Point `json:"point,omitempty"`
	Accepted  bool         `json:"accepted"`
	Final     bool         `json:"final"`
}

// Ratio formats the flagged count as "n / total".
func (r PassReport) Ratio() string {
	return fmt.Sprintf("%d / %d", r.Flagged, r.RegionLen)
}

// state is the single record shared between the user-facing operations and
// the loop worker. It is guarded by Controller.mu.
type state struct {
	region   *field.Region
	baseline *field.DepthField
	live     *field.DepthField
	captured bool
	loop     LoopState
	runID    string
	passes   uint64
	failures uint64
	lastErr  error
	last     *PassReport
}

// State is a read-only copy of the controller state.
type State struct {
	Region           *field.Region        `json:"region,omitempty"`
	CornerPicks      int                  `json:"corner_picks"`
	BaselineCaptured bool                 `json:"baseline_captured"`
	BaselineValid    int                  `json:"baseline_valid"`
	Loop             LoopState            `json:"loop"`
	RunID            string               `json:"run_id,omitempty"`
	Passes           uint64               `json:"passes"`
	Failures         uint64               `json:"failures"`
	LastError        string               `json:"last_error,omitempty"`
	LastPass         *PassReport          `json:"last_pass,omitempty"`
	Trajectory       []field.Point        `json:"trajectory"`
	Segments         []trajectory.Segment `json:"segments"`
}
