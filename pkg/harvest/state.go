package harvest

import (
	"fmt"
	"time"
)

// Phase is the lifecycle position of one partition.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseDegrading
	PhaseCompleted
	PhaseAbandoned
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetching:
		return "fetching"
	case PhaseDegrading:
		return "degrading"
	case PhaseCompleted:
		return "completed"
	case PhaseAbandoned:
		return "abandoned"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether no further events are accepted.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAbandoned || p == PhaseFailed
}

// Policy holds the per-partition degradation rules. It is never mutated
// during a run; each partition starts from it afresh.
type Policy struct {
	// PageSize is the window limit every partition starts with.
	PageSize int

	// MinPageSize is the floor for halving.
	MinPageSize int

	// MaxFailures consecutive capacity failures abandon the partition.
	MaxFailures int

	// Cooldown is the pause before retrying a degraded window.
	Cooldown time.Duration
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		PageSize:    2000,
		MinPageSize: 500,
		MaxFailures: 3,
		Cooldown:    5 * time.Second,
	}
}

// Validate checks the policy for usable values.
func (p Policy) Validate() error {
	if p.PageSize < 1 {
		return fmt.Errorf("page size must be >= 1 (got %d)", p.PageSize)
	}
	if p.MinPageSize < 1 || p.MinPageSize > p.PageSize {
		return fmt.Errorf("min page size must be in [1, %d] (got %d)", p.PageSize, p.MinPageSize)
	}
	if p.MaxFailures < 1 {
		return fmt.Errorf("max failures must be >= 1 (got %d)", p.MaxFailures)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative (got %v)", p.Cooldown)
	}
	return nil
}

// State is the harvest position of one partition.
type State struct {
	Phase    Phase
	Offset   int
	Limit    int
	Failures int
	Rows     int
	Skipped  bool
}

// Start returns the initial state for a new partition.
func Start(p Policy) State {
	return State{Phase: PhaseIdle, Limit: p.PageSize}
}

// EventKind tags an Event.
type EventKind int

const (
	// EventCheckpointHit: the partition already has output.
	EventCheckpointHit EventKind = iota
	// EventCheckpointMiss: the partition must be fetched.
	EventCheckpointMiss
	// EventPage: a non-empty page was written. Rows carries its size.
	EventPage
	// EventEnd: an empty page ended the partition.
	EventEnd
	// EventCapacityFailure: a window failed after the client's retries.
	EventCapacityFailure
	// EventResume: the cooldown after a capacity failure elapsed.
	EventResume
	// EventFatal: a non-retryable failure.
	EventFatal
)

// Event is an input to Transition.
type Event struct {
	Kind EventKind
	Rows int
}

// Transition returns the state following s after e under policy p. It is
// pure. Events that do not apply to the current phase leave s unchanged.
func Transition(s State, e Event, p Policy) State {
	if s.Phase.Terminal() {
		return s
	}
	if e.Kind == EventFatal {
		s.Phase = PhaseFailed
		return s
	}

	switch s.Phase {
	case PhaseIdle:
		switch e.Kind {
		case EventCheckpointHit:
			s.Phase = PhaseCompleted
			s.Skipped = true
		case EventCheckpointMiss:
			s.Phase = PhaseFetching
		}

	case PhaseFetching:
		switch e.Kind {
		case EventPage:
			s.Offset += s.Limit
			s.Rows += e.Rows
			s.Failures = 0
		case EventEnd:
			s.Phase = PhaseCompleted
		case EventCapacityFailure:
			s.Failures++
			if s.Failures >= p.MaxFailures {
				s.Phase = PhaseAbandoned
				return s
			}
			s.Phase = PhaseDegrading
			s.Limit = shrink(s.Limit, p.MinPageSize)
		}

	case PhaseDegrading:
		if e.Kind == EventResume {
			s.Phase = PhaseFetching
		}
	}
	return s
}

// shrink halves limit without going below floor.
func shrink(limit, floor int) int {
	next := limit / 2
	if next < floor {
		next = floor
	}
	if next > limit {
		next = limit
	}
	return next
}
