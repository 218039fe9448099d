package pipeline

import (
	"fmt"
	"sync/atomic"
)

// State is a driver loop state.
type State int32

const (
	Initializing State = iota
	Subscribing
	Polling
	Writing
	Skipping
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Subscribing:
		return "subscribing"
	case Polling:
		return "polling"
	case Writing:
		return "writing"
	case Skipping:
		return "skipping"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Status holds the current State. onChange runs on every Set.
type Status struct {
	v        atomic.Int32
	onChange func(State)
}

func NewStatus(onChange func(State)) *Status {
	return &Status{onChange: onChange}
}

func (s *Status) Set(st State) {
	s.v.Store(int32(st))
	if s.onChange != nil {
		s.onChange(st)
	}
}

func (s *Status) Get() State { return State(s.v.Load()) }
