package engine

import "fmt"

// Reason is why the driver loop reached Terminated.
type Reason int

const (
	Shutdown Reason = iota
	ConfigFailure
	SubscribeFailure
	SourceFailure
	SinkFailure
)

func (r Reason) String() string {
	switch r {
	case Shutdown:
		return "shutdown"
	case ConfigFailure:
		return "config_failure"
	case SubscribeFailure:
		return "subscribe_failure"
	case SourceFailure:
		return "source_failure"
	case SinkFailure:
		return "sink_failure"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// ExitCode is the process exit status for r.
func (r Reason) ExitCode() int {
	switch r {
	case Shutdown:
		return 0
	case ConfigFailure:
		return 1
	case SubscribeFailure:
		return 2
	case SourceFailure:
		return 3
	case SinkFailure:
		return 4
	default:
		return 1
	}
}
