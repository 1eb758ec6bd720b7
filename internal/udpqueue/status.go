package udpqueue

import "fmt"

// Status is the lifecycle state of a Manager. It only ever moves forward:
// Running -> Shutdown -> Destroyed.
type Status int32

const (
	// StatusRunning accepts packets and dispatches them.
	StatusRunning Status = iota

	// StatusShutdown refuses new packets. The dispatcher finishes its in-flight
	// send and exits without draining buffered packets.
	StatusShutdown

	// StatusDestroyed is terminal: the dispatcher has returned and no further
	// sends happen. The Manager may be discarded only after this is observed.
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusShutdown:
		return "shutdown"
	case StatusDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}
