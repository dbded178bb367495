package chat

// EventKind enumerates the transport lifecycle callbacks. The manager
// consumes these through a single transition function, so the state machine
// is testable with a fake transport that emits the same events.
type EventKind int

const (
	EventOpened EventKind = iota
	EventFrame
	EventFailed
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventFrame:
		return "frame"
	case EventFailed:
		return "failed"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind

	// Data is the raw inbound payload for EventFrame.
	Data []byte

	// Err is set for EventFailed.
	Err error

	// Code and Reason carry the closure details for EventClosed.
	Code   int
	Reason string
}
