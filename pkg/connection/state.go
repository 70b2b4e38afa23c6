package connection

import "github.com/tickwire/tickwire/pkg/protocol"

// State is the connection lifecycle state.
type State int

const (
	StateHandshaking State = iota
	StateConnected
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HandshakePhase is the sub-state within StateHandshaking.
type HandshakePhase int

const (
	PhaseIdle HandshakePhase = iota
	PhaseAwaitingAccept
)

// DisconnectReason explains a transition out of StateConnected. The
// application sees state transitions and their reason; it never sees
// individual dropped or malformed packets.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonRequested
	ReasonRemote
	ReasonTimeout
	ReasonAuthFailures
	ReasonSessionExpired
	ReasonHandshakeFailed
	ReasonRejected
	ReasonShutdown
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonRequested:
		return "requested"
	case ReasonRemote:
		return "remote disconnect"
	case ReasonTimeout:
		return "timeout"
	case ReasonAuthFailures:
		return "repeated auth failures"
	case ReasonSessionExpired:
		return "session expired"
	case ReasonHandshakeFailed:
		return "handshake failed"
	case ReasonRejected:
		return "rejected"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// EventType tags an application-visible event.
type EventType int

const (
	// EventMessage delivers one application message in the channel's
	// ordering guarantee.
	EventMessage EventType = iota

	// EventTick marks one elapsed simulation tick. Every tick is
	// reported exactly once, in order.
	EventTick

	// EventStateChange reports a connection lifecycle transition.
	EventStateChange
)

// Event is the application boundary: messages, ticks, and state
// transitions, queued during a poll and drained by the host.
type Event struct {
	Type    EventType
	Channel protocol.ChannelID
	Payload []byte
	Tick    protocol.Tick
	State   State
	Reason  DisconnectReason
}
