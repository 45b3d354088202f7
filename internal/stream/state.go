package stream

import "fmt"

// Phase is the coarse connection phase.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Reconnecting
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// ConnectionState is one of disconnected, connecting, connected or
// reconnecting(Attempt). Attempt is only meaningful while reconnecting.
type ConnectionState struct {
	Phase   Phase
	Attempt int
}

func StateDisconnected() ConnectionState { return ConnectionState{Phase: Disconnected} }
func StateConnecting() ConnectionState   { return ConnectionState{Phase: Connecting} }
func StateConnected() ConnectionState    { return ConnectionState{Phase: Connected} }

func StateReconnecting(attempt int) ConnectionState {
	return ConnectionState{Phase: Reconnecting, Attempt: attempt}
}

func (s ConnectionState) String() string {
	if s.Phase == Reconnecting {
		return fmt.Sprintf("reconnecting(%d)", s.Attempt)
	}
	return s.Phase.String()
}
