package chat

import "fmt"

// State is the connection state of a Relay.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateErrored:
		return "errored"
	default:
		return "invalid"
	}
}

// CanSend reports whether requests may be submitted in this state.
func (s State) CanSend() bool {
	return s == StateConnected
}

func (s State) validateTransitionTo(next State) error {
	switch s {
	case StateClosed:
		if next == StateConnecting {
			return nil
		}
	case StateConnecting:
		switch next {
		case StateConnected, StateErrored, StateClosed:
			return nil
		}
	case StateConnected:
		switch next {
		case StateDisconnected, StateClosed:
			return nil
		}
	case StateDisconnected:
		switch next {
		case StateConnecting, StateClosed:
			return nil
		}
	case StateErrored:
		// Errored is reopened by the user or torn down.
		switch next {
		case StateConnecting, StateClosed:
			return nil
		}
	}
	return fmt.Errorf("invalid state transition from %v to %v", s, next)
}
