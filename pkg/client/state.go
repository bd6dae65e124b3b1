package client

// State is the lifecycle state of a Client.
type State int

const (
	// StateInitialized means the client is created but not started.
	StateInitialized State = iota

	// StateRunning means the pump and callback goroutines are running.
	StateRunning

	// StateStopped means the client has been shut down.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// CanStart returns true if Start can be called in this state.
func (s State) CanStart() bool {
	return s == StateInitialized
}

// CanStop returns true if Stop can be called in this state.
func (s State) CanStop() bool {
	return s == StateRunning
}
