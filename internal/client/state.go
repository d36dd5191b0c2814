package client

// State is the lifecycle of a client session. Idle moves to starting on
// Start or Resume, streaming on the first event, and ends in completed or
// error. Completed and error are rerollable: a new Start begins a fresh run.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateError     State = "error"
)

// Terminal reports whether the state ends a run's client-side lifecycle.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}
