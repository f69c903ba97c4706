package executor

// State is where an executor is in its lifecycle.
type State string

const (
	StateStarting        State = "starting"
	StateRunning         State = "running"
	StateStoppedIdle     State = "stopped_idle"
	StateStoppedEndBlock State = "stopped_end_block"
	StateStoppedKilled   State = "stopped_killed"
	StateStoppedFailed   State = "stopped_failed"
)

// Stopped reports whether the executor has left its loop.
func (s State) Stopped() bool {
	switch s {
	case StateStoppedIdle, StateStoppedEndBlock, StateStoppedKilled, StateStoppedFailed:
		return true
	}
	return false
}

// Status is a point-in-time view of an executor, as reported by /health.
type Status struct {
	State State `json:"state"`
	// Height is the last committed block.
	Height   uint64 `json:"height"`
	Failures int    `json:"consecutive_failures"`
	Error    string `json:"error,omitempty"`
}
