package agent

// LifecycleState is the agent's lifecycle phase, read by health checks.
// Transitions are monotonic: Starting -> Accepting -> Stopping -> Stopped.
type LifecycleState int32

const (
	StateStarting LifecycleState = iota
	StateAccepting
	StateStopping
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAccepting:
		return "accepting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
