package coordination

import "time"

// ConnectionState describes a transition in the agent's session with the
// coordination service.
type ConnectionState int

const (
	// StateConnected is delivered when the session is first established.
	StateConnected ConnectionState = iota
	// StateSuspended is delivered when contact with the service is
	// interrupted but the session may still recover.
	StateSuspended
	// StateReconnected is delivered when a previously interrupted session
	// becomes live again. Updates broadcast during the interruption may
	// have been missed.
	StateReconnected
	// StateLost is delivered when the session is gone.
	StateLost
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSuspended:
		return "suspended"
	case StateReconnected:
		return "reconnected"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// StateListener receives connection state transitions. Listeners run on the
// client's dispatch goroutine and must hand heavy work off rather than
// perform it inline.
type StateListener func(state ConnectionState)

// Client is the coordination capability consumed by the lifecycle core:
// leader election participation and connection state subscription.
type Client interface {
	// StartLeaderElection registers this agent's candidacy. It does not
	// block on becoming leader; leadership is queried via IsLeader.
	StartLeaderElection() error
	StopLeaderElection() error
	IsLeader() bool

	// Subscribe registers a listener for connection state transitions and
	// returns a function that removes it.
	Subscribe(listener StateListener) (unsubscribe func())
}

// KV is the shared key-value capability backing the registry.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	SetWithTTL(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	ListKeys(prefix string) ([]string, error)
}
