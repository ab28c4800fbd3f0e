package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
	"go.uber.org/zap"
)

const (
	retainSnapshotCount = 2
	applyTimeout        = 10 * time.Second
	leaderWaitDelay     = 100 * time.Millisecond
)

// Store is the Raft-backed coordination client: it provides leader election,
// the shared key-value registry, and connection state notifications.
type Store struct {
	raft      *raft.Raft
	fsm       *fsm
	config    *Config
	logger    *zap.Logger
	localAddr string

	rpcServer  *http.Server
	httpClient *http.Client

	listenersMu  sync.Mutex
	listeners    map[int]StateListener
	nextListener int
	lastState    ConnectionState
	everLive     bool

	electionMu     sync.Mutex
	electionDoneCh chan struct{}

	observer      *raft.Observer
	observationCh chan raft.Observation
	shutdownCh    chan struct{}
	shutdownOnce  sync.Once
}

// Config contains settings for the Raft-backed store.
type Config struct {
	DataDir   string
	BindAddr  string
	LocalID   string
	Bootstrap bool

	// RPCAddr is the cluster RPC bind address serving membership joins and
	// leader write forwarding. Optional for a standalone node, required to
	// join or lead a multi-node cluster.
	RPCAddr string

	Logger *zap.Logger
}

// NewStore creates the store and starts the Raft subsystem.
func NewStore(config *Config) (*Store, error) {
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if config.BindAddr == "" {
		return nil, fmt.Errorf("bind address is required")
	}
	if config.LocalID == "" {
		return nil, fmt.Errorf("local id is required")
	}

	if err := os.MkdirAll(config.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		config:        config,
		logger:        config.Logger,
		listeners:     make(map[int]StateListener),
		lastState:     StateLost,
		observationCh: make(chan raft.Observation, 64),
		shutdownCh:    make(chan struct{}),
		httpClient:    &http.Client{Timeout: applyTimeout},
	}

	if err := s.initRaft(); err != nil {
		return nil, fmt.Errorf("failed to initialize raft: %w", err)
	}

	if config.RPCAddr != "" {
		if err := s.startRPCServer(); err != nil {
			s.raft.Shutdown()
			return nil, err
		}
	}

	go s.observeConnectionState()

	return s, nil
}

func (s *Store) initRaft() error {
	s.fsm = newFSM(s.logger)

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(s.config.LocalID)
	config.Logger = newHashiLogger(s.logger)
	config.SnapshotThreshold = 1024
	config.SnapshotInterval = 120 * time.Second

	addr, err := net.ResolveTCPAddr("tcp", s.config.BindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(s.config.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(s.config.DataDir, retainSnapshotCount, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(s.config.DataDir, "raft.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(s.config.DataDir, "stable.db"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	ra, err := raft.NewRaft(config, s.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	s.raft = ra
	s.localAddr = string(transport.LocalAddr())

	s.observer = raft.NewObserver(s.observationCh, false, nil)
	ra.RegisterObserver(s.observer)

	if s.config.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      config.LocalID,
					Address: transport.LocalAddr(),
				},
			},
		}
		ra.BootstrapCluster(configuration)
		s.logger.Info("Bootstrapped coordination cluster",
			zap.String("id", string(config.LocalID)),
			zap.String("addr", string(transport.LocalAddr())),
		)
	}

	return nil
}

// StartLeaderElection registers this agent's candidacy by starting the
// leadership monitor. It never blocks on becoming leader.
func (s *Store) StartLeaderElection() error {
	s.electionMu.Lock()
	defer s.electionMu.Unlock()

	if s.electionDoneCh != nil {
		return fmt.Errorf("leader election already started")
	}

	s.electionDoneCh = make(chan struct{})
	go s.monitorLeadership(s.electionDoneCh)

	s.logger.Info("Leader election started", zap.String("id", s.config.LocalID))
	return nil
}

// StopLeaderElection stops the leadership monitor. Safe to call when the
// election was never started.
func (s *Store) StopLeaderElection() error {
	s.electionMu.Lock()
	defer s.electionMu.Unlock()

	if s.electionDoneCh == nil {
		return nil
	}
	close(s.electionDoneCh)
	s.electionDoneCh = nil

	s.logger.Info("Leader election stopped")
	return nil
}

func (s *Store) monitorLeadership(doneCh chan struct{}) {
	for {
		select {
		case leader := <-s.raft.LeaderCh():
			if leader {
				s.logger.Info("Became leader")
			} else {
				s.logger.Info("Lost leadership")
			}
		case <-doneCh:
			return
		case <-s.shutdownCh:
			return
		}
	}
}

// IsLeader reports whether this node currently leads the cluster.
func (s *Store) IsLeader() bool {
	return s.raft.State() == raft.Leader
}

// Subscribe registers a connection state listener and returns a function
// that removes it.
func (s *Store) Subscribe(listener StateListener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

// observeConnectionState maps raw raft observations onto the connection
// state transitions listeners care about.
func (s *Store) observeConnectionState() {
	for {
		select {
		case obs := <-s.observationCh:
			switch data := obs.Data.(type) {
			case raft.LeaderObservation:
				if data.LeaderAddr == "" {
					s.transition(StateLost)
				} else if s.everLive && s.lastState != StateConnected && s.lastState != StateReconnected {
					s.transition(StateReconnected)
				} else {
					s.transition(StateConnected)
				}
				if s.config.RPCAddr != "" && s.raft.State() == raft.Leader {
					go s.announceRPCAddr()
				}
			case raft.FailedHeartbeatObservation:
				s.transition(StateSuspended)
			case raft.ResumedHeartbeatObservation:
				s.transition(StateReconnected)
			}
		case <-s.shutdownCh:
			return
		}
	}
}

// transition notifies listeners of a state change. Repeated deliveries of
// the same state are collapsed.
func (s *Store) transition(state ConnectionState) {
	s.listenersMu.Lock()
	if state == s.lastState {
		s.listenersMu.Unlock()
		return
	}
	s.lastState = state
	if state == StateConnected || state == StateReconnected {
		s.everLive = true
	}
	listeners := make([]StateListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	s.logger.Info("Connection state changed", zap.String("state", state.String()))
	for _, l := range listeners {
		l(state)
	}
}

// Get retrieves a value for a given key.
func (s *Store) Get(key string) ([]byte, error) {
	return s.fsm.get(key)
}

// Set stores a key-value pair.
func (s *Store) Set(key string, value []byte) error {
	return s.apply(&command{Op: "set", Key: key, Value: value})
}

// SetWithTTL stores a key-value pair that expires after ttl.
func (s *Store) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	return s.apply(&command{
		Op:        "set",
		Key:       key,
		Value:     value,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	})
}

// Delete removes a key.
func (s *Store) Delete(key string) error {
	return s.apply(&command{Op: "delete", Key: key})
}

// ListKeys returns all live keys with the given prefix.
func (s *Store) ListKeys(prefix string) ([]string, error) {
	return s.fsm.keys(prefix), nil
}

// apply routes a command to the replicated log: directly when this node is
// the leader, via the leader's cluster RPC endpoint when it is a follower.
func (s *Store) apply(cmd *command) error {
	if s.raft.State() == raft.Leader {
		return s.applyLocal(cmd)
	}
	return s.forward(cmd)
}

func (s *Store) applyLocal(cmd *command) error {
	if s.raft.State() != raft.Leader {
		return fmt.Errorf("not leader")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	future := s.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply command: %w", err)
	}
	if err, ok := future.Response().(error); ok {
		return err
	}
	return nil
}

// WaitForLeader blocks until a leader is elected or the timeout elapses.
func (s *Store) WaitForLeader(timeout time.Duration) error {
	ticker := time.NewTicker(leaderWaitDelay)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ticker.C:
			if addr, _ := s.raft.LeaderWithID(); addr != "" {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for leader")
		}
	}
}

// Close shuts down the Raft subsystem and the observer goroutine.
func (s *Store) Close() error {
	var err error
	s.shutdownOnce.Do(func() {
		s.logger.Info("Shutting down coordination store")
		close(s.shutdownCh)

		if s.rpcServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if shutdownErr := s.rpcServer.Shutdown(ctx); shutdownErr != nil {
				s.logger.Warn("Failed to shutdown cluster RPC server", zap.Error(shutdownErr))
			}
			cancel()
		}
		if s.observer != nil {
			s.raft.DeregisterObserver(s.observer)
		}
		if s.raft != nil {
			if shutdownErr := s.raft.Shutdown().Error(); shutdownErr != nil {
				err = fmt.Errorf("failed to shutdown raft: %w", shutdownErr)
			}
		}
	})
	return err
}
