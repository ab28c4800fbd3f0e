package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/config"
	"github.com/Gal-Doron/Baragon-test-8/pkg/coordination"
	"github.com/Gal-Doron/Baragon-test-8/pkg/lb"
	"github.com/Gal-Doron/Baragon-test-8/pkg/observability"
	"github.com/Gal-Doron/Baragon-test-8/pkg/registry"
)

const resyncTimeout = time.Minute

// Agent orchestrates the bootstrap sequence and the steady-state
// coordination loop. It is the only writer of the lifecycle state.
type Agent struct {
	cfg          *config.Config
	logger       *zap.Logger
	coordination coordination.Client
	registry     *registry.Registry
	adapter      lb.Adapter
	notifier     Notifier

	scheduler *PeriodicScheduler
	watcher   *DirectoryWatcher
	resync    *ResyncListener
	applied   *ChecksumTracker
	meta      registry.AgentMetadata

	state atomic.Int32

	knownMu    sync.Mutex
	known      registry.KnownAgentMetadata
	registered bool

	unsubscribe func()

	// Handles for every periodic task Start populated. A nil handle means
	// the task was never scheduled; Stop cancels each at most once.
	heartbeatHandle     *TaskHandle
	configCheckerHandle *TaskHandle
	stateCheckerHandle  *TaskHandle
	logrotateHandle     *TaskHandle

	stopOnce sync.Once
}

// New creates the agent. Start must be called exactly once per process.
func New(cfg *config.Config, coord coordination.Client, reg *registry.Registry, adapter lb.Adapter, notifier Notifier, logger *zap.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	a := &Agent{
		cfg:          cfg,
		logger:       logger,
		coordination: coord,
		registry:     reg,
		adapter:      adapter,
		notifier:     notifier,
		scheduler:    NewPeriodicScheduler(logger),
		applied:      &ChecksumTracker{},
		meta: registry.AgentMetadata{
			AgentID: cfg.AgentID,
			Host:    cfg.Host,
			Port:    cfg.Port,
			Domain:  cfg.Domain,
		},
	}
	a.watcher = NewDirectoryWatcher([]string{cfg.LoadBalancer.RootPath}, a.reconcileOutOfBand, logger)
	a.setState(StateStarting)

	return a, nil
}

// State returns the current lifecycle state. Never blocks.
func (a *Agent) State() LifecycleState {
	return LifecycleState(a.state.Load())
}

// Metadata returns this agent's identity.
func (a *Agent) Metadata() registry.AgentMetadata {
	return a.meta
}

func (a *Agent) setState(state LifecycleState) {
	a.state.Store(int32(state))
	observability.AgentStateGauge.Set(float64(state))
}

// Start runs the bootstrap sequence. Any failing mandatory step aborts the
// whole sequence and the agent never reaches the accepting state.
func (a *Agent) Start(ctx context.Context) error {
	started := time.Now()

	a.logger.Info("Starting directory watcher")
	if err := a.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start directory watcher: %w", err)
	}

	a.logger.Info("Applying current configs")
	if err := a.applyAndTrack(ctx); err != nil {
		return fmt.Errorf("failed to apply current configs: %w", err)
	}

	if a.cfg.VisibleToFleet {
		a.logger.Info("Starting leader election")
		if err := a.coordination.StartLeaderElection(); err != nil {
			return fmt.Errorf("failed to start leader election: %w", err)
		}

		if a.cfg.RegisterOnStartup && a.notifier != nil {
			a.logger.Info("Notifying registrar of startup")
			if err := a.notifier.Notify(ctx, "startup"); err != nil {
				a.logger.Warn("Startup notification failed", zap.Error(err))
			}
		}

		a.logger.Info("Updating group info")
		lbCfg := a.cfg.LoadBalancer
		if err := a.registry.UpdateGroupInfo(lbCfg.Name, lbCfg.DefaultDomain, lbCfg.Domains, lbCfg.DomainAliases, lbCfg.MinHealthyAgents); err != nil {
			return fmt.Errorf("failed to update group info: %w", err)
		}

		a.logger.Info("Registering as known agent")
		known := registry.KnownAgentFromMetadata(a.meta, time.Now())
		if err := a.registry.AddKnownAgent(lbCfg.Name, known); err != nil {
			return fmt.Errorf("failed to register known agent: %w", err)
		}
		a.knownMu.Lock()
		a.known = known
		a.registered = true
		a.knownMu.Unlock()

		a.logger.Info("Starting heartbeat")
		heartbeat := NewHeartbeatWorker(a.registry, lbCfg.Name, a.meta.AgentID, 3*a.cfg.HeartbeatInterval, a.logger)
		a.heartbeatHandle = a.scheduler.Schedule("heartbeat", heartbeat.Run, 0, a.cfg.HeartbeatInterval)

		a.logger.Info("Subscribing resync listener")
		a.resync = NewResyncListener(a.fullResync, a.logger)
		a.unsubscribe = a.coordination.Subscribe(a.resync.OnStateChange)
	}

	a.logger.Info("Starting config checker")
	configChecker := NewConfigChecker(a.cfg.LoadBalancer.RootPath, a.applied, a.logger)
	a.configCheckerHandle = a.scheduler.Schedule("config_checker", configChecker.Run, 0, a.cfg.ConfigCheckInterval)

	if a.cfg.EnablePollingStateValidation {
		a.logger.Info("Starting state reconciliation checker")
		stateChecker := NewInternalStateChecker(a.registry, a.cfg, a.knownAgent, a.logger)
		a.stateCheckerHandle = a.scheduler.Schedule("state_checker", stateChecker.Run, a.cfg.StateCheckInterval, a.cfg.StateCheckInterval)
	}

	if a.cfg.StateFilePath != "" {
		if err := a.writeStateFile(); err != nil {
			a.logger.Warn("Failed to write state file", zap.Error(err))
		}
	}

	if a.cfg.LoadBalancer.LogRotateCommand != "" {
		a.logger.Info("Scheduling logrotate")
		rotate := func(ctx context.Context) error {
			a.adapter.TriggerLogrotate()
			return nil
		}
		a.logrotateHandle = a.scheduler.Schedule("logrotate", rotate, a.cfg.LoadBalancer.RotateInterval, a.cfg.LoadBalancer.RotateInterval)
	}

	observability.StartupDurationSeconds.Observe(time.Since(started).Seconds())
	a.setState(StateAccepting)
	return nil
}

// Stop shuts the agent down. It is idempotent, never returns an error for
// an individual step, and is safe to call when Start partially failed.
func (a *Agent) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.setState(StateStopping)
		a.logger.Info("Stopping agent")

		a.shutdownHelpers(ctx)

		for _, handle := range []*TaskHandle{
			a.heartbeatHandle,
			a.configCheckerHandle,
			a.stateCheckerHandle,
			a.logrotateHandle,
		} {
			if handle != nil {
				handle.Cancel()
			}
		}

		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("Failed to stop directory watcher", zap.Error(err))
		}

		a.setState(StateStopped)
		a.logger.Info("Agent stopped")
	})
	return nil
}

// shutdownHelpers releases resources the startup sequence acquired outside
// the task handles: the resync subscription, the election candidacy, and a
// best-effort shutdown notification.
func (a *Agent) shutdownHelpers(ctx context.Context) {
	if a.cfg.VisibleToFleet && a.cfg.RegisterOnStartup && a.notifier != nil {
		if err := a.notifier.Notify(ctx, "shutdown"); err != nil {
			a.logger.Warn("Shutdown notification failed", zap.Error(err))
		}
	}

	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	if a.resync != nil {
		a.resync.Stop()
	}

	if a.cfg.VisibleToFleet {
		if err := a.coordination.StopLeaderElection(); err != nil {
			a.logger.Warn("Failed to stop leader election", zap.Error(err))
		}
	}
}

// applyAndTrack applies the on-disk configuration and records its checksum
// for drift detection.
func (a *Agent) applyAndTrack(ctx context.Context) error {
	if err := a.adapter.ApplyCurrentConfigs(ctx); err != nil {
		return err
	}

	checksum, err := lb.DirChecksum(a.cfg.LoadBalancer.RootPath)
	if err != nil {
		a.logger.Warn("Failed to checksum config directory", zap.Error(err))
		return nil
	}
	a.applied.Set(checksum)
	return nil
}

// fullResync re-applies configuration and re-registers this agent. Invoked
// after a coordination session is regained, when registry updates may have
// been missed.
func (a *Agent) fullResync() {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	a.logger.Info("Running full resync")

	if err := a.applyAndTrack(ctx); err != nil {
		a.logger.Error("Resync config apply failed", zap.Error(err))
	}

	known, registered := a.knownAgent()
	if !registered {
		return
	}
	if err := a.registry.AddKnownAgent(a.cfg.LoadBalancer.Name, known); err != nil {
		a.logger.Error("Resync re-registration failed", zap.Error(err))
	}
}

// reconcileOutOfBand re-applies configuration after the watcher reports an
// edit to a managed directory.
func (a *Agent) reconcileOutOfBand() {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	a.logger.Info("Out-of-band config change detected, re-applying")
	if err := a.applyAndTrack(ctx); err != nil {
		a.logger.Error("Out-of-band reconciliation failed", zap.Error(err))
	}
}

func (a *Agent) knownAgent() (registry.KnownAgentMetadata, bool) {
	a.knownMu.Lock()
	defer a.knownMu.Unlock()
	return a.known, a.registered
}

// writeStateFile persists a JSON marker for external tooling. Failures are
// non-fatal to startup.
func (a *Agent) writeStateFile() error {
	marker, err := json.Marshal(map[string]interface{}{
		"agent_id": a.meta.AgentID,
		"group":    a.cfg.LoadBalancer.Name,
		"state":    a.State().String(),
		"at":       time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal state marker: %w", err)
	}
	if err := os.WriteFile(a.cfg.StateFilePath, marker, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	a.logger.Info("Wrote state file", zap.String("path", a.cfg.StateFilePath))
	return nil
}
