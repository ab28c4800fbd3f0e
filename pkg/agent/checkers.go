package agent

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/config"
	"github.com/Gal-Doron/Baragon-test-8/pkg/coordination"
	"github.com/Gal-Doron/Baragon-test-8/pkg/lb"
	"github.com/Gal-Doron/Baragon-test-8/pkg/observability"
	"github.com/Gal-Doron/Baragon-test-8/pkg/registry"
)

// ChecksumTracker holds the checksum captured at the last successful
// config application. Written by the orchestrator, read by the checker.
type ChecksumTracker struct {
	mu    sync.Mutex
	value string
}

func (t *ChecksumTracker) Set(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = value
}

func (t *ChecksumTracker) Get() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// ConfigChecker detects drift between the on-disk configuration and the
// configuration captured at the last successful apply.
type ConfigChecker struct {
	rootPath string
	applied  *ChecksumTracker
	logger   *zap.Logger
}

func NewConfigChecker(rootPath string, applied *ChecksumTracker, logger *zap.Logger) *ConfigChecker {
	return &ConfigChecker{
		rootPath: rootPath,
		applied:  applied,
		logger:   logger,
	}
}

// Run compares the current directory checksum against the applied one.
// Drift is reported, never fatal.
func (c *ConfigChecker) Run(ctx context.Context) error {
	current, err := lb.DirChecksum(c.rootPath)
	if err != nil {
		return err
	}

	expected := c.applied.Get()
	if expected == "" {
		// Nothing applied yet.
		return nil
	}
	if current != expected {
		observability.ConfigDriftDetectedTotal.Inc()
		c.logger.Warn("Config drift detected",
			zap.String("root_path", c.rootPath),
			zap.String("expected", expected),
			zap.String("current", current),
		)
	}
	return nil
}

// InternalStateChecker reconciles this agent's local belief against what
// the registry reports: a missing or stale registration is corrected,
// diverging group info is flagged.
type InternalStateChecker struct {
	registry *registry.Registry
	cfg      *config.Config
	known    func() (registry.KnownAgentMetadata, bool)
	logger   *zap.Logger
}

func NewInternalStateChecker(reg *registry.Registry, cfg *config.Config, known func() (registry.KnownAgentMetadata, bool), logger *zap.Logger) *InternalStateChecker {
	return &InternalStateChecker{
		registry: reg,
		cfg:      cfg,
		known:    known,
		logger:   logger,
	}
}

// Run verifies the registry entry for this agent and the group info.
func (c *InternalStateChecker) Run(ctx context.Context) error {
	known, registered := c.known()
	if !registered {
		// Startup never registered this agent; nothing to reconcile.
		return nil
	}

	group := c.cfg.LoadBalancer.Name

	stored, err := c.registry.GetKnownAgent(group, known.AgentID)
	switch {
	case errors.Is(err, coordination.ErrKeyNotFound):
		c.logger.Warn("Known-agent entry missing, re-registering",
			zap.String("agent_id", known.AgentID),
		)
		if err := c.registry.AddKnownAgent(group, known); err != nil {
			return err
		}
	case err != nil:
		return err
	case !reflect.DeepEqual(stored.AgentMetadata, known.AgentMetadata):
		c.logger.Warn("Known-agent entry diverged, re-registering",
			zap.String("agent_id", known.AgentID),
		)
		if err := c.registry.AddKnownAgent(group, known); err != nil {
			return err
		}
	}

	info, err := c.registry.GetGroupInfo(group)
	if err != nil {
		return err
	}
	if info.MinHealthyAgents != c.cfg.LoadBalancer.MinHealthyAgents {
		// Another agent may legitimately carry different settings; flag
		// the divergence rather than fight over the entry.
		c.logger.Warn("Group info diverges from local configuration",
			zap.String("group", group),
			zap.Int("local_min_healthy", c.cfg.LoadBalancer.MinHealthyAgents),
			zap.Int("stored_min_healthy", info.MinHealthyAgents),
		)
	}
	return nil
}
