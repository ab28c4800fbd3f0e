package agent

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/observability"
	"github.com/Gal-Doron/Baragon-test-8/pkg/registry"
)

// HeartbeatWorker periodically publishes this agent's liveness record to
// the fleet. The record carries a TTL so a dead agent falls out of the
// fleet view without explicit deregistration.
type HeartbeatWorker struct {
	registry *registry.Registry
	group    string
	agentID  string
	ttl      time.Duration
	logger   *zap.Logger
}

// NewHeartbeatWorker creates a heartbeat worker. The ttl should comfortably
// exceed the heartbeat interval so a single missed beat is not fatal.
func NewHeartbeatWorker(reg *registry.Registry, group, agentID string, ttl time.Duration, logger *zap.Logger) *HeartbeatWorker {
	return &HeartbeatWorker{
		registry: reg,
		group:    group,
		agentID:  agentID,
		ttl:      ttl,
		logger:   logger,
	}
}

// Run publishes one heartbeat. Host stats are best-effort decoration.
func (w *HeartbeatWorker) Run(ctx context.Context) error {
	hb := registry.Heartbeat{
		AgentID: w.agentID,
		At:      time.Now(),
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		hb.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hb.MemoryUsedPercent = vm.UsedPercent
	}

	if err := w.registry.SaveHeartbeat(w.group, hb, w.ttl); err != nil {
		observability.HeartbeatsTotal.WithLabelValues("failure").Inc()
		return err
	}

	observability.HeartbeatsTotal.WithLabelValues("success").Inc()
	w.logger.Debug("Published heartbeat",
		zap.String("agent_id", w.agentID),
		zap.Float64("load1", hb.Load1),
	)
	return nil
}
