package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/coordination"
)

const (
	groupKeyPrefix     = "groups/"
	agentKeyPrefix     = "agents/"
	heartbeatKeyPrefix = "heartbeats/"
)

// Registry stores fleet metadata in the shared coordination key-value store.
type Registry struct {
	kv     coordination.KV
	logger *zap.Logger
}

// New creates a registry backed by the given key-value store.
func New(kv coordination.KV, logger *zap.Logger) *Registry {
	return &Registry{
		kv:     kv,
		logger: logger,
	}
}

func groupKey(name string) string {
	return groupKeyPrefix + name
}

func agentKey(group, agentID string) string {
	return fmt.Sprintf("%s%s/%s", agentKeyPrefix, group, agentID)
}

func heartbeatKey(group, agentID string) string {
	return fmt.Sprintf("%s%s/%s", heartbeatKeyPrefix, group, agentID)
}

// UpdateGroupInfo upserts the group-level metadata. Last writer wins;
// the update is visible to all agents in the group upon return.
func (r *Registry) UpdateGroupInfo(name, defaultDomain string, domains, aliases []string, minHealthyAgents int) error {
	info := GroupInfo{
		Name:             name,
		DefaultDomain:    defaultDomain,
		Domains:          domains,
		DomainAliases:    aliases,
		MinHealthyAgents: minHealthyAgents,
		UpdatedAt:        time.Now(),
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal group info: %w", err)
	}
	if err := r.kv.Set(groupKey(name), data); err != nil {
		return fmt.Errorf("failed to store group info: %w", err)
	}

	r.logger.Info("Updated group info",
		zap.String("group", name),
		zap.Strings("domains", domains),
		zap.Int("min_healthy_agents", minHealthyAgents),
	)
	return nil
}

// GetGroupInfo returns the stored metadata for a group.
func (r *Registry) GetGroupInfo(name string) (*GroupInfo, error) {
	data, err := r.kv.Get(groupKey(name))
	if err != nil {
		return nil, err
	}

	var info GroupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group info: %w", err)
	}
	return &info, nil
}

// AddKnownAgent upserts this agent's registration, keyed by agent identity.
// Concurrent registrations of different agents never conflict.
func (r *Registry) AddKnownAgent(group string, meta KnownAgentMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal agent metadata: %w", err)
	}
	if err := r.kv.Set(agentKey(group, meta.AgentID), data); err != nil {
		return fmt.Errorf("failed to store agent metadata: %w", err)
	}

	r.logger.Info("Registered known agent",
		zap.String("group", group),
		zap.String("agent_id", meta.AgentID),
		zap.Time("registered_at", meta.RegisteredAt),
	)
	return nil
}

// GetKnownAgent returns the registration entry for one agent.
func (r *Registry) GetKnownAgent(group, agentID string) (*KnownAgentMetadata, error) {
	data, err := r.kv.Get(agentKey(group, agentID))
	if err != nil {
		return nil, err
	}

	var meta KnownAgentMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent metadata: %w", err)
	}
	return &meta, nil
}

// ListKnownAgents returns every registered agent in a group.
func (r *Registry) ListKnownAgents(group string) ([]KnownAgentMetadata, error) {
	keys, err := r.kv.ListKeys(agentKeyPrefix + group + "/")
	if err != nil {
		return nil, err
	}

	agents := make([]KnownAgentMetadata, 0, len(keys))
	for _, key := range keys {
		data, err := r.kv.Get(key)
		if err != nil {
			// Entry may have expired between list and get.
			continue
		}
		var meta KnownAgentMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			r.logger.Warn("Skipping unreadable agent entry",
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		agents = append(agents, meta)
	}
	return agents, nil
}

// SaveHeartbeat refreshes this agent's liveness record. The entry expires
// after ttl so stale agents fall out of the fleet view.
func (r *Registry) SaveHeartbeat(group string, hb Heartbeat, ttl time.Duration) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}
	if err := r.kv.SetWithTTL(heartbeatKey(group, hb.AgentID), data, ttl); err != nil {
		return fmt.Errorf("failed to store heartbeat: %w", err)
	}
	return nil
}

// GetHeartbeat returns the last stored heartbeat for an agent, if it has
// not expired.
func (r *Registry) GetHeartbeat(group, agentID string) (*Heartbeat, error) {
	data, err := r.kv.Get(heartbeatKey(group, agentID))
	if err != nil {
		return nil, err
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal heartbeat: %w", err)
	}
	return &hb, nil
}
