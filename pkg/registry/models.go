package registry

import "time"

// AgentMetadata identifies this agent process to the rest of the fleet.
// Immutable after construction.
type AgentMetadata struct {
	AgentID   string            `json:"agent_id"`
	Host      string            `json:"host"`
	Port      int               `json:"port"`
	Domain    string            `json:"domain,omitempty"`
	ExtraData map[string]string `json:"extra_data,omitempty"`
}

// KnownAgentMetadata is AgentMetadata plus the registration timestamp. The
// coordination service owns the canonical copy once written.
type KnownAgentMetadata struct {
	AgentMetadata
	RegisteredAt time.Time `json:"registered_at"`
}

// KnownAgentFromMetadata stamps AgentMetadata with a registration time.
func KnownAgentFromMetadata(meta AgentMetadata, registeredAt time.Time) KnownAgentMetadata {
	return KnownAgentMetadata{
		AgentMetadata: meta,
		RegisteredAt:  registeredAt,
	}
}

// GroupInfo is the group-level metadata published by every agent in the
// group. Last writer wins.
type GroupInfo struct {
	Name             string    `json:"name"`
	DefaultDomain    string    `json:"default_domain,omitempty"`
	Domains          []string  `json:"domains,omitempty"`
	DomainAliases    []string  `json:"domain_aliases,omitempty"`
	MinHealthyAgents int       `json:"min_healthy_agents"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Heartbeat is the liveness record each agent refreshes periodically.
type Heartbeat struct {
	AgentID           string    `json:"agent_id"`
	At                time.Time `json:"at"`
	Load1             float64   `json:"load1,omitempty"`
	MemoryUsedPercent float64   `json:"memory_used_percent,omitempty"`
}
