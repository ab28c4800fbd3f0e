package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LoadBalancerConfig describes the group this agent's load balancer belongs
// to and the commands used to drive the local instance.
type LoadBalancerConfig struct {
	Name             string
	DefaultDomain    string
	Domains          []string
	DomainAliases    []string
	MinHealthyAgents int

	// RootPath is the managed configuration directory. It is watched for
	// out-of-band edits and checksummed for drift detection.
	RootPath string

	CheckConfigCommand  string
	ReloadConfigCommand string

	// LogRotateCommand is optional; when empty, no rotation task is scheduled.
	LogRotateCommand string
	RotateInterval   time.Duration
}

// CoordinationConfig configures the embedded coordination store.
type CoordinationConfig struct {
	DataDir   string
	BindAddr  string
	Bootstrap bool

	// RPCAddr is the cluster RPC bind address (membership joins, write
	// forwarding). JoinAddr, when set, is an existing member's RPC address
	// this agent announces itself through at startup.
	RPCAddr  string
	JoinAddr string
}

// Config holds the typed agent settings consumed by the lifecycle core.
type Config struct {
	AgentID string
	Host    string
	Port    int
	Domain  string

	MetricsAddr string
	LogLevel    string

	HeartbeatInterval   time.Duration
	ConfigCheckInterval time.Duration
	StateCheckInterval  time.Duration

	EnablePollingStateValidation bool

	// VisibleToFleet controls whether this agent registers itself with the
	// rest of the fleet (leader election, group info, known agents,
	// heartbeat, resync subscription).
	VisibleToFleet bool

	// RegisterOnStartup enables best-effort startup/shutdown notifications
	// to the external service at NotifyURL.
	RegisterOnStartup bool
	NotifyURL         string

	// StateFilePath, when set, receives a JSON state marker after startup.
	StateFilePath string

	LoadBalancer LoadBalancerConfig
	Coordination CoordinationConfig
}

// FromViper builds a Config from bound viper keys.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		AgentID:                      v.GetString("agent_id"),
		Host:                         v.GetString("host"),
		Port:                         v.GetInt("port"),
		Domain:                       v.GetString("domain"),
		MetricsAddr:                  v.GetString("metrics_addr"),
		LogLevel:                     v.GetString("log_level"),
		HeartbeatInterval:            v.GetDuration("heartbeat_interval"),
		ConfigCheckInterval:          v.GetDuration("config_check_interval"),
		StateCheckInterval:           v.GetDuration("state_check_interval"),
		EnablePollingStateValidation: v.GetBool("enable_polling_state_validation"),
		VisibleToFleet:               v.GetBool("visible_to_fleet"),
		RegisterOnStartup:            v.GetBool("register_on_startup"),
		NotifyURL:                    v.GetString("notify_url"),
		StateFilePath:                v.GetString("state_file"),
		LoadBalancer: LoadBalancerConfig{
			Name:                v.GetString("lb.name"),
			DefaultDomain:       v.GetString("lb.default_domain"),
			Domains:             v.GetStringSlice("lb.domains"),
			DomainAliases:       v.GetStringSlice("lb.domain_aliases"),
			MinHealthyAgents:    v.GetInt("lb.min_healthy_agents"),
			RootPath:            v.GetString("lb.root_path"),
			CheckConfigCommand:  v.GetString("lb.check_config_command"),
			ReloadConfigCommand: v.GetString("lb.reload_config_command"),
			LogRotateCommand:    v.GetString("lb.log_rotate_command"),
			RotateInterval:      v.GetDuration("lb.rotate_interval"),
		},
		Coordination: CoordinationConfig{
			DataDir:   v.GetString("coordination.data_dir"),
			BindAddr:  v.GetString("coordination.bind_addr"),
			Bootstrap: v.GetBool("coordination.bootstrap"),
			RPCAddr:   v.GetString("coordination.rpc_addr"),
			JoinAddr:  v.GetString("coordination.join_addr"),
		},
	}
}

// Validate checks required settings and applies defaults.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("agent host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("agent port is required")
	}
	if c.LoadBalancer.Name == "" {
		return fmt.Errorf("load balancer group name is required")
	}
	if c.LoadBalancer.RootPath == "" {
		return fmt.Errorf("load balancer root path is required")
	}
	if c.LoadBalancer.ReloadConfigCommand == "" {
		return fmt.Errorf("reload config command is required")
	}
	if c.AgentID == "" {
		c.AgentID = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 10 * time.Second
	}
	if c.ConfigCheckInterval <= 0 {
		c.ConfigCheckInterval = 30 * time.Second
	}
	if c.StateCheckInterval <= 0 {
		c.StateCheckInterval = 60 * time.Second
	}
	if c.LoadBalancer.MinHealthyAgents <= 0 {
		c.LoadBalancer.MinHealthyAgents = 1
	}
	if c.LoadBalancer.LogRotateCommand != "" && c.LoadBalancer.RotateInterval <= 0 {
		c.LoadBalancer.RotateInterval = time.Hour
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "0.0.0.0:9090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}
