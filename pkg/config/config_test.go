package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Host: "lb-1.example.com",
		Port: 8080,
		LoadBalancer: LoadBalancerConfig{
			Name:                "web",
			RootPath:            "/etc/nginx",
			ReloadConfigCommand: "nginx -s reload",
		},
	}
}

func TestValidate_AppliesDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "lb-1.example.com:8080", cfg.AgentID)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.ConfigCheckInterval)
	assert.Equal(t, 60*time.Second, cfg.StateCheckInterval)
	assert.Equal(t, 1, cfg.LoadBalancer.MinHealthyAgents)
	assert.Equal(t, "0.0.0.0:9090", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestValidate_KeepsExplicitValues(t *testing.T) {
	cfg := validConfig()
	cfg.AgentID = "custom-id"
	cfg.HeartbeatInterval = 3 * time.Second
	cfg.LoadBalancer.MinHealthyAgents = 4
	cfg.LogLevel = "debug"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "custom-id", cfg.AgentID)
	assert.Equal(t, 3*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 4, cfg.LoadBalancer.MinHealthyAgents)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate_RotateIntervalDefaultOnlyWithCommand(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Zero(t, cfg.LoadBalancer.RotateInterval)

	cfg = validConfig()
	cfg.LoadBalancer.LogRotateCommand = "logrotate /etc/logrotate.d/nginx"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Hour, cfg.LoadBalancer.RotateInterval)
}

func TestValidate_RequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"missing port", func(c *Config) { c.Port = 0 }},
		{"missing group name", func(c *Config) { c.LoadBalancer.Name = "" }},
		{"missing root path", func(c *Config) { c.LoadBalancer.RootPath = "" }},
		{"missing reload command", func(c *Config) { c.LoadBalancer.ReloadConfigCommand = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromViper(t *testing.T) {
	v := viper.New()
	v.Set("agent_id", "agent-1")
	v.Set("host", "lb-1.example.com")
	v.Set("port", 8080)
	v.Set("heartbeat_interval", "5s")
	v.Set("enable_polling_state_validation", true)
	v.Set("visible_to_fleet", true)
	v.Set("lb.name", "web")
	v.Set("lb.domains", []string{"example.com", "www.example.com"})
	v.Set("lb.min_healthy_agents", 2)
	v.Set("lb.root_path", "/etc/nginx")
	v.Set("lb.reload_config_command", "nginx -s reload")
	v.Set("coordination.data_dir", "/var/lib/agent")
	v.Set("coordination.bind_addr", "127.0.0.1:7000")
	v.Set("coordination.bootstrap", true)
	v.Set("coordination.rpc_addr", "127.0.0.1:7001")
	v.Set("coordination.join_addr", "lb-0.example.com:7001")

	cfg := FromViper(v)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "agent-1", cfg.AgentID)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.True(t, cfg.EnablePollingStateValidation)
	assert.True(t, cfg.VisibleToFleet)
	assert.Equal(t, []string{"example.com", "www.example.com"}, cfg.LoadBalancer.Domains)
	assert.Equal(t, 2, cfg.LoadBalancer.MinHealthyAgents)
	assert.Equal(t, "/var/lib/agent", cfg.Coordination.DataDir)
	assert.True(t, cfg.Coordination.Bootstrap)
	assert.Equal(t, "127.0.0.1:7001", cfg.Coordination.RPCAddr)
	assert.Equal(t, "lb-0.example.com:7001", cfg.Coordination.JoinAddr)
}
