package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/agent"
	"github.com/Gal-Doron/Baragon-test-8/pkg/config"
	"github.com/Gal-Doron/Baragon-test-8/pkg/coordination"
	"github.com/Gal-Doron/Baragon-test-8/pkg/lb"
	"github.com/Gal-Doron/Baragon-test-8/pkg/observability"
	"github.com/Gal-Doron/Baragon-test-8/pkg/registry"
)

var (
	// Build information (set via ldflags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:   "agent",
		Short: "Load balancer fleet agent",
		Long: `The agent runs alongside a local load balancer instance, registers itself
into the cluster coordination service, keeps the local configuration in sync
with the cluster desired state, and reports liveness to the fleet.`,
		RunE: run,
	}
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("agent-id", "", "Unique agent identifier (defaults to host:port)")
	rootCmd.PersistentFlags().String("host", "", "Host this agent serves traffic on")
	rootCmd.PersistentFlags().Int("port", 0, "Port this agent serves traffic on")
	rootCmd.PersistentFlags().String("domain", "", "Domain this agent serves")
	rootCmd.PersistentFlags().String("metrics-addr", "0.0.0.0:9090", "Metrics/status server bind address")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Duration("heartbeat-interval", 10*time.Second, "Heartbeat interval")
	rootCmd.PersistentFlags().Duration("config-check-interval", 30*time.Second, "Config drift check interval")
	rootCmd.PersistentFlags().Duration("state-check-interval", 60*time.Second, "Internal state check interval")
	rootCmd.PersistentFlags().Bool("enable-polling-state-validation", false, "Enable the internal state checker")
	rootCmd.PersistentFlags().Bool("visible-to-fleet", true, "Register this agent with the rest of the fleet")
	rootCmd.PersistentFlags().Bool("register-on-startup", false, "Send startup/shutdown notifications")
	rootCmd.PersistentFlags().String("notify-url", "", "External registrar notification URL")
	rootCmd.PersistentFlags().String("state-file", "", "Path for the on-disk state marker")
	rootCmd.PersistentFlags().String("lb-name", "", "Load balancer group name")
	rootCmd.PersistentFlags().String("lb-default-domain", "", "Default domain for the group")
	rootCmd.PersistentFlags().StringSlice("lb-domains", nil, "Domains served by the group")
	rootCmd.PersistentFlags().StringSlice("lb-domain-aliases", nil, "Domain aliases for the group")
	rootCmd.PersistentFlags().Int("lb-min-healthy-agents", 1, "Minimum healthy agents for the group")
	rootCmd.PersistentFlags().String("lb-root-path", "", "Managed load balancer config directory")
	rootCmd.PersistentFlags().String("lb-check-command", "", "Command validating the on-disk config")
	rootCmd.PersistentFlags().String("lb-reload-command", "", "Command reloading the load balancer")
	rootCmd.PersistentFlags().String("lb-logrotate-command", "", "Optional log rotation command")
	rootCmd.PersistentFlags().Duration("lb-rotate-interval", time.Hour, "Log rotation interval")
	rootCmd.PersistentFlags().String("coordination-data-dir", "/var/lib/baragon-agent/coordination", "Coordination store data directory")
	rootCmd.PersistentFlags().String("coordination-bind-addr", "127.0.0.1:7000", "Coordination store bind address")
	rootCmd.PersistentFlags().Bool("coordination-bootstrap", false, "Bootstrap a new coordination cluster")
	rootCmd.PersistentFlags().String("coordination-rpc-addr", "127.0.0.1:7001", "Coordination cluster RPC bind address")
	rootCmd.PersistentFlags().String("coordination-join-addr", "", "RPC address of an existing cluster member to join through")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("agent_id", rootCmd.PersistentFlags().Lookup("agent-id"))
	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("domain", rootCmd.PersistentFlags().Lookup("domain"))
	viper.BindPFlag("metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("heartbeat_interval", rootCmd.PersistentFlags().Lookup("heartbeat-interval"))
	viper.BindPFlag("config_check_interval", rootCmd.PersistentFlags().Lookup("config-check-interval"))
	viper.BindPFlag("state_check_interval", rootCmd.PersistentFlags().Lookup("state-check-interval"))
	viper.BindPFlag("enable_polling_state_validation", rootCmd.PersistentFlags().Lookup("enable-polling-state-validation"))
	viper.BindPFlag("visible_to_fleet", rootCmd.PersistentFlags().Lookup("visible-to-fleet"))
	viper.BindPFlag("register_on_startup", rootCmd.PersistentFlags().Lookup("register-on-startup"))
	viper.BindPFlag("notify_url", rootCmd.PersistentFlags().Lookup("notify-url"))
	viper.BindPFlag("state_file", rootCmd.PersistentFlags().Lookup("state-file"))
	viper.BindPFlag("lb.name", rootCmd.PersistentFlags().Lookup("lb-name"))
	viper.BindPFlag("lb.default_domain", rootCmd.PersistentFlags().Lookup("lb-default-domain"))
	viper.BindPFlag("lb.domains", rootCmd.PersistentFlags().Lookup("lb-domains"))
	viper.BindPFlag("lb.domain_aliases", rootCmd.PersistentFlags().Lookup("lb-domain-aliases"))
	viper.BindPFlag("lb.min_healthy_agents", rootCmd.PersistentFlags().Lookup("lb-min-healthy-agents"))
	viper.BindPFlag("lb.root_path", rootCmd.PersistentFlags().Lookup("lb-root-path"))
	viper.BindPFlag("lb.check_config_command", rootCmd.PersistentFlags().Lookup("lb-check-command"))
	viper.BindPFlag("lb.reload_config_command", rootCmd.PersistentFlags().Lookup("lb-reload-command"))
	viper.BindPFlag("lb.log_rotate_command", rootCmd.PersistentFlags().Lookup("lb-logrotate-command"))
	viper.BindPFlag("lb.rotate_interval", rootCmd.PersistentFlags().Lookup("lb-rotate-interval"))
	viper.BindPFlag("coordination.data_dir", rootCmd.PersistentFlags().Lookup("coordination-data-dir"))
	viper.BindPFlag("coordination.bind_addr", rootCmd.PersistentFlags().Lookup("coordination-bind-addr"))
	viper.BindPFlag("coordination.bootstrap", rootCmd.PersistentFlags().Lookup("coordination-bootstrap"))
	viper.BindPFlag("coordination.rpc_addr", rootCmd.PersistentFlags().Lookup("coordination-rpc-addr"))
	viper.BindPFlag("coordination.join_addr", rootCmd.PersistentFlags().Lookup("coordination-join-addr"))

	viper.SetEnvPrefix("BARAGON")
	viper.AutomaticEnv()

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Load Balancer Fleet Agent\n")
			fmt.Printf("  Version:    %s\n", Version)
			fmt.Printf("  Build Time: %s\n", BuildTime)
			fmt.Printf("  Git Commit: %s\n", GitCommit)
			fmt.Printf("  Go Version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var err error
	logger, err = observability.NewLogger(viper.GetString("log_level"))
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting load balancer fleet agent",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	cfg := config.FromViper(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger = observability.WithFields(logger,
		zap.String("agent_id", cfg.AgentID),
		zap.String("group", cfg.LoadBalancer.Name),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	store, err := coordination.NewStore(&coordination.Config{
		DataDir:   cfg.Coordination.DataDir,
		BindAddr:  cfg.Coordination.BindAddr,
		LocalID:   coordinationID(cfg),
		Bootstrap: cfg.Coordination.Bootstrap,
		RPCAddr:   cfg.Coordination.RPCAddr,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to start coordination store: %w", err)
	}

	if cfg.Coordination.JoinAddr != "" {
		joinCtx, joinCancel := context.WithTimeout(ctx, time.Minute)
		err := store.JoinCluster(joinCtx, cfg.Coordination.JoinAddr)
		joinCancel()
		if err != nil {
			store.Close()
			return fmt.Errorf("failed to join coordination cluster: %w", err)
		}
	}

	// Registration and heartbeats write through the coordination store, so
	// a fleet-visible agent must not bootstrap before a leader exists.
	if cfg.VisibleToFleet {
		if err := store.WaitForLeader(time.Minute); err != nil {
			store.Close()
			return fmt.Errorf("coordination service has no leader: %w", err)
		}
	}

	reg := registry.New(store, logger)
	adapter := lb.NewCommandAdapter(cfg.LoadBalancer, logger)

	var notifier agent.Notifier
	if cfg.NotifyURL != "" {
		notifier = agent.NewHTTPNotifier(cfg.NotifyURL, cfg.AgentID)
	}

	agentInstance, err := agent.New(cfg, store, reg, adapter, notifier, logger)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	statusServer := observability.NewStatusServer(cfg.MetricsAddr, func() observability.Status {
		state := agentInstance.State()
		return observability.Status{
			State:     state.String(),
			AgentID:   agentInstance.Metadata().AgentID,
			Accepting: state == agent.StateAccepting,
		}
	}, logger)
	statusServer.Start()

	if err := agentInstance.Start(ctx); err != nil {
		// The launch failed; still run the best-effort shutdown path so
		// partially started components are released.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		agentInstance.Stop(stopCtx)
		statusServer.Stop(stopCtx)
		stopCancel()
		store.Close()
		return fmt.Errorf("failed to start agent: %w", err)
	}

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Starting graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := agentInstance.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping agent", zap.Error(err))
	}
	if err := statusServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping status server", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		logger.Error("Error closing coordination store", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

func coordinationID(cfg *config.Config) string {
	if cfg.AgentID != "" {
		return cfg.AgentID
	}
	return uuid.NewString()
}
