package lb

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/config"
	"github.com/Gal-Doron/Baragon-test-8/pkg/observability"
)

const commandTimeout = 30 * time.Second

// Adapter drives the local load balancer instance.
type Adapter interface {
	// ApplyCurrentConfigs validates and reloads the on-disk configuration.
	// It either fully succeeds or returns an error with nothing reloaded.
	ApplyCurrentConfigs(ctx context.Context) error

	// TriggerLogrotate runs the maintenance command. Failures are logged
	// and never propagated.
	TriggerLogrotate()
}

// CommandAdapter implements Adapter by shelling out to the configured
// check/reload/rotate commands.
type CommandAdapter struct {
	cfg    config.LoadBalancerConfig
	logger *zap.Logger
}

// NewCommandAdapter creates an adapter for the given load balancer config.
func NewCommandAdapter(cfg config.LoadBalancerConfig, logger *zap.Logger) *CommandAdapter {
	return &CommandAdapter{
		cfg:    cfg,
		logger: logger,
	}
}

// ApplyCurrentConfigs runs the config check command followed by the reload
// command. The reload is only attempted when the check passes, so a bad
// config never reaches the running instance.
func (a *CommandAdapter) ApplyCurrentConfigs(ctx context.Context) error {
	if a.cfg.CheckConfigCommand != "" {
		if out, err := a.run(ctx, a.cfg.CheckConfigCommand); err != nil {
			observability.ConfigAppliesTotal.WithLabelValues("failure").Inc()
			return fmt.Errorf("config check failed: %w (output: %s)", err, out)
		}
	}

	out, err := a.run(ctx, a.cfg.ReloadConfigCommand)
	if err != nil {
		observability.ConfigAppliesTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("config reload failed: %w (output: %s)", err, out)
	}

	observability.ConfigAppliesTotal.WithLabelValues("success").Inc()
	a.logger.Info("Applied current configs",
		zap.String("root_path", a.cfg.RootPath),
	)
	return nil
}

// TriggerLogrotate runs the rotate command when one is configured.
func (a *CommandAdapter) TriggerLogrotate() {
	if a.cfg.LogRotateCommand == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if out, err := a.run(ctx, a.cfg.LogRotateCommand); err != nil {
		a.logger.Warn("Logrotate command failed",
			zap.Error(err),
			zap.String("output", out),
		)
		return
	}
	a.logger.Debug("Logrotate completed")
}

func (a *CommandAdapter) run(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
