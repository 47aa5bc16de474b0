package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/StrathCole/oracle-trust/pkg/config"
	"github.com/StrathCole/oracle-trust/pkg/logging"
	"github.com/StrathCole/oracle-trust/pkg/metrics"
	"github.com/StrathCole/oracle-trust/pkg/pinstore"
	"github.com/StrathCole/oracle-trust/pkg/version"
)

var (
	configFile string
	exitCode   int
)

var rootCmd = &cobra.Command{
	Use:           "oracle-trust",
	Short:         "Pinned DNS, certificate monitoring and verified snapshot publishing for the price oracle",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config/config.yaml", "Path to configuration file")
	rootCmd.AddCommand(resolveCmd(), certMonitorCmd(), aggregateCmd(), publishCmd(), versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// setup loads and validates the configuration and initializes logging and metrics.
func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg, pinstore.ParsePin); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logging.SetGlobal(logger)
	logger.Info("Starting oracle-trust", "version", version.Version, "network", cfg.Network)

	if cfg.Metrics.Enabled {
		metrics.Init()
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.ServeHTTP(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}
	return cfg, logger, nil
}

// pushMetrics sends the collected metrics to the Pushgateway for short-lived jobs.
func pushMetrics(cfg *config.Config, logger *logging.Logger, job string) {
	if !cfg.Metrics.Enabled || cfg.Metrics.PushgatewayURL == "" {
		return
	}
	if err := metrics.Push(cfg.Metrics.PushgatewayURL, "oracle_trust_"+job); err != nil {
		logger.Warn("Failed to push metrics", "error", err)
	}
}
