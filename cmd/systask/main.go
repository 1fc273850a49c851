// Command systask runs workloads on a delayed worker pool and serves its metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vnykmshr/systask/internal/config"
	"github.com/vnykmshr/systask/internal/logger"
)

// Build-time variables (injected via -ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

func versionInfo() string {
	hash := commit
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return fmt.Sprintf("systask %s (%s) built with %s for %s/%s",
		version, hash, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// app carries what every subcommand shares.
type app struct {
	cfg *config.Config
	log *zap.Logger
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	a := &app{cfg: cfg, log: zap.NewNop()}

	root := &cobra.Command{
		Use:           "systask",
		Version:       version,
		Short:         "Delayed task worker pool",
		Long:          `systask runs tasks on a fixed set of workers, optionally delayed, and exposes pool metrics for Prometheus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts := []logger.Option{
				logger.WithLevel(cfg.Log.Level),
				logger.WithJSONFormat(cfg.Log.JSON),
			}
			if cfg.Log.File != "" {
				opts = append(opts, logger.WithFile(cfg.Log.File))
			}
			l, err := logger.Init(opts...)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.log = l
			return nil
		},
	}
	root.SetVersionTemplate(versionInfo() + "\n")

	root.PersistentFlags().StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&cfg.Pool.Name, "name", cfg.Pool.Name, "Pool name used in logs and metrics")

	root.AddCommand(newRunCmd(a), newServeCmd(a))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd(config.Load()).ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
