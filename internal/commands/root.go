package commands

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/christopherhwood/plank/internal/config"
)

// Version is set at build time.
var Version = "dev"

type configKey struct{}

// RootCmd creates and returns the root command for the plank CLI
func RootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "plank",
		Short: "Resolve and inspect JSON Schema reference graphs",
		Long: `plank loads JSON Schema documents from files, URLs or object storage,
follows every $ref exactly once (cycles included) and reports on the
resulting graph.

Configuration is read from ./plank.yaml (or --config), PLANK_* environment
variables and flags.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			ctx := slogcontext.NewCtx(cmd.Context(), logger)
			ctx = context.WithValue(ctx, configKey{}, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./plank.yaml)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output for debugging")
	cmd.PersistentFlags().Duration("timeout", time.Minute, "Overall time limit for a command")
	cmd.PersistentFlags().String("log-format", "text", "Log format: text or json")

	return cmd
}

func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), opts))
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts))
}

// configFrom returns the configuration loaded by the root command.
func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// withTimeout applies the configured command timeout (0 disables it).
func withTimeout(ctx context.Context, cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.Timeout)
}
