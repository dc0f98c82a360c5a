package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/neboloop/intentcore/internal/config"
	"github.com/neboloop/intentcore/internal/logging"
	"github.com/neboloop/intentcore/internal/svc"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// Shared CLI flags
var (
	cfgFile  string
	logLevel string
	verbose  bool
)

// SetupRootCmd configures the root command with all subcommands and flags
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "intentcore",
		Short: "IntentCore - natural-language intent orchestration",
		Long: `IntentCore turns natural-language commands into structured action
invocations, dispatches them to registered handlers and chains results
between actions.

Use 'intentcore serve' to run the HTTP API, or 'intentcore run' for a
single command.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: platform data directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (same as --log-level debug)")

	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(ActionsCmd())
	rootCmd.AddCommand(HistoryCmd())
	rootCmd.AddCommand(FailuresCmd())
	rootCmd.AddCommand(KeysCmd())
	rootCmd.AddCommand(ConfigCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	})

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := SetupRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFrom(cfgFile)
	}
	return config.Load()
}

// configPath is the file watched for live reloads.
func configPath(cfg *config.Config) string {
	if cfgFile != "" {
		return cfgFile
	}
	return cfg.Path()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}

// bootstrap loads config, builds the logger and wires the service context.
func bootstrap(ctx context.Context, opts ...svc.Option) (*svc.ServiceContext, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	opts = append([]svc.Option{svc.WithLogger(logger), svc.WithVersion(Version)}, opts...)
	svcCtx, err := svc.NewServiceContext(ctx, cfg, opts...)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return svcCtx, nil
}

func shutdown(svcCtx *svc.ServiceContext) {
	svcCtx.Close()
	_ = svcCtx.Logger.Sync()
}
