// Command audiocrawler renders crawled chapter text into audio files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/smg1208/audio-crawler/internal/app"
	"github.com/smg1208/audio-crawler/pkg/config"
	"github.com/smg1208/audio-crawler/pkg/logging"
	"github.com/smg1208/audio-crawler/pkg/version"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A missing .env is normal; real environment variables still apply.
	_ = godotenv.Load()

	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "audiocrawler",
		Short:         "Render crawled chapters into audio",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.DefaultPath, "path to the YAML config")

	root.AddCommand(
		c.newRunCmd(),
		c.newSayCmd(),
		c.newStatusCmd(),
		c.newEstimateCmd(),
		c.newProvidersCmd(),
		c.newInitConfigCmd(),
	)
	return root
}

// loadConfig reads the config file, creating it with defaults when missing.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// open starts logging and builds the App for cfg. The returned function
// releases both.
func (c *cli) open(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	slog.Debug("audiocrawler started", "version", version.Version, "config", c.configPath)

	a, err := app.New(ctx, cfg)
	if err != nil {
		cleanupLogs()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			slog.Warn("App: failed to close cache", "error", err)
		}
		cleanupLogs()
	}, nil
}

func (c *cli) newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.GenerateDefault(c.configPath); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", c.configPath)
			return nil
		},
	}
}
