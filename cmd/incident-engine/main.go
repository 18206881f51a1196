package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "incident-engine",
		Short:        "Incident response workflow engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults to $"+config.EnvConfigPath+")")

	root.AddCommand(newServeCmd(opts), newRunCmd(opts), newDemoCmd(opts))
	return root
}

// bootstrap loads configuration and builds the application graph.
func (o *rootOptions) bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", o.configPath), slog.Any("error", err))
		return nil, err
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	return newApp(ctx, cfg, logger)
}
