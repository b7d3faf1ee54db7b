package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/transitsim/app"
	"github.com/kilianp07/transitsim/config"
	"github.com/kilianp07/transitsim/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "transitsim",
	Short: "Decentralized urban transit fleet simulation",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full simulation",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.AddCommand(runCmd)
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults plus environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Logging.Level)
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
