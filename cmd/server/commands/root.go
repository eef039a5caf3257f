package commands

import (
	"fmt"
	"os"

	"holodomination/internal/config"
	"holodomination/internal/logger"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "HololiveDomination image board API",
	Long: `HololiveDomination serves the image board REST API.

Configuration is read from .env, config.yaml (in . or ./configs) and
environment variables, e.g. SERVER_PORT, DATABASE_DSN, STORAGE_ENDPOINT.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup 加载配置并初始化日志
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Server.Mode); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}
