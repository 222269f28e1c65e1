// taskhound discovers work from the signals a codebase already emits
// (error logs, the issue tracker, static analysis, coverage gaps),
// queues it durably, and dispatches it to an execution agent in
// bounded-concurrency batches, learning from the outcomes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"taskhound/internal/config"
	"taskhound/internal/logging"
)

var (
	// Global flags
	configPath string
	workspace  string
	debugMode  bool
)

var rootCmd = &cobra.Command{
	Use:   "taskhound",
	Short: "taskhound - autonomous work discovery and dispatch",
	Long: `taskhound watches the signals a codebase already produces and turns
them into executable work: recurring log errors, open tracker issues,
static analysis findings, and coverage gaps become queued work items
dispatched to an execution agent with retry, backoff, and learned
prioritization.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var categories map[string]bool
		if len(cfg.Logging.Categories) > 0 {
			categories = make(map[string]bool, len(cfg.Logging.Categories))
			for _, c := range cfg.Logging.Categories {
				categories[c] = true
			}
		}
		return logging.Initialize(cfg.Workspace, logging.Options{
			DebugMode:  cfg.Logging.Debug || debugMode,
			Level:      cfg.Logging.Level,
			Categories: categories,
			JSONFormat: cfg.Logging.JSONFormat,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

// loadConfig resolves the config path and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		ws := workspace
		if ws == "" {
			ws = "."
		}
		path = config.DefaultPath(ws)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}
	return cfg, nil
}

// signalContext returns a context canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <workspace>/.taskhound/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default current directory)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable category debug logs")

	rootCmd.AddCommand(runCmd, onceCmd, statusCmd, resetCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
