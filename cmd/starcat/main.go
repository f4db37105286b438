package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nvandessel/starcat/internal/config"
	"github.com/nvandessel/starcat/internal/logging"
	"github.com/nvandessel/starcat/internal/store"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "starcat",
		Short: "Star catalogue - simulate clusters and compare retrieval strategies",
		Long: `starcat simulates noisy distance observations of star clusters,
stores them in a SQLite catalogue, and estimates each cluster's mean
distance through several data-access strategies so their cost can be
compared.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newGenerateCmd(),
		newClustersCmd(),
		newStarsCmd(),
		newMeanCmd(),
		newBenchCmd(),
		newDeleteCmd(),
		newExportCmd(),
		newImportCmd(),
		newValidateCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
		// Backup commands
		newBackupCmd(),
		newRestoreFromBackupCmd(),
	)

	return rootCmd
}

// loadSettings loads config.yaml and environment overrides, falling back to
// defaults when the file is unreadable.
func loadSettings(cmd *cobra.Command) *config.StarcatConfig {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v, using defaults\n", err)
		return config.Default()
	}
	return cfg
}

// newCmdLogger builds the stderr logger for the configured level.
func newCmdLogger(cmd *cobra.Command, cfg *config.StarcatConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// openCatalog opens the configured catalogue, or <root>/.starcat/starcat.db.
func openCatalog(root string, cfg *config.StarcatConfig) (*store.SQLiteCatalog, error) {
	if cfg.Database.Path != "" {
		return store.OpenSQLiteCatalog(cfg.Database.Path)
	}
	return store.NewSQLiteCatalog(root)
}

// signalContext returns a context cancelled on interrupt.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
