package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/starcat/internal/config"
	"github.com/nvandessel/starcat/internal/store"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a star catalogue in the current directory",
		Long: `Initialize a star catalogue.

This command creates the .starcat/ directory and an empty SQLite catalogue.
With --global it instead creates ~/.starcat/ and writes a default
config.yaml there if none exists. With --reset an existing catalogue is
emptied.

Examples:
  starcat init               # Create .starcat/starcat.db in the project root
  starcat init --reset       # Drop every stored cluster
  starcat init --global      # Create ~/.starcat/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			globalInit, _ := cmd.Flags().GetBool("global")
			jsonOut, _ := cmd.Flags().GetBool("json")
			reset, _ := cmd.Flags().GetBool("reset")

			result := map[string]string{"status": "initialized"}

			if globalInit {
				starcatDir, err := store.GlobalStarcatPath()
				if err != nil {
					return fmt.Errorf("failed to get global path: %w", err)
				}
				configPath := filepath.Join(starcatDir, "config.yaml")
				if _, err := os.Stat(configPath); os.IsNotExist(err) {
					if err := config.Default().Save(configPath); err != nil {
						return fmt.Errorf("failed to write config.yaml: %w", err)
					}
				} else if err := os.MkdirAll(starcatDir, 0700); err != nil {
					return fmt.Errorf("failed to create global directory: %w", err)
				}
				result["path"] = starcatDir
				result["config"] = configPath
				result["scope"] = "global"
			} else {
				catalog, err := store.NewSQLiteCatalog(root)
				if err != nil {
					return fmt.Errorf("failed to create catalogue: %w", err)
				}
				defer catalog.Close()
				if reset {
					if err := catalog.Reset(context.Background()); err != nil {
						return fmt.Errorf("failed to reset catalogue: %w", err)
					}
					result["status"] = "reset"
				}
				result["path"] = store.LocalStarcatPath(root)
				result["database"] = catalog.Path()
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			if globalInit {
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized global .starcat/ at %s\n", result["path"])
			} else if reset {
				fmt.Fprintf(cmd.OutOrStdout(), "Reset catalogue at %s\n", result["database"])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Initialized .starcat/ in %s\n", root)
			}
			return nil
		},
	}

	cmd.Flags().Bool("global", false, "Initialize ~/.starcat/ with a default config")
	cmd.Flags().Bool("reset", false, "Drop every stored cluster and star")

	return cmd
}
