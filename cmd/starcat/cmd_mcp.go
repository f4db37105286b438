package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvandessel/starcat/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout.

Tools: starcat_generate, starcat_mean, starcat_clusters, starcat_bench.
Resource: starcat://clusters

Every tool call is appended to .starcat/audit.jsonl.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			cfg := loadSettings(cmd)
			if err := cfg.Validate(); err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "starcat",
				Version:  version,
				Root:     root,
				Settings: cfg,
				Logger:   newCmdLogger(cmd, cfg),
				Registry: prometheus.DefaultRegisterer,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			return server.Run(context.Background())
		},
	}
}
