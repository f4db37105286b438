package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/starcat/internal/backup"
	"github.com/nvandessel/starcat/internal/config"
	"github.com/nvandessel/starcat/internal/pathutil"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export every cluster to a backup file",
		Long: `Backup every stored cluster and its stars to a compressed file.

Default location: ~/.starcat/backups/starcat-backup-YYYYMMDD-HHMMSS.json.gz
Older backups in the same directory are pruned by the retention policy
in config.yaml (default: keep the last 10).

Examples:
  starcat backup                                         # Backup to default location
  starcat backup --output .starcat/backups/before.json.gz
  starcat backup list                                    # List all backups
  starcat backup verify <file>                           # Verify backup integrity`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			outputPath, _ := cmd.Flags().GetString("output")

			cfg := loadSettings(cmd)

			var allowedDirs []string
			if outputPath == "" {
				dir, err := backup.DefaultBackupDir()
				if err != nil {
					return fmt.Errorf("failed to get backup directory: %w", err)
				}
				outputPath = backup.GenerateBackupPath(dir)
			} else {
				dirs, err := pathutil.AllowedBackupDirs(root)
				if err != nil {
					return fmt.Errorf("failed to determine allowed backup dirs: %w", err)
				}
				allowedDirs = dirs
			}

			catalog, err := openCatalog(root, cfg)
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			header, err := backup.Backup(context.Background(), catalog, outputPath, allowedDirs...)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			policy := buildRetentionPolicy(&cfg.Backup.Retention)
			if _, err := backup.ApplyRetention(filepath.Dir(outputPath), policy); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to apply retention: %v\n", err)
			}

			if jsonOut {
				var sizeBytes int64
				if info, err := os.Stat(outputPath); err == nil {
					sizeBytes = info.Size()
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":          outputPath,
					"cluster_count": header.ClusterCount,
					"star_count":    header.StarCount,
					"version":       header.Version,
					"checksum":      header.Checksum,
					"size_bytes":    sizeBytes,
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %d clusters, %d stars\n", header.ClusterCount, header.StarCount)
			fmt.Fprintf(cmd.OutOrStdout(), "  Path: %s\n", outputPath)
			return nil
		},
	}

	cmd.Flags().String("output", "", "Output file path (default: auto-generated in ~/.starcat/backups/)")

	cmd.AddCommand(
		newBackupListCmd(),
		newBackupVerifyCmd(),
	)

	return cmd
}

// buildRetentionPolicy constructs a retention policy from config.
func buildRetentionPolicy(cfg *config.RetentionConfig) backup.RetentionPolicy {
	var policies []backup.RetentionPolicy

	if cfg.MaxCount > 0 {
		policies = append(policies, &backup.CountPolicy{MaxCount: cfg.MaxCount})
	}

	if cfg.MaxAge != "" {
		if d, err := backup.ParseDuration(cfg.MaxAge); err == nil {
			policies = append(policies, &backup.AgePolicy{MaxAge: d})
		}
	}

	if cfg.MaxTotalSize != "" {
		if s, err := backup.ParseSize(cfg.MaxTotalSize); err == nil {
			policies = append(policies, &backup.SizePolicy{MaxTotalBytes: s})
		}
	}

	if len(policies) == 0 {
		return &backup.CountPolicy{MaxCount: 10}
	}

	if len(policies) == 1 {
		return policies[0]
	}

	return &backup.CompositePolicy{Policies: policies}
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all backups with metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			dir, err := backup.DefaultBackupDir()
			if err != nil {
				return fmt.Errorf("failed to get backup directory: %w", err)
			}

			backups, err := backup.ListBackups(dir)
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}

			if jsonOut {
				if backups == nil {
					backups = []backup.Info{}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"backups":     backups,
					"total_count": len(backups),
					"directory":   dir,
				})
			}

			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintf(out, "No backups found in %s\n", dir)
				return nil
			}

			fmt.Fprintf(out, "Backups in %s:\n", dir)
			var totalSize int64
			for _, b := range backups {
				totalSize += b.Size
				fmt.Fprintf(out, "  %s  %s  %d clusters, %d stars  (%s)\n",
					filepath.Base(b.Path), b.CreatedAt.Format("2006-01-02 15:04:05"), b.Clusters, b.Stars, formatBytes(b.Size))
			}
			fmt.Fprintf(out, "\n%d backups, %s total\n", len(backups), formatBytes(totalSize))
			return nil
		},
	}
}

func newBackupVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify a backup file's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			path := args[0]

			verifyErr := backup.VerifyChecksum(path)
			if jsonOut {
				result := map[string]any{"path": path, "valid": verifyErr == nil}
				if verifyErr != nil {
					result["error"] = verifyErr.Error()
				}
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
			}
			if verifyErr != nil {
				return fmt.Errorf("verification failed: %w", verifyErr)
			}
			if !jsonOut {
				fmt.Fprintf(cmd.OutOrStdout(), "Backup %s is valid.\n", pathutil.RedactPath(path))
			}
			return nil
		},
	}
}

func newRestoreFromBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore-backup <file>",
		Short: "Restore clusters from a backup file",
		Long: `Restore clusters from a backup file.

Modes:
  merge   - Skip clusters that already exist (default)
  replace - Delete every stored cluster first, then restore

Examples:
  starcat restore-backup ~/.starcat/backups/starcat-backup-20260206-120000.json.gz
  starcat restore-backup backup.json.gz --mode replace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			modeFlag, _ := cmd.Flags().GetString("mode")

			mode, err := backup.ParseRestoreMode(modeFlag)
			if err != nil {
				return err
			}

			allowedDirs, err := pathutil.AllowedBackupDirs(root)
			if err != nil {
				return fmt.Errorf("failed to determine allowed backup dirs: %w", err)
			}

			catalog, err := openCatalog(root, loadSettings(cmd))
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			result, err := backup.Restore(context.Background(), catalog, inputPath, mode, allowedDirs...)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":   inputPath,
					"mode":   mode,
					"result": result,
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d clusters (%d stars) from %s\n",
				result.ClustersRestored, result.StarsRestored, pathutil.RedactPath(inputPath))
			if result.ClustersSkipped > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  Skipped %d existing clusters\n", result.ClustersSkipped)
			}
			if result.ClustersDeleted > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  Replaced %d clusters\n", result.ClustersDeleted)
			}
			return nil
		},
	}

	cmd.Flags().String("mode", string(backup.RestoreMerge), "Restore mode: merge or replace")

	return cmd
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
