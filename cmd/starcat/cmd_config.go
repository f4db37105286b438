package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nvandessel/starcat/internal/config"
	"github.com/nvandessel/starcat/internal/retrieval"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage starcat configuration",
		Long: `View and modify starcat configuration settings.

Configuration is stored in ~/.starcat/config.yaml. STARCAT_* environment
variables override file values.

Examples:
  starcat config list                          # Show all settings
  starcat config get generation.stars          # Get a specific setting
  starcat config set bench.repeats 5           # Set a setting
  starcat config path                          # Print the config file location`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigPathCmd(),
	)

	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration (~/.starcat/config.yaml):")
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key := args[0]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			value, found := getConfigValue(cfg, key)
			if !found {
				return fmt.Errorf("unknown configuration key: %s", key)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"key": key, "value": value})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			key, value := args[0], args[1]

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := setConfigValue(cfg, key, value); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"status": "updated", "key": key, "value": value})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"path": path})
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.StarcatConfig, key string) (any, bool) {
	switch key {
	case "database.path":
		return cfg.Database.Path, true
	case "generation.distance":
		return cfg.Generation.Distance, true
	case "generation.stars":
		return cfg.Generation.Stars, true
	case "generation.rms_fractional_error":
		return cfg.Generation.RMSFractionalError, true
	case "generation.seed":
		if cfg.Generation.Seed == nil {
			return "", true
		}
		return *cfg.Generation.Seed, true
	case "bench.strategies":
		return strings.Join(cfg.Bench.Strategies, ","), true
	case "bench.repeats":
		return cfg.Bench.Repeats, true
	case "logging.level":
		return cfg.Logging.Level, true
	case "tracing.enabled":
		return cfg.Tracing.Enabled, true
	case "tracing.exporter":
		return cfg.Tracing.Exporter, true
	case "backup.retention.max_count":
		return cfg.Backup.Retention.MaxCount, true
	case "backup.retention.max_age":
		return cfg.Backup.Retention.MaxAge, true
	case "backup.retention.max_total_size":
		return cfg.Backup.Retention.MaxTotalSize, true
	default:
		return nil, false
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.StarcatConfig, key, value string) error {
	parseFloat := func() (float64, error) {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number for %s: %s", key, value)
		}
		return f, nil
	}
	parseInt := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %s", key, value)
		}
		return n, nil
	}

	var err error
	switch key {
	case "database.path":
		cfg.Database.Path = value
	case "generation.distance":
		cfg.Generation.Distance, err = parseFloat()
	case "generation.stars":
		cfg.Generation.Stars, err = parseInt()
	case "generation.rms_fractional_error":
		cfg.Generation.RMSFractionalError, err = parseFloat()
	case "generation.seed":
		// An empty value returns generation to unseeded draws
		if value == "" {
			cfg.Generation.Seed = nil
			break
		}
		seed, perr := strconv.ParseUint(value, 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid seed: %s", value)
		}
		cfg.Generation.Seed = &seed
	case "bench.strategies":
		names := strings.Split(value, ",")
		if _, perr := retrieval.ParseStrategies(names); perr != nil {
			return perr
		}
		cfg.Bench.Strategies = names
	case "bench.repeats":
		cfg.Bench.Repeats, err = parseInt()
	case "logging.level":
		cfg.Logging.Level = value
	case "tracing.enabled":
		cfg.Tracing.Enabled = value == "true" || value == "1"
	case "tracing.exporter":
		cfg.Tracing.Exporter = value
	case "backup.retention.max_count":
		cfg.Backup.Retention.MaxCount, err = parseInt()
	case "backup.retention.max_age":
		cfg.Backup.Retention.MaxAge = value
	case "backup.retention.max_total_size":
		cfg.Backup.Retention.MaxTotalSize = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}
