package main

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/nvandessel/starcat/internal/frame"
	"github.com/nvandessel/starcat/internal/retrieval"
	"github.com/nvandessel/starcat/internal/store"
	"github.com/spf13/cobra"
)

func newClustersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clusters",
		Short: "List stored clusters",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")

			catalog, err := openCatalog(root, loadSettings(cmd))
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			clusters, err := catalog.ListClusters(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list clusters: %w", err)
			}

			if jsonOut {
				if clusters == nil {
					clusters = []store.Cluster{}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"clusters": clusters,
					"count":    len(clusters),
				})
			}

			out := cmd.OutOrStdout()
			if len(clusters) == 0 {
				fmt.Fprintln(out, "No clusters stored yet.")
				fmt.Fprintln(out, "\nUse 'starcat generate --name NAME' to simulate one.")
				return nil
			}
			fmt.Fprintf(out, "Clusters (%d):\n\n", len(clusters))
			for i, c := range clusters {
				fmt.Fprintf(out, "%d. %s\n", i+1, c.Name)
				fmt.Fprintf(out, "   True distance: %g kpc  RMS: %g\n", c.TrueDistance, c.RMSFractionalError)
				fmt.Fprintf(out, "   Stars: %d\n", c.StarCount)
				if c.Seed != nil {
					fmt.Fprintf(out, "   Seed: %d\n", *c.Seed)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newStarsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stars <cluster>",
		Short: "Print a cluster's stored observations",
		Long: `Print a cluster's stored observations.

With --join each row also carries its cluster's name and true distance.

Examples:
  starcat stars hyades --limit 10
  starcat stars hyades --join --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			join, _ := cmd.Flags().GetBool("join")
			limit, _ := cmd.Flags().GetInt("limit")
			name := args[0]
			if name == "" {
				return fmt.Errorf("cluster name is required")
			}

			catalog, err := openCatalog(root, loadSettings(cmd))
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			ctx := context.Background()
			out := cmd.OutOrStdout()

			if join {
				records, err := catalog.StarsWithCluster(ctx, name)
				if err != nil {
					return err
				}
				if limit > 0 && len(records) > limit {
					records = records[:limit]
				}
				if jsonOut {
					return writeJSON(out, map[string]any{"stars": records, "count": len(records)})
				}
				for _, r := range records {
					fmt.Fprintf(out, "%s\t%.6f\t%s\t%g\n", r.ObservationID, r.Distance, r.Cluster, r.TrueDistance)
				}
				return nil
			}

			stars, err := catalog.Stars(ctx, name)
			if err != nil {
				return err
			}
			if limit > 0 && len(stars) > limit {
				stars = stars[:limit]
			}
			if jsonOut {
				return writeJSON(out, map[string]any{"stars": stars, "count": len(stars)})
			}
			for _, s := range stars {
				fmt.Fprintf(out, "%s\t%.6f\n", s.ObservationID, s.Distance)
			}
			return nil
		},
	}

	cmd.Flags().Bool("join", false, "Join each star with its cluster's name and true distance")
	cmd.Flags().Int("limit", 0, "Maximum number of stars to print (0 = all)")

	return cmd
}

func newMeanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mean <cluster>",
		Short: "Estimate a stored cluster's mean distance",
		Long: `Estimate a stored cluster's mean distance through one retrieval strategy.

Strategies:
  rows       - load every star row and sum distances
  columns    - load only the distance column
  frame      - load joined rows into a columnar Arrow frame
  aggregate  - let SQLite compute AVG(distance) (default)

With --all every cluster's mean is computed at once from a single joined
frame.

Examples:
  starcat mean hyades
  starcat mean hyades --strategy frame
  starcat mean --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			strategyName, _ := cmd.Flags().GetString("strategy")
			all, _ := cmd.Flags().GetBool("all")

			if all == (len(args) == 1) {
				return fmt.Errorf("specify either a cluster name or --all")
			}

			strategy, err := retrieval.ParseStrategy(strategyName)
			if err != nil {
				return err
			}

			catalog, err := openCatalog(root, loadSettings(cmd))
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			ctx := context.Background()
			if all {
				return printAllMeans(cmd, catalog, jsonOut)
			}

			name := args[0]
			cluster, err := catalog.GetCluster(ctx, name)
			if err != nil {
				return err
			}
			retriever, err := retrieval.New(strategy, catalog)
			if err != nil {
				return err
			}
			res, err := retriever.MeanDistance(ctx, name)
			if err != nil {
				return err
			}
			deviation := math.Abs(res.Mean - cluster.TrueDistance)

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"cluster":       cluster.Name,
					"strategy":      res.Strategy,
					"mean":          res.Mean,
					"count":         res.Count,
					"true_distance": cluster.TrueDistance,
					"deviation":     deviation,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: mean distance %.6f kpc over %d stars (%s)\n",
				cluster.Name, res.Mean, res.Count, res.Strategy)
			fmt.Fprintf(cmd.OutOrStdout(), "  True distance: %g kpc  deviation: %.6f kpc\n", cluster.TrueDistance, deviation)
			return nil
		},
	}

	cmd.Flags().String("strategy", retrieval.StrategyAggregate.String(), "Retrieval strategy: rows, columns, frame, aggregate")
	cmd.Flags().Bool("all", false, "Estimate every cluster's mean from one joined frame")

	return cmd
}

// printAllMeans joins every star to its cluster in one Arrow frame and
// reports each cluster's mean.
func printAllMeans(cmd *cobra.Command, catalog store.Catalog, jsonOut bool) error {
	ctx := context.Background()
	clusters, err := catalog.ListClusters(ctx)
	if err != nil {
		return fmt.Errorf("failed to list clusters: %w", err)
	}
	records, err := catalog.StarsWithCluster(ctx, "")
	if err != nil {
		return err
	}

	f, err := frame.FromRecords(memory.DefaultAllocator, records)
	if err != nil {
		return fmt.Errorf("failed to build frame: %w", err)
	}
	defer f.Release()

	means, err := f.ClusterMeans()
	if err != nil {
		return err
	}

	type clusterMean struct {
		Cluster      string  `json:"cluster"`
		Mean         float64 `json:"mean"`
		Count        int     `json:"count"`
		TrueDistance float64 `json:"true_distance"`
		Deviation    float64 `json:"deviation"`
	}
	results := make([]clusterMean, 0, len(clusters))
	for _, c := range clusters {
		mean, ok := means[c.Name]
		if !ok {
			// No stars stored for this cluster
			continue
		}
		results = append(results, clusterMean{
			Cluster:      c.Name,
			Mean:         mean,
			Count:        c.StarCount,
			TrueDistance: c.TrueDistance,
			Deviation:    math.Abs(mean - c.TrueDistance),
		})
	}

	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"means": results, "count": len(results)})
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stars stored yet.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: mean distance %.6f kpc over %d stars (true %g, deviation %.6f)\n",
			r.Cluster, r.Mean, r.Count, r.TrueDistance, r.Deviation)
	}
	return nil
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <cluster>",
		Short: "Delete a cluster and its stars",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			name := args[0]

			catalog, err := openCatalog(root, loadSettings(cmd))
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			if err := catalog.DeleteCluster(context.Background(), name); err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"status": "deleted", "cluster": name})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted cluster %s\n", name)
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every star as JSON lines",
		Long: `Export every stored star, joined with its cluster, as JSON lines.

Examples:
  starcat export                     # Write to stdout
  starcat export --output stars.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			outputPath, _ := cmd.Flags().GetString("output")

			catalog, err := openCatalog(root, loadSettings(cmd))
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			w := cmd.OutOrStdout()
			if outputPath != "" {
				f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer f.Close()
				w = f
			}

			if err := catalog.ExportJSONL(context.Background(), w); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().String("output", "", "Output file (default: stdout)")

	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load clusters from an export file",
		Long: `Load clusters from JSON lines written by export.

Stars are grouped by cluster in file order. Every cluster is checked before
any is written; an imported cluster replaces a stored one of the same name.
Export files carry no noise level or seed, so imported clusters record
neither.

Examples:
  starcat export --output stars.jsonl
  starcat import stars.jsonl --root ../other-project`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer f.Close()

			records, err := store.ReadJSONL(f)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			groups, err := groupRecords(records)
			if err != nil {
				return err
			}

			catalog, err := openCatalog(root, loadSettings(cmd))
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			ctx := context.Background()
			imported := make([]*store.Cluster, 0, len(groups))
			for _, g := range groups {
				c, err := catalog.SavePopulation(ctx, g.spec, g.ids, g.distances)
				if err != nil {
					return fmt.Errorf("failed to import cluster %s: %w", g.spec.Name, err)
				}
				imported = append(imported, c)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"clusters": imported})
			}
			for _, c := range imported {
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d stars for %s\n", c.StarCount, c.Name)
			}
			return nil
		},
	}
}

type recordGroup struct {
	spec      store.ClusterSpec
	ids       []string
	distances []float64
}

// groupRecords splits joined star records into per-cluster samples and
// validates each one.
func groupRecords(records []store.StarRecord) ([]*recordGroup, error) {
	var groups []*recordGroup
	byName := make(map[string]*recordGroup)
	for _, r := range records {
		g, ok := byName[r.Cluster]
		if !ok {
			g = &recordGroup{spec: store.ClusterSpec{Name: r.Cluster, TrueDistance: r.TrueDistance}}
			byName[r.Cluster] = g
			groups = append(groups, g)
		}
		if r.TrueDistance != g.spec.TrueDistance {
			return nil, fmt.Errorf("%w: cluster %s has true distances %g and %g",
				store.ErrInvalidCluster, r.Cluster, g.spec.TrueDistance, r.TrueDistance)
		}
		g.ids = append(g.ids, r.ObservationID)
		g.distances = append(g.distances, r.Distance)
	}

	for _, g := range groups {
		if err := store.ValidatePopulation(g.spec, g.ids, g.distances); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check catalogue integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")

			catalog, err := openCatalog(root, loadSettings(cmd))
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			if err := catalog.Validate(context.Background()); err != nil {
				if jsonOut {
					_ = writeJSON(cmd.OutOrStdout(), map[string]any{"valid": false, "error": err.Error()})
				}
				return fmt.Errorf("catalogue invalid: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"valid": true})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Catalogue is valid.")
			return nil
		},
	}
}
