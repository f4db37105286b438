package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvandessel/starcat/internal/bench"
	"github.com/nvandessel/starcat/internal/constants"
	"github.com/nvandessel/starcat/internal/logging"
	"github.com/nvandessel/starcat/internal/observability"
	"github.com/nvandessel/starcat/internal/retrieval"
	"github.com/nvandessel/starcat/internal/sanitize"
	"github.com/nvandessel/starcat/internal/store"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench [cluster]",
		Short: "Compare retrieval strategies on a stored cluster",
		Long: `Time each retrieval strategy's estimate of a cluster's mean distance.

Every measurement runs --repeats times and keeps the fastest run. Each row
reports elapsed time, bytes allocated, the live-heap delta, and how far the
estimate is from the cluster's true distance.

With --generate a fresh population is simulated from the generation
settings and stored first, and its in-memory mean is measured alongside.

At debug or trace log level every report is appended to .starcat/runs.jsonl.

Examples:
  starcat bench hyades
  starcat bench hyades --strategies rows,aggregate --repeats 5
  starcat bench --generate --stars 1000000 --seed 1
  starcat bench hyades --trace --metrics-file bench.prom`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			generate, _ := cmd.Flags().GetBool("generate")
			metricsFile, _ := cmd.Flags().GetString("metrics-file")

			name := constants.DefaultClusterName
			if len(args) == 1 {
				name = args[0]
			}

			cfg := loadSettings(cmd)
			if cmd.Flags().Changed("strategies") {
				cfg.Bench.Strategies, _ = cmd.Flags().GetStringSlice("strategies")
			}
			if cmd.Flags().Changed("repeats") {
				cfg.Bench.Repeats, _ = cmd.Flags().GetInt("repeats")
			}
			if cmd.Flags().Changed("stars") {
				cfg.Generation.Stars, _ = cmd.Flags().GetInt("stars")
			}
			if cmd.Flags().Changed("seed") {
				seed, _ := cmd.Flags().GetUint64("seed")
				cfg.Generation.Seed = &seed
			}
			if trace, _ := cmd.Flags().GetBool("trace"); trace {
				cfg.Tracing.Enabled = true
				cfg.Tracing.Exporter = "stdout"
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			strategies, err := retrieval.ParseStrategies(cfg.Bench.Strategies)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			logger := newCmdLogger(cmd, cfg)

			provider, err := observability.NewTracerProvider(observability.TracingConfig{
				Enabled:  cfg.Tracing.Enabled,
				Exporter: cfg.Tracing.Exporter,
			}, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer provider.Shutdown(ctx)

			collector, err := observability.NewCollector(prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("failed to register metrics: %w", err)
			}

			catalog, err := openCatalog(root, cfg)
			if err != nil {
				return fmt.Errorf("failed to open catalogue: %w", err)
			}
			defer catalog.Close()

			runLog := logging.NewRunLogger(store.LocalStarcatPath(root), cfg.Logging.Level)
			defer runLog.Close()

			req := bench.Request{Cluster: name, Strategies: strategies}
			if generate {
				if name, err = sanitize.ValidateClusterName(name); err != nil {
					return fmt.Errorf("invalid cluster name: %w", err)
				}
				req.Cluster = name
				pop, _, err := generateAndStore(ctx, catalog, name, cfg.Generation)
				if err != nil {
					return err
				}
				collector.AddGenerated(pop.N())
				req.Population = pop
			}

			runner := bench.NewRunner(catalog,
				bench.WithCollector(collector),
				bench.WithTracer(provider.Tracer()),
				bench.WithLogger(logger),
				bench.WithRunLogger(runLog),
				bench.WithRepeats(cfg.Bench.Repeats),
			)
			report, err := runner.Run(ctx, req)
			if err != nil {
				return err
			}

			if metricsFile != "" {
				if err := collector.WriteTextfile(metricsFile); err != nil {
					return fmt.Errorf("failed to write metrics: %w", err)
				}
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().StringSlice("strategies", nil, "Strategies to time: rows, columns, frame, aggregate, or all (default from config)")
	cmd.Flags().Int("repeats", 0, "Runs per measurement; the fastest is kept (default from config)")
	cmd.Flags().String("metrics-file", "", "Write Prometheus metrics in text format to this file")
	cmd.Flags().Bool("trace", false, "Print OpenTelemetry spans to stderr")
	cmd.Flags().Bool("generate", false, "Simulate and store a fresh population before measuring")
	cmd.Flags().Int("stars", 0, "Stars to simulate with --generate (default from config)")
	cmd.Flags().Uint64("seed", 0, "Random seed for --generate (default from config, else unseeded)")

	return cmd
}

func printReport(cmd *cobra.Command, report *bench.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cluster %s (true distance %g kpc), best of %d\n\n", report.Cluster, report.TrueDistance, report.Repeats)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tMEAN (kpc)\tSTARS\tTIME (ms)\tALLOC (KiB)\tHEAP DELTA (KiB)\tDEVIATION")
	for _, m := range report.Measurements {
		fmt.Fprintf(tw, "%s\t%.6f\t%d\t%.3f\t%.1f\t%.1f\t%.6f\n",
			m.Name, m.Mean, m.Count, m.Milliseconds(),
			float64(m.AllocBytes)/1024, float64(m.HeapDelta)/1024, m.Deviation)
	}
	tw.Flush()

	if fastest, ok := report.Fastest(); ok {
		fmt.Fprintf(out, "\nFastest: %s\n", fastest.Name)
	}
	if report.SystemMemory > 0 {
		fmt.Fprintf(out, "System memory: %.1f GiB\n", float64(report.SystemMemory)/(1<<30))
	}
}
