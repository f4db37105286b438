package mcp

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/starcat/internal/bench"
	"github.com/nvandessel/starcat/internal/population"
	"github.com/nvandessel/starcat/internal/retrieval"
	"github.com/nvandessel/starcat/internal/sanitize"
	"github.com/nvandessel/starcat/internal/store"
)

const clustersURI = "starcat://clusters"

// registerTools registers all starcat MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "starcat_generate",
		Description: "Simulate a star cluster's noisy distance observations and store them in the catalogue",
	}, s.handleGenerate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "starcat_mean",
		Description: "Estimate a stored cluster's mean distance with a chosen retrieval strategy",
	}, s.handleMean)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "starcat_clusters",
		Description: "List stored clusters with their true distance and star count",
	}, s.handleClusters)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "starcat_bench",
		Description: "Time every retrieval strategy against a stored cluster and report elapsed time and allocation",
	}, s.handleBench)
}

// registerResources registers the catalogue overview resource.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         clustersURI,
		Name:        "starcat-clusters",
		Description: "Markdown table of the clusters stored in the starcat catalogue.",
		MIMEType:    "text/markdown",
	}, s.handleClustersResource)
}

func (s *Server) handleClustersResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	clusters, err := s.catalog.ListClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Star clusters\n\n")
	if len(clusters) == 0 {
		sb.WriteString("No clusters stored yet. Create one with `starcat_generate`.\n")
	} else {
		sb.WriteString("| name | true distance (kpc) | rms fractional error | stars |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, c := range clusters {
			fmt.Fprintf(&sb, "| %s | %g | %g | %d |\n", c.Name, c.TrueDistance, c.RMSFractionalError, c.StarCount)
		}
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      clustersURI,
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// handleGenerate implements the starcat_generate tool.
func (s *Server) handleGenerate(ctx context.Context, req *sdk.CallToolRequest, args GenerateInput) (_ *sdk.CallToolResult, _ GenerateOutput, retErr error) {
	start := time.Now()
	defer func() {
		params := map[string]string{"name": args.Name}
		if args.Seed != nil {
			params["seed"] = strconv.FormatUint(*args.Seed, 10)
		}
		s.auditTool("starcat_generate", start, retErr, params)
	}()

	if err := s.toolLimiters.Check("starcat_generate"); err != nil {
		return nil, GenerateOutput{}, err
	}

	name, err := sanitize.ValidateClusterName(args.Name)
	if err != nil {
		return nil, GenerateOutput{}, fmt.Errorf("'name' parameter is required: %w", err)
	}

	gen := s.settings.Generation
	distance := gen.Distance
	if args.Distance != nil {
		distance = *args.Distance
	}
	n := gen.Stars
	if args.Stars != nil {
		n = *args.Stars
	}
	rms := gen.RMSFractionalError
	if args.RMSFractionalError != nil {
		rms = *args.RMSFractionalError
	}
	seed := args.Seed
	if seed == nil {
		seed = gen.Seed
	}

	var opts []population.Option
	if seed != nil {
		opts = append(opts, population.WithSeed(*seed))
	}
	pop, err := population.New(distance, opts...)
	if err != nil {
		return nil, GenerateOutput{}, err
	}
	if err := pop.Generate(n, rms); err != nil {
		return nil, GenerateOutput{}, err
	}

	cluster, err := s.catalog.SavePopulation(ctx, store.ClusterSpec{
		Name:               name,
		TrueDistance:       distance,
		RMSFractionalError: rms,
		Seed:               seed,
	}, pop.IDs(), pop.Distances())
	if err != nil {
		return nil, GenerateOutput{}, fmt.Errorf("failed to store cluster: %w", err)
	}
	s.collector.AddGenerated(pop.N())

	out := GenerateOutput{
		Cluster: summarizeCluster(*cluster),
		Message: fmt.Sprintf("Stored %d stars for %s at %g kpc", pop.N(), name, distance),
	}
	if est, err := pop.EstimateMeanDistance(); err == nil {
		out.Mean = est.Mean
		out.ElapsedMs = est.Milliseconds()
	}
	return nil, out, nil
}

// handleMean implements the starcat_mean tool.
func (s *Server) handleMean(ctx context.Context, req *sdk.CallToolRequest, args MeanInput) (_ *sdk.CallToolResult, _ MeanOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("starcat_mean", start, retErr, map[string]string{
			"cluster": args.Cluster, "strategy": args.Strategy,
		})
	}()

	if err := s.toolLimiters.Check("starcat_mean"); err != nil {
		return nil, MeanOutput{}, err
	}
	if args.Cluster == "" {
		return nil, MeanOutput{}, fmt.Errorf("'cluster' parameter is required")
	}

	strategy := retrieval.StrategyAggregate
	if args.Strategy != "" {
		parsed, err := retrieval.ParseStrategy(args.Strategy)
		if err != nil {
			return nil, MeanOutput{}, err
		}
		strategy = parsed
	}

	cluster, err := s.catalog.GetCluster(ctx, args.Cluster)
	if err != nil {
		return nil, MeanOutput{}, err
	}

	retriever, err := retrieval.New(strategy, s.catalog)
	if err != nil {
		return nil, MeanOutput{}, err
	}
	res, err := retriever.MeanDistance(ctx, args.Cluster)
	if err != nil {
		return nil, MeanOutput{}, err
	}

	return nil, MeanOutput{
		Cluster:      cluster.Name,
		Strategy:     res.Strategy.String(),
		Mean:         res.Mean,
		Count:        res.Count,
		TrueDistance: cluster.TrueDistance,
		Deviation:    math.Abs(res.Mean - cluster.TrueDistance),
	}, nil
}

// handleClusters implements the starcat_clusters tool.
func (s *Server) handleClusters(ctx context.Context, req *sdk.CallToolRequest, args ClustersInput) (_ *sdk.CallToolResult, _ ClustersOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("starcat_clusters", start, retErr, nil)
	}()

	if err := s.toolLimiters.Check("starcat_clusters"); err != nil {
		return nil, ClustersOutput{}, err
	}

	clusters, err := s.catalog.ListClusters(ctx)
	if err != nil {
		return nil, ClustersOutput{}, fmt.Errorf("failed to list clusters: %w", err)
	}

	out := ClustersOutput{Clusters: make([]ClusterSummary, 0, len(clusters)), Count: len(clusters)}
	for _, c := range clusters {
		out.Clusters = append(out.Clusters, summarizeCluster(c))
	}
	return nil, out, nil
}

// handleBench implements the starcat_bench tool.
func (s *Server) handleBench(ctx context.Context, req *sdk.CallToolRequest, args BenchInput) (_ *sdk.CallToolResult, _ BenchOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("starcat_bench", start, retErr, map[string]string{
			"cluster": args.Cluster, "strategies": strings.Join(args.Strategies, ","),
		})
	}()

	if err := s.toolLimiters.Check("starcat_bench"); err != nil {
		return nil, BenchOutput{}, err
	}
	if args.Cluster == "" {
		return nil, BenchOutput{}, fmt.Errorf("'cluster' parameter is required")
	}

	names := args.Strategies
	if len(names) == 0 {
		names = s.settings.Bench.Strategies
	}
	strategies, err := retrieval.ParseStrategies(names)
	if err != nil {
		return nil, BenchOutput{}, err
	}
	repeats := args.Repeats
	if repeats <= 0 {
		repeats = s.settings.Bench.Repeats
	}

	runner := bench.NewRunner(s.catalog,
		bench.WithRepeats(repeats),
		bench.WithCollector(s.collector),
		bench.WithLogger(s.logger),
	)
	report, err := runner.Run(ctx, bench.Request{Cluster: args.Cluster, Strategies: strategies})
	if err != nil {
		return nil, BenchOutput{}, err
	}

	out := BenchOutput{Report: report}
	if fastest, ok := report.Fastest(); ok {
		out.Fastest = fastest.Name
	}
	return nil, out, nil
}

func summarizeCluster(c store.Cluster) ClusterSummary {
	return ClusterSummary{
		Name:               c.Name,
		TrueDistance:       c.TrueDistance,
		RMSFractionalError: c.RMSFractionalError,
		Seed:               c.Seed,
		StarCount:          c.StarCount,
		UpdatedAt:          c.UpdatedAt,
	}
}
