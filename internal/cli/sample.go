package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ppiankov/hopwalk/internal/logging"
	"github.com/ppiankov/hopwalk/internal/metrics"
	"github.com/ppiankov/hopwalk/internal/model"
	"github.com/ppiankov/hopwalk/internal/pipeline"
	"github.com/ppiankov/hopwalk/internal/worker"
)

// runFlags are shared by sample and generate
type runFlags struct {
	out       string
	starts    []string
	startFile string
}

// flagKeys maps command-line flags to config keys
var flagKeys = map[string]string{
	"hops":             "sampler.hops",
	"damping":          "sampler.damping",
	"seed":             "sampler.seed",
	"exclude-property": "sampler.excluded_properties",
	"exclude-item":     "sampler.excluded_items",
	"degree-policy":    "sampler.degree_policy",
	"dead-end":         "sampler.dead_end",
	"max-restarts":     "sampler.max_restarts",
	"mark-all":         "sampler.mark_all_candidates",
	"ambiguity-filter": "sampler.ambiguity_filter",
	"samples":          "batch.samples",
	"workers":          "batch.workers",
	"max-attempts":     "batch.max_attempts",
	"timeout":          "batch.timeout",
	"backend":          "graph.backend",
	"db":               "graph.path",
	"triples":          "graph.triples_file",
	"labels-file":      "graph.labels_file",
	"neo4j-uri":        "graph.uri",
	"neo4j-database":   "graph.database",
	"neo4j-user":       "graph.username",
	"cache":            "cache.enabled",
	"cache-dir":        "cache.disk_dir",
	"format":           "output.format",
	"labels":           "output.labels",
	"metrics-addr":     "metrics.addr",
	"provider":         "llm.provider",
	"model":            "llm.model",
	"judge-model":      "llm.judge_model",
	"base-url":         "llm.base_url",
	"max-tokens":       "llm.max_tokens",
	"rps":              "rate_limiting.requests_per_second",
	"http-proxy":       "llm.http_proxy",
	"https-proxy":      "llm.https_proxy",
	"no-proxy":         "llm.no_proxy",
}

// addRunFlags registers the sampling, graph and output flags
func addRunFlags(cmd *cobra.Command, rf *runFlags) {
	defaults := model.DefaultConfig()
	f := cmd.Flags()

	// Sampler
	f.Int("hops", defaults.Sampler.Hops, "hops per path")
	f.Float64P("damping", "c", defaults.Sampler.Damping, "damping constant c in w = in_degree^-c (0 = uniform)")
	f.Int64("seed", 0, "batch seed (0 = time-based)")
	f.StringSlice("exclude-property", defaults.Sampler.ExcludedProperties, "property ids never sampled")
	f.StringSlice("exclude-item", nil, "item ids never sampled")
	f.String("degree-policy", defaults.Sampler.DegreePolicy, "zero in-degree handling (floor, exclude, reject)")
	f.String("dead-end", defaults.Sampler.DeadEnd, "dead-end policy (partial, restart)")
	f.Int("max-restarts", defaults.Sampler.MaxRestarts, "restarts per walk under --dead-end=restart")
	f.Bool("mark-all", defaults.Sampler.MarkAllCandidates, "mark every candidate target visited after a hop")
	f.Bool("ambiguity-filter", defaults.Sampler.AmbiguityFilter, "skip properties with several targets from the current item")

	// Batch
	f.IntP("samples", "n", defaults.Batch.Samples, "completed samples to collect")
	f.Int("workers", defaults.Batch.Workers, "concurrent walks")
	f.Int("max-attempts", 0, "walk budget (0 = 20 per sample)")
	f.Duration("timeout", defaults.Batch.Timeout, "wall-clock budget for the whole run")
	f.StringSliceVar(&rf.starts, "start", nil, "walk once from each of these item ids instead of random starts")
	f.StringVar(&rf.startFile, "start-file", "", "file with start item ids, one per line")

	// Graph
	f.String("backend", defaults.Graph.Backend, "graph backend (memory, sqlite, neo4j)")
	f.String("db", defaults.Graph.Path, "SQLite database path")
	f.String("triples", "", "triples file for the memory backend (subject<TAB>predicate<TAB>object)")
	f.String("labels-file", "", "labels file for the memory backend (id<TAB>label[<TAB>description])")
	f.String("neo4j-uri", "", "Neo4j bolt URI")
	f.String("neo4j-database", "", "Neo4j database (empty = server default)")
	f.String("neo4j-user", "", "Neo4j username (password from HOPWALK_GRAPH_PASSWORD)")
	f.Bool("cache", defaults.Cache.Enabled, "cache graph lookups")
	f.String("cache-dir", "", "persist cached lookups under this directory")

	// Output
	f.StringVarP(&rf.out, "out", "o", "-", "output file (- = stdout)")
	f.String("format", defaults.Output.Format, "output format (csv, jsonl, prompts)")
	f.Bool("labels", false, "write labels instead of ids in CSV output")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run (e.g. :9090)")
}

// addLLMFlags registers the question generation flags
func addLLMFlags(cmd *cobra.Command) {
	defaults := model.DefaultConfig()
	f := cmd.Flags()

	f.String("provider", "", "LLM provider (openai, azure, anthropic, ollama; default azure)")
	f.String("model", "", "model name, the deployment name for azure (default gpt4-turbo-0125 on azure)")
	f.String("base-url", "", "provider endpoint (overrides the provider's environment variable)")
	f.Int("max-tokens", defaults.LLM.MaxTokens, "maximum tokens per generated question")
	f.Float64("rps", defaults.RateLimiting.RequestsPerSecond, "provider requests per second (0 = unlimited)")
	f.String("http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	f.String("https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
	f.String("no-proxy", "", "hosts that bypass the proxy (overrides NO_PROXY env var)")
}

// bindFlags binds the command's flags to config keys. It runs in PreRunE,
// so commands sharing flag names do not overwrite each other's bindings.
func bindFlags(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = viper.BindPFlag(key, f)
	})
	return bindErr
}

// resolveStarts merges --start and --start-file ids
func resolveStarts(rf *runFlags) ([]string, error) {
	ids := append([]string(nil), rf.starts...)
	if rf.startFile != "" {
		fromFile, err := worker.ReadIDsFromFile(rf.startFile)
		if err != nil {
			return nil, fmt.Errorf("read start file: %w", err)
		}
		ids = append(ids, fromFile...)
	}
	return ids, nil
}

// openOutput returns the destination for samples; "-" and "" mean stdout
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, f.Close, nil
}

// runBatch executes a sampling run with the effective configuration
func runBatch(cmd *cobra.Command, cfg *model.Config, rf *runFlags) error {
	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Batch.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Batch.Timeout)
		defer cancel()
	}

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}

	starts, err := resolveStarts(rf)
	if err != nil {
		return err
	}

	p, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(context.Background()); err != nil {
			logger.Warn("close graph store", "error", err)
		}
	}()

	printBanner(cmd.ErrOrStderr(), cfg, p, len(starts))

	var report *worker.BatchReport
	if len(starts) > 0 {
		report, err = p.RunFrom(ctx, starts)
	} else {
		report, err = p.Run(ctx, cfg.Batch.Samples)
	}
	runErr := err
	if runErr != nil && report == nil {
		return runErr
	}

	// Whatever completed is written, even when the run fell short
	if err := writeReport(cmd, p, report, rf.out); err != nil {
		return err
	}

	printSummary(cmd.ErrOrStderr(), report, rf.out)
	printDiagnostics(cmd.ErrOrStderr(), p.Diagnose(report))
	logErrors(logger, report)

	if errors.Is(runErr, worker.ErrAttemptsExhausted) {
		return fmt.Errorf("%w (try more --max-attempts, fewer --hops or --dead-end=restart)", runErr)
	}
	return runErr
}

// writeReport renders the report's samples to out
func writeReport(cmd *cobra.Command, p *pipeline.Pipeline, report *worker.BatchReport, out string) error {
	w, closeOut, err := openOutput(out, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := p.Render(report, w); err != nil {
		_ = closeOut()
		return fmt.Errorf("write samples: %w", err)
	}
	if err := closeOut(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func printBanner(w io.Writer, cfg *model.Config, p *pipeline.Pipeline, starts int) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  hopwalk\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Graph:      %s\n", cfg.Graph.Backend)
	fmt.Fprintf(w, "  Hops:       %d (c = %g)\n", cfg.Sampler.Hops, cfg.Sampler.Damping)
	if starts > 0 {
		fmt.Fprintf(w, "  Starts:     %d items\n", starts)
	} else {
		fmt.Fprintf(w, "  Samples:    %d\n", cfg.Batch.Samples)
	}
	fmt.Fprintf(w, "  Workers:    %d\n", cfg.Batch.Workers)
	fmt.Fprintf(w, "  Seed:       %d\n", p.Seed())
	if p.Generating() {
		fmt.Fprintf(w, "  LLM:        %s/%s\n", p.ProviderName(), cfg.LLM.Model)
	}
	fmt.Fprintf(w, "\n")
}

func printSummary(w io.Writer, report *worker.BatchReport, out string) {
	if out == "" || out == "-" {
		out = "stdout"
	}
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "  Run Complete\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Run:        %s\n", report.RunID)
	fmt.Fprintf(w, "  Samples:    %d\n", len(report.Samples))
	fmt.Fprintf(w, "  Walks:      %d\n", report.Attempts)
	fmt.Fprintf(w, "  Dead ends:  %d\n", report.DeadEnds)
	fmt.Fprintf(w, "  Failures:   %d\n", len(report.Errors))
	fmt.Fprintf(w, "  Elapsed:    %s\n", report.Elapsed.Round(1e6))
	fmt.Fprintf(w, "  Output:     %s\n", out)
}

func logErrors(logger *slog.Logger, report *worker.BatchReport) {
	for _, err := range report.Errors {
		logger.Warn("walk failed", "run", report.RunID, "error", err)
	}
}

var sampleFlags runFlags

// sampleCmd represents the sample command
var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Sample multi-hop paths without generating questions",
	Long: `Sample draws degree-weighted random walks from the knowledge graph and
writes the completed paths as CSV or JSON lines. Dead ends are discarded and
the run keeps walking until --samples paths complete or the walk budget is
spent.

Example:
  hopwalk sample --backend memory --triples wikidata5m_transductive_train.txt -n 100
  hopwalk sample --db knowledge_graph.db --hops 2 -c 0.3 --seed 42 -o paths.csv
  hopwalk sample --db knowledge_graph.db --start Q42 --start Q76 --labels`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.LLM.Provider = ""
		return runBatch(cmd, cfg, &sampleFlags)
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)
	addRunFlags(sampleCmd, &sampleFlags)
}
