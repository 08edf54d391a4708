package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hopwalk/internal/logging"
	"github.com/ppiankov/hopwalk/internal/model"
	"github.com/ppiankov/hopwalk/internal/output"
	"github.com/ppiankov/hopwalk/internal/pipeline"
	"github.com/ppiankov/hopwalk/internal/worker"
)

var (
	verifyJSON string
	verifyLLM  bool
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <samples.jsonl>",
	Short: "Re-check sampled paths against the graph",
	Long: `Verify reads samples written with --format jsonl and checks every path
against the configured graph: each hop must be a claim in the store, no item
or property may repeat, excluded ids must not appear and, with the ambiguity
filter on, each hop's property must have a single target from its subject.

With --llm, every generated question is also sent to an LLM together with
the label of its answer item. The model judges whether the question is clear,
whether the answer fits it and whether several answers are possible; a
question failing any of these fails verification.

Example:
  hopwalk verify paths.jsonl --db knowledge_graph.db
  hopwalk verify paths.jsonl --backend neo4j --neo4j-uri bolt://localhost:7687 --json checks.json
  hopwalk verify questions.jsonl --db knowledge_graph.db --llm --judge-model gpt-4o`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd)
	},
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	defaults := model.DefaultConfig()
	f := verifyCmd.Flags()
	f.String("backend", defaults.Graph.Backend, "graph backend (memory, sqlite, neo4j)")
	f.String("db", defaults.Graph.Path, "SQLite database path")
	f.String("triples", "", "triples file for the memory backend")
	f.String("labels-file", "", "labels file for the memory backend")
	f.String("neo4j-uri", "", "Neo4j bolt URI")
	f.String("neo4j-database", "", "Neo4j database (empty = server default)")
	f.String("neo4j-user", "", "Neo4j username (password from HOPWALK_GRAPH_PASSWORD)")
	f.StringSlice("exclude-property", defaults.Sampler.ExcludedProperties, "property ids that must not appear")
	f.StringSlice("exclude-item", nil, "item ids that must not appear")
	f.Bool("ambiguity-filter", defaults.Sampler.AmbiguityFilter, "require a single target per hop property")
	f.Int("workers", defaults.Batch.Workers, "concurrent checks")
	f.StringVar(&verifyJSON, "json", "", "write the checks as JSON to this path")
	f.BoolVar(&verifyLLM, "llm", false, "also have an LLM review each generated question")
	f.String("judge-model", "", "model reviewing questions under --llm (default: --model)")
	addLLMFlags(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if verifyLLM {
		applyGenerateDefaults(&cfg.LLM)
	} else {
		cfg.LLM.Provider = ""
	}
	logger := logging.New(cfg.Logging)

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open samples: %w", err)
	}
	samples, err := output.ReadJSONL(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read samples: %w", err)
	}

	ctx := cmd.Context()
	p, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(context.Background()) }()

	checks, err := p.Verify(ctx, samples)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if verifyLLM {
		if err := p.Judge(ctx, samples, checks); err != nil {
			return fmt.Errorf("review questions: %w", err)
		}
	}

	report := &worker.BatchReport{Attempts: len(samples)}
	invalid := 0
	w := cmd.OutOrStdout()
	for i, c := range checks {
		switch {
		case c.Error != "":
			invalid++
			report.Errors = append(report.Errors, errors.New(c.Error))
			fmt.Fprintf(w, "✗ %s: %s\n", c.SampleID, c.Error)
		case !c.Valid:
			invalid++
			fmt.Fprintf(w, "✗ %s: %v\n", c.SampleID, c.Problems)
		default:
			report.Samples = append(report.Samples, samples[i])
			if verbose {
				fmt.Fprintf(w, "✓ %s\n", c.SampleID)
			}
		}
		if c.JudgeError != "" {
			fmt.Fprintf(w, "? %s: review failed: %s\n", c.SampleID, c.JudgeError)
		}
	}

	if verifyJSON != "" {
		if err := writeJSON(verifyJSON, checks); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\n%d of %d paths valid\n", len(checks)-invalid, len(checks))
	printDiagnostics(cmd.ErrOrStderr(), p.Diagnose(report))

	if invalid > 0 {
		return fmt.Errorf("%d of %d paths failed verification", invalid, len(checks))
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write JSON: %w", err)
	}
	return nil
}

func printDiagnostics(w io.Writer, d model.Diagnostics) {
	fmt.Fprintf(w, "  Quality:    %s\n", d.Quality)
	for _, sig := range d.Signals {
		mark := "•"
		switch sig.Severity {
		case model.SeverityWarning:
			mark = "⚠"
		case model.SeverityCritical:
			mark = "✗"
		}
		fmt.Fprintf(w, "    %s %s\n", mark, sig.Description)
	}
	fmt.Fprintf(w, "\n")
}
