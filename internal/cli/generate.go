package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/hopwalk/internal/llm"
	"github.com/ppiankov/hopwalk/internal/logging"
	"github.com/ppiankov/hopwalk/internal/model"
	"github.com/ppiankov/hopwalk/internal/output"
	"github.com/ppiankov/hopwalk/internal/pipeline"
	"github.com/ppiankov/hopwalk/internal/question"
)

const defaultGenerateProvider = "azure"

var (
	generateFlags runFlags
	generateFrom  string
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Sample paths and turn each one into a multi-hop question",
	Long: `Generate samples paths like 'hopwalk sample' and asks an LLM to phrase each
completed path as a question whose answer is the final item. Only the start
item label and the property labels are sent to the model.

With --from, paths are read from a JSON lines file written by an earlier
'hopwalk sample --format jsonl' run instead of being sampled, and no graph
is opened.

Provider credentials come from the environment:
  azure      AZURE_OPENAI_KEY, AZURE_OPENAI_ENDPOINT
  openai     OPENAI_API_KEY
  anthropic  ANTHROPIC_API_KEY
  ollama     OLLAMA_BASE_URL (no key)

Example:
  hopwalk generate --db knowledge_graph.db -n 50 -o questions.csv
  hopwalk generate --provider openai --model gpt-4o-mini --hops 2 --rps 1
  hopwalk generate --provider ollama --model llama3.1 --start-file starts.txt --format jsonl
  hopwalk generate --from paths.jsonl --format jsonl -o questions.jsonl`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyGenerateDefaults(&cfg.LLM)
		if generateFrom != "" {
			return runPhrase(cmd, cfg, generateFrom, generateFlags.out)
		}
		return runBatch(cmd, cfg, &generateFlags)
	},
}

// runPhrase generates questions for the paths in a samples file
func runPhrase(cmd *cobra.Command, cfg *model.Config, from, out string) error {
	logger := logging.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Batch.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Batch.Timeout)
		defer cancel()
	}

	f, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("open samples: %w", err)
	}
	samples, err := output.ReadJSONL(f)
	_ = f.Close()
	if err != nil {
		return fmt.Errorf("read samples: %w", err)
	}

	// CSV columns follow the longest path in the file
	for _, s := range samples {
		cfg.Sampler.Hops = max(cfg.Sampler.Hops, s.Path.Hops())
	}

	p, err := pipeline.OpenDetached(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(context.Background()) }()

	report, runErr := p.Phrase(ctx, samples, from)
	if runErr != nil && report.Attempts == 0 {
		return runErr
	}

	if err := writeReport(cmd, p, report, out); err != nil {
		return err
	}
	printSummary(cmd.ErrOrStderr(), report, out)
	printDiagnostics(cmd.ErrOrStderr(), p.Diagnose(report))
	logErrors(logger, report)

	if runErr == nil && len(report.Errors) > 0 {
		return fmt.Errorf("%d of %d paths could not be phrased", len(report.Errors), report.Attempts-report.DeadEnds)
	}
	return runErr
}

// applyGenerateDefaults fills in the Azure deployment the question prompt was tuned on
func applyGenerateDefaults(cfg *model.LLMConfig) {
	if cfg.Provider == "" {
		cfg.Provider = defaultGenerateProvider
	}
	if cfg.Model == "" && isAzure(cfg.Provider) {
		cfg.Model = question.DefaultModel
	}
	if cfg.APIVersion == "" && isAzure(cfg.Provider) {
		cfg.APIVersion = llm.DefaultAzureAPIVersion
	}
}

func isAzure(provider string) bool {
	p := strings.ToLower(provider)
	return p == "azure" || p == "azure-openai"
}

func init() {
	rootCmd.AddCommand(generateCmd)
	addRunFlags(generateCmd, &generateFlags)
	addLLMFlags(generateCmd)
	generateCmd.Flags().StringVar(&generateFrom, "from", "", "phrase the paths in this samples file (JSON lines) instead of sampling")
}
