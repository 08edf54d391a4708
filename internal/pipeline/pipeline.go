package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/hopwalk/internal/graph"
	"github.com/ppiankov/hopwalk/internal/llm"
	"github.com/ppiankov/hopwalk/internal/model"
	"github.com/ppiankov/hopwalk/internal/output"
	"github.com/ppiankov/hopwalk/internal/question"
	"github.com/ppiankov/hopwalk/internal/sampler"
	"github.com/ppiankov/hopwalk/internal/score"
	"github.com/ppiankov/hopwalk/internal/validate"
	"github.com/ppiankov/hopwalk/internal/worker"
)

// Pipeline wires a graph store, the walker, the optional question generator
// and the batch processor for one run
type Pipeline struct {
	store     graph.Store
	walker    *sampler.Walker
	generator *question.Generator // nil if generation is disabled
	judge     *validate.Judge     // nil if generation is disabled
	processor *worker.BatchProcessor
	config    *model.Config
	seed      int64
	logger    *slog.Logger
}

// Open opens the configured graph store and builds a pipeline over it.
// The LLM provider is created from cfg.LLM; an empty provider disables generation.
func Open(ctx context.Context, cfg *model.Config, logger *slog.Logger) (*Pipeline, error) {
	store, err := graph.Open(ctx, cfg.Graph, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open graph: %w", err)
	}

	provider, err := llm.NewProvider(llm.ApplyEnv(llm.ConfigFromModel(cfg.LLM)))
	if err != nil {
		_ = graph.CloseStore(ctx, store)
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}

	p, err := New(store, cfg, provider, logger)
	if err != nil {
		_ = graph.CloseStore(ctx, store)
		return nil, err
	}
	return p, nil
}

// OpenDetached builds a pipeline for samples already on disk. It opens no
// graph store, so walks and verification see an empty graph.
func OpenDetached(cfg *model.Config, logger *slog.Logger) (*Pipeline, error) {
	provider, err := llm.NewProvider(llm.ApplyEnv(llm.ConfigFromModel(cfg.LLM)))
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	return New(graph.NewMemoryStore(), cfg, provider, logger)
}

// New builds a pipeline over an already opened store. provider may be nil.
func New(store graph.Store, cfg *model.Config, provider llm.Provider, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts, err := sampler.OptionsFromConfig(cfg.Sampler)
	if err != nil {
		return nil, fmt.Errorf("sampler config: %w", err)
	}
	opts.Logger = logger

	walker, err := sampler.NewWalker(store, opts)
	if err != nil {
		return nil, fmt.Errorf("create walker: %w", err)
	}

	seed := cfg.Sampler.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &Pipeline{
		store:  store,
		walker: walker,
		config: cfg,
		seed:   seed,
		logger: logger,
	}

	p.processor = worker.NewBatchProcessor(walker, cfg.Batch.Workers, cfg.Batch.MaxAttempts, seed).
		WithLogger(logger)

	if provider != nil {
		limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
		for name, rps := range cfg.RateLimiting.ProviderRates {
			limiter.SetKeyRate(name, rps, cfg.RateLimiting.BurstSize)
		}
		retrying := llm.WithRetry(provider, 0, logger)
		generator, err := question.NewGenerator(retrying,
			question.WithLimiter(limiter),
			question.WithModel(cfg.LLM.Model),
			question.WithMaxTokens(cfg.LLM.MaxTokens),
			question.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("create question generator: %w", err)
		}
		p.generator = generator
		p.processor.WithGenerator(generator)

		judgeModel := cfg.LLM.JudgeModel
		if judgeModel == "" {
			judgeModel = cfg.LLM.Model
		}
		judge, err := validate.NewJudge(retrying,
			validate.WithJudgeLimiter(limiter),
			validate.WithJudgeModel(judgeModel),
			validate.WithJudgeWorkers(cfg.Batch.Workers),
			validate.WithJudgeLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("create question judge: %w", err)
		}
		p.judge = judge
	}

	return p, nil
}

// Seed returns the batch seed in effect, so a run can be reproduced
func (p *Pipeline) Seed() int64 {
	return p.seed
}

// Generating reports whether completed paths are turned into questions
func (p *Pipeline) Generating() bool {
	return p.generator != nil
}

// ProviderName returns the LLM provider questions are sent to, or "" when generation is disabled
func (p *Pipeline) ProviderName() string {
	if p.generator == nil {
		return ""
	}
	return p.generator.ProviderName()
}

// Run collects n completed samples.
// A partial report is returned together with ErrAttemptsExhausted or a context error.
func (p *Pipeline) Run(ctx context.Context, n int) (*worker.BatchReport, error) {
	p.logger.Info("starting batch",
		"samples", n,
		"hops", p.config.Sampler.Hops,
		"damping", p.config.Sampler.Damping,
		"workers", p.config.Batch.Workers,
		"seed", p.seed,
		"generate", p.Generating())

	return p.processor.Collect(ctx, n)
}

// RunFrom walks once from each given start item id, in order.
// Unknown ids and failed walks are reported in Errors; dead ends are counted and dropped.
func (p *Pipeline) RunFrom(ctx context.Context, ids []string) (*worker.BatchReport, error) {
	report := &worker.BatchReport{RunID: uuid.NewString()}
	began := time.Now()
	defer func() { report.Elapsed = time.Since(began) }()

	starts := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		item, err := p.store.GetItem(ctx, id)
		if err != nil {
			if errors.Is(err, graph.ErrNotFound) {
				report.Errors = append(report.Errors, fmt.Errorf("start item %s: %w", id, err))
				continue
			}
			return report, fmt.Errorf("resolve start item %s: %w", id, err)
		}
		starts = append(starts, item)
	}

	for _, res := range p.processor.ProcessStarts(ctx, starts) {
		report.Attempts++
		switch {
		case res.Error != nil:
			report.Errors = append(report.Errors, res.Error)
		case res.Sample.Status == model.StatusDeadEnd:
			report.DeadEnds++
			p.logger.Debug("walk dead end", "start", res.Sample.Path.Start().ID, "hops", res.Sample.Path.Hops())
		default:
			report.Samples = append(report.Samples, res.Sample)
		}
	}

	return report, ctx.Err()
}

// Phrase generates questions for samples read from source, an earlier run's
// JSON lines. Dead ends are counted and skipped; failed generations are reported in Errors.
func (p *Pipeline) Phrase(ctx context.Context, samples []model.Sample, source string) (*worker.BatchReport, error) {
	report := &worker.BatchReport{RunID: uuid.NewString(), Source: source}
	began := time.Now()
	defer func() { report.Elapsed = time.Since(began) }()

	if p.generator == nil {
		return report, errors.New("phrasing samples requires an LLM provider")
	}

	paths := make([]model.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Status == model.StatusDeadEnd || s.Path.Hops() == 0 {
			report.DeadEnds++
			continue
		}
		paths = append(paths, s)
	}
	report.Attempts = len(samples)

	p.logger.Info("phrasing samples",
		"source", source,
		"samples", len(paths),
		"skipped", report.DeadEnds,
		"provider", p.ProviderName())

	results, err := p.processor.PhraseSamples(ctx, paths)
	if err != nil {
		return report, err
	}
	for _, res := range results {
		if res.Error != nil {
			report.Errors = append(report.Errors, res.Error)
			continue
		}
		report.Samples = append(report.Samples, res.Sample)
	}
	return report, ctx.Err()
}

// Render writes the report's samples to w in the configured format
func (p *Pipeline) Render(report *worker.BatchReport, w io.Writer) error {
	promptModel := p.config.LLM.Model
	if promptModel == "" {
		promptModel = question.DefaultModel
	}
	writer, err := output.NewWriter(w, p.config.Output.Format, output.Options{
		Hops:   p.config.Sampler.Hops,
		Labels: p.config.Output.Labels,
		Model:  promptModel,
		Source: report.Source,
	})
	if err != nil {
		return err
	}
	return output.WriteAll(writer, report.Samples)
}

// Diagnose scores the report as a dataset
func (p *Pipeline) Diagnose(report *worker.BatchReport) model.Diagnostics {
	return score.NewScorer().Calculate(score.Batch{
		Samples:  report.Samples,
		Attempts: report.Attempts,
		DeadEnds: report.DeadEnds,
		Failures: len(report.Errors),
	})
}

// Verify re-checks samples against the store with the walker's exclusions and ambiguity rule
func (p *Pipeline) Verify(ctx context.Context, samples []model.Sample) ([]model.PathCheck, error) {
	v := validate.NewValidator(p.store, p.config.Batch.Workers, p.walker.Options())
	return v.Validate(ctx, samples)
}

// Judge asks the LLM to review each sample's question and records the
// verdicts on checks, which must line up with samples
func (p *Pipeline) Judge(ctx context.Context, samples []model.Sample, checks []model.PathCheck) error {
	if p.judge == nil {
		return errors.New("reviewing questions requires an LLM provider")
	}
	return p.judge.Review(ctx, samples, checks)
}

// Close releases the graph store
func (p *Pipeline) Close(ctx context.Context) error {
	return graph.CloseStore(ctx, p.store)
}
