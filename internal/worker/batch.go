package worker

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/hopwalk/internal/metrics"
	"github.com/ppiankov/hopwalk/internal/model"
	"github.com/ppiankov/hopwalk/internal/question"
)

// ErrAttemptsExhausted is returned by Collect when the walk budget ran out
// before enough paths completed
var ErrAttemptsExhausted = errors.New("walk attempts exhausted")

// Walker defines the interface for sampling a single path
type Walker interface {
	Sample(ctx context.Context, r *rand.Rand) (model.Path, model.Status, error)
	SampleFrom(ctx context.Context, r *rand.Rand, start model.Item) (model.Path, model.Status, error)
}

// QuestionGenerator turns a completed path into a question
type QuestionGenerator interface {
	Generate(ctx context.Context, path model.Path) (question.Result, error)
}

// SampleJob is one walk, optionally followed by question generation
type SampleJob struct {
	Attempt   int
	Seed      int64
	Start     *model.Item // nil draws a random start item
	Walker    Walker
	Generator QuestionGenerator // nil skips generation
}

// Rand returns the job's private RNG, derived from the batch seed and attempt index
func (j *SampleJob) Rand() *rand.Rand {
	return rand.New(rand.NewPCG(uint64(j.Seed), uint64(j.Attempt)))
}

// Execute executes the sample job
func (j *SampleJob) Execute(ctx context.Context) Result {
	r := j.Rand()
	began := time.Now()

	var (
		path   model.Path
		status model.Status
		err    error
	)
	if j.Start != nil {
		path, status, err = j.Walker.SampleFrom(ctx, r, *j.Start)
	} else {
		path, status, err = j.Walker.Sample(ctx, r)
	}

	result := &SampleResult{
		Sample: model.Sample{
			ID:      uuid.NewString(),
			Path:    path,
			Status:  status,
			Attempt: j.Attempt,
		},
		order: j.Attempt,
	}

	if err != nil {
		metrics.ObserveWalk("error", path.Hops(), time.Since(began))
		result.Error = fmt.Errorf("walk %d: %w", j.Attempt, err)
		return result
	}
	metrics.ObserveWalk(string(status), path.Hops(), time.Since(began))

	if status != model.StatusOK || j.Generator == nil {
		return result
	}

	q, err := j.Generator.Generate(ctx, path)
	if err != nil {
		result.Error = fmt.Errorf("walk %d: %w", j.Attempt, err)
		return result
	}
	result.Sample.Question = q.Question
	result.Sample.Model = q.Model

	return result
}

// QuestionJob phrases a path sampled by an earlier run
type QuestionJob struct {
	Index     int // Position in the input, results are returned in this order
	Sample    model.Sample
	Generator QuestionGenerator
}

// Execute executes the question job
func (j *QuestionJob) Execute(ctx context.Context) Result {
	result := &SampleResult{Sample: j.Sample, order: j.Index}

	q, err := j.Generator.Generate(ctx, j.Sample.Path)
	if err != nil {
		result.Error = fmt.Errorf("sample %s: %w", j.Sample.ID, err)
		return result
	}
	result.Sample.Question = q.Question
	result.Sample.Model = q.Model
	return result
}

// SampleResult represents the result of a sample or question job
type SampleResult struct {
	Sample model.Sample
	Error  error
	order  int
}

// GetError returns the error from the sample result
func (r *SampleResult) GetError() error {
	return r.Error
}

// OK reports whether the walk completed every hop without error
func (r *SampleResult) OK() bool {
	return r.Error == nil && r.Sample.Status == model.StatusOK
}

// BatchReport summarizes a Collect run
type BatchReport struct {
	RunID    string
	Source   string         // Samples file the run read from, empty for sampled runs
	Samples  []model.Sample // Completed samples, ordered by attempt
	Attempts int            // Walks started
	DeadEnds int
	Errors   []error // Store and generation failures, one per failed walk
	Elapsed  time.Duration
}

// BatchProcessor runs walks concurrently until enough paths complete
type BatchProcessor struct {
	walker      Walker
	generator   QuestionGenerator
	concurrency int
	maxAttempts int
	seed        int64
	logger      *slog.Logger
}

// NewBatchProcessor creates a new batch processor.
// A zero maxAttempts allows 20 walks per requested sample.
func NewBatchProcessor(walker Walker, concurrency, maxAttempts int, seed int64) *BatchProcessor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchProcessor{
		walker:      walker,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		seed:        seed,
		logger:      slog.New(slog.DiscardHandler),
	}
}

// WithGenerator enables question generation for completed paths
func (b *BatchProcessor) WithGenerator(g QuestionGenerator) *BatchProcessor {
	b.generator = g
	return b
}

// WithLogger sets the logger for progress and dead-end reporting
func (b *BatchProcessor) WithLogger(logger *slog.Logger) *BatchProcessor {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// Collect walks in rounds until n paths complete or the attempt budget is spent.
//
// Dead ends are counted and discarded. A failed walk is recorded in the report
// and never cancels the others. Results are ordered by attempt index, so a
// fixed seed over a deterministic store yields the same samples every run.
func (b *BatchProcessor) Collect(ctx context.Context, n int) (*BatchReport, error) {
	report := &BatchReport{RunID: uuid.NewString()}
	began := time.Now()
	defer func() { report.Elapsed = time.Since(began) }()

	if n <= 0 {
		return report, nil
	}

	budget := b.maxAttempts
	if budget <= 0 {
		budget = 20 * n
	}

	for len(report.Samples) < n && report.Attempts < budget {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		need := n - len(report.Samples)
		round := min(max(need, b.concurrency), budget-report.Attempts)

		jobs := make([]Job, round)
		for i := range jobs {
			jobs[i] = &SampleJob{
				Attempt:   report.Attempts + i,
				Seed:      b.seed,
				Walker:    b.walker,
				Generator: b.generator,
			}
		}
		results := b.run(ctx, jobs)
		report.Attempts += round

		for _, res := range results {
			switch {
			case res.Error != nil:
				report.Errors = append(report.Errors, res.Error)
				b.logger.Warn("walk failed", "attempt", res.Sample.Attempt, "error", res.Error)
			case res.Sample.Status == model.StatusDeadEnd:
				report.DeadEnds++
				b.logger.Debug("walk dead end",
					"attempt", res.Sample.Attempt,
					"hops", res.Sample.Path.Hops(),
					"start", res.Sample.Path.Start().ID)
			case len(report.Samples) < n:
				report.Samples = append(report.Samples, res.Sample)
			}
		}

		b.logger.Info("batch round finished",
			"run", report.RunID,
			"collected", len(report.Samples),
			"wanted", n,
			"attempts", report.Attempts,
			"dead_ends", report.DeadEnds,
			"errors", len(report.Errors))
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(report.Samples) < n {
		return report, fmt.Errorf("collected %d of %d samples in %d walks: %w",
			len(report.Samples), n, report.Attempts, ErrAttemptsExhausted)
	}
	return report, nil
}

// ProcessStarts runs one walk from each start item, in input order
func (b *BatchProcessor) ProcessStarts(ctx context.Context, starts []model.Item) []*SampleResult {
	if len(starts) == 0 {
		return []*SampleResult{}
	}

	jobs := make([]Job, len(starts))
	for i := range starts {
		jobs[i] = &SampleJob{
			Attempt:   i,
			Seed:      b.seed,
			Start:     &starts[i],
			Walker:    b.walker,
			Generator: b.generator,
		}
	}
	return b.run(ctx, jobs)
}

// PhraseSamples generates a question for each sample's path, in input order.
// It needs a generator; see WithGenerator.
func (b *BatchProcessor) PhraseSamples(ctx context.Context, samples []model.Sample) ([]*SampleResult, error) {
	if b.generator == nil {
		return nil, errors.New("phrasing samples requires a question generator")
	}
	jobs := make([]Job, len(samples))
	for i := range samples {
		jobs[i] = &QuestionJob{Index: i, Sample: samples[i], Generator: b.generator}
	}
	return b.run(ctx, jobs), nil
}

// run executes jobs on a fresh pool and returns their results in job order
func (b *BatchProcessor) run(ctx context.Context, jobs []Job) []*SampleResult {
	if len(jobs) == 0 {
		return []*SampleResult{}
	}
	pool := NewPoolWithContext(ctx, b.concurrency)
	pool.Start()

	for _, job := range jobs {
		if !pool.Submit(job) {
			break
		}
	}

	results := pool.Wait()

	sampleResults := make([]*SampleResult, len(results))
	for i, result := range results {
		sampleResults[i] = result.(*SampleResult)
	}
	slices.SortFunc(sampleResults, func(x, y *SampleResult) int {
		return cmp.Compare(x.order, y.order)
	})

	return sampleResults
}

// ReadIDsFromFile reads item ids from a file (one per line).
// Blank lines and '#' comments are skipped and duplicates dropped.
func ReadIDsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var ids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !seen[line] {
			seen[line] = true
			ids = append(ids, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return ids, nil
}
