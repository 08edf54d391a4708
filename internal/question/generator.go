// Package question turns sampled paths into natural-language multi-hop questions.
package question

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/hopwalk/internal/llm"
	"github.com/ppiankov/hopwalk/internal/metrics"
	"github.com/ppiankov/hopwalk/internal/model"
)

var (
	// ErrEmptyQuestion is returned when the provider produced no usable question
	ErrEmptyQuestion = errors.New("empty question")

	// ErrEmptyPath is returned for a path without hops
	ErrEmptyPath = errors.New("path has no hops")
)

// DefaultModel is the Azure deployment the question prompt was tuned on
const DefaultModel = "gpt4-turbo-0125"

// Waiter throttles outgoing provider calls per key
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Result is a generated question together with the prompt that produced it
type Result struct {
	Question   string
	Model      string
	Prompt     string
	TokensUsed int
}

const instructions = `
You will be given a starting item and a sequence of relationships, as hops, leading to an answer. You need to convert this information into a question, asking what the final item would be after all of the hops. Only respond with the question, nothing else.

Note that the hops follow, in the sequence:

STARTING ITEM -> hop1 -> hop2 -> ... -> hopn -> FINAL ITEM

Ensure that your question asks about the final items with the proper hop relationship directions and orderings.

For instance, given the starting item: "Barack Obama" and the hops "Born in state", "Capital city", you might respond: "What is the capital of the state which Barack Obama was born in?"

Sample: `

// Describe renders the path as the sample block of the prompt:
// a "Starting item:" line followed by one "Hop i:" line per property.
// The answer item is never included.
func Describe(path model.Path) string {
	lines := make([]string, 0, len(path.Properties)+1)
	lines = append(lines, "Starting item: "+path.Start().Label)
	for i, prop := range path.Properties {
		lines = append(lines, fmt.Sprintf("Hop %d: %s", i+1, prop.Label))
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt constructs the full question-writing prompt for a path
func BuildPrompt(path model.Path) string {
	return instructions + Describe(path)
}

// Generator asks an LLM provider to phrase paths as questions
type Generator struct {
	provider  llm.Provider
	limiter   Waiter
	model     string
	maxTokens int
	logger    *slog.Logger
}

// Option configures a Generator
type Option func(*Generator)

// WithLimiter throttles provider calls, keyed by provider name
func WithLimiter(w Waiter) Option {
	return func(g *Generator) { g.limiter = w }
}

// WithModel overrides the provider's configured model
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

// WithMaxTokens limits the length of the reply
func WithMaxTokens(n int) Option {
	return func(g *Generator) { g.maxTokens = n }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGenerator creates a generator over provider
func NewGenerator(provider llm.Provider, opts ...Option) (*Generator, error) {
	if provider == nil {
		return nil, errors.New("question generation requires an LLM provider")
	}
	g := &Generator{
		provider: provider,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// ProviderName returns the name of the underlying provider
func (g *Generator) ProviderName() string {
	return g.provider.Name()
}

// Generate asks the provider for a question about path.
// Provider failures are returned unchanged in meaning; nothing is retried here.
func (g *Generator) Generate(ctx context.Context, path model.Path) (Result, error) {
	if path.Hops() == 0 {
		return Result{}, ErrEmptyPath
	}

	name := g.provider.Name()
	began := time.Now()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, name); err != nil {
			return Result{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	prompt := BuildPrompt(path)
	resp, err := g.provider.Complete(ctx, llm.CompleteRequest{
		Prompt:    prompt,
		Model:     g.model,
		MaxTokens: g.maxTokens,
	})
	if err == nil && cleanQuestion(resp.Text) == "" {
		err = ErrEmptyQuestion
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		err = fmt.Errorf("%w: %w", ErrEmptyQuestion, err)
	}
	metrics.ObserveGeneration(name, err, time.Since(began))
	if err != nil {
		return Result{}, fmt.Errorf("generate question with %s: %w", name, err)
	}

	q := cleanQuestion(resp.Text)
	g.logger.Debug("generated question",
		"provider", name,
		"model", resp.Model,
		"start", path.Start().ID,
		"answer", path.End().ID,
		"tokens", resp.TokensUsed)

	return Result{
		Question:   q,
		Model:      resp.Model,
		Prompt:     prompt,
		TokensUsed: resp.TokensUsed,
	}, nil
}

// cleanQuestion trims whitespace and a single pair of wrapping quotes
func cleanQuestion(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
