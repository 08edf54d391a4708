package validate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ppiankov/hopwalk/internal/llm"
	"github.com/ppiankov/hopwalk/internal/model"
	"github.com/ppiankov/hopwalk/internal/question"
)

const judgeMaxTokens = 400

// ErrNoVerdict is returned when the reply holds no decodable verdict
var ErrNoVerdict = errors.New("no verdict in reply")

const verificationPrompt = `
**Prompt Adequacy Verification Test**

**Objective:** Ensure the question is coherent and the provided answer is suitable and relevant.

**Instructions:**

1. **Read the Question:**
   - Is the question logical and clear?
   - Is it unambiguous?
   - Can it have multiple valid answers?

2. **Read the Answer:**
   - Does the answer directly address the question?

3. **Evaluate the Question and Answer Pair:**
   - Does the answer meet the informational needs of the question?
   - Is it free from irrelevant information?

**Example:**

**Question:** What is the capital of the administrative territorial entity that Kul Mishan is a part of?

**Expected Answer Characteristics:**
   - The answer should be a capital city.
   - It should correspond to the entity that Kul Mishan is part of.

**Sample Answer Evaluations:**
   - **"Ardal."** - Suitable, addresses the question.
   - **"Tehran."** - Suitable if Tehran is the correct capital.
   - **"Iran."** - Unsuitable, does not specify a capital city.
   - **"Kul Mishan is in Ardal."** - Suitable but less direct.

**Sample Multiple Answer Evaluations:**
   - **"What is the capital city of Washington?"** - Cannot have multiple answers (false).
   - **"Where did Barack Obama study?"** - Can have multiple answers (true).

**Verification Checklist:**

- [ ] The question is logical and clear.
- [ ] The answer directly addresses the question and meets its informational needs.
- [ ] The answer is free from irrelevant information.
- [ ] The question can/cannot have multiple valid answers.

**Response Format:**
Provide your evaluation in the following JSON format:
- "question_valid": true/false
- "answer_relevance": true/false
- "multiple_answers_possible": true/false
- "comments": "Your comments here"

**Question and Answer to Evaluate:**

**Question:** %s

**Answer:** %s
`

// BuildVerificationPrompt asks a model to review a question against its answer
func BuildVerificationPrompt(q, answer string) string {
	return fmt.Sprintf(verificationPrompt, q, answer)
}

// Judge asks an LLM whether generated questions are clear and uniquely answered
// by the final item of their path
type Judge struct {
	provider   llm.Provider
	limiter    question.Waiter
	model      string
	maxTokens  int
	maxWorkers int
	logger     *slog.Logger
}

// JudgeOption configures a Judge
type JudgeOption func(*Judge)

// WithJudgeLimiter throttles provider calls, keyed by provider name
func WithJudgeLimiter(w question.Waiter) JudgeOption {
	return func(j *Judge) { j.limiter = w }
}

// WithJudgeModel overrides the provider's configured model
func WithJudgeModel(model string) JudgeOption {
	return func(j *Judge) { j.model = model }
}

// WithJudgeWorkers bounds concurrent reviews
func WithJudgeWorkers(n int) JudgeOption {
	return func(j *Judge) {
		if n > 0 {
			j.maxWorkers = n
		}
	}
}

// WithJudgeLogger sets the logger
func WithJudgeLogger(logger *slog.Logger) JudgeOption {
	return func(j *Judge) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// NewJudge creates a judge over provider
func NewJudge(provider llm.Provider, opts ...JudgeOption) (*Judge, error) {
	if provider == nil {
		return nil, errors.New("question review requires an LLM provider")
	}
	j := &Judge{
		provider:   provider,
		maxTokens:  judgeMaxTokens,
		maxWorkers: 4,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Judge reviews one sample's question. The answer shown to the model is the
// label of the path's final item.
func (j *Judge) Judge(ctx context.Context, s model.Sample) (model.Verdict, error) {
	if strings.TrimSpace(s.Question) == "" {
		return model.Verdict{}, fmt.Errorf("sample %s: %w", s.ID, question.ErrEmptyQuestion)
	}
	answer := s.Path.End().Label
	if answer == "" {
		answer = s.Path.End().ID
	}

	name := j.provider.Name()
	if j.limiter != nil {
		if err := j.limiter.Wait(ctx, name); err != nil {
			return model.Verdict{}, fmt.Errorf("rate limit: %w", err)
		}
	}

	resp, err := j.provider.Complete(ctx, llm.CompleteRequest{
		Prompt:    BuildVerificationPrompt(s.Question, answer),
		Model:     j.model,
		MaxTokens: j.maxTokens,
	})
	if err != nil {
		return model.Verdict{}, fmt.Errorf("review with %s: %w", name, err)
	}

	v, err := ParseVerdict(resp.Text)
	if err != nil {
		return model.Verdict{}, fmt.Errorf("review with %s: %w", name, err)
	}
	j.logger.Debug("reviewed question",
		"sample", s.ID,
		"model", resp.Model,
		"accepted", v.Accepted())
	return v, nil
}

// Review judges every sample with a question and records the verdicts on the
// matching checks. A rejected question makes its check invalid; a failed
// review is recorded in JudgeError and leaves the check as it was.
func (j *Judge) Review(ctx context.Context, samples []model.Sample, checks []model.PathCheck) error {
	if len(samples) != len(checks) {
		return fmt.Errorf("%d samples for %d checks", len(samples), len(checks))
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, j.maxWorkers)

	for i := range samples {
		if checks[i].Error != "" || samples[i].Question == "" {
			continue
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				checks[idx].JudgeError = "context cancelled"
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			v, err := j.Judge(ctx, samples[idx])
			if err != nil {
				checks[idx].JudgeError = err.Error()
				j.logger.Warn("question review failed", "sample", samples[idx].ID, "error", err)
				return
			}
			applyVerdict(&checks[idx], v)
		}(i)
	}

	wg.Wait()
	return ctx.Err()
}

func applyVerdict(c *model.PathCheck, v model.Verdict) {
	c.Verdict = &v
	if !v.QuestionValid {
		c.Problems = append(c.Problems, "question judged unclear: "+v.Comments)
	}
	if !v.AnswerRelevance {
		c.Problems = append(c.Problems, "answer judged irrelevant: "+v.Comments)
	}
	if v.MultipleAnswersPossible {
		c.Problems = append(c.Problems, "question judged to have several answers: "+v.Comments)
	}
	c.Valid = c.Valid && v.Accepted()
}

// ParseVerdict decodes the first JSON object in reply. Models often wrap it in
// prose or a code fence.
func ParseVerdict(reply string) (model.Verdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return model.Verdict{}, ErrNoVerdict
	}

	var raw struct {
		QuestionValid           *bool  `json:"question_valid"`
		AnswerRelevance         *bool  `json:"answer_relevance"`
		MultipleAnswersPossible *bool  `json:"multiple_answers_possible"`
		Comments                string `json:"comments"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %w", ErrNoVerdict, err)
	}
	if raw.QuestionValid == nil || raw.AnswerRelevance == nil {
		return model.Verdict{}, fmt.Errorf("%w: missing question_valid or answer_relevance", ErrNoVerdict)
	}

	v := model.Verdict{
		QuestionValid:   *raw.QuestionValid,
		AnswerRelevance: *raw.AnswerRelevance,
		Comments:        strings.TrimSpace(raw.Comments),
	}
	if raw.MultipleAnswersPossible != nil {
		v.MultipleAnswersPossible = *raw.MultipleAnswersPossible
	}
	return v, nil
}
