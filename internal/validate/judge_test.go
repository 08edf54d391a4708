package validate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ppiankov/hopwalk/internal/llm"
	"github.com/ppiankov/hopwalk/internal/model"
)

// ollamaJudge serves /api/generate and answers each review by question text
func ollamaJudge(t *testing.T, replies map[string]string) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu      sync.Mutex
		prompts []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		prompts = append(prompts, req.Prompt)
		mu.Unlock()

		reply := `{"question_valid": true, "answer_relevance": true, "multiple_answers_possible": false, "comments": "fine"}`
		for q, r := range replies {
			if strings.Contains(req.Prompt, "**Question:** "+q) {
				reply = r
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "response": reply, "done": true})
	}))
	t.Cleanup(server.Close)
	return server, &prompts
}

func newOllamaJudge(t *testing.T, url string, opts ...JudgeOption) *Judge {
	t.Helper()
	provider, err := llm.NewOllamaProvider(llm.Config{BaseURL: url, Model: "mistral", Timeout: 5})
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	j, err := NewJudge(provider, opts...)
	if err != nil {
		t.Fatalf("NewJudge failed: %v", err)
	}
	return j
}

func judgedSample(id, question, answer string) model.Sample {
	return model.Sample{
		ID:       id,
		Status:   model.StatusOK,
		Question: question,
		Path: model.Path{
			Items:      []model.Item{{ID: "Q76", Label: "Barack Obama"}, {ID: "Q9", Label: answer}},
			Properties: []model.Property{{ID: "P69", Label: "educated at"}},
		},
	}
}

func TestBuildVerificationPrompt(t *testing.T) {
	p := BuildVerificationPrompt("What is the capital of Hawaii?", "Honolulu")
	for _, want := range []string{
		"**Question:** What is the capital of Hawaii?",
		"**Answer:** Honolulu",
		`"multiple_answers_possible": true/false`,
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt is missing %q", want)
		}
	}
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  model.Verdict
	}{
		{
			name:  "bare object",
			reply: `{"question_valid": true, "answer_relevance": true, "multiple_answers_possible": false, "comments": " clear "}`,
			want:  model.Verdict{QuestionValid: true, AnswerRelevance: true, Comments: "clear"},
		},
		{
			name:  "fenced with prose",
			reply: "Here is my evaluation:\n```json\n{\"question_valid\": false, \"answer_relevance\": true, \"multiple_answers_possible\": true, \"comments\": \"vague\"}\n```",
			want:  model.Verdict{AnswerRelevance: true, MultipleAnswersPossible: true, Comments: "vague"},
		},
		{
			name:  "older format without multiple answers",
			reply: `{"question_valid": true, "answer_relevance": false, "comments": ""}`,
			want:  model.Verdict{QuestionValid: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.reply)
			if err != nil {
				t.Fatalf("ParseVerdict failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseVerdict_Invalid(t *testing.T) {
	for _, reply := range []string{
		"The question is fine.",
		`{"question_valid": "yes"}`,
		`{"comments": "no flags"}`,
		`} backwards {`,
	} {
		if _, err := ParseVerdict(reply); !errors.Is(err, ErrNoVerdict) {
			t.Errorf("ParseVerdict(%q): expected ErrNoVerdict, got %v", reply, err)
		}
	}
}

func TestJudge_Judge(t *testing.T) {
	server, prompts := ollamaJudge(t, map[string]string{
		"Where did Barack Obama study?": `{"question_valid": true, "answer_relevance": true, "multiple_answers_possible": true, "comments": "he attended several schools"}`,
	})
	j := newOllamaJudge(t, server.URL)

	v, err := j.Judge(context.Background(), judgedSample("s1", "Where did Barack Obama study?", "Columbia University"))
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if !v.MultipleAnswersPossible || v.Accepted() {
		t.Errorf("expected a rejected verdict with several answers, got %+v", v)
	}
	if len(*prompts) != 1 || !strings.Contains((*prompts)[0], "**Answer:** Columbia University") {
		t.Errorf("expected the final item label as the answer, got %v", *prompts)
	}

	if _, err := j.Judge(context.Background(), judgedSample("s2", "  ", "x")); err == nil {
		t.Error("expected an error for a sample without a question")
	}
}

type keyRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (k *keyRecorder) Wait(ctx context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys = append(k.keys, key)
	return nil
}

func TestJudge_Review(t *testing.T) {
	server, prompts := ollamaJudge(t, map[string]string{
		"Where did Barack Obama study?": `{"question_valid": true, "answer_relevance": true, "multiple_answers_possible": true, "comments": "several schools"}`,
		"Who?":                          `{"question_valid": false, "answer_relevance": false, "multiple_answers_possible": false, "comments": "incomplete"}`,
		"Broken?":                       `I cannot evaluate this.`,
	})
	limiter := &keyRecorder{}
	j := newOllamaJudge(t, server.URL, WithJudgeLimiter(limiter), WithJudgeWorkers(2), WithJudgeModel("mistral-large"))

	samples := []model.Sample{
		judgedSample("ok", "Which university did Barack Obama graduate from in 1983?", "Columbia University"),
		judgedSample("multi", "Where did Barack Obama study?", "Columbia University"),
		judgedSample("bad", "Who?", "Columbia University"),
		judgedSample("broken", "Broken?", "Columbia University"),
		judgedSample("unphrased", "", "Columbia University"),
		judgedSample("unchecked", "Where?", "Columbia University"),
	}
	checks := []model.PathCheck{
		{SampleID: "ok", Valid: true},
		{SampleID: "multi", Valid: true},
		{SampleID: "bad", Valid: true},
		{SampleID: "broken", Valid: true},
		{SampleID: "unphrased", Valid: true},
		{SampleID: "unchecked", Error: "connection reset"},
	}

	if err := j.Review(context.Background(), samples, checks); err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	if !checks[0].Valid || checks[0].Verdict == nil || !checks[0].Verdict.Accepted() {
		t.Errorf("expected accepted question, got %+v", checks[0])
	}
	if checks[1].Valid || len(checks[1].Problems) != 1 || !strings.Contains(checks[1].Problems[0], "several answers") {
		t.Errorf("expected several-answers problem, got %+v", checks[1])
	}
	if checks[2].Valid || len(checks[2].Problems) != 2 {
		t.Errorf("expected unclear and irrelevant problems, got %+v", checks[2])
	}
	if !checks[3].Valid || checks[3].Verdict != nil || !strings.Contains(checks[3].JudgeError, ErrNoVerdict.Error()) {
		t.Errorf("expected a failed review to leave the check valid with a judge error, got %+v", checks[3])
	}
	if checks[4].Verdict != nil || checks[4].JudgeError != "" {
		t.Errorf("expected samples without a question to be skipped, got %+v", checks[4])
	}
	if checks[5].Verdict != nil || checks[5].JudgeError != "" {
		t.Errorf("expected unchecked paths to be skipped, got %+v", checks[5])
	}

	if len(*prompts) != 4 {
		t.Errorf("expected 4 reviews, got %d", len(*prompts))
	}
	if len(limiter.keys) != 4 || limiter.keys[0] != "ollama" {
		t.Errorf("expected 4 waits keyed by provider name, got %v", limiter.keys)
	}
}

func TestJudge_Review_LengthMismatch(t *testing.T) {
	server, _ := ollamaJudge(t, nil)
	j := newOllamaJudge(t, server.URL)
	if err := j.Review(context.Background(), []model.Sample{{ID: "a"}}, nil); err == nil {
		t.Error("expected an error when samples and checks differ in length")
	}
}

func TestNewJudge_NilProvider(t *testing.T) {
	if _, err := NewJudge(nil); err == nil {
		t.Error("expected an error for a nil provider")
	}
}
