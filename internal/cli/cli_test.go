package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/hopwalk/internal/llm"
	"github.com/ppiankov/hopwalk/internal/model"
	"github.com/ppiankov/hopwalk/internal/output"
	"github.com/ppiankov/hopwalk/internal/question"
)

func writeRing(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "Q%d\tP1\tQ%d\n", i, i%n+1)
		fmt.Fprintf(&b, "Q%d\tP2\tQ%d\n", i, (i+1)%n+1)
	}
	path := filepath.Join(t.TempDir(), "triples.tsv")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write triples: %v", err)
	}
	return path
}

func TestRegisterDefaults_EnvOverride(t *testing.T) {
	t.Setenv("HOPWALK_SAMPLER_HOPS", "5")
	t.Setenv("HOPWALK_BATCH_TIMEOUT", "90s")
	t.Setenv("HOPWALK_LLM_API_KEY", "secret")

	v := viper.New()
	v.SetEnvPrefix("HOPWALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := registerDefaults(v, model.DefaultConfig()); err != nil {
		t.Fatalf("registerDefaults failed: %v", err)
	}

	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if cfg.Sampler.Hops != 5 {
		t.Errorf("Expected hops from env, got %d", cfg.Sampler.Hops)
	}
	if cfg.Batch.Timeout != 90*time.Second {
		t.Errorf("Expected timeout from env, got %v", cfg.Batch.Timeout)
	}
	if cfg.LLM.APIKey != "secret" {
		t.Errorf("Expected api key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Sampler.Damping != 0.3 {
		t.Errorf("Expected default damping, got %v", cfg.Sampler.Damping)
	}
	if len(cfg.Sampler.ExcludedProperties) != len(model.DefaultExcludedProperties) {
		t.Errorf("Expected default exclusions, got %v", cfg.Sampler.ExcludedProperties)
	}
}

func TestApplyGenerateDefaults(t *testing.T) {
	cfg := model.LLMConfig{}
	applyGenerateDefaults(&cfg)
	if cfg.Provider != "azure" || cfg.Model != "gpt4-turbo-0125" || cfg.APIVersion != llm.DefaultAzureAPIVersion {
		t.Errorf("Unexpected azure defaults: %+v", cfg)
	}

	cfg = model.LLMConfig{Provider: "ollama", Model: "llama3.1"}
	applyGenerateDefaults(&cfg)
	if cfg.Model != "llama3.1" || cfg.APIVersion != "" {
		t.Errorf("Expected ollama config untouched, got %+v", cfg)
	}
}

func TestResolveStarts(t *testing.T) {
	file := filepath.Join(t.TempDir(), "starts.txt")
	if err := os.WriteFile(file, []byte("# seeds\nQ76\n\nQ42\nQ76\n"), 0o644); err != nil {
		t.Fatalf("write starts: %v", err)
	}

	ids, err := resolveStarts(&runFlags{starts: []string{"Q1"}, startFile: file})
	if err != nil {
		t.Fatalf("resolveStarts failed: %v", err)
	}
	if strings.Join(ids, ",") != "Q1,Q76,Q42" {
		t.Errorf("Unexpected ids: %v", ids)
	}

	if _, err := resolveStarts(&runFlags{startFile: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("Expected error for missing start file")
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetOut(nil)

	if err := Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "hopwalk ") {
		t.Errorf("Unexpected version output: %q", out.String())
	}
}

func TestSampleCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	triples := writeRing(t, 12)
	out := filepath.Join(t.TempDir(), "paths.csv")

	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	defer rootCmd.SetErr(nil)
	rootCmd.SetArgs([]string{
		"sample",
		"--backend", "memory",
		"--triples", triples,
		"-n", "4",
		"--hops", "2",
		"--seed", "9",
		"--workers", "2",
		"-o", out,
	})

	if err := Execute(); err != nil {
		t.Fatalf("sample failed: %v\n%s", err, stderr.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("Expected header plus 4 rows, got %d:\n%s", len(lines), data)
	}
	if lines[0] != "GENERATED_QUESTION,ITEM_1,ITEM_2,ITEM_3,PROP_1,PROP_2" {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if !strings.Contains(stderr.String(), "Samples:    4") {
		t.Errorf("Expected run summary on stderr, got:\n%s", stderr.String())
	}
}

func TestVerifyCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	triples := writeRing(t, 10)
	out := filepath.Join(t.TempDir(), "paths.jsonl")

	rootCmd.SetErr(&bytes.Buffer{})
	defer rootCmd.SetErr(nil)
	rootCmd.SetArgs([]string{
		"sample",
		"--backend", "memory",
		"--triples", triples,
		"-n", "3",
		"--hops", "2",
		"--seed", "5",
		"--format", "jsonl",
		"-o", out,
	})
	if err := Execute(); err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	defer rootCmd.SetOut(nil)
	rootCmd.SetArgs([]string{"verify", out, "--backend", "memory", "--triples", triples})
	if err := Execute(); err != nil {
		t.Fatalf("verify failed: %v\n%s", err, stdout.String())
	}
	if !strings.Contains(stdout.String(), "3 of 3 paths valid") {
		t.Errorf("Unexpected verify output:\n%s", stdout.String())
	}

	// Point the first answer at an item the ring never reaches from its subject
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.SplitN(string(data), "\n", 2)
	forged := strings.Replace(lines[0], `"id":"Q`, `"id":"X`, 2)
	if forged == lines[0] {
		t.Fatalf("Expected item ids in %s", lines[0])
	}
	tampered := filepath.Join(t.TempDir(), "tampered.jsonl")
	if err := os.WriteFile(tampered, []byte(forged+"\n"+lines[1]), 0o644); err != nil {
		t.Fatalf("write tampered file: %v", err)
	}

	stdout.Reset()
	rootCmd.SetArgs([]string{"verify", tampered, "--backend", "memory", "--triples", triples})
	err = Execute()
	if err == nil {
		t.Fatal("Expected verification failure for a forged path")
	}
	if !strings.Contains(err.Error(), "1 of 3 paths failed") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestSampleCommand_Prompts(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	triples := writeRing(t, 12)
	out := filepath.Join(t.TempDir(), "prompts.jsonl")

	rootCmd.SetErr(&bytes.Buffer{})
	defer rootCmd.SetErr(nil)
	rootCmd.SetArgs([]string{
		"sample",
		"--backend", "memory",
		"--triples", triples,
		"-n", "3",
		"--hops", "2",
		"--seed", "4",
		"--format", "prompts",
		"-o", out,
	})
	if err := Execute(); err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 prompts, got %d:\n%s", len(lines), data)
	}
	for i, line := range lines {
		var req output.PromptRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			t.Fatalf("decode prompt %d: %v", i, err)
		}
		if req.Model != question.DefaultModel {
			t.Errorf("Expected model %s, got %q", question.DefaultModel, req.Model)
		}
		if req.Metadata.RowID != i+1 || req.Metadata.SampleID == "" {
			t.Errorf("Unexpected metadata: %+v", req.Metadata)
		}
		if !strings.Contains(req.Prompt, "Starting item: Q") || !strings.Contains(req.Prompt, "Hop 2: P") {
			t.Errorf("Unexpected prompt:\n%s", req.Prompt)
		}
	}
}

// ollamaServer writes questions for generation prompts and reviews them for
// verification prompts, rejecting the first review
func ollamaServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var reviews atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		reply := "Which item does the ring lead to?"
		if strings.Contains(req.Prompt, "Prompt Adequacy Verification Test") {
			reply = `{"question_valid": true, "answer_relevance": true, "multiple_answers_possible": false, "comments": "ok"}`
			if reviews.Add(1) == 1 {
				reply = `{"question_valid": true, "answer_relevance": true, "multiple_answers_possible": true, "comments": "many"}`
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "response": reply, "done": true})
	}))
	t.Cleanup(server.Close)
	return server, &reviews
}

func TestGenerateFromAndVerifyLLM(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Cleanup(func() {
		generateFrom = ""
		verifyLLM = false
	})
	triples := writeRing(t, 10)
	dir := t.TempDir()
	paths := filepath.Join(dir, "paths.jsonl")
	questions := filepath.Join(dir, "questions.jsonl")
	server, reviews := ollamaServer(t)

	rootCmd.SetErr(&bytes.Buffer{})
	defer rootCmd.SetErr(nil)
	rootCmd.SetArgs([]string{
		"sample",
		"--backend", "memory",
		"--triples", triples,
		"-n", "3",
		"--hops", "2",
		"--seed", "8",
		"--format", "jsonl",
		"-o", paths,
	})
	if err := Execute(); err != nil {
		t.Fatalf("sample failed: %v", err)
	}

	rootCmd.SetArgs([]string{
		"generate",
		"--from", paths,
		"--provider", "ollama",
		"--model", "llama3.1",
		"--base-url", server.URL,
		"--rps", "0",
		"--format", "jsonl",
		"-o", questions,
	})
	if err := Execute(); err != nil {
		t.Fatalf("generate --from failed: %v", err)
	}

	f, err := os.Open(questions)
	if err != nil {
		t.Fatalf("open questions: %v", err)
	}
	phrased, err := output.ReadJSONL(f)
	_ = f.Close()
	if err != nil {
		t.Fatalf("read questions: %v", err)
	}
	if len(phrased) != 3 {
		t.Fatalf("Expected 3 phrased samples, got %d", len(phrased))
	}
	for _, s := range phrased {
		if s.Question != "Which item does the ring lead to?" || s.Model != "llama3.1" {
			t.Errorf("Unexpected phrased sample: %q by %q", s.Question, s.Model)
		}
		if s.Path.Hops() != 2 {
			t.Errorf("Expected the sampled path to be kept, got %d hops", s.Path.Hops())
		}
	}

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	defer rootCmd.SetOut(nil)
	checks := filepath.Join(dir, "checks.json")
	rootCmd.SetArgs([]string{
		"verify", questions,
		"--backend", "memory",
		"--triples", triples,
		"--llm",
		"--provider", "ollama",
		"--model", "llama3.1",
		"--base-url", server.URL,
		"--rps", "0",
		"--json", checks,
	})
	err = Execute()
	if err == nil || !strings.Contains(err.Error(), "1 of 3 paths failed") {
		t.Fatalf("Expected one question rejected by review, got %v\n%s", err, stdout.String())
	}
	if reviews.Load() != 3 {
		t.Errorf("Expected 3 reviews, got %d", reviews.Load())
	}

	data, err := os.ReadFile(checks)
	if err != nil {
		t.Fatalf("read checks: %v", err)
	}
	var got []model.PathCheck
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode checks: %v", err)
	}
	rejected := 0
	for _, c := range got {
		if c.Verdict == nil {
			t.Errorf("Expected a verdict for %s", c.SampleID)
			continue
		}
		if !c.Verdict.Accepted() {
			rejected++
		}
	}
	if rejected != 1 {
		t.Errorf("Expected 1 rejected verdict, got %d", rejected)
	}
}
