package model

// Diagnostics summarizes how usable a batch of samples is as a QA dataset
type Diagnostics struct {
	Samples int      `json:"samples"` // Completed samples considered
	Quality string   `json:"quality"` // "low", "medium", "high"
	Signals []Signal `json:"signals"` // Diagnostic signals with transparent data
}

// Signal represents a diagnostic signal with transparent data
type Signal struct {
	Type        SignalType     `json:"type"`           // Signal classification
	Severity    SignalSeverity `json:"severity"`       // info, warning, critical
	Description string         `json:"description"`    // Human-readable explanation
	Data        map[string]any `json:"data,omitempty"` // Numbers behind the signal
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalYield                 SignalType = "yield"                  // Completed walks per attempt
	SignalDeadEnds              SignalType = "dead_ends"              // Share of walks that dead-ended
	SignalFailures              SignalType = "failures"               // Store or generation failures
	SignalPropertyConcentration SignalType = "property_concentration" // One relation dominating the hops
	SignalAnswerPopularity      SignalType = "answer_popularity"      // In-degree of answer items
	SignalDuplicateStarts       SignalType = "duplicate_starts"       // Start items sampled more than once
	SignalQuestionCoverage      SignalType = "question_coverage"      // Samples that received a question
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// PathCheck is the result of re-validating one sample against a graph store
type PathCheck struct {
	SampleID string   `json:"sample_id"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
	Error    string   `json:"error,omitempty"` // Store failure; the path could not be checked

	Verdict    *Verdict `json:"verdict,omitempty"`     // LLM review of the question, when requested
	JudgeError string   `json:"judge_error,omitempty"` // The review could not be obtained
}

// Verdict is an LLM's review of a generated question against its answer item
type Verdict struct {
	QuestionValid           bool   `json:"question_valid"`
	AnswerRelevance         bool   `json:"answer_relevance"`
	MultipleAnswersPossible bool   `json:"multiple_answers_possible"`
	Comments                string `json:"comments"`
}

// Accepted reports whether the question is clear, fits its answer and has only that answer
func (v Verdict) Accepted() bool {
	return v.QuestionValid && v.AnswerRelevance && !v.MultipleAnswersPossible
}
