// Package output writes sampled paths and generated questions as CSV or JSON
// lines, or as question-writing prompts for batch LLM processing.
package output

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ppiankov/hopwalk/internal/model"
	"github.com/ppiankov/hopwalk/internal/question"
)

// Supported formats
const (
	FormatCSV     = "csv"
	FormatJSONL   = "jsonl"
	FormatPrompts = "prompts"
)

// Writer writes samples to an underlying stream
type Writer interface {
	Write(s model.Sample) error
	Flush() error
}

// Options configures NewWriter
type Options struct {
	Hops   int    // Fixes the CSV column layout
	Labels bool   // CSV: labels instead of ids
	Model  string // Prompts: model named in every request
	Source string // Prompts: file the samples were read from, if any
}

// NewWriter creates a writer for format
func NewWriter(w io.Writer, format string, opts Options) (Writer, error) {
	switch strings.ToLower(format) {
	case FormatCSV, "":
		return NewCSVWriter(w, opts.Hops, opts.Labels)
	case FormatJSONL, "json":
		return NewJSONLWriter(w), nil
	case FormatPrompts:
		return NewPromptWriter(w, opts.Model, opts.Source), nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (supported: csv, jsonl, prompts)", format)
	}
}

// WriteAll writes every sample and flushes
func WriteAll(w Writer, samples []model.Sample) error {
	for i := range samples {
		if err := w.Write(samples[i]); err != nil {
			return fmt.Errorf("write sample %d: %w", i, err)
		}
	}
	return w.Flush()
}

// CSVWriter writes one row per sample:
// GENERATED_QUESTION, ITEM_1..ITEM_{n+1}, PROP_1..PROP_n
type CSVWriter struct {
	w      *csv.Writer
	hops   int
	labels bool
}

// NewCSVWriter creates a CSV writer and writes the header row
func NewCSVWriter(w io.Writer, hops int, labels bool) (*CSVWriter, error) {
	if hops < 1 {
		return nil, fmt.Errorf("csv output needs at least one hop, got %d", hops)
	}
	cw := &CSVWriter{w: csv.NewWriter(w), hops: hops, labels: labels}
	if err := cw.w.Write(Header(hops)); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return cw, nil
}

// Header returns the CSV header for paths of the given hop count
func Header(hops int) []string {
	header := make([]string, 0, 2*hops+2)
	header = append(header, "GENERATED_QUESTION")
	for i := 1; i <= hops+1; i++ {
		header = append(header, "ITEM_"+strconv.Itoa(i))
	}
	for i := 1; i <= hops; i++ {
		header = append(header, "PROP_"+strconv.Itoa(i))
	}
	return header
}

// Write appends a row. Shorter paths leave trailing cells empty.
func (c *CSVWriter) Write(s model.Sample) error {
	if s.Path.Hops() > c.hops {
		return fmt.Errorf("path has %d hops, writer expects at most %d", s.Path.Hops(), c.hops)
	}

	items, props := s.Path.ItemIDs(), s.Path.PropertyIDs()
	if c.labels {
		items, props = s.Path.ItemLabels(), s.Path.PropertyLabels()
	}

	row := make([]string, 2*c.hops+2)
	row[0] = s.Question
	copy(row[1:c.hops+2], items)
	copy(row[c.hops+2:], props)

	return c.w.Write(row)
}

// Flush flushes buffered rows
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// JSONLWriter writes one JSON object per line with the full sample
type JSONLWriter struct {
	enc *json.Encoder
}

// NewJSONLWriter creates a JSON-lines writer
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

// Write encodes s as a single line
func (j *JSONLWriter) Write(s model.Sample) error {
	return j.enc.Encode(s)
}

// Flush is a no-op; every line is written immediately
func (j *JSONLWriter) Flush() error {
	return nil
}

// PromptRequest is one line of a prompts file
type PromptRequest struct {
	Model    string         `json:"model"`
	Prompt   string         `json:"prompt"`
	Metadata PromptMetadata `json:"metadata"`
}

// PromptMetadata ties a prompt back to the sample it was built from
type PromptMetadata struct {
	RowID    int    `json:"row_id"` // 1-based
	InFile   string `json:"in_file,omitempty"`
	SampleID string `json:"sample_id,omitempty"`
}

// PromptWriter writes one question-writing prompt per sample, so paths can be
// phrased later by a batch LLM job instead of during the run
type PromptWriter struct {
	enc    *json.Encoder
	model  string
	source string
	rows   int
}

// NewPromptWriter creates a prompts writer. model names the model each request targets.
func NewPromptWriter(w io.Writer, model, source string) *PromptWriter {
	return &PromptWriter{enc: json.NewEncoder(w), model: model, source: source}
}

// Write encodes the prompt for s as a single line
func (p *PromptWriter) Write(s model.Sample) error {
	if s.Path.Hops() == 0 {
		return fmt.Errorf("sample %s: %w", s.ID, question.ErrEmptyPath)
	}
	p.rows++
	return p.enc.Encode(PromptRequest{
		Model:  p.model,
		Prompt: question.BuildPrompt(s.Path),
		Metadata: PromptMetadata{
			RowID:    p.rows,
			InFile:   p.source,
			SampleID: s.ID,
		},
	})
}

// Flush is a no-op; every line is written immediately
func (p *PromptWriter) Flush() error {
	return nil
}

// ReadJSONL decodes samples written by JSONLWriter. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]model.Sample, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var samples []model.Sample
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var s model.Sample
		if err := json.Unmarshal(line, &s); err != nil {
			return samples, fmt.Errorf("line %d: %w", lineNo, err)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return samples, fmt.Errorf("scan samples: %w", err)
	}
	return samples, nil
}
