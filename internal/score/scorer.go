package score

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/ppiankov/hopwalk/internal/model"
)

// Batch is the input to the scorer: completed samples plus the walk counters of the run
type Batch struct {
	Samples  []model.Sample
	Attempts int
	DeadEnds int
	Failures int
}

// Thresholds
const (
	minYield              = 0.5  // Below: most walks are wasted
	criticalYield         = 0.1  // Below: the graph or the filters are too sparse for this hop count
	maxPropertyShare      = 0.5  // Above: one relation dominates the dataset
	hubInDegree           = 1000 // Median answer in-degree above which answers are hubs
	maxDuplicateStartRate = 0.1
)

// Scorer derives dataset diagnostics from a batch
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Calculate computes diagnostic signals for a batch
func (s *Scorer) Calculate(b Batch) model.Diagnostics {
	var signals []model.Signal

	signals = append(signals, s.yield(b))
	if b.DeadEnds > 0 {
		signals = append(signals, s.deadEnds(b))
	}
	if b.Failures > 0 {
		signals = append(signals, s.failures(b))
	}
	if len(b.Samples) > 0 {
		signals = append(signals, s.propertyConcentration(b.Samples))
		signals = append(signals, s.answerPopularity(b.Samples))
		if sig := s.duplicateStarts(b.Samples); sig.Type != "" {
			signals = append(signals, sig)
		}
		if sig := s.questionCoverage(b.Samples); sig.Type != "" {
			signals = append(signals, sig)
		}
	}

	return model.Diagnostics{
		Samples: len(b.Samples),
		Quality: s.determineQuality(signals, len(b.Samples)),
		Signals: signals,
	}
}

// yield reports completed walks per attempt
func (s *Scorer) yield(b Batch) model.Signal {
	if b.Attempts == 0 {
		return model.Signal{
			Type:        model.SignalYield,
			Severity:    model.SeverityWarning,
			Description: "No walks were attempted",
		}
	}

	ratio := float64(len(b.Samples)) / float64(b.Attempts)
	severity := model.SeverityInfo
	if ratio < criticalYield {
		severity = model.SeverityCritical
	} else if ratio < minYield {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalYield,
		Severity:    severity,
		Description: fmt.Sprintf("%d of %d walks completed (%.0f%%)", len(b.Samples), b.Attempts, ratio*100),
		Data: map[string]any{
			"samples":  len(b.Samples),
			"attempts": b.Attempts,
			"ratio":    ratio,
		},
	}
}

// deadEnds reports how many walks ran out of valid hops
func (s *Scorer) deadEnds(b Batch) model.Signal {
	rate := float64(b.DeadEnds) / float64(max(b.Attempts, 1))
	severity := model.SeverityInfo
	if rate > 1-minYield {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalDeadEnds,
		Severity:    severity,
		Description: fmt.Sprintf("%.0f%% of walks dead-ended before the last hop", rate*100),
		Data: map[string]any{
			"dead_ends": b.DeadEnds,
			"attempts":  b.Attempts,
			"rate":      rate,
		},
	}
}

// failures reports walks lost to store or provider errors
func (s *Scorer) failures(b Batch) model.Signal {
	return model.Signal{
		Type:        model.SignalFailures,
		Severity:    model.SeverityCritical,
		Description: fmt.Sprintf("%d walks failed with an error", b.Failures),
		Data: map[string]any{
			"failures": b.Failures,
			"attempts": b.Attempts,
		},
	}
}

// propertyConcentration measures how evenly hops spread over relations,
// using the share of the most common property and normalized Shannon entropy
func (s *Scorer) propertyConcentration(samples []model.Sample) model.Signal {
	counts := make(map[string]int)
	total := 0
	for _, smp := range samples {
		for _, prop := range smp.Path.Properties {
			counts[prop.ID]++
			total++
		}
	}
	if total == 0 {
		return model.Signal{
			Type:        model.SignalPropertyConcentration,
			Severity:    model.SeverityInfo,
			Description: "No hops to analyze",
		}
	}

	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(x, y string) int {
		if c := cmp.Compare(counts[y], counts[x]); c != 0 {
			return c
		}
		return cmp.Compare(x, y)
	})

	p := make([]float64, len(ids))
	for i, id := range ids {
		p[i] = float64(counts[id]) / float64(total)
	}
	evenness := 1.0
	if len(p) > 1 {
		evenness = stat.Entropy(p) / math.Log(float64(len(p)))
	}

	top := ids[0]
	share := p[0]
	severity := model.SeverityInfo
	if share > maxPropertyShare && len(ids) > 1 {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalPropertyConcentration,
		Severity:    severity,
		Description: fmt.Sprintf("Most common property %s carries %.0f%% of %d hops", top, share*100, total),
		Data: map[string]any{
			"distinct_properties": len(ids),
			"hops":                total,
			"top_property":        top,
			"top_share":           share,
			"evenness":            evenness,
		},
	}
}

// answerPopularity reports the in-degree of answer items; hubs make guessable questions
func (s *Scorer) answerPopularity(samples []model.Sample) model.Signal {
	degrees := make([]float64, len(samples))
	for i, smp := range samples {
		degrees[i] = float64(smp.Path.End().InDegree)
	}
	slices.Sort(degrees)

	mean, std := stat.MeanStdDev(degrees, nil)
	if len(degrees) < 2 {
		std = 0
	}
	median := stat.Quantile(0.5, stat.Empirical, degrees, nil)

	severity := model.SeverityInfo
	if median >= hubInDegree {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalAnswerPopularity,
		Severity:    severity,
		Description: fmt.Sprintf("Median answer in-degree %.0f (mean %.1f)", median, mean),
		Data: map[string]any{
			"median": median,
			"mean":   mean,
			"stddev": std,
			"max":    degrees[len(degrees)-1],
		},
	}
}

// duplicateStarts flags start items used by more than one sample
func (s *Scorer) duplicateStarts(samples []model.Sample) model.Signal {
	seen := make(map[string]int)
	for _, smp := range samples {
		seen[smp.Path.Start().ID]++
	}
	dups := len(samples) - len(seen)
	if dups == 0 {
		return model.Signal{}
	}

	rate := float64(dups) / float64(len(samples))
	severity := model.SeverityInfo
	if rate > maxDuplicateStartRate {
		severity = model.SeverityWarning
	}

	return model.Signal{
		Type:        model.SignalDuplicateStarts,
		Severity:    severity,
		Description: fmt.Sprintf("%d samples reuse a start item", dups),
		Data: map[string]any{
			"duplicates":     dups,
			"distinct_start": len(seen),
			"rate":           rate,
		},
	}
}

// questionCoverage reports samples without a question; silent when generation was off
func (s *Scorer) questionCoverage(samples []model.Sample) model.Signal {
	with := 0
	for _, smp := range samples {
		if smp.Question != "" {
			with++
		}
	}
	if with == 0 {
		return model.Signal{}
	}

	severity := model.SeverityInfo
	if with < len(samples) {
		severity = model.SeverityWarning
	}
	return model.Signal{
		Type:        model.SignalQuestionCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("%d of %d samples have a question", with, len(samples)),
		Data: map[string]any{
			"with_question": with,
			"samples":       len(samples),
		},
	}
}

// determineQuality maps the worst signals to a coarse quality level
func (s *Scorer) determineQuality(signals []model.Signal, samples int) string {
	if samples == 0 {
		return "low"
	}

	warnings := 0
	for _, sig := range signals {
		switch sig.Severity {
		case model.SeverityCritical:
			return "low"
		case model.SeverityWarning:
			warnings++
		}
	}

	switch {
	case warnings == 0:
		return "high"
	case warnings == 1:
		return "medium"
	default:
		return "low"
	}
}
