// Package sampler implements the degree-weighted random walk that produces
// multi-hop question paths from a knowledge graph.
package sampler

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/ppiankov/hopwalk/internal/model"
)

var (
	// ErrNoCandidates is returned when the sampler is given nothing to choose from
	ErrNoCandidates = errors.New("no candidates")

	// ErrDegenerateWeights is returned when the weights cannot form a distribution
	// (all zero, NaN or infinite, or a zero in-degree under RejectZeroDegree)
	ErrDegenerateWeights = errors.New("degenerate sampling weights")
)

// DegreePolicy decides how an in-degree below 1 is weighted.
// in_degree^-c is undefined for a zero degree when c > 0.
type DegreePolicy int

const (
	// FloorDegree treats degrees below 1 as 1
	FloorDegree DegreePolicy = iota
	// ExcludeZeroDegree gives such candidates weight 0 so they are never drawn.
	// The walker removes them before drawing, so a hop left with none is a dead end.
	ExcludeZeroDegree
	// RejectZeroDegree fails the draw with ErrDegenerateWeights
	RejectZeroDegree
)

// String returns the config name of the policy
func (p DegreePolicy) String() string {
	switch p {
	case FloorDegree:
		return "floor"
	case ExcludeZeroDegree:
		return "exclude"
	case RejectZeroDegree:
		return "reject"
	}
	return fmt.Sprintf("DegreePolicy(%d)", int(p))
}

// ParseDegreePolicy parses "floor", "exclude" or "reject" ("" means floor)
func ParseDegreePolicy(s string) (DegreePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "floor":
		return FloorDegree, nil
	case "exclude":
		return ExcludeZeroDegree, nil
	case "reject":
		return RejectZeroDegree, nil
	}
	return FloorDegree, fmt.Errorf("unknown degree policy: %s (supported: floor, exclude, reject)", s)
}

// Weights computes w_i = in_degree(i)^-c for each item.
// c = 0 gives uniform weights; larger c favours rarer (low in-degree) items.
func Weights(items []model.Item, c float64, policy DegreePolicy) ([]float64, error) {
	if len(items) == 0 {
		return nil, ErrNoCandidates
	}
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return nil, fmt.Errorf("damping %v: %w", c, ErrDegenerateWeights)
	}

	w := make([]float64, len(items))
	for i, item := range items {
		degree := item.InDegree
		if degree < 1 {
			switch policy {
			case ExcludeZeroDegree:
				continue
			case RejectZeroDegree:
				return nil, fmt.Errorf("item %s has in-degree %d: %w", item.ID, degree, ErrDegenerateWeights)
			default:
				degree = 1
			}
		}

		w[i] = math.Pow(float64(degree), -c)
		if math.IsNaN(w[i]) || math.IsInf(w[i], 0) {
			return nil, fmt.Errorf("weight of %s is %v: %w", item.ID, w[i], ErrDegenerateWeights)
		}
	}

	if floats.Sum(w) <= 0 {
		return nil, fmt.Errorf("all %d weights are zero: %w", len(w), ErrDegenerateWeights)
	}
	return w, nil
}

// Probabilities returns the normalised selection probability of each item
func Probabilities(items []model.Item, c float64, policy DegreePolicy) ([]float64, error) {
	w, err := Weights(items, c, policy)
	if err != nil {
		return nil, err
	}
	floats.Scale(1/floats.Sum(w), w)
	return w, nil
}

// Choose draws one index with probability w_i / sum(w) using a single draw from r.
// A nil r uses the global source.
func Choose(r *rand.Rand, items []model.Item, c float64, policy DegreePolicy) (int, error) {
	w, err := Weights(items, c, policy)
	if err != nil {
		return -1, err
	}
	if len(w) == 1 {
		return 0, nil
	}

	var src rand.Source
	if r != nil {
		src = r
	}
	return int(distuv.NewCategorical(w, src).Rand()), nil
}
