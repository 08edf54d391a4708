package validate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ppiankov/hopwalk/internal/graph"
	"github.com/ppiankov/hopwalk/internal/model"
	"github.com/ppiankov/hopwalk/internal/sampler"
)

const validateMaxRetries = 3

// validateSleepFunc is the sleep function used between retries (injectable for tests)
var validateSleepFunc = time.Sleep

// Validator re-checks sampled paths against a graph store concurrently
type Validator struct {
	store      graph.Store
	maxWorkers int

	excludedItems      map[string]bool
	excludedProperties map[string]bool
	ambiguityFilter    bool
}

// NewValidator creates a validator enforcing the same exclusions and
// ambiguity rule the walker was configured with
func NewValidator(store graph.Store, maxWorkers int, opts sampler.Options) *Validator {
	if maxWorkers <= 0 {
		maxWorkers = 20
	}

	v := &Validator{
		store:              store,
		maxWorkers:         maxWorkers,
		excludedItems:      make(map[string]bool),
		excludedProperties: make(map[string]bool),
		ambiguityFilter:    opts.AmbiguityFilter,
	}
	for _, id := range opts.ExcludedItems {
		v.excludedItems[id] = true
	}
	for _, id := range opts.ExcludedProperties {
		v.excludedProperties[id] = true
	}
	return v
}

// Validate checks all samples concurrently; results are in input order
func (v *Validator) Validate(ctx context.Context, samples []model.Sample) ([]model.PathCheck, error) {
	if len(samples) == 0 {
		return []model.PathCheck{}, nil
	}

	results := make([]model.PathCheck, len(samples))
	var wg sync.WaitGroup

	// Create semaphore to limit concurrent store lookups
	semaphore := make(chan struct{}, v.maxWorkers)

	for i, s := range samples {
		wg.Add(1)
		go func(idx int, smp model.Sample) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				results[idx] = model.PathCheck{
					SampleID: smp.ID,
					Error:    "context cancelled",
				}
				return
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			results[idx] = v.validateSingleWithRetry(ctx, smp)
		}(i, s)
	}

	wg.Wait()

	return results, ctx.Err()
}

// validateSingle checks one sample. A store failure is returned as error
// and leaves the check incomplete.
func (v *Validator) validateSingle(ctx context.Context, smp model.Sample) (model.PathCheck, error) {
	result := model.PathCheck{SampleID: smp.ID}
	path := smp.Path

	if len(path.Items) == 0 {
		result.Problems = append(result.Problems, "path has no items")
		return result, nil
	}
	if len(path.Items) != len(path.Properties)+1 {
		result.Problems = append(result.Problems,
			fmt.Sprintf("path has %d items for %d properties", len(path.Items), len(path.Properties)))
		return result, nil
	}

	seenItems := make(map[string]bool, len(path.Items))
	for i, item := range path.Items {
		if seenItems[item.ID] {
			result.Problems = append(result.Problems, fmt.Sprintf("item %s repeated", item.ID))
		}
		seenItems[item.ID] = true
		if i > 0 && v.excludedItems[item.ID] {
			result.Problems = append(result.Problems, fmt.Sprintf("excluded item %s visited", item.ID))
		}
	}

	seenProps := make(map[string]bool, len(path.Properties))
	for _, prop := range path.Properties {
		if seenProps[prop.ID] {
			result.Problems = append(result.Problems, fmt.Sprintf("property %s reused", prop.ID))
		}
		seenProps[prop.ID] = true
		if v.excludedProperties[prop.ID] {
			result.Problems = append(result.Problems, fmt.Sprintf("excluded property %s used", prop.ID))
		}
	}

	for k, prop := range path.Properties {
		subject, target := path.Items[k].ID, path.Items[k+1].ID

		targets, err := graph.PropertyTargets(ctx, v.store, subject, prop.ID)
		if err != nil {
			return result, fmt.Errorf("hop %d: %w", k+1, err)
		}

		if !slices.Contains(targets, target) {
			result.Problems = append(result.Problems,
				fmt.Sprintf("hop %d: no claim %s --%s--> %s", k+1, subject, prop.ID, target))
		} else if v.ambiguityFilter && len(targets) > 1 {
			result.Problems = append(result.Problems,
				fmt.Sprintf("hop %d: %s has %d targets for %s", k+1, subject, len(targets), prop.ID))
		}
	}

	result.Valid = len(result.Problems) == 0
	return result, nil
}

// validateSingleWithRetry retries store failures with exponential backoff.
// Missing ids and cancellation are not retried.
func (v *Validator) validateSingleWithRetry(ctx context.Context, smp model.Sample) model.PathCheck {
	var (
		result model.PathCheck
		err    error
	)
	for attempt := 0; attempt < validateMaxRetries; attempt++ {
		result, err = v.validateSingle(ctx, smp)
		if err == nil {
			return result
		}
		if !isRetryableStoreError(ctx, err) {
			break
		}
		if attempt < validateMaxRetries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			validateSleepFunc(backoff)
		}
	}

	result.Valid = false
	result.Problems = nil
	result.Error = err.Error()
	return result
}

// isRetryableStoreError returns true for store errors that may succeed on another try
func isRetryableStoreError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, graph.ErrNotFound) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
