package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/ppiankov/hopwalk/internal/graph"
	"github.com/ppiankov/hopwalk/internal/model"
)

// ErrNoStartItem is returned when every drawn start item was excluded
var ErrNoStartItem = errors.New("no start item outside the excluded items")

const maxStartDraws = 100

// DeadEndPolicy decides what a walk does when no valid next hop exists
type DeadEndPolicy int

const (
	// ReturnPartial stops and returns the path so far with model.StatusDeadEnd
	ReturnPartial DeadEndPolicy = iota
	// Restart discards the path and walks again, at most Options.MaxRestarts more times
	Restart
)

// String returns the config name of the policy
func (p DeadEndPolicy) String() string {
	switch p {
	case ReturnPartial:
		return "partial"
	case Restart:
		return "restart"
	}
	return fmt.Sprintf("DeadEndPolicy(%d)", int(p))
}

// ParseDeadEndPolicy parses "partial" or "restart" ("" means partial)
func ParseDeadEndPolicy(s string) (DeadEndPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "partial":
		return ReturnPartial, nil
	case "restart":
		return Restart, nil
	}
	return ReturnPartial, fmt.Errorf("unknown dead-end policy: %s (supported: partial, restart)", s)
}

// Options configures a Walker
type Options struct {
	Hops               int      // Target number of hops (path has Hops+1 items)
	Damping            float64  // c in w = in_degree^-c
	ExcludedProperties []string // Never used as a hop
	ExcludedItems      []string // Never visited
	DegreePolicy       DegreePolicy
	DeadEnd            DeadEndPolicy
	MaxRestarts        int // Extra walks allowed under Restart

	// MarkAllCandidates marks every surviving candidate target as visited after a
	// hop, not only the chosen one. This over-excludes to keep short cycles out
	// of the rest of the walk.
	MarkAllCandidates bool

	// AmbiguityFilter drops properties that lead to more than one target from the
	// current item, so each hop is functionally unique.
	AmbiguityFilter bool

	Logger *slog.Logger
}

// DefaultOptions returns the settings used to build the published datasets
func DefaultOptions() Options {
	return Options{
		Hops:               3,
		Damping:            0.3,
		ExcludedProperties: append([]string(nil), model.DefaultExcludedProperties...),
		DegreePolicy:       FloorDegree,
		DeadEnd:            ReturnPartial,
		MaxRestarts:        10,
		MarkAllCandidates:  true,
		AmbiguityFilter:    true,
	}
}

// OptionsFromConfig converts the sampler section of the config file
func OptionsFromConfig(cfg model.SamplerConfig) (Options, error) {
	degree, err := ParseDegreePolicy(cfg.DegreePolicy)
	if err != nil {
		return Options{}, err
	}
	deadEnd, err := ParseDeadEndPolicy(cfg.DeadEnd)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Hops:               cfg.Hops,
		Damping:            cfg.Damping,
		ExcludedProperties: cfg.ExcludedProperties,
		ExcludedItems:      cfg.ExcludedItems,
		DegreePolicy:       degree,
		DeadEnd:            deadEnd,
		MaxRestarts:        cfg.MaxRestarts,
		MarkAllCandidates:  cfg.MarkAllCandidates,
		AmbiguityFilter:    cfg.AmbiguityFilter,
	}, nil
}

// Walker samples paths from a graph store. A Walker holds no per-walk state,
// so one Walker may serve concurrent Sample calls as long as each call gets
// its own *rand.Rand.
type Walker struct {
	store         graph.Store
	opts          Options
	excludedProps idSet
	excludedItems idSet
	logger        *slog.Logger
}

// NewWalker creates a walker over store
func NewWalker(store graph.Store, opts Options) (*Walker, error) {
	if store == nil {
		return nil, errors.New("walker requires a graph store")
	}
	if opts.Hops < 1 {
		return nil, fmt.Errorf("hops must be positive, got %d", opts.Hops)
	}
	if opts.MaxRestarts < 0 {
		return nil, fmt.Errorf("max restarts must not be negative, got %d", opts.MaxRestarts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Walker{
		store:         store,
		opts:          opts,
		excludedProps: newIDSet(opts.ExcludedProperties...),
		excludedItems: newIDSet(opts.ExcludedItems...),
		logger:        logger,
	}, nil
}

// Options returns the walker's configuration
func (w *Walker) Options() Options {
	return w.opts
}

// Sample walks from a uniformly random start item.
//
// It returns model.StatusOK with a path of Hops+1 items, or model.StatusDeadEnd
// with the partial path when the walk ran out of valid hops. A dead end is not
// an error; errors are reserved for store failures and weighting faults.
// Excluded items are redrawn, at most maxStartDraws times per walk.
func (w *Walker) Sample(ctx context.Context, r *rand.Rand) (model.Path, model.Status, error) {
	return w.run(ctx, func() (model.Item, error) {
		for range maxStartDraws {
			item, err := w.store.RandomItem(ctx, r)
			if err != nil {
				return model.Item{}, fmt.Errorf("draw start item: %w", err)
			}
			if !w.excludedItems.has(item.ID) {
				return item, nil
			}
		}
		return model.Item{}, ErrNoStartItem
	}, r)
}

// SampleFrom walks from the given start item. Under Restart it restarts from the same item.
func (w *Walker) SampleFrom(ctx context.Context, r *rand.Rand, start model.Item) (model.Path, model.Status, error) {
	return w.run(ctx, func() (model.Item, error) { return start, nil }, r)
}

func (w *Walker) run(ctx context.Context, start func() (model.Item, error), r *rand.Rand) (model.Path, model.Status, error) {
	attempts := 1
	if w.opts.DeadEnd == Restart {
		attempts += w.opts.MaxRestarts
	}

	var last model.Path
	for attempt := 0; attempt < attempts; attempt++ {
		item, err := start()
		if err != nil {
			return model.Path{}, "", err
		}

		path, status, err := w.walk(ctx, r, item)
		if err != nil {
			return path, "", err
		}
		if status == model.StatusOK {
			return path, status, nil
		}

		last = path
		w.logger.Debug("walk dead end",
			"start", item.ID,
			"hops", path.Hops(),
			"attempt", attempt+1,
			"policy", w.opts.DeadEnd.String())
	}
	return last, model.StatusDeadEnd, nil
}

// walkState is local to a single walk
type walkState struct {
	path    model.Path
	visited idSet // every item ever seen, not only path members
	used    idSet // properties already on the path
}

// walk runs START -> HOP* -> DONE | DEAD_END once
func (w *Walker) walk(ctx context.Context, r *rand.Rand, start model.Item) (model.Path, model.Status, error) {
	st := &walkState{
		path: model.Path{
			Items:      make([]model.Item, 0, w.opts.Hops+1),
			Properties: make([]model.Property, 0, w.opts.Hops),
		},
		visited: newIDSet(start.ID),
		used:    newIDSet(),
	}
	st.path.Items = append(st.path.Items, start)

	current := start
	for hop := 0; hop < w.opts.Hops; hop++ {
		if err := ctx.Err(); err != nil {
			return st.path, "", err
		}

		cands, err := w.candidates(ctx, current.ID, st)
		if err != nil {
			return st.path, "", err
		}
		if len(cands) == 0 {
			return st.path, model.StatusDeadEnd, nil
		}

		items := targets(cands)
		if w.logger.Enabled(ctx, slog.LevelDebug) {
			if p, err := Probabilities(items, w.opts.Damping, w.opts.DegreePolicy); err == nil {
				w.logger.Debug("hop distribution", "item", current.ID, "hop", hop+1, "probabilities", p)
			}
		}
		idx, err := Choose(r, items, w.opts.Damping, w.opts.DegreePolicy)
		if err != nil {
			return st.path, "", fmt.Errorf("hop %d from %s: %w", hop+1, current.ID, err)
		}
		chosen := cands[idx]

		prop, err := w.store.GetProperty(ctx, chosen.claim.PropertyID)
		if err != nil {
			return st.path, "", fmt.Errorf("hop %d: %w", hop+1, err)
		}

		st.path.Items = append(st.path.Items, chosen.target)
		st.path.Properties = append(st.path.Properties, prop)
		st.used.add(prop.ID)
		if w.opts.MarkAllCandidates {
			for _, c := range cands {
				st.visited.add(c.target.ID)
			}
		} else {
			st.visited.add(chosen.target.ID)
		}

		current = chosen.target
	}

	return st.path, model.StatusOK, nil
}

// candidates returns the claims from subjectID that survive every filter, with resolved targets
func (w *Walker) candidates(ctx context.Context, subjectID string, st *walkState) ([]candidate, error) {
	claims, err := w.store.OutgoingClaims(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	total := len(claims)

	claims = dropProperties(claims, st.used, w.excludedProps)
	if w.opts.AmbiguityFilter {
		before := len(claims)
		claims = dropAmbiguous(claims)
		if dropped := before - len(claims); dropped > 0 {
			w.logger.Debug("dropped ambiguous claims", "item", subjectID, "count", dropped)
		}
	}
	claims = dropTargets(claims, st.visited, w.excludedItems)

	cands := make([]candidate, 0, len(claims))
	for _, c := range claims {
		target, err := w.store.GetItem(ctx, c.TargetID)
		if err != nil {
			return nil, fmt.Errorf("resolve target of claim %d: %w", c.ID, err)
		}
		cands = append(cands, candidate{claim: c, target: target})
	}
	if w.opts.DegreePolicy == ExcludeZeroDegree {
		cands = dropZeroDegree(cands)
	}

	w.logger.Debug("hop candidates", "item", subjectID, "claims", total, "kept", len(cands))
	return cands, nil
}
