package sampler

import "github.com/ppiankov/hopwalk/internal/model"

// idSet is a set of item or property ids
type idSet map[string]struct{}

func newIDSet(ids ...string) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) add(id string) {
	s[id] = struct{}{}
}

// candidate is a surviving claim together with its resolved target
type candidate struct {
	claim  model.Claim
	target model.Item
}

// dropProperties removes claims whose property was already used on the path or is excluded
func dropProperties(claims []model.Claim, used, excluded idSet) []model.Claim {
	kept := claims[:0:0]
	for _, c := range claims {
		if used.has(c.PropertyID) || excluded.has(c.PropertyID) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// dropAmbiguous keeps only claims whose property occurs exactly once in claims,
// so every hop names a single target from the current item.
func dropAmbiguous(claims []model.Claim) []model.Claim {
	counts := make(map[string]int, len(claims))
	for _, c := range claims {
		counts[c.PropertyID]++
	}

	kept := claims[:0:0]
	for _, c := range claims {
		if counts[c.PropertyID] == 1 {
			kept = append(kept, c)
		}
	}
	return kept
}

// dropTargets removes claims pointing at a visited or excluded item
func dropTargets(claims []model.Claim, visited, excluded idSet) []model.Claim {
	kept := claims[:0:0]
	for _, c := range claims {
		if visited.has(c.TargetID) || excluded.has(c.TargetID) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// dropZeroDegree removes candidates whose target has no known incoming claim
func dropZeroDegree(cands []candidate) []candidate {
	kept := cands[:0]
	for _, c := range cands {
		if c.target.InDegree >= 1 {
			kept = append(kept, c)
		}
	}
	return kept
}

func targets(cands []candidate) []model.Item {
	items := make([]model.Item, len(cands))
	for i, c := range cands {
		items[i] = c.target
	}
	return items
}
