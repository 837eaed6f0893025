package vamana

import "sort"

// Candidate is a node with its distance to the query.
type Candidate struct {
	ID   uint64
	Dist float32
}

// sortCandidates orders candidates ascending by distance, ties by id so
// pruning is deterministic.
func sortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Dist != cands[j].Dist {
			return cands[i].Dist < cands[j].Dist
		}
		return cands[i].ID < cands[j].ID
	})
}

// RobustPrune selects up to maxDegree diverse neighbors from candidates.
// Walking candidates in ascending distance, a candidate c is skipped when
// some already-selected s has alpha·d(c, s) <= d(q, c): s is closer to the
// query and already covers c's region. Every admitted pair therefore keeps
// d(a, b) >= d(q, ·)/alpha of separation. distFn measures between two
// stored nodes.
func RobustPrune(candidates []Candidate, maxDegree int, alpha float32, distFn func(a, b uint64) (float32, error)) ([]uint64, error) {
	if maxDegree <= 0 || len(candidates) == 0 {
		return nil, nil
	}
	cands := append([]Candidate(nil), candidates...)
	sortCandidates(cands)

	// Dedupe after the sort; duplicate ids would select twice.
	selected := make([]uint64, 0, maxDegree)
	seen := make(map[uint64]struct{}, len(cands))

	for _, c := range cands {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		covered := false
		for _, s := range selected {
			d, err := distFn(c.ID, s)
			if err != nil {
				return nil, err
			}
			if alpha*d <= c.Dist {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		selected = append(selected, c.ID)
		if len(selected) >= maxDegree {
			break
		}
	}
	return selected, nil
}
