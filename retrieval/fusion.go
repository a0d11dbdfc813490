package retrieval

import "sort"

// RRFK is the rank damping constant of Reciprocal Rank Fusion.
const RRFK = 60

type Fused struct {
	ID    string
	Score float64
}

type fusedEntry struct {
	Fused
	bestRank int
	order    int
}

// Fuse combines rankings of document ids with Reciprocal Rank Fusion. A
// document at 1-based rank r of a ranking scores 1/(RRFK+r); scores from
// several rankings are summed. Duplicate ids inside one ranking keep their
// first position. With a single non-empty ranking its order is returned
// unchanged.
//
// Equal scores are ordered by the best rank the id reached in any ranking,
// then by first appearance when the rankings are read in argument order.
// The result holds at most k entries.
func Fuse(k int, rankings ...[]string) []Fused {
	if k < 1 {
		return nil
	}

	var lists [][]string
	for _, r := range rankings {
		if d := dedup(r); len(d) > 0 {
			lists = append(lists, d)
		}
	}

	switch len(lists) {
	case 0:
		return []Fused{}
	case 1:
		out := make([]Fused, 0, min(k, len(lists[0])))
		for i, id := range lists[0] {
			if i == k {
				break
			}
			out = append(out, Fused{ID: id, Score: rrf(i + 1)})
		}
		return out
	}

	entries := make(map[string]*fusedEntry)
	var ordered []*fusedEntry
	for _, list := range lists {
		for i, id := range list {
			rank := i + 1
			e, ok := entries[id]
			if !ok {
				e = &fusedEntry{Fused: Fused{ID: id}, bestRank: rank, order: len(ordered)}
				entries[id] = e
				ordered = append(ordered, e)
			}
			e.Score += rrf(rank)
			if rank < e.bestRank {
				e.bestRank = rank
			}
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.bestRank != b.bestRank {
			return a.bestRank < b.bestRank
		}
		return a.order < b.order
	})

	n := min(k, len(ordered))
	out := make([]Fused, n)
	for i := 0; i < n; i++ {
		out[i] = ordered[i].Fused
	}
	return out
}

func rrf(rank int) float64 {
	return 1 / float64(RRFK+rank)
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
