package posting

import "sort"

// Dedup collapses canonical postings that share a fingerprint into one
// representative each. The representative is chosen by source priority
// (earlier in priority wins), falling back to first-seen order, and its
// extracted skills are merged across all duplicates. The returned slice
// preserves first-seen order of the surviving groups.
func Dedup(pool []*Canonical, priority []Source) []*Canonical {
	if len(priority) == 0 {
		priority = DefaultSourcePriority
	}

	rank := make(map[Source]int, len(priority))
	for i, src := range priority {
		rank[src] = i
	}
	sourceRank := func(src Source) int {
		if r, ok := rank[src]; ok {
			return r
		}
		return len(priority)
	}

	type group struct {
		representative *Canonical
		skills         map[string]bool
	}

	groups := make(map[string]*group, len(pool))
	order := make([]string, 0, len(pool))

	for _, p := range pool {
		g, ok := groups[p.Fingerprint]
		if !ok {
			g = &group{representative: p, skills: map[string]bool{}}
			groups[p.Fingerprint] = g
			order = append(order, p.Fingerprint)
		} else if sourceRank(p.Source) < sourceRank(g.representative.Source) {
			g.representative = p
		}

		for _, s := range p.ExtractedSkills {
			g.skills[s] = true
		}
	}

	out := make([]*Canonical, 0, len(order))
	for _, fp := range order {
		g := groups[fp]

		merged := make([]string, 0, len(g.skills))
		for s := range g.skills {
			merged = append(merged, s)
		}
		sort.Strings(merged)

		// Copy before mutating: duplicates may still be referenced by
		// the caller's pool.
		rep := *g.representative
		rep.ExtractedSkills = merged
		out = append(out, &rep)
	}

	return out
}
