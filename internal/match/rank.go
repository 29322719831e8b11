package match

import (
	"fmt"
	"sort"
	"strings"
)

// explanationSkillLimit bounds how many overlaps and gaps an explanation
// lists.
const explanationSkillLimit = 5

// Rank filters results below threshold, orders the rest descending by final
// score with ties broken by ascending fingerprint, truncates to topK and
// assigns ranks and explanations. It is a pure function: the same inputs
// always yield the same ordered list.
func Rank(results []*Result, threshold float64, topK int) []*Result {
	kept := make([]*Result, 0, len(results))
	for _, r := range results {
		if r.FinalScore >= threshold {
			kept = append(kept, r)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].FinalScore != kept[j].FinalScore {
			return kept[i].FinalScore > kept[j].FinalScore
		}
		return kept[i].Posting.Fingerprint < kept[j].Posting.Fingerprint
	})

	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}

	for i, r := range kept {
		r.Rank = i + 1
		r.Explanation = explain(r)
	}

	return kept
}

// explain renders the human-readable score breakdown attached to every kept
// result. Downstream cover-letter generation reuses it as context.
func explain(r *Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "final score %.3f (semantic %.3f", r.FinalScore, r.SemanticScore)
	if r.Degraded {
		b.WriteString(", degraded")
	}
	fmt.Fprintf(&b, "; skill overlap %d/%d)", len(r.SkillOverlap), len(r.Posting.ExtractedSkills))

	if len(r.SkillOverlap) > 0 {
		fmt.Fprintf(&b, ". Matching skills: %s", topSkills(r.SkillOverlap))
	}
	if len(r.SkillGap) > 0 {
		fmt.Fprintf(&b, ". Skills to develop: %s", topSkills(r.SkillGap))
	}

	return b.String()
}

func topSkills(skills []string) string {
	if len(skills) > explanationSkillLimit {
		skills = skills[:explanationSkillLimit]
	}
	return strings.Join(skills, ", ")
}
