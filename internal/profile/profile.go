package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// CandidateProfile is the normalized candidate data produced by the external
// resume parser. It is read-only for the duration of a batch run.
type CandidateProfile struct {
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Phone           string   `json:"phone"`
	Skills          []string `json:"skills"`
	Titles          []string `json:"titles"`
	Locations       []string `json:"locations"`
	ExperienceYears float64  `json:"experience_years"`
}

// Load reads a parsed-resume JSON file and returns a validated profile.
func Load(path string) (*CandidateProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file %q: %w", path, err)
	}

	var p CandidateProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile file %q: %w", path, err)
	}

	p.normalize()

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

// normalize lower-cases and dedups skill and location entries.
func (p *CandidateProfile) normalize() {
	p.Skills = normalizeSet(p.Skills)
	p.Locations = normalizeSet(p.Locations)

	titles := make([]string, 0, len(p.Titles))
	for _, t := range p.Titles {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
	}
	p.Titles = titles
}

// Validate checks the invariants the matching engine relies on.
func (p *CandidateProfile) Validate() error {
	if len(p.Skills) == 0 {
		return fmt.Errorf("profile must contain at least one skill")
	}
	if p.ExperienceYears < 0 {
		return fmt.Errorf("experience years must not be negative")
	}
	return nil
}

// SkillSet returns candidate skills as a lookup set.
func (p *CandidateProfile) SkillSet() map[string]bool {
	set := make(map[string]bool, len(p.Skills))
	for _, s := range p.Skills {
		set[s] = true
	}
	return set
}

// SearchText builds the text representation compared against postings:
// desired titles, skills and an experience phrase.
func (p *CandidateProfile) SearchText() string {
	parts := make([]string, 0, 3)
	if len(p.Titles) > 0 {
		parts = append(parts, strings.Join(p.Titles, ", "))
	}
	if len(p.Skills) > 0 {
		parts = append(parts, "Skills: "+strings.Join(p.Skills, ", "))
	}
	if p.ExperienceYears > 0 {
		parts = append(parts, fmt.Sprintf("%.0f years of experience", p.ExperienceYears))
	}
	return strings.Join(parts, ". ")
}

func normalizeSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
