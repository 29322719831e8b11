package posting

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the job board a posting was scraped from.
type Source string

const (
	SourceLinkedin  Source = "linkedin"
	SourceIndeed    Source = "indeed"
	SourceNaukri    Source = "naukri"
	SourceShine     Source = "shine"
	SourceInstahyre Source = "instahyre"
	SourceFoundit   Source = "foundit"
	SourceGlassdoor Source = "glassdoor"
)

// DefaultSourcePriority is the tie-break order used when duplicates of the
// same posting arrive from several boards. Earlier wins.
var DefaultSourcePriority = []Source{
	SourceLinkedin,
	SourceIndeed,
	SourceNaukri,
	SourceShine,
	SourceInstahyre,
	SourceFoundit,
	SourceGlassdoor,
}

// KnownSources returns all supported source identifiers.
func KnownSources() []Source {
	return append([]Source(nil), DefaultSourcePriority...)
}

// ParseSource validates a scraper-provided source string.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DefaultSourcePriority {
		if src == known {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown posting source %q", s)
}

// Raw is a posting exactly as emitted by a source-specific scraper. It is
// discarded after normalization.
type Raw struct {
	Source      Source     `json:"source"`
	SourceID    string     `json:"source_id,omitempty"`
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	Location    string     `json:"location"`
	Description string     `json:"description"`
	URL         string     `json:"url"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

// Canonical is the normalized shape every posting takes after adaptation.
// Two postings with equal fingerprints are the same logical job regardless
// of source or URL.
type Canonical struct {
	Source          Source     `json:"source"`
	SourceID        string     `json:"source_id,omitempty"`
	Title           string     `json:"title"`
	Company         string     `json:"company"`
	Location        string     `json:"location"`
	Description     string     `json:"description"`
	URL             string     `json:"url"`
	PostedAt        *time.Time `json:"posted_at,omitempty"`
	Fingerprint     string     `json:"fingerprint"`
	ExtractedSkills []string   `json:"extracted_skills"`
}

// SkillSet returns the extracted skills as a lookup set.
func (c *Canonical) SkillSet() map[string]bool {
	set := make(map[string]bool, len(c.ExtractedSkills))
	for _, s := range c.ExtractedSkills {
		set[s] = true
	}
	return set
}
