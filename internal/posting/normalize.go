package posting

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrMalformed marks postings that cannot be normalized. Such postings are
// dropped from the pool; the batch continues.
var ErrMalformed = errors.New("malformed posting")

const (
	// fingerprintDescLimit bounds how much of the description participates
	// in the fingerprint. Long enough to separate distinct roles, short
	// enough to survive per-board truncation of the tail.
	fingerprintDescLimit = 500

	fingerprintSep = "\x1f"
)

// DefaultVocabulary is the built-in controlled vocabulary scanned for in
// posting descriptions. Overridable via matching.vocabulary in the config.
var DefaultVocabulary = []string{
	"python", "java", "javascript", "typescript", "go", "c++", "c#", "sql",
	"aws", "azure", "gcp", "docker", "kubernetes", "git", "linux", "spark",
	"hadoop", "kafka", "airflow", "tensorflow", "pytorch", "scikit-learn",
	"machine learning", "deep learning", "data science", "nlp",
	"computer vision", "generative ai", "llm", "llms", "genai", "mlops",
	"pandas", "numpy", "tableau", "power bi", "excel", "react", "node.js",
	"django", "flask", "fastapi", "rest", "graphql", "postgresql", "mysql",
	"mongodb", "redis", "elasticsearch", "terraform", "ci/cd", "jenkins",
}

// Normalizer converts raw scraper output into canonical postings. It is
// pure: no I/O, no shared state mutation.
type Normalizer struct {
	vocabulary []string
}

// NewNormalizer builds a normalizer with the given skill vocabulary. An
// empty vocabulary falls back to the built-in one.
func NewNormalizer(vocabulary []string) *Normalizer {
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary
	}

	vocab := make([]string, 0, len(vocabulary))
	seen := make(map[string]bool, len(vocabulary))
	for _, term := range vocabulary {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true
		vocab = append(vocab, term)
	}
	sort.Strings(vocab)

	return &Normalizer{vocabulary: vocab}
}

// Normalize validates a raw posting and produces its canonical form,
// including the dedup fingerprint and extracted skills.
func (n *Normalizer) Normalize(raw Raw) (*Canonical, error) {
	title := strings.TrimSpace(raw.Title)
	company := strings.TrimSpace(raw.Company)
	description := strings.TrimSpace(raw.Description)

	if title == "" || company == "" || description == "" {
		return nil, fmt.Errorf("%w: source %s id %q requires title, company and description",
			ErrMalformed, raw.Source, raw.SourceID)
	}

	return &Canonical{
		Source:          raw.Source,
		SourceID:        raw.SourceID,
		Title:           title,
		Company:         company,
		Location:        strings.TrimSpace(raw.Location),
		Description:     description,
		URL:             strings.TrimSpace(raw.URL),
		PostedAt:        raw.PostedAt,
		Fingerprint: Fingerprint(company, title, description),
		// Skills come from the description only: titles name the role, not
		// its requirements, and would inflate the overlap denominator.
		ExtractedSkills: n.ExtractSkills(description),
	}, nil
}

// Fingerprint hashes the normalized company, title and description prefix.
// It is stable under re-scraping and identical across sources, which is
// what collapses mirrored postings into one logical job.
func Fingerprint(company, title, description string) string {
	desc := []rune(description)
	if len(desc) > fingerprintDescLimit {
		desc = desc[:fingerprintDescLimit]
	}

	payload := strings.Join([]string{
		collapse(company),
		collapse(title),
		collapse(string(desc)),
	}, fingerprintSep)

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ExtractSkills scans text for vocabulary terms using case-insensitive
// whole-word matches. Multi-word terms and suffixed tokens such as "c++"
// are matched as written.
func (n *Normalizer) ExtractSkills(text string) []string {
	haystack := collapse(text)

	var found []string
	for _, term := range n.vocabulary {
		if containsWord(haystack, term) {
			found = append(found, term)
		}
	}
	return found
}

// collapse lower-cases and squeezes all whitespace runs to single spaces.
func collapse(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// containsWord reports whether term occurs in haystack on word boundaries.
// Characters that are part of tech tokens (+ # . /) do not count as
// boundaries inside the term itself.
func containsWord(haystack, term string) bool {
	for start := 0; ; {
		idx := strings.Index(haystack[start:], term)
		if idx < 0 {
			return false
		}
		idx += start

		if boundaryBefore(haystack, idx) && boundaryAfter(haystack, idx+len(term)) {
			return true
		}
		start = idx + 1
	}
}

func boundaryBefore(s string, idx int) bool {
	if idx == 0 {
		return true
	}
	return !isTokenChar(rune(s[idx-1]))
}

func boundaryAfter(s string, idx int) bool {
	if idx >= len(s) {
		return true
	}
	return !isTokenChar(rune(s[idx]))
}

func isTokenChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '+', r == '#':
		return true
	default:
		return false
	}
}
