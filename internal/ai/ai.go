package ai

import (
	"context"

	"github.com/arpitpandey/jobagent/internal/posting"
	"github.com/arpitpandey/jobagent/internal/profile"
)

// Similarity computes a bounded semantic similarity between two texts.
// Implementations must be deterministic for identical inputs and return
// values in [0,1], higher meaning more similar.
type Similarity interface {
	Similarity(ctx context.Context, a, b string) (float64, error)
}

// LetterRequest carries the context a cover-letter generator needs for one
// selected posting.
type LetterRequest struct {
	Profile     *profile.CandidateProfile
	Posting     *posting.Canonical
	Explanation string
}

// LetterGenerator produces an application letter for a matched posting and
// returns the path it was persisted to.
type LetterGenerator interface {
	Generate(ctx context.Context, req LetterRequest) (path string, err error)
}
