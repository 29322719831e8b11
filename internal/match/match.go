package match

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arpitpandey/jobagent/internal/ai"
	"github.com/arpitpandey/jobagent/internal/posting"
	"github.com/arpitpandey/jobagent/internal/profile"
	"github.com/arpitpandey/jobagent/internal/utils"
)

// Result is one scored (profile, posting) pair.
type Result struct {
	Posting       *posting.Canonical
	SemanticScore float64
	SkillOverlap  []string
	SkillGap      []string
	FinalScore    float64
	Rank          int
	// Degraded marks results whose semantic score was zeroed because the
	// similarity capability kept failing. The result is kept and surfaced.
	Degraded    bool
	Explanation string
}

// Scorer combines semantic similarity with explicit skill overlap.
type Scorer struct {
	similarity  ai.Similarity
	logger      *zap.Logger
	alpha       float64
	maxRetries  int
	retryDelay  time.Duration
	concurrency int
}

// ScorerConfig tunes the scorer. Zero retry, delay and concurrency values
// fall back to defaults. Alpha is taken as configured: 0 is a legal weight
// meaning pure skill-overlap scoring, so the config layer owns its default.
type ScorerConfig struct {
	Alpha       float64
	MaxRetries  int
	RetryDelay  time.Duration
	Concurrency int
}

func NewScorer(similarity ai.Similarity, logger *zap.Logger, cfg ScorerConfig) *Scorer {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Scorer{
		similarity:  similarity,
		logger:      logger,
		alpha:       cfg.Alpha,
		maxRetries:  retries,
		retryDelay:  delay,
		concurrency: concurrency,
	}
}

// Score computes the match result for a single posting. Transient
// similarity failures are retried with exponential backoff; once the bound
// is exhausted the result is kept with a zero semantic score and flagged
// degraded instead of failing the posting.
func (s *Scorer) Score(ctx context.Context, p *profile.CandidateProfile, c *posting.Canonical) (*Result, error) {
	overlap, gap := skillSets(p.SkillSet(), c.ExtractedSkills)

	semantic, degraded, err := s.semanticScore(ctx, p.SearchText(), postingText(c))
	if err != nil {
		return nil, err
	}

	skillTerm := 0.0
	if len(c.ExtractedSkills) > 0 {
		skillTerm = float64(len(overlap)) / float64(len(c.ExtractedSkills))
	}

	final := s.alpha*semantic + (1-s.alpha)*skillTerm

	return &Result{
		Posting:       c,
		SemanticScore: semantic,
		SkillOverlap:  overlap,
		SkillGap:      gap,
		FinalScore:    clamp01(final),
		Degraded:      degraded,
	}, nil
}

// ScoreAll scores the pool on a bounded worker pool. Output order matches
// input order; ranking re-sorts deterministically afterwards anyway.
func (s *Scorer) ScoreAll(ctx context.Context, p *profile.CandidateProfile, pool []*posting.Canonical) ([]*Result, error) {
	results := make([]*Result, len(pool))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, c := range pool {
		g.Go(func() error {
			r, err := s.Score(ctx, p, c)
			if err != nil {
				return fmt.Errorf("scoring %s: %w", c.Fingerprint, err)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// semanticScore calls the similarity capability with bounded retries. Only
// context cancellation is returned as an error; everything else degrades.
func (s *Scorer) semanticScore(ctx context.Context, profileText, postingText string) (score float64, degraded bool, err error) {
	var lastErr error

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.retryDelay * time.Duration(1<<(attempt-1))
			if err := utils.WaitFor(ctx, backoff); err != nil {
				return 0, false, err
			}
		}

		score, lastErr = s.similarity.Similarity(ctx, profileText, postingText)
		if lastErr == nil {
			return clamp01(score), false, nil
		}

		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}

		if s.logger != nil {
			s.logger.Warn("similarity call failed",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", s.maxRetries),
				zap.Error(lastErr),
			)
		}
	}

	if s.logger != nil {
		s.logger.Warn("similarity retries exhausted; scoring degraded", zap.Error(lastErr))
	}

	return 0, true, nil
}

func postingText(c *posting.Canonical) string {
	return c.Title + ". " + c.Description
}

func skillSets(profileSkills map[string]bool, extracted []string) (overlap, gap []string) {
	for _, skill := range extracted {
		if profileSkills[skill] {
			overlap = append(overlap, skill)
		} else {
			gap = append(gap, skill)
		}
	}
	sort.Strings(overlap)
	sort.Strings(gap)
	return overlap, gap
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
