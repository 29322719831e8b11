// Package pipeline sequences one batch run: normalize and dedup the scraped
// pool, score it against the candidate profile, rank and select, then submit
// in rank order with the application tracker consulted before and after
// every external call.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arpitpandey/jobagent/internal/ai"
	"github.com/arpitpandey/jobagent/internal/match"
	"github.com/arpitpandey/jobagent/internal/posting"
	"github.com/arpitpandey/jobagent/internal/profile"
	"github.com/arpitpandey/jobagent/internal/tracker"
)

// Submitter is the external submission-automator contract.
type Submitter interface {
	Submit(ctx context.Context, p *posting.Canonical, letterPath string) error
}

// Config carries the per-batch tuning knobs. Validation happens at startup
// in the cmd layer; the coordinator trusts its inputs.
type Config struct {
	CandidateID    string
	Threshold      float64
	TopK           int
	DailyCap       int
	SourcePriority []posting.Source
	SubmitDelay    time.Duration
	// DryRun stops after ranking: outcomes are reported but nothing is
	// submitted and the ledger is left untouched.
	DryRun bool
}

// Deps aggregates the coordinator's collaborators.
type Deps struct {
	Logger     *zap.Logger
	Normalizer *posting.Normalizer
	Scorer     *match.Scorer
	Tracker    *tracker.Tracker
	Letters    ai.LetterGenerator
	Submitter  Submitter
}

// Coordinator runs batches.
type Coordinator struct {
	cfg  Config
	deps Deps
	now  func() time.Time
}

func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Coordinator{cfg: cfg, deps: deps, now: time.Now}
}

// Run executes one full batch. Failures local to a single posting are
// recorded and the batch continues; only tracker persistence problems abort
// the run, because without the ledger no duplicate-prevention guarantee can
// be upheld.
func (c *Coordinator) Run(ctx context.Context, p *profile.CandidateProfile, raws []posting.Raw) (*BatchResult, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	result := &BatchResult{BatchID: uuid.NewString()}
	result.Counts.Raw = len(raws)

	logger := c.deps.Logger.With(zap.String("batch_id", result.BatchID))
	logger.Info("starting batch",
		zap.Int("raw_postings", len(raws)),
		zap.Float64("threshold", c.cfg.Threshold),
		zap.Int("top_k", c.cfg.TopK),
		zap.Int("daily_cap", c.cfg.DailyCap),
	)

	pool := c.normalize(logger, raws, result)
	deduped := posting.Dedup(pool, c.cfg.SourcePriority)
	result.Counts.Deduped = len(deduped)

	logger.Info("dedup step",
		zap.Int("initial", len(pool)),
		zap.Int("dropped", len(pool)-len(deduped)),
		zap.Int("left", len(deduped)),
	)

	scored, err := c.deps.Scorer.ScoreAll(ctx, p, deduped)
	if err != nil {
		return nil, fmt.Errorf("scoring pool: %w", err)
	}

	selected := match.Rank(scored, c.cfg.Threshold, c.cfg.TopK)
	result.Counts.Selected = len(selected)
	result.Selected = selected

	logger.Info("ranking step",
		zap.Int("initial", len(scored)),
		zap.Int("dropped", len(scored)-len(selected)),
		zap.Int("left", len(selected)),
	)

	if c.cfg.DryRun {
		for _, r := range selected {
			result.addOutcome(r, OutcomeSkipped, "dry run", "")
		}
	} else if err := c.submitAll(ctx, logger, p, selected, result); err != nil {
		return result, err
	}

	logger.Info("batch finished",
		zap.Int("submitted", result.Counts.Submitted),
		zap.Int("failed", result.Counts.Failed),
		zap.Int("skipped", result.Counts.Skipped),
		zap.Int("dropped", result.Counts.Dropped),
	)

	return result, nil
}

func (c *Coordinator) normalize(logger *zap.Logger, raws []posting.Raw, result *BatchResult) []*posting.Canonical {
	pool := make([]*posting.Canonical, 0, len(raws))
	for _, raw := range raws {
		canonical, err := c.deps.Normalizer.Normalize(raw)
		if err != nil {
			result.Counts.Dropped++
			logger.Warn("dropping malformed posting",
				zap.String("source", string(raw.Source)),
				zap.String("source_id", raw.SourceID),
				zap.Error(err),
			)
			continue
		}
		pool = append(pool, canonical)
	}

	logger.Info("normalize step",
		zap.Int("initial", len(raws)),
		zap.Int("dropped", result.Counts.Dropped),
		zap.Int("left", len(pool)),
	)

	return pool
}

func (c *Coordinator) submitAll(ctx context.Context, logger *zap.Logger, p *profile.CandidateProfile, selected []*match.Result, result *BatchResult) error {
	midnight := localMidnight(c.now())
	alreadySubmitted, err := c.deps.Tracker.SubmittedSince(ctx, midnight)
	if err != nil {
		return fmt.Errorf("reading daily submission count: %w", err)
	}

	remaining := c.cfg.DailyCap - alreadySubmitted
	limiter := newSourceLimiter(c.cfg.SubmitDelay)

	for _, r := range selected {
		// Cancellation takes effect between postings only; an attempt in
		// flight always gets its outcome recorded.
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := c.submitOne(ctx, logger, p, r, limiter, remaining)
		if err != nil {
			return err
		}

		result.addOutcome(r, outcome.status, outcome.reason, outcome.letterPath)
		if outcome.status == OutcomeSubmitted {
			remaining--
		}
	}

	return nil
}

type attemptOutcome struct {
	status     OutcomeStatus
	reason     string
	letterPath string
}

// submitOne processes a single selected posting under the tracker's per-key
// lock. Returned errors are tracker/persistence problems and abort the
// batch; everything else is folded into the recorded outcome.
func (c *Coordinator) submitOne(ctx context.Context, logger *zap.Logger, p *profile.CandidateProfile, r *match.Result, limiter *sourceLimiter, remaining int) (attemptOutcome, error) {
	key := tracker.Key{Fingerprint: r.Posting.Fingerprint, CandidateID: c.cfg.CandidateID}

	release := c.deps.Tracker.Lock(key)
	defer release()

	status, err := c.deps.Tracker.Begin(ctx, key)
	if err != nil {
		return attemptOutcome{}, fmt.Errorf("tracker begin %s: %w", key, err)
	}

	if status != tracker.StatusPending {
		reason := fmt.Sprintf("already %s", status)
		logger.Info("skipping posting", zap.String("key", key.String()), zap.String("reason", reason))
		return attemptOutcome{status: OutcomeSkipped, reason: reason}, nil
	}

	if remaining <= 0 {
		const reason = "daily submission cap reached"
		if err := c.deps.Tracker.RecordAttempt(ctx, key, tracker.Outcome{
			Status: tracker.StatusSkipped,
			Reason: reason,
		}); err != nil {
			return attemptOutcome{}, fmt.Errorf("recording skip for %s: %w", key, err)
		}
		return attemptOutcome{status: OutcomeSkipped, reason: reason}, nil
	}

	allowed, err := c.deps.Tracker.CanSubmit(ctx, key)
	if err != nil {
		return attemptOutcome{}, fmt.Errorf("tracker check %s: %w", key, err)
	}
	if !allowed {
		const reason = "tracker refused submission"
		return attemptOutcome{status: OutcomeSkipped, reason: reason}, nil
	}

	if err := limiter.Wait(ctx, r.Posting.Source); err != nil {
		return attemptOutcome{}, err
	}

	// From here on the attempt must complete and be recorded even if the
	// operator cancels; per-call timeouts still apply inside the
	// collaborators.
	attemptCtx := context.WithoutCancel(ctx)

	letterPath, letterErr := c.deps.Letters.Generate(attemptCtx, ai.LetterRequest{
		Profile:     p,
		Posting:     r.Posting,
		Explanation: r.Explanation,
	})

	var submitErr error
	if letterErr != nil {
		submitErr = fmt.Errorf("cover letter generation: %w", letterErr)
	} else {
		submitErr = c.deps.Submitter.Submit(attemptCtx, r.Posting, letterPath)
	}

	outcome := tracker.Outcome{CoverLetterPath: letterPath}
	if submitErr != nil {
		outcome.Status = tracker.StatusFailed
		outcome.Reason = submitErr.Error()
	} else {
		outcome.Status = tracker.StatusSubmitted
	}

	if err := c.deps.Tracker.RecordAttempt(attemptCtx, key, outcome); err != nil {
		return attemptOutcome{}, fmt.Errorf("recording attempt for %s: %w", key, err)
	}

	if submitErr != nil {
		logger.Warn("submission failed",
			zap.String("key", key.String()),
			zap.String("company", r.Posting.Company),
			zap.Error(submitErr),
		)
		return attemptOutcome{status: OutcomeFailed, reason: submitErr.Error(), letterPath: letterPath}, nil
	}

	logger.Info("submitted application",
		zap.String("key", key.String()),
		zap.String("company", r.Posting.Company),
		zap.String("title", r.Posting.Title),
		zap.Int("rank", r.Rank),
		zap.Float64("final_score", r.FinalScore),
	)

	return attemptOutcome{status: OutcomeSubmitted, letterPath: letterPath}, nil
}

func localMidnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
