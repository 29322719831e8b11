package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/arpitpandey/jobagent/internal/ai"
	"github.com/arpitpandey/jobagent/internal/match"
	"github.com/arpitpandey/jobagent/internal/posting"
	"github.com/arpitpandey/jobagent/internal/profile"
	"github.com/arpitpandey/jobagent/internal/tracker"
)

type stubSimilarity struct {
	score float64
}

func (s *stubSimilarity) Similarity(_ context.Context, _, _ string) (float64, error) {
	return s.score, nil
}

type fakeLetters struct {
	generated []string
	err       error
}

func (f *fakeLetters) Generate(_ context.Context, req ai.LetterRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	path := "letters/" + req.Posting.Fingerprint + ".txt"
	f.generated = append(f.generated, path)
	return path, nil
}

type fakeSubmitter struct {
	submitted []string
	// failFor lists companies whose submissions are refused.
	failFor map[string]bool
	// onSubmit runs before each submission when set.
	onSubmit func()
}

func (f *fakeSubmitter) Submit(_ context.Context, p *posting.Canonical, _ string) error {
	if f.onSubmit != nil {
		f.onSubmit()
	}
	if f.failFor[p.Company] {
		return errors.New("automator refused the submission")
	}
	f.submitted = append(f.submitted, p.Fingerprint)
	return nil
}

type fixture struct {
	coordinator *Coordinator
	store       *tracker.MemoryStore
	letters     *fakeLetters
	submitter   *fakeSubmitter
}

func newFixture(cfg Config) *fixture {
	if cfg.CandidateID == "" {
		cfg.CandidateID = "cand-1"
	}
	if cfg.TopK == 0 {
		cfg.TopK = 100
	}
	if cfg.DailyCap == 0 {
		cfg.DailyCap = 100
	}

	store := tracker.NewMemoryStore()
	letters := &fakeLetters{}
	submitter := &fakeSubmitter{}

	deps := Deps{
		Normalizer: posting.NewNormalizer(nil),
		Scorer:     match.NewScorer(&stubSimilarity{score: 1}, nil, match.ScorerConfig{}),
		Tracker:    tracker.New(store, nil),
		Letters:    letters,
		Submitter:  submitter,
	}

	return &fixture{
		coordinator: NewCoordinator(cfg, deps),
		store:       store,
		letters:     letters,
		submitter:   submitter,
	}
}

func testProfile() *profile.CandidateProfile {
	return &profile.CandidateProfile{
		Name:            "Test Candidate",
		Skills:          []string{"python", "sql"},
		Titles:          []string{"data engineer"},
		ExperienceYears: 3,
	}
}

func rawPostings(n int) []posting.Raw {
	raws := make([]posting.Raw, 0, n)
	for i := range n {
		raws = append(raws, posting.Raw{
			Source:      posting.SourceLinkedin,
			SourceID:    fmt.Sprintf("job-%d", i),
			Title:       "Data Engineer",
			Company:     fmt.Sprintf("Company %d", i),
			Description: "Build pipelines with Python and SQL.",
		})
	}
	return raws
}

func (f *fixture) record(t *testing.T, fp string) *tracker.Record {
	t.Helper()

	rec, err := f.store.Get(context.Background(), tracker.Key{Fingerprint: fp, CandidateID: "cand-1"})
	if err != nil {
		t.Fatalf("reading record %s: %v", fp, err)
	}
	return rec
}

func TestRunSubmitsSelectedPostings(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})

	result, err := f.coordinator.Run(context.Background(), testProfile(), rawPostings(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Counts.Submitted != 3 {
		t.Fatalf("expected 3 submissions, got %d", result.Counts.Submitted)
	}
	if len(f.submitter.submitted) != 3 {
		t.Fatalf("expected 3 automator calls, got %d", len(f.submitter.submitted))
	}
	if len(f.letters.generated) != 3 {
		t.Fatalf("expected a cover letter per submission, got %d", len(f.letters.generated))
	}

	for _, fp := range f.submitter.submitted {
		if rec := f.record(t, fp); rec.Status != tracker.StatusSubmitted {
			t.Fatalf("expected %s recorded as submitted, got %s", fp, rec.Status)
		}
	}
}

func TestRunDropsMalformedAndDuplicates(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})

	raws := rawPostings(2)
	// Duplicate of the first posting from another board.
	dup := raws[0]
	dup.Source = posting.SourceIndeed
	raws = append(raws, dup, posting.Raw{Source: posting.SourceIndeed, Title: "No company"})

	result, err := f.coordinator.Run(context.Background(), testProfile(), raws)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Counts.Raw != 4 {
		t.Fatalf("expected 4 raw postings, got %d", result.Counts.Raw)
	}
	if result.Counts.Dropped != 1 {
		t.Fatalf("expected 1 malformed posting dropped, got %d", result.Counts.Dropped)
	}
	if result.Counts.Deduped != 2 {
		t.Fatalf("expected 2 postings after dedup, got %d", result.Counts.Deduped)
	}
	if result.Counts.Submitted != 2 {
		t.Fatalf("expected 2 submissions, got %d", result.Counts.Submitted)
	}
}

func TestRunRejectsInvalidProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})

	if _, err := f.coordinator.Run(context.Background(), &profile.CandidateProfile{Name: "Empty"}, rawPostings(1)); err == nil {
		t.Fatal("expected an invalid profile to be rejected")
	}
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{DryRun: true})

	result, err := f.coordinator.Run(context.Background(), testProfile(), rawPostings(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Counts.Skipped != 2 || result.Counts.Submitted != 0 {
		t.Fatalf("expected all postings skipped, got %+v", result.Counts)
	}
	if len(f.submitter.submitted) != 0 {
		t.Fatalf("expected no automator calls, got %d", len(f.submitter.submitted))
	}
	if len(f.letters.generated) != 0 {
		t.Fatalf("expected no cover letters, got %d", len(f.letters.generated))
	}

	records, err := f.store.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected the ledger untouched, got %d records", len(records))
	}
}

func TestRunEnforcesDailyCap(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{DailyCap: 5})

	result, err := f.coordinator.Run(context.Background(), testProfile(), rawPostings(8))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Counts.Submitted != 5 {
		t.Fatalf("expected the cap to stop at 5 submissions, got %d", result.Counts.Submitted)
	}
	if result.Counts.Skipped != 3 {
		t.Fatalf("expected 3 capped postings skipped, got %d", result.Counts.Skipped)
	}

	capped := 0
	for _, o := range result.Outcomes {
		if o.Status == OutcomeSkipped {
			if o.Reason != "daily submission cap reached" {
				t.Fatalf("expected the cap reason, got %q", o.Reason)
			}
			if rec := f.record(t, o.Fingerprint); rec.Status != tracker.StatusSkipped {
				t.Fatalf("expected a skipped ledger record, got %s", rec.Status)
			}
			capped++
		}
	}
	if capped != 3 {
		t.Fatalf("expected 3 skipped outcomes, got %d", capped)
	}
}

func TestRunCountsEarlierSubmissionsAgainstCap(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{DailyCap: 5})

	// Three submissions already landed today for other postings.
	trk := tracker.New(f.store, nil)
	ctx := context.Background()
	for i := range 3 {
		key := tracker.Key{Fingerprint: fmt.Sprintf("earlier-%d", i), CandidateID: "cand-1"}
		if _, err := trk.Begin(ctx, key); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := trk.RecordAttempt(ctx, key, tracker.Outcome{Status: tracker.StatusSubmitted}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := f.coordinator.Run(ctx, testProfile(), rawPostings(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Counts.Submitted != 2 {
		t.Fatalf("expected 2 remaining submissions under the cap, got %d", result.Counts.Submitted)
	}
	if result.Counts.Skipped != 2 {
		t.Fatalf("expected 2 postings capped, got %d", result.Counts.Skipped)
	}
}

func TestRunSkipsAlreadySubmitted(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	ctx := context.Background()

	raws := rawPostings(2)
	fp := posting.Fingerprint(raws[0].Company, raws[0].Title, raws[0].Description)

	// The first posting was already submitted by an earlier run.
	trk := tracker.New(f.store, nil)
	key := tracker.Key{Fingerprint: fp, CandidateID: "cand-1"}
	if _, err := trk.Begin(ctx, key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := trk.RecordAttempt(ctx, key, tracker.Outcome{Status: tracker.StatusSubmitted}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := f.coordinator.Run(ctx, testProfile(), raws)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Counts.Submitted != 1 {
		t.Fatalf("expected only the fresh posting submitted, got %d", result.Counts.Submitted)
	}
	if result.Counts.Skipped != 1 {
		t.Fatalf("expected the earlier submission skipped, got %d", result.Counts.Skipped)
	}
	for _, o := range result.Outcomes {
		if o.Fingerprint == fp && !strings.Contains(o.Reason, "already submitted") {
			t.Fatalf("expected an already-submitted reason, got %q", o.Reason)
		}
	}

	if rec := f.record(t, fp); rec.Attempts != 1 {
		t.Fatalf("expected no second attempt on a submitted record, got %d", rec.Attempts)
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	f.submitter.failFor = map[string]bool{"Company 1": true}

	result, err := f.coordinator.Run(context.Background(), testProfile(), rawPostings(3))
	if err != nil {
		t.Fatalf("expected the batch to continue past a failed submission, got %v", err)
	}

	if result.Counts.Submitted != 2 {
		t.Fatalf("expected 2 submissions, got %d", result.Counts.Submitted)
	}
	if result.Counts.Failed != 1 {
		t.Fatalf("expected 1 failure, got %d", result.Counts.Failed)
	}

	for _, o := range result.Outcomes {
		if o.Company != "Company 1" {
			continue
		}
		if o.Status != OutcomeFailed {
			t.Fatalf("expected a failed outcome, got %s", o.Status)
		}
		rec := f.record(t, o.Fingerprint)
		if rec.Status != tracker.StatusFailed {
			t.Fatalf("expected a failed ledger record, got %s", rec.Status)
		}
		if rec.Reason == "" {
			t.Fatal("expected the failure reason to be recorded")
		}
	}
}

func TestRunRecordsLetterFailureAsFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	f.letters.err = errors.New("letter model unavailable")

	result, err := f.coordinator.Run(context.Background(), testProfile(), rawPostings(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Counts.Failed != 1 {
		t.Fatalf("expected the posting to fail, got %+v", result.Counts)
	}
	if len(f.submitter.submitted) != 0 {
		t.Fatal("expected no submission without a cover letter")
	}
}

func TestRunStopsBetweenPostingsOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel while the first submission is in flight; the attempt must still
	// be recorded before the batch stops.
	f.submitter.onSubmit = cancel

	result, err := f.coordinator.Run(ctx, testProfile(), rawPostings(3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if result.Counts.Submitted != 1 {
		t.Fatalf("expected the in-flight submission to complete, got %d", result.Counts.Submitted)
	}
	if len(f.submitter.submitted) != 1 {
		t.Fatalf("expected no further submissions after cancellation, got %d", len(f.submitter.submitted))
	}

	rec := f.record(t, f.submitter.submitted[0])
	if rec.Status != tracker.StatusSubmitted {
		t.Fatalf("expected the in-flight attempt recorded, got %s", rec.Status)
	}
}

func TestSourceLimiterPacesPerSource(t *testing.T) {
	t.Parallel()

	limiter := newSourceLimiter(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := limiter.Wait(ctx, posting.SourceLinkedin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := limiter.Wait(ctx, posting.SourceIndeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Fatalf("expected independent sources not to wait on each other, took %v", elapsed)
	}

	start = time.Now()
	if err := limiter.Wait(ctx, posting.SourceLinkedin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("expected the second submission to the same source to wait, took %v", elapsed)
	}
}

func TestSourceLimiterZeroDelay(t *testing.T) {
	t.Parallel()

	limiter := newSourceLimiter(0)
	for range 3 {
		if err := limiter.Wait(context.Background(), posting.SourceLinkedin); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}
