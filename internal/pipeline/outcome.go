package pipeline

import (
	"github.com/arpitpandey/jobagent/internal/match"
	"github.com/arpitpandey/jobagent/internal/posting"
)

// OutcomeStatus classifies what happened to one selected posting.
type OutcomeStatus string

const (
	OutcomeSubmitted OutcomeStatus = "submitted"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// Outcome is the per-posting entry in a batch result.
type Outcome struct {
	Fingerprint string        `json:"fingerprint"`
	Title       string        `json:"title"`
	Company     string        `json:"company"`
	Source      posting.Source `json:"source"`
	URL         string        `json:"url"`
	Rank        int           `json:"rank"`
	FinalScore  float64       `json:"final_score"`
	Status      OutcomeStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	LetterPath  string        `json:"cover_letter_path,omitempty"`
}

// Counts aggregates a batch.
type Counts struct {
	Raw       int `json:"raw"`
	Dropped   int `json:"dropped"`
	Deduped   int `json:"deduped"`
	Selected  int `json:"selected"`
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// BatchResult is what one pipeline run returns: a per-posting outcome list
// plus aggregate counts.
type BatchResult struct {
	BatchID  string          `json:"batch_id"`
	Counts   Counts          `json:"counts"`
	Outcomes []Outcome       `json:"outcomes"`
	Selected []*match.Result `json:"-"`
}

func (b *BatchResult) addOutcome(r *match.Result, status OutcomeStatus, reason, letterPath string) {
	b.Outcomes = append(b.Outcomes, Outcome{
		Fingerprint: r.Posting.Fingerprint,
		Title:       r.Posting.Title,
		Company:     r.Posting.Company,
		Source:      r.Posting.Source,
		URL:         r.Posting.URL,
		Rank:        r.Rank,
		FinalScore:  r.FinalScore,
		Status:      status,
		Reason:      reason,
		LetterPath:  letterPath,
	})

	switch status {
	case OutcomeSubmitted:
		b.Counts.Submitted++
	case OutcomeFailed:
		b.Counts.Failed++
	case OutcomeSkipped:
		b.Counts.Skipped++
	}
}
