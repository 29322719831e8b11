package tracker

import (
	"fmt"
	"time"
)

// Status is the application state for one (fingerprint, candidate) key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// ParseStatus validates a stored status value.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusSubmitted, StatusFailed, StatusSkipped:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// Key identifies one logical application: a deduplicated posting applied to
// by one candidate.
type Key struct {
	Fingerprint string
	CandidateID string
}

func (k Key) String() string {
	return k.Fingerprint + "/" + k.CandidateID
}

// Record is the persisted ledger entry for a key. Records are never
// deleted; the attempt counter preserves history.
type Record struct {
	Key             Key
	Status          Status
	Attempts        int
	LastAttemptAt   time.Time
	CoverLetterPath string
	Reason          string
	CreatedAt       time.Time
}

// allowedTransition encodes the state machine. Submitted is terminal.
// failed -> pending happens only through an explicit operator retry, and
// skipped -> pending only when a later batch selects the posting again.
func allowedTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSubmitted || to == StatusFailed || to == StatusSkipped
	case StatusFailed:
		return to == StatusPending || to == StatusSkipped
	case StatusSkipped:
		return to == StatusPending
	case StatusSubmitted:
		return false
	}
	return false
}
