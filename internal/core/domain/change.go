package domain

import "time"

// Decision is the change detector's verdict on a listing item before any
// full fetch happens.
type Decision string

const (
	// DecisionNew means the document id has never been seen.
	DecisionNew Decision = "new"

	// DecisionUnchanged means the listing's cursor token matches the
	// latest stored version; no fetch is needed.
	DecisionUnchanged Decision = "unchanged"

	// DecisionCandidate means the cursor token differs from the latest
	// stored version. The change must be confirmed by fetching and
	// comparing raw-byte fingerprints; source metadata alone is not
	// trusted.
	DecisionCandidate Decision = "candidate"
)

// ConfirmOutcome is the verdict after a candidate's artifact has been
// fetched and fingerprinted.
type ConfirmOutcome string

const (
	// OutcomeConfirmed means the fingerprint differs from the latest
	// version: a genuine change, a new Version is created.
	OutcomeConfirmed ConfirmOutcome = "confirmed"

	// OutcomeFalsePositive means the source declared a change but the
	// bytes are identical; the item is skipped.
	OutcomeFalsePositive ConfirmOutcome = "false-positive"

	// OutcomeDuplicate means the fingerprint already belongs to another
	// document; the documents are linked instead of re-published.
	OutcomeDuplicate ConfirmOutcome = "duplicate"
)

// PollResult is the recorded outcome of one poll of one source.
type PollResult struct {
	// SourceID identifies the polled source.
	SourceID string

	// StartedAt is when the poll began.
	StartedAt time.Time

	// EndedAt is when the poll finished.
	EndedAt time.Time

	// Success indicates the poll completed without a source-level error.
	Success bool

	// Error is the source-level error message when Success is false.
	Error string

	// ItemsListed is how many listing items the adapter returned.
	ItemsListed int

	// NewDocuments counts first-time documents observed.
	NewDocuments int

	// ConfirmedChanges counts versions created (including first versions).
	ConfirmedChanges int

	// FalsePositives counts cursor changes not confirmed by fingerprint.
	FalsePositives int

	// Duplicates counts cross-document fingerprint matches linked instead
	// of published.
	Duplicates int

	// Cursor is the listing snapshot token the poll resolved to, empty
	// when the poll had item-level failures and must not fast-skip the
	// next listing.
	Cursor string
}
