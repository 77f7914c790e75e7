package domain

import "time"

// SourceKind identifies how a source is harvested.
type SourceKind string

const (
	// KindRSS polls an RSS or Atom feed.
	KindRSS SourceKind = "rss"

	// KindAPI polls a JSON REST listing endpoint.
	KindAPI SourceKind = "api"

	// KindScrape polls an HTML listing page.
	KindScrape SourceKind = "scrape"
)

// Valid reports whether the kind is a known harvester kind.
func (k SourceKind) Valid() bool {
	switch k {
	case KindRSS, KindAPI, KindScrape:
		return true
	}
	return false
}

// Source represents one external origin of regulatory documents.
// Sources are created from configuration and are never deleted, only
// disabled, so document history stays attributable.
type Source struct {
	// ID is the stable identifier for the source.
	ID string

	// Kind identifies the harvester kind (rss, api, scrape).
	Kind SourceKind

	// Name is the human-readable name for this source.
	Name string

	// Endpoint is the feed URL, API endpoint, or listing page URL.
	Endpoint string

	// Config contains kind-specific configuration.
	Config map[string]string

	// Cadence is how often the source is polled.
	Cadence time.Duration

	// PolitenessDelay is the minimum spacing between requests to the
	// source's host. Scrape sources must honour it.
	PolitenessDelay time.Duration

	// MaxConsecutiveFailures is the failure count at which the source is
	// flagged degraded. Polling continues at the capped backoff interval.
	MaxConsecutiveFailures int

	// Enabled indicates whether the scheduler polls this source.
	Enabled bool

	// CreatedAt is when the source was first configured.
	CreatedAt time.Time

	// UpdatedAt is when the source configuration last changed.
	UpdatedAt time.Time
}

// ProcessingState tracks per-source polling progress. It is mutated only
// by the scheduler and the poll orchestrator, and lets a restarted process
// resume without reprocessing unchanged items.
type ProcessingState struct {
	// SourceID links to the Source being polled.
	SourceID string

	// Cursor is the opaque listing snapshot token from the last
	// successful poll.
	Cursor string

	// LastPoll is when the source was last polled, successfully or not.
	LastPoll time.Time

	// LastSuccess is when the last successful poll completed.
	LastSuccess time.Time

	// ConsecutiveFailures counts failed polls since the last success.
	ConsecutiveFailures int

	// LastError is the message from the most recent failed poll.
	LastError string
}

// Degraded reports whether the source has crossed its failure threshold.
func (s *ProcessingState) Degraded(maxFailures int) bool {
	if maxFailures <= 0 {
		return false
	}
	return s.ConsecutiveFailures >= maxFailures
}
