package domain

import "time"

// ListingItem is a lightweight reference to a candidate document, obtained
// from a source listing without a full fetch.
type ListingItem struct {
	// SourceID links to the Source that listed this item.
	SourceID string

	// NativeID is the source's stable identifier for the document
	// (feed GUID, API id, canonical URL). Document identity derives from
	// it, never from content.
	NativeID string

	// URL is where the full document is fetched from.
	URL string

	// Title is the listing-declared title, if any.
	Title string

	// CursorToken is the source-declared change marker (etag,
	// last-modified, revision). It selects candidates for fetching but is
	// never trusted as proof of change.
	CursorToken string

	// DeclaredModified is the source-declared modification time, if any.
	DeclaredModified time.Time
}
