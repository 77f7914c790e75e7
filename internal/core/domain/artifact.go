package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawArtifact is one fetch result: the raw bytes of a document as
// retrieved from its origin. It is immutable once created and is owned by
// the pipeline run that produced it until handed to extraction.
type RawArtifact struct {
	// SourceID links to the Source the artifact was fetched for.
	SourceID string

	// OriginURL is where the bytes were fetched from.
	OriginURL string

	// ContentType is the declared content type (e.g. "application/pdf").
	ContentType string

	// Body is the raw fetched bytes.
	Body []byte

	// RetrievedAt is when the fetch completed.
	RetrievedAt time.Time
}

// Fingerprint is a deterministic digest of raw fetched bytes. Change
// confirmation and deduplication compare fingerprints of raw bytes, never
// of extracted text, so extractor behaviour cannot mask a real change.
type Fingerprint string

// ComputeFingerprint digests raw bytes into a Fingerprint.
func ComputeFingerprint(body []byte) Fingerprint {
	sum := sha256.Sum256(body)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Fingerprint returns the digest of the artifact's body.
func (a *RawArtifact) Fingerprint() Fingerprint {
	return ComputeFingerprint(a.Body)
}
