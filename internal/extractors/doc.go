// Package extractors provides implementations of the Extractor interface
// for the document formats regulators publish. Each extractor knows how to
// produce normalized text from a specific content type.
//
// Extractors are registered with the Registry at startup; the registry
// dispatches by declared content type and priority.
package extractors
