// Package driven defines the interfaces the core depends on: source
// adapters, extractors, stores, and the downstream publish and alert
// sinks. Implementations live under internal/harvesters,
// internal/extractors, and internal/adapters/driven.
package driven
