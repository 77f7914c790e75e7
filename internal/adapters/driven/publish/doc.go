// Package publish implements the downstream analysis boundary sinks. The
// pipeline's contract ends at Deliver: a sink that returns nil has
// accepted the record, and the version is marked published. Consumers must
// tolerate at-least-once delivery keyed by document id + version id.
package publish
