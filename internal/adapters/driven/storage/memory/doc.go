// Package memory provides in-memory implementations of the driven store
// ports. They enforce the same invariants as the sqlite package and are
// used in tests and for ephemeral runs where persistence is not wanted.
package memory
