// Package driving defines the interfaces through which the outside world
// drives the core: the poll orchestrator and the publisher.
package driving
