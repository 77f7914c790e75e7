// Package services contains the core pipeline logic: the change detector,
// the poll orchestrator, the fetch scheduler, and the publisher. Services
// depend only on the ports; adapters are injected at startup.
package services
