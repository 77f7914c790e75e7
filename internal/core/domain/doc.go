// Package domain contains the core entities of the watchtower pipeline:
// sources, listings, raw artifacts, document records with their ordered
// versions, and the change-decision vocabulary. It has no dependencies on
// adapters or infrastructure.
package domain
