// Package harvesters wires the source adapter implementations into the
// adapter factory. Each harvester kind (rss, api, scrape) lives in its own
// subpackage and implements driven.SourceAdapter.
package harvesters
