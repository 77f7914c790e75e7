package harvesters

import (
	"github.com/watchtower-labs/watchtower/internal/core/domain"
	"github.com/watchtower-labs/watchtower/internal/core/ports/driven"
	"github.com/watchtower-labs/watchtower/internal/harvesters/api"
	"github.com/watchtower-labs/watchtower/internal/harvesters/rss"
	"github.com/watchtower-labs/watchtower/internal/harvesters/scrape"
)

// RegisterAll registers every built-in harvester kind with the factory.
func RegisterAll(factory driven.AdapterFactory) {
	factory.Register(domain.KindRSS, func(source domain.Source) (driven.SourceAdapter, error) {
		return rss.New(source)
	})
	factory.Register(domain.KindAPI, func(source domain.Source) (driven.SourceAdapter, error) {
		return api.New(source)
	})
	factory.Register(domain.KindScrape, func(source domain.Source) (driven.SourceAdapter, error) {
		return scrape.New(source)
	})
}
