package registry

import (
	"context"
	"net/http"

	"github.com/ampkernel/amp/config"
	"github.com/ampkernel/amp/logger"
)

// Load resolves the tool set for a run, consulting cache first when one is
// supplied. A cache hit skips Bootstrap entirely; a miss falls through to
// Bootstrap and populates the cache for next time. cache may be nil.
func Load(ctx context.Context, cfg *config.Config, httpClient *http.Client, cache *Cache, log logger.Logger) ([]Entry, error) {
	if log == nil {
		log = logger.NewDefaultLogger()
	}

	if cache != nil {
		if entries, ok := cache.Get(ctx); ok {
			log.Debug("tool registry served from cache", "count", len(entries))
			return entries, nil
		}
	}

	entries, err := Bootstrap(ctx, cfg, httpClient, log)
	if err != nil {
		return nil, err
	}

	if cache != nil {
		cache.Set(ctx, entries)
	}
	return entries, nil
}
