package linkmeta

import (
	"net/url"

	"github.com/docutag/linkmeta/article"
	"github.com/docutag/linkmeta/metadata"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/platform"
)

// registryEntry binds a platform to its URL predicate and adapters. A nil
// constructor means the platform uses the generic adapter for that concern.
type registryEntry struct {
	platform models.Platform
	match    func(host, path string) bool
	metadata func(metadata.Deps) metadata.Adapter
	article  func(article.Deps) article.Adapter
}

func hostIn(domains []string) func(host, path string) bool {
	return func(host, _ string) bool {
		return platform.HostMatches(host, domains...)
	}
}

// registry is checked in order; the first match wins. Adding a platform
// means adding a row here.
var registry = []registryEntry{
	{platform: models.PlatformYouTube, match: hostIn(platform.YouTubeHosts), metadata: metadata.NewYouTube},
	{platform: models.PlatformReddit, match: hostIn(platform.RedditHosts), metadata: metadata.NewReddit},
	{platform: models.PlatformNYTimes, match: hostIn(platform.NYTimesHosts), metadata: metadata.NewNYTimes},
	{platform: models.PlatformIMDb, match: hostIn(platform.IMDbHosts), metadata: metadata.NewIMDb},
	{platform: models.PlatformWikipedia, match: hostIn(platform.WikipediaHosts), article: article.NewWikipedia},
	{platform: models.PlatformDigg, match: hostIn(platform.DiggHosts), metadata: metadata.NewDigg},
}

// classify returns the platform of the first matching registry row
func classify(u *url.URL) models.Platform {
	host := platform.Hostname(u)
	for _, entry := range registry {
		if entry.match(host, u.Path) {
			return entry.platform
		}
	}
	return models.PlatformGeneric
}
