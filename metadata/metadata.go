// Package metadata produces link previews. Each platform has an adapter;
// anything unrecognized goes through the generic OpenGraph/Twitter-card
// scraper.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/metrics"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/platform"
	"github.com/docutag/linkmeta/urlguard"
)

// ErrNotFound is returned when a platform has no entry for the URL and no
// fallback applies
var ErrNotFound = errors.New("metadata not found")

// Outcome distinguishes complete, degraded and missing results
type Outcome int

const (
	Found Outcome = iota
	Degraded
	NotFound
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case Degraded:
		return "degraded"
	case NotFound:
		return "not_found"
	}
	return "unknown"
}

// Result is what an adapter returns. Degraded results are valid but
// incomplete; Reason says why.
type Result struct {
	Outcome  Outcome
	Metadata *models.ScrapedMetadata
	Reason   string
	// Base is the URL relative references resolve against, normally the
	// final page URL after redirects
	Base *url.URL
}

func found(m *models.ScrapedMetadata, base *url.URL) Result {
	return Result{Outcome: Found, Metadata: m, Base: base}
}

func degraded(m *models.ScrapedMetadata, base *url.URL, reason string) Result {
	return Result{Outcome: Degraded, Metadata: m, Base: base, Reason: reason}
}

func notFound(reason string) Result {
	return Result{Outcome: NotFound, Reason: reason}
}

// Adapter scrapes one kind of URL
type Adapter interface {
	Scrape(ctx context.Context, u *url.URL) (Result, error)
}

// AdapterFunc lets a function act as an Adapter
type AdapterFunc func(ctx context.Context, u *url.URL) (Result, error)

func (f AdapterFunc) Scrape(ctx context.Context, u *url.URL) (Result, error) {
	return f(ctx, u)
}

// Endpoints are the platform APIs adapters call. Tests point them at local
// servers.
type Endpoints struct {
	YouTubeOEmbed     string `yaml:"youtube_oembed"`
	RedditAPI         string `yaml:"reddit_api"`
	NYTimesOEmbedJSON string `yaml:"nytimes_oembed_json"`
	NYTimesOEmbedHTML string `yaml:"nytimes_oembed_html"`
	IMDbSuggest       string `yaml:"imdb_suggest"`
}

// DefaultEndpoints returns the public production endpoints
func DefaultEndpoints() Endpoints {
	return Endpoints{
		YouTubeOEmbed:     "https://www.youtube.com/oembed",
		RedditAPI:         "https://www.reddit.com",
		NYTimesOEmbedJSON: "https://www.nytimes.com/svc/oembed/json/",
		NYTimesOEmbedHTML: "https://www.nytimes.com/svc/oembed/html/",
		IMDbSuggest:       "https://v3.sg.media-imdb.com/suggestion/x",
	}
}

// AdapterConfig toggles and tunes one platform adapter
type AdapterConfig struct {
	Enabled bool          `yaml:"enabled"`
	Fetch   fetch.Options `yaml:"fetch"`
}

// Config configures the Service
type Config struct {
	Adapters  map[models.Platform]AdapterConfig `yaml:"adapters"`
	Endpoints Endpoints                         `yaml:"endpoints"`
	Fetch     fetch.Options                     `yaml:"fetch"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerOpen      time.Duration `yaml:"breaker_open"`
}

// DefaultConfig enables every adapter except Digg, whose pages are routed
// through the generic scraper.
func DefaultConfig() Config {
	adapters := map[models.Platform]AdapterConfig{
		models.PlatformYouTube: {Enabled: true, Fetch: fetch.Options{Timeout: 5 * time.Second}},
		models.PlatformReddit:  {Enabled: true, Fetch: fetch.Options{Timeout: 5 * time.Second}},
		models.PlatformNYTimes: {Enabled: true},
		models.PlatformIMDb:    {Enabled: true, Fetch: fetch.Options{Timeout: 5 * time.Second}},
		models.PlatformDigg:    {Enabled: false},
		models.PlatformGeneric: {Enabled: true},
	}
	return Config{
		Adapters:         adapters,
		Endpoints:        DefaultEndpoints(),
		Fetch:            fetch.DefaultOptions(),
		BreakerThreshold: 3,
		BreakerOpen:      5 * time.Minute,
	}
}

// Enabled reports whether a platform's dedicated adapter is switched on.
// Platforms without an entry are enabled.
func (c Config) Enabled(p models.Platform) bool {
	ac, ok := c.Adapters[p]
	return !ok || ac.Enabled
}

// OptionsFor returns the fetch options for a platform's adapter
func (c Config) OptionsFor(p models.Platform) fetch.Options {
	return c.Adapters[p].Fetch.WithDefaults(c.Fetch.WithDefaults(fetch.DefaultOptions()))
}

// Deps is what adapter constructors receive
type Deps struct {
	Client    *fetch.Client
	Options   fetch.Options
	Endpoints Endpoints
	// Generic is the fallback for URLs a platform adapter cannot handle
	Generic Adapter
}

// Service picks the adapter for a platform and normalizes its output
type Service struct {
	cfg      Config
	generic  Adapter
	adapters map[models.Platform]Adapter
	breaker  *circuitBreaker
}

// NewService builds a Service. adapters holds the dedicated adapter for each
// platform; platforms without one use generic.
func NewService(cfg Config, generic Adapter, adapters map[models.Platform]Adapter) *Service {
	return &Service{
		cfg:      cfg,
		generic:  generic,
		adapters: adapters,
		breaker:  newCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerOpen),
	}
}

// Scrape returns normalized metadata. NotFound outcomes become an error
// wrapping ErrNotFound; Degraded outcomes are returned as metadata.
func (s *Service) Scrape(ctx context.Context, u *url.URL, p models.Platform) (*models.ScrapedMetadata, error) {
	res, err := s.ScrapeResult(ctx, u, p)
	if err != nil {
		return nil, err
	}
	if res.Outcome == NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, res.Reason)
	}
	return res.Metadata, nil
}

// ScrapeResult runs the adapter and returns the uncollapsed result
func (s *Service) ScrapeResult(ctx context.Context, u *url.URL, p models.Platform) (Result, error) {
	adapter, dedicated := s.adapterFor(p)

	res, err := adapter.Scrape(ctx, u)
	if err != nil {
		if dedicated && tripsBreaker(err) {
			s.breaker.recordFailure(p, err)
		}
		metrics.MetadataScrapes.WithLabelValues(string(p), "error").Inc()
		return Result{}, err
	}
	if dedicated && res.Outcome == Found {
		s.breaker.recordSuccess(p)
	}

	metrics.MetadataScrapes.WithLabelValues(string(p), res.Outcome.String()).Inc()
	if res.Outcome == Degraded {
		slog.Info("metadata degraded", "url", u.String(), "platform", p, "reason", res.Reason)
	}

	if res.Metadata != nil {
		base := res.Base
		if base == nil {
			base = u
		}
		normalize(res.Metadata, base, u)
		res.Metadata.SetRaw("platform", string(p))
	}
	return res, nil
}

// withoutFallback lists platforms whose adapter is authoritative: a missing
// entry is an error, never a page scrape. The breaker does not reroute them.
var withoutFallback = map[models.Platform]bool{
	models.PlatformIMDb: true,
}

func (s *Service) adapterFor(p models.Platform) (Adapter, bool) {
	if p == models.PlatformGeneric {
		return s.generic, false
	}
	adapter, ok := s.adapters[p]
	if !ok || !s.cfg.Enabled(p) {
		return s.generic, false
	}
	if withoutFallback[p] {
		return adapter, false
	}
	if !s.breaker.canAttempt(p) {
		slog.Debug("circuit open, using generic scraper", "platform", p)
		return s.generic, false
	}
	return adapter, true
}

// Validation failures and caller cancellation say nothing about the
// platform's health
func tripsBreaker(err error) bool {
	var ve *urlguard.ValidationError
	if errors.As(err, &ve) || errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, fetch.ErrNetwork) || errors.Is(err, ErrNotFound)
}

// normalize makes every image and favicon URL absolute, drops duplicates
// and data: URIs, and fills the domain.
func normalize(m *models.ScrapedMetadata, base, original *url.URL) {
	if m.Image != nil {
		m.Image = models.StringPtr(resolveURL(base, *m.Image))
	}
	if m.Favicon != nil {
		m.Favicon = models.StringPtr(resolveURL(base, *m.Favicon))
	}

	images := make([]string, 0, len(m.Images)+1)
	seen := make(map[string]bool)
	add := func(ref string) {
		abs := resolveURL(base, ref)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		images = append(images, abs)
	}
	if m.Image != nil {
		add(*m.Image)
	}
	for _, img := range m.Images {
		add(img)
	}
	m.Images = images

	if m.Domain == "" {
		m.Domain = platform.Domain(original)
	}
}
