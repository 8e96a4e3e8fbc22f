// Package linkmeta turns user-supplied URLs into link previews, reader-mode
// article content and link health reports. All outbound requests pass an
// SSRF guard.
package linkmeta

import (
	"context"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docutag/linkmeta/article"
	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/linkcheck"
	"github.com/docutag/linkmeta/metadata"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/platform"
	"github.com/docutag/linkmeta/urlguard"
)

const tracerName = "github.com/docutag/linkmeta"

// Config contains scraper configuration
type Config struct {
	Guard      urlguard.Guard   `yaml:"-"`
	BrowserTLS bool             `yaml:"browser_tls"` // Present a Firefox TLS fingerprint
	Fetch      fetch.Options    `yaml:"fetch"`
	Metadata   metadata.Config  `yaml:"metadata"`
	Article    article.Config   `yaml:"article"`
	LinkCheck  linkcheck.Config `yaml:"link_check"`

	// Transport replaces the outbound round tripper. Used by tests.
	Transport http.RoundTripper `yaml:"-"`
}

// DefaultConfig returns default scraper configuration
func DefaultConfig() Config {
	return Config{
		Fetch:     fetch.DefaultOptions(),
		Metadata:  metadata.DefaultConfig(),
		Article:   article.DefaultConfig(),
		LinkCheck: linkcheck.DefaultConfig(),
	}
}

// Scraper exposes the engine operations. It holds no per-request state and
// is safe for concurrent use.
type Scraper struct {
	config   Config
	client   *fetch.Client
	metadata *metadata.Service
	articles *article.Extractor
	links    *linkcheck.Checker
	tracer   trace.Tracer
}

// New creates a new Scraper instance
func New(config Config) *Scraper {
	client := fetch.NewClient(fetch.Config{
		Guard:      config.Guard,
		Defaults:   config.Fetch,
		BrowserTLS: config.BrowserTLS,
		Transport:  config.Transport,
	})

	return &Scraper{
		config:   config,
		client:   client,
		metadata: newMetadataService(client, config.Metadata),
		articles: newArticleExtractor(client, config.Article),
		links:    linkcheck.NewChecker(client, config.LinkCheck),
		tracer:   otel.Tracer(tracerName),
	}
}

func newMetadataService(client *fetch.Client, cfg metadata.Config) *metadata.Service {
	generic := metadata.NewGeneric(metadata.Deps{
		Client:    client,
		Options:   cfg.OptionsFor(models.PlatformGeneric),
		Endpoints: cfg.Endpoints,
	})

	adapters := make(map[models.Platform]metadata.Adapter)
	for _, entry := range registry {
		if entry.metadata == nil {
			continue
		}
		adapters[entry.platform] = entry.metadata(metadata.Deps{
			Client:    client,
			Options:   cfg.OptionsFor(entry.platform),
			Endpoints: cfg.Endpoints,
			Generic:   generic,
		})
	}
	return metadata.NewService(cfg, generic, adapters)
}

func newArticleExtractor(client *fetch.Client, cfg article.Config) *article.Extractor {
	deps := article.Deps{
		Client:        client,
		Options:       cfg.Fetch,
		Engine:        cfg.Engine,
		WikipediaBase: cfg.WikipediaBase,
	}
	deps.Generic = article.NewGeneric(deps)

	adapters := make(map[models.Platform]article.Adapter)
	for _, entry := range registry {
		if entry.article != nil {
			adapters[entry.platform] = entry.article(deps)
		}
	}
	return article.NewExtractor(cfg, deps.Generic, adapters)
}

// ValidateExternalURL checks that rawURL is an http(s) URL that does not
// point at a private or loopback host. No DNS lookup is made.
func (s *Scraper) ValidateExternalURL(rawURL string) (urlguard.ValidURL, error) {
	return s.config.Guard.Validate(rawURL)
}

// ClassifyPlatform returns the platform whose adapters handle rawURL.
// Unparsable URLs are generic.
func (s *Scraper) ClassifyPlatform(rawURL string) models.Platform {
	u, err := url.Parse(rawURL)
	if err != nil {
		return models.PlatformGeneric
	}
	return classify(u)
}

// ShouldExtractArticle reports whether rawURL is worth running article
// extraction on
func (s *Scraper) ShouldExtractArticle(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return platform.IsArticleCandidate(u)
}

// ScrapeMetadata returns preview metadata for rawURL. Blocked or partial
// platform responses still return metadata; errors mean the URL was
// rejected, the page could not be fetched at all, or the platform has no
// such entry.
func (s *Scraper) ScrapeMetadata(ctx context.Context, rawURL string) (*models.ScrapedMetadata, error) {
	ctx, span := s.tracer.Start(ctx, "linkmeta.ScrapeMetadata", trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	valid, err := s.ValidateExternalURL(rawURL)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	p := classify(valid.URL)
	span.SetAttributes(attribute.String("platform", string(p)))

	m, err := s.metadata.Scrape(ctx, valid.URL, p)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return m, nil
}

// ExtractArticle returns reader-mode content for rawURL within the
// configured deadline. Pages without recognizable content return an empty
// result. Exceeding the deadline returns an error matching
// article.ErrTimeout.
func (s *Scraper) ExtractArticle(ctx context.Context, rawURL string) (*models.ArticleContent, error) {
	ctx, span := s.tracer.Start(ctx, "linkmeta.ExtractArticle", trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	valid, err := s.ValidateExternalURL(rawURL)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	p := classify(valid.URL)
	span.SetAttributes(attribute.String("platform", string(p)))

	a, err := s.articles.Extract(ctx, valid.URL, p)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("word_count", a.WordCount))
	return a, nil
}

// CheckLink reports the health of rawURL. It never fails; problems are
// reported through the result status.
func (s *Scraper) CheckLink(ctx context.Context, rawURL string) models.LinkCheckResult {
	ctx, span := s.tracer.Start(ctx, "linkmeta.CheckLink", trace.WithAttributes(attribute.String("url", rawURL)))
	defer span.End()

	result := s.links.Check(ctx, rawURL)
	span.SetAttributes(attribute.String("status", string(result.Status)))
	return result
}

// LinkChecker returns the checker used by CheckLink, for sweeps
func (s *Scraper) LinkChecker() *linkcheck.Checker {
	return s.links
}

// Client returns the guarded HTTP client shared by every adapter
func (s *Scraper) Client() *fetch.Client {
	return s.client
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
