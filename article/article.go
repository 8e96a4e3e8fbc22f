// Package article extracts reader-mode content from a page. Wikipedia is
// read through its REST HTML endpoint; everything else goes through a
// content density scorer or, optionally, go-readability.
package article

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
)

// DefaultTimeout bounds a whole extraction, network and parsing included
const DefaultTimeout = 15 * time.Second

// ErrTimeout matches extractions that ran past their deadline
var ErrTimeout = errors.New("article extraction timed out")

// TimeoutError is returned when an extraction exceeds Config.Timeout. It
// matches ErrTimeout, fetch.ErrTimeout and fetch.ErrNetwork.
type TimeoutError struct {
	URL     string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("article extraction for %s timed out after %s: %v", e.URL, e.Timeout, e.Err)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == fetch.ErrTimeout || target == fetch.ErrNetwork
}

// Engine selects the generic extraction algorithm
type Engine string

const (
	EngineDensity     Engine = "density"
	EngineReadability Engine = "readability"
)

// Valid reports whether e names a known engine
func (e Engine) Valid() bool {
	return e == EngineDensity || e == EngineReadability
}

// Config configures the Extractor
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
	Engine  Engine        `yaml:"engine"`
	Fetch   fetch.Options `yaml:"fetch"`
	// WikipediaBase overrides the REST API origin. Empty means the origin
	// of the article URL.
	WikipediaBase string `yaml:"wikipedia_base"`
}

// DefaultConfig returns the production settings
func DefaultConfig() Config {
	return Config{
		Timeout: DefaultTimeout,
		Engine:  EngineDensity,
		Fetch:   fetch.Options{Timeout: DefaultTimeout},
	}
}

// Adapter extracts article content for one kind of URL
type Adapter interface {
	Extract(ctx context.Context, u *url.URL) (*models.ArticleContent, error)
}

// AdapterFunc lets a function act as an Adapter
type AdapterFunc func(ctx context.Context, u *url.URL) (*models.ArticleContent, error)

func (f AdapterFunc) Extract(ctx context.Context, u *url.URL) (*models.ArticleContent, error) {
	return f(ctx, u)
}

// Deps is what adapter constructors receive
type Deps struct {
	Client        *fetch.Client
	Options       fetch.Options
	Engine        Engine
	WikipediaBase string
	// Generic handles URLs a platform adapter cannot
	Generic Adapter
}

// Extractor picks the adapter for a platform and enforces the deadline
type Extractor struct {
	cfg      Config
	generic  Adapter
	adapters map[models.Platform]Adapter
}

// NewExtractor builds an Extractor. Platforms without an entry in adapters
// use generic.
func NewExtractor(cfg Config, generic Adapter, adapters map[models.Platform]Adapter) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Extractor{cfg: cfg, generic: generic, adapters: adapters}
}

// Extract runs the platform's adapter under the configured deadline. A
// page with no recognizable content yields an empty result, not an error.
func (e *Extractor) Extract(ctx context.Context, u *url.URL, p models.Platform) (*models.ArticleContent, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	adapter, ok := e.adapters[p]
	if !ok {
		adapter = e.generic
	}

	start := time.Now()
	a, err := adapter.Extract(ctx, u)

	// The deadline can pass while parsing, after the last network call
	// succeeded
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, fetch.ErrTimeout) {
			metrics.ArticleExtractions.WithLabelValues(string(p), "timeout").Inc()
			slog.Warn("article extraction timed out", "url", u.String(), "platform", p, "duration", time.Since(start))
			return nil, &TimeoutError{URL: u.String(), Timeout: e.cfg.Timeout, Err: err}
		}
		metrics.ArticleExtractions.WithLabelValues(string(p), "error").Inc()
		return nil, err
	}

	outcome := "found"
	if a.WordCount == 0 {
		outcome = "empty"
	}
	metrics.ArticleExtractions.WithLabelValues(string(p), outcome).Inc()
	slog.Debug("article extracted", "url", u.String(), "platform", p, "words", a.WordCount, "duration", time.Since(start))
	return a, nil
}
