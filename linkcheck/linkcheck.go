// Package linkcheck reports whether a stored link still resolves.
//
// Platforms that refuse automated HEAD requests are validated by URL shape
// only. Everything else gets one HEAD request with redirects left
// unfollowed, so a moved page is reported with its new location.
package linkcheck

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/metrics"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/platform"
	"github.com/docutag/linkmeta/urlguard"
)

// Config configures the Checker and Sweeper
type Config struct {
	Fetch      fetch.Options `yaml:"fetch"`
	SweepDelay time.Duration `yaml:"sweep_delay"`
}

// DefaultConfig returns a 10 s check timeout and a 500 ms sweep delay
func DefaultConfig() Config {
	return Config{
		Fetch:      fetch.Options{Timeout: 10 * time.Second},
		SweepDelay: 500 * time.Millisecond,
	}
}

type structuralRule struct {
	hosts    []string
	patterns []*regexp.Regexp
}

// structuralRules cover platforms that block or rate-limit HEAD requests
// from servers. A match on hosts decides the result without a request.
var structuralRules = []structuralRule{
	{
		hosts:    []string{"twitter.com", "x.com"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`^/[A-Za-z0-9_]{1,15}/status(?:es)?/\d+`)},
	},
	{
		hosts:    []string{"redd.it"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`^/[A-Za-z0-9]+/?$`)},
	},
	{
		hosts: []string{"reddit.com"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^/r/[A-Za-z0-9_]+`),
			regexp.MustCompile(`/comments/[A-Za-z0-9]+`),
		},
	},
	{
		hosts: []string{"tiktok.com"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^/@[A-Za-z0-9_.]+(?:/video/\d+)?/?$`),
			regexp.MustCompile(`^/(?:t/)?[A-Za-z0-9]{5,}/?$`),
		},
	},
	{
		hosts: []string{"instagram.com"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^/(?:p|reel|reels|tv)/[A-Za-z0-9_-]+/?`),
			regexp.MustCompile(`^/[A-Za-z0-9_.]+/?$`),
		},
	},
	{
		hosts:    []string{"facebook.com", "fb.com", "fb.watch"},
		patterns: []*regexp.Regexp{regexp.MustCompile(`^/[^/].*`)},
	},
	{
		hosts: []string{"pinterest.com", "pin.it"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^/pin/\d+`),
			regexp.MustCompile(`^/[A-Za-z0-9_]+/[A-Za-z0-9_-]+/?$`),
			regexp.MustCompile(`^/[A-Za-z0-9]+/?$`),
		},
	},
}

// structuralCheck reports whether u belongs to a structurally validated
// platform and, if so, whether its path has a valid shape
func structuralCheck(u *url.URL) (valid, handled bool) {
	host := platform.Hostname(u)
	for _, rule := range structuralRules {
		if !platform.HostMatches(host, rule.hosts...) {
			continue
		}
		for _, re := range rule.patterns {
			if re.MatchString(u.Path) {
				return true, true
			}
		}
		return false, true
	}
	return false, false
}

// Checker checks single links
type Checker struct {
	client *fetch.Client
	opts   fetch.Options
}

// NewChecker creates a Checker that sends requests through client
func NewChecker(client *fetch.Client, cfg Config) *Checker {
	return &Checker{client: client, opts: cfg.Fetch}
}

// Check never fails: invalid or private URLs and unexpected panics are
// reported as LinkError.
func (c *Checker) Check(ctx context.Context, rawURL string) (result models.LinkCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("link check panicked", "url", rawURL, "panic", r)
			result = models.LinkCheckResult{Status: models.LinkError}
		}
		metrics.LinkChecks.WithLabelValues(string(result.Status)).Inc()
	}()

	valid, err := c.client.Guard().Validate(rawURL)
	if err != nil {
		slog.Debug("link check rejected", "url", rawURL, "error", err)
		return models.LinkCheckResult{Status: models.LinkError}
	}

	if ok, handled := structuralCheck(valid.URL); handled {
		if ok {
			return models.LinkCheckResult{Status: models.LinkOK}
		}
		return models.LinkCheckResult{Status: models.LinkBroken}
	}

	resp, err := c.client.Head(ctx, valid.Raw, c.opts)
	if err != nil {
		var ve *urlguard.ValidationError
		if errors.As(err, &ve) {
			return models.LinkCheckResult{Status: models.LinkError}
		}
		slog.Debug("link check request failed", "url", rawURL, "error", err)
		return models.LinkCheckResult{Status: models.LinkBroken}
	}
	return classify(resp)
}

func classify(resp *fetch.Response) models.LinkCheckResult {
	code := resp.StatusCode
	switch {
	case code == http.StatusNotModified:
		return models.LinkCheckResult{Status: models.LinkOK}
	case code >= 300 && code < 400:
		location := resp.Header.Get("Location")
		if location == "" {
			return models.LinkCheckResult{Status: models.LinkBroken}
		}
		target, err := resp.URL.Parse(location)
		if err != nil {
			return models.LinkCheckResult{Status: models.LinkBroken}
		}
		abs := target.String()
		return models.LinkCheckResult{Status: models.LinkRedirected, RedirectURL: &abs}
	case code >= 200 && code < 300:
		return models.LinkCheckResult{Status: models.LinkOK}
	default:
		return models.LinkCheckResult{Status: models.LinkBroken}
	}
}
