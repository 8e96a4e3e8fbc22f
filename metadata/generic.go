package metadata

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/htmlprep"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/platform"
)

// MaxImageCandidates caps the <img> URLs collected in addition to the
// OpenGraph image
const MaxImageCandidates = 10

var (
	titleTagPattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title\s*>`)
	imgSrcPattern   = regexp.MustCompile(`(?is)<img\s[^>]*?\bsrc\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>"']+))`)
	linkTagPattern  = regexp.MustCompile(`(?is)<link\s[^>]*>`)
	relAttrPattern  = attrPattern("rel")
	hrefAttrPattern = attrPattern("href")

	// Meta patterns are compiled once per key
	metaPatternCache sync.Map
)

var faviconRels = map[string]bool{
	"icon":             true,
	"shortcut icon":    true,
	"apple-touch-icon": true,
}

func attrPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)\s` + name + `\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>"']+))`)
}

// metaPatterns returns two patterns for a meta key: one for markup that
// puts property/name before content, one for the reverse. Both orders occur
// in the wild.
func metaPatterns(key string) [2]*regexp.Regexp {
	if cached, ok := metaPatternCache.Load(key); ok {
		return cached.([2]*regexp.Regexp)
	}
	k := regexp.QuoteMeta(key)
	value := `(?:"([^"]*)"|'([^']*)')`
	patterns := [2]*regexp.Regexp{
		regexp.MustCompile(`(?is)<meta\s[^>]*?\b(?:property|name)\s*=\s*["']` + k + `["'][^>]*?\bcontent\s*=\s*` + value),
		regexp.MustCompile(`(?is)<meta\s[^>]*?\bcontent\s*=\s*` + value + `[^>]*?\b(?:property|name)\s*=\s*["']` + k + `["']`),
	}
	metaPatternCache.Store(key, patterns)
	return patterns
}

// metaContent returns the decoded content of the first meta tag with the
// given property or name, trying both attribute orders
func metaContent(doc, key string) string {
	for _, re := range metaPatterns(key) {
		if m := re.FindStringSubmatch(doc); m != nil {
			if v := htmlprep.DecodeEntities(firstGroup(m)); v != "" {
				return v
			}
		}
	}
	return ""
}

// firstMeta returns the first non-empty meta value among keys, in order
func firstMeta(doc string, keys ...string) string {
	for _, key := range keys {
		if v := metaContent(doc, key); v != "" {
			return v
		}
	}
	return ""
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func titleTag(doc string) string {
	if m := titleTagPattern.FindStringSubmatch(doc); m != nil {
		return models.NormalizeWhitespace(htmlprep.DecodeEntities(m[1]))
	}
	return ""
}

// resolveURL makes ref absolute against base. It returns "" for data: URIs,
// non-http schemes and unparsable references.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(htmlprep.DecodeEntities(ref))
	if ref == "" || strings.HasPrefix(strings.ToLower(ref), "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// collectImages returns up to limit absolute <img src> URLs, skipping data:
// URIs and anything already in seen
func collectImages(doc string, base *url.URL, seen map[string]bool, limit int) []string {
	var images []string
	for _, m := range imgSrcPattern.FindAllStringSubmatch(doc, -1) {
		if len(images) >= limit {
			break
		}
		abs := resolveURL(base, firstGroup(m))
		if abs == "" || seen[abs] {
			continue
		}
		seen[abs] = true
		images = append(images, abs)
	}
	return images
}

// findFavicon returns the first icon link, or /favicon.ico on the page origin
func findFavicon(doc string, base *url.URL) string {
	for _, tag := range linkTagPattern.FindAllString(doc, -1) {
		rel := relAttrPattern.FindStringSubmatch(tag)
		if rel == nil {
			continue
		}
		relValue := strings.ToLower(models.NormalizeWhitespace(firstGroup(rel)))
		if !faviconRels[relValue] {
			continue
		}
		href := hrefAttrPattern.FindStringSubmatch(tag)
		if href == nil {
			continue
		}
		if abs := resolveURL(base, firstGroup(href)); abs != "" {
			return abs
		}
	}
	return (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/favicon.ico"}).String()
}

// ParseHTML extracts preview metadata from a page. base is the final page
// URL and is used to resolve relative references.
func ParseHTML(raw string, base *url.URL) *models.ScrapedMetadata {
	doc := htmlprep.Sanitize(raw)

	m := &models.ScrapedMetadata{Domain: platform.Domain(base)}

	title := firstMeta(doc, "og:title", "twitter:title")
	if title == "" {
		title = titleTag(doc)
	}
	m.Title = models.StringPtr(title)
	m.Description = models.StringPtr(firstMeta(doc, "og:description", "twitter:description", "description"))

	seen := make(map[string]bool)
	if image := resolveURL(base, firstMeta(doc, "og:image", "og:image:url", "twitter:image", "twitter:image:src")); image != "" {
		m.Image = &image
		m.Images = append(m.Images, image)
		seen[image] = true
	}
	m.Images = append(m.Images, collectImages(doc, base, seen, MaxImageCandidates)...)

	favicon := findFavicon(doc, base)
	m.Favicon = &favicon

	for key, rawKey := range map[string]string{
		"og:site_name": "siteName",
		"og:type":      "ogType",
		"og:url":       "ogUrl",
		"twitter:card": "twitterCard",
	} {
		if v := metaContent(doc, key); v != "" {
			m.SetRaw(rawKey, v)
		}
	}
	return m
}

// Generic scrapes any HTML page using OpenGraph, Twitter card and plain
// HTML fallbacks
type Generic struct {
	client *fetch.Client
	opts   fetch.Options
}

// NewGeneric creates the generic adapter
func NewGeneric(d Deps) *Generic {
	return &Generic{client: d.Client, opts: d.Options}
}

func (g *Generic) Scrape(ctx context.Context, u *url.URL) (Result, error) {
	resp, err := g.client.Get(ctx, u.String(), fetch.AcceptHTML, g.opts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch page: %w", err)
	}
	if !resp.OK() {
		return Result{}, &fetch.StatusError{URL: u.String(), StatusCode: resp.StatusCode}
	}

	m := ParseHTML(string(resp.Body), resp.URL)
	if resp.Truncated {
		m.SetRaw("truncated", true)
	}
	return found(m, resp.URL), nil
}
