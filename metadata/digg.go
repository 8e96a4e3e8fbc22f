package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/htmlprep"
	"github.com/docutag/linkmeta/models"
)

var nextDataPattern = regexp.MustCompile(`(?is)<script[^>]+id\s*=\s*["']__NEXT_DATA__["'][^>]*>(.*?)</script\s*>`)

// Digg reads the story embedded in the page's __NEXT_DATA__ JSON blob and
// fills gaps from the page meta tags. Disabled by default; Digg pages go
// through the generic adapter unless switched on.
type Digg struct {
	client *fetch.Client
	opts   fetch.Options
}

func NewDigg(d Deps) Adapter {
	return &Digg{client: d.Client, opts: d.Options}
}

func (d *Digg) Scrape(ctx context.Context, u *url.URL) (Result, error) {
	resp, err := d.client.Get(ctx, u.String(), fetch.AcceptHTML, d.opts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch digg page: %w", err)
	}
	if !resp.OK() {
		return Result{}, &fetch.StatusError{URL: u.String(), StatusCode: resp.StatusCode}
	}

	raw := string(resp.Body)
	// Meta tags first; the blob is read from the raw page because Sanitize
	// removes script elements
	m := ParseHTML(raw, resp.URL)

	story, ok := diggStory(raw)
	if !ok {
		return found(m, resp.URL), nil
	}
	m.SetRaw("source", "next-data")

	if title := findString(story, "title"); title != "" {
		m.Title = models.StringPtr(htmlprep.DecodeEntities(title))
	}
	if desc := findString(story, "excerpt", "description"); desc != "" {
		m.Description = models.StringPtr(htmlprep.DecodeEntities(desc))
	}
	if image := resolveURL(resp.URL, findString(story, "image", "imageUrl", "thumbnail", "thumbnailUrl")); image != "" {
		m.Image = &image
		m.Images = append([]string{image}, m.Images...)
	}
	return found(m, resp.URL), nil
}

// diggStory returns the "story" object from the page's JSON blob. Malformed
// JSON counts as absent.
func diggStory(page string) (any, bool) {
	match := nextDataPattern.FindStringSubmatch(htmlprep.Truncate(page, htmlprep.MaxInputBytes))
	if match == nil {
		return nil, false
	}
	var blob any
	if err := json.Unmarshal([]byte(match[1]), &blob); err != nil {
		slog.Debug("digg JSON blob unparsable", "error", err)
		return nil, false
	}
	story := findValue(blob, "story")
	return story, story != nil
}

// findValue does a depth-first search for the first value under key
func findValue(v any, key string) any {
	switch t := v.(type) {
	case map[string]any:
		if found, ok := t[key]; ok && found != nil {
			return found
		}
		for _, child := range t {
			if found := findValue(child, key); found != nil {
				return found
			}
		}
	case []any:
		for _, child := range t {
			if found := findValue(child, key); found != nil {
				return found
			}
		}
	}
	return nil
}

// findString returns the first non-empty string stored directly on obj
// under one of keys
func findString(obj any, keys ...string) string {
	m, ok := obj.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
