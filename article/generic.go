package article

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/docutag/linkmeta/dom"
	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/htmlprep"
	"github.com/docutag/linkmeta/models"
)

// Generic fetches a page and runs the configured engine over it
type Generic struct {
	client *fetch.Client
	opts   fetch.Options
	engine Engine
}

// NewGeneric creates the generic adapter
func NewGeneric(d Deps) *Generic {
	engine := d.Engine
	if !engine.Valid() {
		engine = EngineDensity
	}
	return &Generic{client: d.Client, opts: d.Options, engine: engine}
}

func (g *Generic) Extract(ctx context.Context, u *url.URL) (*models.ArticleContent, error) {
	resp, err := g.client.Get(ctx, u.String(), fetch.AcceptHTML, g.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article: %w", err)
	}
	if !resp.OK() {
		return nil, &fetch.StatusError{URL: u.String(), StatusCode: resp.StatusCode}
	}

	if g.engine == EngineReadability {
		return Readability(string(resp.Body), resp.URL)
	}
	return Density(string(resp.Body))
}

// Readability extracts content with go-readability over the sanitized page
func Readability(source string, pageURL *url.URL) (*models.ArticleContent, error) {
	clean := htmlprep.Sanitize(source)

	parsed, err := readability.FromReader(strings.NewReader(clean), pageURL)
	if err != nil {
		return nil, fmt.Errorf("readability: %w", err)
	}

	a := &models.ArticleContent{
		Content:  models.StringPtr(parsed.Content),
		Title:    models.StringPtr(models.NormalizeWhitespace(parsed.Title)),
		Byline:   models.StringPtr(models.NormalizeWhitespace(parsed.Byline)),
		SiteName: models.StringPtr(parsed.SiteName),
	}
	a.SetText(parsed.TextContent)
	if a.TextContent == nil {
		a.Content = nil
	}

	if doc, err := dom.Parse(clean); err == nil {
		a.PublishedTime = models.StringPtr(publishedTime(doc))
	}
	return a, nil
}
