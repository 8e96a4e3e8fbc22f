package article

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/docutag/linkmeta/dom"
	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/htmlprep"
	"github.com/docutag/linkmeta/models"
)

// MaxWikipediaContent caps the retained article HTML, in characters
const MaxWikipediaContent = 650000

const wikipediaBoilerplate = `#toc, .toc, .mw-editsection, .reflist, ol.references, .references,
	.navbox, .vertical-navbox, .ambox, .metadata, .mbox-small, .hatnote,
	sup.reference, .mw-references-wrap, .mw-empty-elt, .noprint, link, style`

// WikipediaTitle returns the article title from a /wiki/<title> path
func WikipediaTitle(u *url.URL) string {
	title, ok := strings.CutPrefix(u.Path, "/wiki/")
	if !ok {
		return ""
	}
	return strings.TrimSpace(title)
}

// Wikipedia reads articles through the REST page HTML endpoint, which
// serves the content without the site chrome
type Wikipedia struct {
	client  *fetch.Client
	opts    fetch.Options
	base    string
	generic Adapter
}

func NewWikipedia(d Deps) Adapter {
	return &Wikipedia{client: d.Client, opts: d.Options, base: strings.TrimSuffix(d.WikipediaBase, "/"), generic: d.Generic}
}

func (w *Wikipedia) Extract(ctx context.Context, u *url.URL) (*models.ArticleContent, error) {
	title := WikipediaTitle(u)
	if title == "" {
		return w.generic.Extract(ctx, u)
	}

	base := w.base
	if base == "" {
		base = u.Scheme + "://" + u.Host
	}
	apiURL := base + "/api/rest_v1/page/html/" + url.PathEscape(title)

	resp, err := w.client.Get(ctx, apiURL, fetch.AcceptHTML, w.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wikipedia article: %w", err)
	}
	if !resp.OK() {
		return nil, &fetch.StatusError{URL: apiURL, StatusCode: resp.StatusCode}
	}

	doc, err := dom.Parse(htmlprep.Sanitize(string(resp.Body)))
	if err != nil {
		return nil, err
	}
	doc.Remove(wikipediaBoilerplate)

	content, text := accumulate(doc.Body().Children(), MaxWikipediaContent)

	pageTitle := models.NormalizeWhitespace(doc.Title())
	if pageTitle == "" {
		pageTitle = strings.ReplaceAll(title, "_", " ")
	}

	siteName := "Wikipedia"
	a := &models.ArticleContent{
		Content:       models.StringPtr(content),
		Title:         models.StringPtr(pageTitle),
		SiteName:      &siteName,
		PublishedTime: models.StringPtr(metaContent(doc, "dc:modified")),
	}
	a.SetText(text)
	return a, nil
}

// accumulate appends children in order until the next one would push the
// HTML past limit characters
func accumulate(children []dom.Node, limit int) (string, string) {
	var html, text strings.Builder
	size := 0
	for _, child := range children {
		h := child.OuterHTML()
		n := utf8.RuneCountInString(h)
		if size+n > limit {
			break
		}
		size += n
		html.WriteString(h)
		text.WriteString(child.Text())
		text.WriteByte(' ')
	}
	return html.String(), text.String()
}
