package article

import (
	"strings"

	"github.com/docutag/linkmeta/dom"
	"github.com/docutag/linkmeta/htmlprep"
	"github.com/docutag/linkmeta/models"
)

const (
	// paragraphWeight is the score each <p> adds on top of the word count
	paragraphWeight = 50
	// minCandidateScore is the score a prioritized candidate needs before
	// the full-body scan is skipped
	minCandidateScore = 200
	// minFallbackWords is the word count a full-body element needs to count
	minFallbackWords = 100
)

// candidateSelectors are tried in order. Earlier selectors win ties.
var candidateSelectors = []string{
	"article",
	"[role=main]",
	"main",
	"[itemprop=articleBody]",
	".article-body", ".article-content", ".article__body", ".article-text",
	".post-body", ".post-content", ".entry-content",
	".story-body", ".story-content", ".content-body",
	".post", ".content", "#content", "#main",
}

const structuralNoise = "nav, header, footer, aside, form, button, input, select, textarea, iframe"

// Class or id tokens that mark navigation, sidebars, comments, sharing,
// social widgets and ads. A token matches when it equals one of these or
// starts with one followed by '-' or '_', so "sidebar-widget" is noise and
// "has-sidebar" is not.
var noiseTokens = map[string]bool{
	"nav": true, "navbar": true, "navigation": true, "menu": true,
	"breadcrumb": true, "breadcrumbs": true,
	"sidebar": true, "side-bar": true,
	"comment": true, "comments": true, "comment-list": true,
	"share": true, "sharing": true, "social": true,
	"ad": true, "ads": true, "advert": true, "advertisement": true, "sponsored": true, "promo": true,
	"newsletter": true, "cookie-banner": true,
}

// Containers the class patterns never remove
const protectedContainers = "html, body, main, article"

// Elements holding any of these are never removed as noise
const contentContainers = "article, main, [role=main], [itemprop=articleBody]"

const inlineTags = "span, a, b, i, em, strong, small, label"

const shareNoise = `[class*=share], [id*=share], [class*=social], [id*=social], [class*=related], [id*=related]`

// Density extracts the main content of a page by scoring candidate
// containers on words + 50 per paragraph. A page where nothing qualifies
// returns an empty result.
func Density(source string) (*models.ArticleContent, error) {
	doc, err := dom.Parse(htmlprep.Sanitize(source))
	if err != nil {
		return nil, err
	}

	title := pageTitle(doc)
	byline := pageByline(doc)
	siteName := metaContent(doc, "og:site_name")
	published := publishedTime(doc)

	stripNonContent(doc)

	best, ok := bestCandidate(doc)
	if !ok {
		return &models.ArticleContent{}, nil
	}
	dom.Remove(best.Select(shareNoise))

	a := &models.ArticleContent{
		Content:       models.StringPtr(best.InnerHTML()),
		Title:         models.StringPtr(title),
		Byline:        models.StringPtr(byline),
		SiteName:      models.StringPtr(siteName),
		PublishedTime: models.StringPtr(published),
	}
	a.SetText(best.Text())
	if a.TextContent == nil {
		a.Content = nil
	}
	return a, nil
}

func stripNonContent(doc *dom.Document) {
	doc.Remove(structuralNoise)

	for _, n := range doc.Select("[class], [id]") {
		if n.Is(protectedContainers) || n.Count(contentContainers) > 0 {
			continue
		}
		if isNoise(n.AttrOr("class", "") + " " + n.AttrOr("id", "")) {
			n.Remove()
		}
	}
}

func isNoise(attrs string) bool {
	for _, token := range strings.Fields(strings.ToLower(attrs)) {
		if noiseTokens[token] {
			return true
		}
		if i := strings.IndexAny(token, "-_"); i > 0 && noiseTokens[token[:i]] {
			return true
		}
	}
	return false
}

func score(n dom.Node) int {
	return models.WordCount(n.Text()) + paragraphWeight*n.Count("p")
}

// bestCandidate walks the prioritized selectors and falls back to scanning
// every block element in the body
func bestCandidate(doc *dom.Document) (dom.Node, bool) {
	var best dom.Node
	bestScore := 0
	for _, selector := range candidateSelectors {
		for _, n := range doc.Select(selector) {
			// Strictly greater, so the earlier selector keeps ties
			if s := score(n); s > bestScore {
				best, bestScore = n, s
			}
		}
	}
	if bestScore >= minCandidateScore {
		return best, true
	}

	var fallback dom.Node
	fallbackScore := 0
	for _, n := range doc.Body().Select("*") {
		if n.Is(inlineTags) {
			continue
		}
		if models.WordCount(n.Text()) <= minFallbackWords {
			continue
		}
		if s := score(n); s > fallbackScore {
			fallback, fallbackScore = n, s
		}
	}
	return fallback, fallback.Valid()
}

func metaContent(doc *dom.Document, keys ...string) string {
	for _, key := range keys {
		sel := `meta[property="` + key + `"], meta[name="` + key + `"], meta[itemprop="` + key + `"]`
		for _, n := range doc.Select(sel) {
			if v := models.NormalizeWhitespace(n.AttrOr("content", "")); v != "" {
				return v
			}
		}
	}
	return ""
}

func pageTitle(doc *dom.Document) string {
	if t := metaContent(doc, "og:title", "twitter:title"); t != "" {
		return t
	}
	return models.NormalizeWhitespace(doc.Title())
}

var bylineSelectors = []string{
	`[rel=author]`,
	`[itemprop=author] [itemprop=name]`,
	`[itemprop=author]`,
	`.byline`, `.author`, `.author-name`, `[class*=byline]`,
}

func pageByline(doc *dom.Document) string {
	if b := metaContent(doc, "author", "article:author", "parsely-author", "sailthru.author"); b != "" && !strings.HasPrefix(b, "http") {
		return b
	}
	for _, selector := range bylineSelectors {
		for _, n := range doc.Select(selector) {
			text := models.NormalizeWhitespace(n.Text())
			// A byline is a name, not a paragraph
			if text != "" && len(text) <= 100 {
				return text
			}
		}
	}
	return ""
}

func publishedTime(doc *dom.Document) string {
	if t := metaContent(doc, "article:published_time", "datePublished", "date", "dc:date", "pubdate"); t != "" {
		return t
	}
	if n, ok := doc.First("time[datetime]"); ok {
		return strings.TrimSpace(n.AttrOr("datetime", ""))
	}
	return ""
}
