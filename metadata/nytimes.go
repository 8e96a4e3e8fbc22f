package metadata

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/htmlprep"
	"github.com/docutag/linkmeta/models"
)

const nytimesFavicon = "https://www.nytimes.com/favicon.ico"

var firstImgPattern = regexp.MustCompile(`(?is)<img\s[^>]*?\bsrc\s*=\s*(?:"([^"]*)"|'([^']*)')`)

// NYTimes reads the oEmbed JSON endpoint and, when it carries no thumbnail,
// takes the first image from the oEmbed HTML endpoint
type NYTimes struct {
	client       *fetch.Client
	opts         fetch.Options
	jsonEndpoint string
	htmlEndpoint string
	generic      Adapter
}

func NewNYTimes(d Deps) Adapter {
	return &NYTimes{
		client:       d.Client,
		opts:         d.Options,
		jsonEndpoint: d.Endpoints.NYTimesOEmbedJSON,
		htmlEndpoint: d.Endpoints.NYTimesOEmbedHTML,
		generic:      d.Generic,
	}
}

func (n *NYTimes) Scrape(ctx context.Context, u *url.URL) (Result, error) {
	oembed, err := fetchOEmbed(ctx, n.client, n.opts, n.jsonEndpoint, u.String())
	if err != nil {
		slog.Debug("nytimes oEmbed unavailable, using page meta tags", "url", u.String(), "error", err)
		return n.generic.Scrape(ctx, u)
	}

	favicon := nytimesFavicon
	m := &models.ScrapedMetadata{
		Title:   models.StringPtr(htmlprep.DecodeEntities(oembed.Title)),
		Favicon: &favicon,
		Domain:  "nytimes.com",
	}

	summary := oembed.Summary
	if summary == "" {
		summary = oembed.Description
	}
	m.Description = models.StringPtr(htmlprep.DecodeEntities(summary))
	if oembed.AuthorName != "" {
		m.SetRaw("author", htmlprep.DecodeEntities(oembed.AuthorName))
	}

	image := resolveURL(u, oembed.ThumbnailURL)
	if image == "" {
		image = n.imageFromEmbed(ctx, u)
		if image != "" {
			m.SetRaw("imageSource", "oembed-html")
		}
	}
	m.Image = models.StringPtr(image)

	return found(m, u), nil
}

// imageFromEmbed fetches the embed markup and returns its first <img src>
func (n *NYTimes) imageFromEmbed(ctx context.Context, u *url.URL) string {
	embedURL := withURLParam(n.htmlEndpoint, u.String())
	resp, err := n.client.Get(ctx, embedURL, fetch.AcceptHTML, n.opts)
	if err != nil || !resp.OK() {
		slog.Debug("nytimes oEmbed HTML unavailable", "url", u.String(), "error", err)
		return ""
	}
	if m := firstImgPattern.FindStringSubmatch(string(resp.Body)); m != nil {
		return resolveURL(u, firstGroup(m))
	}
	return ""
}
