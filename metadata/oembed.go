package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/docutag/linkmeta/fetch"
)

// oEmbedResponse is the subset of the oEmbed JSON shape adapters read
type oEmbedResponse struct {
	Type            string `json:"type"`
	Version         string `json:"version"`
	Title           string `json:"title"`
	AuthorName      string `json:"author_name"`
	AuthorURL       string `json:"author_url"`
	ProviderName    string `json:"provider_name"`
	ProviderURL     string `json:"provider_url"`
	ThumbnailURL    string `json:"thumbnail_url"`
	ThumbnailWidth  int    `json:"thumbnail_width"`
	ThumbnailHeight int    `json:"thumbnail_height"`
	HTML            string `json:"html"`
	Description     string `json:"description"`
	Summary         string `json:"summary"`
}

// withURLParam appends url=<target> (and any extra pairs) to endpoint,
// keeping query parameters the endpoint already carries
func withURLParam(endpoint, target string, extra ...string) string {
	q := url.Values{}
	q.Set("url", target)
	for i := 0; i+1 < len(extra); i += 2 {
		q.Set(extra[i], extra[i+1])
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + q.Encode()
}

// fetchOEmbed calls an oEmbed endpoint for target
func fetchOEmbed(ctx context.Context, client *fetch.Client, opts fetch.Options, endpoint, target string) (*oEmbedResponse, error) {
	oembedURL := withURLParam(endpoint, target, "format", "json")

	resp, err := client.Get(ctx, oembedURL, fetch.AcceptJSON, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch oEmbed data: %w", err)
	}
	if !resp.OK() {
		return nil, &fetch.StatusError{URL: oembedURL, StatusCode: resp.StatusCode}
	}

	var oembed oEmbedResponse
	if err := json.Unmarshal(resp.Body, &oembed); err != nil {
		return nil, fmt.Errorf("failed to parse oEmbed response: %w", err)
	}
	return &oembed, nil
}
