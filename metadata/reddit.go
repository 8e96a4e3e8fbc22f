package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/htmlprep"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/platform"
)

const redditFavicon = "https://www.reddit.com/favicon.ico"

var (
	redditCommentsPattern = regexp.MustCompile(`(?i)/comments/([a-z0-9]+)`)
	redditShortPattern    = regexp.MustCompile(`(?i)^/([a-z0-9]+)/?$`)
)

// RedditPostID extracts a post ID from /comments/<id>/ or redd.it/<id>
func RedditPostID(u *url.URL) string {
	if platform.HostMatches(platform.Hostname(u), "redd.it") {
		if m := redditShortPattern.FindStringSubmatch(u.Path); m != nil {
			return strings.ToLower(m[1])
		}
		return ""
	}
	if m := redditCommentsPattern.FindStringSubmatch(u.Path); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

type redditListing struct {
	Data struct {
		Children []struct {
			Kind string     `json:"kind"`
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	Title               string `json:"title"`
	Selftext            string `json:"selftext"`
	SubredditPrefixed   string `json:"subreddit_name_prefixed"`
	Author              string `json:"author"`
	Thumbnail           string `json:"thumbnail"`
	URLOverriddenByDest string `json:"url_overridden_by_dest"`
	Permalink           string `json:"permalink"`
	Over18              bool   `json:"over_18"`
	Preview             *struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
}

// Reddit uses the public JSON endpoint. Reddit often answers server-side
// fetches with 403, so every failure degrades to a record that asks the
// caller to fetch client-side.
type Reddit struct {
	client  *fetch.Client
	opts    fetch.Options
	apiBase string
	generic Adapter
}

func NewReddit(d Deps) Adapter {
	return &Reddit{client: d.Client, opts: d.Options, apiBase: strings.TrimSuffix(d.Endpoints.RedditAPI, "/"), generic: d.Generic}
}

func (r *Reddit) Scrape(ctx context.Context, u *url.URL) (Result, error) {
	id := RedditPostID(u)
	if id == "" {
		return r.generic.Scrape(ctx, u)
	}

	apiURL := fmt.Sprintf("%s/comments/%s.json?raw_json=1", r.apiBase, id)
	resp, err := r.client.Get(ctx, apiURL, fetch.AcceptJSON, r.opts)
	if err != nil {
		slog.Debug("reddit fetch failed", "post_id", id, "error", err)
		return r.fallback(u, id, 0, "fetch failed"), nil
	}
	if !resp.OK() {
		return r.fallback(u, id, resp.StatusCode, fmt.Sprintf("status %d", resp.StatusCode)), nil
	}

	post, ok := parseRedditPost(resp.Body)
	if !ok {
		return r.fallback(u, id, resp.StatusCode, "unparsable response"), nil
	}

	favicon := redditFavicon
	m := &models.ScrapedMetadata{
		Title:   models.StringPtr(htmlprep.DecodeEntities(post.Title)),
		Favicon: &favicon,
		Domain:  "reddit.com",
	}
	m.SetRaw("postId", id)
	m.SetRaw("subreddit", post.SubredditPrefixed)
	m.SetRaw("author", post.Author)

	if text := models.NormalizeWhitespace(post.Selftext); text != "" {
		m.Description = models.StringPtr(truncateRunes(text, 300))
	} else if post.SubredditPrefixed != "" {
		m.Description = models.StringPtr(fmt.Sprintf("Posted in %s by u/%s", post.SubredditPrefixed, post.Author))
	}

	if image := redditImage(post); image != "" {
		m.Image = &image
	}
	return found(m, u), nil
}

func (r *Reddit) fallback(u *url.URL, id string, status int, reason string) Result {
	favicon := redditFavicon
	m := &models.ScrapedMetadata{Favicon: &favicon, Domain: "reddit.com"}
	m.SetRaw("postId", id)
	m.SetRaw("clientFetchRequired", true)
	if status != 0 {
		m.SetRaw("status", status)
	}
	return degraded(m, u, reason)
}

// parseRedditPost finds the first link post in the comments response
func parseRedditPost(body []byte) (redditPost, bool) {
	var listings []redditListing
	if err := json.Unmarshal(body, &listings); err != nil {
		return redditPost{}, false
	}
	for _, listing := range listings {
		for _, child := range listing.Data.Children {
			if child.Kind == "t3" && child.Data.Title != "" {
				return child.Data, true
			}
		}
	}
	return redditPost{}, false
}

func redditImage(post redditPost) string {
	if post.Preview != nil && len(post.Preview.Images) > 0 {
		if src := htmlprep.DecodeEntities(post.Preview.Images[0].Source.URL); src != "" {
			return src
		}
	}
	// thumbnail is "self", "default" or "nsfw" when there is no image
	if strings.HasPrefix(post.Thumbnail, "http") {
		return post.Thumbnail
	}
	return ""
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
