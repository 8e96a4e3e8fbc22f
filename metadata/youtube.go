package metadata

import (
	"context"
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

const youTubeFavicon = "https://www.youtube.com/favicon.ico"

var youTubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,64}$`)

// YouTubeVideoID extracts the video ID from watch?v=, /shorts/, /embed/,
// /live/ and youtu.be/ URLs. It returns "" when there is none.
func YouTubeVideoID(u *url.URL) string {
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")

	var id string
	switch {
	case platform.HostMatches(platform.Hostname(u), "youtu.be"):
		id = segments[0]
	case u.Query().Get("v") != "":
		id = u.Query().Get("v")
	case len(segments) >= 2:
		switch segments[0] {
		case "shorts", "embed", "live", "v":
			id = segments[1]
		}
	}

	if !youTubeIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// YouTubeThumbnail is the deterministic thumbnail for a video
func YouTubeThumbnail(id string) string {
	return fmt.Sprintf("https://img.youtube.com/vi/%s/hqdefault.jpg", id)
}

// YouTube builds previews from the video ID and oEmbed. Image and favicon
// never depend on the network.
type YouTube struct {
	client   *fetch.Client
	opts     fetch.Options
	endpoint string
	generic  Adapter
}

func NewYouTube(d Deps) Adapter {
	return &YouTube{client: d.Client, opts: d.Options, endpoint: d.Endpoints.YouTubeOEmbed, generic: d.Generic}
}

func (y *YouTube) Scrape(ctx context.Context, u *url.URL) (Result, error) {
	id := YouTubeVideoID(u)
	if id == "" {
		return y.generic.Scrape(ctx, u)
	}

	thumbnail := YouTubeThumbnail(id)
	favicon := youTubeFavicon
	m := &models.ScrapedMetadata{
		Image:   &thumbnail,
		Images:  []string{thumbnail},
		Favicon: &favicon,
		Domain:  "youtube.com",
	}
	m.SetRaw("videoId", id)

	watchURL := "https://www.youtube.com/watch?v=" + id
	oembed, err := fetchOEmbed(ctx, y.client, y.opts, y.endpoint, watchURL)
	if err != nil {
		slog.Debug("youtube oEmbed unavailable", "video_id", id, "error", err)
		title := "YouTube Video - " + id
		m.Title = &title
		return degraded(m, u, "oembed unavailable"), nil
	}

	m.Title = models.StringPtr(htmlprep.DecodeEntities(oembed.Title))
	if m.Title == nil {
		title := "YouTube Video - " + id
		m.Title = &title
	}
	if author := htmlprep.DecodeEntities(oembed.AuthorName); author != "" {
		m.Description = models.StringPtr("By " + author)
		m.SetRaw("author", author)
		if oembed.AuthorURL != "" {
			m.SetRaw("authorUrl", oembed.AuthorURL)
		}
	}
	return found(m, u), nil
}
