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
)

const imdbFavicon = "https://www.imdb.com/favicon.ico"

var imdbTitlePattern = regexp.MustCompile(`tt\d{5,}`)

// IMDbTitleID extracts a title ID such as tt0111161 from the URL path
func IMDbTitleID(u *url.URL) string {
	return imdbTitlePattern.FindString(u.Path)
}

type imdbSuggestion struct {
	D []imdbEntry `json:"d"`
}

type imdbEntry struct {
	ID    string `json:"id"`
	Label string `json:"l"`
	Year  int    `json:"y"`
	Stars string `json:"s"`
	Kind  string `json:"q"`
	Image *struct {
		ImageURL string `json:"imageUrl"`
	} `json:"i"`
}

// IMDb queries the suggestion API. It is the one adapter with no fallback:
// if the title is not in the response the scrape fails.
type IMDb struct {
	client   *fetch.Client
	opts     fetch.Options
	endpoint string
	generic  Adapter
}

func NewIMDb(d Deps) Adapter {
	return &IMDb{client: d.Client, opts: d.Options, endpoint: strings.TrimSuffix(d.Endpoints.IMDbSuggest, "/"), generic: d.Generic}
}

func (i *IMDb) Scrape(ctx context.Context, u *url.URL) (Result, error) {
	id := IMDbTitleID(u)
	if id == "" {
		return i.generic.Scrape(ctx, u)
	}

	apiURL := fmt.Sprintf("%s/%s.json", i.endpoint, id)
	resp, err := i.client.Get(ctx, apiURL, fetch.AcceptJSON, i.opts)
	if err != nil {
		return Result{}, fmt.Errorf("imdb suggestion lookup: %w", err)
	}
	if !resp.OK() {
		return Result{}, &fetch.StatusError{URL: apiURL, StatusCode: resp.StatusCode}
	}

	var suggestion imdbSuggestion
	if err := json.Unmarshal(resp.Body, &suggestion); err != nil {
		slog.Debug("imdb response unparsable", "title_id", id, "error", err)
	}

	entry, ok := matchIMDbEntry(suggestion.D, id)
	if !ok {
		return notFound("no imdb entry for " + id), nil
	}

	title := htmlprep.DecodeEntities(entry.Label)
	if entry.Year > 0 {
		title = fmt.Sprintf("%s (%d)", title, entry.Year)
	}

	favicon := imdbFavicon
	m := &models.ScrapedMetadata{
		Title:       models.StringPtr(title),
		Description: models.StringPtr(htmlprep.DecodeEntities(entry.Stars)),
		Favicon:     &favicon,
		Domain:      "imdb.com",
	}
	if entry.Image != nil {
		m.Image = models.StringPtr(entry.Image.ImageURL)
	}
	m.SetRaw("titleId", id)
	if entry.Kind != "" {
		m.SetRaw("kind", entry.Kind)
	}
	if entry.Year > 0 {
		m.SetRaw("year", entry.Year)
	}
	return found(m, u), nil
}

// matchIMDbEntry accepts an exact ID match or an ID that contains the title
// ID, since the API sometimes returns prefixed or path-style IDs
func matchIMDbEntry(entries []imdbEntry, id string) (imdbEntry, bool) {
	for _, e := range entries {
		if e.ID == id {
			return e, true
		}
	}
	for _, e := range entries {
		if e.ID != "" && strings.Contains(e.ID, id) {
			return e, true
		}
	}
	return imdbEntry{}, false
}
