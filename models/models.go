package models

import (
	"math"
	"strings"
	"time"
)

// Platform identifies which adapter handles a URL
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformReddit    Platform = "reddit"
	PlatformNYTimes   Platform = "nytimes"
	PlatformIMDb      Platform = "imdb"
	PlatformWikipedia Platform = "wikipedia"
	PlatformDigg      Platform = "digg"
	PlatformGeneric   Platform = "generic"
)

// Platforms lists every known platform in classification priority order
var Platforms = []Platform{
	PlatformYouTube,
	PlatformReddit,
	PlatformNYTimes,
	PlatformIMDb,
	PlatformWikipedia,
	PlatformDigg,
	PlatformGeneric,
}

// ParsePlatform maps a string to a Platform. Unknown names map to generic.
func ParsePlatform(s string) (Platform, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range Platforms {
		if string(p) == s {
			return p, true
		}
	}
	return PlatformGeneric, false
}

// ScrapedMetadata is the normalized link preview for a URL
type ScrapedMetadata struct {
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Image       *string        `json:"image"`  // Absolute URL of the primary image
	Images      []string       `json:"images"` // Deduplicated absolute URLs in discovery order
	Favicon     *string        `json:"favicon"`
	Domain      string         `json:"domain"`
	Raw         map[string]any `json:"raw,omitempty"` // Adapter-specific diagnostic payload
}

// SetRaw records a diagnostic value, allocating the map on first use
func (m *ScrapedMetadata) SetRaw(key string, value any) {
	if m.Raw == nil {
		m.Raw = make(map[string]any)
	}
	m.Raw[key] = value
}

// ClientFetchRequired reports whether the adapter could not reach the
// platform and the caller should fetch metadata client-side.
func (m *ScrapedMetadata) ClientFetchRequired() bool {
	if m == nil || m.Raw == nil {
		return false
	}
	v, ok := m.Raw["clientFetchRequired"].(bool)
	return ok && v
}

// WordsPerMinute is the reading speed used for ReadingTime
const WordsPerMinute = 225

// ArticleContent is the reader-mode extraction of a page
type ArticleContent struct {
	Content       *string `json:"content"`     // Sanitized HTML fragment of the body
	TextContent   *string `json:"textContent"` // Whitespace-normalized plain text
	Title         *string `json:"title"`
	Byline        *string `json:"byline"`
	SiteName      *string `json:"siteName"`
	WordCount     int     `json:"wordCount"`
	ReadingTime   int     `json:"readingTime"`   // Minutes
	PublishedTime *string `json:"publishedTime"` // Raw date string from the source markup
}

// SetText stores normalized text and derives word count and reading time
// from it. An empty text clears all three.
func (a *ArticleContent) SetText(text string) {
	text = NormalizeWhitespace(text)
	if text == "" {
		a.TextContent = nil
		a.WordCount = 0
		a.ReadingTime = 0
		return
	}
	a.TextContent = &text
	a.WordCount = WordCount(text)
	a.ReadingTime = ReadingTimeFor(a.WordCount)
}

// WordCount counts non-empty whitespace-separated tokens
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ReadingTimeFor returns ceil(words / WordsPerMinute)
func ReadingTimeFor(words int) int {
	if words <= 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / WordsPerMinute))
}

// NormalizeWhitespace collapses runs of whitespace to single spaces
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// LinkStatus is the terminal state of a link health check
type LinkStatus string

const (
	LinkOK         LinkStatus = "ok"
	LinkBroken     LinkStatus = "broken"
	LinkRedirected LinkStatus = "redirected"
	LinkError      LinkStatus = "error"
)

// LinkCheckResult is the outcome of checking a single URL
type LinkCheckResult struct {
	Status      LinkStatus `json:"status"`
	RedirectURL *string    `json:"redirectUrl,omitempty"` // Only set when Status is redirected
}

// RecordStatus tracks processing of a stored record
type RecordStatus string

const (
	StatusPending RecordStatus = "PENDING"
	StatusReady   RecordStatus = "READY"
	StatusError   RecordStatus = "ERROR"
)

// Record is a URL-type record owned by the record store
type Record struct {
	ID            string           `json:"id"`
	URL           string           `json:"url"`
	Status        RecordStatus     `json:"status"`
	Metadata      *ScrapedMetadata `json:"metadata,omitempty"`
	Article       *ArticleContent  `json:"article,omitempty"`
	ImagePath     string           `json:"image_path,omitempty"` // Storage key of the persisted preview image
	Error         string           `json:"error,omitempty"`
	LinkStatus    LinkStatus       `json:"link_status,omitempty"`
	RedirectURL   *string          `json:"redirect_url,omitempty"`
	LinkCheckedAt *time.Time       `json:"link_checked_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// StoredImage describes a preview image persisted to storage
type StoredImage struct {
	ID          string    `json:"id"`
	SourceURL   string    `json:"source_url"`
	Path        string    `json:"path"` // Storage key
	ContentType string    `json:"content_type"`
	Width       int       `json:"width,omitempty"`  // Image width in pixels
	Height      int       `json:"height,omitempty"` // Image height in pixels
	SizeBytes   int64     `json:"size_bytes"`
	EXIF        *EXIFData `json:"exif,omitempty"`
}

// EXIFData contains EXIF metadata extracted from an image
type EXIFData struct {
	DateTime         string   `json:"date_time,omitempty"`
	DateTimeOriginal string   `json:"date_time_original,omitempty"`
	Make             string   `json:"make,omitempty"`  // Camera manufacturer
	Model            string   `json:"model,omitempty"` // Camera model
	Copyright        string   `json:"copyright,omitempty"`
	Artist           string   `json:"artist,omitempty"`
	Software         string   `json:"software,omitempty"`
	Orientation      int      `json:"orientation,omitempty"` // 1-8
	GPS              *GPSData `json:"gps,omitempty"`
}

// GPSData contains GPS coordinates from EXIF
type GPSData struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// StringPtr returns nil for an empty (after trimming) string
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MetadataUpdate is the outcome of the metadata stage for a record
type MetadataUpdate struct {
	Status    RecordStatus
	Metadata  *ScrapedMetadata
	ImagePath string
	Error     string
}
