// Package images downloads preview images, records their dimensions and EXIF
// data, and saves them to a storage.Store.
package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	// Registered decoders for image.DecodeConfig
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/docutag/linkmeta/fetch"
	"github.com/docutag/linkmeta/metrics"
	"github.com/docutag/linkmeta/models"
	"github.com/docutag/linkmeta/slug"
	"github.com/docutag/linkmeta/storage"
)

var (
	ErrTooLarge = errors.New("image too large")
	ErrNotImage = errors.New("response is not an image")
)

// Config contains image download configuration
type Config struct {
	MaxBytes int64         `yaml:"max_bytes"` // Maximum image size to download
	Timeout  time.Duration `yaml:"timeout"`   // Timeout for a single download
}

// DefaultConfig returns default image configuration
func DefaultConfig() Config {
	return Config{
		MaxBytes: 10 * 1024 * 1024, // 10MB
		Timeout:  15 * time.Second,
	}
}

// Persister downloads images through the guarded fetch client and stores them
type Persister struct {
	client *fetch.Client
	store  storage.Store
	config Config
	newID  func() string
}

// NewPersister creates a Persister
func NewPersister(client *fetch.Client, store storage.Store, config Config) *Persister {
	if config.MaxBytes <= 0 {
		config.MaxBytes = DefaultConfig().MaxBytes
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Persister{
		client: client,
		store:  store,
		config: config,
		newID:  func() string { return uuid.New().String() },
	}
}

// Persist downloads imageURL and saves it under a slug derived from title.
// Redirect hops are validated like any other fetch.
func (p *Persister) Persist(ctx context.Context, imageURL, title string) (*models.StoredImage, error) {
	img, err := p.persist(ctx, imageURL, title)
	switch {
	case err == nil:
		metrics.StoredImages.WithLabelValues("stored").Inc()
	case errors.Is(err, ErrTooLarge), errors.Is(err, ErrNotImage):
		metrics.StoredImages.WithLabelValues("rejected").Inc()
	default:
		metrics.StoredImages.WithLabelValues("error").Inc()
	}
	return img, err
}

func (p *Persister) persist(ctx context.Context, imageURL, title string) (*models.StoredImage, error) {
	resp, err := p.client.Get(ctx, imageURL, fetch.AcceptImage, fetch.Options{
		Timeout:      p.config.Timeout,
		MaxBodyBytes: p.config.MaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	if !resp.OK() {
		return nil, &fetch.StatusError{URL: imageURL, StatusCode: resp.StatusCode}
	}
	if resp.Truncated {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, p.config.MaxBytes)
	}

	contentType := ContentType(resp.Header.Get("Content-Type"), resp.Body)
	if !IsRaster(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}

	id := p.newID()
	stored := &models.StoredImage{
		ID:          id,
		SourceURL:   resp.URL.String(),
		ContentType: contentType,
		SizeBytes:   int64(len(resp.Body)),
		EXIF:        ExtractEXIF(resp.Body),
	}

	if width, height, err := Dimensions(resp.Body); err == nil {
		stored.Width, stored.Height = width, height
	} else {
		slog.Debug("could not decode image dimensions", "url", imageURL, "error", err)
	}

	name := slug.ForImage(title, resp.URL.String()) + "-" + shortID(id)
	key, err := p.store.SaveImage(ctx, resp.Body, name, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}
	stored.Path = key

	slog.Info("stored image",
		"url", imageURL,
		"path", key,
		"bytes", stored.SizeBytes,
		"width", stored.Width,
		"height", stored.Height)
	return stored, nil
}

// ContentType returns the media type from header, sniffing body when the
// header is missing or generic
func ContentType(header string, body []byte) string {
	mediaType := strings.TrimSpace(strings.ToLower(strings.Split(header, ";")[0]))
	if mediaType == "" || mediaType == "application/octet-stream" || mediaType == "binary/octet-stream" {
		sniffed := http.DetectContentType(body)
		return strings.TrimSpace(strings.Split(sniffed, ";")[0])
	}
	return mediaType
}

// IsRaster reports an image/* media type other than SVG
func IsRaster(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}

// Dimensions decodes only the image header
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
