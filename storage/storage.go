// Package storage persists preview images on the local filesystem or in an
// S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("object not found")

// Store is where preview images live. Keys are slash-separated and
// relative to the store root.
type Store interface {
	SaveImage(ctx context.Context, data []byte, slug, contentType string) (string, error)
	ReadImage(ctx context.Context, key string) ([]byte, error)
	DeleteImage(ctx context.Context, key string) error
}

// Config contains filesystem storage configuration
type Config struct {
	BasePath string `yaml:"base_path"` // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./storage",
	}
}

// FileStore keeps images under a base directory
type FileStore struct {
	config Config
	now    func() time.Time
}

// NewFileStore creates the base directory if needed
func NewFileStore(config Config) (*FileStore, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}
	return &FileStore{config: config, now: time.Now}, nil
}

// SaveImage writes data to previews/YYYY/MM/<slug>.<ext>, adding a numeric
// suffix when the name is taken, and returns the key
func (s *FileStore) SaveImage(ctx context.Context, data []byte, slug, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := datedPrefix(s.now())
	if err := os.MkdirAll(filepath.Join(s.config.BasePath, filepath.FromSlash(dir)), 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	ext := ExtensionFor(contentType)
	for n := 0; ; n++ {
		name := slug + ext
		if n > 0 {
			name = fmt.Sprintf("%s-%d%s", slug, n, ext)
		}
		key := path.Join(dir, name)

		// O_EXCL makes the existence check and the create one step
		f, err := os.OpenFile(s.fullPath(key), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create image file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("failed to write image file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to write image file: %w", err)
		}
		return key, nil
	}
}

// ReadImage reads an image from the filesystem
func (s *FileStore) ReadImage(ctx context.Context, key string) ([]byte, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return data, nil
}

// DeleteImage removes an image. Missing files are not an error.
func (s *FileStore) DeleteImage(ctx context.Context, key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete image file: %w", err)
	}
	return nil
}

func (s *FileStore) fullPath(key string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key))
}

// resolve rejects keys that would escape the base directory
func (s *FileStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return s.fullPath(strings.TrimPrefix(clean, "/")), nil
}

// datedPrefix is previews/YYYY/MM
func datedPrefix(t time.Time) string {
	return fmt.Sprintf("previews/%04d/%02d", t.Year(), int(t.Month()))
}

// ExtensionFor returns the file extension for an image content type,
// defaulting to .jpg
func ExtensionFor(contentType string) string {
	mediaType := strings.TrimSpace(strings.ToLower(strings.Split(contentType, ";")[0]))

	switch mediaType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	case "image/avif":
		return ".avif"
	default:
		return ".jpg"
	}
}
