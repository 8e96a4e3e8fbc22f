// Package slug builds the readable part of stored object keys.
package slug

import (
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength caps a generated slug
const MaxLength = 80

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
	hyphenRuns   = regexp.MustCompile(`-{2,}`)
)

// Generate creates a lowercase ASCII slug: accents are dropped, spaces and
// underscores become hyphens, anything else non-alphanumeric is removed.
func Generate(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	s = foldAccents(s)
	s = strings.NewReplacer(" ", "-", "_", "-", "\t", "-", "\n", "-").Replace(s)
	s = invalidChars.ReplaceAllString(s, "")
	s = hyphenRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > MaxLength {
		s = strings.TrimRight(s[:MaxLength], "-")
	}
	return s
}

// WithFallback returns the slug of s, or of fallback when s has no usable
// characters
func WithFallback(s, fallback string) string {
	if slug := Generate(s); slug != "" {
		return slug
	}
	return Generate(fallback)
}

// Unique appends -n for n > 0
func Unique(slug string, n int) string {
	if n <= 0 {
		return slug
	}
	return slug + "-" + strconv.Itoa(n)
}

// FromImageURL slugs the file name of an image URL without its extension
func FromImageURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		return ""
	}
	return Generate(strings.TrimSuffix(name, path.Ext(name)))
}

// ForImage names a preview image after the page title, then the image file
// name, then "image"
func ForImage(title, imageURL string) string {
	if s := Generate(title); s != "" {
		return s
	}
	if s := FromImageURL(imageURL); s != "" {
		return s
	}
	return "image"
}

// foldAccents strips combining marks after NFD decomposition, so "é"
// becomes "e"
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
