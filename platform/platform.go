// Package platform holds the host matching rules shared by the classifier
// and the link checker, and the list of URLs that are never articles.
package platform

import (
	"net/url"
	"path"
	"strings"
)

// Hostname returns the lowercase host of u without port or trailing dot
func Hostname(u *url.URL) string {
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}

// Domain returns the host without a leading "www."
func Domain(u *url.URL) string {
	return strings.TrimPrefix(Hostname(u), "www.")
}

// HostMatches reports whether host equals one of domains or is a subdomain of it
func HostMatches(host string, domains ...string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Host lists for each specialized platform
var (
	YouTubeHosts   = []string{"youtube.com", "youtu.be", "youtube-nocookie.com"}
	RedditHosts    = []string{"reddit.com", "redd.it"}
	NYTimesHosts   = []string{"nytimes.com"}
	IMDbHosts      = []string{"imdb.com"}
	WikipediaHosts = []string{"wikipedia.org"}
	DiggHosts      = []string{"digg.com"}
)

// nonArticleHosts are feeds, media players and app shells
var nonArticleHosts = []string{
	"twitter.com", "x.com", "t.co",
	"instagram.com", "facebook.com", "fb.com", "fb.watch",
	"tiktok.com", "pinterest.com", "pin.it",
	"youtube.com", "youtu.be", "vimeo.com", "twitch.tv",
	"spotify.com", "soundcloud.com",
	"linkedin.com", "threads.net", "bsky.app",
	"maps.google.com", "drive.google.com", "docs.google.com",
}

var nonArticleExtensions = map[string]bool{
	".pdf": true, ".zip": true, ".gz": true, ".tar": true, ".rar": true, ".7z": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".svg": true, ".bmp": true, ".ico": true, ".avif": true,
	".mp3": true, ".wav": true, ".ogg": true, ".flac": true, ".m4a": true,
	".mp4": true, ".mov": true, ".webm": true, ".avi": true, ".mkv": true,
	".exe": true, ".dmg": true, ".apk": true, ".iso": true,
	".json": true, ".xml": true, ".csv": true, ".txt": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
}

// Leading path segments that never hold article content
var nonArticleSegments = map[string]bool{
	"login": true, "signin": true, "sign-in": true, "signup": true, "sign-up": true,
	"register": true, "logout": true, "auth": true, "oauth": true, "sso": true,
	"account": true, "settings": true, "profile": true,
	"cart": true, "checkout": true, "basket": true,
	"search": true,
}

// IsArticleCandidate reports whether a URL is worth running article
// extraction on. Social feeds, media files and auth, cart or search pages
// are excluded.
func IsArticleCandidate(u *url.URL) bool {
	if u == nil {
		return false
	}
	if HostMatches(Hostname(u), nonArticleHosts...) {
		return false
	}

	p := strings.ToLower(u.Path)
	if nonArticleExtensions[path.Ext(p)] {
		return false
	}

	first := strings.SplitN(strings.Trim(p, "/"), "/", 2)[0]
	return !nonArticleSegments[first]
}
