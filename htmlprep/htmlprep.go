// Package htmlprep bounds and strips raw HTML before it is parsed.
package htmlprep

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// MaxInputBytes is the most HTML any parser in this module will see
const MaxInputBytes = 2 << 20 // 2 MiB

var (
	elementPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`),
		regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`),
		regexp.MustCompile(`(?is)<noscript\b[^>]*>.*?</noscript\s*>`),
		regexp.MustCompile(`(?is)<svg\b[^>]*>.*?</svg\s*>`),
		regexp.MustCompile(`(?is)<svg\b[^>]*/>`),
		regexp.MustCompile(`(?s)<!--.*?-->`),
	}

	// Quoted values may contain '>'
	openTag   = regexp.MustCompile(`<[a-zA-Z](?:[^>"']|"[^"]*"|'[^']*')*>`)
	tagName   = regexp.MustCompile(`^<[a-zA-Z][^\s/>]*`)
	attribute = regexp.MustCompile(`^\s+([^\s=/>]+)(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+))?`)

	// Event handlers and data-* attributes, matched by name only
	droppedAttribute = regexp.MustCompile(`(?i)^(?:on[a-z]+|data-.*)$`)
)

// Sanitize truncates doc to MaxInputBytes and then removes script, style,
// noscript and svg elements, comments, on* handlers and data-* attributes.
// Truncation always happens before any pattern runs.
func Sanitize(doc string) string {
	doc = Truncate(doc, MaxInputBytes)

	// Removing one construct can splice the text around it into another,
	// so repeat until nothing changes. Every pass shrinks the input.
	for {
		next := strip(doc)
		if next == doc {
			return doc
		}
		doc = next
	}
}

func strip(doc string) string {
	for _, re := range elementPatterns {
		doc = re.ReplaceAllString(doc, "")
	}
	return openTag.ReplaceAllStringFunc(doc, stripAttributes)
}

// stripAttributes walks the attributes of one open tag and drops those whose
// name is an event handler or data-*. Values are copied through untouched.
// Anything after the last well-formed attribute is kept as written.
func stripAttributes(tag string) string {
	name := tagName.FindString(tag)
	var b strings.Builder
	b.WriteString(name)

	rest := tag[len(name):]
	for {
		m := attribute.FindStringSubmatchIndex(rest)
		if m == nil {
			break
		}
		if !droppedAttribute.MatchString(rest[m[2]:m[3]]) {
			b.WriteString(rest[:m[1]])
		}
		rest = rest[m[1]:]
	}
	b.WriteString(rest)
	return b.String()
}

// Truncate cuts s to at most limit bytes without splitting a UTF-8 sequence
func Truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// DecodeEntities resolves named and numeric character references and turns
// non-breaking spaces into plain spaces.
func DecodeEntities(s string) string {
	s = html.UnescapeString(s)
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}
