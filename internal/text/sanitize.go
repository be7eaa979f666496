// Package text provides the string-processing helpers shared by the notification
// pipeline: HTML stripping, length bounding, and copy formatting utilities. All
// functions are pure.
package text

import (
	"regexp"
	"strings"
)

var (
	scriptBlockPattern = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</\s*(script|style)\s*>`)
	tagPattern         = regexp.MustCompile(`<[^>]*>`)
	spacePattern       = regexp.MustCompile(`\s+`)
)

// entityReplacer decodes the handful of entities that platform chat payloads
// actually contain; anything more exotic passes through literally
var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

// Sanitize strips HTML from s and bounds the result to maxLen runes. Script and
// style blocks are removed along with their contents; other tags are removed but
// their text is kept. Sanitize is idempotent: applying it to its own output returns
// the same string.
func Sanitize(s string, maxLen int) string {
	// Strip and decode to a fixpoint: nested encodings like &amp;lt; decode one
	// layer per pass, and a later application must not reveal anything new. Every
	// replacement shortens the string, so the loop terminates.
	out := s
	for {
		prev := out
		out = scriptBlockPattern.ReplaceAllString(out, "")
		out = tagPattern.ReplaceAllString(out, "")
		out = entityReplacer.Replace(out)
		out = strings.ReplaceAll(out, "<", "")
		out = strings.ReplaceAll(out, ">", "")
		if out == prev {
			break
		}
	}
	out = spacePattern.ReplaceAllString(out, " ")
	out = strings.TrimSpace(out)
	if maxLen > 0 {
		runes := []rune(out)
		if len(runes) > maxLen {
			out = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return out
}

// IsBlank reports whether s contains no visible characters
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
