package sanitize

import (
	"html"
	"regexp"
	"strings"

	"mvdan.cc/xurls/v2"
)

var (
	// Whole blocks whose body is executable or renders remote content.
	dangerousBlocks = regexp.MustCompile(`(?is)<\s*script\b[^>]*>.*?<\s*/\s*script\s*>|<\s*style\b[^>]*>.*?<\s*/\s*style\s*>|<\s*iframe\b[^>]*>.*?<\s*/\s*iframe\s*>`)
	// Stray opening or closing tags of the same family, including unterminated ones.
	dangerousTags = regexp.MustCompile(`(?i)<\s*/?\s*(script|style|iframe|object|embed|frame|frameset|applet|meta|link|base)\b[^>]*>?`)

	urlPattern = mustCompile(xurls.StrictMatchingScheme(`https?://`))
)

func mustCompile(re *regexp.Regexp, err error) *regexp.Regexp {
	if err != nil {
		panic("sanitize: " + err.Error())
	}
	return re
}

// Content strips script-like markup, HTML-escapes the remaining text and wraps
// bare http(s) URLs in anchors that open in a new tab without an opener reference.
func Content(raw string) string {
	text := dangerousBlocks.ReplaceAllString(raw, "")
	text = dangerousTags.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	var b strings.Builder
	last := 0
	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))
		b.WriteString(anchor(text[loc[0]:loc[1]]))
		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return b.String()
}

func anchor(url string) string {
	escaped := html.EscapeString(url)
	return `<a href="` + escaped + `" target="_blank" rel="noopener noreferrer">` + escaped + `</a>`
}

// Length returns the number of characters (runes) in s.
func Length(s string) int {
	return len([]rune(s))
}
