// Package textclean normalises user-submitted text before validation.
package textclean

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// Line normalises a single-line field such as a display name: markup is
// reduced to its text, control characters are dropped and whitespace runs
// collapse to one space.
func Line(s string) string {
	return strings.Join(strings.Fields(clean(stripMarkup(s), false)), " ")
}

// Block normalises a multi-line field such as a review body. Newlines and
// tabs survive; other control characters are dropped and the result is trimmed.
func Block(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(clean(stripMarkup(s), true))
}

// stripMarkup returns the text content of s parsed as an HTML fragment, so
// character references are decoded whether or not tags are present. Script
// and style bodies are discarded rather than surfaced as text.
func stripMarkup(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style, noscript, iframe").Remove()
	return doc.Text()
}

func clean(s string, multiline bool) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			if multiline {
				return r
			}
			return ' '
		case r == '\r':
			if multiline {
				return '\n'
			}
			return ' '
		case unicode.IsControl(r), r == unicode.ReplacementChar:
			return -1
		case unicode.Is(unicode.Cf, r):
			// Zero-width and bidi formatting characters.
			return -1
		}
		return r
	}, s)
}
