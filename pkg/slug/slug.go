package slug

import (
	"regexp"
	"strings"
)

// MaxLength is the longest slug accepted by Valid.
const MaxLength = 120

var (
	slugRegexp  = regexp.MustCompile(`[^a-z0-9]+`)
	validRegexp = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// Latin letters with diacritics that show up in business and place names.
var foldReplacer = strings.NewReplacer(
	"à", "a", "á", "a", "â", "a", "ä", "a", "ã", "a", "å", "a",
	"ç", "c",
	"è", "e", "é", "e", "ê", "e", "ë", "e",
	"ì", "i", "í", "i", "î", "i", "ï", "i",
	"ñ", "n",
	"ò", "o", "ó", "o", "ô", "o", "ö", "o", "õ", "o", "ø", "o",
	"ù", "u", "ú", "u", "û", "u", "ü", "u",
	"ý", "y", "ÿ", "y",
	"æ", "ae", "œ", "oe", "ß", "ss",
	"&", " and ", "'", "", "’", "",
)

// Generate creates a URL-friendly slug from the given name.
//
// Examples:
//   - "Café Nero" → "cafe-nero"
//   - "Fish & Chips" → "fish-and-chips"
//   - "Hello   World!" → "hello-world"
func Generate(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = foldReplacer.Replace(slug)

	// Replace any non-alphanumeric characters with hyphens
	slug = slugRegexp.ReplaceAllString(slug, "-")

	// Trim leading and trailing hyphens
	slug = strings.Trim(slug, "-")

	if len(slug) > MaxLength {
		slug = strings.TrimRight(slug[:MaxLength], "-")
	}

	return slug
}

// Valid reports whether s is already in canonical slug form.
func Valid(s string) bool {
	return len(s) > 0 && len(s) <= MaxLength && validRegexp.MatchString(s)
}
