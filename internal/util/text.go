package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var markupReplacer = strings.NewReplacer("{{", "", "}}", "", "`", "", "**", "", "*", "", "__", "")

// PlainText strips inline markup and diacritics and collapses whitespace.
func PlainText(input string) string {
	stripped := markupReplacer.Replace(input)
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), stripped)
	if err != nil {
		folded = stripped
	}
	return strings.Join(strings.Fields(folded), " ")
}

// Slugify turns a title into a lowercase, hyphen separated identifier.
func Slugify(input string) string {
	plain := strings.ToLower(PlainText(input))
	var b strings.Builder
	lastDash := true
	for _, r := range plain {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		return "group"
	}
	return slug
}
