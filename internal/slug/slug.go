package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes accented characters and drops the combining marks,
// so "ś" becomes "s" and "é" becomes "e".
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))

// Slugify maps text to the audio filename token used by the publishing
// pipeline: de-accent, lower-case, replace every maximal run of characters
// outside [a-z0-9] with a single '_', trim leading/trailing '_'.
//
// This must agree byte-for-byte with the server-side filename sanitizer;
// manifest keys and on-disk fallback filenames are looked up by this token.
// Idempotent: Slugify(Slugify(x)) == Slugify(x).
func Slugify(text string) string {
	if text == "" {
		return ""
	}
	plain, _, err := transform.String(stripMarks, text)
	if err != nil {
		plain = text
	}
	plain = strings.ToLower(plain)
	var b strings.Builder
	b.Grow(len(plain))
	pending := false // a separator run is open
	for _, r := range plain {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
