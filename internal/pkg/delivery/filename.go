package delivery

import (
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases s, strips accents and joins words with hyphens.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			pendingDash = true
		}
	}
	return strings.Trim(b.String(), "-_")
}

// Filename builds the download name for a title and extension. ext may be
// given with or without the leading dot.
func Filename(title, ext string) string {
	name := Slugify(title)
	if name == "" {
		name = "media"
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return name
	}
	return name + "." + strings.ToLower(ext)
}

// OriginalFilename names the original upload after its title, keeping the
// extension of the stored file.
func OriginalFilename(title, storedPath string) string {
	return Filename(title, filepath.Ext(storedPath))
}
