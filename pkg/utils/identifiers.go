package utils

import (
	"strings"
	"unicode"
)

// Slugify turns free text into a lowercase, dash-separated identifier that is
// safe as a directory name. Runs of anything other than letters and digits
// collapse into a single dash. The result may be empty.
func Slugify(text string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(text) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingDash = false
			continue
		}
		pendingDash = true
	}
	return b.String()
}
