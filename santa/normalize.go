package santa

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeName is the comparison form of a display name: surrounding
// whitespace removed and Unicode case folded. Names are always stored as
// typed; only comparisons go through this.
func NormalizeName(name string) string {
	// A Caser carries state, so each call gets its own.
	return cases.Fold().String(strings.TrimSpace(name))
}

// SameName reports whether two display names refer to the same person.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// ParseItems splits free text into wishlist items, one per line, trimming
// each and dropping blank lines.
func ParseItems(text string) []string {
	return cleanItems(strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n"))
}

func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
