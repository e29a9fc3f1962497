package model

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKey reduces an address or listing URL to a comparison key.
// Addresses are case-folded with punctuation dropped and whitespace
// collapsed. URLs keep only host (without "www.") and path.
func NormalizeKey(s string) string {
	s = strings.TrimSpace(norm.NFKC.String(s))
	if s == "" {
		return ""
	}

	if u, err := url.Parse(s); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		host := strings.TrimPrefix(cases.Fold().String(u.Hostname()), "www.")
		path := strings.TrimRight(u.EscapedPath(), "/")
		return host + path
	}

	s = cases.Fold().String(s)
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}
