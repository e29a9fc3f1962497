package classify

import (
	"strings"
	"unicode"
)

// stateAbbrs are the USPS two-letter codes.
var stateAbbrs = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
	"ca": "california", "co": "colorado", "ct": "connecticut", "de": "delaware",
	"fl": "florida", "ga": "georgia", "hi": "hawaii", "id": "idaho",
	"il": "illinois", "in": "indiana", "ia": "iowa", "ks": "kansas",
	"ky": "kentucky", "la": "louisiana", "me": "maine", "md": "maryland",
	"ma": "massachusetts", "mi": "michigan", "mn": "minnesota", "ms": "mississippi",
	"mo": "missouri", "mt": "montana", "ne": "nebraska", "nv": "nevada",
	"nh": "new hampshire", "nj": "new jersey", "nm": "new mexico", "ny": "new york",
	"nc": "north carolina", "nd": "north dakota", "oh": "ohio", "ok": "oklahoma",
	"or": "oregon", "pa": "pennsylvania", "ri": "rhode island", "sc": "south carolina",
	"sd": "south dakota", "tn": "tennessee", "tx": "texas", "ut": "utah",
	"vt": "vermont", "va": "virginia", "wa": "washington", "wv": "west virginia",
	"wi": "wisconsin", "wy": "wyoming", "dc": "district of columbia",
}

// stateNames maps full state names back to their codes.
var stateNames = func() map[string]string {
	m := make(map[string]string, len(stateAbbrs))
	for abbr, full := range stateAbbrs {
		m[full] = abbr
	}
	return m
}()

// WellFormedAddress reports whether s looks like a complete US street
// address: a numbered street, then a city, then a state or ZIP code, with
// at least one comma between street and locality.
func WellFormedAddress(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 10 {
		return false
	}
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return false
	}
	street := strings.TrimSpace(parts[0])
	if !hasDigit(street) || len(strings.Fields(street)) < 2 {
		return false
	}

	locality := strings.ToLower(strings.Join(parts[1:], " "))
	hasZip, hasState := false, false
	words := strings.FieldsFunc(locality, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' })
	for i, w := range words {
		if isZip(w) {
			hasZip = true
		}
		if _, ok := stateAbbrs[w]; ok && i > 0 {
			hasState = true
		}
		if _, ok := stateNames[w]; ok {
			hasState = true
		}
		if i+1 < len(words) {
			if _, ok := stateNames[w+" "+words[i+1]]; ok {
				hasState = true
			}
		}
	}
	// A locality needs a city word ahead of the state or ZIP.
	return (hasZip || hasState) && len(words) >= 2
}

func isZip(w string) bool {
	digits := w
	if i := strings.IndexByte(w, '-'); i == 5 && len(w) == 10 {
		digits = w[:5] + w[6:]
	} else if len(w) != 5 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
