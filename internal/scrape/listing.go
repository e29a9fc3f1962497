package scrape

import (
	"encoding/json"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/model"
)

// ErrNoListingData is returned when a page carries no usable structured
// listing data.
var ErrNoListingData = eris.New("scrape: no listing data on page")

// residenceTypes are the schema.org types listing portals tag the subject
// home with.
var residenceTypes = map[string]bool{
	"singlefamilyresidence": true,
	"house":                 true,
	"residence":             true,
	"apartment":             true,
	"apartmentcomplex":      true,
	"condominium":           true,
	"townhouse":             true,
	"accommodation":         true,
	"realestatelisting":     true,
	"product":               true,
	"place":                 true,
}

// ParseListing extracts property facts from the JSON-LD blocks of a
// listing page. Only values present on the page are set; nothing is
// inferred.
func ParseListing(html, pageURL string) (*model.PropertyFacts, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse html")
	}

	// The subject is the first residence with an address; pages also embed
	// nearby homes, so later nodes only count when they describe the same
	// address in more detail.
	var best *model.PropertyFacts
	bestKey := ""
	for _, node := range jsonLDNodes(doc) {
		if !isResidence(node) {
			continue
		}
		facts := factsFromNode(node)
		key := model.NormalizeKey(facts.Address)
		if key == "" {
			continue
		}
		switch {
		case best == nil:
			best, bestKey = facts, key
		case key == bestKey && factScore(facts) > factScore(best):
			best = facts
		}
	}
	if best == nil {
		return nil, ErrNoListingData
	}

	if best.Description == "" {
		best.Description = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}
	if len(best.Images) == 0 {
		if img := doc.Find(`meta[property="og:image"]`).AttrOr("content", ""); img != "" {
			best.Images = []string{img}
		}
	}
	best.URL = pageURL
	return best, nil
}

// jsonLDNodes returns every object found in the page's JSON-LD scripts,
// flattening arrays and @graph containers. Malformed blocks are skipped.
func jsonLDNodes(doc *goquery.Document) []map[string]any {
	var nodes []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err != nil {
			return
		}
		nodes = append(nodes, flattenLD(v)...)
	})
	return nodes
}

func flattenLD(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, e := range t {
			out = append(out, flattenLD(e)...)
		}
		return out
	case map[string]any:
		out := []map[string]any{t}
		if g, ok := t["@graph"]; ok {
			out = append(out, flattenLD(g)...)
		}
		for _, key := range []string{"mainEntity", "about", "itemOffered"} {
			if inner, ok := t[key].(map[string]any); ok {
				merged := mergeNode(inner, t)
				out = append(out, merged)
			}
		}
		return out
	}
	return nil
}

// mergeNode overlays an inner entity onto its wrapper so a listing's
// offers stay attached to the residence they describe.
func mergeNode(inner, outer map[string]any) map[string]any {
	merged := make(map[string]any, len(inner)+1)
	for k, v := range inner {
		merged[k] = v
	}
	if _, ok := merged["offers"]; !ok {
		if offers, ok := outer["offers"]; ok {
			merged["offers"] = offers
		}
	}
	return merged
}

func ldTypes(node map[string]any) []string {
	switch t := node["@type"].(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func isResidence(node map[string]any) bool {
	for _, t := range ldTypes(node) {
		if residenceTypes[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

func factsFromNode(node map[string]any) *model.PropertyFacts {
	f := &model.PropertyFacts{
		Address:     addressOf(node["address"]),
		Beds:        int(firstNumber(node, "numberOfBedrooms", "numberOfRooms")),
		Baths:       bathsOf(node),
		Area:        int(math.Round(numberOf(node["floorSize"]))),
		YearBuilt:   int(numberOf(node["yearBuilt"])),
		LotSize:     int(math.Round(numberOf(node["lotSize"]))),
		Description: stringOf(node["description"]),
		Images:      imagesOf(node["image"]),
		Price:       priceOf(node["offers"]),
	}
	if types := ldTypes(node); len(types) > 0 {
		f.HomeType = types[0]
	}
	if f.Address == "" {
		f.Address = stringOf(node["name"])
		if !looksLikeAddress(f.Address) {
			f.Address = ""
		}
	}
	return f
}

// factScore ranks candidate nodes by how many facts they carry.
func factScore(f *model.PropertyFacts) int {
	score := 0
	if f.Address != "" {
		score += 4
	}
	for _, ok := range []bool{f.Beds > 0, f.Baths > 0, f.Area > 0, f.Price > 0, f.YearBuilt > 0} {
		if ok {
			score++
		}
	}
	return score
}

func addressOf(v any) string {
	switch a := v.(type) {
	case string:
		return strings.TrimSpace(a)
	case map[string]any:
		street := stringOf(a["streetAddress"])
		city := stringOf(a["addressLocality"])
		region := stringOf(a["addressRegion"])
		zip := stringOf(a["postalCode"])
		if street == "" {
			return ""
		}
		parts := []string{street}
		if city != "" {
			parts = append(parts, city)
		}
		tail := strings.TrimSpace(region + " " + zip)
		if tail != "" {
			parts = append(parts, tail)
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

func looksLikeAddress(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9' && strings.Contains(s, " ")
}

func bathsOf(node map[string]any) float64 {
	if total := numberOf(node["numberOfBathroomsTotal"]); total > 0 {
		return total
	}
	full := numberOf(node["numberOfFullBathrooms"])
	partial := numberOf(node["numberOfPartialBathrooms"])
	return full + partial/2
}

func priceOf(v any) float64 {
	switch o := v.(type) {
	case []any:
		for _, e := range o {
			if p := priceOf(e); p > 0 {
				return p
			}
		}
	case map[string]any:
		if p := numberOf(o["price"]); p > 0 {
			return p
		}
		if spec, ok := o["priceSpecification"]; ok {
			return priceOf(spec)
		}
	}
	return 0
}

func imagesOf(v any) []string {
	switch i := v.(type) {
	case string:
		if i != "" {
			return []string{i}
		}
	case []any:
		var out []string
		for _, e := range i {
			out = append(out, imagesOf(e)...)
		}
		return out
	case map[string]any:
		if u := stringOf(i["url"]); u != "" {
			return []string{u}
		}
	}
	return nil
}

func firstNumber(node map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if n := numberOf(node[k]); n > 0 {
			return n
		}
	}
	return 0
}

// numberOf reads a JSON-LD numeric value: a number, a formatted string
// such as "$450,000" or "1,500 sqft", or a QuantitativeValue object.
func numberOf(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		return parseNumber(n)
	case map[string]any:
		if val, ok := n["value"]; ok {
			return numberOf(val)
		}
	}
	return 0
}

func parseNumber(s string) float64 {
	var b strings.Builder
	seenDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			seenDigit = true
		case r == '.':
			b.WriteRune(r)
		case r == ',':
		default:
			if seenDigit {
				f, _ := strconv.ParseFloat(b.String(), 64)
				return f
			}
		}
	}
	f, _ := strconv.ParseFloat(b.String(), 64)
	return f
}

func stringOf(v any) string {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// ComparableSet is what a listing page reveals about nearby homes: fully
// described neighbors, plus links to neighbor pages that need their own
// fetch.
type ComparableSet struct {
	Comparables []model.Comparable
	Links       []string
}

// ParseComparables extracts nearby or similar homes from a listing page's
// JSON-LD, skipping the subject property itself. Only homes with an
// address and a price become comparables.
func ParseComparables(html, pageURL, subjectAddress string) (ComparableSet, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ComparableSet{}, eris.Wrap(err, "scrape: parse html")
	}

	subjectKey := model.NormalizeKey(subjectAddress)
	base, _ := url.Parse(pageURL)

	var set ComparableSet
	seen := map[string]bool{}
	seenLinks := map[string]bool{}
	for _, node := range jsonLDNodes(doc) {
		if items, ok := node["itemListElement"].([]any); ok {
			for _, it := range items {
				link := listItemURL(it, base)
				if link == "" || link == pageURL || seenLinks[link] {
					continue
				}
				seenLinks[link] = true
				set.Links = append(set.Links, link)
			}
		}

		if !isResidence(node) {
			continue
		}
		facts := factsFromNode(node)
		key := model.NormalizeKey(facts.Address)
		if key == "" || key == subjectKey || seen[key] || facts.Price <= 0 {
			continue
		}
		seen[key] = true
		set.Comparables = append(set.Comparables, ComparableFromFacts(facts, resolveLink(stringOf(node["url"]), base)))
	}
	return set, nil
}

// ComparableFromFacts converts parsed listing facts into a comparable.
func ComparableFromFacts(f *model.PropertyFacts, link string) model.Comparable {
	c := model.Comparable{
		Address:   f.Address,
		SalePrice: f.Price,
		Beds:      f.Beds,
		Baths:     f.Baths,
		Area:      f.Area,
		URL:       link,
	}
	if f.Price > 0 && f.Area > 0 {
		c.PricePerSqft = math.Round(f.Price/float64(f.Area)*100) / 100
	}
	return c
}

func listItemURL(v any, base *url.URL) string {
	item, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if u := stringOf(item["url"]); u != "" {
		return resolveLink(u, base)
	}
	if inner, ok := item["item"].(map[string]any); ok {
		return resolveLink(stringOf(inner["url"]), base)
	}
	if s := stringOf(item["item"]); s != "" {
		return resolveLink(s, base)
	}
	return ""
}

// resolveLink makes href absolute and keeps it only when it stays on the
// page's host.
func resolveLink(href string, base *url.URL) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
		if !strings.EqualFold(u.Hostname(), base.Hostname()) {
			return ""
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
