package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/resilience"
)

const (
	censusOneLineURL = "https://geocoding.geo.census.gov/geocoder/geographies/onelineaddress"
	censusBenchmark  = "Public_AR_Current"
	censusVintage    = "Current_Current"
)

// censusOneLineResponse is the JSON response from the Census single-address
// geographies API.
type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress    string `json:"matchedAddress"`
	AddressComponents struct {
		City  string `json:"city"`
		State string `json:"state"`
		Zip   string `json:"zip"`
	} `json:"addressComponents"`
	Geographies struct {
		Counties []struct {
			Name string `json:"NAME"`
		} `json:"Counties"`
	} `json:"geographies"`
}

// geocodeCensus geocodes a single address using the Census one-line API.
func (g *geocoder) geocodeCensus(ctx context.Context, address string) (*Result, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: census rate limit")
	}

	params := url.Values{
		"address":   {address},
		"benchmark": {censusBenchmark},
		"vintage":   {censusVintage},
		"layers":    {"Counties"},
		"format":    {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, censusOneLineURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromStatus(
			eris.Errorf("geocode: census returned status %d", resp.StatusCode), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: census read body")
	}

	var censusResp censusOneLineResponse
	if err := json.Unmarshal(body, &censusResp); err != nil {
		return nil, eris.Wrap(err, "geocode: census parse response")
	}

	if len(censusResp.Result.AddressMatches) == 0 {
		return &Result{Matched: false, Source: "census"}, nil
	}

	match := censusResp.Result.AddressMatches[0]
	result := &Result{
		Latitude:       match.Coordinates.Y,
		Longitude:      match.Coordinates.X,
		MatchedAddress: match.MatchedAddress,
		City:           titleCase(match.AddressComponents.City),
		State:          strings.ToUpper(match.AddressComponents.State),
		ZipCode:        match.AddressComponents.Zip,
		Source:         "census",
		Quality:        "rooftop",
		Matched:        true,
	}
	if len(match.Geographies.Counties) > 0 {
		result.County = match.Geographies.Counties[0].Name
	}
	return result, nil
}

// titleCase turns Census's upper-case place names into "Springfield".
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
