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

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results []googleResult `json:"results"`
	Status  string         `json:"status"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress  string            `json:"formatted_address"`
	AddressComponents []googleComponent `json:"address_components"`
}

type googleComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// component returns the first component of the given type.
func (r googleResult) component(kind string, short bool) string {
	for _, c := range r.AddressComponents {
		for _, t := range c.Types {
			if t == kind {
				if short {
					return c.ShortName
				}
				return c.LongName
			}
		}
	}
	return ""
}

// geocodeGoogle geocodes a single address using the Google Geocoding API.
func (g *geocoder) geocodeGoogle(ctx context.Context, address string) (*Result, error) {
	if g.googleKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: google rate limit")
	}

	params := url.Values{
		"address": {address},
		"key":     {g.googleKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleGeocodeURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, resilience.FromStatus(
			eris.Errorf("geocode: google returned status %d", resp.StatusCode), resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google read body")
	}

	var googleResp googleGeocodeResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}

	switch googleResp.Status {
	case "OK":
	case "OVER_QUERY_LIMIT":
		return nil, resilience.NewTransientError(eris.New("geocode: google over query limit"), http.StatusTooManyRequests)
	case "REQUEST_DENIED", "INVALID_REQUEST":
		return nil, eris.Errorf("geocode: google status %s", googleResp.Status)
	default:
		return &Result{Matched: false, Source: "google"}, nil
	}
	if len(googleResp.Results) == 0 {
		return &Result{Matched: false, Source: "google"}, nil
	}

	r := googleResp.Results[0]
	return &Result{
		Latitude:       r.Geometry.Location.Lat,
		Longitude:      r.Geometry.Location.Lng,
		MatchedAddress: r.FormattedAddress,
		City:           r.component("locality", false),
		State:          r.component("administrative_area_level_1", true),
		ZipCode:        r.component("postal_code", false),
		County:         r.component("administrative_area_level_2", false),
		Source:         "google",
		Quality:        googleLocationTypeToQuality(r.Geometry.LocationType),
		Matched:        true,
	}, nil
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}
