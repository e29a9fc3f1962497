package gateway

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/pkg/geocode"
)

// Geocoder resolves addresses through the Census/Google geocoder.
type Geocoder struct {
	client geocode.Client
}

// NewGeocoder creates a location gateway.
func NewGeocoder(client geocode.Client) *Geocoder {
	return &Geocoder{client: client}
}

// Name implements LocationGateway.
func (g *Geocoder) Name() string { return SourceGeocode }

// Geocode implements LocationGateway. An address no provider could match
// returns an error rather than an empty location.
func (g *Geocoder) Geocode(ctx context.Context, address string) (*model.Location, error) {
	if strings.TrimSpace(address) == "" {
		return nil, failure.Unavailable(g.Name(), eris.New("geocode: empty address"))
	}

	res, err := g.client.Geocode(ctx, address)
	if err != nil {
		return nil, failure.Unavailable(g.Name(), err)
	}
	if res == nil || !res.Matched {
		return nil, failure.Unavailable(g.Name(), eris.Errorf("geocode: no match for %q", address))
	}

	return &model.Location{
		City:             res.City,
		State:            strings.ToUpper(res.State),
		Zip:              res.ZipCode,
		County:           res.County,
		Latitude:         res.Latitude,
		Longitude:        res.Longitude,
		FormattedAddress: res.MatchedAddress,
		Source:           res.Source,
	}, nil
}
