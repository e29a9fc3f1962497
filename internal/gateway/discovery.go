package gateway

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/scrape"
	"github.com/sells-group/renovation-report/pkg/jina"
)

// listingPathMarkers identify property detail pages, as opposed to search
// or city index pages, on the supported portals.
var listingPathMarkers = []string{"/home/", "/homedetails/", "/realestateandhomes-detail/", "/property/", "/p/"}

// ListingDiscovery finds a canonical listing URL for an address by web
// search restricted to the allowed listing hosts.
type ListingDiscovery struct {
	client       jina.Client
	allowedHosts []string
}

// NewListingDiscovery creates a discovery gateway.
func NewListingDiscovery(client jina.Client, allowedHosts []string) *ListingDiscovery {
	return &ListingDiscovery{client: client, allowedHosts: allowedHosts}
}

// ResolveURL implements Discoverer. A search that runs but matches no
// detail page is Found=false, not an error.
func (d *ListingDiscovery) ResolveURL(ctx context.Context, address string) (Discovery, error) {
	resp, err := d.client.Search(ctx, address, jina.WithSiteFilter(d.allowedHosts...))
	if err != nil {
		return Discovery{}, failure.Unavailable(SourceDiscovery, err)
	}

	for _, r := range resp.Data {
		if d.isListingURL(r.URL) {
			zap.L().Debug("gateway: listing discovered",
				zap.String("address", address),
				zap.String("url", r.URL),
			)
			return Discovery{Found: true, URL: r.URL}, nil
		}
	}
	return Discovery{}, nil
}

func (d *ListingDiscovery) isListingURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if !scrape.HostAllowed(u.Hostname(), d.allowedHosts) {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, m := range listingPathMarkers {
		if strings.Contains(path, m) {
			return true
		}
	}
	return false
}
