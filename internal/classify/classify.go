// Package classify validates submitted listing references and decides
// which acquisition path a report run takes.
package classify

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/failure"
	"github.com/sells-group/renovation-report/internal/gateway"
	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/scrape"
)

// ResolvedSource is the acquisition path for a run: URLSource or
// AddressSource. The set is closed.
type ResolvedSource interface {
	// ListingURL is the page to scrape, or "" when there is none.
	ListingURL() string
	resolved()
}

// URLSource is a run driven by a submitted listing URL. It never falls
// back to AI research.
type URLSource struct {
	URL  string
	Host string
}

// ListingURL implements ResolvedSource.
func (s URLSource) ListingURL() string { return s.URL }
func (URLSource) resolved()            {}

// AddressSource is a run driven by a free-text address. DiscoveredURL is
// set when discovery found the property's listing.
type AddressSource struct {
	Address       string
	DiscoveredURL string
}

// ListingURL implements ResolvedSource.
func (s AddressSource) ListingURL() string { return s.DiscoveredURL }
func (AddressSource) resolved()            {}

// Patcher persists partial report updates.
type Patcher interface {
	UpdateFields(ctx context.Context, id string, p model.Patch) error
}

// Classifier validates input and resolves a report's source.
type Classifier struct {
	allowedHosts []string
	discoverer   gateway.Discoverer
	patcher      Patcher
}

// New creates a classifier. discoverer may be nil, in which case address
// runs always take the address-only path.
func New(allowedHosts []string, discoverer gateway.Discoverer, patcher Patcher) *Classifier {
	return &Classifier{allowedHosts: allowedHosts, discoverer: discoverer, patcher: patcher}
}

// Validate checks a raw submission and returns its normalized form.
// Failures are InvalidInput.
func (c *Classifier) Validate(kind model.InputKind, raw string) (model.ReportInput, error) {
	raw = strings.TrimSpace(raw)
	switch kind {
	case model.InputKindURL:
		u, err := c.checkURL(raw)
		if err != nil {
			return model.ReportInput{}, err
		}
		return model.ReportInput{InputKind: kind, SourceURL: u.String()}, nil
	case model.InputKindAddress:
		addr := collapseSpaces(raw)
		if !WellFormedAddress(addr) {
			return model.ReportInput{}, failure.Invalid("address %q needs a street, city and state or ZIP code", addr)
		}
		return model.ReportInput{InputKind: kind, SourceAddress: addr}, nil
	}
	return model.ReportInput{}, failure.Invalid("unknown input kind %q", kind)
}

func (c *Classifier) checkURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, failure.Invalid("listing URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, failure.Invalid("listing URL does not parse")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, failure.Invalid("listing URL scheme %q is not http or https", u.Scheme)
	}
	if u.User != nil {
		return nil, failure.Invalid("listing URL must not carry credentials")
	}
	if scrape.InternalHost(u.Hostname()) {
		return nil, failure.Invalid("listing host %q is internal and not supported", u.Hostname())
	}
	if !scrape.HostAllowed(u.Hostname(), c.allowedHosts) {
		return nil, failure.Invalid("listing host %q is not supported", u.Hostname())
	}
	if u.Port() != "" && u.Port() != "80" && u.Port() != "443" {
		return nil, failure.Invalid("listing URL port %q is not allowed", u.Port())
	}
	u.Fragment = ""
	return u, nil
}

// Resolve decides the acquisition path for r. For an address run it tries
// discovery and, on success, writes the discovered URL back onto the
// report. Discovery failures are logged and the run continues on the
// address-only path.
func (c *Classifier) Resolve(ctx context.Context, r *model.Report) (ResolvedSource, error) {
	switch r.InputKind {
	case model.InputKindURL:
		u, err := c.checkURL(r.SourceURL)
		if err != nil {
			return nil, err
		}
		return URLSource{URL: u.String(), Host: strings.ToLower(u.Hostname())}, nil

	case model.InputKindAddress:
		if !WellFormedAddress(r.SourceAddress) {
			return nil, failure.Invalid("address %q is not well formed", r.SourceAddress)
		}
		src := AddressSource{Address: r.SourceAddress}

		// A resumed run keeps the URL an earlier attempt discovered.
		if r.SourceURL != "" {
			if _, err := c.checkURL(r.SourceURL); err == nil {
				src.DiscoveredURL = r.SourceURL
				return src, nil
			}
		}
		if c.discoverer == nil {
			return src, nil
		}

		d, err := c.discoverer.ResolveURL(ctx, r.SourceAddress)
		if err != nil {
			zap.L().Warn("classify: discovery failed, continuing with address only",
				zap.String("report_id", r.ID),
				zap.Error(err),
			)
			return src, nil
		}
		if !d.Found {
			return src, nil
		}
		u, err := c.checkURL(d.URL)
		if err != nil {
			zap.L().Warn("classify: discovered URL rejected",
				zap.String("report_id", r.ID),
				zap.String("url", d.URL),
			)
			return src, nil
		}
		if c.patcher != nil {
			if err := c.patcher.UpdateFields(ctx, r.ID, model.Patch{DiscoveredURL: u.String()}); err != nil {
				return nil, eris.Wrap(err, "classify: persist discovered url")
			}
		}
		src.DiscoveredURL = u.String()
		return src, nil
	}
	return nil, failure.Invalid("unknown input kind %q", r.InputKind)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
