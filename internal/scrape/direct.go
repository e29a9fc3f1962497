package scrape

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
)

const maxRedirects = 10

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// DirectScraper fetches a page itself. Free, no API calls. Listing sites
// often block it, in which case the chain falls through to Jina and
// Firecrawl.
type DirectScraper struct {
	client *resty.Client
}

// NewDirectScraper creates a DirectScraper. An empty userAgent uses a
// desktop browser string. Redirects stay on the requested host or move to
// one of allowedHosts; anything else, and any internal address, is refused.
func NewDirectScraper(userAgent string, timeout time.Duration, allowedHosts []string) *DirectScraper {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(redirectPolicy(allowedHosts)).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetHeader("Accept-Language", "en-US,en;q=0.9")
	return &DirectScraper{client: client}
}

func redirectPolicy(allowedHosts []string) resty.RedirectPolicy {
	follow := resty.FlexibleRedirectPolicy(maxRedirects)
	return resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if len(via) > 0 {
			if err := checkRedirect(req.URL, via[0].URL, allowedHosts); err != nil {
				return err
			}
		}
		return follow.Apply(req, via)
	})
}

// checkRedirect allows a hop to the original host and port, or to an
// allowed public host on a default port over http or https.
func checkRedirect(next, origin *url.URL, allowedHosts []string) error {
	if next.Scheme != "http" && next.Scheme != "https" {
		return eris.Errorf("direct: redirect to %s scheme refused", next.Scheme)
	}
	if strings.EqualFold(next.Host, origin.Host) {
		return nil
	}
	host := next.Hostname()
	if InternalHost(host) || !HostAllowed(host, allowedHosts) {
		return eris.Errorf("direct: redirect to host %q not allowed", host)
	}
	if port := next.Port(); port != "" && port != "80" && port != "443" {
		return eris.Errorf("direct: redirect to port %s not allowed", port)
	}
	return nil
}

func (d *DirectScraper) Name() string { return "direct" }

// Supports accepts http and https URLs.
func (d *DirectScraper) Supports(rawURL string) bool {
	u, err := url.Parse(rawURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Scrape fetches a URL and rejects blocked or empty pages.
func (d *DirectScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	resp, err := d.client.R().SetContext(ctx).Get(targetURL)
	if err != nil {
		return nil, eris.Wrap(err, "direct: fetch")
	}

	body := resp.Body()
	if blocked, blockType := DetectBlock(resp.RawResponse, body); blocked {
		return nil, eris.Errorf("direct: blocked (%s)", blockType)
	}
	if resp.StatusCode() >= 400 {
		return nil, eris.Errorf("direct: status %d", resp.StatusCode())
	}
	if len(bytes.TrimSpace(body)) < 100 {
		return nil, eris.New("direct: empty page")
	}

	return &Result{
		Page: Page{
			URL:        targetURL,
			Title:      pageTitle(body),
			HTML:       string(body),
			StatusCode: resp.StatusCode(),
		},
		Source: "direct",
	}, nil
}

func pageTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
