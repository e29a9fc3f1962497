// Package scrape fetches listing pages through a chain of scrapers and
// parses their embedded structured data.
package scrape

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Chain tries scrapers in priority order, returning the first success.
type Chain struct {
	scrapers []Scraper
}

// NewChain creates a Chain. Scrapers are tried in order; the first
// successful result is returned.
func NewChain(scrapers ...Scraper) *Chain {
	return &Chain{scrapers: scrapers}
}

// Scrape tries each scraper in order for a single URL.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	var lastErr error
	for _, s := range c.scrapers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.Supports(targetURL) {
			continue
		}
		result, err := s.Scrape(ctx, targetURL)
		if err == nil && result != nil {
			return result, nil
		}
		if err != nil {
			zap.L().Debug("scrape: scraper failed, trying next",
				zap.String("scraper", s.Name()),
				zap.String("url", targetURL),
				zap.Error(err),
			)
			lastErr = err
		}
	}
	if lastErr != nil {
		return nil, eris.Wrap(lastErr, "scrape: all scrapers failed")
	}
	return nil, eris.Errorf("scrape: no suitable scraper for url: %s", targetURL)
}

// ScrapeAll fetches multiple URLs in parallel using the chain. Failed
// URLs are skipped; results keep the input order.
func (c *Chain) ScrapeAll(ctx context.Context, urls []string, maxConcurrent int) []Result {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	slots := make([]*Result, len(urls))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, u := range urls {
		g.Go(func() error {
			result, err := c.Scrape(gCtx, u)
			if err != nil {
				zap.L().Debug("scrape: chain failed for url", zap.String("url", u), zap.Error(err))
				return nil
			}
			mu.Lock()
			slots[i] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var out []Result
	for _, r := range slots {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
