// Package freshness short-circuits submissions that a recent completed
// report already answers.
package freshness

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/renovation-report/internal/model"
)

// Finder looks up completed reports by normalized key.
type Finder interface {
	FindFresh(ctx context.Context, key string, since time.Time) (*model.Report, error)
}

// Cache is a read-only view over completed reports. It never creates or
// writes records; reports become cacheable by completing normally.
type Cache struct {
	finder Finder
	now    func() time.Time
}

// New creates a freshness cache over finder.
func New(finder Finder) *Cache {
	return &Cache{finder: finder, now: time.Now}
}

// Lookup returns the most recent completed report matching text (a
// listing URL or address, compared case-insensitively against both the
// submitted reference and the property address of earlier reports) that
// completed within maxAgeDays. It returns nil on a miss or when
// maxAgeDays is not positive.
func (c *Cache) Lookup(ctx context.Context, text string, maxAgeDays int) (*model.Report, error) {
	if maxAgeDays <= 0 {
		return nil, nil
	}
	key := model.NormalizeKey(text)
	if key == "" {
		return nil, nil
	}

	since := c.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)
	r, err := c.finder.FindFresh(ctx, key, since)
	if err != nil {
		return nil, eris.Wrap(err, "freshness: lookup")
	}
	if r == nil || r.Status != model.StatusCompleted {
		return nil, nil
	}

	keyPrefix := key
	if len(keyPrefix) > 24 {
		keyPrefix = keyPrefix[:24]
	}
	zap.L().Debug("freshness: cache hit",
		zap.String("key", keyPrefix),
		zap.String("report_id", r.ID),
	)
	return r, nil
}
