// Package discovery enumerates the member IDs registered inside a date window.
package discovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// Lister is the part of registry.Service the collector needs.
type Lister interface {
	Name() string
	PageSize() int
	CollectIDsPage(ctx context.Context, req registry.ListRequest) (registry.ListPage, error)
}

// Collector pages through a listing sorted newest first.
type Collector struct {
	lister Lister
	window registry.Window
	logger *zap.Logger
}

// New builds a Collector for window.
func New(lister Lister, window registry.Window, logger *zap.Logger) *Collector {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		lister: lister,
		window: window,
		logger: logger.Named("discovery").With(zap.String("service", lister.Name())),
	}
}

// Name identifies the collection in cache keys: service plus window.
func (c *Collector) Name() string {
	return fmt.Sprintf("%s_%s", c.lister.Name(), c.window)
}

// Collect runs one pass per expanded filter set and unions the results.
func (c *Collector) Collect(ctx context.Context, filters registry.Filters) (registry.IDSet, error) {
	sets, err := filters.Expand()
	if err != nil {
		return nil, err
	}
	ids := registry.NewIDSet()
	for _, f := range sets {
		pass, err := c.collectPass(ctx, f)
		if err != nil {
			return nil, err
		}
		ids.Union(pass)
	}
	c.logger.Info("ids collected", zap.Int("ids", len(ids)), zap.Int("passes", len(sets)))
	return ids, nil
}

type stopReason string

const (
	stopNone      stopReason = ""
	stopDateFloor stopReason = "date_floor"
	stopEmptyPage stopReason = "empty_page"
	stopShortPage stopReason = "short_page"
	stopPageCount stopReason = "page_count"
)

func (c *Collector) collectPass(ctx context.Context, filters registry.Filters) (registry.IDSet, error) {
	ids := registry.NewIDSet()
	pageSize := c.lister.PageSize()
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		metrics.ObserveListingPage(c.lister.Name())
		res, err := c.lister.CollectIDsPage(ctx, registry.ListRequest{Filters: filters, Page: page, PageSize: pageSize})
		if err != nil {
			return nil, fmt.Errorf("collect %s page %d: %w", c.lister.Name(), page, err)
		}

		reason, last := c.scan(res, ids)
		if reason == stopNone {
			switch {
			case len(res.Items) < pageSize:
				reason = stopShortPage
			case res.CountPages > 0 && page >= res.CountPages:
				reason = stopPageCount
			}
		}
		fields := []zap.Field{zap.Int("page", page), zap.Int("ids", len(ids))}
		if !last.IsZero() {
			fields = append(fields, zap.Time("last_date", last))
		}
		if reason != stopNone {
			c.logger.Info("pass finished", append(fields, zap.String("reason", string(reason)))...)
			return ids, nil
		}
		c.logger.Debug("page scanned", fields...)
	}
}

// scan adds the in-window items of page to ids. It reports a stop when the
// page is empty or crosses the window floor.
func (c *Collector) scan(page registry.ListPage, ids registry.IDSet) (stopReason, time.Time) {
	if len(page.Items) == 0 {
		return stopEmptyPage, time.Time{}
	}
	var last time.Time
	for _, it := range page.Items {
		last = it.RegisteredAt
		switch {
		case c.window.IsBefore(it.RegisteredAt):
			return stopDateFloor, last
		case c.window.IsAfter(it.RegisteredAt):
			continue
		default:
			ids.Add(it.ID)
		}
	}
	return stopNone, last
}
