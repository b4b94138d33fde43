package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sro-registry-crawler/internal/app"
	"github.com/JakeFAU/sro-registry-crawler/internal/clock/system"
	"github.com/JakeFAU/sro-registry-crawler/internal/config"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// clock supplies "today" for default windows.
var clock registry.Clock = system.New()

var dateLayouts = []string{time.DateOnly, "02.01.2006"}

// addWindowFlags registers the flags shared by collect and ids.
func addWindowFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringSlice("service", nil, "registries to query (nostroy, nopriz)")
	f.String("from", "", "first registration day, YYYY-MM-DD (default: lookback before --to)")
	f.String("to", "", "last registration day, YYYY-MM-DD (default: today, MSK)")
	f.StringArray("filter", nil, "listing filter key=value; a comma separated value runs one pass per element")
	f.Bool("no-cache", false, "ignore cached ID lists")
}

// applyCollectFlags copies whichever collect flags the command defines and
// the user set onto cfg.
func applyCollectFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	changed := func(name string) bool {
		return f.Lookup(name) != nil && f.Changed(name)
	}

	if changed("service") {
		v, _ := f.GetStringSlice("service")
		cfg.Collect.Services = v
	}
	if changed("from") {
		cfg.Collect.From, _ = f.GetString("from")
	}
	if changed("to") {
		cfg.Collect.To, _ = f.GetString("to")
	}
	if changed("no-cache") {
		noCache, _ := f.GetBool("no-cache")
		cfg.Collect.UseCache = !noCache
	}
	for _, name := range []string{"window", "shard", "shards"} {
		if !changed(name) {
			continue
		}
		v, err := f.GetInt(name)
		if err != nil {
			return err
		}
		switch name {
		case "window":
			cfg.Collect.Window = v
		case "shard":
			cfg.Collect.Shard = v
		case "shards":
			cfg.Collect.Shards = v
		}
	}
	if changed("filter") {
		raw, _ := f.GetStringArray("filter")
		filters, err := parseFilters(raw, cfg.Collect.Filters)
		if err != nil {
			return err
		}
		cfg.Collect.Filters = filters
	}
	return nil
}

// collectRequest turns the collect section into a request. Missing dates
// default to a lookback window ending today.
func collectRequest(cfg config.Config) (app.CollectRequest, error) {
	to := clock.Now().In(registry.Moscow)
	if cfg.Collect.To != "" {
		d, err := parseDate(cfg.Collect.To)
		if err != nil {
			return app.CollectRequest{}, fmt.Errorf("collect.to: %w", err)
		}
		to = d
	}
	from := to.AddDate(0, 0, -cfg.Schedule.LookbackDays)
	if cfg.Collect.From != "" {
		d, err := parseDate(cfg.Collect.From)
		if err != nil {
			return app.CollectRequest{}, fmt.Errorf("collect.from: %w", err)
		}
		from = d
	}
	window, err := registry.NewWindow(from, to)
	if err != nil {
		return app.CollectRequest{}, err
	}
	return app.CollectRequest{
		Services: cfg.Collect.Services,
		Window:   window,
		Filters:  registry.Filters(cfg.Collect.Filters),
		UseCache: cfg.Collect.UseCache,
		Shard:    cfg.Collect.Shard,
		Shards:   cfg.Collect.Shards,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, registry.Moscow); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
}

// parseFilters merges key=value pairs over base without modifying it.
func parseFilters(pairs []string, base map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(base)+len(pairs))
	for k, v := range base {
		out[k] = v
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, want key=value", pair)
		}
		if !strings.Contains(value, ",") {
			out[key] = filterScalar(value)
			continue
		}
		items := []any{}
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, filterScalar(item))
			}
		}
		out[key] = items
	}
	return out, nil
}

func filterScalar(s string) any {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
