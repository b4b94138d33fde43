// Package app builds the long-lived services of the crawler from configuration
// and hands them to the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/clock/system"
	"github.com/JakeFAU/sro-registry-crawler/internal/config"
	"github.com/JakeFAU/sro-registry-crawler/internal/discovery"
	"github.com/JakeFAU/sro-registry-crawler/internal/hash/sha256"
	"github.com/JakeFAU/sro-registry-crawler/internal/httpclient"
	"github.com/JakeFAU/sro-registry-crawler/internal/id/uuid"
	"github.com/JakeFAU/sro-registry-crawler/internal/idcache"
	"github.com/JakeFAU/sro-registry-crawler/internal/output/postgres"
	"github.com/JakeFAU/sro-registry-crawler/internal/output/sheets"
	"github.com/JakeFAU/sro-registry-crawler/internal/output/xlsx"
	"github.com/JakeFAU/sro-registry-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/sro-registry-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry/nopriz"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry/nostroy"
	"github.com/JakeFAU/sro-registry-crawler/internal/runner"
	"github.com/JakeFAU/sro-registry-crawler/internal/storage"
	"github.com/JakeFAU/sro-registry-crawler/internal/storage/gcs"
	"github.com/JakeFAU/sro-registry-crawler/internal/storage/local"
	"github.com/JakeFAU/sro-registry-crawler/internal/storage/s3"
)

// App holds the shared services of one process.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	hasher  *sha256.Hasher
	store   idcache.Store
	history *runner.History
	runner  *runner.Runner
	sheets  sheets.Spreadsheet

	closers []func() error
}

// Options overrides parts of the wiring, mostly for tests.
type Options struct {
	// Rotator replaces the one built from the rotator config.
	Rotator httpclient.Rotator
	// Transport replaces the HTTP transport of every registry client.
	Transport http.RoundTripper
}

// New wires the services selected by cfg. It fails fast when a backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		hasher:  sha256.NewShort(12),
		history: runner.NewHistory(),
	}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	store, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	a.store = store

	uploader, err := a.openStorage(ctx)
	if err != nil {
		return err
	}

	var publisher registry.Publisher
	if a.cfg.PubSub.TopicName != "" {
		pub, err := pubsub.Connect(ctx, a.cfg.PubSub.ProjectID)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		publisher = pub
	}

	if a.cfg.Output.Backend == "sheets" {
		api, err := sheets.NewAPIClient(ctx, a.cfg.Sheets.CredentialsFile, a.cfg.Sheets.SpreadsheetID)
		if err != nil {
			return err
		}
		a.sheets = api
	}

	a.runner = runner.New(
		a.store,
		a.hasher,
		a.openWriter,
		uploader,
		publisher,
		system.New(),
		uuid.New(),
		a.history,
		runner.Config{Window: a.cfg.Collect.Window, Topic: a.cfg.PubSub.TopicName},
		a.logger,
	)
	return nil
}

func (a *App) openCache(ctx context.Context) (idcache.Store, error) {
	switch a.cfg.Cache.Backend {
	case "redis":
		client, err := idcache.Connect(ctx, a.cfg.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("id cache in redis")
		return idcache.NewRedisStore(client, a.cfg.Cache.TTL()), nil
	default:
		return idcache.NewFileStore(a.cfg.Cache.Dir)
	}
}

func (a *App) openStorage(ctx context.Context) (*storage.Uploader, error) {
	var store registry.BlobStore
	switch a.cfg.Storage.Backend {
	case storage.BackendLocal:
		s, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, err
		}
		store = s
	case storage.BackendGCS:
		s, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		store = s
	case storage.BackendS3:
		s3cfg := a.cfg.Storage.S3
		s, err := s3.New(ctx, s3.Config{
			Bucket:    s3cfg.Bucket,
			Region:    s3cfg.Region,
			Endpoint:  s3cfg.Endpoint,
			PathStyle: s3cfg.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, nil
	}
	a.logger.Info("artifact uploads enabled", zap.String("backend", a.cfg.Storage.Backend))
	return &storage.Uploader{Store: store, Prefix: a.cfg.Storage.Prefix}, nil
}

func (a *App) openWriter(ctx context.Context, t runner.Target) (registry.Writer, error) {
	out := a.cfg.Output
	switch out.Backend {
	case "xlsx", "xlsx_grouped":
		if err := os.MkdirAll(out.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		opts := []xlsx.Option{
			xlsx.WithSaveRetry(xlsx.SaveRetry{Attempts: out.SaveAttempts, Delay: out.SaveDelay()}),
			xlsx.WithLogger(a.logger),
		}
		if out.Backend == "xlsx_grouped" {
			return xlsx.NewGrouped(filepath.Join(out.Dir, t.Artifact+"_cart.xlsx"), opts...), nil
		}
		return xlsx.New(filepath.Join(out.Dir, t.Artifact+".xlsx"), opts...), nil
	case "sheets":
		return sheets.New(a.sheets, out.Worksheet(t.Service), a.logger), nil
	case "postgres":
		w, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
		}, t.Service, t.RunID)
		if err != nil {
			return nil, err
		}
		if err := w.EnsureSchema(ctx); err != nil {
			_ = w.Close()
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown output backend %q", out.Backend)
	}
}

// Service builds the named registry with its own HTTP client.
func (a *App) Service(name string, opts Options) (registry.Service, error) {
	scfg, ok := a.cfg.Services[name]
	if !ok {
		return nil, fmt.Errorf("unknown service %q", name)
	}
	httpCfg := a.cfg.HTTP
	minDelay, maxDelay := httpCfg.RetryDelays()

	rotator := opts.Rotator
	if rotator == nil && a.cfg.Rotator.Endpoint != "" {
		rotator = httpclient.NewServiceRotator(
			a.cfg.Rotator.Endpoint,
			a.cfg.Rotator.Token,
			time.Duration(a.cfg.Rotator.TimeoutSeconds)*time.Second,
		)
	}
	client, err := httpclient.New(httpclient.Options{
		Timeout:            httpCfg.Timeout(),
		UserAgent:          httpCfg.UserAgent,
		ProxyURL:           httpCfg.ProxyURL,
		InsecureSkipVerify: scfg.InsecureSkipVerify,
		Retry:              httpclient.RetryPolicy{MaxAttempts: httpCfg.MaxAttempts, MinDelay: minDelay, MaxDelay: maxDelay},
		Rotator:            rotator,
		Pacer:              ratelimit.New(ratelimit.Config{DefaultRPS: httpCfg.RatePerSecond, DefaultBurst: httpCfg.Burst}),
		Logger:             a.logger.With(zap.String("service", name)),
		Transport:          opts.Transport,
	})
	if err != nil {
		return nil, err
	}

	switch name {
	case nostroy.Name:
		return nostroy.New(client, nostroy.Options{
			BaseURL:    scfg.BaseURL,
			PageSize:   scfg.PageSize,
			DateLayout: a.cfg.Registry.DateFormat,
		}), nil
	case nopriz.Name:
		return nopriz.New(client, nopriz.Options{
			BaseURL:    scfg.BaseURL,
			PageSize:   scfg.PageSize,
			DateLayout: a.cfg.Registry.DateFormat,
		}), nil
	default:
		return nil, fmt.Errorf("no implementation for service %q", name)
	}
}

// CollectRequest selects what Collect runs.
type CollectRequest struct {
	Services []string
	Window   registry.Window
	Filters  registry.Filters
	UseCache bool
	Shard    int
	Shards   int
	Options  Options
}

// Collect runs the requested services one after another and stops at the
// first failure.
func (a *App) Collect(ctx context.Context, req CollectRequest) ([]runner.Result, error) {
	results := make([]runner.Result, 0, len(req.Services))
	for _, name := range req.Services {
		svc, err := a.Service(name, req.Options)
		if err != nil {
			return results, err
		}
		res, err := a.runner.Run(ctx, runner.Job{
			Service:  svc,
			Window:   req.Window,
			Filters:  req.Filters,
			UseCache: req.UseCache,
			Shard:    req.Shard,
			Shards:   req.Shards,
		})
		results = append(results, res)
		if err != nil {
			return results, fmt.Errorf("%s: %w", name, err)
		}
	}
	return results, nil
}

// IDs returns the cached or freshly collected IDs of one service.
func (a *App) IDs(ctx context.Context, req CollectRequest, service string) ([]int64, error) {
	svc, err := a.Service(service, req.Options)
	if err != nil {
		return nil, err
	}
	collector := discovery.New(svc, req.Window, a.logger)
	return idcache.New(collector, a.store, a.hasher, a.logger).GetIDs(ctx, req.Filters, req.UseCache)
}

// History returns the latest run results.
func (a *App) History() *runner.History { return a.history }

// Close releases every client opened by New.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
