// Package runner executes one collection run for one registry: IDs from the
// cache, optional shard selection, batch fetch, write, upload and notify.
package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/discovery"
	"github.com/JakeFAU/sro-registry-crawler/internal/idcache"
	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
	"github.com/JakeFAU/sro-registry-crawler/internal/pipeline"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
	"github.com/JakeFAU/sro-registry-crawler/internal/storage"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Job describes one run.
type Job struct {
	Service  registry.Service
	Window   registry.Window
	Filters  registry.Filters
	UseCache bool
	// Shard selects IDs whose sorted position i satisfies i % Shards == Shard.
	Shard  int
	Shards int
}

// Target tells a WriterFactory what it is writing.
type Target struct {
	RunID    string
	Service  string
	Artifact string
}

// WriterFactory opens the sink for one run.
type WriterFactory func(ctx context.Context, t Target) (registry.Writer, error)

// Result summarises a finished run.
type Result struct {
	RunID       string    `json:"run_id"`
	Service     string    `json:"service"`
	Window      string    `json:"window"`
	Artifact    string    `json:"artifact"`
	IDs         int       `json:"ids"`
	RowsFetched int       `json:"rows_fetched"`
	RowsWritten int       `json:"rows_written"`
	ArtifactURI string    `json:"artifact_uri,omitempty"`
	CacheURI    string    `json:"cache_uri,omitempty"`
	MessageID   string    `json:"message_id,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Notification is published once per successful run.
type Notification struct {
	RunID       string `json:"run_id"`
	Service     string `json:"service"`
	Window      string `json:"window"`
	IDs         int    `json:"ids"`
	RowsWritten int    `json:"rows_written"`
	ArtifactURI string `json:"artifact_uri,omitempty"`
}

// Attributes lets subscribers filter by service.
func (n Notification) Attributes() map[string]string {
	return map[string]string{"service": n.Service, "run_id": n.RunID}
}

// Config controls Runner behavior.
type Config struct {
	Window int
	Topic  string
}

// Runner wires the run stages together.
type Runner struct {
	cache     idcache.Store
	hasher    idcache.Hasher
	writers   WriterFactory
	uploader  *storage.Uploader
	publisher registry.Publisher
	clock     registry.Clock
	ids       registry.IDGenerator
	history   *History
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Runner. uploader, publisher and history may be nil.
func New(
	cache idcache.Store,
	hasher idcache.Hasher,
	writers WriterFactory,
	uploader *storage.Uploader,
	publisher registry.Publisher,
	clock registry.Clock,
	ids registry.IDGenerator,
	history *History,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Window <= 0 {
		cfg.Window = pipeline.DefaultWindow
	}
	return &Runner{
		cache:     cache,
		hasher:    hasher,
		writers:   writers,
		uploader:  uploader,
		publisher: publisher,
		clock:     clock,
		ids:       ids,
		history:   history,
		cfg:       cfg,
		logger:    logger.Named("runner"),
	}
}

// Run executes job. The returned Result is filled in as far as the run got,
// also when an error is returned.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	res := Result{
		Service:   job.Service.Name(),
		Window:    job.Window.String(),
		StartedAt: r.clock.Now(),
	}
	runID, err := r.ids.NewID()
	if err != nil {
		return r.finish(res, fmt.Errorf("run id: %w", err))
	}
	res.RunID = runID
	logger := r.logger.With(zap.String("run_id", runID), zap.String("service", res.Service))

	if err := r.run(ctx, job, &res, logger); err != nil {
		logger.Error("run failed", zap.Error(err), zap.Int("rows_written", res.RowsWritten))
		return r.finish(res, err)
	}
	logger.Info("run finished",
		zap.Int("ids", res.IDs),
		zap.Int("rows_written", res.RowsWritten),
		zap.String("artifact_uri", res.ArtifactURI))
	return r.finish(res, nil)
}

func (r *Runner) run(ctx context.Context, job Job, res *Result, logger *zap.Logger) error {
	collector := discovery.New(job.Service, job.Window, logger)
	cache := idcache.New(collector, r.cache, r.hasher, logger)
	ids, err := cache.GetIDs(ctx, job.Filters, job.UseCache)
	if err != nil {
		return fmt.Errorf("get ids: %w", err)
	}
	ids, err = Shard(ids, job.Shard, job.Shards)
	if err != nil {
		return err
	}
	res.IDs = len(ids)
	res.Artifact = collector.Name() + ShardSuffix(job.Shard, job.Shards)
	logger.Info("ids ready", zap.Int("ids", len(ids)), zap.String("artifact", res.Artifact))

	writer, err := r.writers(ctx, Target{RunID: res.RunID, Service: res.Service, Artifact: res.Artifact})
	if err != nil {
		return fmt.Errorf("open writer: %w", err)
	}
	if err := r.drain(ctx, job.Service, ids, writer, res, logger); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}

	if err := r.upload(ctx, writer, cache, job.Filters, res); err != nil {
		return err
	}
	return r.notify(ctx, res)
}

func (r *Runner) drain(
	ctx context.Context,
	svc registry.Service,
	ids []int64,
	w registry.Writer,
	res *Result,
	logger *zap.Logger,
) error {
	engine := pipeline.New(svc, pipeline.WithWindow(r.cfg.Window), pipeline.WithLogger(logger))
	for rows, err := range engine.Batches(ctx, ids) {
		if err != nil {
			return fmt.Errorf("fetch batch: %w", err)
		}
		res.RowsFetched += len(rows)
		n, err := w.Write(ctx, rows)
		res.RowsWritten += n
		if err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
	}
	return nil
}

func (r *Runner) upload(ctx context.Context, w registry.Writer, cache *idcache.Cache, filters registry.Filters, res *Result) error {
	if !r.uploader.Enabled() {
		return nil
	}
	if p, ok := w.(interface{ Path() string }); ok && exists(p.Path()) {
		uri, err := r.uploader.UploadFile(ctx, res.RunID, p.Path())
		if err != nil {
			return err
		}
		res.ArtifactURI = uri
	}
	files, ok := r.cache.(*idcache.FileStore)
	if !ok {
		return nil
	}
	key, err := cache.Key(filters)
	if err != nil {
		return err
	}
	uri, err := r.uploader.UploadFile(ctx, res.RunID, files.Path(key))
	if err != nil {
		return err
	}
	res.CacheURI = uri
	return nil
}

func (r *Runner) notify(ctx context.Context, res *Result) error {
	if r.publisher == nil || r.cfg.Topic == "" {
		return nil
	}
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, Notification{
		RunID:       res.RunID,
		Service:     res.Service,
		Window:      res.Window,
		IDs:         res.IDs,
		RowsWritten: res.RowsWritten,
		ArtifactURI: res.ArtifactURI,
	})
	if err != nil {
		return fmt.Errorf("publish run notification: %w", err)
	}
	res.MessageID = id
	return nil
}

func (r *Runner) finish(res Result, err error) (Result, error) {
	res.FinishedAt = r.clock.Now()
	res.Status = StatusSucceeded
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
	}
	metrics.ObserveRun(res.Service, res.Status)
	r.history.Record(res)
	return res, err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
