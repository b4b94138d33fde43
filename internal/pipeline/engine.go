// Package pipeline fetches member details with bounded concurrency and emits
// normalised rows batch by batch.
package pipeline

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// DefaultWindow is the number of in-flight detail fetches.
const DefaultWindow = 50

// ErrConsumed is yielded when a batch sequence is iterated a second time.
var ErrConsumed = errors.New("batch sequence already consumed")

// Engine runs the detail fetches of one service.
type Engine struct {
	service registry.Service
	window  int
	sros    *SROCache
	logger  *zap.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithWindow sets the in-flight window.
func WithWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds an Engine with its own SRO cache.
func New(service registry.Service, opts ...Option) *Engine {
	metrics.Init()
	e := &Engine{
		service: service,
		window:  DefaultWindow,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.sros = NewSROCache(service.Name(), service)
	e.logger = e.logger.Named("pipeline").With(zap.String("service", service.Name()))
	return e
}

// SROs exposes the engine's SRO cache.
func (e *Engine) SROs() *SROCache { return e.sros }

// Batches returns a lazy sequence of row batches for ids. Each batch holds the
// rows of one window in submission order. The first failure is yielded and
// ends the sequence. The sequence can be ranged over once.
func (e *Engine) Batches(ctx context.Context, ids []int64) iter.Seq2[[]registry.Row, error] {
	var used atomic.Bool
	return func(yield func([]registry.Row, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(nil, ErrConsumed)
			return
		}
		done := 0
		for start := 0; start < len(ids); start += e.window {
			end := min(start+e.window, len(ids))
			rows, err := e.fetchWindow(ctx, ids[start:end])
			if err != nil {
				metrics.ObserveFetchFailure(e.service.Name())
				yield(nil, err)
				return
			}
			done += len(rows)
			metrics.ObserveRows(e.service.Name(), len(rows))
			e.logger.Info("batch fetched", zap.Int("rows", len(rows)), zap.Int("done", done), zap.Int("total", len(ids)))
			if !yield(rows, nil) {
				return
			}
		}
	}
}

func (e *Engine) fetchWindow(ctx context.Context, ids []int64) ([]registry.Row, error) {
	rows := make([]registry.Row, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			row, err := e.fetchOne(gctx, id)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) fetchOne(ctx context.Context, id int64) (registry.Row, error) {
	detail, err := e.service.FetchDetail(ctx, id)
	if err != nil {
		e.logFailure(id, detail, err)
		return nil, err
	}
	sro, err := e.sros.Get(ctx, detail.SROID)
	if err != nil {
		e.logFailure(id, detail, err)
		return nil, err
	}
	row, err := e.service.Normalize(detail, sro)
	if err != nil {
		e.logFailure(id, detail, err)
		return nil, err
	}
	return row, nil
}

func (e *Engine) logFailure(id int64, detail registry.Detail, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	fields := []zap.Field{zap.Int64("member_id", id), zap.Error(err)}
	if errors.Is(err, registry.ErrMalformedRecord) && len(detail.Raw) > 0 {
		fields = append(fields, zap.ByteString("raw", detail.Raw))
	}
	e.logger.Error("member fetch failed", fields...)
}
