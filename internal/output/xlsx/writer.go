package xlsx

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// Writer appends one worksheet row per member.
type Writer struct {
	b *book
}

var _ registry.Writer = (*Writer)(nil)

// New returns a Writer for the workbook at path. The file is opened or
// created on the first write.
func New(path string, opts ...Option) *Writer {
	return &Writer{b: newBook(path, "xlsx", opts)}
}

// Write appends the rows whose key the workbook does not hold yet and saves.
func (w *Writer) Write(ctx context.Context, rows []registry.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := w.b.open(rows[0].Header()); err != nil {
		return 0, err
	}
	fresh := w.b.fresh(rows)
	for _, r := range fresh {
		if err := w.b.setRow(w.b.next, w.b.ordered(r.Header(), r.Values())); err != nil {
			return 0, err
		}
		w.b.next++
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := w.b.flush(ctx); err != nil {
		return 0, err
	}
	metrics.ObserveWrite(w.b.sink, len(fresh))
	w.b.logger.Info("rows appended", zap.Int("rows", len(fresh)), zap.Int("skipped", len(rows)-len(fresh)))
	return len(fresh), nil
}

// Path returns the workbook location.
func (w *Writer) Path() string { return w.b.path }

// Close releases the workbook.
func (w *Writer) Close() error { return w.b.close() }
