// Package sheets appends registry rows to a Google Sheets worksheet,
// de-duplicated against the rows it already holds.
package sheets

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// Spreadsheet is the part of the Sheets API the writer needs.
type Spreadsheet interface {
	SheetTitles(ctx context.Context) ([]string, error)
	AddSheet(ctx context.Context, title string) error
	// Values returns every populated row of the sheet, unformatted.
	Values(ctx context.Context, title string) ([][]any, error)
	// Append adds rows after the last populated row, stored as given.
	Append(ctx context.Context, title string, rows [][]any) error
}

// Writer appends rows to one worksheet.
type Writer struct {
	api    Spreadsheet
	title  string
	logger *zap.Logger

	loaded    bool
	hasHeader bool
	keys      map[int64]struct{}
}

var _ registry.Writer = (*Writer)(nil)

// New returns a Writer for the worksheet named title.
func New(api Spreadsheet, title string, logger *zap.Logger) *Writer {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		api:    api,
		title:  title,
		logger: logger.Named("sheets").With(zap.String("sheet", title)),
		keys:   make(map[int64]struct{}),
	}
}

func (w *Writer) load(ctx context.Context) error {
	if w.loaded {
		return nil
	}
	titles, err := w.api.SheetTitles(ctx)
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	found := false
	for _, t := range titles {
		if t == w.title {
			found = true
			break
		}
	}
	if !found {
		if err := w.api.AddSheet(ctx, w.title); err != nil {
			return fmt.Errorf("add sheet %q: %w", w.title, err)
		}
		w.logger.Info("worksheet created")
	} else {
		values, err := w.api.Values(ctx, w.title)
		if err != nil {
			return fmt.Errorf("read sheet %q: %w", w.title, err)
		}
		w.hasHeader = len(values) > 0
		if len(values) > 1 {
			for _, row := range values[1:] {
				if len(row) == 0 {
					continue
				}
				if id, ok := CanonicalKey(row[0]); ok {
					w.keys[id] = struct{}{}
				}
			}
		}
		w.logger.Info("worksheet loaded", zap.Int("rows", len(values)), zap.Int("keys", len(w.keys)))
	}
	w.loaded = true
	return nil
}

// Write appends the rows whose key is not in the sheet yet. The header is
// written only when the sheet was empty.
func (w *Writer) Write(ctx context.Context, rows []registry.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := w.load(ctx); err != nil {
		return 0, err
	}

	out := make([][]any, 0, len(rows)+1)
	if !w.hasHeader {
		header := rows[0].Header()
		cells := make([]any, len(header))
		for i, h := range header {
			cells[i] = h
		}
		out = append(out, cells)
	}
	var appended []int64
	for _, r := range rows {
		if _, dup := w.keys[r.Key()]; dup {
			continue
		}
		w.keys[r.Key()] = struct{}{}
		appended = append(appended, r.Key())
		out = append(out, cellValues(r.Values()))
	}
	if len(appended) == 0 {
		return 0, nil
	}
	if err := w.api.Append(ctx, w.title, out); err != nil {
		for _, id := range appended {
			delete(w.keys, id)
		}
		return 0, fmt.Errorf("append to %q: %w", w.title, err)
	}
	w.hasHeader = true
	metrics.ObserveWrite("sheets", len(appended))
	w.logger.Info("rows appended", zap.Int("rows", len(appended)), zap.Int("skipped", len(rows)-len(appended)))
	return len(appended), nil
}

// Close implements registry.Writer.
func (w *Writer) Close() error { return nil }

// CanonicalKey converts a cell read back from the sheet to an int64 key.
// Numbers and numeric strings are accepted; anything else is not a key.
func CanonicalKey(v any) (int64, bool) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case int64:
		return x, true
	case int:
		return int64(x), true
	case string:
		if strings.TrimSpace(x) == "" {
			return 0, false
		}
		id, err := registry.ParseID(x)
		return id, err == nil
	default:
		return 0, false
	}
}

func cellValues(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = ""
			continue
		}
		out[i] = v
	}
	return out
}
