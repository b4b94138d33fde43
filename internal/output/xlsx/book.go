// Package xlsx appends registry rows to a local workbook, skipping members the
// workbook already holds.
package xlsx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// SaveRetry bounds how long a locked destination is waited for.
type SaveRetry struct {
	Attempts int
	Delay    time.Duration
}

// DefaultSaveRetry waits up to 50 minutes in 10 second steps.
func DefaultSaveRetry() SaveRetry {
	return SaveRetry{Attempts: 300, Delay: 10 * time.Second}
}

// Option customises a writer.
type Option func(*book)

// WithSaveRetry overrides the save retry bound.
func WithSaveRetry(r SaveRetry) Option {
	return func(b *book) { b.retry = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *book) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSheet names the worksheet written to. The first sheet is used by default.
func WithSheet(name string) Option {
	return func(b *book) { b.sheet = name }
}

// book holds the state shared by the flat and the grouped layouts: the open
// workbook, its header, the next free row and the keys already present.
type book struct {
	path   string
	sink   string
	sheet  string
	retry  SaveRetry
	logger *zap.Logger

	file   *excelize.File
	header []string
	next   int
	keys   map[int64]struct{}

	save  func(f *excelize.File, path string) error
	pause func(ctx context.Context, d time.Duration)
}

func newBook(path, sink string, opts []Option) *book {
	metrics.Init()
	b := &book{
		path:   path,
		sink:   sink,
		retry:  DefaultSaveRetry(),
		logger: zap.NewNop(),
		keys:   make(map[int64]struct{}),
		save: func(f *excelize.File, path string) error {
			return f.SaveAs(path)
		},
		pause: sleep,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("xlsx").With(zap.String("path", path))
	return b
}

// open loads or creates the workbook. header is used when the sheet is empty.
func (b *book) open(header []string) error {
	if b.file != nil {
		return nil
	}
	f, err := excelize.OpenFile(b.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		f = excelize.NewFile()
		if b.sheet == "" {
			b.sheet = f.GetSheetName(0)
		} else if err := f.SetSheetName(f.GetSheetName(0), b.sheet); err != nil {
			return fmt.Errorf("name sheet: %w", err)
		}
	case err != nil:
		return fmt.Errorf("open %s: %w", b.path, err)
	default:
		if b.sheet == "" {
			b.sheet = f.GetSheetName(0)
		}
		idx, err := f.GetSheetIndex(b.sheet)
		if err != nil {
			return fmt.Errorf("find sheet %q: %w", b.sheet, err)
		}
		if idx < 0 {
			if _, err := f.NewSheet(b.sheet); err != nil {
				return fmt.Errorf("add sheet %q: %w", b.sheet, err)
			}
		}
	}
	b.file = f

	existing, err := f.GetRows(b.sheet)
	if err != nil {
		return fmt.Errorf("read %s: %w", b.path, err)
	}
	if len(existing) == 0 {
		if err := f.SetSheetRow(b.sheet, "A1", &header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		b.header = header
		b.next = 2
		return nil
	}

	b.header = existing[0]
	last, err := lastUsedRow(f, b.sheet, len(existing))
	if err != nil {
		return fmt.Errorf("read %s: %w", b.path, err)
	}
	b.next = last + 1
	for _, r := range existing[1:] {
		if len(r) == 0 || strings.TrimSpace(r[0]) == "" {
			continue
		}
		if id, err := registry.ParseID(r[0]); err == nil {
			b.keys[id] = struct{}{}
		}
	}
	b.logger.Info("workbook opened", zap.Int("rows", last-1), zap.Int("keys", len(b.keys)))
	return nil
}

// fresh filters rows down to keys not yet present, marking them as seen.
func (b *book) fresh(rows []registry.Row) []registry.Row {
	out := make([]registry.Row, 0, len(rows))
	for _, r := range rows {
		if _, dup := b.keys[r.Key()]; dup {
			continue
		}
		b.keys[r.Key()] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ordered returns values aligned to the workbook header. Columns unknown to
// the row stay empty.
func (b *book) ordered(header []string, values []any) []any {
	if equalHeader(b.header, header) {
		return values
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}
	out := make([]any, len(b.header))
	for i, h := range b.header {
		if j, ok := pos[h]; ok && j < len(values) {
			out[i] = values[j]
		}
	}
	return out
}

func (b *book) setRow(row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := b.file.SetSheetRow(b.sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

// flush saves the workbook, waiting out a locked destination.
func (b *book) flush(ctx context.Context) error {
	attempts := max(b.retry.Attempts, 1)
	for attempt := 1; ; attempt++ {
		err := b.save(b.file, b.path)
		if err == nil {
			return nil
		}
		if !isLocked(err) || attempt >= attempts {
			return fmt.Errorf("save %s: %w", b.path, err)
		}
		b.logger.Warn("workbook is locked; close it to continue",
			zap.Int("attempt", attempt), zap.Duration("retry_in", b.retry.Delay), zap.Error(err))
		metrics.ObserveSaveRetry(b.sink)
		b.pause(ctx, b.retry.Delay)
		if ctx.Err() != nil {
			return fmt.Errorf("save %s: %w", b.path, ctx.Err())
		}
	}
}

func (b *book) close() error {
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", b.path, err)
	}
	return nil
}

// lastUsedRow returns the bottom row of the sheet's content. GetRows drops
// trailing empty rows, so a group ending in blank sub-rows is only visible
// through its merged ranges.
func lastUsedRow(f *excelize.File, sheet string, rows int) (int, error) {
	last := rows
	merged, err := f.GetMergeCells(sheet)
	if err != nil {
		return 0, err
	}
	for _, m := range merged {
		_, row, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			return 0, err
		}
		last = max(last, row)
	}
	return last, nil
}

// isLocked reports whether a save failed because another process holds the
// destination.
func isLocked(err error) bool {
	return errors.Is(err, fs.ErrPermission) || isShareViolation(err)
}

func equalHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
