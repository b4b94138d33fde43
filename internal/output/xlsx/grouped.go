package xlsx

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// GroupedWriter lays each member out as a row group: member columns on the
// first row merged down the group, one sub-row per inspection and insurance.
type GroupedWriter struct {
	b *book
}

var _ registry.Writer = (*GroupedWriter)(nil)

// NewGrouped returns a GroupedWriter for the workbook at path.
func NewGrouped(path string, opts ...Option) *GroupedWriter {
	return &GroupedWriter{b: newBook(path, "xlsx_grouped", opts)}
}

func groupedHeader(r registry.Row) []string {
	h := make([]string, 0, len(r.Header())+len(registry.InspectionHeader)+len(registry.InsuranceHeader))
	h = append(h, r.Header()...)
	h = append(h, registry.InspectionHeader...)
	return append(h, registry.InsuranceHeader...)
}

// Write appends one group per new member and saves.
func (w *GroupedWriter) Write(ctx context.Context, rows []registry.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := w.b.open(groupedHeader(rows[0])); err != nil {
		return 0, err
	}
	fresh := w.b.fresh(rows)
	for _, r := range fresh {
		if err := w.writeGroup(r); err != nil {
			return 0, err
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := w.b.flush(ctx); err != nil {
		return 0, err
	}
	metrics.ObserveWrite(w.b.sink, len(fresh))
	w.b.logger.Info("groups appended", zap.Int("members", len(fresh)))
	return len(fresh), nil
}

func (w *GroupedWriter) writeGroup(r registry.Row) error {
	details := r.Details()
	span := details.Len()
	memberCols := len(r.Header())
	inspCols := len(registry.InspectionHeader)
	first := w.b.next

	for i := range span {
		values := make([]any, memberCols+inspCols+len(registry.InsuranceHeader))
		if i == 0 {
			copy(values, r.Values())
		}
		if i < len(details.Inspections) {
			copy(values[memberCols:], details.Inspections[i].Values())
		}
		if i < len(details.Insurances) {
			copy(values[memberCols+inspCols:], details.Insurances[i].Values())
		}
		if err := w.b.setRow(first+i, values); err != nil {
			return err
		}
	}
	w.b.next += span

	if span == 1 {
		return nil
	}
	last := first + span - 1
	for col := 1; col <= memberCols; col++ {
		top, err := excelize.CoordinatesToCellName(col, first)
		if err != nil {
			return err
		}
		bottom, err := excelize.CoordinatesToCellName(col, last)
		if err != nil {
			return err
		}
		if err := w.b.file.MergeCell(w.b.sheet, top, bottom); err != nil {
			return fmt.Errorf("merge %s:%s: %w", top, bottom, err)
		}
	}
	return nil
}

// Close releases the workbook.
func (w *GroupedWriter) Close() error { return w.b.close() }

// Path returns the workbook location.
func (w *GroupedWriter) Path() string { return w.b.path }
