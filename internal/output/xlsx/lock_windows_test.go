//go:build windows

package xlsx

import (
	"context"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/sys/windows"

	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// TestWriterRetriesWhileOpenInExcel waits out sharing and lock violations.
func TestWriterRetriesWhileOpenInExcel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.xlsx")
	w := New(path, WithSaveRetry(SaveRetry{Attempts: 3, Delay: time.Second}))
	defer func() { _ = w.Close() }()
	w.b.pause = func(context.Context, time.Duration) {}

	codes := []error{windows.ERROR_SHARING_VIOLATION, windows.ERROR_LOCK_VIOLATION}
	calls := 0
	w.b.save = func(f *excelize.File, p string) error {
		calls++
		if calls <= len(codes) {
			return &fs.PathError{Op: "open", Path: p, Err: codes[calls-1]}
		}
		return f.SaveAs(p)
	}

	n, err := w.Write(context.Background(), []registry.Row{member(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, calls)
}
