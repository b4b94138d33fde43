//go:build !windows

package xlsx

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// TestWriterRetriesBusyDestination treats wrapped EBUSY/ETXTBSY as a lock.
func TestWriterRetriesBusyDestination(t *testing.T) {
	t.Parallel()

	for _, errno := range []syscall.Errno{syscall.EBUSY, syscall.ETXTBSY} {
		t.Run(errno.Error(), func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "out.xlsx")
			w := New(path, WithSaveRetry(SaveRetry{Attempts: 2, Delay: time.Second}))
			defer func() { _ = w.Close() }()
			w.b.pause = func(context.Context, time.Duration) {}

			calls := 0
			w.b.save = func(f *excelize.File, p string) error {
				calls++
				if calls == 1 {
					return fmt.Errorf("save: %w", &fs.PathError{Op: "open", Path: p, Err: errno})
				}
				return f.SaveAs(p)
			}

			n, err := w.Write(context.Background(), []registry.Row{member(1)})
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			assert.Equal(t, 2, calls)
		})
	}
}
