package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "")
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLoggerWritesFile mirrors entries into the extra file.
func TestNewProductionLoggerWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "collect.log")
	logger, err := New(false, path)
	require.NoError(t, err)
	logger.Info("production logger ready")
	_ = logger.Sync()

	// #nosec G304 -- test reads its own temp file.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "production logger ready")
	assert.Contains(t, string(data), `"level":"info"`)
}

// TestNewBadFile fails on an unwritable output.
func TestNewBadFile(t *testing.T) {
	t.Parallel()

	_, err := New(false, filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	require.Error(t, err)
}
