// Package storage uploads finished run artifacts to a blob store.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// Backend names accepted by storage.backend.
const (
	BackendNone  = "none"
	BackendLocal = "local"
	BackendGCS   = "gcs"
	BackendS3    = "s3"
)

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain; charset=utf-8",
	".json": "application/json",
}

// ContentType guesses the MIME type of an artifact from its extension.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Uploader copies local files into a BlobStore under prefix/runID/.
type Uploader struct {
	Store  registry.BlobStore
	Prefix string
}

// Enabled reports whether uploads go anywhere.
func (u *Uploader) Enabled() bool {
	return u != nil && u.Store != nil
}

// ObjectPath returns the object key for a local file of run runID.
func (u *Uploader) ObjectPath(runID, localPath string) string {
	return path.Join(strings.Trim(u.Prefix, "/"), runID, filepath.Base(localPath))
}

// UploadFile uploads localPath and returns the URI reported by the store.
// A disabled uploader returns an empty URI.
func (u *Uploader) UploadFile(ctx context.Context, runID, localPath string) (string, error) {
	if !u.Enabled() {
		return "", nil
	}
	// #nosec G304 -- artifacts are produced by this process.
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	uri, err := u.Store.PutObject(ctx, u.ObjectPath(runID, localPath), ContentType(localPath), f)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(localPath), err)
	}
	return uri, nil
}
