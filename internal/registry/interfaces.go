package registry

import (
	"context"
	"io"
	"time"
)

// Service is implemented once per registry. The collector, the ID cache and
// the batch pipeline are written against this contract only.
type Service interface {
	// Name is the short service identifier used in cache keys and artifact names.
	Name() string
	// PageSize is the listing page size requested by the collector.
	PageSize() int
	// CollectIDsPage fetches one listing page sorted by registration date, newest first.
	CollectIDsPage(ctx context.Context, req ListRequest) (ListPage, error)
	// FetchDetail fetches the raw detail record of one member.
	FetchDetail(ctx context.Context, id int64) (Detail, error)
	// FetchSRO fetches the descriptor of the SRO a member belongs to.
	FetchSRO(ctx context.Context, id int64) (SRO, error)
	// Normalize maps a raw detail record plus its SRO into a flat row.
	Normalize(detail Detail, sro SRO) (Row, error)
}

// JSONRequester performs one JSON request and decodes the response body into out.
type JSONRequester interface {
	RequestJSON(ctx context.Context, method, url string, body any, out any) error
}

// Writer appends row batches to an output artifact.
type Writer interface {
	// Write appends rows whose key is not yet present and reports how many were appended.
	Write(ctx context.Context, rows []Row) (int, error)
	Close() error
}

// BlobStore uploads finished artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
