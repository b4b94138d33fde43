package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sro-registry-crawler/internal/clock/system"
	"github.com/JakeFAU/sro-registry-crawler/internal/hash/sha256"
	"github.com/JakeFAU/sro-registry-crawler/internal/idcache"
	"github.com/JakeFAU/sro-registry-crawler/internal/output/xlsx"
	memorypublisher "github.com/JakeFAU/sro-registry-crawler/internal/publisher/memory"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
	"github.com/JakeFAU/sro-registry-crawler/internal/storage"
	"github.com/JakeFAU/sro-registry-crawler/internal/storage/memory"
)

// listingService lists ids registered inside January 2024.
type listingService struct {
	ids       []int64
	failID    int64
	listCalls atomic.Int32
}

func (s *listingService) Name() string  { return "fake" }
func (s *listingService) PageSize() int { return 100 }

func (s *listingService) CollectIDsPage(_ context.Context, req registry.ListRequest) (registry.ListPage, error) {
	s.listCalls.Add(1)
	if req.Page > 1 {
		return registry.ListPage{}, nil
	}
	ts := time.Date(2024, 1, 20, 12, 0, 0, 0, registry.Moscow)
	items := make([]registry.ListItem, 0, len(s.ids))
	for _, id := range s.ids {
		items = append(items, registry.ListItem{ID: id, RegisteredAt: ts})
	}
	return registry.ListPage{Items: items}, nil
}

func (s *listingService) FetchDetail(_ context.Context, id int64) (registry.Detail, error) {
	if id == s.failID {
		return registry.Detail{ID: id}, errors.New("retries exhausted")
	}
	return registry.Detail{ID: id, SROID: 1}, nil
}

func (s *listingService) FetchSRO(_ context.Context, id int64) (registry.SRO, error) {
	return registry.SRO{ID: id, FullDescription: registry.Some("СРО")}, nil
}

func (s *listingService) Normalize(d registry.Detail, sro registry.SRO) (registry.Row, error) {
	return &registry.NostroyRow{BaseRow: registry.BaseRow{ID: d.ID, SRO: sro.FullDescription.Ptr()}}, nil
}

type seqIDs struct{ n atomic.Int32 }

func (g *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d", g.n.Add(1)), nil
}

type fixture struct {
	runner    *Runner
	blobs     *memory.BlobStore
	publisher *memorypublisher.Publisher
	history   *History
	outDir    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := idcache.NewFileStore(t.TempDir())
	require.NoError(t, err)
	outDir := t.TempDir()
	writers := func(_ context.Context, tgt Target) (registry.Writer, error) {
		return xlsx.New(filepath.Join(outDir, tgt.Artifact+".xlsx")), nil
	}
	f := fixture{
		blobs:     memory.NewBlobStore(),
		publisher: memorypublisher.New(),
		history:   NewHistory(),
		outDir:    outDir,
	}
	f.runner = New(
		store,
		sha256.NewShort(12),
		writers,
		&storage.Uploader{Store: f.blobs, Prefix: "sro"},
		f.publisher,
		system.NewFixed(time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)),
		&seqIDs{},
		f.history,
		Config{Window: 2, Topic: "runs"},
		nil,
	)
	return f
}

func january(t *testing.T) registry.Window {
	t.Helper()
	w, err := registry.NewWindow(
		time.Date(2024, 1, 1, 0, 0, 0, 0, registry.Moscow),
		time.Date(2024, 1, 31, 0, 0, 0, 0, registry.Moscow),
	)
	require.NoError(t, err)
	return w
}

// TestRunWritesUploadsAndNotifies covers the full happy path.
func TestRunWritesUploadsAndNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := &listingService{ids: []int64{5, 3, 1, 4, 2}}

	res, err := f.runner.Run(context.Background(), Job{Service: svc, Window: january(t), UseCache: true})
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, "fake_from_2024-01-01_to_2024-01-31", res.Artifact)
	assert.Equal(t, 5, res.IDs)
	assert.Equal(t, 5, res.RowsFetched)
	assert.Equal(t, 5, res.RowsWritten)
	assert.Equal(t, "memory://sro/run-1/fake_from_2024-01-01_to_2024-01-31.xlsx", res.ArtifactURI)
	assert.Equal(t, "memory://sro/run-1/fake_from_2024-01-01_to_2024-01-31.txt", res.CacheURI)

	ids, ok := f.blobs.Object("sro/run-1/fake_from_2024-01-01_to_2024-01-31.txt")
	require.True(t, ok)
	assert.Equal(t, "1\n2\n3\n4\n5\n", string(ids))

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "runs", msgs[0].Topic)
	assert.Equal(t, Notification{
		RunID:       "run-1",
		Service:     "fake",
		Window:      "from_2024-01-01_to_2024-01-31",
		IDs:         5,
		RowsWritten: 5,
		ArtifactURI: res.ArtifactURI,
	}, msgs[0].Payload)
	assert.Equal(t, map[string]string{"service": "fake", "run_id": "run-1"}, msgs[0].Attributes)
	assert.Contains(t, string(msgs[0].Data), `"rows_written":5`)
	assert.Equal(t, "memory-1", res.MessageID)

	last := f.history.Last()
	require.Len(t, last, 1)
	assert.Equal(t, res, last[0])
}

// TestRunResumesFromCache lists once and appends nothing on the rerun.
func TestRunResumesFromCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := &listingService{ids: []int64{1, 2, 3}}
	job := Job{Service: svc, Window: january(t), UseCache: true}

	_, err := f.runner.Run(context.Background(), job)
	require.NoError(t, err)
	calls := svc.listCalls.Load()

	res, err := f.runner.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, calls, svc.listCalls.Load(), "second run reads the id cache")
	assert.Equal(t, 3, res.RowsFetched)
	assert.Equal(t, 0, res.RowsWritten)
}

// TestRunShard writes only its share under its own artifact name.
func TestRunShard(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := &listingService{ids: []int64{1, 2, 3, 4, 5}}

	res, err := f.runner.Run(context.Background(), Job{Service: svc, Window: january(t), Shard: 1, Shards: 2})
	require.NoError(t, err)
	assert.Equal(t, "fake_from_2024-01-01_to_2024-01-31_shard2of2", res.Artifact)
	assert.Equal(t, 2, res.IDs)
	assert.FileExists(t, filepath.Join(f.outDir, res.Artifact+".xlsx"))
}

// TestRunFetchFailure aborts, records the failure and does not notify.
func TestRunFetchFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := &listingService{ids: []int64{1, 2, 3, 4}, failID: 3}

	res, err := f.runner.Run(context.Background(), Job{Service: svc, Window: january(t)})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "retries exhausted")
	assert.Equal(t, 2, res.RowsWritten, "rows of earlier batches stay written")
	assert.Empty(t, f.publisher.Messages())
	assert.Equal(t, 0, f.blobs.Len())

	last := f.history.Last()
	require.Len(t, last, 1)
	assert.Equal(t, StatusFailed, last[0].Status)
}

// TestRunPublishFailure fails the run after the rows are written.
func TestRunPublishFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.publisher.FailNext(assert.AnError)

	res, err := f.runner.Run(context.Background(), Job{Service: &listingService{ids: []int64{1}}, Window: january(t)})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.RowsWritten)
}

func TestRunWriterFactoryError(t *testing.T) {
	t.Parallel()

	store, err := idcache.NewFileStore(t.TempDir())
	require.NoError(t, err)
	r := New(store, sha256.New(), func(context.Context, Target) (registry.Writer, error) {
		return nil, errors.New("no sheet")
	}, nil, nil, system.New(), &seqIDs{}, nil, Config{}, nil)

	res, err := r.Run(context.Background(), Job{Service: &listingService{ids: []int64{1}}, Window: january(t)})
	require.ErrorContains(t, err, "open writer")
	assert.Equal(t, StatusFailed, res.Status)
}
