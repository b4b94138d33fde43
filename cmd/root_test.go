package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/app"
	"github.com/JakeFAU/sro-registry-crawler/internal/clock/system"
	"github.com/JakeFAU/sro-registry-crawler/internal/config"
	"github.com/JakeFAU/sro-registry-crawler/internal/runner"
)

type fakeApp struct {
	reqs       []app.CollectRequest
	results    []runner.Result
	collectErr error
	ids        map[string][]int64
	closed     bool
}

func (f *fakeApp) Collect(_ context.Context, req app.CollectRequest) ([]runner.Result, error) {
	f.reqs = append(f.reqs, req)
	return f.results, f.collectErr
}

func (f *fakeApp) IDs(_ context.Context, req app.CollectRequest, service string) ([]int64, error) {
	f.reqs = append(f.reqs, req)
	return f.ids[service], nil
}

func (f *fakeApp) History() *runner.History { return runner.NewHistory() }

func (f *fakeApp) Close() { f.closed = true }

// useFakes swaps the package factories for the duration of a test.
func useFakes(t *testing.T, fake *fakeApp, now time.Time) {
	t.Helper()
	prevApp, prevClock := newApp, clock
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		if fake == nil {
			return nil, errors.New("boom")
		}
		return fake, nil
	}
	clock = system.NewFixed(now)
	t.Cleanup(func() { newApp, clock = prevApp, prevClock })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), &state{}, args, func(root *cobra.Command) {
		root.SetOut(&out)
		root.SetErr(&out)
	})
	return out.String(), err
}

// TestCollectCommandFlags maps every collect flag onto the request.
func TestCollectCommandFlags(t *testing.T) {
	fake := &fakeApp{results: []runner.Result{{RunID: "r1", Service: "nostroy", Status: runner.StatusSucceeded}}}
	useFakes(t, fake, time.Now())

	out, err := execute(t, "collect",
		"--from", "2024-02-01", "--to", "29.02.2024",
		"--service", "nostroy",
		"--filter", "region_number=77,78", "--filter", "member_status=1",
		"--no-cache", "--shard", "1", "--shards", "2")
	require.NoError(t, err)
	assert.Contains(t, out, `"run_id": "r1"`)
	assert.True(t, fake.closed)

	require.Len(t, fake.reqs, 1)
	req := fake.reqs[0]
	assert.Equal(t, []string{"nostroy"}, req.Services)
	assert.Equal(t, "from_2024-02-01_to_2024-02-29", req.Window.String())
	assert.Equal(t, []any{int64(77), int64(78)}, req.Filters["region_number"])
	assert.Equal(t, int64(1), req.Filters["member_status"])
	assert.False(t, req.UseCache)
	assert.Equal(t, 1, req.Shard)
	assert.Equal(t, 2, req.Shards)
}

// TestCollectDefaultWindow ends today and looks back schedule.lookback_days.
func TestCollectDefaultWindow(t *testing.T) {
	fake := &fakeApp{}
	useFakes(t, fake, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	_, err := execute(t, "collect")
	require.NoError(t, err)
	require.Len(t, fake.reqs, 1)
	assert.Equal(t, "from_2024-03-03_to_2024-03-10", fake.reqs[0].Window.String())
	assert.True(t, fake.reqs[0].UseCache)
	assert.Equal(t, []string{"nostroy", "nopriz"}, fake.reqs[0].Services)
}

// TestCollectFailurePrintsPartialResults still reports what finished.
func TestCollectFailurePrintsPartialResults(t *testing.T) {
	fake := &fakeApp{
		results:    []runner.Result{{RunID: "r1", Status: runner.StatusFailed, Error: "fetch failed"}},
		collectErr: errors.New("nostroy: fetch failed"),
	}
	useFakes(t, fake, time.Now())

	out, err := execute(t, "collect", "--from", "2024-02-01", "--to", "2024-02-02")
	require.Error(t, err)
	assert.Contains(t, out, `"status": "failed"`)
	assert.True(t, fake.closed)
}

// TestCollectRejectsBadInput fails before any work is done.
func TestCollectRejectsBadInput(t *testing.T) {
	cases := map[string][]string{
		"bad date":       {"collect", "--from", "Feb 1"},
		"reversed":       {"collect", "--from", "2024-03-01", "--to", "2024-02-01"},
		"bad filter":     {"collect", "--filter", "region_number"},
		"shard range":    {"collect", "--shard", "2", "--shards", "2"},
		"unknown output": {"collect", "--output", "csv"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			fake := &fakeApp{}
			useFakes(t, fake, time.Now())
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.Empty(t, fake.reqs)
		})
	}
}

// TestInitFailure surfaces the factory error.
func TestInitFailure(t *testing.T) {
	useFakes(t, nil, time.Now())

	_, err := execute(t, "ids")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

// TestIDsCommand prints one service/id pair per line.
func TestIDsCommand(t *testing.T) {
	fake := &fakeApp{ids: map[string][]int64{"nostroy": {100, 101}, "nopriz": {7}}}
	useFakes(t, fake, time.Now())

	out, err := execute(t, "ids", "--from", "2024-02-01", "--to", "2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "nostroy\t100\nnostroy\t101\nnopriz\t7\n", out)
}

// TestParseFilters merges flags over the configured filters.
func TestParseFilters(t *testing.T) {
	t.Parallel()

	base := map[string]any{"member_status": 1, "inn": "7701"}
	got, err := parseFilters([]string{"inn=7702", "region_number=77, 78,", "excluded=false", "name=ООО Ромашка"}, base)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"member_status": 1,
		"inn":           int64(7702),
		"region_number": []any{int64(77), int64(78)},
		"excluded":      false,
		"name":          "ООО Ромашка",
	}, got)
	assert.Equal(t, "7701", base["inn"], "base is not modified")

	_, err = parseFilters([]string{"=1"}, nil)
	require.Error(t, err)
}

// TestRunScheduleStopsOnCancel returns once the context ends.
func TestRunScheduleStopsOnCancel(t *testing.T) {
	fake := &fakeApp{}
	useFakes(t, fake, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runSchedule(ctx, &state{cfg: cfg, logger: zap.NewNop(), app: fake}, true)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("schedule did not stop")
	}
	require.Len(t, fake.reqs, 1, "--now runs once immediately")
	assert.Equal(t, "from_2024-03-03_to_2024-03-10", fake.reqs[0].Window.String())
}

// TestFailedCommandClosesApp releases the application when RunE fails.
func TestFailedCommandClosesApp(t *testing.T) {
	fake := &fakeApp{}
	useFakes(t, fake, time.Now())

	_, err := execute(t, "collect", "--from", "2024-03-01", "--to", "2024-02-01")
	require.Error(t, err)
	assert.Empty(t, fake.reqs)
	assert.True(t, fake.closed)
}
