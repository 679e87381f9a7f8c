package tracking_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/helixml/vecmatch/domain/task"
	"github.com/helixml/vecmatch/infrastructure/tracking"
	"github.com/helixml/vecmatch/internal/config"
	"github.com/helixml/vecmatch/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReporter records all statuses delivered to it.
type fakeReporter struct {
	mu       sync.Mutex
	statuses []task.Status
	err      error
}

func (f *fakeReporter) OnChange(_ context.Context, status task.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return f.err
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statuses)
}

func (f *fakeReporter) last() task.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[len(f.statuses)-1]
}

func TestTracker_NotifiesAllSubscribers(t *testing.T) {
	ctx := context.Background()
	failing := &fakeReporter{err: errors.New("down")}
	ok := &fakeReporter{}

	tr := tracking.NewTracker(task.OperationMatch, "", nil, failing)
	tr.Subscribe(ok)

	tr.SetTotal(ctx, 10)
	tr.SetCurrent(ctx, 5, "round 1")
	tr.Complete(ctx, "done")

	assert.Equal(t, 3, failing.count())
	assert.Equal(t, 3, ok.count())
	assert.Equal(t, task.ReportingStateCompleted, ok.last().State())
	assert.Equal(t, 5, tr.Status().Current())
}

func TestLoggingReporter(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, config.LogFormatJSON, "DEBUG")
	reporter := tracking.NewLoggingReporter(logger)

	status := task.NewStatus(task.OperationLoadSources, "a.csv").SetTotal(4).SetCurrent(2, "batch 2/4")
	require.NoError(t, reporter.OnChange(context.Background(), status))

	out := buf.String()
	assert.Contains(t, out, `"msg":"batch 2/4"`)
	assert.Contains(t, out, `"percent":50`)
	assert.Contains(t, out, `"subject":"a.csv"`)

	buf.Reset()
	require.NoError(t, reporter.OnChange(context.Background(), status.Fail("boom")))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestCooldown_ZeroIntervalPassesEverything(t *testing.T) {
	fake := &fakeReporter{}
	cooldown := tracking.NewCooldown(fake, 0)

	status := task.NewStatus(task.OperationMatch, "")
	for i := 1; i <= 5; i++ {
		require.NoError(t, cooldown.OnChange(context.Background(), status.SetCurrent(i, "")))
	}
	assert.Equal(t, 5, fake.count())
}

func TestCooldown_ThrottlesAndFlushesBeforeTerminal(t *testing.T) {
	fake := &fakeReporter{}
	cooldown := tracking.NewCooldown(fake, time.Hour)
	defer func() { _ = cooldown.Close() }()

	ctx := context.Background()
	status := task.NewStatus(task.OperationLoadTargets, "t.csv").SetTotal(10)
	for i := 1; i <= 5; i++ {
		require.NoError(t, cooldown.OnChange(ctx, status.SetCurrent(i, "")))
	}
	assert.Equal(t, 1, fake.count(), "only the first update passes within the interval")

	require.NoError(t, cooldown.OnChange(ctx, status.SetCurrent(5, "").Complete("done")))
	require.Equal(t, 3, fake.count())
	assert.Equal(t, 5, fake.statuses[1].Current(), "pending update delivered before the terminal one")
	assert.Equal(t, task.ReportingStateCompleted, fake.last().State())
}

func TestCooldown_IndependentIDs(t *testing.T) {
	fake := &fakeReporter{}
	cooldown := tracking.NewCooldown(fake, time.Hour)
	defer func() { _ = cooldown.Close() }()

	ctx := context.Background()
	require.NoError(t, cooldown.OnChange(ctx, task.NewStatus(task.OperationLoadSources, "a.csv").SetCurrent(1, "")))
	require.NoError(t, cooldown.OnChange(ctx, task.NewStatus(task.OperationLoadSources, "b.csv").SetCurrent(1, "")))
	assert.Equal(t, 2, fake.count())
}

func TestCooldown_CloseFlushesPending(t *testing.T) {
	fake := &fakeReporter{}
	cooldown := tracking.NewCooldown(fake, time.Hour)

	ctx := log.WithCorrelationID(context.Background(), "run-1")
	status := task.NewStatus(task.OperationMatch, "")
	require.NoError(t, cooldown.OnChange(ctx, status.SetCurrent(1, "")))
	require.NoError(t, cooldown.OnChange(ctx, status.SetCurrent(2, "")))
	require.Equal(t, 1, fake.count())

	require.NoError(t, cooldown.Close())
	assert.Equal(t, 2, fake.count())
	assert.Equal(t, 2, fake.last().Current())
}

func TestCooldown_TimerFlushes(t *testing.T) {
	fake := &fakeReporter{}
	cooldown := tracking.NewCooldown(fake, 50*time.Millisecond)
	defer func() { _ = cooldown.Close() }()

	ctx := context.Background()
	status := task.NewStatus(task.OperationMatch, "")
	require.NoError(t, cooldown.OnChange(ctx, status.SetCurrent(1, "")))
	require.NoError(t, cooldown.OnChange(ctx, status.SetCurrent(2, "")))

	assert.Eventually(t, func() bool { return fake.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestBoard_KeepsLatestStatusPerOperation(t *testing.T) {
	ctx := context.Background()
	board := tracking.NewBoard()

	sources := tracking.NewTracker(task.OperationLoadSources, "a.csv", nil, board)
	sources.SetTotal(ctx, 4)
	sources.SetCurrent(ctx, 2, "batch 1/2")

	match := tracking.NewTracker(task.OperationMatch, "", nil, board)
	match.Skip(ctx, "no unmatched targets")

	sources.SetCurrent(ctx, 4, "batch 2/2")
	sources.Complete(ctx, "done")

	snapshot := board.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "vecmatch.load.sources:a.csv", snapshot[0].ID())
	assert.Equal(t, task.ReportingStateCompleted, snapshot[0].State())
	assert.Equal(t, 4, snapshot[0].Current())
	assert.Equal(t, task.ReportingStateSkipped, snapshot[1].State())
}
