package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/epibuilder/portal/internal/model"
)

// ---- fakes ----

// fakeScheduler records armed timers and lets tests fire them manually.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	interval time.Duration
	fn       func()
	stopped  bool
}

func (s *fakeScheduler) Every(interval time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{interval: interval, fn: fn}
	s.timers = append(s.timers, t)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		t.stopped = true
	}
}

// fire invokes every live timer armed with the given interval.
func (s *fakeScheduler) fire(interval time.Duration) {
	s.mu.Lock()
	var fns []func()
	for _, t := range s.timers {
		if !t.stopped && t.interval == interval {
			fns = append(fns, t.fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *fakeScheduler) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// fakeDirectory serves queued responses, optionally blocking each call
// on a gate so tests can control response arrival order.
type fakeDirectory struct {
	mu      sync.Mutex
	calls   int
	results [][]model.Task
	gates   []chan struct{}
	changed chan struct{}
}

func newFakeDirectory(results ...[]model.Task) *fakeDirectory {
	return &fakeDirectory{results: results, changed: make(chan struct{}, 1)}
}

func (d *fakeDirectory) TasksForUser(ctx context.Context, userID int64, onlyActive bool) []model.Task {
	d.mu.Lock()
	i := d.calls
	d.calls++
	var gate chan struct{}
	if i < len(d.gates) {
		gate = d.gates[i]
	}
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if i < len(d.results) {
		return d.results[i]
	}
	return []model.Task{}
}

func (d *fakeDirectory) ListChanged() <-chan struct{} { return d.changed }

func (d *fakeDirectory) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type fakeLogs struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (l *fakeLogs) TaskLog(ctx context.Context, taskID int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.text, l.err
}

func taskList(ids ...int64) []model.Task {
	tasks := make([]model.Task, len(ids))
	for i, id := range ids {
		tasks[i] = model.Task{
			ID:          id,
			RunName:     "run",
			Status:      model.StatusRunning,
			SubmittedAt: time.Now().Add(-time.Minute),
		}
	}
	return tasks
}

// ---- tests ----

func TestStartFetchesImmediately(t *testing.T) {
	dir := newFakeDirectory(taskList(1, 2))
	sched := &fakeScheduler{}
	m := New(dir, &fakeLogs{}, sched, 1, nil)

	m.Start(context.Background())
	defer m.Stop()

	require.Equal(t, 1, dir.callCount())
	require.Len(t, m.Snapshot().Tasks, 2)
	// coarse and fine timers armed
	require.Equal(t, 2, sched.activeCount())
}

func TestCoarseTimerRefetches(t *testing.T) {
	dir := newFakeDirectory(taskList(1), taskList(1, 2, 3))
	sched := &fakeScheduler{}
	m := New(dir, &fakeLogs{}, sched, 1, nil)

	m.Start(context.Background())
	defer m.Stop()

	sched.fire(CoarseInterval)
	require.Equal(t, 2, dir.callCount())
	require.Len(t, m.Snapshot().Tasks, 3)
}

func TestStaleResponseSuppressed(t *testing.T) {
	dir := newFakeDirectory(taskList(1), taskList(99), taskList(1, 2))
	gateOld := make(chan struct{})
	gateNew := make(chan struct{})
	dir.gates = []chan struct{}{nil, gateOld, gateNew}

	m := New(dir, &fakeLogs{}, &fakeScheduler{}, 1, nil)
	m.Start(context.Background())
	defer m.Stop()

	var wg sync.WaitGroup
	wg.Add(2)

	// Older request issued first, blocked in flight.
	go func() { defer wg.Done(); m.Refresh() }()
	require.Eventually(t, func() bool { return dir.callCount() == 2 },
		time.Second, time.Millisecond)

	// Newer request issued second.
	go func() { defer wg.Done(); m.Refresh() }()
	require.Eventually(t, func() bool { return dir.callCount() == 3 },
		time.Second, time.Millisecond)

	// Newer response lands first, older one afterwards.
	close(gateNew)
	require.Eventually(t, func() bool { return len(m.Snapshot().Tasks) == 2 },
		time.Second, time.Millisecond)
	close(gateOld)
	wg.Wait()

	// The stale result must not have clobbered the newer list.
	snap := m.Snapshot()
	require.Len(t, snap.Tasks, 2)
	require.Equal(t, int64(1), snap.Tasks[0].ID)
}

func TestStopIsIdempotent(t *testing.T) {
	dir := newFakeDirectory(taskList(1))
	sched := &fakeScheduler{}
	m := New(dir, &fakeLogs{}, sched, 1, nil)

	m.Start(context.Background())
	m.Stop()
	m.Stop() // second call must not panic

	require.Equal(t, 0, sched.activeCount())

	// no fetch applies after stop
	m.Refresh()
	require.Equal(t, 1, dir.callCount())
}

func TestStopWithoutStart(t *testing.T) {
	m := New(newFakeDirectory(), &fakeLogs{}, &fakeScheduler{}, 1, nil)
	require.NotPanics(t, func() { m.Stop() })
}

func TestListChangedTriggersRefresh(t *testing.T) {
	dir := newFakeDirectory(taskList(1), taskList(1, 2))
	m := New(dir, &fakeLogs{}, &fakeScheduler{}, 1, nil)

	m.Start(context.Background())
	defer m.Stop()

	dir.changed <- struct{}{}
	require.Eventually(t, func() bool { return len(m.Snapshot().Tasks) == 2 },
		time.Second, time.Millisecond)
}

func TestLogViewing(t *testing.T) {
	dir := newFakeDirectory(taskList(5))
	sched := &fakeScheduler{}
	logs := &fakeLogs{text: "step 1 done\n"}
	m := New(dir, logs, sched, 1, nil)

	m.Start(context.Background())
	defer m.Stop()

	m.OpenLog(5)
	snap := m.Snapshot()
	require.Equal(t, int64(5), snap.LogTaskID)
	require.Equal(t, "step 1 done\n", snap.LogText)

	// tail timer refetches
	sched.fire(LogInterval)
	logs.mu.Lock()
	calls := logs.calls
	logs.mu.Unlock()
	require.Equal(t, 2, calls)

	// closing the log keeps the list timers running
	before := sched.activeCount()
	m.CloseLog()
	require.Equal(t, before-1, sched.activeCount())
	require.Zero(t, m.Snapshot().LogTaskID)

	// closing twice is harmless
	require.NotPanics(t, func() { m.CloseLog() })
}

func TestLogFetchErrorShowsMessage(t *testing.T) {
	dir := newFakeDirectory(taskList(5))
	logs := &fakeLogs{err: errors.New("boom")}
	m := New(dir, logs, &fakeScheduler{}, 1, nil)

	m.Start(context.Background())
	defer m.Stop()

	m.OpenLog(5)
	require.Equal(t, LogErrorText, m.Snapshot().LogText)
}

func TestElapsedFrozenForTerminalTasks(t *testing.T) {
	submitted := time.Now().Add(-time.Hour)
	finished := submitted.Add(125 * time.Second)
	done := model.Task{
		ID:          1,
		Status:      model.StatusFinished,
		SubmittedAt: submitted,
		FinishedAt:  &finished,
	}

	dir := newFakeDirectory([]model.Task{done})
	sched := &fakeScheduler{}
	m := New(dir, &fakeLogs{}, sched, 1, nil)

	m.Start(context.Background())
	defer m.Stop()

	require.Equal(t, "2min 5s", m.Snapshot().Elapsed[1])

	// the fine timer recomputes, but a terminal task stays frozen
	sched.fire(FineInterval)
	require.Equal(t, "2min 5s", m.Snapshot().Elapsed[1])
}
