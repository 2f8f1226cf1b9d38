// Package monitor keeps a live view of a user's task list. While
// running it refreshes the list on a coarse interval, recomputes the
// elapsed-time display on a fine interval without refetching, and can
// additionally tail one task's log on demand. All timers are driven
// through an injected Scheduler so tests can use virtual time.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/epibuilder/portal/internal/model"
)

// Default cadences.
const (
	CoarseInterval = 60 * time.Second
	FineInterval   = time.Second
	LogInterval    = 10 * time.Second
)

// LogErrorText replaces the log view when a tail fetch fails.
const LogErrorText = "Error loading log file."

// Directory supplies the task list and the out-of-cycle refresh hint.
type Directory interface {
	TasksForUser(ctx context.Context, userID int64, onlyActive bool) []model.Task
	ListChanged() <-chan struct{}
}

// LogFetcher supplies the log tail for a single task.
type LogFetcher interface {
	TaskLog(ctx context.Context, taskID int64) (string, error)
}

// Snapshot is a point-in-time copy of the monitor's state, safe to
// read after the monitor moves on.
type Snapshot struct {
	Tasks     []model.Task
	Elapsed   map[int64]string // task id -> formatted elapsed time
	LogTaskID int64            // 0 when no log is open
	LogText   string
}

type Monitor struct {
	dir   Directory
	logs  LogFetcher
	sched Scheduler
	log   *slog.Logger

	userID     int64
	onlyActive bool

	mu      sync.Mutex
	active  bool
	ctx     context.Context
	tasks   []model.Task
	elapsed map[int64]string

	// fetch sequencing: a response only applies when its sequence
	// number is newer than the last one applied, so a slow fetch
	// cannot clobber the result of a later one.
	seq     uint64
	applied uint64

	cancelCoarse  func()
	cancelFine    func()
	cancelChanged chan struct{}

	logTaskID int64
	logText   string
	cancelLog func()

	onChange func(Snapshot)
}

func New(dir Directory, logs LogFetcher, sched Scheduler, userID int64, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		dir:     dir,
		logs:    logs,
		sched:   sched,
		log:     log,
		userID:  userID,
		elapsed: map[int64]string{},
	}
}

// OnlyActive restricts refreshes to non-terminal tasks. Must be set
// before Start.
func (m *Monitor) OnlyActive(v bool) { m.onlyActive = v }

// OnChange registers a callback invoked with a fresh snapshot after
// every state change. Must be set before Start.
func (m *Monitor) OnChange(fn func(Snapshot)) { m.onChange = fn }

// Start performs one immediate fetch and arms the coarse and fine
// timers plus the list-changed subscription. Calling Start on a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return
	}
	m.active = true
	m.ctx = ctx
	m.cancelCoarse = m.sched.Every(CoarseInterval, m.refresh)
	m.cancelFine = m.sched.Every(FineInterval, m.recompute)
	done := make(chan struct{})
	m.cancelChanged = done
	m.mu.Unlock()

	go m.watchListChanged(done)
	m.refresh()
}

// Stop cancels every timer and the subscription. Unconditional and
// idempotent: safe to call twice, or on a monitor that never started.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = false
	if m.cancelCoarse != nil {
		m.cancelCoarse()
		m.cancelCoarse = nil
	}
	if m.cancelFine != nil {
		m.cancelFine()
		m.cancelFine = nil
	}
	if m.cancelChanged != nil {
		close(m.cancelChanged)
		m.cancelChanged = nil
	}
	m.stopLogLocked()
}

// Refresh forces an immediate out-of-cycle fetch, the same path the
// list-changed subscription takes. The coarse timer keeps its phase.
func (m *Monitor) Refresh() { m.refresh() }

// OpenLog enters log viewing for the given task: one immediate fetch,
// then a rearmed tail timer. Opening a different task's log first
// closes the previous one.
func (m *Monitor) OpenLog(taskID int64) {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.stopLogLocked()
	m.logTaskID = taskID
	m.cancelLog = m.sched.Every(LogInterval, m.fetchLog)
	m.mu.Unlock()

	m.fetchLog()
}

// CloseLog leaves log viewing. Only the tail timer is cancelled; the
// coarse and fine timers keep running.
func (m *Monitor) CloseLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLogLocked()
}

// Snapshot returns a copy of the current state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	tasks := make([]model.Task, len(m.tasks))
	copy(tasks, m.tasks)
	elapsed := make(map[int64]string, len(m.elapsed))
	for id, v := range m.elapsed {
		elapsed[id] = v
	}
	return Snapshot{
		Tasks:     tasks,
		Elapsed:   elapsed,
		LogTaskID: m.logTaskID,
		LogText:   m.logText,
	}
}

func (m *Monitor) watchListChanged(done <-chan struct{}) {
	changed := m.dir.ListChanged()
	for {
		select {
		case <-done:
			return
		case <-changed:
			m.refresh()
		}
	}
}

// refresh fetches the task list and applies the result unless the
// monitor stopped meanwhile or a newer fetch already landed.
func (m *Monitor) refresh() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.seq++
	seq := m.seq
	ctx := m.ctx
	m.mu.Unlock()

	tasks := m.dir.TasksForUser(ctx, m.userID, m.onlyActive)

	m.mu.Lock()
	if !m.active || seq <= m.applied {
		m.mu.Unlock()
		return
	}
	m.applied = seq
	m.tasks = tasks
	m.recomputeLocked()
	m.notifyLocked()
	m.mu.Unlock()
}

// recompute refreshes only the elapsed-time fields.
func (m *Monitor) recompute() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.recomputeLocked()
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *Monitor) recomputeLocked() {
	now := time.Now()
	elapsed := make(map[int64]string, len(m.tasks))
	for i := range m.tasks {
		t := &m.tasks[i]
		end := now
		if t.Status.Terminal() && t.FinishedAt != nil {
			end = *t.FinishedAt
		}
		elapsed[t.ID] = FormatElapsed(end.Sub(t.SubmittedAt))
	}
	m.elapsed = elapsed
}

func (m *Monitor) fetchLog() {
	m.mu.Lock()
	if !m.active || m.logTaskID == 0 {
		m.mu.Unlock()
		return
	}
	taskID := m.logTaskID
	ctx := m.ctx
	m.mu.Unlock()

	text, err := m.logs.TaskLog(ctx, taskID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active || m.logTaskID != taskID {
		return
	}
	if err != nil {
		m.log.Debug("log fetch failed", "task", taskID, "err", err)
		m.logText = LogErrorText
	} else {
		m.logText = text
	}
	m.notifyLocked()
}

func (m *Monitor) stopLogLocked() {
	if m.cancelLog != nil {
		m.cancelLog()
		m.cancelLog = nil
	}
	m.logTaskID = 0
	m.logText = ""
}

func (m *Monitor) notifyLocked() {
	if m.onChange != nil {
		m.onChange(m.snapshotLocked())
	}
}
