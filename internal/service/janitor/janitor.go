package janitor

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is how long a staged site stays on disk after its deploy
// response has been sent.
const DefaultDelay = 5 * time.Second

// Janitor schedules deferred best-effort removal of staging directories.
// Removal failures are logged and swallowed; overlapping schedules for the
// same path are not deduplicated. Close cancels the timers and flushes any
// pending removals immediately so shutdown does not leak directories.
type Janitor struct {
	remove func(string) error
	logger *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*task
	closed  bool
}

type task struct {
	dir   string
	timer *time.Timer
}

// New returns a Janitor that removes directories with the provided
// function, usually a workspace Manager's Cleanup.
func New(remove func(string) error, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		remove:  remove,
		logger:  logger,
		pending: make(map[uint64]*task),
	}
}

// Schedule registers a one-shot removal of dir after delay. A non-positive
// delay falls back to DefaultDelay. After Close, removal runs immediately.
func (j *Janitor) Schedule(dir string, delay time.Duration) {
	if dir == "" {
		return
	}
	if delay <= 0 {
		delay = DefaultDelay
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		j.removeNow(dir)
		return
	}
	id := j.nextID
	j.nextID++
	t := &task{dir: dir}
	t.timer = time.AfterFunc(delay, func() {
		j.fire(id)
	})
	j.pending[id] = t
	j.mu.Unlock()
}

// Pending reports how many removals are still scheduled.
func (j *Janitor) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Close stops all timers and flushes outstanding removals synchronously.
func (j *Janitor) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	remaining := make([]*task, 0, len(j.pending))
	for id, t := range j.pending {
		t.timer.Stop()
		remaining = append(remaining, t)
		delete(j.pending, id)
	}
	j.mu.Unlock()

	for _, t := range remaining {
		j.removeNow(t.dir)
	}
}

func (j *Janitor) fire(id uint64) {
	j.mu.Lock()
	t, ok := j.pending[id]
	if ok {
		delete(j.pending, id)
	}
	j.mu.Unlock()
	if !ok {
		return
	}
	j.removeNow(t.dir)
}

func (j *Janitor) removeNow(dir string) {
	if err := j.remove(dir); err != nil {
		j.logger.Warn("staging cleanup failed", "dir", dir, "error", err)
		return
	}
	j.logger.Debug("staging directory removed", "dir", dir)
}
