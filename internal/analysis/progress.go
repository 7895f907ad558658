package analysis

import (
	"context"
	"math"
	"sync"
	"time"
)

// TaskStatus is the lifecycle state of an analysis task
type TaskStatus string

const (
	StatusInitializing  TaskStatus = "initializing"
	StatusProcessing    TaskStatus = "processing"
	StatusCompleted     TaskStatus = "completed"
	StatusQuotaExceeded TaskStatus = "quota_exhausted"
	StatusCancelled     TaskStatus = "cancelled"
	StatusError         TaskStatus = "error"
)

// Terminal reports whether no further progress will be made
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusQuotaExceeded, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Progress is a point-in-time view of a task
type Progress struct {
	TaskID               string     `json:"task_id"`
	Processed            int        `json:"processed"`
	Total                int        `json:"total"`
	Status               TaskStatus `json:"status"`
	Message              string     `json:"message"`
	CurrentCamera        string     `json:"current_camera,omitempty"`
	StartTime            time.Time  `json:"start_time"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
	ElapsedTime          float64    `json:"elapsed_time"`
	ProcessingRate       float64    `json:"processing_rate"`
	TimeRemainingMinutes *float64   `json:"time_remaining_minutes,omitempty"`
}

type task struct {
	progress Progress
	cancel   context.CancelFunc
}

// ledger tracks every task started in this process
type ledger struct {
	mu    sync.RWMutex
	tasks map[string]*task
	now   func() time.Time
}

func newLedger(now func() time.Time) *ledger {
	return &ledger{tasks: make(map[string]*task), now: now}
}

func (l *ledger) add(id string, cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks[id] = &task{
		cancel: cancel,
		progress: Progress{
			TaskID:    id,
			Status:    StatusInitializing,
			Message:   "Preparing to process events...",
			StartTime: l.now(),
		},
	}
}

// update applies fn to the task progress under the lock
func (l *ledger) update(id string, fn func(p *Progress)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tasks[id]
	if !ok {
		return
	}
	fn(&t.progress)
	if t.progress.Status.Terminal() && t.progress.FinishedAt == nil {
		now := l.now()
		t.progress.FinishedAt = &now
		t.progress.CurrentCamera = ""
	}
}

// snapshot returns the progress with derived timing fields filled in
func (l *ledger) snapshot(id string) (Progress, bool) {
	l.mu.RLock()
	t, ok := l.tasks[id]
	if !ok {
		l.mu.RUnlock()
		return Progress{}, false
	}
	p := t.progress
	l.mu.RUnlock()

	end := l.now()
	if p.FinishedAt != nil {
		end = *p.FinishedAt
	}
	elapsed := end.Sub(p.StartTime).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	p.ElapsedTime = math.Round(elapsed*10) / 10

	if p.Processed > 0 && elapsed > 0 {
		rate := float64(p.Processed) / (elapsed / 60)
		p.ProcessingRate = math.Round(rate*10) / 10
		if !p.Status.Terminal() && p.Total > p.Processed && rate > 0 {
			remaining := math.Round(float64(p.Total-p.Processed)/rate*10) / 10
			p.TimeRemainingMinutes = &remaining
		}
	}
	return p, true
}

// cancel requests cancellation; false when the task is unknown or finished
func (l *ledger) cancel(id string) bool {
	l.mu.RLock()
	t, ok := l.tasks[id]
	finished := ok && t.progress.Status.Terminal()
	l.mu.RUnlock()
	if !ok || finished {
		return false
	}
	t.cancel()
	return true
}

// prune drops finished tasks older than retention
func (l *ledger) prune(retention time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-retention)
	removed := 0
	for id, t := range l.tasks {
		if t.progress.FinishedAt != nil && t.progress.FinishedAt.Before(cutoff) {
			delete(l.tasks, id)
			removed++
		}
	}
	return removed
}

func (l *ledger) active() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, t := range l.tasks {
		if !t.progress.Status.Terminal() {
			n++
		}
	}
	return n
}
