package scheduler

import (
	"sync"
	"time"
)

// TaskKind tags the periodic tasks a session runs. The tags exist so timers
// are explicit, named objects instead of anonymous nested callbacks.
type TaskKind string

const (
	TaskCapture      TaskKind = "capture"
	TaskHeartbeat    TaskKind = "heartbeat"
	TaskReconnect    TaskKind = "reconnect"
	TaskPrimaryProbe TaskKind = "primary_probe"
)

// ScheduledTask is a single periodic task with defined cancellation.
type ScheduledTask struct {
	Kind     TaskKind
	Interval time.Duration

	ticker   *time.Ticker
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// Stop cancels the task. Safe to call more than once; returns after the task
// loop has exited, so no tick can fire afterwards.
func (t *ScheduledTask) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	<-t.done
}

// TimerHandleSet owns every timer of one engine instance. It is released
// entirely on stop; no process-wide timer state survives a session.
type TimerHandleSet struct {
	mu    sync.Mutex
	tasks []*ScheduledTask
}

func NewTimerHandleSet() *TimerHandleSet {
	return &TimerHandleSet{}
}

// Schedule starts a periodic task running fn every interval until the task or
// the whole set is stopped.
func (s *TimerHandleSet) Schedule(kind TaskKind, interval time.Duration, fn func()) *ScheduledTask {
	task := &ScheduledTask{
		Kind:     kind,
		Interval: interval,
		ticker:   time.NewTicker(interval),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()

	go func() {
		defer close(task.done)
		defer task.ticker.Stop()
		for {
			select {
			case <-task.ticker.C:
				fn()
			case <-task.stopChan:
				return
			}
		}
	}()

	return task
}

// StopAll cancels every task and empties the set.
func (s *TimerHandleSet) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
}
