// Package queue is the in-process scheduler for gateway tasks: FIFO
// admission, a hard concurrency bound, and a per-task timeout. It is the only
// construct limiting simultaneous outbound vendor calls.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventQueued  EventType = "queued"
	EventStart   EventType = "start"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
	EventTimeout EventType = "timeout"
	EventActive  EventType = "active"
	EventIdle    EventType = "idle"
)

// Event is an advisory lifecycle notification. Delivery is synchronous on
// the queue's goroutines; handlers must not block.
type Event struct {
	Type   EventType
	TaskID string
	Active int
	Queued int
}

// TimeoutError rejects a task whose work exceeded the queue timeout. The
// task context is cancelled at the same moment, aborting the outbound call.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %s", e.TaskID, e.Timeout)
}

type task struct {
	id   string
	ctx  context.Context
	run  func(context.Context) error
	done chan error
}

// Queue schedules work functions under a concurrency bound.
type Queue struct {
	mu          sync.Mutex
	concurrency int
	timeout     time.Duration
	active      int
	pending     []*task
	onEvent     func(Event)
}

// New creates a queue. concurrency < 1 is clamped to 1; timeout 0 disables
// the per-task deadline. onEvent may be nil.
func New(concurrency int, timeout time.Duration, onEvent func(Event)) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Queue{
		concurrency: concurrency,
		timeout:     timeout,
		onEvent:     onEvent,
	}
}

// Do enqueues run and blocks until it settles. The context passed to run
// carries the queue timeout as a deadline, so a timed-out task's outbound
// request is cancelled rather than orphaned.
func (q *Queue) Do(ctx context.Context, run func(context.Context) error) error {
	t := &task{
		id:   uuid.NewString(),
		ctx:  ctx,
		run:  run,
		done: make(chan error, 1),
	}

	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.emitLocked(Event{Type: EventQueued, TaskID: t.id, Active: q.active, Queued: len(q.pending)})
	q.drainLocked()
	q.mu.Unlock()

	return <-t.done
}

// Active returns the number of running tasks.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Depth returns the number of queued (not yet started) tasks.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) drainLocked() {
	for q.active < q.concurrency && len(q.pending) > 0 {
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		q.emitLocked(Event{Type: EventStart, TaskID: t.id, Active: q.active, Queued: len(q.pending)})
		q.emitLocked(Event{Type: EventActive, TaskID: t.id, Active: q.active, Queued: len(q.pending)})
		go q.execute(t)
	}
}

func (q *Queue) execute(t *task) {
	runCtx := t.ctx
	cancel := func() {}
	if q.timeout > 0 {
		runCtx, cancel = context.WithTimeout(t.ctx, q.timeout)
	}

	result := make(chan error, 1)
	go func() {
		result <- t.run(runCtx)
	}()

	var err error
	select {
	case err = <-result:
	case <-runCtx.Done():
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = &TimeoutError{TaskID: t.id, Timeout: q.timeout}
		} else {
			err = runCtx.Err()
		}
	}
	cancel()

	q.settle(t, err)
}

func (q *Queue) settle(t *task, err error) {
	q.mu.Lock()
	q.active--

	switch {
	case err == nil:
		q.emitLocked(Event{Type: EventSuccess, TaskID: t.id, Active: q.active, Queued: len(q.pending)})
	case isTimeout(err):
		q.emitLocked(Event{Type: EventTimeout, TaskID: t.id, Active: q.active, Queued: len(q.pending)})
	default:
		q.emitLocked(Event{Type: EventError, TaskID: t.id, Active: q.active, Queued: len(q.pending)})
	}
	q.emitLocked(Event{Type: EventActive, TaskID: t.id, Active: q.active, Queued: len(q.pending)})

	q.drainLocked()
	if q.active == 0 && len(q.pending) == 0 {
		q.emitLocked(Event{Type: EventIdle, Active: 0, Queued: 0})
	}
	q.mu.Unlock()

	t.done <- err
}

func (q *Queue) emitLocked(ev Event) {
	if q.onEvent != nil {
		q.onEvent(ev)
	}
}

func isTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
