package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrencyBound(t *testing.T) {
	const workers = 2
	const tasks = 8

	var running, peak int32
	q := New(workers, 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
			if err != nil {
				t.Errorf("task failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > workers {
		t.Fatalf("peak concurrency %d exceeds bound %d", got, workers)
	}
	if q.Active() != 0 || q.Depth() != 0 {
		t.Fatalf("queue not drained: active=%d depth=%d", q.Active(), q.Depth())
	}
}

func TestTimeoutDeliversTimeoutError(t *testing.T) {
	q := New(1, 30*time.Millisecond, nil)

	cancelled := make(chan struct{})
	err := q.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	})

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Timeout != 30*time.Millisecond {
		t.Fatalf("unexpected timeout in error: %s", te.Timeout)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled on timeout")
	}
}

func TestTimeoutDoesNotAffectOtherTasks(t *testing.T) {
	q := New(2, 40*time.Millisecond, nil)

	var wg sync.WaitGroup
	var slowErr, fastErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		slowErr = q.Do(context.Background(), func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	go func() {
		defer wg.Done()
		fastErr = q.Do(context.Background(), func(ctx context.Context) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		})
	}()
	wg.Wait()

	var te *TimeoutError
	if !errors.As(slowErr, &te) {
		t.Fatalf("slow task: expected TimeoutError, got %v", slowErr)
	}
	if fastErr != nil {
		t.Fatalf("fast task should succeed, got %v", fastErr)
	}
}

func TestErrorPropagates(t *testing.T) {
	q := New(1, 0, nil)
	want := errors.New("boom")
	err := q.Do(context.Background(), func(ctx context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestCallerCancellation(t *testing.T) {
	q := New(1, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- q.Do(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestLifecycleEvents(t *testing.T) {
	var mu sync.Mutex
	var types []EventType
	q := New(1, 0, func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	if err := q.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("task failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []EventType{EventQueued, EventStart, EventActive, EventSuccess, EventActive, EventIdle}
	if len(types) != len(want) {
		t.Fatalf("got events %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, types[i], want[i])
		}
	}
}

func TestTimeoutEvent(t *testing.T) {
	seen := make(chan EventType, 16)
	q := New(1, 15*time.Millisecond, func(ev Event) { seen <- ev.Type })

	_ = q.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	close(seen)
	found := false
	for ty := range seen {
		if ty == EventTimeout {
			found = true
		}
	}
	if !found {
		t.Fatal("no timeout event emitted")
	}
}
