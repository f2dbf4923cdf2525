package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/Strob0t/reactor/internal/port/platform"
)

// job runs on the event loop with exclusive access to the runtime.
type job func(vm *goja.Runtime) error

// Task is the handle of one launched script. The runtime is only ever
// touched by the task's loop goroutine.
type Task struct {
	name string
	caps Capabilities
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	started chan struct{}
	done    chan struct{}
	err     error // set before started is closed

	mu      sync.Mutex
	queue   []job
	wake    chan struct{}
	pending int           // queued jobs plus in-flight async operations
	idle    chan struct{} // closed when pending drops to zero

	// Owned by the loop goroutine.
	sessions map[*goja.Object]platform.Session
	timers   map[int64]*time.Timer
	nextID   int64
	cleanup  []func()
}

func newTask(ctx context.Context, name string, caps Capabilities) *Task {
	ctx, cancel := context.WithCancel(ctx)
	return &Task{
		name:     name,
		caps:     caps,
		log:      caps.Logger,
		ctx:      ctx,
		cancel:   cancel,
		started:  make(chan struct{}),
		done:     make(chan struct{}),
		wake:     make(chan struct{}, 1),
		sessions: make(map[*goja.Object]platform.Session),
		timers:   make(map[int64]*time.Timer),
	}
}

// Name returns the script name.
func (t *Task) Name() string { return t.name }

// Started is closed once the top-level run has returned or thrown.
func (t *Task) Started() <-chan struct{} { return t.started }

// Err returns the top-level fault, if any. Only meaningful after Started is closed.
func (t *Task) Err() error {
	select {
	case <-t.started:
		return t.err
	default:
		return nil
	}
}

// Done is closed when the loop has exited and all subscriptions are released.
func (t *Task) Done() <-chan struct{} { return t.done }

// Stop cancels the task and waits for its loop to exit.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Idle blocks until no jobs are queued and no async operation is in flight,
// or ctx is done. Armed timers do not count as pending work.
func (t *Task) Idle(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.pending == 0 {
			t.mu.Unlock()
			return nil
		}
		if t.idle == nil {
			t.idle = make(chan struct{})
		}
		ch := t.idle
		t.mu.Unlock()

		select {
		case <-ch:
		case <-t.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// enqueue schedules j on the loop. Safe from any goroutine.
func (t *Task) enqueue(j job) {
	t.mu.Lock()
	t.queue = append(t.queue, j)
	t.pending++
	t.mu.Unlock()
	t.signal()
}

// hold marks an async operation as in flight; the matching release happens
// after its completion job ran.
func (t *Task) hold() {
	t.mu.Lock()
	t.pending++
	t.mu.Unlock()
}

func (t *Task) release() {
	t.mu.Lock()
	t.pending--
	if t.pending == 0 && t.idle != nil {
		close(t.idle)
		t.idle = nil
	}
	t.mu.Unlock()
}

func (t *Task) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// goAsync runs work off the loop and then resumes on the loop with its result.
func (t *Task) goAsync(work func(ctx context.Context) (any, error), resume func(vm *goja.Runtime, res any, err error) error) {
	t.hold()
	go func() {
		defer t.release()
		res, err := work(t.ctx)
		t.enqueue(func(vm *goja.Runtime) error {
			return resume(vm, res, err)
		})
	}()
}

func (t *Task) run() {
	vm := goja.New()
	stopInterrupt := context.AfterFunc(t.ctx, func() {
		vm.Interrupt("agent stopped")
	})
	defer func() {
		stopInterrupt()
		for _, timer := range t.timers {
			timer.Stop()
		}
		for _, fn := range t.cleanup {
			fn()
		}
		select {
		case <-t.started:
		default:
			t.err = fmt.Errorf("run %s: %w", t.name, t.ctx.Err())
			close(t.started)
		}
		close(t.done)
	}()

	for {
		for {
			t.mu.Lock()
			if len(t.queue) == 0 {
				t.mu.Unlock()
				break
			}
			j := t.queue[0]
			t.queue[0] = nil
			t.queue = t.queue[1:]
			t.mu.Unlock()

			if t.ctx.Err() != nil {
				t.release()
				continue
			}
			if err := protect(func() error { return j(vm) }); err != nil {
				t.log.Error("agent callback failed", "error", err.Error(), "stack", stackOf(err))
			}
			t.release()
		}

		select {
		case <-t.ctx.Done():
			t.drop()
			return
		case <-t.wake:
		}
	}
}

// drop discards queued jobs after cancellation so Idle callers are released.
func (t *Task) drop() {
	t.mu.Lock()
	n := len(t.queue)
	t.queue = nil
	t.mu.Unlock()
	for range n {
		t.release()
	}
}
