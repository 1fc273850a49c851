package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	sterrors "github.com/vnykmshr/systask/pkg/common/errors"
)

// State is the observable outcome of a Future.
type State int32

const (
	// StatePending means no worker has finished the task yet.
	StatePending State = iota
	// StateReady means the task returned a value and a nil error.
	StateReady
	// StateFailed means the task returned an error or panicked.
	StateFailed
	// StateCancelled means the task was dropped from the pending collection.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// PanicError carries a value recovered from a panicking task.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v\nStack trace:\n%s", e.Value, e.Stack)
}

func (e *PanicError) Unwrap() error {
	return sterrors.ErrTaskPanicked
}

// Future is the result handle returned for every pushed task.
// It is resolved exactly once: with the task's value, with its failure, or
// as cancelled when the task is cleared before a worker claims it.
type Future[R any] struct {
	id    uuid.UUID
	once  sync.Once
	done  chan struct{}
	state atomic.Int32
	value R
	err   error

	// mu guards hooks and fired
	mu    sync.Mutex
	hooks []func(State)
	fired bool
}

func newFuture[R any](id uuid.UUID) *Future[R] {
	return &Future[R]{id: id, done: make(chan struct{})}
}

// ID returns the identity of the task behind this handle.
func (f *Future[R]) ID() uuid.UUID {
	return f.id
}

// Done returns a channel that is closed once the handle is resolved.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// State reports the current outcome without blocking.
func (f *Future[R]) State() State {
	return State(f.state.Load())
}

// Get blocks until the task is resolved or ctx is done.
// A ctx error leaves the handle untouched, so Get may be called again.
func (f *Future[R]) Get(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Wait blocks until the task is resolved.
func (f *Future[R]) Wait() (R, error) {
	<-f.done
	return f.value, f.err
}

// TryGet polls the handle. ok is false while the task is pending.
func (f *Future[R]) TryGet() (value R, err error, ok bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		var zero R
		return zero, nil, false
	}
}

// OnDone registers fn to be called with the final state once the handle is
// resolved. fn runs on the goroutine that resolves the handle, or right away
// on the caller's goroutine when the handle is already resolved, so it must
// not block.
func (f *Future[R]) OnDone(fn func(State)) {
	f.mu.Lock()
	if !f.fired {
		f.hooks = append(f.hooks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f.State())
}

func (f *Future[R]) resolve(value R, err error) {
	f.once.Do(func() {
		f.value, f.err = value, err
		if err != nil {
			f.finish(StateFailed)
		} else {
			f.finish(StateReady)
		}
	})
}

func (f *Future[R]) cancel(err error) {
	f.once.Do(func() {
		f.err = err
		f.finish(StateCancelled)
	})
}

func (f *Future[R]) finish(state State) {
	f.state.Store(int32(state))
	close(f.done)

	f.mu.Lock()
	f.fired = true
	hooks := f.hooks
	f.hooks = nil
	f.mu.Unlock()

	for _, fn := range hooks {
		fn(state)
	}
}
