// Package status provides AsyncStatus, a cancellable, watchable handle
// over a long-running operation. A status is created when a verb starts
// an operation, is mutated only by the goroutine driving it, and becomes
// immutable once done.
package status

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/sigstreams/errors"
)

// WatcherUpdate carries structured progress from an in-flight operation
// to its watchers.
type WatcherUpdate struct {
	Name        string
	Current     float64
	Initial     float64
	Target      float64
	Unit        string
	Precision   int
	Fraction    float64
	TimeElapsed time.Duration
}

// Watcher is a callback invoked with progress updates. Watchers are
// never invoked after the status completes.
type Watcher func(WatcherUpdate)

// NotifyFunc is the hook handed to the underlying operation for
// reporting progress.
type NotifyFunc func(WatcherUpdate)

// AsyncStatus wraps a unit of asynchronous work. Beyond a plain future
// it adds progress watchers, explicit cancellation, and optional
// deadline wrapping that resolves the status as a timeout failure
// instead of a silent hang.
type AsyncStatus struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	start  time.Time

	mu         sync.Mutex
	err        error
	finished   bool
	watchers   []Watcher
	lastUpdate *WatcherUpdate
}

// Run starts fn in its own goroutine and returns a status tracking it.
// fn receives a context cancelled by Cancel and a notify hook for
// progress updates. The name appears in error messages.
func Run(ctx context.Context, name string, fn func(ctx context.Context, notify NotifyFunc) error) *AsyncStatus {
	return RunWithTimeout(ctx, name, 0, fn)
}

// RunWithTimeout is Run with a deadline: if fn has not returned within
// timeout, its context is cancelled and the status resolves as failed
// with a timeout-class error. A timeout of 0 means no deadline.
func RunWithTimeout(
	ctx context.Context, name string, timeout time.Duration,
	fn func(ctx context.Context, notify NotifyFunc) error,
) *AsyncStatus {
	runCtx, cancel := context.WithCancel(ctx)
	st := &AsyncStatus{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
		start:  time.Now(),
	}

	go func() {
		defer cancel()
		var err error
		if timeout > 0 {
			opCtx, opCancel := context.WithTimeout(runCtx, timeout)
			err = fn(opCtx, st.notify)
			timedOut := opCtx.Err() == context.DeadlineExceeded && runCtx.Err() == nil
			opCancel()
			if err != nil && timedOut {
				err = errors.WrapTimeout(
					fmt.Errorf("%w after %s", errors.ErrTimeout, timeout),
					name, "RunWithTimeout", "operation")
			}
		} else {
			err = fn(runCtx, st.notify)
		}
		if err != nil && stderrors.Is(err, context.Canceled) && !errors.IsTimeout(err) {
			err = errors.WrapCancelled(errors.ErrCancelled, name, "Run", "operation")
		}
		st.finish(err)
	}()
	return st
}

// Completed returns an already-resolved successful status.
func Completed(name string) *AsyncStatus {
	st := &AsyncStatus{name: name, cancel: func() {}, done: make(chan struct{}), start: time.Now()}
	st.finish(nil)
	return st
}

// Failed returns an already-resolved status carrying err.
func Failed(name string, err error) *AsyncStatus {
	st := &AsyncStatus{name: name, cancel: func() {}, done: make(chan struct{}), start: time.Now()}
	st.finish(err)
	return st
}

func (st *AsyncStatus) finish(err error) {
	st.mu.Lock()
	st.finished = true
	st.err = err
	st.watchers = nil
	st.mu.Unlock()
	close(st.done)
}

func (st *AsyncStatus) notify(u WatcherUpdate) {
	st.mu.Lock()
	if st.finished {
		st.mu.Unlock()
		return
	}
	if u.Name == "" {
		u.Name = st.name
	}
	if u.TimeElapsed == 0 {
		u.TimeElapsed = time.Since(st.start)
	}
	st.lastUpdate = &u
	watchers := make([]Watcher, len(st.watchers))
	copy(watchers, st.watchers)
	st.mu.Unlock()

	for _, w := range watchers {
		w(u)
	}
}

// Name returns the name given at construction.
func (st *AsyncStatus) Name() string {
	return st.name
}

// Done reports whether the operation has completed.
func (st *AsyncStatus) Done() bool {
	select {
	case <-st.done:
		return true
	default:
		return false
	}
}

// DoneCh returns a channel closed when the operation completes.
func (st *AsyncStatus) DoneCh() <-chan struct{} {
	return st.done
}

// Err returns the error the operation resolved with, or nil if it
// succeeded or is still pending.
func (st *AsyncStatus) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Success reports whether the operation completed without error.
func (st *AsyncStatus) Success() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.finished && st.err == nil
}

// Cancel requests cancellation of the underlying operation. It is safe
// to call at any time, including after completion.
func (st *AsyncStatus) Cancel() {
	st.cancel()
}

// Wait blocks until the operation completes or ctx is done, returning
// the operation's error or the context's.
func (st *AsyncStatus) Wait(ctx context.Context) error {
	select {
	case <-st.done:
		return st.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch registers a watcher. If an update has already been delivered the
// watcher is immediately replayed the latest one; if the status has
// already completed the watcher is never invoked.
func (st *AsyncStatus) Watch(w Watcher) {
	st.mu.Lock()
	if st.finished {
		st.mu.Unlock()
		return
	}
	st.watchers = append(st.watchers, w)
	last := st.lastUpdate
	st.mu.Unlock()

	if last != nil {
		w(*last)
	}
}

// While binds st to the execution of fn, giving block-scoped
// cancellation semantics:
//
//   - fn runs with a context that is cancelled as soon as st completes,
//     so consumer loops inside fn exit when the operation finishes.
//   - If fn returns an error of its own, st is cancelled and awaited to
//     quiescence before that error is returned.
//   - If fn exits normally first, st is cancelled fire-and-forget: the
//     caller does not wait for it.
//   - A cancellation of fn caused only by st's own completion is not an
//     error; While then returns whatever st resolved with.
func While(ctx context.Context, st *AsyncStatus, fn func(ctx context.Context) error) error {
	fnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var statusFirst atomic.Bool
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-st.DoneCh():
			statusFirst.Store(true)
			cancel()
		case <-stopWatch:
		}
	}()

	err := fn(fnCtx)
	close(stopWatch)

	causedByStatus := stderrors.Is(err, context.Canceled) && statusFirst.Load() && ctx.Err() == nil
	if err != nil && !causedByStatus {
		st.Cancel()
		<-st.DoneCh()
		return err
	}
	if statusFirst.Load() {
		return st.Err()
	}
	st.Cancel()
	return nil
}
