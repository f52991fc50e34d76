package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/sigstreams/errors"
	"github.com/c360/sigstreams/status"
)

// WaitForValue blocks until the signal's observed value satisfies match,
// returning immediately if the current value already does. On timeout the
// error carries the last value seen so operators can tell how far the
// hardware got.
func WaitForValue[T any](ctx context.Context, sig *Signal[T], match func(T) bool, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := sig.Observe(waitCtx)
	if err != nil {
		return err
	}

	var last T
	seen := false
	for {
		select {
		case reading, ok := <-ch:
			if !ok {
				return errors.WrapCancelled(fmt.Errorf("%w: subscription closed", errors.ErrCancelled),
					sig.Name(), "WaitForValue", "observe")
			}
			last = reading.Value
			seen = true
			if match(reading.Value) {
				return nil
			}
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return errors.WrapCancelled(errors.ErrCancelled, sig.Name(), "WaitForValue", "wait for match")
			}
			err := fmt.Errorf("%w after %s", errors.ErrTimeout, timeout)
			if seen {
				err = fmt.Errorf("%w, last value %v", err, last)
			}
			return errors.WrapTimeout(err, sig.Name(), "WaitForValue", "wait for match")
		}
	}
}

// WaitForEqual blocks until the signal's observed value equals want.
func WaitForEqual[T comparable](ctx context.Context, sig *Signal[T], want T, timeout time.Duration) error {
	return WaitForValue(ctx, sig, func(v T) bool { return v == want }, timeout)
}

// SetAndWaitOptions tunes the combined set-then-wait helpers.
type SetAndWaitOptions struct {
	// Timeout bounds the wait for the match value; zero means the
	// signal's default.
	Timeout time.Duration
	// SetTimeout bounds the set itself; zero means the signal's default.
	SetTimeout time.Duration
	// WaitForSetCompletion selects the return point: when true (the
	// default via the exported helpers) the call returns after the set
	// completes, otherwise after the match value is observed.
	WaitForSetCompletion bool
}

// SetAndWaitForValue writes value and blocks until the set completes,
// returning a status that resolves when the backend confirms it.
func SetAndWaitForValue[T comparable](ctx context.Context, sig *Signal[T], value T, opts SetAndWaitOptions) (*status.AsyncStatus, error) {
	opts.WaitForSetCompletion = true
	return setAndWaitForOther(ctx, sig, sig, value, func(v T) bool { return v == value }, opts)
}

// SetAndWaitForOtherValue writes value to setSig and waits until
// matchSig's observed value satisfies match. With
// opts.WaitForSetCompletion false it returns once the match value is
// seen, with the set still in flight in the returned status; this is
// the arm-then-wait-armed shape detector controllers use.
func SetAndWaitForOtherValue[S any, M any](ctx context.Context, setSig *Signal[S], matchSig *Signal[M], value S, match func(M) bool, opts SetAndWaitOptions) (*status.AsyncStatus, error) {
	return setAndWaitForOther(ctx, setSig, matchSig, value, match, opts)
}

func setAndWaitForOther[S any, M any](ctx context.Context, setSig *Signal[S], matchSig *Signal[M], value S, match func(M) bool, opts SetAndWaitOptions) (*status.AsyncStatus, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = matchSig.timeout
	}

	// Subscribe before the set so the transition cannot slip between
	// the write landing and the watch starting.
	waitCtx, cancel := context.WithCancel(ctx)
	ch, err := matchSig.Observe(waitCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	// The current value may already match; that skips only the wait.
	// The write still goes out, since its side effect (re-issuing an
	// acquire command, say) must not be lost.
	current, err := matchSig.GetValue(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	st := setSig.Set(ctx, value, opts.SetTimeout)

	if match(current) {
		cancel()
		if opts.WaitForSetCompletion {
			if err := st.Wait(ctx); err != nil {
				return st, err
			}
		}
		return st, nil
	}

	matched := make(chan error, 1)
	go func() {
		defer cancel()
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		for {
			select {
			case reading, ok := <-ch:
				if !ok {
					matched <- errors.WrapCancelled(errors.ErrCancelled, matchSig.Name(), "SetAndWait", "observe")
					return
				}
				if match(reading.Value) {
					matched <- nil
					return
				}
			case <-deadline.C:
				matched <- errors.WrapTimeout(
					fmt.Errorf("%w after %s waiting on %s", errors.ErrTimeout, timeout, matchSig.Name()),
					setSig.Name(), "SetAndWait", "wait for match")
				return
			case <-ctx.Done():
				matched <- errors.WrapCancelled(errors.ErrCancelled, setSig.Name(), "SetAndWait", "wait for match")
				return
			}
		}
	}()

	if opts.WaitForSetCompletion {
		if err := st.Wait(ctx); err != nil {
			return st, err
		}
	}
	if err := <-matched; err != nil {
		return st, err
	}
	return st, nil
}
