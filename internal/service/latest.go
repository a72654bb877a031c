package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSuperseded is returned by Latest.Do when a later call started before
// this one finished.
var ErrSuperseded = errors.New("service: superseded by a newer request")

// Latest runs a sequence of calls where only the most recently started one
// may deliver a result, e.g. search-as-you-type. Starting a call cancels
// the context of the previous one. With Debounce set, each call first
// waits that long and is dropped without any request if a newer call
// arrives meanwhile.
//
// The zero value is ready to use; a Latest must not be copied.
type Latest[T any] struct {
	Debounce time.Duration

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// Do runs fn with a context that is cancelled as soon as a newer Do
// starts. A superseded call returns ErrSuperseded whatever fn returned.
func (l *Latest[T]) Do(ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	seq, ctx, cancel := l.begin(ctx)
	return l.run(ctx, seq, cancel, fn)
}

// Go is Do on a new goroutine, with the result handed to done. The call is
// registered before Go returns, so calls started one after another keep
// their order even though they run concurrently.
func (l *Latest[T]) Go(ctx context.Context, fn func(ctx context.Context) (T, error), done func(T, error)) {
	seq, ctx, cancel := l.begin(ctx)
	go func() {
		done(l.run(ctx, seq, cancel, fn))
	}()
}

// begin supersedes the running call and registers a new one.
func (l *Latest[T]) begin(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	l.seq++
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	return l.seq, ctx, cancel
}

func (l *Latest[T]) run(ctx context.Context, seq uint64, cancel context.CancelFunc, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	defer cancel()

	if l.Debounce > 0 {
		timer := time.NewTimer(l.Debounce)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			if l.stale(seq) {
				return zero, ErrSuperseded
			}
			return zero, ctx.Err()
		}
	}

	v, err := fn(ctx)
	if l.stale(seq) {
		return zero, ErrSuperseded
	}
	return v, err
}

func (l *Latest[T]) stale(seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return seq != l.seq
}
