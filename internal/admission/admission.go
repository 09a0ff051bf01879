// Package admission bounds how much marketplace work runs at once.
//
// Two counting semaphores gate every unit of work: a Global one shared by the
// whole process and a Local one owned by a single tenant worker (or a single
// pipeline wave). Global is always acquired first and released last, so a
// tenant that holds Local tokens can never block other tenants from Global.
package admission

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter is a counting semaphore with a fixed capacity.
type Limiter struct {
	name  string
	cap   int64
	sem   *semaphore.Weighted
	inUse atomic.Int64
}

// NewGlobal creates the process-wide limiter.
func NewGlobal(capacity int) *Limiter {
	return newLimiter("global", capacity)
}

// NewLocal creates a limiter for one tenant worker or wave runner.
func NewLocal(capacity int) *Limiter {
	return newLimiter("local", capacity)
}

func newLimiter(name string, capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		name: name,
		cap:  int64(capacity),
		sem:  semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire blocks until a token is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire %s token: %w", l.name, err)
	}
	l.inUse.Add(1)
	return nil
}

// TryAcquire takes a token only if one is free right now.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inUse.Add(1)
	return true
}

// Release returns a token.
func (l *Limiter) Release() {
	l.inUse.Add(-1)
	l.sem.Release(1)
}

// InUse returns the number of tokens currently held.
func (l *Limiter) InUse() int {
	return int(l.inUse.Load())
}

// Capacity returns the configured number of tokens.
func (l *Limiter) Capacity() int {
	return int(l.cap)
}

// Admit acquires a Global token then a Local token. The returned release
// func gives them back in reverse order and is safe to call more than once.
// If the Local acquire fails the Global token is returned before Admit does.
func Admit(ctx context.Context, global, local *Limiter) (func(), error) {
	if err := global.Acquire(ctx); err != nil {
		return nil, err
	}
	if err := local.Acquire(ctx); err != nil {
		global.Release()
		return nil, err
	}

	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		local.Release()
		global.Release()
	}, nil
}
