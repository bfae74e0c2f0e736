package engine

import (
	"context"
	"sync"
)

// ConcurrencyLimits caps how many jobs run at once. Zero means unlimited
// at that level.
type ConcurrencyLimits struct {
	Global    int `yaml:"global"`
	PerSource int `yaml:"per_source"`
}

// limiter holds counting semaphores at two levels: global and per source.
// Jobs over the limit stay pending until a slot frees up.
type limiter struct {
	global    chan struct{}
	perSource map[string]chan struct{}
	mu        sync.Mutex
	limits    ConcurrencyLimits
}

func newLimiter(limits ConcurrencyLimits) *limiter {
	l := &limiter{perSource: make(map[string]chan struct{}), limits: limits}
	if limits.Global > 0 {
		l.global = make(chan struct{}, limits.Global)
	}
	return l
}

// Acquire blocks until both slots are available or ctx is done.
func (l *limiter) Acquire(ctx context.Context, sourceID string) error {
	if l.global != nil {
		select {
		case l.global <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if ch := l.sourceChan(sourceID); ch != nil {
		select {
		case ch <- struct{}{}:
		case <-ctx.Done():
			if l.global != nil {
				<-l.global
			}
			return ctx.Err()
		}
	}
	return nil
}

func (l *limiter) Release(sourceID string) {
	if ch := l.sourceChan(sourceID); ch != nil {
		select {
		case <-ch:
		default:
		}
	}
	if l.global != nil {
		select {
		case <-l.global:
		default:
		}
	}
}

func (l *limiter) sourceChan(sourceID string) chan struct{} {
	if l.limits.PerSource <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.perSource[sourceID]
	if !ok {
		ch = make(chan struct{}, l.limits.PerSource)
		l.perSource[sourceID] = ch
	}
	return ch
}
