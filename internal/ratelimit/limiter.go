package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"messaging-service/internal/clock"
)

// Kind names a rate-limited action.
type Kind string

const (
	KindConnection Kind = "connection"
	KindMessage    Kind = "message"
	KindTyping     Kind = "typing"
)

type window struct {
	start time.Time
	count int
}

// Limiter keeps fixed-window counters keyed by action kind and user id.
// Counters are shared by all connections of a user.
type Limiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	limits  map[Kind]int
	windows map[string]*window

	stop chan struct{}
	done chan struct{}
}

// New constructs a Limiter. limits maps each kind to its ceiling per window;
// kinds without a limit are never throttled.
func New(clk clock.Clock, windowSize time.Duration, limits map[Kind]int) *Limiter {
	if clk == nil {
		clk = clock.Real()
	}
	return &Limiter{
		clock:   clk,
		window:  windowSize,
		limits:  limits,
		windows: make(map[string]*window),
	}
}

// Allow records one attempt of kind by userID and reports whether it is within the limit.
func (l *Limiter) Allow(kind Kind, userID int64) bool {
	max, ok := l.limits[kind]
	if !ok {
		return true
	}
	key := string(kind) + ":" + strconv.FormatInt(userID, 10)
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[key] = &window{start: now, count: 1}
		return true
	}
	if w.count >= max {
		return false
	}
	w.count++
	return true
}

// Sweep drops windows that have elapsed and returns how many were removed.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of live windows.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Sweeper evicts expired state and reports how many entries it removed.
type Sweeper interface {
	Sweep() int
}

// Start sweeps expired windows, and the state of every extra sweeper, each
// interval until Stop is called or ctx ends.
func (l *Limiter) Start(ctx context.Context, interval time.Duration, extra ...Sweeper) {
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
				for _, s := range extra {
					s.Sweep()
				}
			case <-l.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the sweeper started by Start.
func (l *Limiter) Stop() {
	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop = nil
}
