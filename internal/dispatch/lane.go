// Package dispatch delivers connection notifications on serial lanes.
//
// Every connection is bound to exactly one lane, so its notifications run
// one at a time and in the order they were queued. Progress notifications
// are coalesced: while a progress event for a key is still waiting, further
// progress events for that key are dropped. Terminal events are never
// dropped.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/meigma/conncall/core"
)

// Kind distinguishes repeatable progress events from terminal events.
type Kind int

const (
	// KindProgress events may be coalesced.
	KindProgress Kind = iota
	// KindTerminal events are always delivered.
	KindTerminal
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	if k == KindTerminal {
		return "terminal"
	}
	return "progress"
}

// Observer receives delivery events. Implementations must be cheap.
type Observer interface {
	ProgressCoalesced()
	HandlerPanicked(kind string)
}

type nopObserver struct{}

func (nopObserver) ProgressCoalesced()     {}
func (nopObserver) HandlerPanicked(string) {}

type event struct {
	key  string
	kind Kind
	fn   func()
}

// Lane runs queued notifications on a single goroutine.
type Lane struct {
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	queue   []event
	pending map[string]struct{}
	closed  bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLane starts a lane. A nil observer discards delivery events.
func NewLane(logger *slog.Logger, observer Observer) *Lane {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if observer == nil {
		observer = nopObserver{}
	}
	l := &Lane{
		logger:   logger,
		observer: observer,
		pending:  make(map[string]struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

// Dispatch queues fn for key. It never blocks on handler execution.
// Returns core.ErrClosed once the lane is closed.
func (l *Lane) Dispatch(key string, kind Kind, fn func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return core.ErrClosed
	}
	if kind == KindProgress {
		if _, waiting := l.pending[key]; waiting {
			l.mu.Unlock()
			l.observer.ProgressCoalesced()
			return nil
		}
		l.pending[key] = struct{}{}
	}
	l.queue = append(l.queue, event{key: key, kind: kind, fn: fn})
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of queued events.
func (l *Lane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting events, delivers everything already queued and
// waits for the lane goroutine to exit. Calling Close from a handler running
// on this lane deadlocks.
func (l *Lane) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		select {
		case l.wake <- struct{}{}:
		default:
		}
	})
	<-l.done
	return nil
}

func (l *Lane) run() {
	defer close(l.done)
	for {
		ev, ok := l.next()
		if !ok {
			return
		}
		l.invoke(ev)
	}
}

// next blocks until an event is available or the lane is closed and drained.
func (l *Lane) next() (event, bool) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			ev := l.queue[0]
			l.queue[0] = event{}
			l.queue = l.queue[1:]
			if ev.kind == KindProgress {
				delete(l.pending, ev.key)
			}
			l.mu.Unlock()
			return ev, true
		}
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return event{}, false
		}
		<-l.wake
	}
}

func (l *Lane) invoke(ev event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("notification handler panicked",
				"connection", ev.key, "kind", ev.kind.String(), "panic", fmt.Sprint(r))
			l.observer.HandlerPanicked(ev.kind.String())
		}
	}()
	ev.fn()
}
