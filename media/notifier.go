package media

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// flushTimeout bounds how long close waits for queued messages to reach the
// callback. A callback that is still busy afterwards keeps its goroutine.
const flushTimeout = 250 * time.Millisecond

// ProgressFunc receives human-readable progress messages.
type ProgressFunc func(message string)

// notifier delivers progress messages on its own goroutine so a slow or
// panicking callback never stalls the poll loop. Enqueue never blocks and
// never drops.
type notifier struct {
	fn     ProgressFunc
	logger *zap.Logger

	mu     sync.Mutex
	queue  []string
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newNotifier(fn ProgressFunc, logger *zap.Logger) *notifier {
	n := &notifier{
		fn:     fn,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if fn == nil {
		close(n.done)
		return n
	}
	go n.run()
	return n
}

func (n *notifier) notify(msg string) {
	if n.fn == nil {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, msg)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// close stops accepting messages and waits for the queue to drain, at most
// flushTimeout or until ctx is done. Messages still queued after that are
// delivered in the background.
func (n *notifier) close(ctx context.Context) {
	if n.fn == nil {
		return
	}
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		select {
		case n.wake <- struct{}{}:
		default:
		}
	}
	n.mu.Unlock()

	timer := time.NewTimer(flushTimeout)
	defer timer.Stop()
	select {
	case <-n.done:
	case <-timer.C:
		n.logger.Warn("progress callback still busy, not waiting for it")
	case <-ctx.Done():
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for range n.wake {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		closed := n.closed
		n.mu.Unlock()

		for _, msg := range batch {
			n.deliver(msg)
		}
		if closed {
			return
		}
	}
}

func (n *notifier) deliver(msg string) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("progress callback panicked", zap.Any("panic", r))
		}
	}()
	n.fn(msg)
}
