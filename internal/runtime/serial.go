package runtime

import (
	"context"
	"sync"
)

// Serial is a channel-backed mailbox: a single goroutine drains queued turns
// so operations on one actor key never overlap. Used by the exclusive
// turn-based actors (stock, product), which complete each call's body before
// starting the next.
type Serial struct {
	ch      chan func()
	closeMu sync.Mutex
	closed  bool
}

// NewSerial starts the mailbox goroutine. Buffer bounds how many turns may
// queue before senders block.
func NewSerial(buffer int) *Serial {
	s := &Serial{ch: make(chan func(), buffer)}
	go func() {
		for fn := range s.ch {
			fn()
		}
	}()
	return s
}

// Do enqueues fn and waits for it to complete. Once enqueued the turn always
// runs to completion; cancellation only applies while waiting for a mailbox
// slot.
func (s *Serial) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	turn := func() {
		defer close(done)
		fn()
	}
	select {
	case s.ch <- turn:
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Close stops the mailbox. Pending turns still run; Do after Close panics,
// matching send-on-closed-channel semantics.
func (s *Serial) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
