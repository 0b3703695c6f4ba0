package stream

import "sync/atomic"

// mailbox is a single-slot buffer: a newer frame replaces an unread one.
// Puts are serialized by the multiplexer lock; one viewer consumes.
type mailbox struct {
	ch    chan []byte
	drops atomic.Uint64
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan []byte, 1)}
}

// put never blocks. Callers must hold the multiplexer lock.
func (m *mailbox) put(frame []byte) {
	select {
	case m.ch <- frame:
		return
	default:
	}
	select {
	case <-m.ch:
		m.drops.Add(1)
	default:
	}
	select {
	case m.ch <- frame:
	default:
	}
}
