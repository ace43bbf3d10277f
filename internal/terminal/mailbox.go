package terminal

import "sync"

// mailbox holds the single result of one payment attempt. The first offer
// wins; every later offer, and any offer after seal, is rejected.
type mailbox struct {
	mu     sync.Mutex
	sealed bool
	ch     chan Result
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan Result, 1)}
}

func (m *mailbox) offer(r Result) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return false
	}
	m.sealed = true
	m.ch <- r
	return true
}

func (m *mailbox) seal() {
	m.mu.Lock()
	m.sealed = true
	m.mu.Unlock()
}

func (m *mailbox) results() <-chan Result {
	return m.ch
}
