package engine

import "sync"

// Notifier wakes waiters whenever any export changes state.
//
// Close-and-replace pattern: listeners call Wait() to get the current
// channel, then block on it. Every Signal closes the old channel and
// replaces it with a new one.
type Notifier struct {
	mu     sync.Mutex
	notify chan struct{}
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{notify: make(chan struct{})}
}

// Wait returns a channel that will be closed when the next update occurs.
// Take the channel before reading state so no update is missed.
func (n *Notifier) Wait() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.notify
}

// Signal wakes every current waiter.
func (n *Notifier) Signal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	close(n.notify)
	n.notify = make(chan struct{})
}
