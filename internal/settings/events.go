package settings

import (
	"sync"

	"github.com/google/uuid"
)

// VisibilityChanged is dispatched when the panel flag actually changes value.
type VisibilityChanged struct {
	Old bool
	New bool
}

// Closing reports a Visible -> Hidden transition.
func (e VisibilityChanged) Closing() bool {
	return e.Old && !e.New
}

type Listener interface {
	OnVisibilityChanged(VisibilityChanged)
}

type ListenerFunc func(VisibilityChanged)

func (f ListenerFunc) OnVisibilityChanged(e VisibilityChanged) {
	f(e)
}

type subscriber struct {
	id       string
	listener Listener
}

// listenerSet keeps listeners in subscription order.
type listenerSet struct {
	mu   sync.RWMutex
	subs []subscriber
}

func (l *listenerSet) add(listener Listener) string {
	id := uuid.NewString()
	l.mu.Lock()
	l.subs = append(l.subs, subscriber{id: id, listener: listener})
	l.mu.Unlock()
	return id
}

func (l *listenerSet) remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, sub := range l.subs {
		if sub.id == id {
			l.subs = append(l.subs[:i:i], l.subs[i+1:]...)
			return true
		}
	}
	return false
}

// dispatch calls every listener on the caller's goroutine. The lock is not
// held during calls so listeners may subscribe or unsubscribe.
func (l *listenerSet) dispatch(e VisibilityChanged) {
	l.mu.RLock()
	targets := make([]Listener, 0, len(l.subs))
	for _, sub := range l.subs {
		targets = append(targets, sub.listener)
	}
	l.mu.RUnlock()

	for _, target := range targets {
		target.OnVisibilityChanged(e)
	}
}

func (l *listenerSet) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subs)
}
