// Package status carries indicator and message updates from the sync loops
// to whatever renders them.
package status

import "sync"

type Kind string

const (
	// KindBusy shows the working indicator.
	KindBusy Kind = "busy"
	// KindIdle hides the working indicator.
	KindIdle Kind = "idle"
	// KindMessage replaces the status line text.
	KindMessage Kind = "message"
	// KindAutosaveAvailable reveals the "restore autosave" option.
	KindAutosaveAvailable Kind = "autosave_available"
	// KindAutosaveHidden hides the "restore autosave" option.
	KindAutosaveHidden Kind = "autosave_hidden"
	// KindPending marks reordered lists as waiting to be saved.
	KindPending Kind = "pending"
	// KindError reports a failure the user should see.
	KindError Kind = "error"
)

type Event struct {
	Source  string
	Kind    Kind
	Message string
}

type Listener interface {
	Notify(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) Notify(e Event) { f(e) }

// Bus fans events out to subscribed listeners in subscription order.
// A nil *Bus drops everything.
type Bus struct {
	mu        sync.Mutex
	nextID    int
	listeners []subscription
}

type subscription struct {
	id       int
	listener Listener
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, subscription{id: id, listener: l})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.listeners {
			if sub.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	listeners := make([]Listener, len(b.listeners))
	for i, sub := range b.listeners {
		listeners[i] = sub.listener
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l.Notify(e)
	}
}

// Recorder is a Listener that keeps every event it sees.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent event of the given kind.
func (r *Recorder) Last(kind Kind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return Event{}, false
}
