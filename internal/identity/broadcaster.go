package identity

import (
	"slices"
	"sync"
)

// broadcaster fans identity changes out to listeners in emission order.
type broadcaster struct {
	dispatchMutex sync.Mutex
	mutex         sync.Mutex
	listeners     map[uint64]Listener
	nextID        uint64
}

func newBroadcaster() *broadcaster {
	return &broadcaster{listeners: make(map[uint64]Listener)}
}

// subscribe registers the listener and hands it the current identity before any later change.
func (hub *broadcaster) subscribe(listener Listener, current func() *Identity) func() {
	hub.dispatchMutex.Lock()
	defer hub.dispatchMutex.Unlock()

	hub.mutex.Lock()
	hub.nextID++
	listenerID := hub.nextID
	hub.listeners[listenerID] = listener
	hub.mutex.Unlock()

	listener(current().Clone())

	var once sync.Once
	return func() {
		once.Do(func() {
			hub.mutex.Lock()
			delete(hub.listeners, listenerID)
			hub.mutex.Unlock()
		})
	}
}

// publish applies a state change and delivers the resulting identity while holding the
// dispatch lock, so concurrent changes reach listeners in the order they were applied.
func (hub *broadcaster) publish(apply func() *Identity) {
	hub.publishIf(func() (*Identity, bool) {
		return apply(), true
	})
}

// publishIf is publish for conditional changes: nothing is delivered when apply reports
// that it changed nothing.
func (hub *broadcaster) publishIf(apply func() (*Identity, bool)) {
	hub.dispatchMutex.Lock()
	defer hub.dispatchMutex.Unlock()

	current, changed := apply()
	if !changed {
		return
	}
	for _, listener := range hub.snapshot() {
		listener(current.Clone())
	}
}

func (hub *broadcaster) snapshot() []Listener {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	ids := make([]uint64, 0, len(hub.listeners))
	for listenerID := range hub.listeners {
		ids = append(ids, listenerID)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, listenerID := range ids {
		listeners = append(listeners, hub.listeners[listenerID])
	}
	return listeners
}
