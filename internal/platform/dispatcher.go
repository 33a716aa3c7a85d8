package platform

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// Dispatcher is a synchronous signal bus. Observers are called in the order
// they connected.
type Dispatcher struct {
	log       logr.Logger
	mu        sync.Mutex
	next      uint64
	observers map[string][]subscription
}

type subscription struct {
	id       uint64
	observer Observer
}

func NewDispatcher(log logr.Logger) *Dispatcher {
	return &Dispatcher{
		log:       log.WithName("Dispatcher"),
		observers: make(map[string][]subscription),
	}
}

// Connect registers o for signal and returns the function disconnecting it.
func (d *Dispatcher) Connect(signal string, o Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	id := d.next
	d.observers[signal] = append(d.observers[signal], subscription{id: id, observer: o})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		subs := d.observers[signal]
		for i, s := range subs {
			if s.id == id {
				d.observers[signal] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Send calls every observer of signal.
func (d *Dispatcher) Send(ctx context.Context, signal string) {
	d.mu.Lock()
	subs := make([]subscription, len(d.observers[signal]))
	copy(subs, d.observers[signal])
	d.mu.Unlock()

	d.log.V(1).Info("Sending signal", "signal", signal, "observers", len(subs))
	for _, s := range subs {
		s.observer.OnSignal(ctx, signal)
	}
}

func (d *Dispatcher) Observers(signal string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers[signal])
}
