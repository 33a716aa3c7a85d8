// Package platform runs switch entities: it polls them on a worker, fans out
// refresh signals and hands their state to a StateWriter.
package platform

import "context"

// Entity is the projection of one tracked configuration object.
type Entity interface {
	UniqueID() string
	Name() string
	Icon() string
	Attributes() map[string]string
	ShouldPoll() bool
	AssumedState() bool
}

type Switch interface {
	Entity
	IsOn() bool
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// OneWay is implemented by switches that can only be turned on. Turning them
// off changes nothing, so no refresh follows it.
type OneWay interface {
	OneWay() bool
}

// Pollable entities refresh their state from the remote side. Update blocks and
// is always run on the executor.
type Pollable interface {
	Update(ctx context.Context) error
}

// Observer receives broadcast signals sent through the Dispatcher.
type Observer interface {
	OnSignal(ctx context.Context, signal string)
}

// StateWriter publishes the current state of an entity.
type StateWriter interface {
	WriteState(ctx context.Context, e Entity) error
}

// Announcer is implemented by state writers that need to know when entities
// come and go.
type Announcer interface {
	Announce(ctx context.Context, e Entity) error
	Withdraw(ctx context.Context, e Entity) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, signal string)

func (f ObserverFunc) OnSignal(ctx context.Context, signal string) {
	f(ctx, signal)
}
