package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Platform owns the executor, the dispatcher and the poller shared by every
// integration entry.
type Platform struct {
	log        logr.Logger
	exec       *Executor
	dispatcher *Dispatcher
	poller     *Poller
	writer     StateWriter

	mu       sync.Mutex
	entities map[string]*attached
}

type attached struct {
	entity     Entity
	group      string
	disconnect func()
}

// AddOptions controls how entities are attached.
type AddOptions struct {
	// UpdateBeforeAdd refreshes pollable entities before they are announced.
	UpdateBeforeAdd bool
	// Interval between polls; zero disables polling.
	Interval time.Duration
	// Signal, when set, makes the entity write its state whenever it is sent.
	Signal string
}

func New(log logr.Logger, writer StateWriter, workers int) *Platform {
	log = log.WithName("Platform")
	exec := NewExecutor(log, workers)
	return &Platform{
		log:        log,
		exec:       exec,
		dispatcher: NewDispatcher(log),
		poller:     NewPoller(log, exec, writer),
		writer:     writer,
		entities:   make(map[string]*attached),
	}
}

func (p *Platform) Executor() *Executor {
	return p.exec
}

func (p *Platform) Dispatcher() *Dispatcher {
	return p.dispatcher
}

// AddEntities attaches entities under group (typically a config entry id).
func (p *Platform) AddEntities(ctx context.Context, group string, entities []Entity, opts AddOptions) error {
	for _, e := range entities {
		id := e.UniqueID()
		log := p.log.WithValues("entity", id, "group", group)

		p.mu.Lock()
		_, exists := p.entities[id]
		p.mu.Unlock()
		if exists {
			log.Info("Entity already attached, skipping")
			continue
		}

		if pollable, ok := e.(Pollable); ok && opts.UpdateBeforeAdd {
			if err := p.exec.Run(ctx, pollable.Update); err != nil {
				log.Error(err, "Initial update failed")
			}
		}

		if a, ok := p.writer.(Announcer); ok {
			if err := a.Announce(ctx, e); err != nil {
				return fmt.Errorf("announce %s: %w", id, err)
			}
		}

		at := &attached{entity: e, group: group, disconnect: func() {}}
		if opts.Signal != "" {
			entity := e
			at.disconnect = p.dispatcher.Connect(opts.Signal, ObserverFunc(func(ctx context.Context, signal string) {
				if err := p.poller.Write(ctx, entity); err != nil {
					p.log.Error(err, "Failed to write state", "entity", entity.UniqueID(), "signal", signal)
				}
			}))
		}

		p.mu.Lock()
		p.entities[id] = at
		p.mu.Unlock()

		p.poller.Add(ctx, e, opts.Interval)
		if err := p.poller.Write(ctx, e); err != nil {
			log.Error(err, "Failed to write initial state")
		}
		log.V(1).Info("Attached", "name", e.Name())
	}
	return nil
}

// RemoveGroup detaches every entity of group and withdraws it from the state
// writer.
func (p *Platform) RemoveGroup(ctx context.Context, group string) int {
	return p.removeGroup(ctx, group, true)
}

// DetachGroup stops polling the entities of group without withdrawing them,
// so that they are still known to the state writer on the next start.
func (p *Platform) DetachGroup(ctx context.Context, group string) int {
	return p.removeGroup(ctx, group, false)
}

func (p *Platform) removeGroup(ctx context.Context, group string, withdraw bool) int {
	p.mu.Lock()
	removed := make([]*attached, 0)
	for id, at := range p.entities {
		if at.group == group {
			removed = append(removed, at)
			delete(p.entities, id)
		}
	}
	p.mu.Unlock()

	for _, at := range removed {
		id := at.entity.UniqueID()
		p.poller.Remove(id)
		at.disconnect()
		if !withdraw {
			continue
		}
		if a, ok := p.writer.(Announcer); ok {
			if err := a.Withdraw(ctx, at.entity); err != nil {
				p.log.Error(err, "Failed to withdraw entity", "entity", id)
			}
		}
	}
	p.log.V(1).Info("Removed group", "group", group, "count", len(removed), "withdraw", withdraw)
	return len(removed)
}

func (p *Platform) Entity(id string) (Entity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.entities[id]
	if !ok {
		return nil, false
	}
	return at.entity, true
}

// Entities returns the entities of group (all when group is empty) sorted by id.
func (p *Platform) Entities(group string) []Entity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entity, 0, len(p.entities))
	for _, at := range p.entities {
		if group == "" || at.group == group {
			out = append(out, at.entity)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UniqueID() < out[j].UniqueID()
	})
	return out
}

// Command turns a switch on or off on the executor, then refreshes it. Turning
// off a one-way switch only writes its current state.
func (p *Platform) Command(ctx context.Context, id string, on bool) error {
	e, ok := p.Entity(id)
	if !ok {
		return fmt.Errorf("unknown entity %s", id)
	}
	sw, ok := e.(Switch)
	if !ok {
		return fmt.Errorf("entity %s is not a switch", id)
	}
	action := sw.TurnOff
	if on {
		action = sw.TurnOn
	}
	if err := p.exec.Run(ctx, action); err != nil {
		return err
	}
	if ow, ok := e.(OneWay); ok && ow.OneWay() && !on {
		return p.poller.Write(ctx, e)
	}
	return p.poller.Refresh(ctx, e)
}

// Refresh forces an update of the entity and writes its state.
func (p *Platform) Refresh(ctx context.Context, id string) error {
	e, ok := p.Entity(id)
	if !ok {
		return fmt.Errorf("unknown entity %s", id)
	}
	return p.poller.Refresh(ctx, e)
}

// Close stops polling and the workers.
func (p *Platform) Close() {
	p.poller.Stop()
	p.exec.Close()
}
