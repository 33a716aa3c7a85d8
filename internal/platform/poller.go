package platform

import (
	"context"
	"sync"
	"time"

	"github.com/asnowfix/luci-config/hlog"
	"github.com/go-logr/logr"
)

// Poller refreshes each polled entity on its own ticker. Polls of one entity
// never overlap.
type Poller struct {
	log    logr.Logger
	exec   *Executor
	writer StateWriter

	mu      sync.Mutex
	entries map[string]*pollEntry
	wg      sync.WaitGroup
}

type pollEntry struct {
	mu     sync.Mutex // serializes refreshes of one entity
	cancel context.CancelFunc
}

func NewPoller(log logr.Logger, exec *Executor, writer StateWriter) *Poller {
	return &Poller{
		log:     log.WithName("Poller"),
		exec:    exec,
		writer:  writer,
		entries: make(map[string]*pollEntry),
	}
}

// Add tracks e. Entities that do not poll are only refreshed on demand.
func (p *Poller) Add(ctx context.Context, e Entity, interval time.Duration) {
	id := e.UniqueID()
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	if old, ok := p.entries[id]; ok {
		old.cancel()
	}
	pe := &pollEntry{cancel: cancel}
	p.entries[id] = pe
	p.mu.Unlock()

	if !e.ShouldPoll() || interval <= 0 {
		return
	}

	p.wg.Add(1)
	go func(log logr.Logger) {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.V(1).Info("Polling", "interval", interval)
		for {
			select {
			case <-ctx.Done():
				log.V(1).Info("Stopped polling")
				return
			case <-ticker.C:
				if err := p.refresh(ctx, pe, e, true); err != nil {
					hlog.ErrorIfNotCanceled(log, err, "Poll failed")
				}
			}
		}
	}(p.log.WithValues("entity", id))
}

// Refresh updates e when it is pollable, then writes its state.
func (p *Poller) Refresh(ctx context.Context, e Entity) error {
	p.mu.Lock()
	pe, ok := p.entries[e.UniqueID()]
	p.mu.Unlock()
	if !ok {
		pe = &pollEntry{}
	}
	return p.refresh(ctx, pe, e, true)
}

// Write writes the current state of e without updating it.
func (p *Poller) Write(ctx context.Context, e Entity) error {
	return p.refresh(ctx, &pollEntry{}, e, false)
}

func (p *Poller) refresh(ctx context.Context, pe *pollEntry, e Entity, update bool) error {
	pe.mu.Lock()
	defer pe.mu.Unlock()

	if pollable, ok := e.(Pollable); ok && update {
		if err := p.exec.Run(ctx, pollable.Update); err != nil {
			return err
		}
	}
	if p.writer == nil {
		return nil
	}
	return p.writer.WriteState(ctx, e)
}

func (p *Poller) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pe, ok := p.entries[id]; ok {
		pe.cancel()
		delete(p.entries, id)
	}
}

func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Stop cancels every poll loop and waits for them to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	for id, pe := range p.entries {
		pe.cancel()
		delete(p.entries, id)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
