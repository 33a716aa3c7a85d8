package luci

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/asnowfix/luci-config/internal/entry"
	"github.com/asnowfix/luci-config/internal/platform"
	rpc "github.com/asnowfix/luci-config/pkg/luci"
	"github.com/go-logr/logr"
)

var ErrNotLoaded = errors.New("entry not loaded")

// Integration sets up and tears down config entries: one Session and its
// switches per entry.
type Integration struct {
	log        logr.Logger
	platform   *platform.Platform
	storage    *entry.Storage
	configDir  string
	clientOpts []rpc.Option
	readOnly   bool

	mu       sync.Mutex
	sessions map[string]*Session
	// unlisten removes the update listener of each set up entry.
	unlisten map[string]func()
}

// NewIntegration returns an integration reading .uci files from
// <configDir>/luci_config.
func NewIntegration(log logr.Logger, p *platform.Platform, storage *entry.Storage, configDir string, opts ...rpc.Option) *Integration {
	return &Integration{
		log:        log.WithName("Integration"),
		platform:   p,
		storage:    storage,
		configDir:  configDir,
		clientOpts: opts,
		sessions:   make(map[string]*Session),
		unlisten:   make(map[string]func()),
	}
}

// ReadOnly keeps setup from writing entries back to storage. Processes that do
// not own the entries use it, so pending options are left for the daemon.
func (i *Integration) ReadOnly() *Integration {
	i.readOnly = true
	return i
}

func (i *Integration) DefinitionsDir() string {
	return filepath.Join(i.configDir, Domain)
}

func (i *Integration) Platform() *platform.Platform {
	return i.platform
}

// SetupAll sets up every stored entry. Entries that fail are logged and
// skipped.
func (i *Integration) SetupAll(ctx context.Context) (int, error) {
	entries, err := i.storage.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if err := i.SetupEntry(ctx, e); err != nil {
			i.log.Error(err, "Failed to set up entry", "entry_id", e.ID)
			continue
		}
		n++
	}
	return n, nil
}

// SetupEntry connects to the router of e, loads the custom switch definitions,
// enumerates VPN instances and firewall rules and attaches all of them to the
// platform.
func (i *Integration) SetupEntry(ctx context.Context, e *entry.Entry) error {
	log := i.log.WithValues("entry_id", e.ID)

	i.mu.Lock()
	if unlisten, ok := i.unlisten[e.ID]; ok {
		unlisten()
		delete(i.unlisten, e.ID)
	}
	i.mu.Unlock()

	data := entry.Merge(e)
	if !i.readOnly && e.Fold() {
		if err := i.storage.UpdateQuiet(ctx, e); err != nil {
			return err
		}
	}
	cfg, err := entry.Decode(data)
	if err != nil {
		return err
	}

	dir := i.DefinitionsDir()
	log.Info("Initializing luci config platform", "dir", dir, "host", cfg.Host)

	i.mu.Lock()
	i.unlisten[e.ID] = i.storage.AddUpdateListener(e.ID, i.onUpdate)
	i.mu.Unlock()

	var session *Session
	err = i.platform.Executor().Run(ctx, func(ctx context.Context) error {
		var err error
		session, err = NewSession(ctx, log, cfg, i.clientOpts...)
		return err
	})
	if err != nil {
		return err
	}

	n, err := session.Configs.LoadDir(log, dir)
	if err != nil {
		log.Error(err, "Failed to list uci files", "dir", dir)
	}
	log.V(1).Info("Loaded uci files", "count", n)

	if err := i.platform.Executor().Run(ctx, session.Enumerate); err != nil {
		return err
	}

	i.mu.Lock()
	i.sessions[e.ID] = session
	i.mu.Unlock()

	err = i.platform.AddEntities(ctx, e.ID, session.Entities(), platform.AddOptions{
		UpdateBeforeAdd: true,
		Interval:        cfg.PollInterval(),
		Signal:          SignalStateUpdated,
	})
	if err != nil {
		return err
	}

	i.platform.Dispatcher().Send(ctx, SignalStateUpdated)
	return nil
}

// Sync brings the loaded entries in line with storage: new entries are set up,
// entries with pending options are reloaded and deleted ones are unloaded.
func (i *Integration) Sync(ctx context.Context) error {
	entries, err := i.storage.List(ctx)
	if err != nil {
		return err
	}
	stored := make(map[string]bool, len(entries))
	for _, e := range entries {
		stored[e.ID] = true
		_, loaded := i.Session(e.ID)
		switch {
		case !loaded:
			err = i.SetupEntry(ctx, e)
		case len(e.Options) > 0:
			err = i.Reload(ctx, e.ID)
		default:
			continue
		}
		if err != nil {
			i.log.Error(err, "Failed to sync entry", "entry_id", e.ID)
		}
	}

	i.mu.Lock()
	gone := make([]string, 0)
	for id := range i.sessions {
		if !stored[id] {
			gone = append(gone, id)
		}
	}
	i.mu.Unlock()
	for _, id := range gone {
		_ = i.UnloadEntry(ctx, id)
	}
	return nil
}

func (i *Integration) onUpdate(ctx context.Context, e *entry.Entry) {
	if err := i.Reload(ctx, e.ID); err != nil {
		i.log.Error(err, "Failed to reload entry", "entry_id", e.ID)
	}
}

// UnloadEntry detaches the switches of an entry, withdraws them and drops its
// session.
func (i *Integration) UnloadEntry(ctx context.Context, id string) error {
	return i.unload(ctx, id, true)
}

func (i *Integration) unload(ctx context.Context, id string, withdraw bool) error {
	i.log.Info("Unloading luci_config", "entry_id", id, "withdraw", withdraw)

	i.mu.Lock()
	_, ok := i.sessions[id]
	delete(i.sessions, id)
	if unlisten, found := i.unlisten[id]; found {
		unlisten()
		delete(i.unlisten, id)
	}
	i.mu.Unlock()

	if withdraw {
		i.platform.RemoveGroup(ctx, id)
	} else {
		i.platform.DetachGroup(ctx, id)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLoaded, id)
	}
	return nil
}

// Reload unloads the entry and sets it up again from storage.
func (i *Integration) Reload(ctx context.Context, id string) error {
	if err := i.UnloadEntry(ctx, id); err != nil && !errors.Is(err, ErrNotLoaded) {
		return err
	}
	e, err := i.storage.Get(ctx, id)
	if err != nil {
		return err
	}
	return i.SetupEntry(ctx, e)
}

func (i *Integration) Session(id string) (*Session, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.sessions[id]
	return s, ok
}

// Close stops every entry. Switches stay announced.
func (i *Integration) Close(ctx context.Context) {
	i.mu.Lock()
	ids := make([]string, 0, len(i.sessions))
	for id := range i.sessions {
		ids = append(ids, id)
	}
	i.mu.Unlock()
	for _, id := range ids {
		_ = i.unload(ctx, id, false)
	}
}

// CheckConnection logs in to the router of cfg within ConnectTimeout.
func CheckConnection(ctx context.Context, log logr.Logger, cfg entry.Config, opts ...rpc.Option) error {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := NewSession(ctx, log, cfg, opts...)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("connect to %s: %w", cfg.Host, ctx.Err())
	}
}
