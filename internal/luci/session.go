package luci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/asnowfix/luci-config/internal/entry"
	rpc "github.com/asnowfix/luci-config/pkg/luci"
	"github.com/asnowfix/luci-config/pkg/uci"
	"github.com/go-logr/logr"
	"github.com/spf13/cast"
)

// RPC is the router transport used by a Session.
type RPC interface {
	Host() string
	Login(ctx context.Context) error
	RefreshToken(ctx context.Context) error
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}

// Item is a remote section exposed as a switch: an OpenVPN instance or a
// firewall rule. Items are identified by ID.
type Item struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Session is the connection to one router and what was learned from it.
type Session struct {
	Host    string
	Configs *uci.Registry

	rpc     RPC
	log     logr.Logger
	ruleIDs map[string]bool

	mu    sync.RWMutex
	vpn   map[string]*Item
	rules map[string]*Item
}

// NewSession connects to the router described by cfg. A failed login fails
// the session.
func NewSession(ctx context.Context, log logr.Logger, cfg entry.Config, opts ...rpc.Option) (*Session, error) {
	opts = append([]rpc.Option{rpc.WithTLS(cfg.SSL), rpc.WithVerifyTLS(cfg.VerifySSL)}, opts...)
	c, err := rpc.NewClient(log, cfg.Host, cfg.Username, cfg.Password, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Login(ctx); err != nil {
		log.Error(err, "Cannot connect to luci", "host", cfg.Host)
		return nil, fmt.Errorf("connect to %s: %w", cfg.Host, err)
	}
	return newSession(log, c, cfg.Rules()), nil
}

func newSession(log logr.Logger, c RPC, ruleIDs []string) *Session {
	s := &Session{
		Host:    c.Host(),
		Configs: uci.NewRegistry(),
		rpc:     c,
		log:     log.WithName("Session").WithValues("host", c.Host()),
		vpn:     make(map[string]*Item),
		rules:   make(map[string]*Item),
	}
	if len(ruleIDs) > 0 {
		s.ruleIDs = make(map[string]bool, len(ruleIDs))
		for _, id := range ruleIDs {
			s.ruleIDs[id] = true
		}
	}
	return s
}

// Call invokes method on the router. An expired token is refreshed and the
// call retried once with the same parameters; any other error is returned as
// is.
func (s *Session) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	res, err := s.rpc.Call(ctx, method, params...)
	if !errors.Is(err, rpc.ErrInvalidToken) {
		return res, err
	}
	if err := s.rpc.RefreshToken(ctx); err != nil {
		return nil, fmt.Errorf("refresh token for %s: %w", method, err)
	}
	return s.rpc.Call(ctx, method, params...)
}

func toParams(args []string) []any {
	params := make([]any, len(args))
	for i, a := range args {
		params[i] = a
	}
	return params
}

// Get reads the option at path (config, section, option).
func (s *Session) Get(ctx context.Context, path ...string) (string, error) {
	raw, err := s.Call(ctx, "get", toParams(path)...)
	if err != nil {
		return "", err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: get %s: %v", rpc.ErrRPC, strings.Join(path, "."), err)
	}
	return optionString(v), nil
}

// Set writes value at path (config, section, option). The change is staged
// until Commit or Apply.
func (s *Session) Set(ctx context.Context, args ...string) error {
	_, err := s.Call(ctx, "set", toParams(args)...)
	return err
}

func (s *Session) Commit(ctx context.Context, config string) error {
	_, err := s.Call(ctx, "commit", config)
	return err
}

// Apply commits and applies every staged change.
func (s *Session) Apply(ctx context.Context) error {
	_, err := s.Call(ctx, "apply")
	return err
}

// GetAll returns every section of config by name with its options.
func (s *Session) GetAll(ctx context.Context, config string) (map[string]map[string]any, error) {
	raw, err := s.Call(ctx, "get_all", config)
	if err != nil {
		return nil, err
	}
	sections := make(map[string]map[string]any)
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("%w: get_all %s: %v", rpc.ErrRPC, config, err)
	}
	return sections, nil
}

// optionString renders a UCI option; list options are joined with spaces.
func optionString(v any) string {
	if list, ok := v.([]any); ok {
		parts := make([]string, len(list))
		for i, e := range list {
			parts[i] = cast.ToString(e)
		}
		return strings.Join(parts, " ")
	}
	return cast.ToString(v)
}

// Enumerate reads the OpenVPN instances and the firewall sections of the
// router. Known items are updated in place; items that disappeared are kept.
func (s *Session) Enumerate(ctx context.Context) error {
	vpn, err := s.GetAll(ctx, ConfigOpenVPN)
	if err != nil {
		return fmt.Errorf("enumerate %s: %w", ConfigOpenVPN, err)
	}
	firewall, err := s.GetAll(ctx, ConfigFirewall)
	if err != nil {
		return fmt.Errorf("enumerate %s: %w", ConfigFirewall, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, section := range vpn {
		s.upsert(s.vpn, ConfigOpenVPN, key, section, false)
	}
	for key, section := range firewall {
		id := sectionID(key, section)
		if s.ruleIDs != nil && !s.ruleIDs[id] {
			continue
		}
		s.upsert(s.rules, ConfigFirewall, key, section, true)
	}
	return nil
}

func sectionID(key string, section map[string]any) string {
	if id := cast.ToString(section[SectionName]); id != "" {
		return id
	}
	return key
}

func (s *Session) upsert(items map[string]*Item, config, key string, section map[string]any, enabledByDefault bool) {
	id := sectionID(key, section)
	item, ok := items[id]
	if !ok {
		s.log.Info("Found section", "config", config, "id", id)
		item = &Item{}
		items[id] = item
	}
	s.log.V(1).Info("Section", "config", config, "id", id, "options", section)

	item.ID = id
	item.Name = id
	if name, ok := section[OptionName]; ok {
		item.Name = optionString(name)
	}
	item.Enabled = enabledByDefault
	if enabled, ok := section[OptionEnabled]; ok {
		item.Enabled = optionString(enabled) == "1"
	}
}

func sortedItems(items map[string]*Item) []*Item {
	out := make([]*Item, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Session) VPNs() []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedItems(s.vpn)
}

func (s *Session) Rules() []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedItems(s.rules)
}
