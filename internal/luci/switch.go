package luci

import (
	"context"
	"errors"
	"sync"

	"github.com/asnowfix/luci-config/internal/platform"
	rpc "github.com/asnowfix/luci-config/pkg/luci"
	"github.com/asnowfix/luci-config/pkg/uci"
	"github.com/go-logr/logr"
)

type entity struct {
	session *Session
	key     string
	log     logr.Logger

	mu sync.RWMutex
	on bool
}

func newEntity(s *Session, key string) *entity {
	s.log.V(1).Info("New entity", "key", key)
	return &entity{session: s, key: key, log: s.log.WithValues("switch", key)}
}

func (e *entity) UniqueID() string {
	return e.session.Host + "_" + e.key
}

func (e *entity) ShouldPoll() bool   { return true }
func (e *entity) AssumedState() bool { return false }

func (e *entity) Attributes() map[string]string {
	return nil
}

func (e *entity) IsOn() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.on
}

func (e *entity) setOn(on bool) {
	e.mu.Lock()
	e.on = on
	e.mu.Unlock()
}

// ConfigSwitch is a custom switch declared in a .uci file. It is on when every
// test key holds its declared value. Turning it on writes all the declared
// values; turning it off does nothing.
type ConfigSwitch struct {
	*entity
	def *uci.Definition
}

func NewConfigSwitch(s *Session, def *uci.Definition) *ConfigSwitch {
	return &ConfigSwitch{entity: newEntity(s, def.Name), def: def}
}

func (c *ConfigSwitch) Name() string {
	return c.def.Description
}

func (c *ConfigSwitch) Icon() string {
	return IconConfig
}

func (c *ConfigSwitch) Attributes() map[string]string {
	return map[string]string{"file": c.def.File}
}

func (c *ConfigSwitch) Definition() *uci.Definition {
	return c.def
}

func (c *ConfigSwitch) Update(ctx context.Context) error {
	c.setOn(c.matches(ctx))
	return nil
}

func (c *ConfigSwitch) matches(ctx context.Context) bool {
	for _, key := range c.def.TestKeys {
		expected, ok := c.def.Expected(key)
		if !ok {
			c.log.Error(nil, "Test key is not in uci values", "key", key)
			return false
		}
		value, err := c.session.Get(ctx, uci.SplitPath(key)...)
		if err != nil {
			c.log.V(1).Info("Cannot read test key", "key", key, "error", err.Error())
			return false
		}
		if value == "" {
			c.log.Error(nil, "Cannot get current value", "key", key)
			return false
		}
		c.log.V(1).Info("Read test key", "key", key, "value", value, "expected", expected)
		if value != expected {
			return false
		}
	}
	return true
}

func (c *ConfigSwitch) TurnOn(ctx context.Context) error {
	c.log.V(1).Info("Turning on")
	for _, params := range c.def.Assignments() {
		if err := c.session.Set(ctx, params...); err != nil {
			return err
		}
	}
	return c.session.Apply(ctx)
}

// TurnOff is a no-op: the declared values are one-way actions.
func (c *ConfigSwitch) TurnOff(ctx context.Context) error {
	c.log.V(1).Info("Turn off ignored")
	return nil
}

func (c *ConfigSwitch) OneWay() bool {
	return true
}

// itemSwitch toggles the enabled option of a remote section.
type itemSwitch struct {
	*entity
	config string
	item   *Item
}

func newItemSwitch(s *Session, config string, item *Item) itemSwitch {
	sw := itemSwitch{entity: newEntity(s, item.ID), config: config, item: item}
	sw.on = item.Enabled
	return sw
}

func (i *itemSwitch) Item() Item {
	return *i.item
}

// readEnabled returns the remote enabled option. A missing option is reported
// by the router as a login error and read as assumedEnabled.
func (i *itemSwitch) readEnabled(ctx context.Context) (string, error) {
	value, err := i.session.Get(ctx, i.config, i.item.ID, OptionEnabled)
	if errors.Is(err, rpc.ErrInvalidLogin) {
		return assumedEnabled, nil
	}
	return value, err
}

func (i *itemSwitch) set(ctx context.Context, value string) error {
	i.log.V(1).Info("Setting enabled", "config", i.config, "value", value)
	if err := i.session.Set(ctx, i.config, i.item.ID, OptionEnabled, value); err != nil {
		return err
	}
	return i.session.Commit(ctx, i.config)
}

func (i *itemSwitch) TurnOn(ctx context.Context) error {
	return i.set(ctx, "1")
}

func (i *itemSwitch) TurnOff(ctx context.Context) error {
	return i.set(ctx, "0")
}

// VPNSwitch is an OpenVPN instance, on when enabled is exactly "1".
type VPNSwitch struct {
	itemSwitch
}

func NewVPNSwitch(s *Session, item *Item) *VPNSwitch {
	return &VPNSwitch{itemSwitch: newItemSwitch(s, ConfigOpenVPN, item)}
}

func (v *VPNSwitch) Name() string {
	return v.item.ID + " VPN"
}

func (v *VPNSwitch) Icon() string {
	return IconVPN
}

func (v *VPNSwitch) Update(ctx context.Context) error {
	value, err := v.readEnabled(ctx)
	if err != nil {
		v.setOn(false)
		return nil
	}
	v.setOn(value == "1")
	return nil
}

// RuleSwitch is a firewall section, on unless enabled is exactly "0". This is
// looser than VPNSwitch and kept that way for compatibility.
type RuleSwitch struct {
	itemSwitch
}

func NewRuleSwitch(s *Session, item *Item) *RuleSwitch {
	return &RuleSwitch{itemSwitch: newItemSwitch(s, ConfigFirewall, item)}
}

func (r *RuleSwitch) Name() string {
	return r.item.Name + " Rule"
}

func (r *RuleSwitch) Icon() string {
	return IconRule
}

func (r *RuleSwitch) Update(ctx context.Context) error {
	value, err := r.readEnabled(ctx)
	if err != nil {
		r.log.Error(err, "Cannot update rule", "id", r.item.ID)
		r.setOn(false)
		return nil
	}
	r.setOn(value != "0")
	return nil
}

// Entities returns the switches of s: custom switches by name, then VPN
// instances, then firewall rules.
func (s *Session) Entities() []platform.Entity {
	out := make([]platform.Entity, 0)
	for _, name := range s.Configs.Names() {
		if def, ok := s.Configs.Get(name); ok {
			out = append(out, NewConfigSwitch(s, def))
		}
	}
	for _, item := range s.VPNs() {
		out = append(out, NewVPNSwitch(s, item))
	}
	for _, item := range s.Rules() {
		out = append(out, NewRuleSwitch(s, item))
	}
	return out
}
