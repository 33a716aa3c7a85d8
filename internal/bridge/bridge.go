// Package bridge publishes switches to Home Assistant through MQTT discovery
// and forwards the commands it receives back to them.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/asnowfix/luci-config/internal/mymqtt"
	"github.com/asnowfix/luci-config/internal/platform"
	"github.com/go-logr/logr"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultTopicPrefix     = "luci_config"

	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// Publisher is the MQTT client used by the bridge.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	Subscribe(ctx context.Context, topic string, handler mymqtt.Handler) error
	Unsubscribe(ctx context.Context, topic string) error
}

// Commander runs switch commands; implemented by platform.Platform.
type Commander interface {
	Command(ctx context.Context, id string, on bool) error
}

type Options struct {
	DiscoveryPrefix string
	TopicPrefix     string
	Origin          OriginInfo
}

type Bridge struct {
	ctx  context.Context
	log  logr.Logger
	pub  Publisher
	opts Options
	last *lastPayloads

	mu        sync.Mutex
	commander Commander
	announced map[string]platform.Entity
	wg        sync.WaitGroup
}

var (
	_ platform.StateWriter = (*Bridge)(nil)
	_ platform.Announcer   = (*Bridge)(nil)
	_ platform.Observer    = (*Bridge)(nil)
)

// New returns a bridge publishing through pub. Received commands run with ctx;
// they are dropped until SetCommander is called.
func New(ctx context.Context, log logr.Logger, pub Publisher, opts Options) (*Bridge, error) {
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	last, err := newLastPayloads()
	if err != nil {
		return nil, err
	}
	return &Bridge{
		ctx:       ctx,
		log:       log.WithName("Bridge"),
		pub:       pub,
		opts:      opts,
		last:      last,
		announced: make(map[string]platform.Entity),
	}, nil
}

func (b *Bridge) SetCommander(c Commander) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commander = c
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// ObjectID returns the MQTT-safe form of a unique id.
func ObjectID(uniqueID string) string {
	return unsafeChars.ReplaceAllString(uniqueID, "_")
}

func (b *Bridge) ConfigTopic(e platform.Entity) string {
	return fmt.Sprintf("%s/switch/%s/config", b.opts.DiscoveryPrefix, ObjectID(e.UniqueID()))
}

func (b *Bridge) StateTopic(e platform.Entity) string {
	return fmt.Sprintf("%s/%s/state", b.opts.TopicPrefix, ObjectID(e.UniqueID()))
}

func (b *Bridge) CommandTopic(e platform.Entity) string {
	return fmt.Sprintf("%s/%s/set", b.opts.TopicPrefix, ObjectID(e.UniqueID()))
}

func (b *Bridge) AttributesTopic(e platform.Entity) string {
	return fmt.Sprintf("%s/%s/attributes", b.opts.TopicPrefix, ObjectID(e.UniqueID()))
}

func (b *Bridge) discovery(e platform.Entity) SwitchConfig {
	optimistic := e.AssumedState()
	return SwitchConfig{
		Name:                e.Name(),
		UniqueID:            e.UniqueID(),
		ObjectID:            ObjectID(e.UniqueID()),
		Icon:                e.Icon(),
		StateTopic:          b.StateTopic(e),
		CommandTopic:        b.CommandTopic(e),
		JSONAttributesTopic: b.AttributesTopic(e),
		PayloadOn:           PayloadOn,
		PayloadOff:          PayloadOff,
		StateOn:             PayloadOn,
		StateOff:            PayloadOff,
		Optimistic:          &optimistic,
		QOS:                 1,
		Device: DeviceInfo{
			Identifiers:  []string{b.opts.TopicPrefix},
			Name:         "LuCI config",
			Manufacturer: "OpenWrt",
		},
		Origin: b.opts.Origin,
	}
}

// Announce publishes the discovery config of e and listens to its commands.
func (b *Bridge) Announce(ctx context.Context, e platform.Entity) error {
	payload, err := json.Marshal(b.discovery(e))
	if err != nil {
		return err
	}
	if err := b.pub.Publish(ctx, b.ConfigTopic(e), payload, true); err != nil {
		return err
	}

	id := e.UniqueID()
	err = b.pub.Subscribe(ctx, b.CommandTopic(e), func(topic string, payload []byte) {
		b.onCommand(id, string(payload))
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.announced[id] = e
	b.mu.Unlock()
	b.log.Info("Announced switch", "entity", id, "name", e.Name())
	return nil
}

// Withdraw removes e from Home Assistant.
func (b *Bridge) Withdraw(ctx context.Context, e platform.Entity) error {
	b.mu.Lock()
	delete(b.announced, e.UniqueID())
	b.mu.Unlock()

	if err := b.pub.Unsubscribe(ctx, b.CommandTopic(e)); err != nil {
		b.log.Error(err, "Failed to unsubscribe", "entity", e.UniqueID())
	}
	b.last.forget(b.StateTopic(e))
	b.last.forget(b.AttributesTopic(e))
	return b.pub.Publish(ctx, b.ConfigTopic(e), []byte{}, true)
}

func (b *Bridge) onCommand(id, payload string) {
	var on bool
	switch payload {
	case PayloadOn:
		on = true
	case PayloadOff:
		on = false
	default:
		b.log.Info("Ignoring unknown command", "entity", id, "payload", payload)
		return
	}

	b.mu.Lock()
	c := b.commander
	b.mu.Unlock()
	if c == nil {
		b.log.Info("No commander, dropping command", "entity", id, "payload", payload)
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.log.Info("Command", "entity", id, "on", on)
		if err := c.Command(b.ctx, id, on); err != nil {
			b.log.Error(err, "Command failed", "entity", id, "on", on)
		}
	}()
}

// WriteState publishes the state of e and its attributes, skipping payloads
// identical to the last ones published.
func (b *Bridge) WriteState(ctx context.Context, e platform.Entity) error {
	sw, ok := e.(platform.Switch)
	if !ok {
		return fmt.Errorf("entity %s is not a switch", e.UniqueID())
	}
	state := []byte(PayloadOff)
	if sw.IsOn() {
		state = []byte(PayloadOn)
	}
	if err := b.publishChanged(ctx, b.StateTopic(e), state); err != nil {
		return err
	}

	attrs := e.Attributes()
	if len(attrs) == 0 {
		return nil
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	return b.publishChanged(ctx, b.AttributesTopic(e), payload)
}

func (b *Bridge) publishChanged(ctx context.Context, topic string, payload []byte) error {
	if b.last.same(topic, payload) {
		return nil
	}
	if err := b.pub.Publish(ctx, topic, payload, true); err != nil {
		return err
	}
	b.last.store(topic, payload)
	return nil
}

// OnSignal forgets the published payloads so that the state writes following
// the signal are all published.
func (b *Bridge) OnSignal(ctx context.Context, signal string) {
	b.log.V(1).Info("Republishing on signal", "signal", signal, "announced", b.Len())
	b.last.clear()
}

func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.announced)
}

// Close waits for running commands and releases the cache.
func (b *Bridge) Close() {
	b.wg.Wait()
	b.last.close()
}
