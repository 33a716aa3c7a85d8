package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/asnowfix/luci-config/internal/entry"
	"github.com/asnowfix/luci-config/internal/luci"
	"github.com/asnowfix/luci-config/internal/mymqtt"
	"github.com/asnowfix/luci-config/internal/platform"
	"github.com/asnowfix/luci-config/pkg/luci/lucitest"
	"github.com/asnowfix/luci-config/pkg/uci"
	"github.com/go-logr/logr/testr"
)

type message struct {
	topic    string
	payload  string
	retained bool
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	handlers map[string]mymqtt.Handler
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{handlers: make(map[string]mymqtt.Handler)}
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic, string(payload), retained})
	return nil
}

func (f *fakePublisher) Subscribe(ctx context.Context, topic string, handler mymqtt.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakePublisher) Unsubscribe(ctx context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakePublisher) on(topic string) []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message, 0)
	for _, m := range f.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakePublisher) deliver(topic, payload string) bool {
	f.mu.Lock()
	h, ok := f.handlers[topic]
	f.mu.Unlock()
	if ok {
		h(topic, []byte(payload))
	}
	return ok
}

type fakeSwitch struct {
	id string
	on bool
}

func (s *fakeSwitch) UniqueID() string                  { return s.id }
func (s *fakeSwitch) Name() string                      { return "Guest WiFi" }
func (s *fakeSwitch) Icon() string                      { return "mdi:script-text" }
func (s *fakeSwitch) Attributes() map[string]string     { return map[string]string{"file": "guest.uci"} }
func (s *fakeSwitch) ShouldPoll() bool                  { return true }
func (s *fakeSwitch) AssumedState() bool                { return false }
func (s *fakeSwitch) IsOn() bool                        { return s.on }
func (s *fakeSwitch) TurnOn(ctx context.Context) error  { s.on = true; return nil }
func (s *fakeSwitch) TurnOff(ctx context.Context) error { s.on = false; return nil }

type commands struct {
	mu  sync.Mutex
	got []string
}

func (c *commands) Command(ctx context.Context, id string, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.got = append(c.got, id+"=on")
	} else {
		c.got = append(c.got, id+"=off")
	}
	return nil
}

func newBridge(t *testing.T, pub Publisher) *Bridge {
	t.Helper()
	b, err := New(context.Background(), testr.New(t), pub, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestAnnounce(t *testing.T) {
	pub := newFakePublisher()
	b := newBridge(t, pub)
	defer b.Close()

	sw := &fakeSwitch{id: "192.168.1.1_guest_wifi"}
	if err := b.Announce(context.Background(), sw); err != nil {
		t.Fatal(err)
	}

	msgs := pub.on("homeassistant/switch/192_168_1_1_guest_wifi/config")
	if len(msgs) != 1 || !msgs[0].retained {
		t.Fatalf("expected one retained discovery message, got %v", msgs)
	}
	var cfg SwitchConfig
	if err := json.Unmarshal([]byte(msgs[0].payload), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.UniqueID != sw.id || cfg.Name != "Guest WiFi" || cfg.Icon != "mdi:script-text" {
		t.Errorf("unexpected discovery %+v", cfg)
	}
	if cfg.CommandTopic != "luci_config/192_168_1_1_guest_wifi/set" || cfg.StateTopic != "luci_config/192_168_1_1_guest_wifi/state" {
		t.Errorf("unexpected topics %+v", cfg)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 announced entity")
	}

	if err := b.Withdraw(context.Background(), sw); err != nil {
		t.Fatal(err)
	}
	msgs = pub.on("homeassistant/switch/192_168_1_1_guest_wifi/config")
	if len(msgs) != 2 || msgs[1].payload != "" {
		t.Errorf("expected an empty config on withdraw, got %v", msgs)
	}
	if pub.deliver(cfg.CommandTopic, PayloadOn) {
		t.Error("command topic still subscribed after withdraw")
	}
}

func TestWriteStateDeduplicates(t *testing.T) {
	pub := newFakePublisher()
	b := newBridge(t, pub)
	defer b.Close()
	ctx := context.Background()

	sw := &fakeSwitch{id: "r_guest", on: true}
	for i := 0; i < 3; i++ {
		if err := b.WriteState(ctx, sw); err != nil {
			t.Fatal(err)
		}
	}
	state := b.StateTopic(sw)
	if msgs := pub.on(state); len(msgs) != 1 || msgs[0].payload != PayloadOn {
		t.Fatalf("expected a single ON, got %v", msgs)
	}
	if msgs := pub.on(b.AttributesTopic(sw)); len(msgs) != 1 || !strings.Contains(msgs[0].payload, "guest.uci") {
		t.Errorf("expected attributes once, got %v", msgs)
	}

	sw.on = false
	if err := b.WriteState(ctx, sw); err != nil {
		t.Fatal(err)
	}
	if msgs := pub.on(state); len(msgs) != 2 || msgs[1].payload != PayloadOff {
		t.Errorf("expected OFF after change, got %v", msgs)
	}

	b.OnSignal(ctx, luci.SignalStateUpdated)
	if err := b.WriteState(ctx, sw); err != nil {
		t.Fatal(err)
	}
	if msgs := pub.on(state); len(msgs) != 3 {
		t.Errorf("expected a republish after the signal, got %v", msgs)
	}
}

func TestCommands(t *testing.T) {
	pub := newFakePublisher()
	b := newBridge(t, pub)
	ctx := context.Background()

	sw := &fakeSwitch{id: "r_guest"}
	if err := b.Announce(ctx, sw); err != nil {
		t.Fatal(err)
	}
	topic := b.CommandTopic(sw)

	// dropped: no commander yet
	pub.deliver(topic, PayloadOn)

	c := &commands{}
	b.SetCommander(c)
	pub.deliver(topic, PayloadOn)
	pub.deliver(topic, "TOGGLE")
	b.wg.Wait()
	pub.deliver(topic, PayloadOff)
	b.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.got) != 2 || c.got[0] != "r_guest=on" || c.got[1] != "r_guest=off" {
		t.Errorf("unexpected commands %v", c.got)
	}
}

func TestOffCommandOnCustomSwitch(t *testing.T) {
	srv := lucitest.NewServer()
	defer srv.Close()
	srv.SetOption("wireless", "guest", "disabled", "0")
	log := testr.New(t)
	ctx := context.Background()

	cfg := entry.DefaultConfig()
	cfg.Host, cfg.Username, cfg.Password = srv.Host(), lucitest.Username, lucitest.Password
	session, err := luci.NewSession(ctx, log, cfg)
	if err != nil {
		t.Fatal(err)
	}
	def, err := uci.Parse(log, strings.NewReader("#sw_name=guest_wifi\n#sw_desc=Guest WiFi\n#sw_test=wireless.guest.disabled\nwireless.guest.disabled=0\n"), "guest.uci")
	if err != nil {
		t.Fatal(err)
	}
	session.Configs.Register(def)

	pub := newFakePublisher()
	b := newBridge(t, pub)
	p := platform.New(log, b, 1)
	defer p.Close()
	b.SetCommander(p)

	sw := luci.NewConfigSwitch(session, def)
	if err := p.AddEntities(ctx, "router", []platform.Entity{sw}, platform.AddOptions{UpdateBeforeAdd: true}); err != nil {
		t.Fatal(err)
	}
	srv.ResetCalls()

	if !pub.deliver(b.CommandTopic(sw), PayloadOff) {
		t.Fatal("command topic not subscribed")
	}
	b.Close()

	if calls := srv.Calls(); len(calls) != 0 {
		t.Errorf("turning off a custom switch called the router: %v", calls)
	}
	if msgs := pub.on(b.StateTopic(sw)); len(msgs) != 1 || msgs[0].payload != PayloadOn {
		t.Errorf("expected the switch to stay on, got %v", msgs)
	}
}
