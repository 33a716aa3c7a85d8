package luci

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/asnowfix/luci-config/pkg/luci/lucitest"
)

const guestWifi = `#sw_name=guest_wifi
#sw_desc=Guest WiFi
#sw_test=wireless.guest.disabled
wireless.guest.disabled=0
`

func TestConfigSwitchProjection(t *testing.T) {
	srv := lucitest.NewServer()
	defer srv.Close()
	s := newTestSession(t, srv)

	sw := NewConfigSwitch(s, parseDefinition(t, guestWifi))
	if sw.UniqueID() != srv.Host()+"_guest_wifi" {
		t.Errorf("unexpected unique id %s", sw.UniqueID())
	}
	if sw.Name() != "Guest WiFi" || sw.Icon() != IconConfig {
		t.Errorf("unexpected projection %s %s", sw.Name(), sw.Icon())
	}
	if sw.Attributes()["file"] != "/config/luci_config/test.uci" {
		t.Errorf("unexpected attributes %v", sw.Attributes())
	}
	if !sw.ShouldPoll() || sw.AssumedState() {
		t.Error("switches poll and report real state")
	}
}

func TestConfigSwitchUpdate(t *testing.T) {
	srv := lucitest.NewServer()
	defer srv.Close()
	srv.SetOption("wireless", "guest", "disabled", "0")
	s := newTestSession(t, srv)
	ctx := context.Background()

	sw := NewConfigSwitch(s, parseDefinition(t, guestWifi))
	if err := sw.Update(ctx); err != nil {
		t.Fatal(err)
	}
	if !sw.IsOn() {
		t.Error("expected on when the remote value matches")
	}
	calls := srv.Calls()
	if len(calls) != 1 || calls[0].String() != "get wireless guest disabled" {
		t.Errorf("unexpected calls %v", calls)
	}

	srv.SetOption("wireless", "guest", "disabled", "1")
	if err := sw.Update(ctx); err != nil {
		t.Fatal(err)
	}
	if sw.IsOn() {
		t.Error("expected off when the remote value differs")
	}

	srv.FailMethod("get", http.StatusBadGateway)
	srv.SetOption("wireless", "guest", "disabled", "0")
	if err := sw.Update(ctx); err != nil {
		t.Fatal(err)
	}
	if sw.IsOn() {
		t.Error("expected off on rpc error")
	}
}

func TestConfigSwitchShortCircuit(t *testing.T) {
	srv := lucitest.NewServer()
	defer srv.Close()
	srv.SetOption("wireless", "guest", "disabled", "1")
	srv.SetOption("wireless", "guest", "ssid", "visitors")
	s := newTestSession(t, srv)

	def := parseDefinition(t, `#sw_name=guest_wifi
#sw_desc=Guest WiFi
#sw_test=wireless.guest.disabled,wireless.guest.ssid
wireless.guest.disabled=0
wireless.guest.ssid='visitors'
`)
	sw := NewConfigSwitch(s, def)
	if err := sw.Update(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sw.IsOn() {
		t.Error("expected off")
	}
	if n := len(srv.Calls()); n != 1 {
		t.Errorf("expected the first mismatch to stop, got %d calls", n)
	}

	srv.SetOption("wireless", "guest", "disabled", "0")
	if err := sw.Update(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !sw.IsOn() {
		t.Error("expected on when every test key matches")
	}
}

func TestConfigSwitchUnknownTestKey(t *testing.T) {
	srv := lucitest.NewServer()
	defer srv.Close()
	srv.SetOption("wireless", "guest", "disabled", "0")
	s := newTestSession(t, srv)

	sw := NewConfigSwitch(s, parseDefinition(t, `#sw_name=guest_wifi
#sw_desc=Guest WiFi
#sw_test=wireless.guest.ssid
wireless.guest.disabled=0
`))
	if err := sw.Update(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sw.IsOn() {
		t.Error("expected off for a test key without a stored value")
	}
	if n := len(srv.Calls()); n != 0 {
		t.Errorf("expected no remote call, got %d", n)
	}
}

func TestConfigSwitchTurnOnOff(t *testing.T) {
	srv := lucitest.NewServer()
	defer srv.Close()
	s := newTestSession(t, srv)
	ctx := context.Background()

	sw := NewConfigSwitch(s, parseDefinition(t, `#sw_name=guest_wifi
#sw_desc=Guest WiFi
#sw_test=wireless.guest.disabled
wireless.guest.disabled=0
wireless.guest.ssid='visitors'
`))

	if err := sw.TurnOff(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(srv.Calls()); n != 0 {
		t.Fatalf("turn off must not call the router, got %d calls", n)
	}

	if err := sw.TurnOn(ctx); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(methods(srv.Calls()), ","); got != "set,set,apply" {
		t.Errorf("unexpected calls %s", got)
	}
	if v, _ := srv.Option("wireless", "guest", "ssid"); v != "visitors" {
		t.Errorf("ssid not written unquoted: %q", v)
	}
}

func TestVPNSwitch(t *testing.T) {
	srv := lucitest.NewServer()
	defer srv.Close()
	srv.AddSection("openvpn", "office", "openvpn", nil)
	s := newTestSession(t, srv)
	ctx := context.Background()
	if err := s.Enumerate(ctx); err != nil {
		t.Fatal(err)
	}

	sw := NewVPNSwitch(s, s.VPNs()[0])
	if sw.Name() != "office VPN" || sw.Icon() != IconVPN {
		t.Errorf("unexpected projection %s %s", sw.Name(), sw.Icon())
	}
	if sw.IsOn() {
		t.Error("initial state should follow the enumerated item")
	}

	// missing enabled reads as "true", which is not "1"
	if err := sw.Update(ctx); err != nil {
		t.Fatal(err)
	}
	if sw.IsOn() {
		t.Error("vpn without enabled should be off")
	}

	// only "1" turns a vpn on
	for _, value := range []string{"true", "yes", "on", "0"} {
		srv.SetOption("openvpn", "office", "enabled", value)
		if err := sw.Update(ctx); err != nil {
			t.Fatal(err)
		}
		if sw.IsOn() {
			t.Errorf("enabled=%q should be off", value)
		}
	}

	srv.ResetCalls()
	if err := sw.TurnOn(ctx); err != nil {
		t.Fatal(err)
	}
	calls := srv.Calls()
	if len(calls) != 2 || calls[0].String() != "set openvpn office enabled 1" || calls[1].String() != "commit openvpn" {
		t.Errorf("unexpected calls %v", calls)
	}
	if err := sw.Update(ctx); err != nil {
		t.Fatal(err)
	}
	if !sw.IsOn() {
		t.Error("expected on after turn on")
	}

	if err := sw.TurnOff(ctx); err != nil {
		t.Fatal(err)
	}
	if v, _ := srv.Option("openvpn", "office", "enabled"); v != "0" {
		t.Errorf("expected enabled=0, got %q", v)
	}
}

func TestRuleSwitch(t *testing.T) {
	srv := lucitest.NewServer()
	defer srv.Close()
	srv.AddSection("firewall", "cfg0a", "rule", map[string]string{"name": "Allow-SSH"})
	s := newTestSession(t, srv)
	ctx := context.Background()
	if err := s.Enumerate(ctx); err != nil {
		t.Fatal(err)
	}

	sw := NewRuleSwitch(s, s.Rules()[0])
	if sw.Name() != "Allow-SSH Rule" || sw.Icon() != IconRule {
		t.Errorf("unexpected projection %s %s", sw.Name(), sw.Icon())
	}
	if sw.UniqueID() != srv.Host()+"_cfg0a" {
		t.Errorf("unexpected unique id %s", sw.UniqueID())
	}
	if !sw.IsOn() {
		t.Error("initial state should follow the enumerated item")
	}

	if err := sw.Update(ctx); err != nil {
		t.Fatal(err)
	}
	if !sw.IsOn() {
		t.Error("rule without enabled should be on")
	}

	for value, on := range map[string]bool{"0": false, "1": true, "yes": true} {
		srv.SetOption("firewall", "cfg0a", "enabled", value)
		if err := sw.Update(ctx); err != nil {
			t.Fatal(err)
		}
		if sw.IsOn() != on {
			t.Errorf("enabled=%s: expected on=%v", value, on)
		}
	}

	srv.FailMethod("get", http.StatusInternalServerError)
	if err := sw.Update(ctx); err != nil {
		t.Fatal(err)
	}
	if sw.IsOn() {
		t.Error("expected off on rpc error")
	}
}

func TestSessionEntities(t *testing.T) {
	srv := lucitest.NewServer()
	defer srv.Close()
	srv.AddSection("openvpn", "office", "openvpn", nil)
	srv.AddSection("firewall", "cfg0a", "rule", nil)
	s := newTestSession(t, srv)
	if err := s.Enumerate(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Configs.Register(parseDefinition(t, guestWifi))

	entities := s.Entities()
	if len(entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(entities))
	}
	if _, ok := entities[0].(*ConfigSwitch); !ok {
		t.Errorf("expected custom switches first, got %T", entities[0])
	}
	if _, ok := entities[1].(*VPNSwitch); !ok {
		t.Errorf("expected a vpn switch, got %T", entities[1])
	}
	if _, ok := entities[2].(*RuleSwitch); !ok {
		t.Errorf("expected a rule switch, got %T", entities[2])
	}
}
