package uci

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
)

// errorCounter is a logr sink counting Error calls.
type errorCounter struct {
	errors int
}

func (c *errorCounter) Init(logr.RuntimeInfo)          {}
func (c *errorCounter) Enabled(int) bool               { return true }
func (c *errorCounter) Info(int, string, ...any)       {}
func (c *errorCounter) Error(error, string, ...any)    { c.errors++ }
func (c *errorCounter) WithValues(...any) logr.LogSink { return c }
func (c *errorCounter) WithName(string) logr.LogSink   { return c }

func TestParseGuestWifi(t *testing.T) {
	src := "#sw_name=guest_wifi\n#sw_desc=Guest WiFi\n#sw_test=wireless.guest.disabled\nwireless.guest.disabled=0\n"
	def, err := Parse(testr.New(t), strings.NewReader(src), "guest.uci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "guest_wifi" || def.Description != "Guest WiFi" {
		t.Errorf("unexpected metadata: %q / %q", def.Name, def.Description)
	}
	if !reflect.DeepEqual(def.TestKeys, []string{"wireless.guest.disabled"}) {
		t.Errorf("unexpected test keys: %v", def.TestKeys)
	}
	if v, ok := def.Expected("wireless.guest.disabled"); !ok || v != "0" {
		t.Errorf("unexpected expected value: %q (%v)", v, ok)
	}
	if def.File != "guest.uci" {
		t.Errorf("unexpected file: %s", def.File)
	}
}

func TestParseIncompleteLogsOneError(t *testing.T) {
	cases := map[string]string{
		"no name": "#sw_desc=d\n#sw_test=a.b.c\na.b.c=1\n",
		"no desc": "#sw_name=n\n#sw_test=a.b.c\na.b.c=1\n",
		"no test": "#sw_name=n\n#sw_desc=d\na.b.c=1\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			counter := &errorCounter{}
			def, err := Parse(logr.New(counter), strings.NewReader(src), name)
			if def != nil {
				t.Fatalf("expected no definition, got %v", def)
			}
			if err == nil || !strings.Contains(err.Error(), ErrIncomplete.Error()) {
				t.Fatalf("expected ErrIncomplete, got %v", err)
			}
			if counter.errors != 1 {
				t.Errorf("expected exactly one error log, got %d", counter.errors)
			}
		})
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	src := "#sw_name=n\n#sw_desc=d\nnot a pair\na=b=c\n#sw_test=x.y.z\nx.y.z=1\n"
	counter := &errorCounter{}
	def, err := Parse(logr.New(counter), strings.NewReader(src), "f.uci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter.errors != 2 {
		t.Errorf("expected two rejected lines, got %d", counter.errors)
	}
	if len(def.Values) != 1 {
		t.Errorf("unexpected values: %v", def.Values)
	}
}

func TestParseLongLine(t *testing.T) {
	long := strings.Repeat("x", 128*1024)
	src := "#sw_name=n\n#sw_desc=d\n" + long + "\n#sw_test=x.y.z\nx.y.z=1\r\na.b.long=" + long
	counter := &errorCounter{}
	def, err := Parse(logr.New(counter), strings.NewReader(src), "long.uci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counter.errors != 1 {
		t.Errorf("expected the long line rejected alone, got %d errors", counter.errors)
	}
	if def.Values["x.y.z"] != "1" {
		t.Errorf("line ending not stripped: %q", def.Values["x.y.z"])
	}
	if len(def.Values["a.b.long"]) != len(long) {
		t.Errorf("long last line without newline not kept: %d bytes", len(def.Values["a.b.long"]))
	}
}

func TestParseQuotes(t *testing.T) {
	src := "#sw_name=n\n#sw_desc=d\n#sw_test=a.b.quoted\na.b.quoted='on'\na.b.plain=off\n"
	def, err := Parse(testr.New(t), strings.NewReader(src), "q.uci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Values["a.b.quoted"] != "on" {
		t.Errorf("quotes not stripped: %q", def.Values["a.b.quoted"])
	}
	if def.Values["a.b.plain"] != "off" {
		t.Errorf("unquoted value changed: %q", def.Values["a.b.plain"])
	}
}

func TestParseTestKeyOrder(t *testing.T) {
	src := "#sw_name=n\n#sw_desc=d\n#sw_test=b.s.o,a.s.o, c.s.o\n"
	def, err := Parse(testr.New(t), strings.NewReader(src), "o.uci")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"b.s.o", "a.s.o", "c.s.o"}
	if !reflect.DeepEqual(def.TestKeys, want) {
		t.Errorf("got %v, want %v", def.TestKeys, want)
	}
}

func TestAssignments(t *testing.T) {
	def := &Definition{Values: map[string]string{
		"wireless.guest.disabled": "0",
		"firewall.guest.enabled":  "1",
	}}
	got := def.Assignments()
	want := [][]string{
		{"firewall", "guest", "enabled", "1"},
		{"wireless", "guest", "disabled", "0"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDirFirstSeenWins(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.uci", "#sw_name=dup\n#sw_desc=First\n#sw_test=a.b.c\na.b.c=1\n")
	writeFile(t, dir, "b.uci", "#sw_name=dup\n#sw_desc=Second\n#sw_test=a.b.c\na.b.c=2\n")
	writeFile(t, dir, "c.uci", "#sw_desc=partial\n")
	writeFile(t, dir, "ignored.txt", "#sw_name=x\n#sw_desc=x\n#sw_test=x.y.z\n")

	reg := NewRegistry()
	added, err := reg.LoadDir(testr.New(t), dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 1 || reg.Len() != 1 {
		t.Fatalf("expected one definition, added=%d len=%d", added, reg.Len())
	}
	def, _ := reg.Get("dup")
	if def.Description != "First" || def.Values["a.b.c"] != "1" {
		t.Errorf("first definition was overwritten: %+v", def)
	}

	// Reloading keeps the registered definition untouched.
	writeFile(t, dir, "0.uci", "#sw_name=dup\n#sw_desc=Newest\n#sw_test=a.b.c\na.b.c=3\n")
	if _, err := reg.LoadDir(testr.New(t), dir); err != nil {
		t.Fatal(err)
	}
	def2, _ := reg.Get("dup")
	if def2 != def {
		t.Errorf("definition replaced on reload: %+v", def2)
	}
}

func TestDefinitionEqual(t *testing.T) {
	a := &Definition{Name: "x", Description: "one"}
	b := &Definition{Name: "x", Description: "two"}
	c := &Definition{Name: "y"}
	if !a.Equal(b) || a.Equal(c) {
		t.Error("equality must be by name")
	}
}
