package platform

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
)

type fakeSwitch struct {
	mu      sync.Mutex
	id      string
	on      bool
	remote  bool
	updates int
	fail    error
}

func (f *fakeSwitch) UniqueID() string              { return f.id }
func (f *fakeSwitch) Name() string                  { return "Fake " + f.id }
func (f *fakeSwitch) Icon() string                  { return "mdi:test" }
func (f *fakeSwitch) Attributes() map[string]string { return nil }
func (f *fakeSwitch) ShouldPoll() bool              { return true }
func (f *fakeSwitch) AssumedState() bool            { return false }

func (f *fakeSwitch) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *fakeSwitch) TurnOn(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = true
	return nil
}

func (f *fakeSwitch) TurnOff(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = false
	return nil
}

func (f *fakeSwitch) Update(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.fail != nil {
		return f.fail
	}
	f.on = f.remote
	return nil
}

func (f *fakeSwitch) Updates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

type recorder struct {
	mu        sync.Mutex
	states    []bool
	announced []string
	withdrawn []string
}

func (r *recorder) WriteState(ctx context.Context, e Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, e.(Switch).IsOn())
	return nil
}

func (r *recorder) Announce(ctx context.Context, e Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announced = append(r.announced, e.UniqueID())
	return nil
}

func (r *recorder) Withdraw(ctx context.Context, e Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.withdrawn = append(r.withdrawn, e.UniqueID())
	return nil
}

func (r *recorder) writes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recorder) last() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func TestAddEntitiesUpdatesBeforeAnnounce(t *testing.T) {
	ctx := logr.NewContext(context.Background(), testr.New(t))
	rec := &recorder{}
	p := New(testr.New(t), rec, 2)
	defer p.Close()

	sw := &fakeSwitch{id: "host_a", remote: true}
	if err := p.AddEntities(ctx, "entry", []Entity{sw}, AddOptions{UpdateBeforeAdd: true}); err != nil {
		t.Fatal(err)
	}
	if sw.Updates() != 1 {
		t.Errorf("expected one update before add, got %d", sw.Updates())
	}
	if len(rec.announced) != 1 || rec.writes() != 1 || !rec.last() {
		t.Errorf("unexpected writer calls: %+v", rec)
	}
}

func TestPollerTicks(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := New(testr.New(t), rec, 1)
	defer p.Close()

	sw := &fakeSwitch{id: "host_b"}
	if err := p.AddEntities(ctx, "entry", []Entity{sw}, AddOptions{Interval: 10 * time.Millisecond}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sw.Updates() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sw.Updates() < 3 {
		t.Fatalf("expected periodic updates, got %d", sw.Updates())
	}

	p.RemoveGroup(ctx, "entry")
	time.Sleep(30 * time.Millisecond)
	n := sw.Updates()
	time.Sleep(50 * time.Millisecond)
	if sw.Updates() != n {
		t.Errorf("polling continued after removal")
	}
	if len(rec.withdrawn) != 1 {
		t.Errorf("expected entity withdrawn, got %v", rec.withdrawn)
	}
}

func TestCommandRefreshes(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := New(testr.New(t), rec, 1)
	defer p.Close()

	sw := &fakeSwitch{id: "host_c"}
	_ = p.AddEntities(ctx, "entry", []Entity{sw}, AddOptions{})

	if err := p.Command(ctx, "host_c", true); err != nil {
		t.Fatal(err)
	}
	if !sw.IsOn() || !rec.last() {
		t.Error("switch should be on after command")
	}
	if err := p.Command(ctx, "unknown", true); err == nil {
		t.Error("expected error for unknown entity")
	}
}

type oneWaySwitch struct {
	fakeSwitch
}

func (o *oneWaySwitch) OneWay() bool { return true }

func TestCommandOffOneWayDoesNotUpdate(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := New(testr.New(t), rec, 1)
	defer p.Close()

	sw := &oneWaySwitch{fakeSwitch{id: "host_g", on: true, remote: true}}
	_ = p.AddEntities(ctx, "entry", []Entity{sw}, AddOptions{})
	before := rec.writes()

	if err := p.Command(ctx, "host_g", false); err != nil {
		t.Fatal(err)
	}
	if sw.Updates() != 0 {
		t.Errorf("turning off a one-way switch must not update it, got %d updates", sw.Updates())
	}
	if rec.writes() != before+1 || !rec.last() {
		t.Error("expected the unchanged state written once")
	}

	if err := p.Command(ctx, "host_g", true); err != nil {
		t.Fatal(err)
	}
	if sw.Updates() != 1 {
		t.Errorf("turning on must refresh, got %d updates", sw.Updates())
	}
}

func TestDetachGroupKeepsAnnouncement(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := New(testr.New(t), rec, 1)
	defer p.Close()

	sw := &fakeSwitch{id: "host_h"}
	_ = p.AddEntities(ctx, "entry", []Entity{sw}, AddOptions{Interval: 10 * time.Millisecond, Signal: "updated"})

	if n := p.DetachGroup(ctx, "entry"); n != 1 {
		t.Fatalf("expected one entity detached, got %d", n)
	}
	if len(rec.withdrawn) != 0 {
		t.Errorf("detached entity must not be withdrawn, got %v", rec.withdrawn)
	}
	if len(p.Entities("entry")) != 0 || p.Dispatcher().Observers("updated") != 0 {
		t.Error("entity still attached after detach")
	}
	time.Sleep(30 * time.Millisecond)
	n := sw.Updates()
	time.Sleep(50 * time.Millisecond)
	if sw.Updates() != n {
		t.Error("polling continued after detach")
	}
}

func TestUpdateErrorSkipsWrite(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := New(testr.New(t), rec, 1)
	defer p.Close()

	sw := &fakeSwitch{id: "host_d"}
	_ = p.AddEntities(ctx, "entry", []Entity{sw}, AddOptions{})
	before := rec.writes()

	sw.fail = errors.New("boom")
	if err := p.Refresh(ctx, "host_d"); err == nil {
		t.Error("expected update error")
	}
	if rec.writes() != before {
		t.Error("state must not be written when update fails")
	}
}

func TestSignalWritesState(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p := New(testr.New(t), rec, 1)
	defer p.Close()

	a := &fakeSwitch{id: "host_e"}
	b := &fakeSwitch{id: "host_f"}
	_ = p.AddEntities(ctx, "entry", []Entity{a, b}, AddOptions{Signal: "updated"})
	before := rec.writes()

	p.Dispatcher().Send(ctx, "updated")
	if rec.writes() != before+2 {
		t.Errorf("expected two writes on signal, got %d", rec.writes()-before)
	}
	if a.Updates() != 0 {
		t.Error("signal must not trigger remote updates")
	}

	p.RemoveGroup(ctx, "entry")
	if p.Dispatcher().Observers("updated") != 0 {
		t.Error("observers must be disconnected on removal")
	}
}

func TestDispatcherOrder(t *testing.T) {
	d := NewDispatcher(testr.New(t))
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		d.Connect("s", ObserverFunc(func(ctx context.Context, signal string) { got = append(got, i) }))
	}
	d.Send(context.Background(), "s")
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Errorf("unexpected order %v", got)
	}
}

func TestExecutorCanceled(t *testing.T) {
	e := NewExecutor(testr.New(t), 1)
	defer e.Close()

	block := make(chan struct{})
	go func() {
		_ = e.Run(context.Background(), func(ctx context.Context) error {
			<-block
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Run(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	close(block)
}

func TestExecutorRecoversPanic(t *testing.T) {
	e := NewExecutor(testr.New(t), 1)
	defer e.Close()
	err := e.Run(context.Background(), func(ctx context.Context) error { panic("boom") })
	if err == nil {
		t.Error("expected error from panicking job")
	}
}
