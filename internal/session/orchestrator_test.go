package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nxpad/go-procon-server/internal/bluez"
	"github.com/nxpad/go-procon-server/internal/input"
	"github.com/nxpad/go-procon-server/internal/logger"
	"github.com/nxpad/go-procon-server/internal/models"
)

// fakeAdapter records every adapter call and can fail selected methods.
type fakeAdapter struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	removed []dbus.ObjectPath
}

func (a *fakeAdapter) record(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, name)
	if a.failOn != nil {
		return a.failOn[name]
	}
	return nil
}

func (a *fakeAdapter) callNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.calls))
	copy(out, a.calls)
	return out
}

func (a *fakeAdapter) count(name string) int {
	n := 0
	for _, c := range a.callNames() {
		if c == name {
			n++
		}
	}
	return n
}

func (a *fakeAdapter) Address() (string, error) {
	if err := a.record("Address"); err != nil {
		return "", err
	}
	return "00:11:22:33:44:55", nil
}
func (a *fakeAdapter) SetPowered(bool) error                 { return a.record("SetPowered") }
func (a *fakeAdapter) SetPairable(bool) error                { return a.record("SetPairable") }
func (a *fakeAdapter) SetDiscoverable(bool) error            { return a.record("SetDiscoverable") }
func (a *fakeAdapter) SetDiscoverableTimeout(uint32) error   { return a.record("SetDiscoverableTimeout") }
func (a *fakeAdapter) SetAlias(string) error                 { return a.record("SetAlias") }
func (a *fakeAdapter) SetDeviceClass(string) error           { return a.record("SetDeviceClass") }
func (a *fakeAdapter) SpoofAddress(string) error             { return a.record("SpoofAddress") }
func (a *fakeAdapter) SetCompatMode(bool) error              { return a.record("SetCompatMode") }
func (a *fakeAdapter) RegisterControllerProfile() error      { return a.record("RegisterControllerProfile") }
func (a *fakeAdapter) UnregisterControllerProfile() error    { return a.record("UnregisterControllerProfile") }
func (a *fakeAdapter) RemovePeer(path dbus.ObjectPath) error {
	a.mu.Lock()
	a.removed = append(a.removed, path)
	a.mu.Unlock()
	return a.record("RemovePeer")
}

// fakeResolver resolves peers immediately and records the awaited addresses.
type fakeResolver struct {
	mu        sync.Mutex
	addresses []string
	anyCalls  int
}

func peerPath(address string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/hci0/dev_" + strings.ReplaceAll(address, ":", "_"))
}

func (r *fakeResolver) AwaitConnectedAddress(ctx context.Context, address string) (bluez.Peer, error) {
	r.mu.Lock()
	r.addresses = append(r.addresses, address)
	r.mu.Unlock()
	return bluez.Peer{Path: peerPath(address), Address: address, Connected: true}, nil
}

func (r *fakeResolver) AwaitAnyConnection(ctx context.Context, aliasFilter string) (bluez.Peer, error) {
	r.mu.Lock()
	r.anyCalls++
	r.mu.Unlock()
	return bluez.Peer{Path: peerPath("AA:AA:AA:AA:AA:AA"), Address: "AA:AA:AA:AA:AA:AA", Connected: true}, nil
}

// fakeLink captures sent reports and drops the link after sendLimit sends.
type fakeLink struct {
	mu        sync.Mutex
	remote    string
	sendLimit int
	reports   [][]byte
	closed    bool
}

func (l *fakeLink) SendReport(report []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendLimit > 0 && len(l.reports) >= l.sendLimit {
		return errors.New("link down")
	}
	cp := make([]byte, len(report))
	copy(cp, report)
	l.reports = append(l.reports, cp)
	return nil
}

func (l *fakeLink) RemoteAddress() string { return l.remote }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]byte, len(l.reports))
	copy(out, l.reports)
	return out
}

// fakeTransport hands out scripted links, then blocks until the context
// ends. A non-nil failErr makes every attempt fail immediately instead.
type fakeTransport struct {
	mu       sync.Mutex
	links    []*fakeLink
	connects []string
	accepts  int
	failErr  error
}

func (t *fakeTransport) pop() *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.links) == 0 {
		return nil
	}
	link := t.links[0]
	t.links = t.links[1:]
	return link
}

func (t *fakeTransport) Accept(ctx context.Context, localAddr string) (Link, error) {
	t.mu.Lock()
	t.accepts++
	failErr := t.failErr
	t.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	if link := t.pop(); link != nil {
		return link, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (t *fakeTransport) Connect(ctx context.Context, localAddr, remoteAddr string) (Link, error) {
	t.mu.Lock()
	t.connects = append(t.connects, remoteAddr)
	failErr := t.failErr
	t.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}
	if link := t.pop(); link != nil {
		return link, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: logger.FatalLevel, Output: io.Discard})
}

func newTestOrchestrator(cfg Config, adapter *fakeAdapter, transport *fakeTransport) (*Orchestrator, *State) {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 100 * time.Microsecond
	}
	if cfg.LoopPause == 0 {
		cfg.LoopPause = time.Millisecond
	}
	state := NewState()
	o := New(cfg, adapter, &fakeResolver{}, transport, state, testLogger())
	return o, state
}

func TestTransmitPlaybackOrderAndLoop(t *testing.T) {
	o, state := newTestOrchestrator(Config{}, &fakeAdapter{}, &fakeTransport{})

	state.SetSequence([]input.Packet{numberedPacket(1), numberedPacket(2), numberedPacket(3)})
	state.SetPlaying(true)

	link := &fakeLink{sendLimit: 6}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	o.transmit(ctx, link)

	reports := link.sent()
	if len(reports) != 6 {
		t.Fatalf("Expected 6 reports, got %d", len(reports))
	}
	expected := []byte{1, 2, 3, 1, 2, 3}
	for i, r := range reports {
		if r[2] != expected[i] {
			t.Errorf("Report %d carries packet %d, want %d", i, r[2], expected[i])
		}
	}

	// Playback never feeds the recording.
	if state.SequenceLength() != 3 {
		t.Errorf("Sequence grew during playback: %d packets", state.SequenceLength())
	}
}

func TestTransmitLiveRecording(t *testing.T) {
	o, state := newTestOrchestrator(Config{}, &fakeAdapter{}, &fakeTransport{})

	desired := numberedPacket(9)
	state.SetDesiredPacket(desired)
	state.SetRecording(true)

	link := &fakeLink{sendLimit: 4}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	o.transmit(ctx, link)

	reports := link.sent()
	if len(reports) != 4 {
		t.Fatalf("Expected 4 reports, got %d", len(reports))
	}
	for i, r := range reports {
		if r[2] != 9 {
			t.Errorf("Report %d is not the desired packet: 0x%02x", i, r[2])
		}
	}

	// Every transmitted packet was captured.
	seq := state.Sequence()
	if len(seq) != 4 {
		t.Fatalf("Expected 4 recorded packets, got %d", len(seq))
	}
	for i, p := range seq {
		if p != desired {
			t.Errorf("Recorded packet %d differs from transmitted packet", i)
		}
	}
}

func TestTransmitEmptyPlaybackIdles(t *testing.T) {
	o, state := newTestOrchestrator(Config{}, &fakeAdapter{}, &fakeTransport{})
	state.SetPlaying(true)

	link := &fakeLink{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	o.transmit(ctx, link)

	if n := len(link.sent()); n != 0 {
		t.Errorf("Expected no reports while playing an empty sequence, got %d", n)
	}
}

func TestTransmitStopsOnSendFailure(t *testing.T) {
	o, state := newTestOrchestrator(Config{}, &fakeAdapter{}, &fakeTransport{})
	state.SetDesiredPacket(input.Idle())

	link := &fakeLink{sendLimit: 1}
	done := make(chan struct{})
	go func() {
		o.transmit(context.Background(), link)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transmit did not stop after the link failed")
	}
}

func TestRunReconnect(t *testing.T) {
	const console = "98:B6:E9:E6:88:7F"

	adapter := &fakeAdapter{}
	link := &fakeLink{remote: console, sendLimit: 3}
	transport := &fakeTransport{links: []*fakeLink{link}}

	o, _ := newTestOrchestrator(Config{
		ReconnectAddress: console,
		SpoofAddress:     "7C:BB:8A:00:11:22",
	}, adapter, transport)

	var mu sync.Mutex
	var phases []string
	o.OnEvent(func(eventType models.EventType, data interface{}) {
		if eventType != models.EventTypePhaseChanged {
			return
		}
		if d, ok := data.(models.PhaseChangedData); ok {
			mu.Lock()
			phases = append(phases, d.Phase)
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	transport.mu.Lock()
	connects := append([]string(nil), transport.connects...)
	transport.mu.Unlock()
	if len(connects) == 0 || connects[0] != console {
		t.Errorf("Expected outbound connect to %s, got %v", console, connects)
	}

	if adapter.count("SetCompatMode") == 0 {
		t.Error("Compat mode was never configured")
	}
	if adapter.count("SpoofAddress") != 1 {
		t.Errorf("Expected one spoof call, got %d", adapter.count("SpoofAddress"))
	}
	if adapter.count("RegisterControllerProfile") != 1 {
		t.Errorf("Expected the profile to be registered once, got %d", adapter.count("RegisterControllerProfile"))
	}
	if adapter.count("UnregisterControllerProfile") != 1 {
		t.Errorf("Expected the profile to be unregistered once, got %d", adapter.count("UnregisterControllerProfile"))
	}

	// The stale pairing is removed after the disconnect.
	adapter.mu.Lock()
	removed := append([]dbus.ObjectPath(nil), adapter.removed...)
	adapter.mu.Unlock()
	if len(removed) != 1 || removed[0] != peerPath(console) {
		t.Errorf("Expected stale peer removal for %s, got %v", console, removed)
	}

	mu.Lock()
	defer mu.Unlock()
	prefix := []string{
		string(PhaseInitializing),
		string(PhaseAdvertising),
		string(PhaseAwaitingConnection),
		string(PhaseConnected),
		string(PhaseDisconnected),
	}
	if len(phases) < len(prefix) {
		t.Fatalf("Too few phase transitions: %v", phases)
	}
	for i, want := range prefix {
		if phases[i] != want {
			t.Fatalf("Phase sequence %v, want prefix %v", phases, prefix)
		}
	}
	if phases[len(phases)-1] != string(PhaseTerminated) {
		t.Errorf("Expected final phase terminated, got %s", phases[len(phases)-1])
	}
}

func TestRunFreshPairingUsesAccept(t *testing.T) {
	adapter := &fakeAdapter{}
	link := &fakeLink{remote: "AA:BB:CC:DD:EE:11", sendLimit: 2}
	transport := &fakeTransport{links: []*fakeLink{link}}

	resolver := &fakeResolver{}
	state := NewState()
	o := New(Config{
		TickInterval: 100 * time.Microsecond,
		LoopPause:    time.Millisecond,
	}, adapter, resolver, transport, state, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	transport.mu.Lock()
	accepts := transport.accepts
	connects := len(transport.connects)
	transport.mu.Unlock()
	if accepts == 0 {
		t.Error("Expected inbound accept for fresh pairing")
	}
	if connects != 0 {
		t.Errorf("Expected no outbound connects, got %d", connects)
	}

	// The resolver was asked for the address the link reported.
	resolver.mu.Lock()
	addresses := append([]string(nil), resolver.addresses...)
	resolver.mu.Unlock()
	if len(addresses) == 0 || addresses[0] != "AA:BB:CC:DD:EE:11" {
		t.Errorf("Expected await for the link's remote address, got %v", addresses)
	}
}

func TestRunPacesFailedConnectionAttempts(t *testing.T) {
	adapter := &fakeAdapter{}
	transport := &fakeTransport{failErr: errors.New("bind psm 17: address already in use")}

	o, _ := newTestOrchestrator(Config{
		RetryInterval: 20 * time.Millisecond,
	}, adapter, transport)

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// Each failed attempt waits out the retry interval before the next
	// advertise, so ~110ms admits at most a handful of attempts.
	transport.mu.Lock()
	attempts := transport.accepts
	transport.mu.Unlock()
	if attempts < 2 {
		t.Errorf("Expected repeated attempts, got %d", attempts)
	}
	if attempts > 10 {
		t.Errorf("Connection attempts not paced: %d attempts in ~110ms", attempts)
	}
	if calls := adapter.count("SetDiscoverable"); calls > 10 {
		t.Errorf("Adapter hammered during retries: %d SetDiscoverable calls", calls)
	}
}

func TestRunInitializeFailure(t *testing.T) {
	adapter := &fakeAdapter{failOn: map[string]error{
		"SetCompatMode": errors.New("permission denied"),
	}}
	o, state := newTestOrchestrator(Config{}, adapter, &fakeTransport{})

	err := o.Run(context.Background())
	if err == nil {
		t.Fatal("Expected error from failed initialization")
	}
	if state.Phase() != PhaseTerminated {
		t.Errorf("Expected terminated phase, got %s", state.Phase())
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	o := New(Config{}, &fakeAdapter{}, &fakeResolver{}, &fakeTransport{}, NewState(), testLogger())

	if o.cfg.TickInterval != time.Millisecond {
		t.Errorf("Expected 1ms tick default, got %v", o.cfg.TickInterval)
	}
	if o.cfg.LoopPause != 5*time.Second {
		t.Errorf("Expected 5s loop pause default, got %v", o.cfg.LoopPause)
	}
	if o.cfg.RetryInterval != time.Second {
		t.Errorf("Expected 1s retry interval default, got %v", o.cfg.RetryInterval)
	}
	if o.cfg.Alias != bluez.ControllerAlias {
		t.Errorf("Expected controller alias default, got %q", o.cfg.Alias)
	}
	if o.cfg.DeviceClass != bluez.ControllerDeviceClass {
		t.Errorf("Expected gamepad device class default, got %q", o.cfg.DeviceClass)
	}
}
