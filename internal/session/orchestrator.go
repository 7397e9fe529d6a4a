package session

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/nxpad/go-procon-server/internal/bluez"
	"github.com/nxpad/go-procon-server/internal/logger"
	"github.com/nxpad/go-procon-server/internal/models"
)

// AdapterControl is the slice of the BlueZ manager the orchestrator drives.
// All calls block and are only made during setup/teardown transitions, never
// while the transmission loop is running against the same adapter.
type AdapterControl interface {
	Address() (string, error)
	SetPowered(on bool) error
	SetPairable(on bool) error
	SetDiscoverable(on bool) error
	SetDiscoverableTimeout(seconds uint32) error
	SetAlias(alias string) error
	SetDeviceClass(class string) error
	SpoofAddress(target string) error
	SetCompatMode(enable bool) error
	RegisterControllerProfile() error
	UnregisterControllerProfile() error
	RemovePeer(path dbus.ObjectPath) error
}

// PeerResolver waits for console connections to become visible to BlueZ.
type PeerResolver interface {
	AwaitConnectedAddress(ctx context.Context, address string) (bluez.Peer, error)
	AwaitAnyConnection(ctx context.Context, aliasFilter string) (bluez.Peer, error)
}

// Link is an established controller connection.
type Link interface {
	SendReport(report []byte) error
	RemoteAddress() string
	Close() error
}

// Transport establishes links: inbound accept for fresh pairings, outbound
// connect for reconnects to a known console.
type Transport interface {
	Accept(ctx context.Context, localAddr string) (Link, error)
	Connect(ctx context.Context, localAddr, remoteAddr string) (Link, error)
}

// Config tunes one orchestrator run.
type Config struct {
	// ReconnectAddress, when set, makes the session dial a known console
	// instead of waiting for a fresh pairing.
	ReconnectAddress string
	// SpoofAddress, when set, is applied to the adapter before advertising.
	SpoofAddress string
	Alias        string
	DeviceClass  string
	// TickInterval is the transmission cadence (default 1ms). Each
	// iteration sleeps for the full interval after its work, so cadence
	// degrades gracefully under load instead of accumulating drift.
	TickInterval time.Duration
	// LoopPause separates playback repetitions (default 5s).
	LoopPause time.Duration
	// RetryInterval paces re-advertising after a failed connection attempt
	// (default 1s), so a persistent transport failure never spins the
	// adapter in a tight loop.
	RetryInterval time.Duration
}

// Orchestrator owns the session lifecycle: adapter identity, advertising,
// connection hand-off and the input transmission loop.
type Orchestrator struct {
	cfg       Config
	adapter   AdapterControl
	resolver  PeerResolver
	transport Transport
	state     *State
	logger    *logger.Logger
	emit      models.EventCallback

	localAddr  string
	registered bool
}

// New creates an orchestrator around the given collaborators.
func New(cfg Config, adapter AdapterControl, resolver PeerResolver, transport Transport, state *State, log *logger.Logger) *Orchestrator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Millisecond
	}
	if cfg.LoopPause <= 0 {
		cfg.LoopPause = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.Alias == "" {
		cfg.Alias = bluez.ControllerAlias
	}
	if cfg.DeviceClass == "" {
		cfg.DeviceClass = bluez.ControllerDeviceClass
	}
	if log == nil {
		log = logger.NewConsoleLogger(logger.InfoLevel)
	}
	return &Orchestrator{
		cfg:       cfg,
		adapter:   adapter,
		resolver:  resolver,
		transport: transport,
		state:     state,
		logger:    log.WithName("session"),
	}
}

// OnEvent registers a callback for phase transitions.
func (o *Orchestrator) OnEvent(cb models.EventCallback) {
	o.emit = cb
}

// State returns the shared session state.
func (o *Orchestrator) State() *State {
	return o.state
}

// Run drives the session until the context is cancelled. Initialization
// failures are fatal and returned; everything after a successful start is
// recovered internally and only visible as phase transitions.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.initialize(); err != nil {
		o.setPhase(PhaseTerminated, "")
		return fmt.Errorf("session start: %w", err)
	}
	defer o.teardown()

	for ctx.Err() == nil {
		o.setPhase(PhaseAdvertising, "")
		if err := o.advertise(); err != nil {
			return fmt.Errorf("advertise: %w", err)
		}

		o.setPhase(PhaseAwaitingConnection, "")
		link, peer, err := o.awaitConnection(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.logger.Warn("connection attempt failed", logger.ErrorField(err))
			if !sleepCtx(ctx, o.cfg.RetryInterval) {
				return nil
			}
			continue
		}

		o.setPhase(PhaseConnected, peer.Address)
		o.logger.Info("console connected", logger.String("address", peer.Address))

		o.transmit(ctx, link)
		link.Close()

		if ctx.Err() != nil {
			return nil
		}

		o.setPhase(PhaseDisconnected, "")
		o.logger.Info("console disconnected")

		// Clear the stale pairing so the console can pair fresh.
		if peer.Path != "" {
			if err := o.adapter.RemovePeer(peer.Path); err != nil {
				o.logger.Warn("failed to remove stale peer", logger.ErrorField(err))
			}
		}
	}
	return nil
}

// initialize prepares the adapter identity: compat mode, power, class, alias
// and the spoofed address. Any failure aborts the session.
func (o *Orchestrator) initialize() error {
	o.setPhase(PhaseInitializing, "")

	if err := o.adapter.SetCompatMode(true); err != nil {
		return err
	}
	if err := o.adapter.SetPowered(true); err != nil {
		return fmt.Errorf("power adapter: %w", err)
	}
	if err := o.adapter.SetDeviceClass(o.cfg.DeviceClass); err != nil {
		return err
	}
	if err := o.adapter.SetAlias(o.cfg.Alias); err != nil {
		return fmt.Errorf("set alias: %w", err)
	}
	if o.cfg.SpoofAddress != "" {
		if err := o.adapter.SpoofAddress(o.cfg.SpoofAddress); err != nil {
			return err
		}
	}

	addr, err := o.adapter.Address()
	if err != nil {
		return err
	}
	o.localAddr = addr

	o.logger.Info("adapter ready",
		logger.String("address", addr),
		logger.String("alias", o.cfg.Alias),
	)
	return nil
}

// advertise registers the SDP profile (once per session) and opens the
// discoverable/pairable window.
func (o *Orchestrator) advertise() error {
	if !o.registered {
		if err := o.adapter.RegisterControllerProfile(); err != nil {
			return err
		}
		o.registered = true
	}
	if err := o.adapter.SetDiscoverableTimeout(0); err != nil {
		return fmt.Errorf("set discoverable timeout: %w", err)
	}
	if err := o.adapter.SetDiscoverable(true); err != nil {
		return fmt.Errorf("set discoverable: %w", err)
	}
	if err := o.adapter.SetPairable(true); err != nil {
		return fmt.Errorf("set pairable: %w", err)
	}
	return nil
}

// awaitConnection blocks until a console is linked and visible to BlueZ.
// There is no internal timeout; a caller wanting a bounded wait cancels the
// context.
func (o *Orchestrator) awaitConnection(ctx context.Context) (Link, bluez.Peer, error) {
	if o.cfg.ReconnectAddress != "" {
		link, err := o.transport.Connect(ctx, o.localAddr, o.cfg.ReconnectAddress)
		if err != nil {
			return nil, bluez.Peer{}, err
		}
		peer, err := o.resolver.AwaitConnectedAddress(ctx, o.cfg.ReconnectAddress)
		if err != nil {
			link.Close()
			return nil, bluez.Peer{}, err
		}
		return link, peer, nil
	}

	link, err := o.transport.Accept(ctx, o.localAddr)
	if err != nil {
		return nil, bluez.Peer{}, err
	}

	var peer bluez.Peer
	if remote := link.RemoteAddress(); remote != "" {
		peer, err = o.resolver.AwaitConnectedAddress(ctx, remote)
	} else {
		peer, err = o.resolver.AwaitAnyConnection(ctx, "")
	}
	if err != nil {
		link.Close()
		return nil, bluez.Peer{}, err
	}
	return link, peer, nil
}

// transmit is the timing-critical loop: every tick it sends either the next
// playback packet or a copy of the live desired packet, appending to the
// recording when capture is on. It returns when the link dies or the context
// ends; a failed send is a disconnect signal, never an error to the caller.
func (o *Orchestrator) transmit(ctx context.Context, link Link) {
	for ctx.Err() == nil {
		snap := o.state.tickSnapshot()

		if snap.playing {
			pkt, ok, wrapped := o.state.nextPlayback()
			if !ok {
				// Nothing recorded; idle this tick.
				if !sleepCtx(ctx, o.cfg.TickInterval) {
					return
				}
				continue
			}
			if err := link.SendReport(pkt[:]); err != nil {
				o.logger.Debug("send failed", logger.ErrorField(err))
				return
			}
			if wrapped {
				o.logger.Debug("playback loop complete",
					logger.Duration("pause", o.cfg.LoopPause))
				if !sleepCtx(ctx, o.cfg.LoopPause) {
					return
				}
			}
		} else {
			pkt := snap.desired
			if err := link.SendReport(pkt[:]); err != nil {
				o.logger.Debug("send failed", logger.ErrorField(err))
				return
			}
			if snap.recording {
				o.state.appendRecorded(pkt)
			}
		}

		if !sleepCtx(ctx, o.cfg.TickInterval) {
			return
		}
	}
}

// teardown runs after the transmission loop has stopped: the profile is
// unregistered and the advertising window closed.
func (o *Orchestrator) teardown() {
	o.setPhase(PhaseTerminated, "")

	if o.registered {
		if err := o.adapter.UnregisterControllerProfile(); err != nil {
			o.logger.Warn("failed to unregister profile", logger.ErrorField(err))
		}
		o.registered = false
	}
	if err := o.adapter.SetDiscoverable(false); err != nil {
		o.logger.Warn("failed to clear discoverable", logger.ErrorField(err))
	}
	if err := o.adapter.SetPairable(false); err != nil {
		o.logger.Warn("failed to clear pairable", logger.ErrorField(err))
	}

	o.logger.Info("session terminated")
}

func (o *Orchestrator) setPhase(phase Phase, peer string) {
	o.state.setPhase(phase, peer)
	if o.emit != nil {
		o.emit(models.EventTypePhaseChanged, models.PhaseChangedData{
			Phase: string(phase),
			Peer:  peer,
		})
	}
}

// sleepCtx sleeps for d or until the context ends; it reports whether the
// full sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
