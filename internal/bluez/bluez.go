// Package bluez manages the host Bluetooth stack for controller emulation:
// adapter selection and identity, SDP profile registration, peer device
// enumeration and the compat-mode service override. All calls are blocking
// and intended for session setup/teardown, never for the per-tick path.
package bluez

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/nxpad/go-procon-server/internal/logger"
)

const (
	busName             = "org.bluez"
	bluezRootPath       = "/org/bluez"
	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	profileManagerIface = "org.bluez.ProfileManager1"
	propsIface          = "org.freedesktop.DBus.Properties"
	objectManagerIface  = "org.freedesktop.DBus.ObjectManager"
)

var hciIDPattern = regexp.MustCompile(`^hci\d+$`)

// managedObject is one entry of the ObjectManager tree: interface name to
// property map.
type managedObject map[string]map[string]dbus.Variant

// Peer is a remote device known to BlueZ (paired, connected or discovered).
type Peer struct {
	Path      dbus.ObjectPath
	Address   string
	Alias     string
	Connected bool
	Paired    bool
}

// Manager wraps the BlueZ D-Bus API for one adapter.
type Manager struct {
	conn   *dbus.Conn
	runner CommandRunner
	logger *logger.Logger

	adapterPath dbus.ObjectPath
	adapterID   string

	servicePath string
	overrideDir string
}

// Options configures a Manager.
type Options struct {
	// AdapterHint selects the adapter: an object path (/org/bluez/hci0), an
	// adapter id (hci0) or a MAC address. Empty selects the first adapter.
	AdapterHint string
	// ServicePath is the bluetooth systemd unit file.
	ServicePath string
	// OverrideDir is the systemd drop-in directory for the compat override.
	OverrideDir string
	Runner      CommandRunner
	Logger      *logger.Logger
}

// NewManager connects to the system bus and resolves the adapter.
func NewManager(opts Options) (*Manager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	if opts.Runner == nil {
		opts.Runner = NewCommandRunner()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewConsoleLogger(logger.InfoLevel)
	}
	if opts.ServicePath == "" {
		opts.ServicePath = "/lib/systemd/system/bluetooth.service"
	}
	if opts.OverrideDir == "" {
		opts.OverrideDir = "/run/systemd/system/bluetooth.service.d"
	}

	m := &Manager{
		conn:        conn,
		runner:      opts.Runner,
		logger:      opts.Logger.WithName("bluez"),
		servicePath: opts.ServicePath,
		overrideDir: opts.OverrideDir,
	}

	path, err := m.selectAdapter(opts.AdapterHint)
	if err != nil {
		conn.Close()
		return nil, err
	}
	m.adapterPath = path
	m.adapterID = adapterIDFromPath(path)

	m.logger.Debug("using adapter", logger.String("path", string(path)))
	return m, nil
}

// Close releases the bus connection.
func (m *Manager) Close() error {
	return m.conn.Close()
}

// AdapterPath returns the D-Bus object path of the selected adapter.
func (m *Manager) AdapterPath() dbus.ObjectPath {
	return m.adapterPath
}

// AdapterID returns the hciX identifier of the selected adapter.
func (m *Manager) AdapterID() string {
	return m.adapterID
}

// selectAdapter resolves an adapter object path from the hint, or picks the
// first object exposing Adapter1 when no hint is given.
func (m *Manager) selectAdapter(hint string) (dbus.ObjectPath, error) {
	if strings.HasPrefix(hint, "/") {
		return dbus.ObjectPath(hint), nil
	}
	if hciIDPattern.MatchString(hint) {
		return dbus.ObjectPath(bluezRootPath + "/" + hint), nil
	}

	objects, err := m.managedObjects()
	if err != nil {
		return "", fmt.Errorf("enumerate bus objects: %w", err)
	}

	for path, ifaces := range objects {
		props, ok := ifaces[adapterIface]
		if !ok {
			continue
		}
		if hint == "" {
			return path, nil
		}
		if addr, ok := props["Address"].Value().(string); ok && strings.EqualFold(addr, hint) {
			return path, nil
		}
	}

	return "", ErrAdapterNotFound
}

// managedObjects fetches the full BlueZ object tree. Fetched fresh on every
// call; these walks only happen during connection setup.
func (m *Manager) managedObjects() (map[dbus.ObjectPath]managedObject, error) {
	var objects map[dbus.ObjectPath]managedObject
	err := m.conn.Object(busName, "/").
		Call(objectManagerIface+".GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return nil, err
	}
	return objects, nil
}

// --- adapter properties ---

func (m *Manager) getAdapterProp(prop string) (dbus.Variant, error) {
	obj := m.conn.Object(busName, m.adapterPath)
	var v dbus.Variant
	err := obj.Call(propsIface+".Get", 0, adapterIface, prop).Store(&v)
	return v, err
}

// setAdapterProp issues a property write. BlueZ acks the call but applies
// some properties asynchronously; callers needing confirmation must poll the
// corresponding read.
func (m *Manager) setAdapterProp(prop string, val interface{}) error {
	obj := m.conn.Object(busName, m.adapterPath)
	return obj.Call(propsIface+".Set", 0, adapterIface, prop, dbus.MakeVariant(val)).Err
}

// Address returns the adapter MAC address, uppercased.
func (m *Manager) Address() (string, error) {
	v, err := m.getAdapterProp("Address")
	if err != nil {
		return "", fmt.Errorf("get adapter address: %w", err)
	}
	addr, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("adapter address is not a string")
	}
	return strings.ToUpper(addr), nil
}

// Name returns the adapter name.
func (m *Manager) Name() (string, error) {
	v, err := m.getAdapterProp("Name")
	if err != nil {
		return "", fmt.Errorf("get adapter name: %w", err)
	}
	name, _ := v.Value().(string)
	return name, nil
}

func (m *Manager) SetPowered(on bool) error {
	return m.setAdapterProp("Powered", on)
}

func (m *Manager) SetPairable(on bool) error {
	return m.setAdapterProp("Pairable", on)
}

func (m *Manager) SetPairableTimeout(seconds uint32) error {
	return m.setAdapterProp("PairableTimeout", seconds)
}

func (m *Manager) SetDiscoverable(on bool) error {
	return m.setAdapterProp("Discoverable", on)
}

// SetDiscoverableTimeout sets the discoverable window in seconds. Zero means
// the adapter stays discoverable indefinitely.
func (m *Manager) SetDiscoverableTimeout(seconds uint32) error {
	return m.setAdapterProp("DiscoverableTimeout", seconds)
}

func (m *Manager) SetAlias(alias string) error {
	return m.setAdapterProp("Alias", alias)
}

// --- profiles ---

// RegisterProfile registers an SDP record with the BlueZ profile manager.
func (m *Manager) RegisterProfile(profilePath dbus.ObjectPath, uuid string, opts map[string]interface{}) error {
	variants := make(map[string]dbus.Variant, len(opts))
	for k, v := range opts {
		variants[k] = dbus.MakeVariant(v)
	}

	obj := m.conn.Object(busName, bluezRootPath)
	if err := obj.Call(profileManagerIface+".RegisterProfile", 0, profilePath, uuid, variants).Err; err != nil {
		return fmt.Errorf("%w: %v", ErrProfileRegistration, err)
	}
	return nil
}

// UnregisterProfile removes a previously registered SDP record.
func (m *Manager) UnregisterProfile(profilePath dbus.ObjectPath) error {
	obj := m.conn.Object(busName, bluezRootPath)
	return obj.Call(profileManagerIface+".UnregisterProfile", 0, profilePath).Err
}

// --- peer devices ---

// Peers lists every device object BlueZ knows about.
func (m *Manager) Peers() ([]Peer, error) {
	objects, err := m.managedObjects()
	if err != nil {
		return nil, fmt.Errorf("enumerate bus objects: %w", err)
	}

	var peers []Peer
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		peers = append(peers, peerFromProps(path, props))
	}
	return peers, nil
}

// FindPeersByAlias returns devices whose alias matches, case-insensitively.
// Aliases are uppercased before comparison, matching BlueZ's own
// normalization.
func (m *Manager) FindPeersByAlias(alias string) ([]Peer, error) {
	peers, err := m.Peers()
	if err != nil {
		return nil, err
	}
	return filterPeers(peers, func(p Peer) bool {
		return matchesAlias(p.Alias, alias)
	}), nil
}

// FindConnectedPeers returns all currently connected devices, optionally
// narrowed to those matching the alias filter.
func (m *Manager) FindConnectedPeers(aliasFilter string) ([]Peer, error) {
	peers, err := m.Peers()
	if err != nil {
		return nil, err
	}
	return filterPeers(peers, func(p Peer) bool {
		if !p.Connected {
			return false
		}
		return aliasFilter == "" || matchesAlias(p.Alias, aliasFilter)
	}), nil
}

// RemovePeer deletes a device record, clearing any stale pairing.
func (m *Manager) RemovePeer(path dbus.ObjectPath) error {
	obj := m.conn.Object(busName, m.adapterPath)
	if err := obj.Call(adapterIface+".RemoveDevice", 0, path).Err; err != nil {
		return fmt.Errorf("remove device %s: %w", path, err)
	}
	return nil
}

func peerFromProps(path dbus.ObjectPath, props map[string]dbus.Variant) Peer {
	p := Peer{Path: path}
	if addr, ok := props["Address"].Value().(string); ok {
		p.Address = strings.ToUpper(addr)
	}
	if alias, ok := props["Alias"].Value().(string); ok {
		p.Alias = alias
	}
	if connected, ok := props["Connected"].Value().(bool); ok {
		p.Connected = connected
	}
	if paired, ok := props["Paired"].Value().(bool); ok {
		p.Paired = paired
	}
	return p
}

func filterPeers(peers []Peer, keep func(Peer) bool) []Peer {
	var out []Peer
	for _, p := range peers {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func matchesAlias(alias, filter string) bool {
	return strings.EqualFold(alias, filter)
}

func adapterIDFromPath(path dbus.ObjectPath) string {
	s := string(path)
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
