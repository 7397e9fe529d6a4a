package bluez

import (
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestMatchesAlias(t *testing.T) {
	tests := []struct {
		alias    string
		filter   string
		expected bool
	}{
		{"Nintendo Switch", "Nintendo Switch", true},
		{"nintendo switch", "NINTENDO SWITCH", true},
		{"Nintendo Switch", "nintendo switch", true},
		{"Pro Controller", "Nintendo Switch", false},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.alias+"/"+tt.filter, func(t *testing.T) {
			if got := matchesAlias(tt.alias, tt.filter); got != tt.expected {
				t.Errorf("matchesAlias(%q, %q) = %v, want %v", tt.alias, tt.filter, got, tt.expected)
			}
		})
	}
}

func TestAdapterIDFromPath(t *testing.T) {
	tests := []struct {
		path     dbus.ObjectPath
		expected string
	}{
		{"/org/bluez/hci0", "hci0"},
		{"/org/bluez/hci12", "hci12"},
		{"hci0", "hci0"},
	}

	for _, tt := range tests {
		t.Run(string(tt.path), func(t *testing.T) {
			if got := adapterIDFromPath(tt.path); got != tt.expected {
				t.Errorf("adapterIDFromPath(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestPeerFromProps(t *testing.T) {
	props := map[string]dbus.Variant{
		"Address":   dbus.MakeVariant("98:b6:e9:e6:88:7f"),
		"Alias":     dbus.MakeVariant("Nintendo Switch"),
		"Connected": dbus.MakeVariant(true),
		"Paired":    dbus.MakeVariant(false),
	}

	p := peerFromProps("/org/bluez/hci0/dev_98_B6_E9_E6_88_7F", props)

	if p.Address != "98:B6:E9:E6:88:7F" {
		t.Errorf("Expected uppercased address, got %q", p.Address)
	}
	if p.Alias != "Nintendo Switch" {
		t.Errorf("Unexpected alias: %q", p.Alias)
	}
	if !p.Connected {
		t.Error("Expected connected peer")
	}
	if p.Paired {
		t.Error("Expected unpaired peer")
	}
}

func TestPeerFromPropsMissingFields(t *testing.T) {
	p := peerFromProps("/org/bluez/hci0/dev_X", map[string]dbus.Variant{})

	if p.Address != "" || p.Alias != "" || p.Connected || p.Paired {
		t.Errorf("Expected zero-value peer fields, got %+v", p)
	}
	if p.Path != "/org/bluez/hci0/dev_X" {
		t.Errorf("Expected path to be kept, got %q", p.Path)
	}
}

func TestFilterPeers(t *testing.T) {
	peers := []Peer{
		{Address: "AA:AA:AA:AA:AA:AA", Connected: true, Alias: "Nintendo Switch"},
		{Address: "BB:BB:BB:BB:BB:BB", Connected: false, Alias: "Nintendo Switch"},
		{Address: "CC:CC:CC:CC:CC:CC", Connected: true, Alias: "Headphones"},
	}

	connected := filterPeers(peers, func(p Peer) bool { return p.Connected })
	if len(connected) != 2 {
		t.Errorf("Expected 2 connected peers, got %d", len(connected))
	}

	switches := filterPeers(peers, func(p Peer) bool {
		return p.Connected && matchesAlias(p.Alias, "nintendo switch")
	})
	if len(switches) != 1 || switches[0].Address != "AA:AA:AA:AA:AA:AA" {
		t.Errorf("Unexpected filtered peers: %+v", switches)
	}

	none := filterPeers(nil, func(Peer) bool { return true })
	if len(none) != 0 {
		t.Errorf("Expected empty result for nil input, got %+v", none)
	}
}

func TestControllerProfileOptions(t *testing.T) {
	opts := ControllerProfileOptions()

	if opts["Role"] != "server" {
		t.Errorf("Expected server role, got %v", opts["Role"])
	}
	if opts["RequireAuthentication"] != false || opts["RequireAuthorization"] != false {
		t.Error("Console pairing must not require authentication or authorization")
	}
	if opts["AutoConnect"] != true {
		t.Error("Expected AutoConnect to be enabled")
	}

	record, ok := opts["ServiceRecord"].(string)
	if !ok || record == "" {
		t.Fatal("Expected a service record string")
	}
	for _, needle := range []string{"0x1124", "0x0011", "0x0013", "Wireless Gamepad"} {
		if !strings.Contains(record, needle) {
			t.Errorf("Service record missing %q", needle)
		}
	}
}
