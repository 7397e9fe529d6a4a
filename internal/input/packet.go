// Package input defines the opaque controller input packet moved around by the
// session layer. The byte layout is produced by an external encoder; this
// package only fixes the size, the neutral default and the wire encoding used
// by the control plane.
package input

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PacketSize is the fixed length of one input report body in bytes.
const PacketSize = 63

// Packet is one instant of controller input. It is a value type: assigning or
// passing a Packet copies it, so a captured frame can never be mutated by a
// later writer.
type Packet [PacketSize]byte

// Idle returns the all-neutral packet: no buttons held, both sticks centered.
func Idle() Packet {
	var p Packet
	// Battery full, connection info nibble.
	p[1] = 0x8e
	// Sticks at 12-bit center (0x800) in the packed 3-byte axis encoding.
	center := [3]byte{0x00, 0x08, 0x80}
	copy(p[4:7], center[:])
	copy(p[7:10], center[:])
	// Vibrator input report.
	p[10] = 0x08
	return p
}

// FromBytes builds a Packet from raw report bytes. Short input is
// zero-padded; oversized input is rejected.
func FromBytes(b []byte) (Packet, error) {
	var p Packet
	if len(b) > PacketSize {
		return p, fmt.Errorf("packet too large: %d bytes (max %d)", len(b), PacketSize)
	}
	copy(p[:], b)
	return p, nil
}

// MarshalJSON encodes the packet as a lowercase hex string.
func (p Packet) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(p[:]))
}

// UnmarshalJSON decodes a hex string of at most PacketSize bytes.
func (p *Packet) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid packet hex: %w", err)
	}
	pkt, err := FromBytes(raw)
	if err != nil {
		return err
	}
	*p = pkt
	return nil
}

// String returns the hex form, for logs.
func (p Packet) String() string {
	return hex.EncodeToString(p[:])
}
