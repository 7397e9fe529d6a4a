package bluez

import "errors"

var (
	// ErrAdapterNotFound is returned when no object on the system bus
	// exposes the org.bluez.Adapter1 interface.
	ErrAdapterNotFound = errors.New("bluez: no usable bluetooth adapter found")

	// ErrMissingTool is returned when a required helper binary is not on PATH.
	ErrMissingTool = errors.New("bluez: required command-line tool not available")

	// ErrPermission is returned when an operation needs elevated privileges.
	ErrPermission = errors.New("bluez: operation requires elevated privileges")

	// ErrServiceConfig is returned when the bluetooth systemd unit is absent
	// or has no ExecStart line to derive the compat override from.
	ErrServiceConfig = errors.New("bluez: bluetooth service unit is missing or malformed")

	// ErrProfileRegistration is returned when BlueZ rejects the SDP record.
	ErrProfileRegistration = errors.New("bluez: profile registration rejected")

	// ErrPeerNotFound is returned when a peer wait ends without a match.
	ErrPeerNotFound = errors.New("bluez: no matching peer device")
)
