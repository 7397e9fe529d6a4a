package bluez

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/nxpad/go-procon-server/internal/logger"
)

// Tools required to rewrite the controller address at the firmware level.
const (
	toolHcitool   = "hcitool"
	toolHciconfig = "hciconfig"
)

// SpoofAddress rewrites the adapter's hardware address via the HCI vendor
// command. Consoles validate the peer address against the vendor-assigned
// controller range, so the software-visible property alone is not enough.
// The vendor command takes the six octets in little-endian order; a radio
// reset applies the change.
func (m *Manager) SpoofAddress(target string) error {
	for _, tool := range []string{toolHcitool, toolHciconfig} {
		if _, err := m.runner.LookPath(tool); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingTool, tool)
		}
	}

	hw, err := net.ParseMAC(target)
	if err != nil || len(hw) != 6 {
		return fmt.Errorf("invalid target address %q: %v", target, err)
	}

	args := []string{"-i", m.adapterID, "cmd", "0x3f", "0x001"}
	for i := len(hw) - 1; i >= 0; i-- {
		args = append(args, fmt.Sprintf("0x%02x", hw[i]))
	}
	if err := m.runner.Run(toolHcitool, args...); err != nil {
		return wrapHCIError(fmt.Sprintf("set address on %s", m.adapterID), err)
	}

	if err := m.runner.Run(toolHciconfig, m.adapterID, "reset"); err != nil {
		return wrapHCIError(fmt.Sprintf("reset %s", m.adapterID), err)
	}

	m.logger.Info("adapter address spoofed",
		logger.String("adapter", m.adapterID),
		logger.String("address", strings.ToUpper(target)),
	)
	return nil
}

// SetDeviceClass sets the adapter's device class (e.g. 0x002508 for a
// gamepad) through hciconfig.
func (m *Manager) SetDeviceClass(class string) error {
	if _, err := m.runner.LookPath(toolHciconfig); err != nil {
		return fmt.Errorf("%w: %s", ErrMissingTool, toolHciconfig)
	}
	if err := m.runner.Run(toolHciconfig, m.adapterID, "class", class); err != nil {
		return wrapHCIError(fmt.Sprintf("set class on %s", m.adapterID), err)
	}
	return nil
}

// wrapHCIError maps privilege failures from the HCI helpers to ErrPermission.
// The helpers need CAP_NET_ADMIN; without it they report EPERM, either as the
// raw errno or as "Operation not permitted" on stderr with a zero exit.
func wrapHCIError(op string, err error) error {
	if errors.Is(err, os.ErrPermission) || strings.Contains(err.Error(), "Operation not permitted") {
		return fmt.Errorf("%w: %s: %v", ErrPermission, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
