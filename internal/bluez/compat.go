package bluez

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nxpad/go-procon-server/internal/logger"
)

const overrideFileName = "procon.conf"

// settleDelay gives the restarted bluetooth service time to come back up
// before the next D-Bus call.
var settleDelay = 500 * time.Millisecond

// SetCompatMode toggles the systemd drop-in that relaunches bluetoothd in
// compatibility mode with all plugins disabled. The stock input plugin claims
// the HID device role this process needs to take over.
//
// The drop-in file is the source of truth: when it already matches the
// requested state, nothing is written and the service is not restarted, so an
// active session is never dropped needlessly.
func (m *Manager) SetCompatMode(enable bool) error {
	overridePath := filepath.Join(m.overrideDir, overrideFileName)

	if enable {
		if _, err := os.Stat(overridePath); err == nil {
			// Override already in place.
			return nil
		}

		execStart, err := readExecStart(m.servicePath)
		if err != nil {
			return err
		}

		override := fmt.Sprintf("[Service]\nExecStart=\n%s --compat --noplugin=*\n", execStart)

		if err := os.MkdirAll(m.overrideDir, 0755); err != nil {
			return wrapPermission(fmt.Errorf("create override dir: %w", err))
		}
		if err := os.WriteFile(overridePath, []byte(override), 0644); err != nil {
			return wrapPermission(fmt.Errorf("write override: %w", err))
		}
	} else {
		if err := os.Remove(overridePath); err != nil {
			if os.IsNotExist(err) {
				// Override already absent.
				return nil
			}
			return wrapPermission(fmt.Errorf("remove override: %w", err))
		}
	}

	if err := m.runner.Run("systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("reload systemd units: %w", err)
	}
	if err := m.runner.Run("systemctl", "restart", "bluetooth"); err != nil {
		return fmt.Errorf("restart bluetooth service: %w", err)
	}

	// Give bluetoothd time to re-register on the bus.
	time.Sleep(settleDelay)

	m.logger.Info("bluetooth compat mode updated", logger.Bool("enabled", enable))
	return nil
}

// readExecStart extracts the ExecStart line from the bluetooth unit file.
func readExecStart(servicePath string) (string, error) {
	f, err := os.Open(servicePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrServiceConfig, servicePath)
		}
		return "", wrapPermission(fmt.Errorf("open service unit: %w", err))
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "ExecStart=") {
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read service unit: %w", err)
	}

	return "", fmt.Errorf("%w: no ExecStart line in %s", ErrServiceConfig, servicePath)
}

func wrapPermission(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}
	return err
}
