package bluez

import "github.com/godbus/dbus/v5"

// HID service class UUID advertised by the emulated controller.
const HIDProfileUUID = "00001124-0000-1000-8000-00805f9b34fb"

// ControllerProfilePath is the D-Bus object path the profile is registered
// under for the lifetime of one session.
const ControllerProfilePath = dbus.ObjectPath("/bluez/procon/controller")

// ControllerAlias is the adapter alias the console expects from a Pro
// Controller.
const ControllerAlias = "Pro Controller"

// ControllerDeviceClass marks the adapter as a gamepad peripheral.
const ControllerDeviceClass = "0x002508"

// ControllerProfileOptions returns the profile-manager option set for the
// emulated controller's SDP record.
func ControllerProfileOptions() map[string]interface{} {
	return map[string]interface{}{
		"Name":                  "Nintendo Switch Pro Controller",
		"Role":                  "server",
		"RequireAuthentication": false,
		"RequireAuthorization":  false,
		"AutoConnect":           true,
		"ServiceRecord":         controllerServiceRecord,
	}
}

// RegisterControllerProfile registers the Pro Controller SDP record.
func (m *Manager) RegisterControllerProfile() error {
	return m.RegisterProfile(ControllerProfilePath, HIDProfileUUID, ControllerProfileOptions())
}

// UnregisterControllerProfile removes the Pro Controller SDP record.
func (m *Manager) UnregisterControllerProfile() error {
	return m.UnregisterProfile(ControllerProfilePath)
}

// controllerServiceRecord is the SDP record for the emulated HID gamepad:
// L2CAP control PSM 17, interrupt PSM 19, HID profile 1.1, report descriptor
// in attribute 0x0206.
const controllerServiceRecord = `<?xml version="1.0" encoding="UTF-8" ?>
<record>
    <attribute id="0x0001">
        <sequence>
            <uuid value="0x1124" />
        </sequence>
    </attribute>
    <attribute id="0x0004">
        <sequence>
            <sequence>
                <uuid value="0x0100" />
                <uint16 value="0x0011" />
            </sequence>
            <sequence>
                <uuid value="0x0011" />
            </sequence>
        </sequence>
    </attribute>
    <attribute id="0x0005">
        <sequence>
            <uuid value="0x1002" />
        </sequence>
    </attribute>
    <attribute id="0x0006">
        <sequence>
            <uint16 value="0x656e" />
            <uint16 value="0x006a" />
            <uint16 value="0x0100" />
        </sequence>
    </attribute>
    <attribute id="0x0009">
        <sequence>
            <sequence>
                <uuid value="0x1124" />
                <uint16 value="0x0101" />
            </sequence>
        </sequence>
    </attribute>
    <attribute id="0x000d">
        <sequence>
            <sequence>
                <sequence>
                    <uuid value="0x0100" />
                    <uint16 value="0x0013" />
                </sequence>
                <sequence>
                    <uuid value="0x0011" />
                </sequence>
            </sequence>
        </sequence>
    </attribute>
    <attribute id="0x0100">
        <text value="Wireless Gamepad" />
    </attribute>
    <attribute id="0x0101">
        <text value="Gamepad" />
    </attribute>
    <attribute id="0x0102">
        <text value="Nintendo" />
    </attribute>
    <attribute id="0x0200">
        <uint16 value="0x0100" />
    </attribute>
    <attribute id="0x0201">
        <uint16 value="0x0111" />
    </attribute>
    <attribute id="0x0202">
        <uint8 value="0x08" />
    </attribute>
    <attribute id="0x0203">
        <uint8 value="0x00" />
    </attribute>
    <attribute id="0x0204">
        <boolean value="true" />
    </attribute>
    <attribute id="0x0205">
        <boolean value="true" />
    </attribute>
    <attribute id="0x0206">
        <sequence>
            <sequence>
                <uint8 value="0x22" />
                <text encoding="hex" value="050115000904a1018530050105091901290a150025017501950a5500650081020509190b290e150025017501950481027501950281030b01000100a1000b300001000b310001000b320001000b35000100150027ffff0000751095048102c00b39000100150025073500463b0165147504950179040b440001009501750c550065802500972c81020600ff852109017508953f8103858109027508953f8103850109037508953f9183851009047508953f9183858009057508953f9183858209067508953f9183c0" />
            </sequence>
        </sequence>
    </attribute>
    <attribute id="0x0207">
        <sequence>
            <sequence>
                <uint16 value="0x0409" />
                <uint16 value="0x0100" />
            </sequence>
        </sequence>
    </attribute>
    <attribute id="0x020b">
        <uint16 value="0x0100" />
    </attribute>
    <attribute id="0x020c">
        <uint16 value="0x0c80" />
    </attribute>
    <attribute id="0x020d">
        <boolean value="false" />
    </attribute>
    <attribute id="0x020e">
        <boolean value="true" />
    </attribute>
    <attribute id="0x020f">
        <uint16 value="0x0640" />
    </attribute>
    <attribute id="0x0210">
        <uint16 value="0x0320" />
    </attribute>
</record>
`
