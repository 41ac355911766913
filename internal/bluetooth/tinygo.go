package bluetooth

import (
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

const (
	bluezBus     = "org.bluez"
	bluezDevice1 = "org.bluez.Device1"
)

// TinyGoRadio drives the host adapter through tinygo.org/x/bluetooth. Peer
// RSSI is read from BlueZ over D-Bus since the GATT client has no RSSI call.
type TinyGoRadio struct {
	adapter   *bluetooth.Adapter
	adapterID string

	mu           sync.Mutex
	seen         map[string]bluetooth.Address
	onDisconnect func(string)
}

// NewTinyGoRadio wraps the default adapter. adapterID (e.g. "hci0") names the
// BlueZ object path used for RSSI reads.
func NewTinyGoRadio(adapterID string) *TinyGoRadio {
	if adapterID == "" {
		adapterID = "hci0"
	}
	return &TinyGoRadio{
		adapter:   bluetooth.DefaultAdapter,
		adapterID: adapterID,
		seen:      make(map[string]bluetooth.Address),
	}
}

// Enable powers the adapter and installs the connection handler.
func (r *TinyGoRadio) Enable() error {
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w (try running with sudo or setcap cap_net_admin+ep)", err)
	}
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		r.mu.Lock()
		h := r.onDisconnect
		r.mu.Unlock()
		if h != nil {
			h(device.Address.String())
		}
	})
	return nil
}

func (r *TinyGoRadio) SetDisconnectHandler(h func(address string)) {
	r.mu.Lock()
	r.onDisconnect = h
	r.mu.Unlock()
}

func (r *TinyGoRadio) Scan(serviceUUID string, found func(Advertisement)) error {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("parse service uuid: %w", err)
	}
	return r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		addr := result.Address.String()
		r.mu.Lock()
		r.seen[addr] = result.Address
		r.mu.Unlock()
		name := result.LocalName()
		if name == "" {
			var ids []uint16
			for _, m := range result.ManufacturerData() {
				ids = append(ids, m.CompanyID)
			}
			name = fallbackName(addr, ids)
		}
		found(Advertisement{Address: addr, Name: name, RSSI: result.RSSI})
	})
}

func (r *TinyGoRadio) StopScan() error {
	return r.adapter.StopScan()
}

func (r *TinyGoRadio) Connect(address string) (Peer, error) {
	r.mu.Lock()
	addr, ok := r.seen[address]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("connect %s: device was not seen in a scan", address)
	}
	dev, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}
	return &tinyGoPeer{dev: dev, address: address, adapterID: r.adapterID}, nil
}

type tinyGoPeer struct {
	dev       bluetooth.Device
	address   string
	adapterID string
}

func (p *tinyGoPeer) Address() string { return p.address }

func (p *tinyGoPeer) Discover(serviceUUID, charUUID string) (Channel, error) {
	svcID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("parse service uuid: %w", err)
	}
	charID, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("parse characteristic uuid: %w", err)
	}
	services, err := p.dev.DiscoverServices([]bluetooth.UUID{svcID})
	if err != nil || len(services) == 0 {
		return nil, fmt.Errorf("discover service %s: %w", serviceUUID, ErrUnsupportedPeer)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charID})
	if err != nil || len(chars) == 0 {
		return nil, fmt.Errorf("discover characteristic %s: %w", charUUID, ErrUnsupportedPeer)
	}
	return &tinyGoChannel{char: chars[0]}, nil
}

func (p *tinyGoPeer) RSSI() (int16, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return 0, fmt.Errorf("failed to connect to system DBus: %w", err)
	}
	return getDBusProperty[int16](conn, adapterDevicePath(p.adapterID, p.address), bluezDevice1, "RSSI")
}

func (p *tinyGoPeer) Disconnect() error {
	return p.dev.Disconnect()
}

type tinyGoChannel struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoChannel) EnableNotifications(h func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The buffer is reused by the stack.
		h(append([]byte(nil), buf...))
	})
}

func (c *tinyGoChannel) Write(b []byte) error {
	_, err := c.char.WriteWithoutResponse(b)
	return err
}

func adapterDevicePath(adapter, address string) dbus.ObjectPath {
	devAddr := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, devAddr))
}

// getDBusProperty reads a property from a BlueZ DBus object.
func getDBusProperty[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, property string) (T, error) {
	var zero T
	variant, err := conn.Object(bluezBus, path).GetProperty(iface + "." + property)
	if err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("property %s.%s has unexpected type %T", iface, property, variant.Value())
	}
	return val, nil
}
