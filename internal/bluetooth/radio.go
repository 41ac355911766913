package bluetooth

import "errors"

var (
	// ErrNotConnected is returned when an operation needs an established link.
	ErrNotConnected = errors.New("lock not connected")
	// ErrUnsupportedPeer means the command characteristic was not found.
	ErrUnsupportedPeer = errors.New("peer does not expose the lock command channel")
)

// Advertisement is a scan result that matched the service filter.
type Advertisement struct {
	Address string
	Name    string
	RSSI    int16
}

// Radio is the host's BLE adapter.
type Radio interface {
	Enable() error
	// Scan blocks, reporting advertisements that carry serviceUUID, until
	// StopScan is called.
	Scan(serviceUUID string, found func(Advertisement)) error
	StopScan() error
	Connect(address string) (Peer, error)
	// SetDisconnectHandler registers a callback for links dropped by the peer
	// or the radio.
	SetDisconnectHandler(func(address string))
}

// Peer is a connected remote device.
type Peer interface {
	Address() string
	Discover(serviceUUID, charUUID string) (Channel, error)
	RSSI() (int16, error)
	Disconnect() error
}

// Channel is the lock's command characteristic: written by us, notifying back.
type Channel interface {
	EnableNotifications(func([]byte)) error
	Write([]byte) error
}
