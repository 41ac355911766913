package bluetooth

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lock-approach.klederson.com/internal/config"
)

// EventKind identifies a link lifecycle event.
type EventKind int

const (
	EventDiscovered EventKind = iota
	EventConnected
	EventServicesReady
	EventNotification
	EventSignal
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventDiscovered:
		return "discovered"
	case EventConnected:
		return "connected"
	case EventServicesReady:
		return "services-ready"
	case EventNotification:
		return "notification"
	case EventSignal:
		return "signal"
	default:
		return "disconnected"
	}
}

// Event is delivered on LinkManager.Events.
type Event struct {
	Kind    EventKind
	Address string
	Name    string
	RSSI    int16  // Discovered, Signal
	Payload string // Notification
	Err     error  // Disconnected: why the link ended, nil for a normal drop
	At      time.Time
}

const (
	eventBuffer = 128
	// Slots that Discovered, Notification and Signal events may not use, so
	// lifecycle events always find room.
	lifecycleReserve = 16
)

// LinkManager owns the connection to one lock. It never holds more than one
// LockLink and reports every transition as an Event.
type LinkManager struct {
	radio       Radio
	serviceUUID string
	commandUUID string
	log         *slog.Logger
	events      chan Event
	closed      chan struct{}
	closeOnce   sync.Once
	now         func() time.Time

	mu       sync.Mutex
	scanning bool
	radioOn  bool // the radio scan for scanGen has been started
	scanGen  uint64
	scanDone chan struct{}
	seen     map[string]bool
	link     *LockLink
	peer     Peer
	channel  Channel
}

// NewLinkManager creates a manager for the lock described by cfg.
func NewLinkManager(radio Radio, cfg config.LockConfig, log *slog.Logger) *LinkManager {
	m := &LinkManager{
		radio:       radio,
		serviceUUID: cfg.ServiceUUID,
		commandUUID: cfg.CommandUUID,
		log:         log.With("component", "link"),
		events:      make(chan Event, eventBuffer),
		closed:      make(chan struct{}),
		now:         time.Now,
	}
	radio.SetDisconnectHandler(m.onRadioDisconnect)
	return m
}

// Enable powers the radio.
func (m *LinkManager) Enable() error {
	if err := m.radio.Enable(); err != nil {
		return fmt.Errorf("enable radio: %w", err)
	}
	return nil
}

// Close releases any goroutine blocked delivering a lifecycle event. Call it
// once the Events reader has stopped.
func (m *LinkManager) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
}

// Events returns the lifecycle stream.
func (m *LinkManager) Events() <-chan Event {
	return m.events
}

// Link returns a copy of the current link, if any.
func (m *LinkManager) Link() (LockLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return LockLink{}, false
	}
	return *m.link, true
}

// Scanning reports whether discovery is running.
func (m *LinkManager) Scanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanning
}

// Scan starts discovery filtered to the lock's service. No-op if already
// scanning or linked. A scan started right after StopScan waits for the
// previous radio scan to return before starting its own.
func (m *LinkManager) Scan() {
	m.mu.Lock()
	if m.scanning || m.link != nil {
		m.mu.Unlock()
		return
	}
	m.scanning = true
	m.radioOn = false
	m.scanGen++
	gen := m.scanGen
	prev := m.scanDone
	done := make(chan struct{})
	m.scanDone = done
	m.seen = make(map[string]bool)
	m.mu.Unlock()

	m.log.Info("scanning for lock", "service", m.serviceUUID)
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if !m.beginScan(gen) {
			return
		}

		err := m.radio.Scan(m.serviceUUID, m.onAdvertisement)

		// Only the scan that still owns the flag may clear it.
		m.mu.Lock()
		if m.scanGen == gen {
			m.scanning = false
			m.radioOn = false
		}
		m.mu.Unlock()
		if err != nil {
			m.log.Warn("scan failed", "error", err)
		}
	}()
}

// beginScan marks the radio scan for gen as started, unless it was stopped
// or superseded while waiting.
func (m *LinkManager) beginScan(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.scanning || m.scanGen != gen {
		return false
	}
	m.radioOn = true
	return true
}

func (m *LinkManager) onAdvertisement(adv Advertisement) {
	m.mu.Lock()
	if !m.scanning || m.seen[adv.Address] {
		m.mu.Unlock()
		return
	}
	m.seen[adv.Address] = true
	m.mu.Unlock()

	if !m.emit(Event{Kind: EventDiscovered, Address: adv.Address, Name: adv.Name, RSSI: adv.RSSI}) {
		// Report it again on the next advertisement.
		m.mu.Lock()
		delete(m.seen, adv.Address)
		m.mu.Unlock()
	}
}

// StopScan halts discovery. Safe when not scanning. A scan still waiting for
// its predecessor is cancelled without touching the radio.
func (m *LinkManager) StopScan() {
	m.mu.Lock()
	was := m.scanning && m.radioOn
	m.scanning = false
	m.radioOn = false
	m.mu.Unlock()
	if !was {
		return
	}
	if err := m.radio.StopScan(); err != nil {
		m.log.Warn("stop scan failed", "error", err)
	}
}

// Connect stops scanning and opens a link to a discovered lock. Connection
// and service discovery run in the background; the outcome arrives as
// Connected/ServicesReady or Disconnected events. No-op if a link exists.
func (m *LinkManager) Connect(adv Advertisement) {
	m.mu.Lock()
	if m.link != nil {
		m.mu.Unlock()
		m.log.Debug("connect ignored, link exists", "address", adv.Address)
		return
	}
	link := &LockLink{Address: adv.Address, Name: adv.Name, RSSI: adv.RSSI, State: StateConnecting}
	m.link = link
	m.mu.Unlock()

	m.StopScan()
	go m.connect(link)
}

func (m *LinkManager) connect(link *LockLink) {
	m.log.Info("connecting", "address", link.Address, "name", link.DisplayName())
	peer, err := m.radio.Connect(link.Address)
	if err != nil {
		m.log.Warn("connect failed", "address", link.Address, "error", err)
		m.drop(link, err)
		return
	}

	m.mu.Lock()
	if m.link != link {
		m.mu.Unlock()
		_ = peer.Disconnect()
		return
	}
	m.peer = peer
	link.State = StateConnected
	link.ConnectedAt = m.now()
	m.mu.Unlock()
	m.emit(Event{Kind: EventConnected, Address: link.Address, Name: link.Name})

	ch, err := peer.Discover(m.serviceUUID, m.commandUUID)
	if err != nil {
		if !errors.Is(err, ErrUnsupportedPeer) {
			err = fmt.Errorf("%w: %v", ErrUnsupportedPeer, err)
		}
		m.log.Warn("tearing down unsupported peer", "address", link.Address, "error", err)
		m.teardown(link, err)
		return
	}
	m.onServicesReady(link, ch)
}

func (m *LinkManager) onServicesReady(link *LockLink, ch Channel) {
	m.mu.Lock()
	if m.link != link {
		m.mu.Unlock()
		return
	}
	m.channel = ch
	link.State = StateReady
	m.mu.Unlock()
	m.log.Info("command channel ready", "address", link.Address)
	m.emit(Event{Kind: EventServicesReady, Address: link.Address})
}

// SubscribeNotifications enables delivery of lock notifications and returns
// the subscription time.
func (m *LinkManager) SubscribeNotifications() (time.Time, error) {
	m.mu.Lock()
	ch, link := m.channel, m.link
	m.mu.Unlock()
	if ch == nil || link == nil {
		return time.Time{}, ErrNotConnected
	}

	addr := link.Address
	err := ch.EnableNotifications(func(b []byte) {
		m.emit(Event{Kind: EventNotification, Address: addr, Payload: string(b)})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("enable notifications: %w", err)
	}

	at := m.now()
	m.mu.Lock()
	if m.link == link {
		link.SubscribedAt = at
	}
	m.mu.Unlock()
	m.log.Debug("notifications enabled", "address", addr)
	return at, nil
}

// Write sends a UTF-8 command. Failures are logged, never returned.
func (m *LinkManager) Write(cmd string) {
	m.mu.Lock()
	ch := m.channel
	m.mu.Unlock()
	if ch == nil {
		m.log.Warn("write dropped, not connected", "command", cmd)
		return
	}
	if err := ch.Write([]byte(cmd)); err != nil {
		m.log.Warn("write failed", "command", cmd, "error", err)
		return
	}
	m.log.Debug("wrote command", "command", cmd)
}

// ReadSignalStrength issues one RSSI read. The result arrives as a Signal
// event; failures are logged.
func (m *LinkManager) ReadSignalStrength() {
	m.mu.Lock()
	peer, link := m.peer, m.link
	m.mu.Unlock()
	if peer == nil {
		return
	}
	go func() {
		rssi, err := peer.RSSI()
		if err != nil {
			m.log.Debug("rssi read failed", "address", link.Address, "error", err)
			return
		}
		m.mu.Lock()
		current := m.link == link
		if current {
			link.RSSI = rssi
		}
		m.mu.Unlock()
		if current {
			m.emit(Event{Kind: EventSignal, Address: link.Address, RSSI: rssi})
		}
	}()
}

// Disconnect tears down the link and stops scanning.
func (m *LinkManager) Disconnect() {
	m.StopScan()
	m.mu.Lock()
	link := m.link
	m.mu.Unlock()
	if link != nil {
		m.teardown(link, nil)
	}
}

func (m *LinkManager) teardown(link *LockLink, cause error) {
	m.mu.Lock()
	peer := m.peer
	if m.link != link {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	if peer != nil {
		if err := peer.Disconnect(); err != nil {
			m.log.Debug("disconnect failed", "address", link.Address, "error", err)
		}
	}
	m.drop(link, cause)
}

func (m *LinkManager) onRadioDisconnect(address string) {
	m.mu.Lock()
	link := m.link
	m.mu.Unlock()
	if link == nil || link.Address != address {
		return
	}
	m.drop(link, nil)
}

// drop forgets link and reports the disconnect once.
func (m *LinkManager) drop(link *LockLink, cause error) {
	m.mu.Lock()
	if m.link != link {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.peer = nil
	m.channel = nil
	link.State = StateDisconnected
	m.mu.Unlock()

	m.log.Info("disconnected", "address", link.Address)
	m.emit(Event{Kind: EventDisconnected, Address: link.Address, Err: cause})
}

// emit delivers ev. Connected, ServicesReady and Disconnected block until
// delivered or Close; the others are dropped when the buffer is near full.
func (m *LinkManager) emit(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	if ev.Kind.lifecycle() {
		select {
		case m.events <- ev:
			return true
		case <-m.closed:
			return false
		}
	}
	if len(m.events) < eventBuffer-lifecycleReserve {
		select {
		case m.events <- ev:
			return true
		default:
		}
	}
	m.log.Warn("link event dropped", "kind", ev.Kind)
	return false
}

func (k EventKind) lifecycle() bool {
	return k == EventConnected || k == EventServicesReady || k == EventDisconnected
}
