package bluetooth

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"lock-approach.klederson.com/internal/config"
)

// MockRadio simulates one lock for demo mode. The lock answers the anchor
// request with two fixed addresses, acknowledges READY, and its RSSI swings
// slowly across the signal thresholds.
type MockRadio struct {
	name      string
	address   string
	anchors   string
	advertise time.Duration
	reply     time.Duration

	mu           sync.Mutex
	stop         chan struct{}
	stopEarly    bool // StopScan arrived before Scan started
	onDisconnect func(string)
	peer         *mockPeer
}

// NewMockRadio creates a simulated lock with a random address.
func NewMockRadio() *MockRadio {
	return &MockRadio{
		name:      "Doorlock Demo",
		address:   randomMAC(),
		anchors:   config.ReplyAnchorsTag + ":0001:0002",
		advertise: 200 * time.Millisecond,
		reply:     100 * time.Millisecond,
	}
}

// Address returns the simulated lock address.
func (r *MockRadio) Address() string { return r.address }

func (r *MockRadio) Enable() error { return nil }

func (r *MockRadio) SetDisconnectHandler(h func(address string)) {
	r.mu.Lock()
	r.onDisconnect = h
	r.mu.Unlock()
}

func (r *MockRadio) Scan(_ string, found func(Advertisement)) error {
	stop := make(chan struct{})
	r.mu.Lock()
	if r.stopEarly {
		r.stopEarly = false
		r.mu.Unlock()
		return nil
	}
	r.stop = stop
	r.mu.Unlock()

	ticker := time.NewTicker(r.advertise)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return nil
		case <-ticker.C:
			rssi := -60 - rand.Intn(20)
			found(Advertisement{Address: r.address, Name: r.name, RSSI: int16(rssi)})
		}
	}
}

func (r *MockRadio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		r.stopEarly = true
		return nil
	}
	close(r.stop)
	r.stop = nil
	return nil
}

func (r *MockRadio) Connect(address string) (Peer, error) {
	if address != r.address {
		return nil, fmt.Errorf("connect %s: no such device", address)
	}
	p := &mockPeer{radio: r, start: time.Now(), phase: rand.Float64() * 2 * math.Pi}
	r.mu.Lock()
	r.peer = p
	r.mu.Unlock()
	return p, nil
}

// Drop simulates the lock going out of range.
func (r *MockRadio) Drop() {
	r.mu.Lock()
	h := r.onDisconnect
	r.peer = nil
	r.mu.Unlock()
	if h != nil {
		h(r.address)
	}
}

type mockPeer struct {
	radio *MockRadio
	start time.Time
	phase float64
}

func (p *mockPeer) Address() string { return p.radio.address }

func (p *mockPeer) Discover(serviceUUID, charUUID string) (Channel, error) {
	return &mockChannel{radio: p.radio}, nil
}

// RSSI follows a slow sinusoid between roughly -58 and -92 dBm plus noise.
func (p *mockPeer) RSSI() (int16, error) {
	t := time.Since(p.start).Seconds()
	rssi := -75 + 17*math.Sin(t*0.2+p.phase) + (rand.Float64()-0.5)*4
	return int16(rssi), nil
}

func (p *mockPeer) Disconnect() error {
	p.radio.mu.Lock()
	if p.radio.peer == p {
		p.radio.peer = nil
	}
	p.radio.mu.Unlock()
	return nil
}

type mockChannel struct {
	radio *MockRadio

	mu     sync.Mutex
	notify func([]byte)
}

func (c *mockChannel) EnableNotifications(h func([]byte)) error {
	c.mu.Lock()
	c.notify = h
	c.mu.Unlock()
	return nil
}

func (c *mockChannel) Write(b []byte) error {
	switch strings.TrimSpace(string(b)) {
	case config.CmdRequestAnchors:
		c.respond(c.radio.anchors)
	case config.CmdConfirm:
		c.respond("UNLOCKED")
	}
	return nil
}

func (c *mockChannel) respond(payload string) {
	c.mu.Lock()
	h := c.notify
	c.mu.Unlock()
	if h == nil {
		return
	}
	time.AfterFunc(c.radio.reply, func() { h([]byte(payload)) })
}

func randomMAC() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = byte(rand.Intn(256))
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}
