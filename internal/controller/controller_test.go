package controller

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lock-approach.klederson.com/internal/bluetooth"
	"lock-approach.klederson.com/internal/config"
	"lock-approach.klederson.com/internal/geofence"
	"lock-approach.klederson.com/internal/mode"
	"lock-approach.klederson.com/internal/ranging"
)

const lockAddr = "AA:BB:CC:DD:EE:FF"

// fakeRadio advertises one lock on every scan. Its command channel answers
// REQ_UWB_IDS with reply.
type fakeRadio struct {
	reply string
	rssi  atomic.Int32

	mu           sync.Mutex
	scans        int
	stop         chan struct{}
	stopEarly    bool
	onDisconnect func(string)
	peers        []*fakePeer
	writes       []string
	notify       func([]byte)
}

func newFakeRadio(reply string) *fakeRadio {
	r := &fakeRadio{reply: reply}
	r.rssi.Store(-90)
	return r
}

func (r *fakeRadio) Enable() error { return nil }

func (r *fakeRadio) SetDisconnectHandler(h func(string)) {
	r.mu.Lock()
	r.onDisconnect = h
	r.mu.Unlock()
}

func (r *fakeRadio) Scan(_ string, found func(bluetooth.Advertisement)) error {
	stop := make(chan struct{})
	r.mu.Lock()
	r.scans++
	if r.stopEarly {
		r.stopEarly = false
		r.mu.Unlock()
		return nil
	}
	r.stop = stop
	r.mu.Unlock()

	found(bluetooth.Advertisement{Address: lockAddr, Name: "Doorlock", RSSI: -60})
	<-stop
	return nil
}

func (r *fakeRadio) StopScan() error {
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

func (r *fakeRadio) Connect(address string) (bluetooth.Peer, error) {
	p := &fakePeer{radio: r, address: address}
	r.mu.Lock()
	r.peers = append(r.peers, p)
	r.mu.Unlock()
	return p, nil
}

func (r *fakeRadio) scanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scans
}

func (r *fakeRadio) written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}

func (r *fakeRadio) count(cmd string) int {
	n := 0
	for _, w := range r.written() {
		if w == cmd {
			n++
		}
	}
	return n
}

func (r *fakeRadio) push(payload string) {
	r.mu.Lock()
	h := r.notify
	r.mu.Unlock()
	if h != nil {
		h([]byte(payload))
	}
}

// drop simulates the lock going out of radio range.
func (r *fakeRadio) drop() {
	r.mu.Lock()
	h := r.onDisconnect
	r.mu.Unlock()
	h(lockAddr)
}

func (r *fakeRadio) peerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *fakeRadio) lastPeer() *fakePeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.peers) == 0 {
		return nil
	}
	return r.peers[len(r.peers)-1]
}

type fakePeer struct {
	radio        *fakeRadio
	address      string
	disconnected atomic.Bool
}

func (p *fakePeer) Address() string { return p.address }

func (p *fakePeer) Discover(_, _ string) (bluetooth.Channel, error) {
	return &fakeChannel{radio: p.radio}, nil
}

func (p *fakePeer) RSSI() (int16, error) { return int16(p.radio.rssi.Load()), nil }

func (p *fakePeer) Disconnect() error {
	p.disconnected.Store(true)
	return nil
}

type fakeChannel struct {
	radio *fakeRadio
}

func (c *fakeChannel) EnableNotifications(h func([]byte)) error {
	c.radio.mu.Lock()
	c.radio.notify = h
	c.radio.mu.Unlock()
	return nil
}

func (c *fakeChannel) Write(b []byte) error {
	cmd := string(b)
	c.radio.mu.Lock()
	c.radio.writes = append(c.radio.writes, cmd)
	reply := c.radio.reply
	c.radio.mu.Unlock()
	if cmd == config.CmdRequestAnchors && reply != "" {
		go c.radio.push(reply)
	}
	return nil
}

// fakeBackend streams results pushed by the test.
type fakeBackend struct {
	available bool
	results   chan ranging.Result
	runs      atomic.Int32
	stopped   atomic.Int32
}

func newFakeBackend(available bool) *fakeBackend {
	return &fakeBackend{available: available, results: make(chan ranging.Result)}
}

func (b *fakeBackend) Available() bool { return b.available }

func (b *fakeBackend) Run(ctx context.Context, _ ranging.Params, emit func(ranging.Result)) error {
	b.runs.Add(1)
	for {
		select {
		case <-ctx.Done():
			b.stopped.Add(1)
			return nil
		case r := <-b.results:
			emit(r)
		}
	}
}

func (b *fakeBackend) send(t *testing.T, addr ranging.Address, cm float64) {
	t.Helper()
	select {
	case b.results <- ranging.Result{Address: addr, DistanceCm: cm}:
	case <-time.After(2 * time.Second):
		t.Fatal("ranging session is not consuming")
	}
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Timing.AddressSettleDelay = time.Millisecond
	cfg.Timing.SignalPollInterval = 10 * time.Millisecond
	return cfg
}

type harness struct {
	c       *Controller
	radio   *fakeRadio
	backend *fakeBackend
	flags   chan mode.Flags
	pos     chan geofence.Position
	cancel  context.CancelFunc
	errc    chan error
}

func start(t *testing.T, cfg *config.Config, radio *fakeRadio, backend *fakeBackend) *harness {
	t.Helper()
	h := &harness{
		c:       New(cfg, radio, backend, nil, slog.New(slog.NewTextHandler(io.Discard, nil))),
		radio:   radio,
		backend: backend,
		flags:   make(chan mode.Flags),
		pos:     make(chan geofence.Position),
		errc:    make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.errc <- h.c.Run(ctx, h.flags, h.pos) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-h.errc:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})
	return h
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func (h *harness) waitReady(t *testing.T) {
	t.Helper()
	eventually(t, func() bool {
		st := h.c.Status()
		return st.Linked && st.Link.State == bluetooth.StateReady && !st.Link.SubscribedAt.IsZero()
	}, "link ready")
}

var (
	outside = ranging.Address{0x00, 0x01}
	inside  = ranging.Address{0x00, 0x02}
)

func TestRangingApproachConfirmsOnce(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio("UWB_IDS:0001:0002"), newFakeBackend(true))

	eventually(t, func() bool { return h.backend.runs.Load() == 1 }, "ranging session started")
	assert.Equal(t, mode.Ranging, h.c.Status().Mode)
	assert.Equal(t, 1, h.radio.count(config.CmdRequestAnchors))

	h.backend.send(t, outside, 250)
	h.backend.send(t, inside, 400)

	eventually(t, func() bool { return h.radio.count(config.CmdConfirm) == 1 }, "confirmation written")
	eventually(t, func() bool { return h.backend.stopped.Load() == 1 }, "ranging stopped")
	eventually(t, func() bool {
		st := h.c.Status()
		return st.Engine.Confirmations == 1 && !st.RangingActive
	}, "status reflects trigger")

	// No restart without a fresh address exchange.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), h.backend.runs.Load())
	assert.Equal(t, []string{config.CmdRequestAnchors, config.CmdConfirm}, h.radio.written())
	assert.False(t, h.c.Status().Anchors.Complete())
}

func TestAnchorsClearedWhenSessionEndsUnannounced(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio("UWB_IDS:0001:0002"), newFakeBackend(true))
	eventually(t, func() bool {
		st := h.c.Status()
		return st.RangingActive && st.Anchors.Complete()
	}, "ranging with anchors")

	// End the session behind the controller's back: no sessionEndedMsg.
	require.NotZero(t, h.c.ranging.Stop())
	h.c.Arm(context.Background())

	eventually(t, func() bool {
		st := h.c.Status()
		return !st.RangingActive && !st.Anchors.Complete()
	}, "anchors cleared with the session")
}

func TestRangingNoTrigger(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio("UWB_IDS:0001:0002"), newFakeBackend(true))
	eventually(t, func() bool { return h.backend.runs.Load() == 1 }, "ranging session started")

	h.backend.send(t, outside, 310) // scenario B
	h.backend.send(t, inside, 400)
	h.backend.send(t, inside, 200) // scenario C
	h.backend.send(t, outside, 290)
	h.backend.send(t, inside, 290) // tie

	eventually(t, func() bool {
		st := h.c.Status().Engine
		return st.HasFront && st.HasBack && st.BackCm == 290
	}, "samples evaluated")
	assert.Zero(t, h.radio.count(config.CmdConfirm))
	assert.True(t, h.c.Status().RangingActive)
}

func TestMalformedAddressReplyStartsNothing(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio("UWB_IDS:ABCD"), newFakeBackend(true))

	eventually(t, func() bool { return h.radio.count(config.CmdRequestAnchors) == 1 }, "anchors requested")
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, h.backend.runs.Load())
	assert.False(t, h.c.Status().Anchors.Complete())
	assert.Empty(t, h.c.Notifications())
}

func TestSignalOnlyFallbackWithoutHardware(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio(""), newFakeBackend(false))
	h.waitReady(t)

	st := h.c.Status()
	assert.Equal(t, mode.SignalOnly, st.Mode)
	assert.False(t, st.RangingHardware)

	// Scenario D over the poller: -50 run, -85, -50.
	h.radio.rssi.Store(-50)
	eventually(t, func() bool { return h.radio.count(config.CmdConfirm) == 1 }, "first confirmation")
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, h.radio.count(config.CmdConfirm))

	h.radio.rssi.Store(-75)
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, h.c.Status().Engine.Resets)

	h.radio.rssi.Store(-85)
	eventually(t, func() bool { return h.c.Status().Engine.Resets == 1 }, "flag reset")

	h.radio.rssi.Store(-50)
	eventually(t, func() bool { return h.radio.count(config.CmdConfirm) == 2 }, "second confirmation")
	assert.Zero(t, h.radio.count(config.CmdRequestAnchors))
	assert.Zero(t, h.backend.runs.Load())
}

func TestRangingOnlyWithoutHardwareDoesNotScan(t *testing.T) {
	cfg := testConfig()
	cfg.Modes.SignalOnly = false
	h := start(t, cfg, newFakeRadio(""), newFakeBackend(false))

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, h.radio.scanCount())
	assert.Equal(t, mode.None, h.c.Status().Mode)
}

func TestDisablingBothModesTearsDown(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio(""), newFakeBackend(false))
	h.waitReady(t)
	peer := h.radio.lastPeer()

	h.flags <- mode.Flags{}
	eventually(t, func() bool {
		st := h.c.Status()
		return !st.Linked && !st.Scanning && st.Mode == mode.None
	}, "link torn down")
	assert.True(t, peer.disconnected.Load())
	assert.Equal(t, 1, h.radio.scanCount())

	h.flags <- mode.Flags{SignalOnlyAllowed: true}
	eventually(t, func() bool { return h.radio.scanCount() == 2 }, "rescan on re-enable")
	h.waitReady(t)
	assert.Equal(t, mode.SignalOnly, h.c.Status().Mode)
}

func TestModeSwitchWithoutReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Modes.Ranging = false
	h := start(t, cfg, newFakeRadio("UWB_IDS:0001:0002"), newFakeBackend(true))
	h.waitReady(t)
	assert.Equal(t, mode.SignalOnly, h.c.Status().Mode)

	h.flags <- mode.Flags{RangingAllowed: true, SignalOnlyAllowed: true}
	eventually(t, func() bool { return h.backend.runs.Load() == 1 }, "ranging started on live link")
	assert.Equal(t, 1, h.radio.scanCount())
	assert.Equal(t, 1, h.radio.peerCount())

	h.flags <- mode.Flags{SignalOnlyAllowed: true}
	eventually(t, func() bool { return h.backend.stopped.Load() == 1 }, "ranging stopped on switch")
	eventually(t, func() bool { return h.c.Status().Mode == mode.SignalOnly }, "signal-only active")
}

func TestDisconnectRescans(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio("UWB_IDS:0001:0002"), newFakeBackend(true))
	eventually(t, func() bool { return h.backend.runs.Load() == 1 }, "ranging session started")
	h.backend.send(t, outside, 320)

	h.radio.drop()
	eventually(t, func() bool { return h.backend.stopped.Load() == 1 }, "session stopped on disconnect")
	eventually(t, func() bool { return h.radio.scanCount() == 2 }, "rescan")
	eventually(t, func() bool { return h.backend.runs.Load() == 2 }, "fresh exchange after reconnect")
	assert.Equal(t, 2, h.radio.count(config.CmdRequestAnchors))
	assert.False(t, h.c.Status().Engine.HasFront)
}

func TestNotificationPassThrough(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio(""), newFakeBackend(false))
	h.waitReady(t)

	h.radio.push("LOCKED")
	select {
	case p := <-h.c.Notifications():
		assert.Equal(t, "LOCKED", p)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not passed through")
	}
	eventually(t, func() bool { return h.c.Status().LastNotification == "LOCKED" }, "status note")
}

func TestOperatorDisarmAndArm(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio(""), newFakeBackend(false))
	h.waitReady(t)

	h.c.Disarm(context.Background())
	eventually(t, func() bool {
		st := h.c.Status()
		return !st.Armed && !st.Linked && !st.Scanning
	}, "disarmed")

	h.c.Arm(context.Background())
	h.waitReady(t)
	assert.Equal(t, 2, h.radio.scanCount())
}

func TestGeofenceArming(t *testing.T) {
	cfg := testConfig()
	cfg.Geofence.Enabled = true
	cfg.Geofence.Latitude, cfg.Geofence.Longitude = 37.5665, 126.9780
	h := start(t, cfg, newFakeRadio(""), newFakeBackend(false))

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, h.radio.scanCount())
	assert.False(t, h.c.Status().Armed)

	h.pos <- geofence.Position{Lat: 37.5665, Lon: 126.9780}
	h.waitReady(t)
	assert.True(t, h.c.Status().Armed)

	h.pos <- geofence.Position{Lat: 37.5700, Lon: 126.9780} // ~390 m north
	eventually(t, func() bool {
		st := h.c.Status()
		return !st.Armed && !st.Linked && st.FenceDistanceM > 150
	}, "disarmed outside fence")
}

func TestSubscribe(t *testing.T) {
	h := start(t, testConfig(), newFakeRadio(""), newFakeBackend(false))
	ch, unsubscribe := h.c.Subscribe()
	defer unsubscribe()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-ch:
			if st.Linked {
				return
			}
		case <-deadline:
			t.Fatal("no linked status published")
		}
	}
}
