package controller

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"lock-approach.klederson.com/internal/bluetooth"
	"lock-approach.klederson.com/internal/command"
	"lock-approach.klederson.com/internal/config"
	"lock-approach.klederson.com/internal/geofence"
	"lock-approach.klederson.com/internal/mode"
	"lock-approach.klederson.com/internal/proximity"
	"lock-approach.klederson.com/internal/ranging"
)

const notificationBuffer = 16

// Status is the controller's view of every component, published to observers.
type Status struct {
	Armed            bool
	Scanning         bool
	Linked           bool
	Link             bluetooth.LockLink
	Mode             mode.Mode
	Flags            mode.Flags
	RangingHardware  bool
	RangingActive    bool
	Anchors          ranging.AnchorPair
	Engine           proximity.Snapshot
	Geofence         bool
	FenceDistanceM   float64 // NaN until the first fix
	LastNotification string
	At               time.Time
}

type (
	armMsg          struct{ armed bool }
	sessionEndedMsg struct{ session uint64 }
)

// Controller is the long-lived background task. It owns the link lifecycle,
// mode transitions and the signal poller; the engine owns every decision.
type Controller struct {
	cfg        *config.Config
	link       *bluetooth.LinkManager
	ranging    *ranging.Controller
	selector   *mode.Selector
	engine     *proximity.Engine
	dispatcher *command.Dispatcher
	fence      *geofence.Fence
	log        *slog.Logger

	inbox         chan any
	done          chan struct{}
	notifications chan string

	// Owned by Run.
	armed        bool
	anchors      ranging.AnchorPair
	subscribedAt time.Time
	pollCancel   context.CancelFunc
	xchgCancel   context.CancelFunc
	lastNote     string

	statusMu sync.Mutex
	status   Status
	subs     map[int]chan Status
	nextSub  int
}

// New wires the link manager, ranging controller, mode selector, decision
// engine and dispatcher. sink may be nil.
func New(cfg *config.Config, radio bluetooth.Radio, backend ranging.Backend, sink proximity.LogSink, log *slog.Logger) *Controller {
	c := &Controller{
		cfg:           cfg,
		log:           log.With("component", "controller"),
		inbox:         make(chan any, 16),
		done:          make(chan struct{}),
		notifications: make(chan string, notificationBuffer),
		subs:          make(map[int]chan Status),
	}
	c.link = bluetooth.NewLinkManager(radio, cfg.Lock, log)
	c.dispatcher = command.New(c.link, cfg.Timing.AddressSettleDelay, log)
	c.ranging = ranging.NewController(backend, c, log)
	c.selector = mode.NewSelector(c.ranging.Hardware(), cfg.Flags())

	opts := proximity.DefaultOptions()
	opts.Thresholds = proximity.ThresholdsFrom(cfg.Thresholds)
	opts.LogInterval = cfg.Timing.LogInterval
	c.engine = proximity.New(c, sink, opts, log)

	if cfg.Geofence.Enabled {
		c.fence = geofence.FromConfig(cfg.Geofence)
	}
	c.armed = c.fence == nil
	c.status = Status{FenceDistanceM: math.NaN()}
	return c
}

// Engine exposes the decision engine for observers.
func (c *Controller) Engine() *proximity.Engine { return c.engine }

// Notifications carries lock payloads other than the address reply.
// Payloads are dropped when the reader falls behind.
func (c *Controller) Notifications() <-chan string { return c.notifications }

// Arm enables scanning and connecting. Safe from any goroutine.
func (c *Controller) Arm(ctx context.Context) { c.post(ctx, armMsg{armed: true}) }

// Disarm tears down the link and stops scanning. Safe from any goroutine.
func (c *Controller) Disarm(ctx context.Context) { c.post(ctx, armMsg{armed: false}) }

func (c *Controller) post(ctx context.Context, msg any) bool {
	select {
	case c.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// Run drives the controller until ctx is cancelled. flags carries live
// configuration changes and positions carries GPS fixes; either may be nil.
func (c *Controller) Run(ctx context.Context, flags <-chan mode.Flags, positions <-chan geofence.Position) error {
	defer close(c.done)
	if err := c.link.Enable(); err != nil {
		return fmt.Errorf("start link manager: %w", err)
	}

	go c.engine.Run(ctx)
	snaps, unsubscribe := c.engine.Subscribe()
	defer unsubscribe()
	defer c.shutdown()

	c.log.Info("controller started",
		"mode", c.selector.Current(), "ranging_hardware", c.selector.RangingHardware(),
		"armed", c.armed, "geofence", c.fence != nil)
	c.rescan()
	c.publish()

	events := c.link.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			c.handleLink(ctx, ev)
		case f, ok := <-flags:
			if !ok {
				flags = nil
				continue
			}
			c.applyFlags(ctx, f)
		case p, ok := <-positions:
			if !ok {
				positions = nil
				continue
			}
			c.applyPosition(ctx, p)
		case msg := <-c.inbox:
			c.handle(ctx, msg)
		case snap := <-snaps:
			c.statusMu.Lock()
			c.status.Engine = snap
			c.statusMu.Unlock()
		}
		c.publish()
	}
}

func (c *Controller) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case armMsg:
		c.setArmed(ctx, m.armed)
	case sessionEndedMsg:
		// A session that failed on its own drops its anchors. Re-arming
		// needs a fresh address exchange.
		c.anchors = ranging.AnchorPair{}
		c.log.Debug("session ended", "session", m.session)
	}
}

func (c *Controller) handleLink(ctx context.Context, ev bluetooth.Event) {
	switch ev.Kind {
	case bluetooth.EventDiscovered:
		if !c.armed || c.selector.Current() == mode.None {
			return
		}
		c.link.Connect(bluetooth.Advertisement{Address: ev.Address, Name: ev.Name, RSSI: ev.RSSI})

	case bluetooth.EventServicesReady:
		at, err := c.link.SubscribeNotifications()
		if err != nil {
			c.log.Warn("notification subscribe failed", "error", err)
			c.link.Disconnect()
			return
		}
		c.subscribedAt = at
		c.activate(ctx, c.selector.Current())

	case bluetooth.EventNotification:
		c.onNotification(ev.Payload)

	case bluetooth.EventSignal:
		if c.selector.Current() == mode.SignalOnly {
			c.engine.PostStrength(ctx, int(ev.RSSI))
		}

	case bluetooth.EventDisconnected:
		c.stopSources(ctx)
		c.engine.Disconnected(ctx)
		c.subscribedAt = time.Time{}
		c.rescan()
	}
}

func (c *Controller) onNotification(payload string) {
	if command.IsAddressReply(payload) {
		pair, ok := c.dispatcher.OnAddressExchangeReply(payload)
		if !ok || c.selector.Current() != mode.Ranging {
			return
		}
		if _, ok := c.link.Link(); !ok {
			return
		}
		c.anchors = pair
		c.ranging.Start(pair)
		return
	}

	c.lastNote = payload
	select {
	case c.notifications <- payload:
	default:
		c.log.Debug("notification dropped", "payload", payload)
	}
}

// activate starts the data source for m on a ready link.
func (c *Controller) activate(ctx context.Context, m mode.Mode) {
	c.engine.SetMode(ctx, m)
	switch m {
	case mode.Ranging:
		c.stopPoller()
		c.requestAnchors()
	case mode.SignalOnly:
		c.stopExchange()
		c.stopRanging(ctx)
		c.startPoller()
	}
}

func (c *Controller) applyFlags(ctx context.Context, f mode.Flags) {
	t := c.selector.Update(f)
	c.log.Info("configuration changed",
		"ranging", f.RangingAllowed, "signal_only", f.SignalOnlyAllowed, "mode", t.To)
	if !t.Changed() {
		return
	}

	if t.TearDown() {
		c.stopSources(ctx)
		c.engine.SetMode(ctx, mode.None)
		c.link.Disconnect()
		return
	}
	link, ok := c.link.Link()
	if ok && link.State == bluetooth.StateReady {
		c.activate(ctx, t.To)
		return
	}
	c.rescan()
}

func (c *Controller) applyPosition(ctx context.Context, p geofence.Position) {
	if c.fence == nil {
		return
	}
	armed, changed := c.fence.Update(p)
	c.statusMu.Lock()
	c.status.FenceDistanceM = c.fence.LastDistance()
	c.statusMu.Unlock()
	if changed {
		c.log.Info("geofence", "armed", armed, "distance_m", c.fence.LastDistance())
		c.setArmed(ctx, armed)
	}
}

func (c *Controller) setArmed(ctx context.Context, armed bool) {
	if c.armed == armed {
		return
	}
	c.armed = armed
	if armed {
		c.log.Info("armed")
		c.rescan()
		return
	}
	c.log.Info("disarmed")
	c.stopSources(ctx)
	c.link.Disconnect()
}

// rescan starts discovery when armed, a mode is eligible and no link exists.
func (c *Controller) rescan() {
	if !c.armed || c.selector.Current() == mode.None {
		return
	}
	if _, ok := c.link.Link(); ok {
		return
	}
	c.link.Scan()
}

func (c *Controller) requestAnchors() {
	c.stopExchange()
	ctx, cancel := context.WithCancel(context.Background())
	c.xchgCancel = cancel
	subscribed := c.subscribedAt
	go c.dispatcher.RequestAnchorAddresses(ctx, subscribed)
}

func (c *Controller) stopExchange() {
	if c.xchgCancel != nil {
		c.xchgCancel()
		c.xchgCancel = nil
	}
}

// startPoller reads the signal strength now and then once per interval until
// stopped.
func (c *Controller) startPoller() {
	c.stopPoller()
	ctx, cancel := context.WithCancel(context.Background())
	c.pollCancel = cancel
	interval := c.cfg.Timing.SignalPollInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		c.link.ReadSignalStrength()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.link.ReadSignalStrength()
			}
		}
	}()
}

func (c *Controller) stopPoller() {
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

func (c *Controller) stopRanging(ctx context.Context) {
	if id := c.ranging.Stop(); id != 0 {
		c.engine.EndSession(ctx, id)
	}
	c.anchors = ranging.AnchorPair{}
}

func (c *Controller) stopSources(ctx context.Context) {
	c.stopPoller()
	c.stopExchange()
	c.stopRanging(ctx)
}

func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.stopSources(ctx)
	// Nothing reads link events any more.
	c.link.Close()
	c.link.Disconnect()
	c.log.Info("controller stopped")
}

// Confirm is called by the engine on a trigger. It writes the confirmation
// and ends any ranging session.
func (c *Controller) Confirm(_ context.Context, m mode.Mode) {
	c.dispatcher.SendConfirmation()
	if m != mode.Ranging {
		return
	}
	if id := c.ranging.Stop(); id != 0 {
		// Never block the engine on the controller inbox.
		select {
		case c.inbox <- sessionEndedMsg{session: id}:
		default:
		}
	}
}

func (c *Controller) OnSessionStart(ctx context.Context, session uint64, _ ranging.AnchorPair) {
	c.engine.BeginSession(ctx, session)
}

func (c *Controller) OnSample(ctx context.Context, s ranging.Sample) {
	c.engine.PostDistance(ctx, s)
}

func (c *Controller) OnSessionEnd(ctx context.Context, session uint64, err error) {
	c.engine.EndSession(ctx, session)
	c.post(ctx, sessionEndedMsg{session: session})
}

// Status returns the latest published status.
func (c *Controller) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// Subscribe returns a channel carrying the latest status after each change.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)
	c.statusMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.statusMu.Unlock()

	return ch, func() {
		c.statusMu.Lock()
		delete(c.subs, id)
		c.statusMu.Unlock()
	}
}

func (c *Controller) publish() {
	link, linked := c.link.Link()
	active := c.ranging.Active()
	if !active {
		// Anchors belong to a running session. This also covers a session
		// ended by Confirm whose sessionEndedMsg was dropped.
		c.anchors = ranging.AnchorPair{}
	}

	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status.Armed = c.armed
	c.status.Scanning = c.link.Scanning()
	c.status.Linked = linked
	c.status.Link = link
	c.status.Mode = c.selector.Current()
	c.status.Flags = c.selector.Flags()
	c.status.RangingHardware = c.selector.RangingHardware()
	c.status.RangingActive = active
	c.status.Anchors = c.anchors
	c.status.Geofence = c.fence != nil
	c.status.LastNotification = c.lastNote
	c.status.At = time.Now()

	st := c.status
	for _, ch := range c.subs {
		select {
		case ch <- st:
		default:
			// Replace the stale status.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
