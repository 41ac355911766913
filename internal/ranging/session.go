package ranging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"lock-approach.klederson.com/internal/config"
)

// ErrUnavailable is returned by backends without ranging hardware.
var ErrUnavailable = errors.New("uwb ranging hardware unavailable")

// Params are the fixed session parameters. They are engine constants, not
// configurable at the interface boundary.
type Params struct {
	ConfigType   string
	SessionID    int
	SubSessionID int
	Channel      int
	Preamble     int
	UpdateRate   string
	Peers        []Address
}

// DefaultParams returns unicast DS-TWR on channel 9, preamble 10.
func DefaultParams() Params {
	return Params{
		ConfigType: "DS_TWR",
		SessionID:  config.RangingSessionID,
		Channel:    config.RangingChannel,
		Preamble:   config.RangingPreamble,
		UpdateRate: "FREQUENT",
	}
}

// Result is one raw measurement reported by a backend.
type Result struct {
	Address          Address
	DistanceCm       float64
	PeerDisconnected bool
}

// Backend runs a ranging session until ctx is cancelled or the session fails.
// Run returns nil after cancellation.
type Backend interface {
	Available() bool
	Run(ctx context.Context, p Params, emit func(Result)) error
}

// Sample is a role-tagged distance from a specific session.
type Sample struct {
	Session    uint64
	Role       Role
	DistanceCm float64
}

// Sink receives the session stream. All calls for one session come from the
// session goroutine, in order, with the session context.
type Sink interface {
	OnSessionStart(ctx context.Context, session uint64, anchors AnchorPair)
	OnSample(ctx context.Context, s Sample)
	OnSessionEnd(ctx context.Context, session uint64, err error)
}

type session struct {
	id      uint64
	anchors AnchorPair
	cancel  context.CancelFunc
	done    chan struct{}
}

// Controller owns at most one active ranging session.
type Controller struct {
	backend  Backend
	params   Params
	sink     Sink
	log      *slog.Logger
	hardware bool

	mu     sync.Mutex
	active *session
	nextID uint64
}

// NewController creates a controller. Hardware capability is probed once here.
func NewController(backend Backend, sink Sink, log *slog.Logger) *Controller {
	return &Controller{
		backend:  backend,
		params:   DefaultParams(),
		sink:     sink,
		log:      log.With("component", "ranging"),
		hardware: backend.Available(),
	}
}

// Hardware reports whether ranging is possible for this process lifetime.
func (c *Controller) Hardware() bool {
	return c.hardware
}

// Active reports whether a session is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Start begins a session with both anchors. It returns the session id and
// false when a session is already active, the pair is incomplete or the
// hardware is missing.
func (c *Controller) Start(anchors AnchorPair) (uint64, bool) {
	if !c.hardware {
		c.log.Warn("ranging requested without hardware")
		return 0, false
	}
	if !anchors.Complete() {
		return 0, false
	}

	c.mu.Lock()
	if c.active != nil {
		id := c.active.id
		c.mu.Unlock()
		return id, false
	}
	c.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:      c.nextID,
		anchors: anchors,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.active = s
	c.mu.Unlock()

	c.log.Info("ranging session started",
		"session", s.id, "outside", anchors.Outside.Address, "inside", anchors.Inside.Address)
	go c.run(ctx, s)
	return s.id, true
}

func (c *Controller) run(ctx context.Context, s *session) {
	defer close(s.done)

	c.sink.OnSessionStart(ctx, s.id, s.anchors)

	p := c.params
	p.Peers = s.anchors.Addresses()
	err := c.backend.Run(ctx, p, func(r Result) {
		role, ok := s.anchors.RoleOf(r.Address)
		if !ok {
			c.log.Debug("measurement from unknown peer", "address", r.Address)
			return
		}
		if r.PeerDisconnected {
			// The other anchor keeps ranging.
			c.log.Info("anchor disconnected", "session", s.id, "role", role)
			return
		}
		c.sink.OnSample(ctx, Sample{Session: s.id, Role: role, DistanceCm: r.DistanceCm})
	})

	if ctx.Err() != nil {
		return
	}

	// Session ended on its own: failure or backend exhaustion. If Stop
	// already claimed the session it owns the cleanup.
	c.mu.Lock()
	owned := c.active == s
	if owned {
		c.active = nil
	}
	c.mu.Unlock()
	if !owned {
		return
	}
	defer s.cancel()

	if err != nil {
		c.log.Error("ranging session failed", "session", s.id, "error", err)
	} else {
		c.log.Info("ranging session ended", "session", s.id)
	}
	c.sink.OnSessionEnd(ctx, s.id, err)
}

// Stop cancels the active session and waits for its stream to drain. It
// returns the stopped session id, or 0 when nothing was running.
func (c *Controller) Stop() uint64 {
	c.mu.Lock()
	s := c.active
	c.active = nil
	c.mu.Unlock()

	if s == nil {
		return 0
	}
	s.cancel()
	<-s.done
	c.log.Info("ranging session stopped", "session", s.id)
	return s.id
}
