package proximity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lock-approach.klederson.com/internal/config"
	"lock-approach.klederson.com/internal/mode"
	"lock-approach.klederson.com/internal/ranging"
)

// State is the engine's lifecycle state.
type State int

const (
	Idle State = iota
	Monitoring
	Confirmed
)

func (s State) String() string {
	switch s {
	case Monitoring:
		return "monitoring"
	case Confirmed:
		return "confirmed"
	default:
		return "idle"
	}
}

// Confirmer emits the approach-confirmed command. It is called on the engine
// goroutine and must stop any active ranging session before returning.
type Confirmer interface {
	Confirm(ctx context.Context, m mode.Mode)
}

// LogSink persists rate-limited snapshots and confirmation events.
type LogSink interface {
	RecordDistances(ctx context.Context, frontCm, backCm float64)
	RecordSignal(ctx context.Context, dbm int)
	RecordConfirmation(ctx context.Context, m mode.Mode)
}

// Snapshot is a copy of the engine state published to observers.
type Snapshot struct {
	State         State
	Mode          mode.Mode
	Session       uint64
	FrontCm       float64
	BackCm        float64
	HasFront      bool
	HasBack       bool
	SignalDBm     int
	HasSignal     bool
	Sent          bool
	Confirmations int
	Resets        int
	At            time.Time
}

// Options tunes an Engine.
type Options struct {
	Thresholds  Thresholds
	LogInterval time.Duration
	Now         func() time.Time
	InboxSize   int
}

// DefaultOptions returns the production thresholds and a 5 s log interval.
func DefaultOptions() Options {
	return Options{
		Thresholds:  DefaultThresholds(),
		LogInterval: config.LogInterval,
		Now:         time.Now,
		InboxSize:   64,
	}
}

// Engine is the proximity decision actor. Sources post messages; only the
// Run goroutine reads or writes the flag and cached samples.
type Engine struct {
	inbox   chan any
	done    chan struct{}
	confirm Confirmer
	sink    LogSink
	log     *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	// Owned by Run.
	state   State
	mode    mode.Mode
	session uint64
	gate    *Gate
	front   *float64
	back    *float64
	signal  *int
	fires   int
	resets  int

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

type (
	setModeMsg      struct{ mode mode.Mode }
	beginSessionMsg struct{ session uint64 }
	endSessionMsg   struct{ session uint64 }
	distanceMsg     struct{ sample ranging.Sample }
	strengthMsg     struct{ dbm int }
	disconnectedMsg struct{}
	queryMsg        struct{ reply chan Snapshot }
)

// New creates an engine. sink may be nil.
func New(confirm Confirmer, sink LogSink, opts Options, log *slog.Logger) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = config.LogInterval
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Engine{
		inbox:   make(chan any, opts.InboxSize),
		done:    make(chan struct{}),
		confirm: confirm,
		sink:    sink,
		log:     log.With("component", "engine"),
		limiter: rate.NewLimiter(rate.Every(opts.LogInterval), 1),
		now:     opts.Now,
		gate:    NewGate(opts.Thresholds),
		subs:    make(map[int]chan Snapshot),
	}
}

// Run processes messages until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-e.inbox:
			e.handle(ctx, msg)
		}
	}
}

func (e *Engine) post(ctx context.Context, msg any) bool {
	select {
	case e.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-e.done:
		return false
	}
}

// SetMode activates a data source. mode.None returns the engine to idle.
func (e *Engine) SetMode(ctx context.Context, m mode.Mode) {
	e.post(ctx, setModeMsg{mode: m})
}

// BeginSession accepts samples from a new ranging session.
func (e *Engine) BeginSession(ctx context.Context, session uint64) {
	e.post(ctx, beginSessionMsg{session: session})
}

// EndSession discards cached distances of a stopped session.
func (e *Engine) EndSession(ctx context.Context, session uint64) {
	e.post(ctx, endSessionMsg{session: session})
}

// PostDistance delivers one ranging sample.
func (e *Engine) PostDistance(ctx context.Context, s ranging.Sample) {
	e.post(ctx, distanceMsg{sample: s})
}

// PostStrength delivers one signal-strength reading.
func (e *Engine) PostStrength(ctx context.Context, dbm int) {
	e.post(ctx, strengthMsg{dbm: dbm})
}

// Disconnected returns the engine to idle and clears the flag.
func (e *Engine) Disconnected(ctx context.Context) {
	e.post(ctx, disconnectedMsg{})
}

// Snapshot returns the state after every previously posted message.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, bool) {
	reply := make(chan Snapshot, 1)
	if !e.post(ctx, queryMsg{reply: reply}) {
		return Snapshot{}, false
	}
	select {
	case s := <-reply:
		return s, true
	case <-ctx.Done():
		return Snapshot{}, false
	case <-e.done:
		return Snapshot{}, false
	}
}

// Subscribe returns a channel carrying the latest snapshot after each change.
// Slow readers only miss intermediate snapshots.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case setModeMsg:
		e.setMode(m.mode)
	case beginSessionMsg:
		if e.mode != mode.Ranging || e.state == Idle {
			return
		}
		e.session = m.session
		e.clearSamples()
	case endSessionMsg:
		if e.session != m.session {
			return
		}
		e.session = 0
		e.clearSamples()
	case distanceMsg:
		e.onDistance(ctx, m.sample)
	case strengthMsg:
		e.onStrength(ctx, m.dbm)
	case disconnectedMsg:
		e.toIdle()
	case queryMsg:
		m.reply <- e.snapshot()
		return
	}
	e.publish()
}

func (e *Engine) setMode(m mode.Mode) {
	if m == mode.None {
		e.toIdle()
		return
	}
	if m != e.mode {
		e.session = 0
		e.clearSamples()
		e.signal = nil
	}
	e.mode = m
	if e.state == Idle {
		e.state = Monitoring
	}
	e.log.Debug("mode active", "mode", m, "state", e.state)
}

func (e *Engine) toIdle() {
	e.state = Idle
	e.mode = mode.None
	e.session = 0
	e.clearSamples()
	e.signal = nil
	e.gate.Clear()
}

func (e *Engine) clearSamples() {
	e.front = nil
	e.back = nil
}

func (e *Engine) onDistance(ctx context.Context, s ranging.Sample) {
	if e.state == Idle || e.mode != mode.Ranging || e.session == 0 || s.Session != e.session {
		return
	}
	d := s.DistanceCm
	if s.Role == ranging.RoleOutside {
		e.front = &d
	} else {
		e.back = &d
	}
	if e.front == nil || e.back == nil {
		return
	}

	front, back := *e.front, *e.back
	if e.limiter.AllowN(e.now(), 1) {
		e.sink.RecordDistances(ctx, front, back)
	}

	switch e.gate.Ranging(front, back) {
	case Fire:
		// One-shot: the session is closed until a fresh one begins.
		e.session = 0
		e.clearSamples()
		e.fire(ctx, front, back)
	case Reset:
		e.reset("front_cm", front)
	}
}

func (e *Engine) onStrength(ctx context.Context, dbm int) {
	if e.state == Idle || e.mode != mode.SignalOnly {
		return
	}
	e.signal = &dbm
	if e.limiter.AllowN(e.now(), 1) {
		e.sink.RecordSignal(ctx, dbm)
	}

	switch e.gate.Signal(dbm) {
	case Fire:
		e.fire(ctx, float64(dbm), 0)
	case Reset:
		e.reset("dbm", float64(dbm))
	}
}

func (e *Engine) fire(ctx context.Context, a, b float64) {
	e.state = Confirmed
	e.fires++
	e.log.Info("approach confirmed", "mode", e.mode, "a", a, "b", b)
	e.publish()
	e.confirm.Confirm(ctx, e.mode)
	e.sink.RecordConfirmation(ctx, e.mode)
}

func (e *Engine) reset(key string, v float64) {
	e.state = Monitoring
	e.resets++
	e.log.Info("approach flag reset", "mode", e.mode, key, v)
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		State:         e.state,
		Mode:          e.mode,
		Session:       e.session,
		Sent:          e.gate.Sent(),
		Confirmations: e.fires,
		Resets:        e.resets,
		At:            e.now(),
	}
	if e.front != nil {
		s.FrontCm, s.HasFront = *e.front, true
	}
	if e.back != nil {
		s.BackCm, s.HasBack = *e.back, true
	}
	if e.signal != nil {
		s.SignalDBm, s.HasSignal = *e.signal, true
	}
	return s
}

func (e *Engine) publish() {
	snap := e.snapshot()
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			// Replace the stale snapshot.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

type nopSink struct{}

func (nopSink) RecordDistances(context.Context, float64, float64) {}
func (nopSink) RecordSignal(context.Context, int)                 {}
func (nopSink) RecordConfirmation(context.Context, mode.Mode)     {}
