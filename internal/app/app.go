package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"lock-approach.klederson.com/internal/config"
	"lock-approach.klederson.com/internal/controller"
	"lock-approach.klederson.com/internal/proximity"
	"lock-approach.klederson.com/internal/ui"
)

const (
	historyLen = 120
	notesLen   = 8
)

// shared holds state shared between the Bubble Tea model copies and main.go.
// Because Bubble Tea uses value receivers, pointer fields ensure all copies
// see the same underlying data.
type shared struct {
	ctx     context.Context
	ctrl    *controller.Controller
	signal  *History
	front   *History
	session uint64
	notes   []string
}

// AppModel is the root Bubble Tea model for the lock-approach monitor.
type AppModel struct {
	width  int
	height int

	demoMode   bool
	adapter    string
	thresholds proximity.Thresholds

	status controller.Status
	err    error

	shared *shared
}

// New creates a new AppModel observing ctrl. ctx bounds operator commands.
func New(ctx context.Context, ctrl *controller.Controller, cfg *config.Config, demoMode bool) AppModel {
	return AppModel{
		demoMode:   demoMode,
		adapter:    cfg.Lock.Adapter,
		thresholds: proximity.ThresholdsFrom(cfg.Thresholds),
		shared: &shared{
			ctx:    ctx,
			ctrl:   ctrl,
			signal: NewHistory(historyLen),
			front:  NewHistory(historyLen),
		},
	}
}

func (m AppModel) Init() tea.Cmd {
	return tickCmd()
}

func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickMsg:
		return m, tickCmd()

	case StatusMsg:
		m.record(controller.Status(msg))
		return m, nil

	case NotificationMsg:
		m.shared.notes = append(m.shared.notes, string(msg))
		if len(m.shared.notes) > notesLen {
			m.shared.notes = m.shared.notes[len(m.shared.notes)-notesLen:]
		}
		return m, nil

	case ControllerErrorMsg:
		m.err = msg.Err
		return m, nil
	}

	return m, nil
}

// record keeps the latest status and extends the histories when a new
// reading arrived.
func (m *AppModel) record(st controller.Status) {
	prev := m.status.Engine
	m.status = st
	snap := st.Engine

	if snap.Session != m.shared.session {
		m.shared.session = snap.Session
		if snap.Session != 0 {
			m.shared.front.Reset()
		}
	}
	if snap.HasFront && (!prev.HasFront || prev.FrontCm != snap.FrontCm) {
		m.shared.front.Push(snap.FrontCm)
	}
	if snap.HasSignal && snap.At != prev.At {
		m.shared.signal.Push(float64(snap.SignalDBm))
	}
}

func (m AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit

	case "s", "S":
		if !m.status.Armed {
			m.shared.ctrl.Arm(m.shared.ctx)
		}

	case "p", "P":
		if m.status.Armed {
			m.shared.ctrl.Disarm(m.shared.ctx)
		}
	}

	return m, nil
}

func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing " + config.AppName + "..."
	}

	menuH := 1
	statusH := 1
	bodyH := m.height - menuH - statusH
	if bodyH < 5 {
		bodyH = 5
	}

	proxW := m.width * 3 / 5
	if proxW < 30 {
		proxW = 30
	}
	linkW := m.width - proxW
	if linkW < 15 {
		linkW = 15
		proxW = m.width - linkW
	}

	menuBar := ui.RenderMenuBar(m.width, m.adapter, m.status.Armed, m.demoMode)
	proxPanel := ui.RenderProximityPanel(m.status, m.thresholds, proxW, bodyH,
		m.shared.signal.Values(), m.shared.front.Values())
	linkPanel := ui.RenderLinkPanel(m.status, linkW, bodyH, m.shared.notes)

	statusBar := ui.RenderStatusBar(m.width, m.status)
	if m.err != nil {
		statusBar = ui.StyleStatusBar.Width(m.width).Render(ui.StyleErrorText.Render("ERROR: " + m.err.Error()))
	}

	return ui.ComposeLayout(menuBar, proxPanel, linkPanel, statusBar)
}

// Forward relays controller status and notifications to the program until
// ctx is cancelled. Must be called before p.Run().
func Forward(ctx context.Context, p *tea.Program, ctrl *controller.Controller) {
	statuses, unsubscribe := ctrl.Subscribe()
	go func() {
		defer unsubscribe()
		notes := ctrl.Notifications()
		for {
			select {
			case <-ctx.Done():
				return
			case st := <-statuses:
				p.Send(StatusMsg(st))
			case n := <-notes:
				p.Send(NotificationMsg(n))
			}
		}
	}()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(config.TargetFPS), func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
