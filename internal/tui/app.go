// Package tui implements the interactive terminal interface: a screen-based
// state machine over the connection manager, rendered with bubbletea. All
// orchestration runs on a worker goroutine; the model only ever changes in
// response to messages, so keyboard input is never starved by a connection
// attempt in flight.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"hoplink/internal/config"
	"hoplink/internal/conn"
	"hoplink/internal/platform"
)

// tickInterval paces redraws while an attempt or session is running.
const tickInterval = 250 * time.Millisecond

// statusLogMax bounds the status log ring.
const statusLogMax = 100

// statusMsg carries a connection manager update into the bubbletea loop.
type statusMsg conn.Update

// attemptDoneMsg is sent when the connection worker goroutine finishes.
type attemptDoneMsg struct {
	err error
}

// sshHandoffMsg asks the loop to hand the terminal over to an ssh child.
// done receives the command's exit error so the worker can resume.
type sshHandoffMsg struct {
	target string
	done   chan error
}

// sshReturnedMsg is sent when the terminal comes back from an ssh hand-off.
type sshReturnedMsg struct {
	err error
}

// monitorMsg carries a link health reading while a session is up.
type monitorMsg conn.Sample

// tickMsg drives the elapsed-time display.
type tickMsg time.Time

// screen identifies the active view of the state machine.
type screen int

const (
	screenServerList screen = iota
	screenTypeSelect
	screenConnecting
	screenConnected
	screenHelp
	screenSettings
	screenEditServer
	screenConfirm
)

// confirmKind identifies the pending action behind the confirm dialog.
type confirmKind int

const (
	confirmNone confirmKind = iota
	confirmDeleteServer
	confirmDisconnect
	confirmQuit
)

// Edit form field order.
const (
	fieldName = iota
	fieldRDP
	fieldSSH
	fieldVPN
	fieldCount
)

// statusLine is one timestamped entry in the status log.
type statusLine struct {
	at   time.Time
	text string
}

// session tracks the live attempt so cleanup can still reach it after the
// bubbletea loop has exited.
type session struct {
	mu     sync.Mutex
	mgr    *conn.Manager
	cancel context.CancelFunc
}

func (s *session) set(mgr *conn.Manager, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mgr = mgr
	s.cancel = cancel
}

// shutdown cancels the in-flight attempt, if any, and releases the VPN.
// Safe to call when nothing is running.
func (s *session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.mgr != nil {
		s.mgr.Disconnect()
	}
}

// App wraps the bubbletea program and guarantees VPN teardown once the
// interactive loop has exited, however it exited.
type App struct {
	program *tea.Program
	sess    *session
}

// New builds the interactive application over a loaded catalog. Edits made
// in the interface mutate cfg in place; the Settings screen persists them to
// cfgPath. Cancelling ctx kills the program from outside, signal handling
// lives in the caller.
func New(ctx context.Context, cfg *config.Config, cfgPath string, ops platform.Ops, version string) *App {
	sess := &session{}
	m := newModel(cfg, cfgPath, ops, version, sess)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	return &App{program: p, sess: sess}
}

// Run blocks until the user quits or the context ends, then tears down any
// outstanding session before returning.
func (a *App) Run() error {
	_, err := a.program.Run()
	a.sess.shutdown()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

// model is the bubbletea state for the whole interface.
type model struct {
	cfg     *config.Config
	cfgPath string
	ops     platform.Ops
	version string
	sess    *session

	screen     screen
	prevScreen screen

	serverIdx  int
	modeIdx    int
	modes      []conn.Mode
	helpScroll int

	confirm       confirmKind
	confirmTarget int
	confirmYes    bool

	inputs   []textinput.Model
	focusIdx int
	editIdx  int

	// State of the in-flight attempt. The worker goroutine never touches
	// these; it reports through the events channel.
	mgr         *conn.Manager
	attemptCtx  context.Context
	cancel      context.CancelFunc
	busy        bool
	mode        conn.Mode
	phase       conn.Phase
	attemptErr  error
	monitorHost string
	monitorCh   <-chan conn.Sample
	link        *conn.Sample
	startedAt   time.Time

	events chan tea.Msg
	spin   spinner.Model
	now    time.Time

	statusLog []statusLine

	width  int
	height int
}

func newModel(cfg *config.Config, cfgPath string, ops platform.Ops, version string, sess *session) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styleSpinner

	return model{
		cfg:     cfg,
		cfgPath: cfgPath,
		ops:     ops,
		version: version,
		sess:    sess,
		editIdx: -1,
		events:  make(chan tea.Msg, 64),
		spin:    sp,
		now:     time.Now(),
	}
}

// Init arms the event listener that carries worker messages into the loop.
// Exactly one listener is alive at any time, so message order is preserved.
func (m model) Init() tea.Cmd {
	return listenEvents(m.events)
}

// listenEvents waits for the next worker message. The handler of every
// message received this way re-arms the listener.
func listenEvents(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// listenMonitor waits for the next link health reading. The chain ends when
// the monitor closes its channel.
func listenMonitor(ch <-chan conn.Sample) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return monitorMsg(s)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles incoming messages and advances the state machine.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		if m.busy {
			return m, tick()
		}
		return m, nil

	case spinner.TickMsg:
		if m.screen != screenConnecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case statusMsg:
		return m.handleStatus(conn.Update(msg))

	case sshHandoffMsg:
		// Suspend the interface and give the terminal to ssh. The exit
		// error resumes the worker through the done channel.
		done := msg.done
		return m, tea.Batch(
			listenEvents(m.events),
			tea.ExecProcess(m.ops.SSHCommand(msg.target), func(err error) tea.Msg {
				done <- err
				return sshReturnedMsg{err: err}
			}),
		)

	case sshReturnedMsg:
		return m, nil

	case attemptDoneMsg:
		return m.handleAttemptDone(msg.err)

	case monitorMsg:
		if m.monitorCh == nil {
			return m, nil
		}
		s := conn.Sample(msg)
		m.link = &s
		return m, listenMonitor(m.monitorCh)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

// handleStatus reflects a manager update into the interface and starts the
// link monitor once the session is up.
func (m model) handleStatus(u conn.Update) (tea.Model, tea.Cmd) {
	m.phase = u.Phase
	if u.Detail != "" {
		if u.Warn {
			m = m.logf("⚠ %s", u.Detail)
		} else {
			m = m.logf("%s", u.Detail)
		}
	}

	cmds := []tea.Cmd{listenEvents(m.events)}

	if u.Phase == conn.PhaseConnected && m.busy {
		if m.screen == screenConnecting {
			m.screen = screenConnected
		}
		if m.monitorCh == nil {
			mon := conn.NewMonitor(m.ops, m.monitorHost)
			m.monitorCh = mon.Samples()
			go mon.Run(m.attemptCtx)
			cmds = append(cmds, listenMonitor(m.monitorCh))
		}
	}

	return m, tea.Batch(cmds...)
}

// handleAttemptDone closes out an attempt. Fatal errors stay on screen until
// the user acknowledges them with Esc; every other outcome returns to the
// server list.
func (m model) handleAttemptDone(err error) (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
	}
	m.sess.set(nil, nil)
	m.busy = false
	m.cancel = nil
	m.monitorCh = nil
	m.link = nil
	m.phase = conn.PhaseIdle
	m.confirm = confirmNone

	switch {
	case err == nil:
		m = m.logf("Session ended")
		m.screen = screenServerList
	case errors.Is(err, conn.ErrCancelled):
		m = m.logf("Connection attempt cancelled")
		m.screen = screenServerList
	default:
		m.attemptErr = err
		m = m.logf("✗ %v", err)
		m.screen = screenConnecting
	}

	return m, listenEvents(m.events)
}

// startAttempt spawns the connection worker for the selected server and
// switches to the connecting screen.
func (m model) startAttempt(mode conn.Mode) (tea.Model, tea.Cmd) {
	if m.busy {
		return m.logf("A connection attempt is already active"), nil
	}
	srv, ok := m.currentServer()
	if !ok {
		return m, nil
	}
	if err := conn.ValidateMode(srv, mode); err != nil {
		return m.logf("✗ %v", err), nil
	}

	mgr := conn.New(m.ops, srv, m.cfg.Settings)
	events := m.events
	mgr.SetNotify(func(u conn.Update) {
		events <- statusMsg(u)
	})
	mgr.SetSSHRunner(func(ctx context.Context, target string) error {
		done := make(chan error, 1)
		events <- sshHandoffMsg{target: target, done: done}
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	m.sess.set(mgr, cancel)

	m.mgr = mgr
	m.attemptCtx = ctx
	m.cancel = cancel
	m.busy = true
	m.mode = mode
	m.phase = conn.PhaseIdle
	m.attemptErr = nil
	m.link = nil
	m.monitorCh = nil
	m.startedAt = time.Now()
	m.now = m.startedAt
	m.screen = screenConnecting

	m.monitorHost = srv.RDP
	if mode == conn.ModeSSH {
		if host, err := srv.SSHHost(); err == nil {
			m.monitorHost = host
		}
	}

	m = m.logf("Connecting to %s (%s)", srv.Name, mode)

	go func() {
		events <- attemptDoneMsg{err: mgr.Connect(ctx, mode)}
	}()

	return m, tea.Batch(m.spin.Tick, tick())
}

// cancelAttempt asks the in-flight attempt to stop. The worker observes the
// cancel at its next poll and reports back through attemptDoneMsg.
func (m model) cancelAttempt() model {
	if m.cancel != nil {
		m.cancel()
		m = m.logf("Cancelling connection attempt")
	}
	return m
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Global shortcuts. The edit form needs plain characters for typing.
	if key == "ctrl+c" || (key == "q" && m.screen != screenEditServer) {
		return m.requestQuit()
	}

	switch m.screen {
	case screenTypeSelect:
		return m.handleTypeSelectKey(key)
	case screenConnecting:
		return m.handleConnectingKey(key)
	case screenConnected:
		return m.handleConnectedKey(key)
	case screenHelp:
		return m.handleHelpKey(key)
	case screenSettings:
		return m.handleSettingsKey(key)
	case screenEditServer:
		return m.handleEditServerKey(msg)
	case screenConfirm:
		return m.handleConfirmKey(key)
	default:
		return m.handleServerListKey(key)
	}
}

// requestQuit quits immediately when idle and asks for confirmation while a
// session is live, so teardown is never skipped.
func (m model) requestQuit() (tea.Model, tea.Cmd) {
	if !m.busy {
		return m, tea.Quit
	}
	return m.openConfirm(confirmQuit, 0), nil
}

func (m model) handleServerListKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "up", "k":
		m.serverIdx = wrap(m.serverIdx-1, len(m.cfg.Servers))
	case "down", "j":
		m.serverIdx = wrap(m.serverIdx+1, len(m.cfg.Servers))
	case "enter", " ":
		return m.selectServer()
	case "r":
		return m.startAttempt(conn.ModeRDP)
	case "S":
		if srv, ok := m.currentServer(); ok && srv.HasSSH() {
			return m.startAttempt(conn.ModeSSH)
		}
	case "a":
		return m.openEditor(-1)
	case "e":
		if _, ok := m.currentServer(); ok {
			return m.openEditor(m.serverIdx)
		}
	case "d", "delete":
		if _, ok := m.currentServer(); ok {
			return m.openConfirm(confirmDeleteServer, m.serverIdx), nil
		}
	case "?", "f1":
		m.helpScroll = 0
		return m.goTo(screenHelp), nil
	case "s":
		return m.goTo(screenSettings), nil
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		idx := int(key[0] - '1')
		if idx < len(m.cfg.Servers) {
			m.serverIdx = idx
			return m.selectServer()
		}
	}
	return m, nil
}

// selectServer routes Enter on the list: servers with an SSH target get the
// mode picker, RDP-only servers connect straight away.
func (m model) selectServer() (tea.Model, tea.Cmd) {
	srv, ok := m.currentServer()
	if !ok {
		return m, nil
	}
	if srv.HasSSH() {
		m.modes = conn.Modes()
		m.modeIdx = 0
		return m.goTo(screenTypeSelect), nil
	}
	return m.startAttempt(conn.ModeRDP)
}

func (m model) handleTypeSelectKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "up", "k":
		m.modeIdx = wrap(m.modeIdx-1, len(m.modes))
	case "down", "j":
		m.modeIdx = wrap(m.modeIdx+1, len(m.modes))
	case "enter", " ":
		if m.modeIdx < len(m.modes) {
			return m.startAttempt(m.modes[m.modeIdx])
		}
	case "esc", "backspace":
		return m.goBack(), nil
	case "1", "2", "3":
		idx := int(key[0] - '1')
		if idx < len(m.modes) {
			m.modeIdx = idx
			return m.startAttempt(m.modes[idx])
		}
	}
	return m, nil
}

func (m model) handleConnectingKey(key string) (tea.Model, tea.Cmd) {
	if key != "esc" {
		return m, nil
	}
	if m.attemptErr != nil {
		// Error acknowledged. Make sure the VPN is down before leaving.
		m.attemptErr = nil
		if m.mgr != nil {
			m.mgr.Disconnect()
		}
		m.screen = screenServerList
		return m, nil
	}
	return m.cancelAttempt(), nil
}

func (m model) handleConnectedKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "d", "enter", "esc":
		return m.openConfirm(confirmDisconnect, 0), nil
	}
	return m, nil
}

func (m model) handleHelpKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "up", "k":
		if m.helpScroll > 0 {
			m.helpScroll--
		}
	case "down", "j":
		if m.helpScroll < len(helpLines())-1 {
			m.helpScroll++
		}
	case "esc", "enter", "?", "f1":
		return m.goBack(), nil
	}
	return m, nil
}

func (m model) handleSettingsKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "esc", "s":
		return m.goBack(), nil
	case "S":
		if err := m.cfg.Save(m.cfgPath); err != nil {
			return m.logf("✗ Saving configuration failed: %v", err), nil
		}
		return m.logf("✓ Configuration saved to %s", m.cfgPath), nil
	}
	return m, nil
}

func (m model) handleEditServerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.goBack(), nil
	case "enter":
		if m.focusIdx < fieldCount-1 {
			return m.setFocus(m.focusIdx + 1)
		}
		return m.commitEditor()
	case "tab", "down":
		if m.focusIdx < fieldCount-1 {
			return m.setFocus(m.focusIdx + 1)
		}
		return m, nil
	case "shift+tab", "up":
		if m.focusIdx > 0 {
			return m.setFocus(m.focusIdx - 1)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.inputs[m.focusIdx], cmd = m.inputs[m.focusIdx].Update(msg)
	return m, cmd
}

func (m model) handleConfirmKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "left", "right", "tab":
		m.confirmYes = !m.confirmYes
	case "y", "Y":
		m.confirmYes = true
		return m.executeConfirm()
	case "n", "N", "esc":
		m.confirm = confirmNone
		return m.goBack(), nil
	case "enter":
		if m.confirmYes {
			return m.executeConfirm()
		}
		m.confirm = confirmNone
		return m.goBack(), nil
	}
	return m, nil
}

// executeConfirm runs the pending confirm action.
func (m model) executeConfirm() (tea.Model, tea.Cmd) {
	kind := m.confirm
	m.confirm = confirmNone

	switch kind {
	case confirmDeleteServer:
		if m.confirmTarget >= 0 && m.confirmTarget < len(m.cfg.Servers) {
			name := m.cfg.Servers[m.confirmTarget].Name
			m.cfg.Servers = append(m.cfg.Servers[:m.confirmTarget], m.cfg.Servers[m.confirmTarget+1:]...)
			if m.serverIdx >= len(m.cfg.Servers) && m.serverIdx > 0 {
				m.serverIdx--
			}
			m = m.logf("Server %q deleted", name)
		}
		return m.goBack(), nil

	case confirmDisconnect:
		m = m.cancelAttempt()
		m.screen = screenServerList
		return m, nil

	case confirmQuit:
		m = m.cancelAttempt()
		return m, tea.Quit
	}

	return m.goBack(), nil
}

// openEditor prepares the add/edit form. idx < 0 means a new server.
func (m model) openEditor(idx int) (tea.Model, tea.Cmd) {
	m.editIdx = idx
	m.inputs = newEditInputs()
	if idx >= 0 && idx < len(m.cfg.Servers) {
		srv := m.cfg.Servers[idx]
		m.inputs[fieldName].SetValue(srv.Name)
		m.inputs[fieldRDP].SetValue(srv.RDP)
		m.inputs[fieldSSH].SetValue(srv.SSH)
		m.inputs[fieldVPN].SetValue(srv.VPN)
	}
	m = m.goTo(screenEditServer)
	return m.setFocus(0)
}

func newEditInputs() []textinput.Model {
	placeholders := [fieldCount]string{
		fieldName: "Server display name",
		fieldRDP:  "IP or hostname",
		fieldSSH:  "user@host (optional)",
		fieldVPN:  "VPN profile name as configured in the OS",
	}

	inputs := make([]textinput.Model, fieldCount)
	for i := range inputs {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = 128
		ti.Width = 44
		inputs[i] = ti
	}
	return inputs
}

// setFocus moves keyboard focus to input idx.
func (m model) setFocus(idx int) (model, tea.Cmd) {
	m.focusIdx = idx
	var cmd tea.Cmd
	for i := range m.inputs {
		if i == idx {
			cmd = m.inputs[i].Focus()
			m.inputs[i].Prompt = "> "
			m.inputs[i].PromptStyle = styleFocused
			m.inputs[i].TextStyle = styleFocused
		} else {
			m.inputs[i].Blur()
			m.inputs[i].Prompt = "  "
			m.inputs[i].PromptStyle = styleNone
			m.inputs[i].TextStyle = styleNone
		}
	}
	return m, cmd
}

// commitEditor validates the form and upserts the server into the catalog.
func (m model) commitEditor() (tea.Model, tea.Cmd) {
	srv := config.Server{
		Name: strings.TrimSpace(m.inputs[fieldName].Value()),
		RDP:  strings.TrimSpace(m.inputs[fieldRDP].Value()),
		SSH:  strings.TrimSpace(m.inputs[fieldSSH].Value()),
		VPN:  strings.TrimSpace(m.inputs[fieldVPN].Value()),
	}
	if srv.Name == "" || srv.RDP == "" || srv.VPN == "" {
		return m.logf("⚠ Name, RDP address and VPN name are required"), nil
	}

	if m.editIdx >= 0 && m.editIdx < len(m.cfg.Servers) {
		m.cfg.Servers[m.editIdx] = srv
		m.serverIdx = m.editIdx
		m = m.logf("Server %q updated", srv.Name)
	} else {
		m.cfg.Servers = append(m.cfg.Servers, srv)
		m.serverIdx = len(m.cfg.Servers) - 1
		m = m.logf("Server %q added", srv.Name)
	}

	m.screen = screenServerList
	return m, nil
}

func (m model) openConfirm(kind confirmKind, target int) model {
	m.confirm = kind
	m.confirmTarget = target
	m.confirmYes = false
	if m.screen != screenConfirm {
		m.prevScreen = m.screen
	}
	m.screen = screenConfirm
	return m
}

// goTo switches screens remembering where we came from, so modal screens
// can return.
func (m model) goTo(s screen) model {
	m.prevScreen = m.screen
	m.screen = s
	return m
}

func (m model) goBack() model {
	m.screen = m.prevScreen
	return m
}

func (m model) currentServer() (config.Server, bool) {
	if m.serverIdx < 0 || m.serverIdx >= len(m.cfg.Servers) {
		return config.Server{}, false
	}
	return m.cfg.Servers[m.serverIdx], true
}

// logf appends a line to the status log, keeping the most recent entries.
func (m model) logf(format string, args ...any) model {
	lines := append(m.statusLog, statusLine{at: time.Now(), text: fmt.Sprintf(format, args...)})
	if len(lines) > statusLogMax {
		lines = lines[len(lines)-statusLogMax:]
	}
	m.statusLog = lines
	return m
}

// wrap keeps list selection circular. An empty list pins the index to zero.
func wrap(i, n int) int {
	if n == 0 {
		return 0
	}
	return ((i % n) + n) % n
}
