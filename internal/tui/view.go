package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"hoplink/internal/config"
	"hoplink/internal/conn"
)

// Numeric ANSI colors keep the interface readable on both light and dark
// terminal palettes.
var (
	colorAccent = lipgloss.Color("6")
	colorDim    = lipgloss.Color("8")
	colorGood   = lipgloss.Color("2")
	colorWarn   = lipgloss.Color("3")
	colorBad    = lipgloss.Color("1")
	colorSel    = lipgloss.Color("4")
	colorBright = lipgloss.Color("15")

	styleTitle    = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleDim      = lipgloss.NewStyle().Foreground(colorDim)
	styleGood     = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	styleWarn     = lipgloss.NewStyle().Foreground(colorWarn)
	styleBad      = lipgloss.NewStyle().Foreground(colorBad).Bold(true)
	styleSelected = lipgloss.NewStyle().Background(colorSel).Foreground(colorBright).Bold(true)
	styleDanger   = lipgloss.NewStyle().Background(colorBad).Foreground(colorBright).Bold(true)
	styleFocused  = lipgloss.NewStyle().Foreground(colorAccent)
	styleSpinner  = lipgloss.NewStyle().Foreground(colorAccent)
	styleNone     = lipgloss.NewStyle()

	styleHeader = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)

	styleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(1, 2)

	styleBoxGood = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGood).
			Padding(1, 2)

	styleBoxWarn = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorWarn).
			Padding(1, 2)

	styleBoxBad = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBad).
			Padding(1, 2)
)

// View renders the current screen between a header and a key-hint footer.
// Dialog-like screens are centered in the available space.
func (m model) View() string {
	header := m.viewHeader()
	footer := m.viewFooter()

	var body string
	switch m.screen {
	case screenTypeSelect:
		body = m.viewTypeSelect()
	case screenConnecting:
		body = m.viewConnecting()
	case screenConnected:
		body = m.viewConnected()
	case screenHelp:
		body = m.viewHelp()
	case screenSettings:
		body = m.viewSettings()
	case screenEditServer:
		body = m.viewEditServer()
	case screenConfirm:
		body = m.viewConfirm()
	default:
		body = m.viewServerList()
	}

	if m.width > 0 {
		inner := m.height - lipgloss.Height(header) - lipgloss.Height(footer)
		if inner < 1 {
			inner = 1
		}
		if m.screen == screenServerList {
			body = lipgloss.Place(m.width, inner, lipgloss.Left, lipgloss.Top, body)
		} else {
			body = lipgloss.Place(m.width, inner, lipgloss.Center, lipgloss.Center, body)
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer)
}

func (m model) viewHeader() string {
	dot := styleDim.Render("●")
	switch {
	case m.attemptErr != nil:
		dot = styleBad.Render("●")
	case m.phase == conn.PhaseConnected:
		dot = styleGood.Render("●")
	case m.busy:
		dot = styleWarn.Render("●")
	}

	var title string
	switch m.screen {
	case screenTypeSelect:
		title = "Select Connection Type"
	case screenConnecting:
		title = "Connecting"
	case screenConnected:
		title = "Connected"
	case screenHelp:
		title = "Help"
	case screenSettings:
		title = "Settings"
	case screenEditServer:
		if m.editIdx >= 0 {
			title = "Edit Server"
		} else {
			title = "Add Server"
		}
	case screenConfirm:
		title = "Confirm"
	default:
		title = "Server Manager"
	}

	line := fmt.Sprintf("%s %s %s", dot, styleTitle.Render("hoplink · "+title), styleDim.Render("v"+m.version))
	return styleHeader.Render(line)
}

func (m model) viewServerList() string {
	rows := []string{styleTitle.Render("Servers"), ""}
	if len(m.cfg.Servers) == 0 {
		rows = append(rows, styleDim.Render("No servers configured. Press a to add one."))
	}
	for i, srv := range m.cfg.Servers {
		tag := styleWarn.Render(" [RDP]")
		if srv.HasSSH() {
			tag = styleGood.Render(" [SSH]")
		}
		line := fmt.Sprintf(" %d. %s", i+1, srv.Name)
		if i == m.serverIdx {
			line = styleSelected.Render(line)
		}
		rows = append(rows, line+tag)
	}
	list := styleBox.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))

	panels := lipgloss.JoinHorizontal(lipgloss.Top, list, " ", m.viewServerDetails())
	return lipgloss.JoinVertical(lipgloss.Left, panels, m.viewStatusTail(3))
}

func (m model) viewServerDetails() string {
	srv, ok := m.currentServer()
	if !ok {
		return styleBox.Render(styleDim.Render("No server selected"))
	}
	ssh := srv.SSH
	if ssh == "" {
		ssh = styleDim.Render("not available")
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		styleTitle.Render("Details"),
		"",
		styleDim.Render("Name ")+srv.Name,
		styleDim.Render("VPN  ")+srv.VPN,
		styleDim.Render("RDP  ")+srv.RDP,
		styleDim.Render("SSH  ")+ssh,
	)
	return styleBox.Render(body)
}

func (m model) viewTypeSelect() string {
	srv, _ := m.currentServer()

	desc := map[conn.Mode]string{
		conn.ModeRDP:  "Remote Desktop Protocol",
		conn.ModeSSH:  "Secure Shell",
		conn.ModeBoth: "RDP + SSH",
	}

	rows := []string{styleTitle.Render("Connection type for " + srv.Name), ""}
	for i, mode := range m.modes {
		line := fmt.Sprintf(" %d. %s", i+1, mode)
		if i == m.modeIdx {
			line = styleSelected.Render(line)
		}
		rows = append(rows, line+"  "+styleDim.Render(desc[mode]))
	}
	return styleBox.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m model) viewConnecting() string {
	var name string
	if m.mgr != nil {
		name = m.mgr.Server().Name
	}

	if m.attemptErr != nil {
		body := lipgloss.JoinVertical(lipgloss.Center,
			styleBad.Render("✗ Connection failed"),
			"",
			m.attemptErr.Error(),
			"",
			styleDim.Render("Press Esc to return"),
		)
		return styleBoxBad.Render(body)
	}

	body := lipgloss.JoinVertical(lipgloss.Center,
		m.spin.View()+styleWarn.Render(m.phaseText()),
		"",
		styleDim.Render("Connecting to "+name),
		styleDim.Render("Elapsed "+formatDuration(m.now.Sub(m.startedAt))),
		"",
		m.viewStatusTail(5),
		"",
		styleDim.Render("Press Esc to cancel"),
	)
	return styleBox.Render(body)
}

func (m model) viewConnected() string {
	var srv config.Server
	if m.mgr != nil {
		srv = m.mgr.Server()
	}

	link := styleDim.Render("probing")
	if m.link != nil {
		if m.link.OK {
			link = styleGood.Render(fmt.Sprintf("up (%dms)", m.link.Latency.Milliseconds()))
		} else {
			link = styleBad.Render("down")
		}
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		styleGood.Render("✓ Connected"),
		"",
		styleDim.Render("Server   ")+srv.Name,
		styleDim.Render("VPN      ")+srv.VPN,
		styleDim.Render("Type     ")+m.mode.String(),
		styleDim.Render("Duration ")+formatDuration(m.now.Sub(m.startedAt)),
		styleDim.Render("Link     ")+link,
		"",
		styleDim.Render("Press d to disconnect"),
	)
	return styleBoxGood.Render(body)
}

func (m model) viewSettings() string {
	s := m.cfg.Settings
	body := lipgloss.JoinVertical(lipgloss.Left,
		styleTitle.Render("Settings"),
		"",
		fmt.Sprintf("VPN timeout   %d seconds", s.VPNTimeoutSecs),
		fmt.Sprintf("Ping timeout  %d ms", s.PingTimeoutMs),
		fmt.Sprintf("Ping retries  %d", s.PingRetries),
		"",
		styleDim.Render("S saves the catalog to "+m.cfgPath),
	)
	return styleBox.Render(body)
}

func (m model) viewEditServer() string {
	labels := [fieldCount]string{
		fieldName: "Name",
		fieldRDP:  "RDP address",
		fieldSSH:  "SSH target (optional)",
		fieldVPN:  "VPN name",
	}

	title := "Add server"
	if m.editIdx >= 0 {
		title = "Edit server"
	}

	rows := []string{styleTitle.Render(title), ""}
	for i := range m.inputs {
		label := styleDim.Render(labels[i])
		if i == m.focusIdx {
			label = styleFocused.Render(labels[i])
		}
		rows = append(rows, label, m.inputs[i].View(), "")
	}
	rows = append(rows, styleDim.Render("Tab next field · Enter on the last field saves · Esc cancels"))
	return styleBox.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m model) viewConfirm() string {
	var message string
	switch m.confirm {
	case confirmDeleteServer:
		name := "this server"
		if m.confirmTarget >= 0 && m.confirmTarget < len(m.cfg.Servers) {
			name = m.cfg.Servers[m.confirmTarget].Name
		}
		message = fmt.Sprintf("Delete %q?", name)
	case confirmDisconnect:
		message = "Disconnect the current session?"
	case confirmQuit:
		message = "A session is active. Quit and disconnect?"
	default:
		message = "Confirm?"
	}

	no := "  No  "
	yes := "  Yes  "
	if m.confirmYes {
		no = styleDim.Render(no)
		yes = styleDanger.Render(yes)
	} else {
		no = styleSelected.Render(no)
		yes = styleDim.Render(yes)
	}

	body := lipgloss.JoinVertical(lipgloss.Center,
		message,
		"",
		no+"   "+yes,
	)
	return styleBoxWarn.Render(body)
}

// helpLines is the full help text. viewHelp windows it when the
// terminal is too short to show everything at once.
func helpLines() []string {
	return []string{
		styleTitle.Render("Navigation"),
		"  ↑/k ↓/j   move selection",
		"  Enter     confirm",
		"  Esc       back / cancel",
		"  1-9       quick select server",
		"",
		styleTitle.Render("Server management"),
		"  a         add server",
		"  e         edit selected server",
		"  d/Del     delete selected server",
		"",
		styleTitle.Render("Quick connect"),
		"  r         RDP to selected server",
		"  S         SSH to selected server",
		"",
		styleTitle.Render("Other"),
		"  ?/F1      this help",
		"  s         settings",
		"  q         quit",
		"  Ctrl+C    quit",
		"",
		styleTitle.Render("While connected"),
		"  d         disconnect",
		"",
		styleDim.Render("Press Esc to close"),
	}
}

func (m model) viewHelp() string {
	lines := helpLines()

	visible := len(lines)
	if m.height > 0 {
		// Header, footer and the box frame take about eight rows.
		visible = m.height - 8
		if visible < 5 {
			visible = 5
		}
	}

	if visible < len(lines) {
		off := m.helpScroll
		if max := len(lines) - visible; off > max {
			off = max
		}
		window := make([]string, 0, visible+1)
		window = append(window, lines[off:off+visible]...)
		window = append(window, styleDim.Render("↑↓ scroll"))
		lines = window
	}

	return styleBox.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m model) viewFooter() string {
	var hints string
	switch m.screen {
	case screenTypeSelect:
		hints = "↑↓ navigate · Enter select · Esc back"
	case screenConnecting:
		hints = "Esc cancel"
	case screenConnected:
		hints = "d disconnect"
	case screenEditServer:
		hints = "Tab next · Enter save · Esc cancel"
	case screenSettings:
		hints = "S save · Esc back"
	case screenHelp:
		hints = "↑↓ scroll · Esc close"
	case screenConfirm:
		hints = "←→ select · Enter confirm · Esc cancel"
	default:
		hints = "↑↓ navigate · Enter connect · a add · e edit · d delete · ? help · q quit"
	}
	return styleDim.Render(" " + hints)
}

// viewStatusTail renders the most recent n status lines.
func (m model) viewStatusTail(n int) string {
	if len(m.statusLog) == 0 {
		return ""
	}
	start := len(m.statusLog) - n
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, l := range m.statusLog[start:] {
		lines = append(lines, styleDim.Render(l.at.Format("15:04:05"))+" "+l.text)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m model) phaseText() string {
	switch m.phase {
	case conn.PhaseConnectingVPN:
		return "Initiating VPN connection"
	case conn.PhaseWaitingForVPN:
		return "Waiting for VPN to establish"
	case conn.PhaseCheckingConnectivity:
		return "Checking connectivity"
	case conn.PhaseStartingSession:
		return "Starting session"
	case conn.PhaseConnected:
		return "Session running"
	case conn.PhaseDisconnecting:
		return "Disconnecting"
	default:
		return "Connecting"
	}
}

// formatDuration renders an elapsed time as HH:MM:SS, dropping the hour part
// while it is zero.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d.Seconds())
	h := secs / 3600
	min := (secs % 3600) / 60
	sec := secs % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, min, sec)
	}
	return fmt.Sprintf("%02d:%02d", min, sec)
}
