// Package conn drives connection attempts end to end: bring up the VPN
// profile, wait for it to become routable, confirm reachability, launch the
// requested session clients, wait for them, and always release the VPN
// afterwards. It owns retry, backoff and cancellation; processes themselves
// are spawned through the platform package.
package conn

import (
	"strings"

	"hoplink/internal/config"
)

// Mode selects which session clients an attempt launches.
type Mode int

const (
	ModeRDP Mode = iota
	ModeSSH
	ModeBoth
)

// String returns the display name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeRDP:
		return "RDP"
	case ModeSSH:
		return "SSH"
	case ModeBoth:
		return "Both"
	}
	return "unknown"
}

// Modes lists every mode in selection order.
func Modes() []Mode {
	return []Mode{ModeRDP, ModeSSH, ModeBoth}
}

// ParseMode converts a user-supplied mode string, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rdp":
		return ModeRDP, nil
	case "ssh":
		return ModeSSH, nil
	case "both":
		return ModeBoth, nil
	}
	return 0, configErrorf("invalid connection type %q, expected rdp, ssh or both", s)
}

// ValidateMode checks that the server supports the requested mode. SSH and
// Both require a configured SSH target.
func ValidateMode(server config.Server, mode Mode) error {
	if mode != ModeRDP && !server.HasSSH() {
		return configErrorf("server %q has no SSH target configured", server.Name)
	}
	return nil
}

// Phase names one step of the connection lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnectingVPN
	PhaseWaitingForVPN
	PhaseCheckingConnectivity
	PhaseStartingSession
	PhaseConnected
	PhaseDisconnecting
)

// String returns a short human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnectingVPN:
		return "connecting VPN"
	case PhaseWaitingForVPN:
		return "waiting for VPN"
	case PhaseCheckingConnectivity:
		return "checking connectivity"
	case PhaseStartingSession:
		return "starting session"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Update is one status notification from a running attempt. Warn marks
// degraded-but-continuing conditions; Err carries the underlying error when
// one exists.
type Update struct {
	Phase  Phase
	Detail string
	Warn   bool
	Err    error
}
