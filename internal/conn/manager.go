package conn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"hoplink/internal/config"
	"hoplink/internal/platform"
)

// vpnPollInterval is the fixed delay between reachability probes while
// waiting for the VPN route to come up.
const vpnPollInterval = 2 * time.Second

// Manager drives connection attempts for one server. The server value is
// copied at construction, so catalog edits between sessions never affect an
// attempt in flight. A Manager runs at most one attempt at a time and may be
// reused once the previous attempt has finished.
type Manager struct {
	ops      platform.Ops
	server   config.Server
	settings config.Settings

	notify func(Update)
	sshRun func(ctx context.Context, target string) error

	active   atomic.Bool
	tornDown atomic.Bool

	mu        sync.Mutex
	phase     Phase
	startedAt time.Time
	lastErr   error

	// Injection points for tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	log *logrus.Entry
}

// New builds a Manager for one server with the given timing settings.
func New(ops platform.Ops, server config.Server, settings config.Settings) *Manager {
	m := &Manager{
		ops:      ops,
		server:   server,
		settings: settings,
		sleep:    sleepCtx,
		now:      time.Now,
		log:      logrus.WithField("server", server.Name),
	}
	m.sshRun = ops.RunSSH
	// Nothing to tear down until an attempt starts.
	m.tornDown.Store(true)
	return m
}

// SetNotify registers a callback invoked on every phase change and status
// event. Set it before calling Connect; the callback must not block for
// long since it runs on the attempt goroutine.
func (m *Manager) SetNotify(fn func(Update)) { m.notify = fn }

// SetSSHRunner overrides how the blocking ssh session is executed. The
// interactive UI installs a bridge here that hands the terminal over to ssh;
// the default runs the platform ssh client directly.
func (m *Manager) SetSSHRunner(fn func(ctx context.Context, target string) error) {
	m.sshRun = fn
}

// Server returns the server this manager connects to.
func (m *Manager) Server() config.Server { return m.server }

// Active reports whether an attempt is currently in flight.
func (m *Manager) Active() bool { return m.active.Load() }

// Status is a point-in-time view of the current attempt.
type Status struct {
	Phase     Phase
	StartedAt time.Time
	Err       error
}

// Status returns the current attempt state. Safe from any goroutine.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Phase: m.phase, StartedAt: m.startedAt, Err: m.lastErr}
}

// Connect runs the full lifecycle for mode and blocks until every launched
// session has ended and the VPN is released. ctx cancels the attempt;
// cancellation is observed at every poll, sleep and wait and reported as
// ErrCancelled. Validation problems surface as ConfigError before any side
// effect. Whatever happens after that, the VPN profile is disconnected
// exactly once before Connect returns.
func (m *Manager) Connect(ctx context.Context, mode Mode) (err error) {
	if !m.active.CompareAndSwap(false, true) {
		return ErrActive
	}
	defer m.active.Store(false)

	if verr := ValidateMode(m.server, mode); verr != nil {
		return verr
	}
	var sshHost string
	if mode != ModeRDP {
		host, herr := m.server.SSHHost()
		if herr != nil {
			return &ConfigError{Reason: herr.Error()}
		}
		sshHost = host
	}

	alog := m.log.WithField("attempt", uuid.New().String()[:8])

	m.mu.Lock()
	m.startedAt = m.now()
	m.lastErr = nil
	m.mu.Unlock()

	// The attempt owns the VPN profile from here until the deferred
	// release, which runs on every path out of this function.
	m.tornDown.Store(false)
	defer func() {
		m.Disconnect()
		m.mu.Lock()
		m.phase = PhaseIdle
		m.lastErr = err
		m.mu.Unlock()
	}()

	if ctx.Err() != nil {
		alog.Debug("cancelled before start")
		return ErrCancelled
	}

	m.setPhase(PhaseConnectingVPN, "Connecting to VPN: "+m.server.VPN)
	alog.WithField("vpn", m.server.VPN).Info("connecting to VPN")
	if cerr := m.ops.ConnectVPN(ctx, m.server.VPN); cerr != nil {
		// Soft failure. Several VPN clients report success asynchronously,
		// so reachability below is the real signal.
		alog.WithError(cerr).Warn("VPN connect command failed, continuing")
		m.emit(Update{Phase: PhaseConnectingVPN, Detail: "VPN command failed, continuing", Warn: true, Err: cerr})
	}

	if werr := m.waitForVPN(ctx, alog); werr != nil {
		return werr
	}

	switch mode {
	case ModeSSH:
		return m.runSSH(ctx, alog, sshHost)
	case ModeBoth:
		return m.runBoth(ctx, alog, sshHost)
	default:
		return m.runRDP(ctx, alog)
	}
}

// Disconnect releases the VPN profile if the current attempt still holds
// it. Safe to call from any goroutine and any number of times; only the
// first call per attempt reaches the platform. Failures are logged and
// swallowed, there is no recovery action for a VPN that will not close.
func (m *Manager) Disconnect() {
	if !m.tornDown.CompareAndSwap(false, true) {
		return
	}
	m.setPhase(PhaseDisconnecting, "Disconnecting VPN: "+m.server.VPN)
	m.log.WithField("vpn", m.server.VPN).Info("disconnecting VPN")
	if err := m.ops.DisconnectVPN(m.server.VPN); err != nil {
		m.log.WithError(err).Error("VPN disconnect failed")
		m.emit(Update{Phase: PhaseDisconnecting, Detail: "VPN disconnect failed", Warn: true, Err: err})
	}
}

// waitForVPN polls the RDP address until it answers or the VPN timeout
// elapses. Timing out is not fatal: some VPNs do not answer ping but still
// route traffic, so the attempt proceeds with a warning.
func (m *Manager) waitForVPN(ctx context.Context, alog *logrus.Entry) error {
	timeout := m.settings.VPNTimeout()
	deadline := m.now().Add(timeout)

	m.setPhase(PhaseWaitingForVPN, fmt.Sprintf("Waiting for VPN route (timeout %ds)", m.settings.VPNTimeoutSecs))
	alog.Infof("waiting for VPN connection (timeout %ds)", m.settings.VPNTimeoutSecs)

	for m.now().Before(deadline) {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		if m.ops.Ping(ctx, m.server.RDP, m.settings.PingTimeout()) {
			alog.Info("VPN connection established")
			m.emit(Update{Phase: PhaseWaitingForVPN, Detail: "VPN route is up"})
			return nil
		}
		wait := vpnPollInterval
		if remaining := deadline.Sub(m.now()); remaining < wait {
			wait = remaining
		}
		if wait > 0 {
			if m.sleep(ctx, wait) != nil {
				return ErrCancelled
			}
		}
	}

	alog.Warn("VPN wait timed out, proceeding anyway")
	m.emit(Update{Phase: PhaseWaitingForVPN, Detail: "VPN wait timed out, proceeding anyway", Warn: true})
	return nil
}

// CheckReachable probes host up to Settings.PingRetries times with
// exponential backoff (1s, 2s, 4s, ...) between attempts and none after the
// last. It never fails hard: cancellation and exhausted retries both come
// back as unreachable, and the caller inspects ctx to tell them apart.
func (m *Manager) CheckReachable(ctx context.Context, host string) bool {
	retries := m.settings.PingRetries
	hlog := m.log.WithField("host", host)

	for attempt := 1; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		hlog.Debugf("ping attempt %d of %d", attempt, retries)
		if m.ops.Ping(ctx, host, m.settings.PingTimeout()) {
			hlog.Info("host is reachable")
			return true
		}
		if attempt < retries {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			hlog.Debugf("retrying in %s", backoff)
			if m.sleep(ctx, backoff) != nil {
				return false
			}
		}
	}

	hlog.Warnf("host not reachable after %d attempts", retries)
	return false
}

func (m *Manager) runRDP(ctx context.Context, alog *logrus.Entry) error {
	proc, err := m.startRDP(ctx, alog)
	if err != nil || proc == nil {
		return err
	}
	return m.waitRDP(ctx, alog, proc)
}

func (m *Manager) runBoth(ctx context.Context, alog *logrus.Entry, sshHost string) error {
	// RDP first so it is on screen while ssh holds the terminal.
	proc, err := m.startRDP(ctx, alog)
	if err != nil {
		return err
	}

	if serr := m.runSSH(ctx, alog, sshHost); serr != nil {
		if proc != nil {
			// The attempt is ending in error; leave the RDP client to its
			// own fate rather than blocking on it.
			alog.Debug("abandoning RDP session handle")
			_ = proc.Release()
		}
		return serr
	}

	if proc != nil {
		return m.waitRDP(ctx, alog, proc)
	}
	return nil
}

// startRDP confirms reachability and launches the RDP client without
// waiting for it. A nil Proc with nil error means the session was skipped
// because the host did not answer.
func (m *Manager) startRDP(ctx context.Context, alog *logrus.Entry) (platform.Proc, error) {
	m.setPhase(PhaseCheckingConnectivity, "Checking RDP host "+m.server.RDP)
	if !m.CheckReachable(ctx, m.server.RDP) {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		alog.WithField("host", m.server.RDP).Warn("RDP host not reachable, skipping RDP session")
		m.emit(Update{Phase: PhaseCheckingConnectivity, Detail: "RDP host unreachable, skipping RDP", Warn: true})
		return nil, nil
	}

	m.setPhase(PhaseStartingSession, "Starting RDP session to "+m.server.RDP)
	alog.WithField("address", m.server.RDP).Info("starting RDP session")
	proc, err := m.ops.StartRDP(ctx, m.server.RDP)
	if err != nil {
		return nil, &LaunchError{Client: "rdp", Err: err}
	}
	m.emit(Update{Phase: PhaseStartingSession, Detail: "RDP client started: " + proc.Client()})
	return proc, nil
}

// waitRDP blocks until the RDP client exits. The client's own exit status
// is irrelevant; only cancellation turns the wait into an error.
func (m *Manager) waitRDP(ctx context.Context, alog *logrus.Entry, proc platform.Proc) error {
	m.setPhase(PhaseConnected, "RDP session running")
	alog.Info("waiting for RDP session to end")

	werr := proc.Wait()
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if werr != nil {
		alog.WithError(werr).Debug("RDP client exited with error status")
	}
	m.emit(Update{Phase: PhaseConnected, Detail: "RDP session ended"})
	return nil
}

// runSSH confirms reachability of the SSH host and runs the blocking ssh
// session. Unreachable skips the session; only a spawn failure is fatal.
func (m *Manager) runSSH(ctx context.Context, alog *logrus.Entry, sshHost string) error {
	m.setPhase(PhaseCheckingConnectivity, "Checking SSH host "+sshHost)
	if !m.CheckReachable(ctx, sshHost) {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		alog.WithField("host", sshHost).Warn("SSH host not reachable, skipping SSH session")
		m.emit(Update{Phase: PhaseCheckingConnectivity, Detail: "SSH host unreachable, skipping SSH", Warn: true})
		return nil
	}

	target := m.server.SSH
	m.setPhase(PhaseStartingSession, "Starting SSH session to "+target)
	alog.WithField("target", target).Info("starting SSH session")

	m.setPhase(PhaseConnected, "SSH session running")
	if rerr := m.sshRun(ctx, target); rerr != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		return &LaunchError{Client: "ssh", Err: rerr}
	}
	if ctx.Err() != nil {
		return ErrCancelled
	}

	m.emit(Update{Phase: PhaseConnected, Detail: "SSH session ended"})
	return nil
}

func (m *Manager) setPhase(p Phase, detail string) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
	m.emit(Update{Phase: p, Detail: detail})
}

func (m *Manager) emit(u Update) {
	if m.notify != nil {
		m.notify(u)
	}
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
