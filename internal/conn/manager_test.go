package conn

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hoplink/internal/config"
	"hoplink/internal/platform"
)

// fakeOps records every platform call in order and serves canned results.
type fakeOps struct {
	mu            sync.Mutex
	calls         []string
	reachable     map[string]bool
	connectErr    error
	disconnectErr error
	rdpErr        error
	sshErr        error
	proc          *fakeProc
}

func newFakeOps(reachable ...string) *fakeOps {
	f := &fakeOps{reachable: make(map[string]bool)}
	for _, host := range reachable {
		f.reachable[host] = true
	}
	return f
}

func (f *fakeOps) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeOps) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeOps) count(prefix string) int {
	n := 0
	for _, c := range f.callList() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// blockRDP makes the next StartRDP return a handle whose Wait blocks until
// the returned channel is closed.
func (f *fakeOps) blockRDP() *fakeProc {
	f.proc = &fakeProc{ops: f, client: "fake-rdp", block: make(chan struct{})}
	return f.proc
}

func (f *fakeOps) ConnectVPN(ctx context.Context, name string) error {
	f.record("vpn-up:" + name)
	return f.connectErr
}

func (f *fakeOps) DisconnectVPN(name string) error {
	f.record("vpn-down:" + name)
	return f.disconnectErr
}

func (f *fakeOps) Ping(ctx context.Context, host string, timeout time.Duration) bool {
	f.record("ping:" + host)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable[host]
}

func (f *fakeOps) StartRDP(ctx context.Context, address string) (platform.Proc, error) {
	f.record("rdp:" + address)
	if f.rdpErr != nil {
		return nil, f.rdpErr
	}
	if f.proc == nil {
		f.proc = &fakeProc{ops: f, client: "fake-rdp"}
	}
	return f.proc, nil
}

func (f *fakeOps) RunSSH(ctx context.Context, target string) error {
	f.record("ssh:" + target)
	return f.sshErr
}

func (f *fakeOps) SSHCommand(target string) *exec.Cmd {
	return exec.Command("ssh", target)
}

type fakeProc struct {
	ops      *fakeOps
	client   string
	block    chan struct{}
	waitErr  error
	waited   atomic.Bool
	released atomic.Bool
}

func (p *fakeProc) Client() string { return p.client }

func (p *fakeProc) Wait() error {
	p.ops.record("rdp-wait")
	if p.block != nil {
		<-p.block
	}
	p.waited.Store(true)
	return p.waitErr
}

func (p *fakeProc) Release() error {
	p.released.Store(true)
	return nil
}

// testClock replaces the manager's sleep and clock so backoff-heavy paths
// run instantly while elapsed time still moves.
type testClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *testClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func newTestManager(f *fakeOps, server config.Server, settings config.Settings) (*Manager, *testClock) {
	m := New(f, server, settings)
	clk := &testClock{now: time.Now()}
	m.now = clk.Now
	m.sleep = clk.Sleep
	return m, clk
}

func testSettings() config.Settings {
	return config.Settings{VPNTimeoutSecs: 30, PingTimeoutMs: 3000, PingRetries: 3}
}

func testServer() config.Server {
	return config.Server{Name: "A", SSH: "user@10.0.0.2", RDP: "10.0.0.1", VPN: "A-VPN"}
}

func waitForCall(t *testing.T, f *fakeOps, call string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range f.callList() {
			if c == call {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, calls: %v", call, f.callList())
}

func TestConnectRDPSequence(t *testing.T) {
	f := newFakeOps("10.0.0.1", "10.0.0.2")
	m, _ := newTestManager(f, testServer(), testSettings())

	if err := m.Connect(context.Background(), ModeRDP); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	want := []string{
		"vpn-up:A-VPN",
		"ping:10.0.0.1",
		"ping:10.0.0.1",
		"rdp:10.0.0.1",
		"rdp-wait",
		"vpn-down:A-VPN",
	}
	if got := f.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("call sequence:\ngot  %v\nwant %v", got, want)
	}

	st := m.Status()
	if st.Phase != PhaseIdle {
		t.Errorf("phase after attempt = %v, want idle", st.Phase)
	}
	if st.Err != nil {
		t.Errorf("recorded error = %v, want nil", st.Err)
	}
}

func TestConnectBothSequence(t *testing.T) {
	f := newFakeOps("10.0.0.1", "10.0.0.2")
	m, _ := newTestManager(f, testServer(), testSettings())

	if err := m.Connect(context.Background(), ModeBoth); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	// RDP starts before ssh blocks; the RDP wait happens after ssh ends;
	// teardown is last.
	want := []string{
		"vpn-up:A-VPN",
		"ping:10.0.0.1",
		"ping:10.0.0.1",
		"rdp:10.0.0.1",
		"ping:10.0.0.2",
		"ssh:user@10.0.0.2",
		"rdp-wait",
		"vpn-down:A-VPN",
	}
	if got := f.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("call sequence:\ngot  %v\nwant %v", got, want)
	}
}

func TestConnectValidationHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name   string
		server config.Server
		mode   Mode
	}{
		{
			name:   "ssh mode without ssh target",
			server: config.Server{Name: "x", RDP: "10.0.0.1", VPN: "X"},
			mode:   ModeSSH,
		},
		{
			name:   "both mode without ssh target",
			server: config.Server{Name: "x", RDP: "10.0.0.1", VPN: "X"},
			mode:   ModeBoth,
		},
		{
			name:   "malformed ssh target",
			server: config.Server{Name: "x", SSH: "nouser-no-at-sign", RDP: "10.0.0.1", VPN: "X"},
			mode:   ModeSSH,
		},
		{
			name:   "malformed ssh target in both mode",
			server: config.Server{Name: "x", SSH: "nouser-no-at-sign", RDP: "10.0.0.1", VPN: "X"},
			mode:   ModeBoth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeOps("10.0.0.1")
			m, _ := newTestManager(f, tt.server, testSettings())

			err := m.Connect(context.Background(), tt.mode)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Connect() error = %v, want ConfigError", err)
			}
			if calls := f.callList(); len(calls) != 0 {
				t.Errorf("validation error caused platform calls: %v", calls)
			}
		})
	}
}

func TestConnectCancelledBeforeStart(t *testing.T) {
	f := newFakeOps("10.0.0.1")
	m, _ := newTestManager(f, testServer(), testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Connect(ctx, ModeRDP)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Connect() error = %v, want ErrCancelled", err)
	}

	// No VPN connect, no pings, no launches. Teardown still runs once.
	want := []string{"vpn-down:A-VPN"}
	if got := f.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestCheckReachableRetries(t *testing.T) {
	f := newFakeOps()
	m, clk := newTestManager(f, testServer(), testSettings())

	if m.CheckReachable(context.Background(), "10.9.9.9") {
		t.Fatal("CheckReachable() = true for a dead host")
	}
	if n := f.count("ping:10.9.9.9"); n != 3 {
		t.Errorf("ping attempts = %d, want 3", n)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if got := clk.Sleeps(); !reflect.DeepEqual(got, want) {
		t.Errorf("backoff delays = %v, want %v", got, want)
	}
}

func TestCheckReachableFirstTry(t *testing.T) {
	f := newFakeOps("10.0.0.1")
	m, clk := newTestManager(f, testServer(), testSettings())

	if !m.CheckReachable(context.Background(), "10.0.0.1") {
		t.Fatal("CheckReachable() = false for a live host")
	}
	if n := f.count("ping:"); n != 1 {
		t.Errorf("ping attempts = %d, want 1", n)
	}
	if sleeps := clk.Sleeps(); len(sleeps) != 0 {
		t.Errorf("unexpected backoff sleeps: %v", sleeps)
	}
}

func TestCheckReachableCancelledDuringBackoff(t *testing.T) {
	f := newFakeOps()
	m, _ := newTestManager(f, testServer(), testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	m.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return context.Canceled
	}

	if m.CheckReachable(ctx, "10.9.9.9") {
		t.Fatal("CheckReachable() = true after cancellation")
	}
	if n := f.count("ping:"); n != 1 {
		t.Errorf("ping attempts = %d, want 1 (no retry after cancel)", n)
	}
}

func TestVPNWaitTimesOutAndProceeds(t *testing.T) {
	f := newFakeOps() // nothing answers
	m, clk := newTestManager(f, testServer(), testSettings())

	err := m.Connect(context.Background(), ModeRDP)
	if err != nil {
		t.Fatalf("Connect() error: %v, timeout must not be fatal", err)
	}

	// 30s wait at one probe per 2s is 15 probes, then 3 reachability
	// attempts, then the RDP session is skipped.
	if n := f.count("ping:10.0.0.1"); n != 18 {
		t.Errorf("ping count = %d, want 18", n)
	}
	if n := f.count("rdp:"); n != 0 {
		t.Errorf("RDP launched despite unreachable host")
	}
	if n := f.count("vpn-down:"); n != 1 {
		t.Errorf("vpn-down count = %d, want 1", n)
	}

	sleeps := clk.Sleeps()
	if len(sleeps) == 0 || sleeps[0] != vpnPollInterval {
		t.Errorf("first wait sleep = %v, want %v", sleeps, vpnPollInterval)
	}
}

func TestConnectVPNFailureIsSoft(t *testing.T) {
	f := newFakeOps("10.0.0.1")
	f.connectErr = errors.New("nmcli: no such connection")
	m, _ := newTestManager(f, testServer(), testSettings())

	if err := m.Connect(context.Background(), ModeRDP); err != nil {
		t.Fatalf("Connect() error = %v, VPN command failure must not abort", err)
	}
	if n := f.count("rdp:"); n != 1 {
		t.Errorf("RDP launch count = %d, want 1", n)
	}
}

func TestBothModeRDPUnreachableStillRunsSSH(t *testing.T) {
	f := newFakeOps("10.0.0.2") // only the ssh host answers
	settings := testSettings()
	settings.VPNTimeoutSecs = 1
	m, _ := newTestManager(f, testServer(), settings)

	if err := m.Connect(context.Background(), ModeBoth); err != nil {
		t.Fatalf("Connect() error: %v, want success from the ssh leg", err)
	}
	if n := f.count("rdp:"); n != 0 {
		t.Error("RDP launched despite unreachable host")
	}
	if n := f.count("ssh:user@10.0.0.2"); n != 1 {
		t.Errorf("ssh launch count = %d, want 1", n)
	}
	if n := f.count("vpn-down:"); n != 1 {
		t.Errorf("vpn-down count = %d, want 1", n)
	}
}

func TestBothModeSSHFailureReleasesRDPHandle(t *testing.T) {
	f := newFakeOps("10.0.0.1", "10.0.0.2")
	f.sshErr = errors.New("exec: \"ssh\": executable file not found")
	m, _ := newTestManager(f, testServer(), testSettings())

	err := m.Connect(context.Background(), ModeBoth)
	var le *LaunchError
	if !errors.As(err, &le) || le.Client != "ssh" {
		t.Fatalf("Connect() error = %v, want ssh LaunchError", err)
	}
	if !f.proc.released.Load() {
		t.Error("RDP handle was not released after ssh failure")
	}
	if f.proc.waited.Load() {
		t.Error("RDP handle was waited on after ssh failure")
	}
	if n := f.count("vpn-down:"); n != 1 {
		t.Errorf("vpn-down count = %d, want 1", n)
	}
}

func TestSSHModeUnreachableSkips(t *testing.T) {
	f := newFakeOps("10.0.0.1") // rdp answers (vpn wait), ssh host does not
	m, _ := newTestManager(f, testServer(), testSettings())

	if err := m.Connect(context.Background(), ModeSSH); err != nil {
		t.Fatalf("Connect() error: %v, unreachable ssh host must skip", err)
	}
	if n := f.count("ssh:"); n != 0 {
		t.Error("ssh launched despite unreachable host")
	}
	if n := f.count("ping:10.0.0.2"); n != 3 {
		t.Errorf("ssh host ping attempts = %d, want 3", n)
	}
}

func TestTeardownRunsExactlyOncePerOutcome(t *testing.T) {
	tests := []struct {
		name      string
		mode      Mode
		reachable []string
		setup     func(*fakeOps, *config.Settings)
		cancelled bool
		check     func(*testing.T, error)
	}{
		{
			name:      "rdp success",
			mode:      ModeRDP,
			reachable: []string{"10.0.0.1"},
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("want success, got %v", err)
				}
			},
		},
		{
			name: "everything unreachable",
			mode: ModeRDP,
			setup: func(f *fakeOps, s *config.Settings) {
				s.VPNTimeoutSecs = 1
			},
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("want skip-as-success, got %v", err)
				}
			},
		},
		{
			name:      "rdp launch error",
			mode:      ModeRDP,
			reachable: []string{"10.0.0.1"},
			setup: func(f *fakeOps, s *config.Settings) {
				f.rdpErr = errors.New("no client")
			},
			check: func(t *testing.T, err error) {
				var le *LaunchError
				if !errors.As(err, &le) || le.Client != "rdp" {
					t.Errorf("want rdp LaunchError, got %v", err)
				}
			},
		},
		{
			name:      "ssh launch error",
			mode:      ModeSSH,
			reachable: []string{"10.0.0.1", "10.0.0.2"},
			setup: func(f *fakeOps, s *config.Settings) {
				f.sshErr = errors.New("spawn failed")
			},
			check: func(t *testing.T, err error) {
				var le *LaunchError
				if !errors.As(err, &le) || le.Client != "ssh" {
					t.Errorf("want ssh LaunchError, got %v", err)
				}
			},
		},
		{
			name:      "cancelled before start",
			mode:      ModeRDP,
			cancelled: true,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrCancelled) {
					t.Errorf("want ErrCancelled, got %v", err)
				}
			},
		},
		{
			name:      "both success",
			mode:      ModeBoth,
			reachable: []string{"10.0.0.1", "10.0.0.2"},
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("want success, got %v", err)
				}
			},
		},
		{
			name:      "disconnect failure is swallowed",
			mode:      ModeRDP,
			reachable: []string{"10.0.0.1"},
			setup: func(f *fakeOps, s *config.Settings) {
				f.disconnectErr = errors.New("nmcli: down failed")
			},
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("teardown failure leaked: %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeOps(tt.reachable...)
			settings := testSettings()
			if tt.setup != nil {
				tt.setup(f, &settings)
			}
			m, _ := newTestManager(f, testServer(), settings)

			ctx := context.Background()
			if tt.cancelled {
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				cancel()
			}

			err := m.Connect(ctx, tt.mode)
			tt.check(t, err)

			if n := f.count("vpn-down:A-VPN"); n != 1 {
				t.Errorf("vpn-down count = %d, want exactly 1", n)
			}
			if n := f.count("vpn-up:"); n > 1 {
				t.Errorf("vpn-up count = %d, want at most 1", n)
			}
		})
	}
}

func TestConnectRefusesReentry(t *testing.T) {
	f := newFakeOps("10.0.0.1", "10.0.0.2")
	proc := f.blockRDP()
	m, _ := newTestManager(f, testServer(), testSettings())

	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(context.Background(), ModeRDP) }()
	waitForCall(t, f, "rdp-wait")

	if !m.Active() {
		t.Error("Active() = false while an attempt is in flight")
	}
	if err := m.Connect(context.Background(), ModeRDP); !errors.Is(err, ErrActive) {
		t.Errorf("second Connect() error = %v, want ErrActive", err)
	}

	close(proc.block)
	if err := <-errCh; err != nil {
		t.Fatalf("first Connect() error: %v", err)
	}
	if n := f.count("vpn-down:"); n != 1 {
		t.Errorf("vpn-down count = %d, want 1", n)
	}
}

func TestCancelDuringRDPWait(t *testing.T) {
	f := newFakeOps("10.0.0.1", "10.0.0.2")
	proc := f.blockRDP()
	proc.waitErr = errors.New("signal: killed")
	m, _ := newTestManager(f, testServer(), testSettings())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Connect(ctx, ModeRDP) }()
	waitForCall(t, f, "rdp-wait")

	cancel()
	close(proc.block) // the real handle dies when its context does

	if err := <-errCh; !errors.Is(err, ErrCancelled) {
		t.Fatalf("Connect() error = %v, want ErrCancelled", err)
	}
	if n := f.count("vpn-down:"); n != 1 {
		t.Errorf("vpn-down count = %d, want 1", n)
	}
}

func TestNotifyPhaseOrder(t *testing.T) {
	f := newFakeOps("10.0.0.1", "10.0.0.2")
	m, _ := newTestManager(f, testServer(), testSettings())

	var phases []Phase
	m.SetNotify(func(u Update) {
		if len(phases) == 0 || phases[len(phases)-1] != u.Phase {
			phases = append(phases, u.Phase)
		}
	})

	if err := m.Connect(context.Background(), ModeRDP); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	want := []Phase{
		PhaseConnectingVPN,
		PhaseWaitingForVPN,
		PhaseCheckingConnectivity,
		PhaseStartingSession,
		PhaseConnected,
		PhaseDisconnecting,
	}
	if !reflect.DeepEqual(phases, want) {
		t.Errorf("phase order:\ngot  %v\nwant %v", phases, want)
	}
}

func TestServerCopiedAtConstruction(t *testing.T) {
	f := newFakeOps("10.0.0.1")
	server := testServer()
	m, _ := newTestManager(f, server, testSettings())

	// Catalog edits after construction must not leak into the attempt.
	server.VPN = "MUTATED"
	server.RDP = "0.0.0.0"

	if err := m.Connect(context.Background(), ModeRDP); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if n := f.count("vpn-up:A-VPN"); n != 1 {
		t.Errorf("expected original VPN name, calls: %v", f.callList())
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	f := newFakeOps("10.0.0.1")
	m, _ := newTestManager(f, testServer(), testSettings())

	// Before any attempt there is nothing to tear down.
	m.Disconnect()
	if n := f.count("vpn-down:"); n != 0 {
		t.Errorf("vpn-down before any attempt = %d, want 0", n)
	}

	if err := m.Connect(context.Background(), ModeRDP); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	m.Disconnect()
	m.Disconnect()
	if n := f.count("vpn-down:"); n != 1 {
		t.Errorf("vpn-down count = %d, want 1 despite repeated calls", n)
	}
}

func TestSSHRunnerOverride(t *testing.T) {
	f := newFakeOps("10.0.0.1", "10.0.0.2")
	m, _ := newTestManager(f, testServer(), testSettings())

	var gotTarget string
	m.SetSSHRunner(func(ctx context.Context, target string) error {
		gotTarget = target
		return nil
	})

	if err := m.Connect(context.Background(), ModeSSH); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if gotTarget != "user@10.0.0.2" {
		t.Errorf("override target = %q, want user@10.0.0.2", gotTarget)
	}
	if n := f.count("ssh:"); n != 0 {
		t.Error("platform ssh ran despite the override")
	}
}
