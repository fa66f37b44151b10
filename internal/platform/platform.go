// Package platform spawns the external programs that carry a session: the
// OS VPN client, the ping utility, and the RDP and SSH clients. There is one
// implementation per OS family; everything above this package depends only
// on the Ops contract.
package platform

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// Ops is the capability set the connection orchestrator needs from the host
// system. Methods never panic; spawn failures come back as errors, or as
// false from Ping.
type Ops interface {
	// ConnectVPN brings up the named VPN profile. Callers treat failure as
	// soft since some VPN clients report success asynchronously.
	ConnectVPN(ctx context.Context, name string) error

	// DisconnectVPN tears down the named VPN profile. Best effort; it takes
	// no context so cleanup still runs after the attempt is cancelled.
	DisconnectVPN(name string) error

	// Ping probes host once within timeout. A spawn failure counts as
	// unreachable.
	Ping(ctx context.Context, host string, timeout time.Duration) bool

	// StartRDP launches the first available remote-desktop client for
	// address and returns its handle without waiting.
	StartRDP(ctx context.Context, address string) (Proc, error)

	// RunSSH runs an interactive ssh session attached to the current
	// terminal and blocks until it ends. A non-zero exit status is not an
	// error.
	RunSSH(ctx context.Context, target string) error

	// SSHCommand builds the ssh invocation without starting it, for callers
	// that manage the terminal themselves.
	SSHCommand(target string) *exec.Cmd
}

// Proc is an owned handle to a launched session process. The owner either
// waits for it to exit or releases it.
type Proc interface {
	// Client returns the name of the program backing the process.
	Client() string
	// Wait blocks until the process exits.
	Wait() error
	// Release abandons the process without waiting for it.
	Release() error
}

type proc struct {
	client string
	cmd    *exec.Cmd
}

func (p *proc) Client() string { return p.client }
func (p *proc) Wait() error    { return p.cmd.Wait() }
func (p *proc) Release() error { return p.cmd.Process.Release() }

// New returns the Ops implementation for the current OS.
func New() Ops { return sysOps{} }

func (sysOps) RunSSH(ctx context.Context, target string) error {
	logrus.WithField("target", target).Debug("executing: ssh")

	cmd := exec.CommandContext(ctx, "ssh", target)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The session ran and ended, possibly with a non-zero status or
		// because the context killed it. Not a launch failure either way.
		return nil
	}
	return err
}

func (sysOps) SSHCommand(target string) *exec.Cmd {
	return exec.Command("ssh", target)
}
