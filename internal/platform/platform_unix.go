//go:build !windows

package platform

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

type sysOps struct{}

func (sysOps) ConnectVPN(ctx context.Context, name string) error {
	logrus.WithField("vpn", name).Debug("executing: nmcli connection up")

	cmd := exec.CommandContext(ctx, "nmcli", "connection", "up", name)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("nmcli connection up %q: %w", name, err)
	}
	return nil
}

func (sysOps) DisconnectVPN(name string) error {
	logrus.WithField("vpn", name).Debug("executing: nmcli connection down")

	if err := exec.Command("nmcli", "connection", "down", name).Run(); err != nil {
		return fmt.Errorf("nmcli connection down %q: %w", name, err)
	}
	return nil
}

func (sysOps) Ping(ctx context.Context, host string, timeout time.Duration) bool {
	secs := pingSeconds(timeout)
	logrus.WithField("host", host).Debugf("executing: ping -c 1 -W %s", secs)

	err := exec.CommandContext(ctx, "ping", "-c", "1", "-W", secs, host).Run()
	if err != nil {
		logrus.WithField("host", host).Debugf("ping failed: %v", err)
		return false
	}
	return true
}

// pingSeconds renders the probe timeout for ping -W, which takes whole
// seconds on Linux. Sub-second timeouts round up to 1.
func pingSeconds(timeout time.Duration) string {
	secs := int(timeout / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// rdpClients is the launch preference order. xfreerdp3 covers distributions
// that install FreeRDP 3.x under a versioned binary name.
var rdpClients = []struct {
	name string
	args func(address string) []string
}{
	{"xfreerdp", freeRDPArgs},
	{"xfreerdp3", freeRDPArgs},
	{"rdesktop", func(address string) []string { return []string{address} }},
}

func freeRDPArgs(address string) []string {
	return []string{"/v:" + address, "/cert:ignore", "/dynamic-resolution"}
}

func (sysOps) StartRDP(ctx context.Context, address string) (Proc, error) {
	var firstErr error
	for _, client := range rdpClients {
		logrus.WithField("address", address).Debugf("trying RDP client: %s", client.name)

		cmd := exec.CommandContext(ctx, client.name, client.args(address)...)
		if err := cmd.Start(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return &proc{client: client.name, cmd: cmd}, nil
	}
	return nil, fmt.Errorf("no RDP client available, install xfreerdp or rdesktop: %w", firstErr)
}

// ClearScreen resets the terminal with ANSI escapes.
func ClearScreen() {
	fmt.Print("\x1b[2J\x1b[1;1H")
}
