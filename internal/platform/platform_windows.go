//go:build windows

package platform

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

type sysOps struct{}

func (sysOps) ConnectVPN(ctx context.Context, name string) error {
	logrus.WithField("vpn", name).Debug("executing: rasphone -d")

	// rasphone opens its dialer window and returns once dialing starts, so
	// the process is spawned rather than awaited.
	cmd := exec.CommandContext(ctx, "rasphone", "-d", name)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("rasphone -d %q: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (sysOps) DisconnectVPN(name string) error {
	logrus.WithField("vpn", name).Debug("executing: rasphone -h")

	cmd := exec.Command("rasphone", "-h", name)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("rasphone -h %q: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func (sysOps) Ping(ctx context.Context, host string, timeout time.Duration) bool {
	ms := strconv.Itoa(int(timeout / time.Millisecond))
	logrus.WithField("host", host).Debugf("executing: ping -n 1 -w %s", ms)

	err := exec.CommandContext(ctx, "ping", "-n", "1", "-w", ms, host).Run()
	if err != nil {
		logrus.WithField("host", host).Debugf("ping failed: %v", err)
		return false
	}
	return true
}

func (sysOps) StartRDP(ctx context.Context, address string) (Proc, error) {
	logrus.WithField("address", address).Debug("executing: mstsc.exe")

	cmd := exec.CommandContext(ctx, "mstsc.exe", "/v:"+address)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mstsc.exe /v:%s: %w", address, err)
	}
	return &proc{client: "mstsc.exe", cmd: cmd}, nil
}

// ClearScreen clears the console via cmd.
func ClearScreen() {
	cmd := exec.Command("cmd", "/c", "cls")
	cmd.Stdout = os.Stdout
	_ = cmd.Run()
}
