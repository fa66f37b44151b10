package conn

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"hoplink/internal/platform"
)

const (
	// MonitorInterval is how often the link monitor probes the session host.
	MonitorInterval = 15 * time.Second
	// MonitorProbeTimeout bounds a single monitor probe.
	MonitorProbeTimeout = 2 * time.Second
)

// Sample is one link health reading.
type Sample struct {
	OK      bool
	Latency time.Duration
	Time    time.Time
}

// Monitor watches the session host in the background while a session is up
// and reports link health readings. It is purely advisory and never alters
// the state of the connection attempt.
type Monitor struct {
	ops      platform.Ops
	host     string
	interval time.Duration
	timeout  time.Duration
	samples  chan Sample
}

// NewMonitor builds a monitor for host with the default probe cadence.
func NewMonitor(ops platform.Ops, host string) *Monitor {
	return &Monitor{
		ops:      ops,
		host:     host,
		interval: MonitorInterval,
		timeout:  MonitorProbeTimeout,
		samples:  make(chan Sample, 4),
	}
}

// Samples returns the channel readings arrive on. It is closed when Run
// returns.
func (mon *Monitor) Samples() <-chan Sample {
	return mon.samples
}

// Run probes the host once immediately and then on a fixed interval until
// ctx is cancelled. Call it on its own goroutine.
func (mon *Monitor) Run(ctx context.Context) {
	defer close(mon.samples)

	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	mon.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mon.probe(ctx)
		}
	}
}

func (mon *Monitor) probe(ctx context.Context) {
	start := time.Now()
	ok := mon.ops.Ping(ctx, mon.host, mon.timeout)
	if ctx.Err() != nil {
		return
	}
	if !ok {
		logrus.WithField("host", mon.host).Debug("link probe missed")
	}

	select {
	case mon.samples <- Sample{OK: ok, Latency: time.Since(start), Time: time.Now()}:
	default:
		// Reader is behind; drop the reading rather than block the loop.
	}
}
