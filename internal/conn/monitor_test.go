package conn

import (
	"context"
	"testing"
	"time"
)

func collectSamples(t *testing.T, mon *Monitor, n int) []Sample {
	t.Helper()
	var got []Sample
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case s, ok := <-mon.Samples():
			if !ok {
				t.Fatalf("sample channel closed after %d samples, want %d", len(got), n)
			}
			got = append(got, s)
		case <-deadline:
			t.Fatalf("timed out after %d samples, want %d", len(got), n)
		}
	}
	return got
}

func TestMonitorReportsHealthyLink(t *testing.T) {
	f := newFakeOps("10.0.0.1")
	mon := NewMonitor(f, "10.0.0.1")
	mon.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go mon.Run(ctx)

	for _, s := range collectSamples(t, mon, 3) {
		if !s.OK {
			t.Errorf("sample not OK: %+v", s)
		}
		if s.Time.IsZero() {
			t.Error("sample has zero timestamp")
		}
	}
	cancel()

	// The channel closes once the monitor stops.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-mon.Samples():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("sample channel not closed after cancel")
		}
	}
}

func TestMonitorReportsLinkLoss(t *testing.T) {
	f := newFakeOps() // host never answers
	mon := NewMonitor(f, "10.0.0.1")
	mon.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	for _, s := range collectSamples(t, mon, 2) {
		if s.OK {
			t.Errorf("sample OK for a dead host: %+v", s)
		}
	}
}
