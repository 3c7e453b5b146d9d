// Package stability watches the display host's GPU health and decides when
// the machine has degraded enough to need a reboot.
package stability

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// window is how far back samples count toward the verdict.
	window = 2 * time.Minute
	// minSamples guards against deciding off a cold start.
	minSamples = 5
	// failRatio is the fraction of failed probes that flips the verdict.
	failRatio = 0.4
)

var probeFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "footron_stability_probe_failures_total",
	Help: "Number of failed GPU stability probes.",
})

// Probe checks one aspect of host health. A non-nil error is a failed sample.
type Probe func(ctx context.Context) error

// NvidiaProbe asks the driver to enumerate GPUs. It hangs or errors when the
// driver has fallen over, which is the failure mode worth rebooting for.
func NvidiaProbe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "nvidia-smi", "-L").Run()
}

type sample struct {
	at time.Time
	ok bool
}

// Monitor keeps a rolling window of probe results.
type Monitor struct {
	probe Probe
	now   func() time.Time

	mu      sync.Mutex
	samples []sample
}

func NewMonitor(probe Probe) *Monitor {
	if probe == nil {
		probe = NvidiaProbe
	}
	return &Monitor{probe: probe, now: time.Now}
}

// Check runs one probe and records the result.
func (m *Monitor) Check(ctx context.Context) {
	err := m.probe(ctx)
	if err != nil {
		probeFailures.Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample{at: m.now(), ok: err == nil})
	m.prune()
}

// Unstable reports whether enough recent probes failed to call the host bad.
func (m *Monitor) Unstable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune()

	if len(m.samples) < minSamples {
		return false
	}
	failed := 0
	for _, s := range m.samples {
		if !s.ok {
			failed++
		}
	}
	return float64(failed)/float64(len(m.samples)) >= failRatio
}

func (m *Monitor) prune() {
	cutoff := m.now().Add(-window)
	keep := m.samples[:0]
	for _, s := range m.samples {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	m.samples = keep
}
