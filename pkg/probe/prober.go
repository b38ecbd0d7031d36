package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tidecraft/ballast/pkg/log"
	"github.com/tidecraft/ballast/pkg/metrics"
	"github.com/tidecraft/ballast/pkg/types"
)

// Track identifies which of the two independent check tracks fired
type Track string

const (
	TrackLiveness  Track = "liveness"
	TrackReadiness Track = "readiness"
)

// EventKind classifies a health transition
type EventKind string

const (
	// EventFatal means liveness failed past its threshold: terminate and replace
	EventFatal EventKind = "fatal"
	// EventNotReady drops the instance from service endpoints without destroying it
	EventNotReady EventKind = "not-ready"
	// EventReady (re)admits the instance to service endpoints
	EventReady EventKind = "ready"
)

// HealthEvent is a reported health transition for one instance
type HealthEvent struct {
	InstanceID string
	Workload   string
	Track      Track
	Kind       EventKind
	Message    string
	Failures   int
	At         time.Time
}

// Reporter receives health transitions; the reconciliation engine implements
// it and applies the resulting state changes
type Reporter interface {
	ReportHealth(ev HealthEvent)
}

// Prober runs the two periodic check tracks for every monitored instance.
// Each check runs under a bounded timeout, so one unresponsive instance can
// never stall the probing schedule for the rest.
type Prober struct {
	reporter Reporter

	mu       sync.Mutex
	monitors map[string]*instanceMonitor

	// newChecker builds the transport for a probe URL; replaced in tests
	newChecker func(url string, timeout time.Duration) Checker

	stopCh chan struct{}
}

// instanceMonitor tracks probe state for one instance
type instanceMonitor struct {
	instance *types.Instance
	cancel   context.CancelFunc

	liveness  *trackStatus
	readiness *trackStatus
}

// trackStatus is the consecutive-failure accounting for one track
type trackStatus struct {
	mu        sync.Mutex
	failures  int
	healthy   bool
	fatalSent bool
}

// NewProber creates a new prober reporting into reporter
func NewProber(reporter Reporter) *Prober {
	return &Prober{
		reporter: reporter,
		monitors: make(map[string]*instanceMonitor),
		newChecker: func(url string, timeout time.Duration) Checker {
			return NewHTTPChecker(url).WithTimeout(timeout)
		},
		stopCh: make(chan struct{}),
	}
}

// Stop cancels all running check loops
func (p *Prober) Stop() {
	close(p.stopCh)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, mon := range p.monitors {
		mon.cancel()
		delete(p.monitors, id)
	}
}

// Sync reconciles the set of check loops with the given instances: loops are
// started for probe-carrying instances on the Ready track (Running, Ready or
// Unhealthy with an address) and stopped for instances that left it. Called
// by the reconciler every pass.
func (p *Prober) Sync(instances []*types.Instance) {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[string]*types.Instance, len(instances))
	for _, inst := range instances {
		if !p.shouldMonitor(inst) {
			continue
		}
		current[inst.ID] = inst
	}

	for id, mon := range p.monitors {
		if _, exists := current[id]; !exists {
			mon.cancel()
			delete(p.monitors, id)
		}
	}

	for id, inst := range current {
		if _, exists := p.monitors[id]; exists {
			continue
		}
		p.startMonitor(inst)
	}
}

// shouldMonitor reports whether an instance is on the Ready track
func (p *Prober) shouldMonitor(inst *types.Instance) bool {
	if inst.Address == "" {
		return false
	}
	switch inst.State {
	case types.InstanceStateRunning, types.InstanceStateReady, types.InstanceStateUnhealthy:
		return true
	}
	return false
}

// startMonitor launches the check loops for one instance
func (p *Prober) startMonitor(inst *types.Instance) {
	ctx, cancel := context.WithCancel(context.Background())

	mon := &instanceMonitor{
		instance: inst,
		cancel:   cancel,
		// liveness assumes alive until proven otherwise; readiness must
		// be proven before the instance receives traffic
		liveness:  &trackStatus{healthy: true},
		readiness: &trackStatus{healthy: false},
	}
	p.monitors[inst.ID] = mon

	if spec := templateProbe(inst, TrackLiveness); spec != nil {
		go p.trackLoop(ctx, mon, TrackLiveness, spec)
	}
	if spec := templateProbe(inst, TrackReadiness); spec != nil {
		go p.trackLoop(ctx, mon, TrackReadiness, spec)
	}
}

// templateProbe selects the probe spec for a track, nil if unconfigured
func templateProbe(inst *types.Instance, track Track) *types.ProbeSpec {
	if inst.Probes == nil {
		return nil
	}
	if track == TrackLiveness {
		return inst.Probes.Liveness
	}
	return inst.Probes.Readiness
}

// trackLoop runs one periodic check track until cancelled
func (p *Prober) trackLoop(ctx context.Context, mon *instanceMonitor, track Track, spec *types.ProbeSpec) {
	spec = withDefaults(spec)
	url := fmt.Sprintf("http://%s:%d%s", mon.instance.Address, mon.instance.Port, spec.Path)
	checker := p.newChecker(url, spec.Timeout)

	if spec.InitialDelay > 0 {
		select {
		case <-time.After(spec.InitialDelay):
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		}
	}

	ticker := time.NewTicker(spec.Period)
	defer ticker.Stop()

	p.runCheck(ctx, mon, track, spec, checker)

	for {
		select {
		case <-ticker.C:
			p.runCheck(ctx, mon, track, spec, checker)
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		}
	}
}

// runCheck performs one check and reports any resulting transition
func (p *Prober) runCheck(ctx context.Context, mon *instanceMonitor, track Track, spec *types.ProbeSpec, checker Checker) {
	checkCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	result := checker.Check(checkCtx)

	status := mon.liveness
	if track == TrackReadiness {
		status = mon.readiness
	}

	status.mu.Lock()
	var ev *HealthEvent
	if result.Healthy {
		status.failures = 0
		status.fatalSent = false
		if !status.healthy {
			status.healthy = true
			if track == TrackReadiness {
				ev = &HealthEvent{Kind: EventReady}
			}
		}
	} else {
		status.failures++
		metrics.ProbeFailuresTotal.WithLabelValues(mon.instance.WorkloadName, string(track)).Inc()
		if status.failures >= spec.FailureThreshold {
			switch track {
			case TrackLiveness:
				if !status.fatalSent {
					status.fatalSent = true
					ev = &HealthEvent{Kind: EventFatal}
				}
			case TrackReadiness:
				if status.healthy {
					status.healthy = false
					ev = &HealthEvent{Kind: EventNotReady}
				}
			}
		}
	}
	failures := status.failures
	status.mu.Unlock()

	if ev == nil {
		return
	}

	ev.InstanceID = mon.instance.ID
	ev.Workload = mon.instance.WorkloadName
	ev.Track = track
	ev.Message = result.Message
	ev.Failures = failures
	ev.At = result.CheckedAt

	log.WithInstance(mon.instance.ID).Debug().
		Str("track", string(track)).
		Str("kind", string(ev.Kind)).
		Str("message", result.Message).
		Int("failures", failures).
		Msg("health transition")

	p.reporter.ReportHealth(*ev)
}

// withDefaults fills unset probe spec fields
func withDefaults(spec *types.ProbeSpec) *types.ProbeSpec {
	out := *spec
	if out.Path == "" {
		out.Path = "/health"
	}
	if out.Period <= 0 {
		out.Period = 10 * time.Second
	}
	if out.Timeout <= 0 {
		out.Timeout = 2 * time.Second
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 3
	}
	return &out
}
