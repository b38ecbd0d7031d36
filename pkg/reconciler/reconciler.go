package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sync/errgroup"

	"github.com/tidecraft/ballast/pkg/config"
	"github.com/tidecraft/ballast/pkg/events"
	"github.com/tidecraft/ballast/pkg/log"
	"github.com/tidecraft/ballast/pkg/metrics"
	"github.com/tidecraft/ballast/pkg/probe"
	"github.com/tidecraft/ballast/pkg/rollout"
	"github.com/tidecraft/ballast/pkg/router"
	"github.com/tidecraft/ballast/pkg/runtime"
	"github.com/tidecraft/ballast/pkg/store"
	"github.com/tidecraft/ballast/pkg/types"
	"github.com/tidecraft/ballast/pkg/volume"
)

// DefaultInterval is the scheduled reconciliation period
const DefaultInterval = 10 * time.Second

// Reconciler is the top-level control loop: it observes desired state from
// the store and actual state from the runtime, and converges them through
// the config resolver, volume binder, rollout controller and service router.
//
// One reconciler owns all shared state mutation. Passes run serially; the
// probe manager's concurrent health checks funnel their transitions through
// ReportHealth, which takes the same lock, so lifecycle and health writes
// never interleave partially.
type Reconciler struct {
	store    store.Store
	binder   *volume.Binder
	rollouts *rollout.Controller
	router   *router.Router
	prober   *probe.Prober
	broker   *events.Broker

	interval time.Duration
	mu       sync.Mutex
	changeCh chan struct{}
	stopCh   chan struct{}
}

// New creates a reconciler and its owned components on top of the store and
// runtime driver
func New(st store.Store, driver runtime.Driver, broker *events.Broker, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Reconciler{
		store:    st,
		binder:   volume.NewBinder(st, broker),
		rollouts: rollout.NewController(st, driver, broker),
		router:   router.NewRouter(st),
		broker:   broker,
		interval: interval,
		changeCh: make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	r.prober = probe.NewProber(r)
	return r
}

// Router exposes endpoint resolution for the operational surface
func (r *Reconciler) Router() *router.Router {
	return r.router
}

// Binder exposes claim release for explicit operator actions
func (r *Reconciler) Binder() *volume.Binder {
	return r.binder
}

// Guard returns the lock that serializes reconciliation passes. Apply
// paths hold it so a pass never observes a half-applied document set.
func (r *Reconciler) Guard() sync.Locker {
	return &r.mu
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and all probe loops
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.prober.Stop()
}

// Notify schedules an immediate pass on desired-state or health change.
// Non-blocking; coalesces with an already-pending notification.
func (r *Reconciler) Notify() {
	select {
	case r.changeCh <- struct{}{}:
	default:
	}
}

// CancelRollout requests cancellation of a workload's in-progress rollout
func (r *Reconciler) CancelRollout(workloadName string) {
	r.rollouts.Cancel(workloadName)
	r.Notify()
}

/// run is the main reconciliation loop: fixed interval plus change triggers
func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger := log.WithComponent("reconciler")

	for {
		select {
		case <-ticker.C:
		case <-r.changeCh:
		case <-r.stopCh:
			return
		}
		if err := r.Reconcile(context.Background()); err != nil {
			logger.Error().Err(err).Msg("reconciliation pass failed")
		}
	}
}

// Reconcile performs one pass. Re-running it with no state change produces
// no actions.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	workloads, err := r.store.ListWorkloads()
	if err != nil {
		return fmt.Errorf("failed to list workloads: %w", err)
	}

	r.promoteUnprobed()

	// (1) Resolve every referenced config namespace once. A duplicate key
	// fails only the workloads consuming that namespace.
	resolved := r.resolveNamespaces(workloads)

	// (2, 3) Bind claims and drive rollouts. Independent workloads
	// progress concurrently; each workload's rollout is sequential
	// within its own Step.
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workloads {
		w := w
		g.Go(func() error {
			if err := r.reconcileWorkload(gctx, w, resolved); err != nil {
				log.WithWorkload(w.Name).Error().Err(err).Msg("failed to reconcile workload")
				metrics.ReconciliationErrors.WithLabelValues("workload").Inc()
			}
			return nil // Per-resource errors never fail the whole pass
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.retireOrphans(ctx, workloads)

	// (4) Sync probing with the instance set and recompute service state
	instances, err := r.store.ListInstances()
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}
	r.prober.Sync(instances)

	if err := r.router.Sync(); err != nil {
		log.WithComponent("reconciler").Error().Err(err).Msg("failed to sync router")
		metrics.ReconciliationErrors.WithLabelValues("service").Inc()
	}

	r.observe(workloads, instances)
	return nil
}

// nsResult is the outcome of resolving one config namespace
type nsResult struct {
	resolved *config.Resolved
	err      error
}

// resolveNamespaces resolves each namespace referenced by a workload once
func (r *Reconciler) resolveNamespaces(workloads []*types.Workload) map[string]nsResult {
	results := make(map[string]nsResult)
	for _, w := range workloads {
		ns := w.Template.ConfigNamespace
		if ns == "" {
			continue
		}
		if _, done := results[ns]; done {
			continue
		}

		fragments, err := r.store.ListConfigFragmentsByNamespace(ns)
		if err != nil {
			results[ns] = nsResult{err: err}
			continue
		}
		res, err := config.ResolveNamespace(ns, fragments)
		if err != nil {
			log.WithComponent("reconciler").Error().Err(err).Str("namespace", ns).Msg("config resolution failed")
			metrics.ReconciliationErrors.WithLabelValues("config").Inc()
		}
		results[ns] = nsResult{resolved: res, err: err}
	}
	return results
}

// reconcileWorkload binds dependencies and advances the workload one step
func (r *Reconciler) reconcileWorkload(ctx context.Context, w *types.Workload, resolved map[string]nsResult) error {
	var (
		env     map[string]string
		mount   *specs.Mount
		blocked types.RolloutCondition
	)

	if ns := w.Template.ConfigNamespace; ns != "" {
		res := resolved[ns]
		if res.err != nil {
			blocked = types.RolloutConditionNoConfig
			r.reportBlocked(w, events.EventConfigInvalid, res.err)
		} else {
			var err error
			env, err = res.resolved.Env(w.Template.EnvAliases)
			if err != nil {
				blocked = types.RolloutConditionNoConfig
				r.reportBlocked(w, events.EventConfigInvalid, err)
			}
		}
	}

	if claimName := w.Template.VolumeClaim; claimName != "" && blocked == types.RolloutConditionNone {
		claim, err := r.binder.EnsureBound(claimName)
		switch {
		case err == nil:
			mount, err = r.binder.MountFor(claim.Name, w.Template.MountPath)
			if err != nil {
				return err
			}
		default:
			var noPool *volume.NoMatchingPoolError
			if !errors.As(err, &noPool) && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			// Resource unavailable: instances stay Pending until a
			// pool appears on a later pass
			blocked = types.RolloutConditionNoVolume
			r.reportBlocked(w, events.EventClaimUnbindable, err)
		}
	}

	return r.rollouts.Step(ctx, w, env, mount, blocked)
}

// reportBlocked publishes a blocked-dependency event on condition changes
// only, so a persistent failure does not flood the event stream
func (r *Reconciler) reportBlocked(w *types.Workload, typ events.EventType, cause error) {
	cond := types.RolloutConditionNoConfig
	if typ == events.EventClaimUnbindable {
		cond = types.RolloutConditionNoVolume
	}
	if w.Rollout != nil && w.Rollout.Condition == cond {
		return
	}
	r.broker.Publish(&events.Event{
		Type:     typ,
		Workload: w.Name,
		Message:  cause.Error(),
	})
}

// promoteUnprobed marks Running instances with no readiness probe Ready.
// Without a probe there is nothing to wait for beyond a successful start.
func (r *Reconciler) promoteUnprobed() {
	instances, err := r.store.ListInstances()
	if err != nil {
		return
	}
	for _, inst := range instances {
		if inst.State != types.InstanceStateRunning {
			continue
		}
		if inst.Probes != nil && inst.Probes.Readiness != nil {
			continue
		}
		inst.State = types.InstanceStateReady
		if inst.Health == nil {
			inst.Health = &types.HealthStatus{Live: true}
		}
		inst.Health.Ready = true
		if err := r.store.UpdateInstance(inst); err != nil {
			continue
		}
		r.broker.Publish(&events.Event{
			Type:     events.EventInstanceReady,
			Workload: inst.WorkloadName,
			Instance: inst.ID,
			Message:  "no readiness probe configured",
		})
	}
}

// retireOrphans terminates instances whose workload was deleted
func (r *Reconciler) retireOrphans(ctx context.Context, workloads []*types.Workload) {
	declared := make(map[string]bool, len(workloads))
	for _, w := range workloads {
		declared[w.Name] = true
	}

	instances, err := r.store.ListInstances()
	if err != nil {
		return
	}
	for _, inst := range instances {
		if declared[inst.WorkloadName] {
			continue
		}
		if inst.State.Active() {
			if err := r.rollouts.Retire(ctx, inst, "workload deleted"); err != nil {
				log.WithInstance(inst.ID).Error().Err(err).Msg("failed to retire orphan instance")
				continue
			}
		}
		_ = r.store.DeleteInstance(inst.ID)
	}
}

// ReportHealth applies a probe transition to the owning instance. It runs
// under the reconciler lock so health writes never interleave with a pass's
// lifecycle writes.
func (r *Reconciler) ReportHealth(ev probe.HealthEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, err := r.store.GetInstance(ev.InstanceID)
	if err != nil {
		return // Already reaped
	}
	if !inst.State.Active() {
		return
	}

	if inst.Health == nil {
		inst.Health = &types.HealthStatus{Live: true}
	}
	inst.Health.Message = ev.Message
	inst.Health.CheckedAt = ev.At

	var evType events.EventType
	switch ev.Kind {
	case probe.EventReady:
		if inst.State != types.InstanceStateRunning {
			return
		}
		inst.State = types.InstanceStateReady
		inst.Health.Ready = true
		inst.Health.ReadinessFailures = 0
		evType = events.EventInstanceReady
	case probe.EventNotReady:
		if inst.State != types.InstanceStateReady {
			return
		}
		inst.State = types.InstanceStateRunning
		inst.Health.Ready = false
		inst.Health.ReadinessFailures = ev.Failures
		evType = events.EventInstanceNotReady
	case probe.EventFatal:
		inst.State = types.InstanceStateUnhealthy
		inst.Health.Live = false
		inst.Health.LivenessFailures = ev.Failures
		evType = events.EventInstanceFatal
	default:
		return
	}

	if err := r.store.UpdateInstance(inst); err != nil {
		log.WithInstance(inst.ID).Error().Err(err).Msg("failed to record health transition")
		return
	}

	r.broker.Publish(&events.Event{
		Type:     evType,
		Workload: inst.WorkloadName,
		Instance: inst.ID,
		Message:  ev.Message,
	})

	// Wake the loop so rollouts see readiness promptly
	r.Notify()
}

// observe refreshes the state gauges after a pass
func (r *Reconciler) observe(workloads []*types.Workload, instances []*types.Instance) {
	metrics.WorkloadsTotal.Set(float64(len(workloads)))

	byState := make(map[types.InstanceState]int)
	for _, inst := range instances {
		byState[inst.State]++
	}
	for _, state := range []types.InstanceState{
		types.InstanceStatePending,
		types.InstanceStateRunning,
		types.InstanceStateReady,
		types.InstanceStateUnhealthy,
		types.InstanceStateTerminating,
		types.InstanceStateTerminated,
	} {
		metrics.InstancesTotal.WithLabelValues(string(state)).Set(float64(byState[state]))
	}

	byRollout := make(map[types.RolloutState]int)
	stalled := 0
	for _, w := range workloads {
		if w.Rollout == nil {
			continue
		}
		byRollout[w.Rollout.State]++
		if w.Rollout.Condition == types.RolloutConditionStalled {
			stalled++
		}
	}
	for _, state := range []types.RolloutState{
		types.RolloutStateIdle,
		types.RolloutStateRollingOut,
		types.RolloutStateConverged,
		types.RolloutStateRolledBack,
	} {
		metrics.RolloutsTotal.WithLabelValues(string(state)).Set(float64(byRollout[state]))
	}
	metrics.RolloutsStalled.Set(float64(stalled))

	pools, err := r.store.ListVolumePools()
	if err != nil {
		return
	}
	byPhase := make(map[types.PoolPhase]int)
	for _, p := range pools {
		byPhase[p.Phase]++
	}
	for _, phase := range []types.PoolPhase{
		types.PoolPhaseAvailable,
		types.PoolPhaseBound,
		types.PoolPhaseReleased,
	} {
		metrics.PoolsTotal.WithLabelValues(string(phase)).Set(float64(byPhase[phase]))
	}
}
