package rollout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/tidecraft/ballast/pkg/events"
	"github.com/tidecraft/ballast/pkg/log"
	"github.com/tidecraft/ballast/pkg/metrics"
	"github.com/tidecraft/ballast/pkg/runtime"
	"github.com/tidecraft/ballast/pkg/store"
	"github.com/tidecraft/ballast/pkg/types"
)

const (
	// DefaultStallAfter is how long a rollout may go without progress
	// before it reports the stalled condition
	DefaultStallAfter = 2 * time.Minute

	// terminatedGrace is how long terminated instance records are kept
	// for the operational surface before cleanup
	terminatedGrace = 5 * time.Minute
)

// Controller drives the rolling-update state machine for workloads. All
// instance lifecycle transitions happen here; the probe manager only ever
// touches health fields. Progression within one workload is strictly
// sequential (the reconciler calls Step from a single pass at a time),
// while different workloads step concurrently.
type Controller struct {
	store  store.Store
	driver runtime.Driver
	broker *events.Broker

	// StallAfter is the no-progress window before RolloutStalled
	StallAfter time.Duration

	mu        sync.Mutex
	cancelled map[string]bool // Workloads with a pending cancel request
}

// NewController creates a new rollout controller
func NewController(st store.Store, driver runtime.Driver, broker *events.Broker) *Controller {
	return &Controller{
		store:      st,
		driver:     driver,
		broker:     broker,
		StallAfter: DefaultStallAfter,
		cancelled:  make(map[string]bool),
	}
}

// Cancel requests cancellation of the workload's in-progress rollout. It
// halts further surge and retire steps on the next pass; completed steps are
// not rolled back.
func (c *Controller) Cancel(workloadName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled[workloadName] = true
}

func (c *Controller) takeCancel(workloadName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled[workloadName] {
		delete(c.cancelled, workloadName)
		return true
	}
	return false
}

// Step advances the workload's state machine by at most one surge step.
//
// env is the environment from config resolution. blocked, when non-empty,
// means a dependency (config namespace, volume claim) is not satisfiable
// this pass: desired instance records are kept as Pending placeholders and
// nothing is started. mount is the bound volume mount, nil if none.
func (c *Controller) Step(ctx context.Context, w *types.Workload, env map[string]string, mount *specs.Mount, blocked types.RolloutCondition) error {
	logger := log.WithWorkload(w.Name)

	instances, err := c.store.ListInstancesByWorkload(w.Name)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	c.cleanupTerminated(instances)

	if blocked != types.RolloutConditionNone {
		return c.holdPending(w, instances, blocked)
	}

	hash := TemplateHash(w.Template, env)

	if w.Rollout == nil {
		w.Rollout = &types.RolloutStatus{State: types.RolloutStateIdle}
	}
	st := w.Rollout

	// Trigger: desired template differs from the last converged one
	if (st.State == types.RolloutStateIdle || st.State == types.RolloutStateConverged) && st.ConvergedHash != hash {
		st.State = types.RolloutStateRollingOut
		st.Generation++
		st.TemplateHash = hash
		st.Condition = types.RolloutConditionNone
		st.Reason = ""
		st.StartedAt = time.Now()
		st.LastProgressAt = st.StartedAt
		st.ObservedReady = 0
		_, oldGen, _ := c.partition(instances, hash)
		st.ObservedOld = len(oldGen)

		logger.Info().Str("hash", hash).Int64("generation", st.Generation).Msg("rollout started")
		c.publish(events.EventRolloutStarted, w.Name, "", fmt.Sprintf("rolling out template %s (generation %d)", hash, st.Generation))
	}

	// A cancelled rollout stays cancelled for its template; a fresh
	// template starts a fresh rollout
	if st.State == types.RolloutStateRolledBack && st.TemplateHash != hash {
		st.State = types.RolloutStateIdle
		return c.Step(ctx, w, env, mount, blocked)
	}

	// A template reverted to the last converged one has nothing to roll
	// out; resume steady-state maintenance
	if st.State == types.RolloutStateIdle && st.ConvergedHash == hash {
		st.State = types.RolloutStateConverged
		st.TemplateHash = hash
	}

	switch st.State {
	case types.RolloutStateRollingOut:
		if c.takeCancel(w.Name) {
			st.State = types.RolloutStateRolledBack
			st.Condition = types.RolloutConditionNone
			st.Reason = "cancelled by operator"
			logger.Warn().Msg("rollout cancelled")
			c.publish(events.EventRolloutCancelled, w.Name, "", "rollout cancelled by operator")
			return c.store.UpsertWorkload(w)
		}
		if err := c.advance(ctx, w, env, mount, instances); err != nil {
			return err
		}
	case types.RolloutStateConverged, types.RolloutStateRolledBack:
		// A cancel that raced convergence must not cancel the next
		// unrelated rollout
		c.takeCancel(w.Name)
		if err := c.maintain(ctx, w, env, mount, instances); err != nil {
			return err
		}
	}

	return c.store.UpsertWorkload(w)
}

// holdPending keeps desired-count Pending placeholders while a dependency is
// unsatisfied, and surfaces the condition on the rollout status
func (c *Controller) holdPending(w *types.Workload, instances []*types.Instance, cond types.RolloutCondition) error {
	if w.Rollout == nil {
		w.Rollout = &types.RolloutStatus{State: types.RolloutStateIdle}
	}
	w.Rollout.Condition = cond

	pending := 0
	for _, inst := range instances {
		if inst.State.Active() {
			pending++
		}
	}
	for i := pending; i < w.Replicas; i++ {
		inst := c.newInstance(w, "")
		if err := c.store.CreateInstance(inst); err != nil {
			return err
		}
	}
	return c.store.UpsertWorkload(w)
}

// advance performs one pass of the surge/retire loop
func (c *Controller) advance(ctx context.Context, w *types.Workload, env map[string]string, mount *specs.Mount, instances []*types.Instance) error {
	st := w.Rollout
	logger := log.WithWorkload(w.Name)

	surge := w.Surge
	if surge <= 0 {
		surge = 1
	}
	desired := w.Replicas

	// Fatal instances are terminated first; capacity is topped up below
	// from the new generation. Replacement churn is deliberately not
	// progress: a template whose instances keep dying must stall, not
	// look busy.
	for _, inst := range instances {
		if inst.State == types.InstanceStateUnhealthy {
			if err := c.retire(ctx, inst, "liveness failure"); err != nil {
				return err
			}
			metrics.InstancesReplacedTotal.Inc()
		}
	}

	newGen, oldGen, readyNew := c.partition(instances, st.TemplateHash)
	total := len(newGen) + len(oldGen)

	// Start any Pending new-generation instances left by earlier blocked
	// or failed passes
	for _, inst := range newGen {
		if inst.State != types.InstanceStatePending {
			continue
		}
		if err := c.start(ctx, w, env, mount, inst); err != nil {
			logger.Error().Err(err).Str("instance", inst.ID).Msg("failed to start instance")
		}
	}

	// Surge: create new-generation instances, bounded at desired+surge
	// total and never more than desired of the new generation
	for total < desired+surge && len(newGen) < desired {
		inst := c.newInstance(w, st.TemplateHash)
		if err := c.store.CreateInstance(inst); err != nil {
			return err
		}
		if err := c.start(ctx, w, env, mount, inst); err != nil {
			logger.Error().Err(err).Str("instance", inst.ID).Msg("failed to start instance")
		}
		newGen = append(newGen, inst)
		total++
	}

	// Retire: one old instance per Ready new instance, keeping available
	// capacity (Ready new + old) at or above desired at every step
	for _, old := range oldGen {
		if readyNew+c.activeCount(oldGen) <= desired {
			break
		}
		if err := c.retire(ctx, old, "replaced by new generation"); err != nil {
			return err
		}
	}

	// Progress means readiness gained or the old generation shrinking,
	// never replacement churn
	_, oldGen, readyNew = c.repartition(w.Name, st.TemplateHash)
	if readyNew > st.ObservedReady || len(oldGen) < st.ObservedOld {
		st.LastProgressAt = time.Now()
	}
	st.ObservedReady = readyNew
	st.ObservedOld = len(oldGen)

	// Converged: full new generation Ready, old generation gone
	if len(oldGen) == 0 && readyNew == desired {
		st.State = types.RolloutStateConverged
		st.ConvergedHash = st.TemplateHash
		st.Condition = types.RolloutConditionNone
		st.Reason = ""
		st.ConvergedAt = time.Now()
		logger.Info().Int64("generation", st.Generation).Msg("rollout converged")
		c.publish(events.EventRolloutConverged, w.Name, "", fmt.Sprintf("generation %d converged", st.Generation))
		return nil
	}

	// Stall: no progress inside the window. The old generation keeps
	// serving; this is a condition, not a failure.
	if time.Since(st.LastProgressAt) > c.StallAfter {
		if st.Condition != types.RolloutConditionStalled {
			st.Condition = types.RolloutConditionStalled
			st.Reason = fmt.Sprintf("no rollout progress for %s", time.Since(st.LastProgressAt).Round(time.Second))
			logger.Warn().Str("reason", st.Reason).Msg("rollout stalled")
			c.publish(events.EventRolloutStalled, w.Name, "", st.Reason)
		}
	} else if st.Condition == types.RolloutConditionStalled {
		st.Condition = types.RolloutConditionNone
		st.Reason = ""
	}

	return nil
}

// maintain handles steady state: replace fatal instances, reconcile the
// replica count, all within the converged generation
func (c *Controller) maintain(ctx context.Context, w *types.Workload, env map[string]string, mount *specs.Mount, instances []*types.Instance) error {
	logger := log.WithWorkload(w.Name)

	active := make([]*types.Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.State == types.InstanceStateUnhealthy {
			if err := c.retire(ctx, inst, "liveness failure"); err != nil {
				return err
			}
			metrics.InstancesReplacedTotal.Inc()
			continue
		}
		if inst.State == types.InstanceStatePending {
			if err := c.start(ctx, w, env, mount, inst); err != nil {
				logger.Error().Err(err).Str("instance", inst.ID).Msg("failed to start instance")
			}
		}
		if inst.State.Active() {
			active = append(active, inst)
		}
	}

	hash := w.Rollout.ConvergedHash
	if w.Rollout.State == types.RolloutStateRolledBack {
		// A cancelled rollout leaves a mixed fleet; maintain what runs
		hash = w.Rollout.TemplateHash
	}

	for len(active) < w.Replicas {
		inst := c.newInstance(w, hash)
		if err := c.store.CreateInstance(inst); err != nil {
			return err
		}
		if err := c.start(ctx, w, env, mount, inst); err != nil {
			logger.Error().Err(err).Str("instance", inst.ID).Msg("failed to start instance")
		}
		active = append(active, inst)
	}

	// Scale down, newest first
	for i := len(active) - 1; len(active) > w.Replicas && i >= 0; i-- {
		if err := c.retire(ctx, active[i], "scaled down"); err != nil {
			return err
		}
		active = active[:i]
	}

	return nil
}

// partition splits active instances by generation and counts Ready new ones
func (c *Controller) partition(instances []*types.Instance, hash string) (newGen, oldGen []*types.Instance, readyNew int) {
	for _, inst := range instances {
		if !inst.State.Active() {
			continue
		}
		if inst.TemplateHash == hash {
			newGen = append(newGen, inst)
			if inst.State == types.InstanceStateReady {
				readyNew++
			}
		} else {
			oldGen = append(oldGen, inst)
		}
	}
	return newGen, oldGen, readyNew
}

// repartition re-reads the store after mutations in this pass
func (c *Controller) repartition(workloadName, hash string) (newGen, oldGen []*types.Instance, readyNew int) {
	instances, err := c.store.ListInstancesByWorkload(workloadName)
	if err != nil {
		return nil, nil, 0
	}
	return c.partition(instances, hash)
}

func (c *Controller) activeCount(instances []*types.Instance) int {
	n := 0
	for _, inst := range instances {
		if inst.State.Active() {
			n++
		}
	}
	return n
}

// newInstance builds a Pending instance record for the workload
func (c *Controller) newInstance(w *types.Workload, hash string) *types.Instance {
	labels := make(map[string]string, len(w.Labels))
	for k, v := range w.Labels {
		labels[k] = v
	}

	var probes *types.ProbeSet
	if w.Template.Probes != nil {
		cp := *w.Template.Probes
		probes = &cp
	}

	return &types.Instance{
		ID:           uuid.New().String(),
		WorkloadID:   w.ID,
		WorkloadName: w.Name,
		Generation:   generationOf(w),
		TemplateHash: hash,
		Image:        w.Template.Image,
		Port:         w.Template.Port,
		Labels:       labels,
		Probes:       probes,
		State:        types.InstanceStatePending,
		Health:       &types.HealthStatus{Live: true},
		CreatedAt:    time.Now(),
	}
}

func generationOf(w *types.Workload) int64 {
	if w.Rollout == nil {
		return 0
	}
	return w.Rollout.Generation
}

// start asks the driver to run a Pending instance
func (c *Controller) start(ctx context.Context, w *types.Workload, env map[string]string, mount *specs.Mount, inst *types.Instance) error {
	spec := &runtime.Spec{
		InstanceID: inst.ID,
		Workload:   w.Name,
		Image:      inst.Image,
		Port:       inst.Port,
		Env:        env,
	}
	if mount != nil {
		spec.Mounts = []specs.Mount{*mount}
	}

	addr, err := c.driver.Create(ctx, spec)
	if err != nil {
		inst.Error = err.Error()
		_ = c.store.UpdateInstance(inst)
		return err
	}

	inst.Address = addr
	inst.State = types.InstanceStateRunning
	inst.StartedAt = time.Now()
	inst.Error = ""
	if err := c.store.UpdateInstance(inst); err != nil {
		return err
	}

	log.WithInstance(inst.ID).Info().
		Str("workload", w.Name).
		Str("address", addr).
		Str("hash", inst.TemplateHash).
		Msg("instance started")
	c.publish(events.EventInstanceCreated, w.Name, inst.ID, fmt.Sprintf("instance started at %s", addr))
	return nil
}

// Retire terminates an instance outside any rollout, for cleanup of
// instances whose workload no longer exists
func (c *Controller) Retire(ctx context.Context, inst *types.Instance, reason string) error {
	return c.retire(ctx, inst, reason)
}

// retire terminates an instance and records the terminal state
func (c *Controller) retire(ctx context.Context, inst *types.Instance, reason string) error {
	inst.State = types.InstanceStateTerminating
	if err := c.store.UpdateInstance(inst); err != nil {
		return err
	}

	if err := c.driver.Terminate(ctx, inst.ID); err != nil {
		return fmt.Errorf("failed to terminate instance %s: %w", inst.ID, err)
	}

	inst.State = types.InstanceStateTerminated
	inst.FinishedAt = time.Now()
	if err := c.store.UpdateInstance(inst); err != nil {
		return err
	}

	log.WithInstance(inst.ID).Info().
		Str("workload", inst.WorkloadName).
		Str("reason", reason).
		Msg("instance terminated")
	c.publish(events.EventInstanceTerminated, inst.WorkloadName, inst.ID, reason)
	return nil
}

// cleanupTerminated drops old terminated records after a grace period
func (c *Controller) cleanupTerminated(instances []*types.Instance) {
	for _, inst := range instances {
		if inst.State == types.InstanceStateTerminated && time.Since(inst.FinishedAt) > terminatedGrace {
			_ = c.store.DeleteInstance(inst.ID)
		}
	}
}

func (c *Controller) publish(typ events.EventType, workload, instance, message string) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		Type:     typ,
		Workload: workload,
		Instance: instance,
		Message:  message,
	})
}
