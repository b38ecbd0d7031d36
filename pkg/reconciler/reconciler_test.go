package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidecraft/ballast/pkg/events"
	"github.com/tidecraft/ballast/pkg/probe"
	"github.com/tidecraft/ballast/pkg/router"
	"github.com/tidecraft/ballast/pkg/runtime"
	"github.com/tidecraft/ballast/pkg/store"
	"github.com/tidecraft/ballast/pkg/types"
)

type fixture struct {
	rec    *Reconciler
	store  store.Store
	driver *runtime.Fake
	broker *events.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	broker := events.NewBroker(64)
	broker.Start()
	t.Cleanup(broker.Stop)

	driver := runtime.NewFake()
	rec := New(st, driver, broker, time.Minute)
	t.Cleanup(rec.prober.Stop)

	return &fixture{rec: rec, store: st, driver: driver, broker: broker}
}

func (f *fixture) pass(t *testing.T) {
	t.Helper()
	require.NoError(t, f.rec.Reconcile(context.Background()))
}

func (f *fixture) workload(t *testing.T, name string) *types.Workload {
	t.Helper()
	w, err := f.store.GetWorkload(name)
	require.NoError(t, err)
	return w
}

func (f *fixture) activeInstances(t *testing.T, workloadName string) []*types.Instance {
	t.Helper()
	all, err := f.store.ListInstancesByWorkload(workloadName)
	require.NoError(t, err)
	var active []*types.Instance
	for _, inst := range all {
		if inst.State.Active() {
			active = append(active, inst)
		}
	}
	return active
}

func TestConvergesWithConfigAndVolume(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.UpsertConfigFragment(&types.ConfigFragment{
		Name:      "db",
		Namespace: "prod",
		Data:      map[string]string{"database-url": "postgres://db:5432/app"},
	}))
	require.NoError(t, f.store.UpsertVolumePool(&types.VolumePool{
		Name:          "pool-a",
		Capacity:      10 << 30,
		AccessMode:    types.AccessModeSingleWriter,
		ReclaimPolicy: types.ReclaimDelete,
		Phase:         types.PoolPhaseAvailable,
		Path:          "/srv/pools/a",
	}))
	require.NoError(t, f.store.UpsertVolumeClaim(&types.VolumeClaim{
		Name:       "app-data",
		Capacity:   5 << 30,
		AccessMode: types.AccessModeSingleWriter,
		Phase:      types.ClaimPhasePending,
	}))
	require.NoError(t, f.store.UpsertWorkload(&types.Workload{
		Name:     "api",
		Replicas: 2,
		Surge:    1,
		Labels:   map[string]string{"app": "api"},
		Template: &types.Template{
			Image:           "registry.local/api:1.0",
			Port:            8080,
			ConfigNamespace: "prod",
			EnvAliases:      map[string]string{"DB_URL": "database-url"},
			VolumeClaim:     "app-data",
			MountPath:       "/var/lib/app",
		},
	}))
	require.NoError(t, f.store.UpsertService(&types.Service{
		Name:     "api",
		Selector: map[string]string{"app": "api"},
		Port:     80,
		Scope:    types.ServiceScopeExternal,
	}))

	// First pass starts the instances; second observes them ready (no
	// readiness probe configured) and converges.
	f.pass(t)
	assert.Equal(t, 2, f.driver.RunningCount())
	f.pass(t)

	w := f.workload(t, "api")
	assert.Equal(t, types.RolloutStateConverged, w.Rollout.State)
	assert.Equal(t, types.RolloutConditionNone, w.Rollout.Condition)

	// Resolved env and the bound pool's mount reached the runtime
	for _, inst := range f.activeInstances(t, "api") {
		spec, ok := f.driver.RunningSpec(inst.ID)
		require.True(t, ok)
		assert.Equal(t, "postgres://db:5432/app", spec.Env["DB_URL"])
		require.Len(t, spec.Mounts, 1)
		assert.Equal(t, "/srv/pools/a", spec.Mounts[0].Source)
		assert.Equal(t, "/var/lib/app", spec.Mounts[0].Destination)
	}

	claim, err := f.store.GetVolumeClaim("app-data")
	require.NoError(t, err)
	assert.Equal(t, types.ClaimPhaseBound, claim.Phase)
	assert.Equal(t, "pool-a", claim.BoundPool)

	// The external service got a published port and both ready endpoints
	svc, err := f.store.GetService("api")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, svc.ExternalPort, router.DefaultExternalPortBase)
	endpoints, err := f.rec.Router().Resolve("api")
	require.NoError(t, err)
	assert.Len(t, endpoints, 2)
}

func TestConfigCollisionBlocksOnlyConsumers(t *testing.T) {
	f := newFixture(t)

	// Two fragments both claim PORT in the shared namespace
	require.NoError(t, f.store.UpsertConfigFragment(&types.ConfigFragment{
		Name: "alpha", Namespace: "shared", Data: map[string]string{"PORT": "8080"},
	}))
	require.NoError(t, f.store.UpsertConfigFragment(&types.ConfigFragment{
		Name: "beta", Namespace: "shared", Data: map[string]string{"PORT": "8080"},
	}))

	require.NoError(t, f.store.UpsertWorkload(&types.Workload{
		Name:     "consumer",
		Replicas: 2,
		Template: &types.Template{
			Image:           "registry.local/consumer:1.0",
			Port:            8080,
			ConfigNamespace: "shared",
		},
	}))
	require.NoError(t, f.store.UpsertWorkload(&types.Workload{
		Name:     "standalone",
		Replicas: 1,
		Template: &types.Template{Image: "registry.local/other:1.0", Port: 9090},
	}))

	f.pass(t)
	f.pass(t)

	// The consumer is blocked with every instance held Pending
	w := f.workload(t, "consumer")
	assert.Equal(t, types.RolloutConditionNoConfig, w.Rollout.Condition)
	for _, inst := range f.activeInstances(t, "consumer") {
		assert.Equal(t, types.InstanceStatePending, inst.State)
	}

	// The standalone workload is unaffected
	w = f.workload(t, "standalone")
	assert.Equal(t, types.RolloutStateConverged, w.Rollout.State)
	assert.Equal(t, 1, f.driver.RunningCount())

	var sawInvalid bool
	for _, ev := range f.broker.Recent(64) {
		if ev.Type == events.EventConfigInvalid && ev.Workload == "consumer" {
			sawInvalid = true
		}
	}
	assert.True(t, sawInvalid)
}

func TestUnbindableClaimHoldsPendingUntilPoolAppears(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.UpsertVolumeClaim(&types.VolumeClaim{
		Name:       "big-data",
		Capacity:   100 << 30,
		AccessMode: types.AccessModeSingleWriter,
		Phase:      types.ClaimPhasePending,
	}))
	require.NoError(t, f.store.UpsertWorkload(&types.Workload{
		Name:     "db",
		Replicas: 1,
		Template: &types.Template{
			Image:       "registry.local/db:1.0",
			Port:        5432,
			VolumeClaim: "big-data",
			MountPath:   "/var/lib/db",
		},
	}))

	f.pass(t)

	w := f.workload(t, "db")
	assert.Equal(t, types.RolloutConditionNoVolume, w.Rollout.Condition)
	assert.Equal(t, 0, f.driver.RunningCount())
	for _, inst := range f.activeInstances(t, "db") {
		assert.Equal(t, types.InstanceStatePending, inst.State)
	}

	// A matching pool arrives; the next passes bind and converge
	require.NoError(t, f.store.UpsertVolumePool(&types.VolumePool{
		Name:          "pool-big",
		Capacity:      200 << 30,
		AccessMode:    types.AccessModeSingleWriter,
		ReclaimPolicy: types.ReclaimRetain,
		Phase:         types.PoolPhaseAvailable,
		Path:          "/srv/pools/big",
	}))
	f.pass(t)
	f.pass(t)
	f.pass(t)

	w = f.workload(t, "db")
	assert.Equal(t, types.RolloutStateConverged, w.Rollout.State)
	assert.Equal(t, types.RolloutConditionNone, w.Rollout.Condition)
	assert.Equal(t, 1, f.driver.RunningCount())
}

func TestOrphanInstancesRetired(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.UpsertWorkload(&types.Workload{
		Name:     "ephemeral",
		Replicas: 2,
		Template: &types.Template{Image: "registry.local/tmp:1.0", Port: 8080},
	}))
	f.pass(t)
	f.pass(t)
	require.Equal(t, 2, f.driver.RunningCount())

	require.NoError(t, f.store.DeleteWorkload("ephemeral"))
	f.pass(t)

	assert.Equal(t, 0, f.driver.RunningCount())
	assert.Empty(t, f.activeInstances(t, "ephemeral"))
}

func TestPassIsIdempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.UpsertWorkload(&types.Workload{
		Name:     "steady",
		Replicas: 2,
		Template: &types.Template{Image: "registry.local/steady:1.0", Port: 8080},
	}))
	f.pass(t)
	f.pass(t)

	before := f.activeInstances(t, "steady")
	require.Len(t, before, 2)
	ids := map[string]bool{before[0].ID: true, before[1].ID: true}

	f.pass(t)
	f.pass(t)

	after := f.activeInstances(t, "steady")
	require.Len(t, after, 2)
	for _, inst := range after {
		assert.True(t, ids[inst.ID], "instance %s replaced by a no-op pass", inst.ID)
	}
	assert.Equal(t, 2, f.driver.RunningCount())
}

func TestReportHealthTransitions(t *testing.T) {
	f := newFixture(t)

	inst := &types.Instance{
		ID:           "inst-1",
		WorkloadName: "api",
		State:        types.InstanceStateRunning,
		Address:      "10.64.0.1",
		Port:         8080,
		Health:       &types.HealthStatus{Live: true},
	}
	require.NoError(t, f.store.CreateInstance(inst))

	f.rec.ReportHealth(probe.HealthEvent{
		InstanceID: "inst-1", Workload: "api",
		Track: probe.TrackReadiness, Kind: probe.EventReady, At: time.Now(),
	})
	got, err := f.store.GetInstance("inst-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateReady, got.State)
	assert.True(t, got.Health.Ready)

	f.rec.ReportHealth(probe.HealthEvent{
		InstanceID: "inst-1", Workload: "api",
		Track: probe.TrackReadiness, Kind: probe.EventNotReady, Failures: 3, At: time.Now(),
	})
	got, err = f.store.GetInstance("inst-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateRunning, got.State)
	assert.False(t, got.Health.Ready)

	f.rec.ReportHealth(probe.HealthEvent{
		InstanceID: "inst-1", Workload: "api",
		Track: probe.TrackLiveness, Kind: probe.EventFatal, Failures: 3, At: time.Now(),
	})
	got, err = f.store.GetInstance("inst-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateUnhealthy, got.State)
	assert.False(t, got.Health.Live)
}

func TestLateHealthReportCannotResurrect(t *testing.T) {
	f := newFixture(t)

	inst := &types.Instance{
		ID:           "inst-2",
		WorkloadName: "api",
		State:        types.InstanceStateTerminating,
		Address:      "10.64.0.2",
		Port:         8080,
	}
	require.NoError(t, f.store.CreateInstance(inst))

	f.rec.ReportHealth(probe.HealthEvent{
		InstanceID: "inst-2", Workload: "api",
		Track: probe.TrackReadiness, Kind: probe.EventReady, At: time.Now(),
	})

	got, err := f.store.GetInstance("inst-2")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateTerminating, got.State)
}
