package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidecraft/ballast/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWorkloadUpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	w := &types.Workload{
		Name:     "api",
		Replicas: 2,
		Template: &types.Template{Image: "registry.local/api:1.0", Port: 8080},
	}

	require.NoError(t, s.UpsertWorkload(w))
	require.NoError(t, s.UpsertWorkload(w))

	workloads, err := s.ListWorkloads()
	require.NoError(t, err)
	assert.Len(t, workloads, 1)

	got, err := s.GetWorkload("api")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Replicas)
	assert.Equal(t, "registry.local/api:1.0", got.Template.Image)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetWorkload("ghost")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.GetVolumeClaim("ghost")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.GetInstance("ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListPoolsInDeclarationOrder(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// Insert out of declaration order on purpose
	require.NoError(t, s.UpsertVolumePool(&types.VolumePool{Name: "pool-c", Capacity: 10, CreatedAt: base.Add(2 * time.Minute)}))
	require.NoError(t, s.UpsertVolumePool(&types.VolumePool{Name: "pool-a", Capacity: 10, CreatedAt: base}))
	require.NoError(t, s.UpsertVolumePool(&types.VolumePool{Name: "pool-b", Capacity: 10, CreatedAt: base.Add(time.Minute)}))

	pools, err := s.ListVolumePools()
	require.NoError(t, err)
	require.Len(t, pools, 3)
	assert.Equal(t, "pool-a", pools[0].Name)
	assert.Equal(t, "pool-b", pools[1].Name)
	assert.Equal(t, "pool-c", pools[2].Name)
}

func TestInstancesByWorkload(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateInstance(&types.Instance{ID: "i-1", WorkloadName: "api", State: types.InstanceStateRunning}))
	require.NoError(t, s.CreateInstance(&types.Instance{ID: "i-2", WorkloadName: "api", State: types.InstanceStateReady}))
	require.NoError(t, s.CreateInstance(&types.Instance{ID: "i-3", WorkloadName: "web", State: types.InstanceStateReady}))

	instances, err := s.ListInstancesByWorkload("api")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	// Update mutates in place
	instances[0].State = types.InstanceStateTerminated
	require.NoError(t, s.UpdateInstance(instances[0]))

	got, err := s.GetInstance(instances[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateTerminated, got.State)

	require.NoError(t, s.DeleteInstance("i-3"))
	remaining, err := s.ListInstances()
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestFragmentsByNamespace(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertConfigFragment(&types.ConfigFragment{Name: "api-config", Namespace: "prod", Data: map[string]string{"API_PORT": "3001"}}))
	require.NoError(t, s.UpsertConfigFragment(&types.ConfigFragment{Name: "web-config", Namespace: "prod", Data: map[string]string{"WEB_PORT": "3003"}}))
	require.NoError(t, s.UpsertConfigFragment(&types.ConfigFragment{Name: "api-config-stage", Namespace: "staging", Data: map[string]string{"API_PORT": "3101"}}))

	prod, err := s.ListConfigFragmentsByNamespace("prod")
	require.NoError(t, err)
	assert.Len(t, prod, 2)

	staging, err := s.ListConfigFragmentsByNamespace("staging")
	require.NoError(t, err)
	assert.Len(t, staging, 1)
}
