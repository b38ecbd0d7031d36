package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidecraft/ballast/pkg/store"
	"github.com/tidecraft/ballast/pkg/types"
)

func newTestRouter(t *testing.T) (*Router, store.Store) {
	t.Helper()
	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewRouter(st), st
}

func instance(id string, state types.InstanceState, labels map[string]string) *types.Instance {
	return &types.Instance{
		ID:      id,
		Address: "10.64.0." + id[len(id)-1:],
		Port:    8080,
		State:   state,
		Labels:  labels,
	}
}

func TestResolveReturnsOnlyReadyMatches(t *testing.T) {
	r, st := newTestRouter(t)

	require.NoError(t, st.UpsertService(&types.Service{
		Name:     "api",
		Selector: map[string]string{"app": "api"},
		Port:     80,
	}))

	appLabels := map[string]string{"app": "api"}
	require.NoError(t, st.CreateInstance(instance("i-1", types.InstanceStateReady, appLabels)))
	require.NoError(t, st.CreateInstance(instance("i-2", types.InstanceStateRunning, appLabels)))
	require.NoError(t, st.CreateInstance(instance("i-3", types.InstanceStateUnhealthy, appLabels)))
	require.NoError(t, st.CreateInstance(instance("i-4", types.InstanceStateReady, map[string]string{"app": "web"})))

	endpoints, err := r.Resolve("api")
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "i-1", endpoints[0].InstanceID)
	assert.Equal(t, 8080, endpoints[0].Port)
}

func TestResolveTargetPortOverride(t *testing.T) {
	r, st := newTestRouter(t)

	require.NoError(t, st.UpsertService(&types.Service{
		Name:       "api",
		Selector:   map[string]string{"app": "api"},
		Port:       80,
		TargetPort: 9090,
	}))
	require.NoError(t, st.CreateInstance(instance("i-1", types.InstanceStateReady, map[string]string{"app": "api"})))

	endpoints, err := r.Resolve("api")
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, 9090, endpoints[0].Port)
}

func TestResolveTracksTransitionsImmediately(t *testing.T) {
	r, st := newTestRouter(t)

	require.NoError(t, st.UpsertService(&types.Service{
		Name:     "api",
		Selector: map[string]string{"app": "api"},
	}))
	inst := instance("i-1", types.InstanceStateReady, map[string]string{"app": "api"})
	require.NoError(t, st.CreateInstance(inst))

	endpoints, err := r.Resolve("api")
	require.NoError(t, err)
	assert.Len(t, endpoints, 1)

	// Readiness lost: endpoint disappears on the very next resolve
	inst.State = types.InstanceStateRunning
	require.NoError(t, st.UpdateInstance(inst))

	endpoints, err = r.Resolve("api")
	require.NoError(t, err)
	assert.Empty(t, endpoints)

	// Readiness regained: endpoint is back
	inst.State = types.InstanceStateReady
	require.NoError(t, st.UpdateInstance(inst))

	endpoints, err = r.Resolve("api")
	require.NoError(t, err)
	assert.Len(t, endpoints, 1)
}

func TestEmptySelectorMatchesNothing(t *testing.T) {
	r, st := newTestRouter(t)

	require.NoError(t, st.UpsertService(&types.Service{Name: "api"}))
	require.NoError(t, st.CreateInstance(instance("i-1", types.InstanceStateReady, map[string]string{"app": "api"})))

	endpoints, err := r.Resolve("api")
	require.NoError(t, err)
	assert.Empty(t, endpoints)
}

func TestSyncAllocatesStableExternalPorts(t *testing.T) {
	r, st := newTestRouter(t)

	require.NoError(t, st.UpsertService(&types.Service{
		Name:     "public-web",
		Selector: map[string]string{"app": "web"},
		Scope:    types.ServiceScopeExternal,
	}))
	require.NoError(t, st.UpsertService(&types.Service{
		Name:     "internal-api",
		Selector: map[string]string{"app": "api"},
		Scope:    types.ServiceScopeInternal,
	}))

	require.NoError(t, r.Sync())

	web, err := st.GetService("public-web")
	require.NoError(t, err)
	assert.Equal(t, DefaultExternalPortBase, web.ExternalPort)

	api, err := st.GetService("internal-api")
	require.NoError(t, err)
	assert.Zero(t, api.ExternalPort)

	// Re-running sync never moves an allocated port
	require.NoError(t, r.Sync())
	web2, err := st.GetService("public-web")
	require.NoError(t, err)
	assert.Equal(t, web.ExternalPort, web2.ExternalPort)
}

func TestSyncSkipsTakenPorts(t *testing.T) {
	r, st := newTestRouter(t)

	require.NoError(t, st.UpsertService(&types.Service{
		Name:         "pinned",
		Scope:        types.ServiceScopeExternal,
		ExternalPort: DefaultExternalPortBase,
	}))
	require.NoError(t, st.UpsertService(&types.Service{
		Name:  "next",
		Scope: types.ServiceScopeExternal,
	}))

	require.NoError(t, r.Sync())

	next, err := st.GetService("next")
	require.NoError(t, err)
	assert.Equal(t, DefaultExternalPortBase+1, next.ExternalPort)
}
