package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidecraft/ballast/pkg/events"
	"github.com/tidecraft/ballast/pkg/reconciler"
	"github.com/tidecraft/ballast/pkg/runtime"
	"github.com/tidecraft/ballast/pkg/store"
	"github.com/tidecraft/ballast/pkg/types"
)

type fixture struct {
	srv    *httptest.Server
	store  store.Store
	rec    *reconciler.Reconciler
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

	rec := reconciler.New(st, runtime.NewFake(), broker, time.Minute)
	t.Cleanup(rec.Stop)

	server := NewServer(st, rec, broker, "127.0.0.1:0")
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &fixture{srv: ts, store: st, rec: rec, broker: broker}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path, contentType, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, contentType, strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestApplyAndGetWorkload(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/apply", "application/yaml", `apiVersion: ballast.dev/v1
kind: Workload
metadata:
  name: api
  labels:
    app: api
spec:
  replicas: 2
  image: registry.local/api:1.0
  port: 8080
`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var view struct {
		Workload *types.Workload `json:"workload"`
	}
	status := f.get(t, "/api/v1/workloads/api", &view)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, view.Workload.Replicas)

	var workloads []*types.Workload
	status = f.get(t, "/api/v1/workloads", &workloads)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, workloads, 1)
}

func TestApplyRejectsBadManifests(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/api/v1/apply", "application/yaml", `apiVersion: wrong/v9
kind: Workload
metadata:
  name: api
spec:
  image: x
`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/v1/apply", "application/yaml", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Valid envelope, invalid spec
	resp = f.post(t, "/api/v1/apply", "application/yaml", `apiVersion: ballast.dev/v1
kind: Workload
metadata:
  name: api
spec:
  replicas: 2
`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestApplyWaitsForReconcilerPass(t *testing.T) {
	f := newFixture(t)

	guard := f.rec.Guard()
	guard.Lock()

	done := make(chan int, 1)
	go func() {
		resp := f.post(t, "/api/v1/apply", "application/yaml", `apiVersion: ballast.dev/v1
kind: Workload
metadata:
  name: api
spec:
  replicas: 1
  image: registry.local/api:1.0
  port: 8080
`)
		done <- resp.StatusCode
	}()

	// The apply cannot land while a pass holds the lock
	select {
	case <-done:
		guard.Unlock()
		t.Fatal("apply completed while the reconciler lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	guard.Unlock()
	select {
	case status := <-done:
		assert.Equal(t, http.StatusOK, status)
	case <-time.After(time.Second):
		t.Fatal("apply never completed after the lock was released")
	}

	_, err := f.store.GetWorkload("api")
	assert.NoError(t, err)
}

func TestGetWorkloadNotFound(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/workloads/missing", nil))
}

func TestCancelRolloutRequiresOneInProgress(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.UpsertWorkload(&types.Workload{
		Name:     "api",
		Replicas: 1,
		Template: &types.Template{Image: "registry.local/api:1.0"},
		Rollout:  &types.RolloutStatus{State: types.RolloutStateConverged},
	}))
	resp := f.post(t, "/api/v1/workloads/api/rollout/cancel", "application/json", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	w, err := f.store.GetWorkload("api")
	require.NoError(t, err)
	w.Rollout.State = types.RolloutStateRollingOut
	require.NoError(t, f.store.UpsertWorkload(w))

	resp = f.post(t, "/api/v1/workloads/api/rollout/cancel", "application/json", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestServiceEndpoints(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.UpsertService(&types.Service{
		Name:     "api",
		Selector: map[string]string{"app": "api"},
		Port:     80,
	}))
	require.NoError(t, f.store.CreateInstance(&types.Instance{
		ID:           "inst-1",
		WorkloadName: "api",
		Labels:       map[string]string{"app": "api"},
		State:        types.InstanceStateReady,
		Address:      "10.64.0.1",
		Port:         8080,
	}))

	var view struct {
		Endpoints []types.Endpoint `json:"endpoints"`
	}
	status := f.get(t, "/api/v1/services/api/endpoints", &view)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, view.Endpoints, 1)
	assert.Equal(t, "10.64.0.1", view.Endpoints[0].Address)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/v1/services/missing/endpoints", nil))
}

func TestDeleteWorkload(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.UpsertWorkload(&types.Workload{
		Name:     "api",
		Replicas: 1,
		Template: &types.Template{Image: "registry.local/api:1.0"},
	}))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, f.srv.URL+"/api/v1/workloads/api", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = f.store.GetWorkload("api")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEventsEndpoint(t *testing.T) {
	f := newFixture(t)

	f.broker.Publish(&events.Event{Type: events.EventWorkloadApplied, Workload: "api"})

	var recent []*events.Event
	status := f.get(t, "/api/v1/events?limit=10", &recent)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, recent, 1)
	assert.Equal(t, events.EventWorkloadApplied, recent[0].Type)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/v1/events?limit=zero", nil))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.get(t, "/healthz", nil))
}
