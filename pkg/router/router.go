package router

import (
	"fmt"
	"sync"

	"github.com/tidecraft/ballast/pkg/log"
	"github.com/tidecraft/ballast/pkg/store"
	"github.com/tidecraft/ballast/pkg/types"
)

// DefaultExternalPortBase is the start of the published port range
const DefaultExternalPortBase = 30000

// Router maintains traffic admission for services: the set of Ready instance
// endpoints behind each stable virtual name, and the published external port
// for externally-reachable services.
type Router struct {
	store store.Store

	mu       sync.Mutex
	nextPort int
}

// NewRouter creates a new service router
func NewRouter(st store.Store) *Router {
	return &Router{
		store:    st,
		nextPort: DefaultExternalPortBase,
	}
}

// Resolve returns the current (address, port) pairs for all Ready instances
// matching the service's selector. The set is computed from a snapshot of the
// store on every call, so a readiness transition recorded before a retire
// step is always visible here first; nothing is cached to go stale.
func (r *Router) Resolve(serviceName string) ([]types.Endpoint, error) {
	svc, err := r.store.GetService(serviceName)
	if err != nil {
		return nil, err
	}
	return r.endpointsFor(svc)
}

// endpointsFor computes the endpoint set for one service
func (r *Router) endpointsFor(svc *types.Service) ([]types.Endpoint, error) {
	instances, err := r.store.ListInstances()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	endpoints := make([]types.Endpoint, 0)
	for _, inst := range instances {
		if inst.State != types.InstanceStateReady {
			continue
		}
		if !selectorMatches(svc.Selector, inst.Labels) {
			continue
		}
		port := svc.TargetPort
		if port == 0 {
			port = inst.Port
		}
		endpoints = append(endpoints, types.Endpoint{
			InstanceID: inst.ID,
			Address:    inst.Address,
			Port:       port,
		})
	}
	return endpoints, nil
}

// selectorMatches reports whether labels carry every selector pair
func selectorMatches(selector, labels map[string]string) bool {
	if len(selector) == 0 {
		return false
	}
	for k, v := range selector {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// Sync allocates stable external ports for externally-reachable services that
// do not have one yet. Allocation is persisted on the service record, so a
// published port survives restarts and never moves once handed out.
func (r *Router) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	services, err := r.store.ListServices()
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}

	// Walk past already-allocated ports first
	taken := make(map[int]bool)
	for _, svc := range services {
		if svc.ExternalPort != 0 {
			taken[svc.ExternalPort] = true
		}
	}

	for _, svc := range services {
		if svc.Scope != types.ServiceScopeExternal || svc.ExternalPort != 0 {
			continue
		}
		for taken[r.nextPort] {
			r.nextPort++
		}
		svc.ExternalPort = r.nextPort
		taken[r.nextPort] = true
		r.nextPort++

		if err := r.store.UpsertService(svc); err != nil {
			return fmt.Errorf("failed to persist external port for %s: %w", svc.Name, err)
		}
		log.WithComponent("router").Info().
			Str("service", svc.Name).
			Int("external_port", svc.ExternalPort).
			Msg("published external port")
	}

	return nil
}
