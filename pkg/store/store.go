package store

import (
	"errors"

	"github.com/tidecraft/ballast/pkg/types"
)

// ErrNotFound is returned when a resource does not exist in the store
var ErrNotFound = errors.New("not found")

// Store defines the interface for engine state storage.
//
// Desired-state resources (workloads, services, config fragments, claims,
// pools) are keyed by name with idempotent upsert semantics, so manifest
// documents can arrive in any order and be re-applied. Instances are actual
// state, keyed by ID.
type Store interface {
	// Workloads
	UpsertWorkload(w *types.Workload) error
	GetWorkload(name string) (*types.Workload, error)
	ListWorkloads() ([]*types.Workload, error)
	DeleteWorkload(name string) error

	// Services
	UpsertService(svc *types.Service) error
	GetService(name string) (*types.Service, error)
	ListServices() ([]*types.Service, error)
	DeleteService(name string) error

	// Config fragments
	UpsertConfigFragment(f *types.ConfigFragment) error
	GetConfigFragment(name string) (*types.ConfigFragment, error)
	ListConfigFragments() ([]*types.ConfigFragment, error)
	ListConfigFragmentsByNamespace(namespace string) ([]*types.ConfigFragment, error)
	DeleteConfigFragment(name string) error

	// Volume claims
	UpsertVolumeClaim(c *types.VolumeClaim) error
	GetVolumeClaim(name string) (*types.VolumeClaim, error)
	ListVolumeClaims() ([]*types.VolumeClaim, error)
	DeleteVolumeClaim(name string) error

	// Volume pools
	UpsertVolumePool(p *types.VolumePool) error
	GetVolumePool(name string) (*types.VolumePool, error)
	ListVolumePools() ([]*types.VolumePool, error)
	DeleteVolumePool(name string) error

	// Instances
	CreateInstance(inst *types.Instance) error
	GetInstance(id string) (*types.Instance, error)
	ListInstances() ([]*types.Instance, error)
	ListInstancesByWorkload(workloadName string) ([]*types.Instance, error)
	UpdateInstance(inst *types.Instance) error
	DeleteInstance(id string) error

	// Utility
	Close() error
}
