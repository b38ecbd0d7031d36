package volume

import (
	"fmt"
	"sync"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/tidecraft/ballast/pkg/events"
	"github.com/tidecraft/ballast/pkg/log"
	"github.com/tidecraft/ballast/pkg/store"
	"github.com/tidecraft/ballast/pkg/types"
)

// NoMatchingPoolError reports that no pool can serve a claim. The dependent
// workload's instances stay Pending; the claim is re-evaluated on the next
// reconciliation pass, not retried in a tight loop.
type NoMatchingPoolError struct {
	Claim      string
	Capacity   int64
	AccessMode types.AccessMode
}

func (e *NoMatchingPoolError) Error() string {
	return fmt.Sprintf("no volume pool matches claim %q (capacity=%d, access-mode=%s)",
		e.Claim, e.Capacity, e.AccessMode)
}

// Binder matches volume claims to pools and records bindings. Bindings are
// exclusive, so the scan-and-record section is serialized: workloads
// reconcile concurrently and two unbound claims must never both pick the
// same Available pool.
type Binder struct {
	store  store.Store
	broker *events.Broker

	mu sync.Mutex
}

// NewBinder creates a new volume binder
func NewBinder(st store.Store, broker *events.Broker) *Binder {
	return &Binder{store: st, broker: broker}
}

// EnsureBound binds the named claim if it is not bound yet. Binding is
// permanent: once a claim carries a pool name it is never rebound, even if a
// better pool appears later.
func (b *Binder) EnsureBound(claimName string) (*types.VolumeClaim, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	claim, err := b.store.GetVolumeClaim(claimName)
	if err != nil {
		return nil, err
	}
	if claim.Phase == types.ClaimPhaseBound {
		return claim, nil
	}
	return b.bind(claim)
}

// bind scans pools for the smallest sufficient match, ties broken by
// declaration order, and records the exclusive binding on both sides
func (b *Binder) bind(claim *types.VolumeClaim) (*types.VolumeClaim, error) {
	pools, err := b.store.ListVolumePools()
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}

	// pools arrive in declaration order, so the first pool at the minimal
	// sufficient capacity wins ties
	var best *types.VolumePool
	for _, pool := range pools {
		if pool.Phase != types.PoolPhaseAvailable {
			continue
		}
		if pool.AccessMode != claim.AccessMode {
			continue
		}
		if pool.Capacity < claim.Capacity {
			continue
		}
		if best == nil || pool.Capacity < best.Capacity {
			best = pool
		}
	}

	if best == nil {
		return nil, &NoMatchingPoolError{
			Claim:      claim.Name,
			Capacity:   claim.Capacity,
			AccessMode: claim.AccessMode,
		}
	}

	best.Phase = types.PoolPhaseBound
	best.BoundClaim = claim.Name
	if err := b.store.UpsertVolumePool(best); err != nil {
		return nil, fmt.Errorf("failed to record pool binding: %w", err)
	}

	claim.Phase = types.ClaimPhaseBound
	claim.BoundPool = best.Name
	if err := b.store.UpsertVolumeClaim(claim); err != nil {
		return nil, fmt.Errorf("failed to record claim binding: %w", err)
	}

	log.WithComponent("volume").Info().
		Str("claim", claim.Name).
		Str("pool", best.Name).
		Int64("capacity", best.Capacity).
		Msg("bound claim to pool")
	if b.broker != nil {
		b.broker.Publish(&events.Event{
			Type:    events.EventClaimBound,
			Message: fmt.Sprintf("claim %s bound to pool %s", claim.Name, best.Name),
		})
	}

	return claim, nil
}

// Release handles claim deletion. A Delete-policy pool is purged and returned
// to the allocator; a Retain pool is marked Released and keeps its data and
// its capacity out of the allocator forever.
func (b *Binder) Release(claimName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	claim, err := b.store.GetVolumeClaim(claimName)
	if err != nil {
		return err
	}

	if claim.BoundPool != "" {
		pool, err := b.store.GetVolumePool(claim.BoundPool)
		if err != nil {
			return fmt.Errorf("bound pool %s: %w", claim.BoundPool, err)
		}

		switch pool.ReclaimPolicy {
		case types.ReclaimDelete:
			pool.Phase = types.PoolPhaseAvailable
			pool.BoundClaim = ""
			log.WithComponent("volume").Info().
				Str("pool", pool.Name).
				Str("claim", claimName).
				Msg("purged pool, capacity returned")
		default:
			// Retain: never reformatted, never reallocated
			pool.Phase = types.PoolPhaseReleased
			log.WithComponent("volume").Info().
				Str("pool", pool.Name).
				Str("claim", claimName).
				Msg("pool released, data retained")
		}

		if err := b.store.UpsertVolumePool(pool); err != nil {
			return fmt.Errorf("failed to update pool: %w", err)
		}
	}

	return b.store.DeleteVolumeClaim(claimName)
}

// MountFor builds the runtime mount spec for a workload's bound claim
func (b *Binder) MountFor(claimName, mountPath string) (*specs.Mount, error) {
	claim, err := b.store.GetVolumeClaim(claimName)
	if err != nil {
		return nil, err
	}
	if claim.Phase != types.ClaimPhaseBound {
		return nil, fmt.Errorf("claim %s is not bound", claimName)
	}

	pool, err := b.store.GetVolumePool(claim.BoundPool)
	if err != nil {
		return nil, fmt.Errorf("bound pool %s: %w", claim.BoundPool, err)
	}

	mount := &specs.Mount{
		Source:      pool.Path,
		Destination: mountPath,
		Type:        "bind",
		Options:     []string{"rbind", "rw"},
	}
	if claim.AccessMode == types.AccessModeManyReader {
		mount.Options = []string{"rbind", "ro"}
	}

	return mount, nil
}
