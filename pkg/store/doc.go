/*
Package store persists engine state in an embedded BoltDB database.

Desired-state resources are stored as JSON values in per-kind buckets, keyed by
resource name so that applying the same manifest twice is a no-op and documents
can be applied in any order. Instances are actual state, keyed by instance ID.

The store performs no validation and no cross-resource bookkeeping; components
that own a resource kind are responsible for the invariants on it (the volume
binder for claim/pool phases, the rollout controller for instance lifecycle).
*/
package store
