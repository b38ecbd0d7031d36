/*
Package config resolves named configuration fragments into the flat
environment mappings injected into workload instances.

Resolution is collision-rejecting by design: a key defined by more than one
fragment in the same namespace is a DuplicateKeyError naming the key and both
contributors, never a silent override. Workloads reach into the shared
namespace through an explicit alias table (local env name to global key), so
distinct workloads sharing one namespace keep distinct keys.

Resolution is a pure function over declared state and is re-run from scratch
on every reconciliation pass; nothing here caches or mutates.
*/
package config
