/*
Package types defines the core data structures used throughout Ballast.

This package contains the domain model the reconciliation engine operates on:
workloads and their instances, configuration fragments, volume claims and pools,
services, rollout status, and events. All other packages depend on it for state
management and control-loop logic.

# Ownership

  - A Workload exclusively owns its Instances: the rollout controller creates
    and retires them, the probe manager mutates only their health fields.
  - A Service holds a non-owning selector reference to Instances; its endpoint
    set is derived, never stored authoritatively.
  - A VolumeClaim exclusively owns its binding to a VolumePool for the claim's
    whole lifetime; a pool serves at most one claim.

# State Machines

Instances follow:

	Pending → Running → Ready ⇄ Running
	               ↓       ↓
	           Unhealthy → Terminating → Terminated

Rollouts follow:

	Idle → RollingOut → Converged
	            ↓
	        RolledBack (operator cancellation only)

A stuck rollout stays RollingOut and carries the RolloutStalled condition;
there is no automatic rollback.

All enums are typed string constants, all types are JSON-serializable for the
BoltDB store, and mutations are synchronized by the owning component, never by
this package.
*/
package types
