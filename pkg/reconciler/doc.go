/*
Package reconciler implements the control loop that converges actual state
toward declared state.

The reconciler owns a single pass that runs on a fixed interval and on change
notifications (manifest edits, health transitions, operator cancellations),
and composes the other control-plane components:

	                ┌──────────────┐
	manifests ────▶ │    store     │ ◀──── operational API
	                └──────┬───────┘
	                       │ desired + observed state
	                       ▼
	                ┌──────────────┐     ┌───────────────┐
	                │  reconciler  │ ──▶ │ config (env)  │
	                │  (one pass)  │ ──▶ │ volume binder │
	                │              │ ──▶ │ rollout step  │
	                │              │ ──▶ │ prober sync   │
	                │              │ ──▶ │ router sync   │
	                └──────┬───────┘     └───────────────┘
	                       │ create/terminate
	                       ▼
	                ┌──────────────┐
	                │    runtime   │
	                └──────────────┘

# Pass Structure

Each pass resolves every referenced config namespace once, then reconciles
workloads concurrently. A workload whose namespace fails resolution or whose
volume claim cannot bind is blocked: its rollout records the condition and
its instances are held Pending rather than started against incomplete
dependencies. Blocked workloads never affect workloads with intact
dependencies.

After the per-workload steps the pass retires instances whose workload was
deleted, synchronizes the probe manager with the live instance set, and
refreshes the service router.

# Ownership

All shared state is mutated under one lock. Rollout lifecycle writes happen
inside a pass; probe health transitions arrive concurrently but enter through
ReportHealth, which takes the same lock. A health report for an instance
already Terminating is dropped so a late probe result cannot resurrect a
retired instance.

Passes are idempotent: running a pass twice against unchanged state performs
no runtime actions the second time.
*/
package reconciler
