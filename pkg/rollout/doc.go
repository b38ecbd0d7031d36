/*
Package rollout drives the rolling-update state machine for workloads.

A rollout moves a workload from one effective template (image, port, resolved
environment, probe paths) to another without losing availability:

	Idle ──→ RollingOut ──→ Converged
	              │
	              └──→ RolledBack (operator cancellation only)

Within RollingOut the controller creates new-generation instances up to a
surge bound above the desired replica count, waits for each to pass readiness,
and retires one old instance per Ready new one. Available capacity (Ready new
plus old) never drops below the desired count and total instances never exceed
desired plus surge.

There is no automatic rollback. A new generation that never becomes Ready
leaves the rollout in RollingOut with the RolloutStalled condition while the
old generation keeps serving; replacement churn from fatal liveness failures
does not count as progress, so a template whose instances keep dying stalls
deterministically.

The controller is the only component that creates, terminates or otherwise
moves instances through lifecycle states. Step is invoked once per workload
per reconciliation pass, which keeps per-workload progression strictly
sequential while separate workloads advance concurrently.
*/
package rollout
