/*
Package metrics exposes Prometheus instrumentation for the engine.

Collectors are package-level variables registered at init and written to
directly by the owning components: the reconciler observes pass durations and
state gauges, the rollout controller counts replacements and stall
conditions, the prober counts failed checks. Handler returns the promhttp
handler mounted at /metrics by the operational API server.
*/
package metrics
