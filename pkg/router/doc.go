/*
Package router derives service endpoint sets from instance state.

A service's endpoints are never stored authoritatively: Resolve recomputes
the set of Ready instances matching the selector from a store snapshot on
every call. Because readiness transitions are recorded in the store before
the rollout controller retires the instance they replace, a resolved set
never has a traffic gap during a rolling update.

For externally-reachable services the router also publishes a stable external
port, allocated once from a fixed range and persisted on the service record.
*/
package router
