/*
Package api exposes the operational HTTP surface over chi.

Endpoints are versioned under /api/v1:

	POST   /api/v1/apply                           apply YAML manifests
	GET    /api/v1/workloads                       list workloads
	GET    /api/v1/workloads/{name}                workload with instances
	DELETE /api/v1/workloads/{name}                delete a workload
	POST   /api/v1/workloads/{name}/rollout/cancel cancel an in-progress rollout
	GET    /api/v1/services                        list services
	GET    /api/v1/services/{name}/endpoints       resolve Ready endpoints
	GET    /api/v1/events                          recent engine events

/healthz and /metrics live at the root. Mutating endpoints nudge the
reconciler, so a change is acted on without waiting for the next scheduled
pass.
*/
package api
