/*
Package manifest loads declarative resources from YAML files into the store.

Manifests use a versioned envelope, one or more documents per file:

	apiVersion: ballast.dev/v1
	kind: Workload
	metadata:
	  name: api
	  labels:
	    app: api
	spec:
	  replicas: 3
	  surge: 1
	  image: registry.local/api:1.4.2
	  port: 8080
	  configNamespace: prod
	  env:
	    DB_URL: database-url
	  readinessProbe:
	    path: /ready
	    periodSeconds: 5

Supported kinds are Workload, Service, ConfigFragment, VolumeClaim and
VolumePool. Apply is an upsert keyed by name; reconciler-owned fields
(rollout status, claim bindings, published ports) survive re-applies.

The Loader treats the manifest directory as the declared state for the
resources it loaded: a document removed from the directory removes the
resource on the next sync, while resources created through the API are left
alone. The Watcher turns editor save bursts into single debounced change
notifications so the reconciler can react promptly without thrashing.
*/
package manifest
