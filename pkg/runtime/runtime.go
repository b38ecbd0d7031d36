package runtime

import (
	"context"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Spec is the fully resolved template handed to the driver: an opaque image
// reference from the build pipeline, the environment produced by config
// resolution, and mounts produced by volume binding
type Spec struct {
	InstanceID string
	Workload   string
	Image      string
	Port       int
	Env        map[string]string
	Mounts     []specs.Mount
}

// Driver is the boundary to the system that actually executes instances.
// The engine never builds images or touches the process runtime directly;
// it creates, terminates and liveness-queries through this interface.
type Driver interface {
	// Create starts an instance and returns its reachable address
	Create(ctx context.Context, spec *Spec) (string, error)

	// Terminate stops an instance; terminating an unknown instance is not
	// an error (the runtime may have already reaped it)
	Terminate(ctx context.Context, instanceID string) error

	// Alive reports whether the instance's process is running at the
	// transport level, independent of application health
	Alive(ctx context.Context, instanceID string) (bool, error)
}
