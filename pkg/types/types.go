package types

import (
	"time"
)

// Workload represents a declared set of identical service instances
type Workload struct {
	ID        string
	Name      string
	Replicas  int
	Surge     int // Extra instances allowed above Replicas during a rollout
	Labels    map[string]string
	Template  *Template
	Rollout   *RolloutStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Template describes how instances of a workload are created
type Template struct {
	Image           string
	Port            int
	ConfigNamespace string
	// EnvAliases maps a workload-local env name to a global config key,
	// so two workloads sharing a namespace never collide on generic names
	EnvAliases map[string]string
	VolumeClaim string // Name of the claim to mount, empty if none
	MountPath   string
	Probes      *ProbeSet
}

// ProbeSet carries both check tracks for an instance
type ProbeSet struct {
	Liveness  *ProbeSpec
	Readiness *ProbeSpec
}

// ProbeSpec configures one periodic health check track
type ProbeSpec struct {
	Path             string
	InitialDelay     time.Duration
	Period           time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

// Instance represents a single running copy of a workload's template
type Instance struct {
	ID           string
	WorkloadID   string
	WorkloadName string
	Generation   int64 // Rollout generation the instance was created under
	TemplateHash string
	Image        string
	Address      string
	Port         int
	Labels       map[string]string
	Probes       *ProbeSet // Snapshot of the template's probes at creation
	State        InstanceState
	Health       *HealthStatus
	Error        string
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
}

// InstanceState represents the lifecycle state of an instance
type InstanceState string

const (
	InstanceStatePending     InstanceState = "pending"
	InstanceStateRunning     InstanceState = "running"
	InstanceStateReady       InstanceState = "ready"
	InstanceStateUnhealthy   InstanceState = "unhealthy"
	InstanceStateTerminating InstanceState = "terminating"
	InstanceStateTerminated  InstanceState = "terminated"
)

// Active reports whether the instance still occupies capacity
func (s InstanceState) Active() bool {
	switch s {
	case InstanceStatePending, InstanceStateRunning, InstanceStateReady, InstanceStateUnhealthy:
		return true
	}
	return false
}

// HealthStatus tracks the probe state of an instance
type HealthStatus struct {
	Live                 bool
	Ready                bool
	Message              string
	CheckedAt            time.Time
	LivenessFailures     int // Consecutive liveness failures
	ReadinessFailures    int // Consecutive readiness failures
	ConsecutiveSuccesses int
}

// ConfigFragment is one named contributor to a configuration namespace
type ConfigFragment struct {
	ID        string
	Name      string
	Namespace string
	Data      map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VolumeClaim represents a request for persistent storage
type VolumeClaim struct {
	ID         string
	Name       string
	Capacity   int64 // Requested bytes
	AccessMode AccessMode
	Phase      ClaimPhase
	BoundPool  string // Pool name, set once and never rebound
	CreatedAt  time.Time
}

// ClaimPhase represents the binding state of a claim
type ClaimPhase string

const (
	ClaimPhasePending ClaimPhase = "pending"
	ClaimPhaseBound   ClaimPhase = "bound"
	ClaimPhaseLost    ClaimPhase = "lost"
)

// VolumePool represents a physical storage resource claims bind to
type VolumePool struct {
	ID            string
	Name          string
	Capacity      int64 // Declared bytes
	AccessMode    AccessMode
	ReclaimPolicy ReclaimPolicy
	Phase         PoolPhase
	BoundClaim    string // Claim name while bound or released
	Path          string // Host path backing the pool
	CreatedAt     time.Time
}

// AccessMode defines how a volume may be attached
type AccessMode string

const (
	AccessModeSingleWriter AccessMode = "single-writer"
	AccessModeManyReader   AccessMode = "many-reader"
)

// ReclaimPolicy defines what happens to a pool when its claim is released
type ReclaimPolicy string

const (
	// ReclaimRetain keeps the pool's data after release; capacity is not
	// returned to the allocator and the pool never serves another claim
	ReclaimRetain ReclaimPolicy = "retain"

	// ReclaimDelete purges the pool on release and returns it to the allocator
	ReclaimDelete ReclaimPolicy = "delete"
)

// PoolPhase represents the allocation state of a pool
type PoolPhase string

const (
	PoolPhaseAvailable PoolPhase = "available"
	PoolPhaseBound     PoolPhase = "bound"
	PoolPhaseReleased  PoolPhase = "released"
)

// Service exposes a stable virtual address in front of Ready instances
type Service struct {
	ID           string
	Name         string
	Selector     map[string]string
	Port         int // Port the service is addressed on
	TargetPort   int // Container port traffic is forwarded to
	Scope        ServiceScope
	ExternalPort int // Published port, allocated for external scope
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ServiceScope defines reachability of a service
type ServiceScope string

const (
	ServiceScopeInternal ServiceScope = "internal"
	ServiceScopeExternal ServiceScope = "external"
)

// Endpoint is one (address, port) pair behind a service
type Endpoint struct {
	InstanceID string
	Address    string
	Port       int
}

// RolloutState represents the state machine of a workload rollout
type RolloutState string

const (
	RolloutStateIdle       RolloutState = "idle"
	RolloutStateRollingOut RolloutState = "rolling-out"
	RolloutStateConverged  RolloutState = "converged"
	RolloutStateRolledBack RolloutState = "rolled-back"
)

// RolloutStatus tracks rollout progress for a workload
type RolloutStatus struct {
	State          RolloutState
	Generation     int64  // Generation being rolled out (or last converged)
	TemplateHash   string // Hash of the template for Generation
	ConvergedHash  string // Hash of the last converged template
	Condition      RolloutCondition
	Reason         string
	ObservedReady  int // Ready new-generation instances at last pass
	ObservedOld    int // Active old-generation instances at last pass
	StartedAt      time.Time
	ConvergedAt    time.Time
	LastProgressAt time.Time
}

// RolloutCondition is a reportable condition on a rollout, not an error
type RolloutCondition string

const (
	RolloutConditionNone     RolloutCondition = ""
	RolloutConditionStalled  RolloutCondition = "rollout-stalled"
	RolloutConditionNoConfig RolloutCondition = "config-invalid"
	RolloutConditionNoVolume RolloutCondition = "volume-unbound"
)

// Event represents an engine event for the operational surface
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	Workload  string
	Instance  string
	Message   string
	Metadata  map[string]string
}
