package manifest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tidecraft/ballast/pkg/events"
	"github.com/tidecraft/ballast/pkg/log"
	"github.com/tidecraft/ballast/pkg/store"
	"github.com/tidecraft/ballast/pkg/types"
	"github.com/tidecraft/ballast/pkg/volume"
)

// APIVersion is the accepted manifest schema version
const APIVersion = "ballast.dev/v1"

// Resource kinds accepted in manifests
const (
	KindWorkload       = "Workload"
	KindService        = "Service"
	KindConfigFragment = "ConfigFragment"
	KindVolumeClaim    = "VolumeClaim"
	KindVolumePool     = "VolumePool"
)

// Document is the generic manifest envelope. The spec is decoded per kind.
type Document struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       yaml.Node
}

type Metadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// WorkloadSpec is the manifest form of a workload
type WorkloadSpec struct {
	Replicas        int               `yaml:"replicas"`
	Surge           int               `yaml:"surge,omitempty"`
	Image           string            `yaml:"image"`
	Port            int               `yaml:"port"`
	ConfigNamespace string            `yaml:"configNamespace,omitempty"`
	Env             map[string]string `yaml:"env,omitempty"`
	VolumeClaim     string            `yaml:"volumeClaim,omitempty"`
	MountPath       string            `yaml:"mountPath,omitempty"`
	LivenessProbe   *ProbeSpec        `yaml:"livenessProbe,omitempty"`
	ReadinessProbe  *ProbeSpec        `yaml:"readinessProbe,omitempty"`
}

// ProbeSpec is the manifest form of a probe, durations in seconds
type ProbeSpec struct {
	Path                string `yaml:"path,omitempty"`
	InitialDelaySeconds int    `yaml:"initialDelaySeconds,omitempty"`
	PeriodSeconds       int    `yaml:"periodSeconds,omitempty"`
	TimeoutSeconds      int    `yaml:"timeoutSeconds,omitempty"`
	FailureThreshold    int    `yaml:"failureThreshold,omitempty"`
}

type ServiceSpec struct {
	Selector   map[string]string `yaml:"selector"`
	Port       int               `yaml:"port"`
	TargetPort int               `yaml:"targetPort,omitempty"`
	Scope      string            `yaml:"scope,omitempty"`
}

type ConfigFragmentSpec struct {
	Namespace string            `yaml:"namespace"`
	Data      map[string]string `yaml:"data"`
}

type VolumeClaimSpec struct {
	Capacity   string `yaml:"capacity"`
	AccessMode string `yaml:"accessMode,omitempty"`
}

type VolumePoolSpec struct {
	Capacity      string `yaml:"capacity"`
	AccessMode    string `yaml:"accessMode,omitempty"`
	ReclaimPolicy string `yaml:"reclaimPolicy,omitempty"`
	Path          string `yaml:"path"`
}

// DecodeFile parses every document in a manifest file
func DecodeFile(path string) ([]*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	var docs []*Document
	dec := yaml.NewDecoder(f)
	for {
		var doc Document
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
		if doc.Kind == "" {
			continue
		}
		if doc.APIVersion != APIVersion {
			return nil, fmt.Errorf("%s: unsupported apiVersion %q", filepath.Base(path), doc.APIVersion)
		}
		if doc.Metadata.Name == "" {
			return nil, fmt.Errorf("%s: resource of kind %s has no name", filepath.Base(path), doc.Kind)
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

// Loader syncs a manifest directory into the store. It remembers which
// resources it loaded, so a manifest removed from the directory removes the
// resource while resources applied through the API are left alone.
type Loader struct {
	store  store.Store
	binder *volume.Binder
	broker *events.Broker
	dir    string
	guard  sync.Locker

	// known tracks kind -> names this loader applied on the previous sync
	known map[string]map[string]bool
}

// NewLoader creates a loader for a manifest directory
func NewLoader(st store.Store, binder *volume.Binder, broker *events.Broker, dir string) *Loader {
	return &Loader{
		store:  st,
		binder: binder,
		broker: broker,
		dir:    dir,
		known:  make(map[string]map[string]bool),
	}
}

/// Guard sets a lock held across a sync, so reconciliation never observes
// a half-applied directory
func (l *Loader) Guard(g sync.Locker) {
	l.guard = g
}

// Sync reloads the whole directory: every document found is applied and
// every resource loaded on a previous sync that has since disappeared is
// deleted
func (l *Loader) Sync() error {
	if l.guard != nil {
		l.guard.Lock()
		defer l.guard.Unlock()
	}

	paths, err := l.manifestFiles()
	if err != nil {
		return err
	}

	seen := make(map[string]map[string]bool)
	for _, path := range paths {
		docs, err := DecodeFile(path)
		if err != nil {
			// One broken file must not take down the rest of the
			// directory
			log.WithComponent("manifest").Error().Err(err).Str("file", path).Msg("skipping manifest")
			continue
		}
		for _, doc := range docs {
			if err := Apply(l.store, doc); err != nil {
				log.WithComponent("manifest").Error().Err(err).
					Str("kind", doc.Kind).Str("name", doc.Metadata.Name).
					Msg("failed to apply resource")
				continue
			}
			if seen[doc.Kind] == nil {
				seen[doc.Kind] = make(map[string]bool)
			}
			seen[doc.Kind][doc.Metadata.Name] = true
			if doc.Kind == KindWorkload {
				l.publish(events.EventWorkloadApplied, doc.Metadata.Name)
			}
		}
	}

	for kind, names := range l.known {
		for name := range names {
			if seen[kind][name] {
				continue
			}
			if err := l.remove(kind, name); err != nil {
				log.WithComponent("manifest").Error().Err(err).
					Str("kind", kind).Str("name", name).
					Msg("failed to remove resource")
			}
		}
	}
	l.known = seen
	return nil
}

// manifestFiles lists YAML files in the directory, sorted for deterministic
// apply order
func (l *Loader) manifestFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan manifest directory: %w", err)
	}
	sort.Strings(paths)
	return paths, nil
}

// remove deletes a resource whose manifest disappeared
func (l *Loader) remove(kind, name string) error {
	switch kind {
	case KindWorkload:
		if err := l.store.DeleteWorkload(name); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		l.publish(events.EventWorkloadDeleted, name)
		return nil
	case KindService:
		return ignoreNotFound(l.store.DeleteService(name))
	case KindConfigFragment:
		return ignoreNotFound(l.store.DeleteConfigFragment(name))
	case KindVolumeClaim:
		// Explicit claim deletion releases the bound pool per its
		// reclaim policy
		return ignoreNotFound(l.binder.Release(name))
	case KindVolumePool:
		return ignoreNotFound(l.store.DeleteVolumePool(name))
	}
	return nil
}

func (l *Loader) publish(typ events.EventType, workload string) {
	if l.broker == nil {
		return
	}
	l.broker.Publish(&events.Event{Type: typ, Workload: workload})
}

func ignoreNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// Apply upserts a single manifest document into the store
func Apply(st store.Store, doc *Document) error {
	switch doc.Kind {
	case KindWorkload:
		return applyWorkload(st, doc)
	case KindService:
		return applyService(st, doc)
	case KindConfigFragment:
		return applyConfigFragment(st, doc)
	case KindVolumeClaim:
		return applyVolumeClaim(st, doc)
	case KindVolumePool:
		return applyVolumePool(st, doc)
	default:
		return fmt.Errorf("unsupported resource kind: %s", doc.Kind)
	}
}

func applyWorkload(st store.Store, doc *Document) error {
	var spec WorkloadSpec
	if err := doc.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("invalid workload spec: %w", err)
	}
	if spec.Image == "" {
		return fmt.Errorf("workload %s: image is required", doc.Metadata.Name)
	}
	if spec.Replicas <= 0 {
		spec.Replicas = 1
	}

	w := &types.Workload{
		Name:     doc.Metadata.Name,
		Replicas: spec.Replicas,
		Surge:    spec.Surge,
		Labels:   doc.Metadata.Labels,
		Template: &types.Template{
			Image:           spec.Image,
			Port:            spec.Port,
			ConfigNamespace: spec.ConfigNamespace,
			EnvAliases:      spec.Env,
			VolumeClaim:     spec.VolumeClaim,
			MountPath:       spec.MountPath,
		},
	}
	if spec.LivenessProbe != nil || spec.ReadinessProbe != nil {
		w.Template.Probes = &types.ProbeSet{
			Liveness:  probeFromSpec(spec.LivenessProbe),
			Readiness: probeFromSpec(spec.ReadinessProbe),
		}
	}

	// Rollout status survives template edits; the reconciler owns it
	if existing, err := st.GetWorkload(w.Name); err == nil {
		w.ID = existing.ID
		w.Rollout = existing.Rollout
	}
	return st.UpsertWorkload(w)
}

func probeFromSpec(p *ProbeSpec) *types.ProbeSpec {
	if p == nil {
		return nil
	}
	return &types.ProbeSpec{
		Path:             p.Path,
		InitialDelay:     time.Duration(p.InitialDelaySeconds) * time.Second,
		Period:           time.Duration(p.PeriodSeconds) * time.Second,
		Timeout:          time.Duration(p.TimeoutSeconds) * time.Second,
		FailureThreshold: p.FailureThreshold,
	}
}

func applyService(st store.Store, doc *Document) error {
	var spec ServiceSpec
	if err := doc.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("invalid service spec: %w", err)
	}
	if spec.Port == 0 {
		return fmt.Errorf("service %s: port is required", doc.Metadata.Name)
	}

	scope := types.ServiceScopeInternal
	if spec.Scope != "" {
		scope = types.ServiceScope(spec.Scope)
		if scope != types.ServiceScopeInternal && scope != types.ServiceScopeExternal {
			return fmt.Errorf("service %s: unknown scope %q", doc.Metadata.Name, spec.Scope)
		}
	}

	svc := &types.Service{
		Name:       doc.Metadata.Name,
		Selector:   spec.Selector,
		Port:       spec.Port,
		TargetPort: spec.TargetPort,
		Scope:      scope,
	}

	// A published port, once allocated, is kept across re-applies
	if existing, err := st.GetService(svc.Name); err == nil {
		svc.ID = existing.ID
		svc.ExternalPort = existing.ExternalPort
	}
	return st.UpsertService(svc)
}

func applyConfigFragment(st store.Store, doc *Document) error {
	var spec ConfigFragmentSpec
	if err := doc.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("invalid config fragment spec: %w", err)
	}
	if spec.Namespace == "" {
		return fmt.Errorf("config fragment %s: namespace is required", doc.Metadata.Name)
	}
	return st.UpsertConfigFragment(&types.ConfigFragment{
		Name:      doc.Metadata.Name,
		Namespace: spec.Namespace,
		Data:      spec.Data,
	})
}

func applyVolumeClaim(st store.Store, doc *Document) error {
	var spec VolumeClaimSpec
	if err := doc.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("invalid volume claim spec: %w", err)
	}
	capacity, err := ParseCapacity(spec.Capacity)
	if err != nil {
		return fmt.Errorf("volume claim %s: %w", doc.Metadata.Name, err)
	}

	claim := &types.VolumeClaim{
		Name:       doc.Metadata.Name,
		Capacity:   capacity,
		AccessMode: accessMode(spec.AccessMode),
		Phase:      types.ClaimPhasePending,
		CreatedAt:  time.Now(),
	}

	// Binding is permanent: a re-applied manifest never unbinds
	if existing, err := st.GetVolumeClaim(claim.Name); err == nil {
		claim.ID = existing.ID
		claim.Phase = existing.Phase
		claim.BoundPool = existing.BoundPool
		claim.CreatedAt = existing.CreatedAt
	}
	return st.UpsertVolumeClaim(claim)
}

func applyVolumePool(st store.Store, doc *Document) error {
	var spec VolumePoolSpec
	if err := doc.Spec.Decode(&spec); err != nil {
		return fmt.Errorf("invalid volume pool spec: %w", err)
	}
	capacity, err := ParseCapacity(spec.Capacity)
	if err != nil {
		return fmt.Errorf("volume pool %s: %w", doc.Metadata.Name, err)
	}
	if spec.Path == "" {
		return fmt.Errorf("volume pool %s: path is required", doc.Metadata.Name)
	}

	policy := types.ReclaimDelete
	if spec.ReclaimPolicy != "" {
		policy = types.ReclaimPolicy(spec.ReclaimPolicy)
		if policy != types.ReclaimRetain && policy != types.ReclaimDelete {
			return fmt.Errorf("volume pool %s: unknown reclaim policy %q", doc.Metadata.Name, spec.ReclaimPolicy)
		}
	}

	pool := &types.VolumePool{
		Name:          doc.Metadata.Name,
		Capacity:      capacity,
		AccessMode:    accessMode(spec.AccessMode),
		ReclaimPolicy: policy,
		Phase:         types.PoolPhaseAvailable,
		Path:          spec.Path,
		// Declaration order is the binder's tie-break, carried by the
		// first-apply timestamp
		CreatedAt: time.Now(),
	}

	if existing, err := st.GetVolumePool(pool.Name); err == nil {
		pool.ID = existing.ID
		pool.Phase = existing.Phase
		pool.BoundClaim = existing.BoundClaim
		pool.CreatedAt = existing.CreatedAt
	}
	return st.UpsertVolumePool(pool)
}

func accessMode(s string) types.AccessMode {
	if s == "" {
		return types.AccessModeSingleWriter
	}
	return types.AccessMode(s)
}

// ParseCapacity parses a capacity string such as "512Mi" or "10Gi" into
// bytes. A bare number is bytes.
func ParseCapacity(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("capacity is required")
	}

	mult := int64(1)
	for _, unit := range []struct {
		suffix string
		factor int64
	}{
		{"Ki", 1 << 10},
		{"Mi", 1 << 20},
		{"Gi", 1 << 30},
		{"Ti", 1 << 40},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			mult = unit.factor
			s = strings.TrimSuffix(s, unit.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid capacity %q", s)
	}
	return n * mult, nil
}
