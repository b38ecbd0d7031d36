package runtime

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Driver for tests and local engine runs. Addresses are
// loopback so probes in tests can point at httptest servers via AddressFor.
type Fake struct {
	mu        sync.Mutex
	running   map[string]*Spec
	addresses map[string]string // instance ID -> assigned address
	next      int

	// CreateErr, when set, fails every Create call
	CreateErr error

	// AddressFor overrides address assignment per instance, keyed by
	// workload name; used to point probes at rigged servers
	AddressFor func(spec *Spec) string
}

// NewFake creates a new fake driver
func NewFake() *Fake {
	return &Fake{
		running:   make(map[string]*Spec),
		addresses: make(map[string]string),
	}
}

func (f *Fake) Create(_ context.Context, spec *Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return "", f.CreateErr
	}

	addr := ""
	if f.AddressFor != nil {
		addr = f.AddressFor(spec)
	}
	if addr == "" {
		f.next++
		addr = fmt.Sprintf("10.64.0.%d", f.next)
	}

	cp := *spec
	f.running[spec.InstanceID] = &cp
	f.addresses[spec.InstanceID] = addr
	return addr, nil
}

func (f *Fake) Terminate(_ context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, instanceID)
	return nil
}

func (f *Fake) Alive(_ context.Context, instanceID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[instanceID]
	return ok, nil
}

// RunningCount returns the number of currently running instances
func (f *Fake) RunningCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}

// RunningSpec returns the spec an instance was created with, if running
func (f *Fake) RunningSpec(instanceID string) (*Spec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.running[instanceID]
	return spec, ok
}
