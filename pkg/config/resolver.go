package config

import (
	"fmt"
	"sort"

	"github.com/tidecraft/ballast/pkg/types"
)

// DuplicateKeyError reports a key defined by two fragments of one namespace.
// Duplicate keys are a hard validation error: silently letting the last
// writer win is how every consumer ends up wired to the wrong port or host.
type DuplicateKeyError struct {
	Namespace      string
	Key            string
	FirstFragment  string
	SecondFragment string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %q in namespace %q: defined by fragments %q and %q",
		e.Key, e.Namespace, e.FirstFragment, e.SecondFragment)
}

// UnknownKeyError reports a workload alias pointing at a key no fragment defines
type UnknownKeyError struct {
	Namespace string
	Alias     string
	Key       string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("alias %q resolves to key %q, which is not defined in namespace %q",
		e.Alias, e.Key, e.Namespace)
}

// Resolved is the flat key/value mapping produced for one namespace
type Resolved struct {
	Namespace string
	Data      map[string]string
	// origin records which fragment defined each key, for error reporting
	origin map[string]string
}

// ResolveNamespace merges the fragments contributing to one namespace into a
// single flat mapping. Every key must be globally unique across fragments;
// the first collision fails the whole namespace with a DuplicateKeyError.
//
// Pure function over declared state: fragments are not mutated and the result
// does not alias their maps. Fragments are merged in name order so the same
// inputs always produce the same error attribution.
func ResolveNamespace(namespace string, fragments []*types.ConfigFragment) (*Resolved, error) {
	sorted := make([]*types.ConfigFragment, len(fragments))
	copy(sorted, fragments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	res := &Resolved{
		Namespace: namespace,
		Data:      make(map[string]string),
		origin:    make(map[string]string),
	}

	for _, frag := range sorted {
		keys := make([]string, 0, len(frag.Data))
		for k := range frag.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			if first, exists := res.origin[key]; exists {
				return nil, &DuplicateKeyError{
					Namespace:      namespace,
					Key:            key,
					FirstFragment:  first,
					SecondFragment: frag.Name,
				}
			}
			res.Data[key] = frag.Data[key]
			res.origin[key] = frag.Name
		}
	}

	return res, nil
}

// Origin returns the fragment that defined key, if any
func (r *Resolved) Origin(key string) (string, bool) {
	frag, ok := r.origin[key]
	return frag, ok
}

// Env materializes a workload's environment from the resolved namespace and
// the workload's alias table. Each alias maps a workload-local env name to a
// global key, so two workloads sharing a namespace address their own keys
// (PORT -> API_PORT for one, PORT -> WEB_PORT for the other) instead of
// colliding on a generic name. An alias to an undefined key is an
// UnknownKeyError.
func (r *Resolved) Env(aliases map[string]string) (map[string]string, error) {
	env := make(map[string]string, len(aliases))

	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		key := aliases[name]
		value, ok := r.Data[key]
		if !ok {
			return nil, &UnknownKeyError{Namespace: r.Namespace, Alias: name, Key: key}
		}
		env[name] = value
	}

	return env, nil
}
