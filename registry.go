// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry holds the job types a worker knows how to execute. It is
// populated at startup and safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	types map[string]*JobType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*JobType),
	}
}

// Register adds a job type. Registering a nil handler or a name twice
// is an error.
func (r *Registry) Register(t *JobType) error {
	if t == nil || t.Name == "" {
		return errors.New("queuekit: no job type specified")
	}
	if t.Handle == nil {
		return fmt.Errorf("queuekit: job type %s has no handler", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.types[t.Name]; found {
		return fmt.Errorf("queuekit: job type %s already registered", t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// Lookup resolves a type name. A miss returns an error wrapping
// ErrUnknownJobType.
func (r *Registry) Lookup(name string) (*JobType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, found := r.types[name]
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, name)
	}
	return t, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
