// Copyright 2024-present the queuekit authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package queuekit

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	typ := NewJobType("send-mail", func(ctx context.Context, payload Payload) error { return nil })
	if err := r.Register(typ); err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	have, err := r.Lookup("send-mail")
	if err != nil {
		t.Fatalf("Lookup failed with %v", err)
	}
	if have != typ {
		t.Fatal("Lookup returned a different job type")
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	f := func(ctx context.Context, payload Payload) error { return nil }
	if err := r.Register(NewJobType("t", f)); err != nil {
		t.Fatalf("Register failed with %v", err)
	}
	if err := r.Register(NewJobType("t", f)); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistryNilHandler(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&JobType{Name: "t"}); err == nil {
		t.Fatal("expected registration without handler to fail")
	}
}

func TestRegistryUnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup("nope")
	if err == nil {
		t.Fatal("expected Lookup to fail")
	}
	if !errors.Is(err, ErrUnknownJobType) {
		t.Fatalf("expected ErrUnknownJobType, have %v", err)
	}
}

func TestRegistryTypes(t *testing.T) {
	r := NewRegistry()
	f := func(ctx context.Context, payload Payload) error { return nil }
	for _, name := range []string{"b", "a", "c"} {
		if err := r.Register(NewJobType(name, f)); err != nil {
			t.Fatalf("Register failed with %v", err)
		}
	}
	names := r.Types()
	if have, want := len(names), 3; have != want {
		t.Fatalf("len(Types()) = %d, want %d", have, want)
	}
	for i, want := range []string{"a", "b", "c"} {
		if have := names[i]; have != want {
			t.Fatalf("Types()[%d] = %q, want %q", i, have, want)
		}
	}
}

func TestJobTypeDefaults(t *testing.T) {
	typ := NewJobType("t", func(ctx context.Context, payload Payload) error { return nil })
	if have, want := typ.MaxRetries, DefaultMaxRetries; have != want {
		t.Fatalf("MaxRetries = %d, want %d", have, want)
	}
	if have, want := typ.RetryDelay, DefaultRetryDelay; have != want {
		t.Fatalf("RetryDelay = %v, want %v", have, want)
	}
	if have, want := typ.Queue, DefaultQueue; have != want {
		t.Fatalf("Queue = %q, want %q", have, want)
	}
	if have, want := typ.Priority, 0; have != want {
		t.Fatalf("Priority = %d, want %d", have, want)
	}
	if have, want := typ.Timeout, DefaultTimeout; have != want {
		t.Fatalf("Timeout = %v, want %v", have, want)
	}
}
