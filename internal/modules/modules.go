/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package modules is the registry of interchangeable collective algorithms.
//
// Each family (barrier, broadcast, ...) maps variant names to a pair of
// implementations, one bound to 32-bit elements and one to 64-bit elements.
// Variants are registered at package init; there is no dynamic loading.
package modules

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"google.golang.org/grpc/grpclog"
)

var logger = grpclog.Component("pgas")

// ErrNotFound is returned when a variant name is not registered or is
// missing one of its implementations.
var ErrNotFound = errors.New("modules: implementation not found")

// Impl is a bound variant.
type Impl[E any] struct {
	Family string
	Name   string
	Impl32 E
	Impl64 E
}

// Family is the variant table of one collective family.
type Family[E any] struct {
	name string
	def  string

	mu       sync.Mutex
	variants map[string]Impl[E]
	loaded   map[string]Impl[E]
}

// NewFamily returns an empty family whose compiled-in default is def.
func NewFamily[E any](name, def string) *Family[E] {
	return &Family[E]{
		name:     name,
		def:      def,
		variants: make(map[string]Impl[E]),
		loaded:   make(map[string]Impl[E]),
	}
}

// Name returns the family name.
func (f *Family[E]) Name() string { return f.name }

// Default returns the compiled-in variant name.
func (f *Family[E]) Default() string { return f.def }

// Register adds a variant. It panics if name is already registered; it is
// meant to be called from init.
func (f *Family[E]) Register(name string, impl32, impl64 E) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.variants[name]; dup {
		panic(fmt.Sprintf("modules: %s variant %q registered twice", f.name, name))
	}
	f.variants[name] = Impl[E]{Family: f.name, Name: name, Impl32: impl32, Impl64: impl64}
}

// Names returns the registered variant names in sorted order.
func (f *Family[E]) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.namesLocked()
}

// Load resolves the variant to use: override if non-empty, else the
// default. A resolved variant is cached and later loads return the same
// binding.
func (f *Family[E]) Load(override string) (Impl[E], error) {
	name := override
	if name == "" {
		name = f.def
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if impl, ok := f.loaded[name]; ok {
		return impl, nil
	}
	impl, ok := f.variants[name]
	if !ok {
		return Impl[E]{}, fmt.Errorf("%w: %s variant %q (have %v)", ErrNotFound, f.name, name, f.namesLocked())
	}
	if isNil(impl.Impl32) || isNil(impl.Impl64) {
		return Impl[E]{}, fmt.Errorf("%w: %s variant %q lacks a 32- or 64-bit implementation", ErrNotFound, f.name, name)
	}
	f.loaded[name] = impl
	if logger.V(2) {
		logger.Infof("bound %s module %q", f.name, name)
	}
	return impl, nil
}

func (f *Family[E]) namesLocked() []string {
	names := make([]string, 0, len(f.variants))
	for n := range f.variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
