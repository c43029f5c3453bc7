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

package pgas

import (
	"time"

	"github.com/markrussinovich/go-pgas/internal/config"
	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// worldOptions configure an in-process world.
type worldOptions struct {
	heapSize     uint64
	heapPad      func(pe int) uint64
	statics      []symmetric.Var
	modules      map[string]string
	debug        bool
	probeTimeout time.Duration
}

func defaultWorldOptions() worldOptions {
	return worldOptions{
		heapSize:     config.DefaultHeapSize,
		modules:      map[string]string{},
		probeTimeout: config.DefaultProbeTimeout,
	}
}

// Option configures NewLocalWorld.
type Option interface {
	apply(*worldOptions)
}

// funcOption wraps a function that modifies worldOptions into an
// implementation of the Option interface.
type funcOption struct {
	f func(*worldOptions)
}

func (fo *funcOption) apply(o *worldOptions) {
	fo.f(o)
}

func newFuncOption(f func(*worldOptions)) *funcOption {
	return &funcOption{f: f}
}

// WithHeapSize sets the capacity of every PE's symmetric heap.
func WithHeapSize(n uint64) Option {
	return newFuncOption(func(o *worldOptions) {
		o.heapSize = n
	})
}

// WithHeapPadding shifts each PE's heap base by pad(pe) bytes, rounded up
// to 64. Heap addresses stay symmetric; only their placement differs.
func WithHeapPadding(pad func(pe int) uint64) Option {
	return newFuncOption(func(o *worldOptions) {
		o.heapPad = pad
	})
}

// WithStatics declares static symmetric variables.
func WithStatics(vars ...Var) Option {
	return newFuncOption(func(o *worldOptions) {
		o.statics = append(o.statics, vars...)
	})
}

// WithModule selects the variant bound for a collective family, e.g.
// WithModule("barrier", "linear").
func WithModule(family, name string) Option {
	return newFuncOption(func(o *worldOptions) {
		o.modules[family] = name
	})
}

// WithDebugChecks enables the usage-contract checks on sync arrays.
func WithDebugChecks(on bool) Option {
	return newFuncOption(func(o *worldOptions) {
		o.debug = on
	})
}

// WithProbeTimeout bounds PEAccessible.
func WithProbeTimeout(d time.Duration) Option {
	return newFuncOption(func(o *worldOptions) {
		o.probeTimeout = d
	})
}
