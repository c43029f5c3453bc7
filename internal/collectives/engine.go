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

// Package collectives implements barrier, broadcast, reduction and
// all-gather over one-sided operations.
//
// Every algorithm coordinates through a caller-supplied symmetric sync
// array (pSync) whose slots hold SyncValue between calls and are restored
// to it before a call returns. Waiting is busy-polling of slots, with a
// spin, yield and sleep backoff; a PE that never joins a collective its
// peers entered blocks them forever.
package collectives

import (
	"context"
	"fmt"

	"google.golang.org/grpc/grpclog"

	"github.com/markrussinovich/go-pgas/internal/activeset"
	"github.com/markrussinovich/go-pgas/internal/modules"
	"github.com/markrussinovich/go-pgas/internal/symmetric"
	"github.com/markrussinovich/go-pgas/internal/transport"
)

var logger = grpclog.Component("pgas")

// Args carries the operands of one collective call. Counts are in
// elements of the width the implementation is bound to.
type Args struct {
	Target symmetric.Addr
	Source symmetric.Addr
	NElems int
	// Root is the ordinal of the broadcast root within Set.
	Root  int
	Set   activeset.ActiveSet
	PSync symmetric.Addr
}

// Func is a collective implementation bound to an element width.
type Func func(e *Engine, a Args) error

// algo is a collective implementation over elements of width bytes.
type algo func(e *Engine, a Args, width int) error

func bind(width int, f algo) Func {
	return func(e *Engine, a Args) error { return f(e, a, width) }
}

// register adds a variant whose 32- and 64-bit forms share one algorithm.
func register(f *modules.Family[Func], name string, impl algo) {
	f.Register(name, bind(4, impl), bind(8, impl))
}

// Options configures an Engine.
type Options struct {
	// Debug enables usage-contract checks on sync arrays.
	Debug bool
	// Modules maps a family name to a variant override.
	Modules map[string]string
	// AllSync is a BarrierSyncSize-word static sync array used by the
	// barrier-all variants that run over the sync slot protocol.
	AllSync symmetric.Addr
}

// Engine runs collectives for one PE.
type Engine struct {
	comms transport.Comms
	space *symmetric.Space
	debug bool

	allSync    symmetric.Addr
	barrier    modules.Impl[Func]
	barrierAll modules.Impl[Func]
	broadcast  modules.Impl[Func]
	fcollect   modules.Impl[Func]
	collect    modules.Impl[Func]
}

// NewEngine binds every collective family. An unknown variant name is a
// fatal configuration error.
func NewEngine(c transport.Comms, space *symmetric.Space, o Options) (*Engine, error) {
	e := &Engine{comms: c, space: space, debug: o.Debug, allSync: o.AllSync}
	bindings := []struct {
		family *modules.Family[Func]
		dst    *modules.Impl[Func]
	}{
		{Barriers, &e.barrier},
		{BarrierAlls, &e.barrierAll},
		{Broadcasts, &e.broadcast},
		{Fcollects, &e.fcollect},
		{Collects, &e.collect},
	}
	for _, b := range bindings {
		impl, err := b.family.Load(o.Modules[b.family.Name()])
		if err != nil {
			return nil, err
		}
		*b.dst = impl
	}
	if e.barrierAll.Name != "transport" && o.AllSync.IsNil() {
		return nil, fmt.Errorf("%w: barrier-all variant %q needs a sync array", ErrBadArgument, e.barrierAll.Name)
	}
	if c.MyPE() == 0 {
		logger.Infof("collectives: barrier=%s barrier-all=%s broadcast=%s fcollect=%s collect=%s",
			e.barrier.Name, e.barrierAll.Name, e.broadcast.Name, e.fcollect.Name, e.collect.Name)
	}
	return e, nil
}

// Bound returns the variant bound for each family.
func (e *Engine) Bound() map[string]string {
	return map[string]string{
		Barriers.Name():    e.barrier.Name,
		BarrierAlls.Name(): e.barrierAll.Name,
		Broadcasts.Name():  e.broadcast.Name,
		Fcollects.Name():   e.fcollect.Name,
		Collects.Name():    e.collect.Name,
	}
}

// Barrier blocks until every member of set has called Barrier with the
// same set and pSync.
func (e *Engine) Barrier(set activeset.ActiveSet, pSync symmetric.Addr) error {
	return e.barrier.Impl64(e, Args{Set: set, PSync: pSync})
}

// BarrierAll blocks until every PE has called BarrierAll.
func (e *Engine) BarrierAll() error {
	return e.barrierAll.Impl64(e, Args{Set: activeset.World(e.comms.NumPEs()), PSync: e.allSync})
}

func pick(impl modules.Impl[Func], width int) (Func, error) {
	switch width {
	case 4:
		return impl.Impl32, nil
	case 8:
		return impl.Impl64, nil
	}
	return nil, fmt.Errorf("%w: element width %d", ErrBadArgument, width)
}

// Broadcast copies NElems elements of width bytes from Source on the root
// to Target on every other member. The root's Target is left untouched.
func (e *Engine) Broadcast(width int, a Args) error {
	f, err := pick(e.broadcast, width)
	if err != nil {
		return err
	}
	return f(e, a)
}

// Fcollect concatenates NElems elements from every member into Target in
// virtual rank order.
func (e *Engine) Fcollect(width int, a Args) error {
	f, err := pick(e.fcollect, width)
	if err != nil {
		return err
	}
	return f(e, a)
}

// Collect concatenates a varying number of elements from every member
// into Target in virtual rank order.
func (e *Engine) Collect(width int, a Args) error {
	f, err := pick(e.collect, width)
	if err != nil {
		return err
	}
	return f(e, a)
}

// transportBarrierAll delegates to the transport's job-wide barrier.
func transportBarrierAll(e *Engine, _ Args, _ int) error {
	return e.comms.BarrierAll(context.Background())
}

// checkBuffer verifies that n elements of width bytes at a are symmetric
// and aligned for the element type.
func (e *Engine) checkBuffer(name, what string, a symmetric.Addr, n, width int, write bool) error {
	if n < 0 {
		return fmt.Errorf("%s: %w: negative element count %d", name, ErrBadArgument, n)
	}
	if a.Offset()%uint64(width) != 0 {
		return fmt.Errorf("%s: %w: %s %v is not %d-byte aligned", name, ErrBadArgument, what, a, width)
	}
	if n == 0 {
		return nil
	}
	size := uint64(n) * uint64(width)
	var err error
	if write {
		_, err = e.space.ResolveWrite(a, size, e.comms.MyPE())
	} else {
		_, err = e.space.Resolve(a, size, e.comms.MyPE())
	}
	if err != nil {
		return fmt.Errorf("%s: %s: %w", name, what, err)
	}
	return nil
}
