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
	"github.com/markrussinovich/go-pgas/internal/collectives"
)

// Collectives take the active set as a (start, logStride, size) triple and
// a symmetric pSync array holding SyncValue in every slot. Every member of
// the set must make the matching call.

// Barrier waits until every member of set has reached the call and all
// their earlier writes are complete. pSync needs BarrierSyncSize slots.
func (c *Context) Barrier(set ActiveSet, pSync Addr) error {
	if err := c.comms.Quiet(); err != nil {
		return err
	}
	return c.engine.Barrier(set, pSync)
}

// BarrierAll is Barrier over every PE using the library's own sync array.
func (c *Context) BarrierAll() error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := c.comms.Quiet(); err != nil {
		return err
	}
	return c.engine.BarrierAll()
}

// Broadcast32 copies n 4-byte elements from source on the member with
// ordinal root in set into target on every other member. The root's target
// is left unchanged. pSync needs BcastSyncSize slots.
func (c *Context) Broadcast32(target, source Addr, n, root int, set ActiveSet, pSync Addr) error {
	return c.engine.Broadcast(4, collectives.Args{Target: target, Source: source, NElems: n, Root: root, Set: set, PSync: pSync})
}

// Broadcast64 is Broadcast32 for 8-byte elements.
func (c *Context) Broadcast64(target, source Addr, n, root int, set ActiveSet, pSync Addr) error {
	return c.engine.Broadcast(8, collectives.Args{Target: target, Source: source, NElems: n, Root: root, Set: set, PSync: pSync})
}

// Fcollect32 concatenates n 4-byte elements from every member into target,
// ordered by position in set. pSync needs CollectSyncSize slots.
func (c *Context) Fcollect32(target, source Addr, n int, set ActiveSet, pSync Addr) error {
	return c.engine.Fcollect(4, collectives.Args{Target: target, Source: source, NElems: n, Set: set, PSync: pSync})
}

// Fcollect64 is Fcollect32 for 8-byte elements.
func (c *Context) Fcollect64(target, source Addr, n int, set ActiveSet, pSync Addr) error {
	return c.engine.Fcollect(8, collectives.Args{Target: target, Source: source, NElems: n, Set: set, PSync: pSync})
}

// Collect32 is Fcollect32 where each member may contribute a different n.
func (c *Context) Collect32(target, source Addr, n int, set ActiveSet, pSync Addr) error {
	return c.engine.Collect(4, collectives.Args{Target: target, Source: source, NElems: n, Set: set, PSync: pSync})
}

// Collect64 is Collect32 for 8-byte elements.
func (c *Context) Collect64(target, source Addr, n int, set ActiveSet, pSync Addr) error {
	return c.engine.Collect(8, collectives.Args{Target: target, Source: source, NElems: n, Set: set, PSync: pSync})
}

// Integer and Number constrain reduction element types.
type (
	Integer = collectives.Integer
	Number  = collectives.Number
)

// WrkSize returns the number of elements pWrk must hold for a reduction of
// n elements.
func WrkSize(n int) int { return collectives.WrkSize(n) }

// The reductions combine n elements of source from every member of set and
// leave the result in target on every member. target may be source. pWrk
// needs WrkSize(n) elements and pSync needs ReduceSyncSize slots.

func SumToAll[T Number](c *Context, target, source Addr, n int, set ActiveSet, pWrk, pSync Addr) error {
	return collectives.Reduce(c.engine, collectives.Sum[T](), target, source, n, set, pWrk, pSync)
}

func ProdToAll[T Number](c *Context, target, source Addr, n int, set ActiveSet, pWrk, pSync Addr) error {
	return collectives.Reduce(c.engine, collectives.Prod[T](), target, source, n, set, pWrk, pSync)
}

// MinToAll and MaxToAll yield NaN if any float contribution is NaN.
func MinToAll[T Number](c *Context, target, source Addr, n int, set ActiveSet, pWrk, pSync Addr) error {
	return collectives.Reduce(c.engine, collectives.Min[T](), target, source, n, set, pWrk, pSync)
}

func MaxToAll[T Number](c *Context, target, source Addr, n int, set ActiveSet, pWrk, pSync Addr) error {
	return collectives.Reduce(c.engine, collectives.Max[T](), target, source, n, set, pWrk, pSync)
}

func AndToAll[T Integer](c *Context, target, source Addr, n int, set ActiveSet, pWrk, pSync Addr) error {
	return collectives.Reduce(c.engine, collectives.And[T](), target, source, n, set, pWrk, pSync)
}

func OrToAll[T Integer](c *Context, target, source Addr, n int, set ActiveSet, pWrk, pSync Addr) error {
	return collectives.Reduce(c.engine, collectives.Or[T](), target, source, n, set, pWrk, pSync)
}

func XorToAll[T Integer](c *Context, target, source Addr, n int, set ActiveSet, pWrk, pSync Addr) error {
	return collectives.Reduce(c.engine, collectives.Xor[T](), target, source, n, set, pWrk, pSync)
}
