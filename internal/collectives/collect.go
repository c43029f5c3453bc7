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

package collectives

// collectSlot carries the running element offset, plus one, from each
// member to its successor in virtual rank order.
const collectSlot = 2

// scatter writes n bytes from source into target at byte offset off on
// every member of a.Set, then completes the writes and waits for the set.
func (e *Engine) scatter(a Args, off, n uint64) error {
	dst := a.Target.Add(off)
	for _, pe := range a.Set.Members() {
		if err := e.put(dst, a.Source, n, pe); err != nil {
			return err
		}
	}
	if err := e.comms.Quiet(); err != nil {
		return err
	}
	return e.barrier.Impl64(e, Args{Set: a.Set, PSync: a.PSync})
}

// linearFcollect concatenates NElems elements from every member into
// target in virtual rank order. Every member contributes the same count.
func linearFcollect(e *Engine, a Args, width int) error {
	const name = "fcollect(linear)"
	v, err := e.enter(name, a.Set, a.PSync, CollectSyncSize)
	if err != nil {
		return err
	}
	if err := e.checkBuffer(name, "target", a.Target, a.NElems*a.Set.Size, width, true); err != nil {
		return err
	}
	if err := e.checkBuffer(name, "source", a.Source, a.NElems, width, false); err != nil {
		return err
	}
	n := uint64(a.NElems) * uint64(width)
	return e.scatter(a, uint64(v)*n, n)
}

// linearCollect concatenates a variable number of elements from every
// member into target in virtual rank order. Offsets are chained through
// pSync from each member to the next before any data moves.
func linearCollect(e *Engine, a Args, width int) error {
	const name = "collect(linear)"
	v, err := e.enter(name, a.Set, a.PSync, CollectSyncSize)
	if err != nil {
		return err
	}
	if err := e.checkBuffer(name, "source", a.Source, a.NElems, width, false); err != nil {
		return err
	}
	me := e.comms.MyPE()

	var off uint64
	if v > 0 {
		got, err := e.waitSlot(a.PSync, collectSlot, me, func(x uint64) bool { return x != SyncValue })
		if err != nil {
			return err
		}
		off = got - SyncValue - 1
		if err := e.storeSlot(a.PSync, collectSlot, me, SyncValue); err != nil {
			return err
		}
	}
	if v+1 < a.Set.Size {
		next := a.Set.PE(v + 1)
		if err := e.storeSlot(a.PSync, collectSlot, next, SyncValue+1+off+uint64(a.NElems)); err != nil {
			return err
		}
	}
	if err := e.checkBuffer(name, "target", a.Target.Add(off*uint64(width)), a.NElems, width, true); err != nil {
		return err
	}
	return e.scatter(a, off*uint64(width), uint64(a.NElems)*uint64(width))
}
