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

import (
	"fmt"
	"unsafe"

	"github.com/markrussinovich/go-pgas/internal/activeset"
	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// WrkSize returns the number of pWrk elements a reduction of n elements
// needs.
func WrkSize(n int) int {
	return max(n/2+1, ReduceMinWrkdataSize)
}

// view reinterprets b as a slice of T.
func view[T any](b []byte) []T {
	var zero T
	w := int(unsafe.Sizeof(zero))
	if len(b) < w {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/w)
}

// Reduce combines n elements of source from every member of set with op
// and leaves the result in target on every member.
//
// Members' contributions are pulled through pWrk, which must hold
// WrkSize(n) elements, and folded in ascending virtual rank order on every
// PE, so every member computes the same result. target may overlap source.
// Reductions are generic over the element type and bypass the module
// registry.
func Reduce[T Number](e *Engine, op Op[T], target, source symmetric.Addr, n int, set activeset.ActiveSet, pWrk, pSync symmetric.Addr) error {
	name := "reduce(" + op.Name + ")"
	var zero T
	width := int(unsafe.Sizeof(zero))

	if _, err := e.enter(name, set, pSync, ReduceSyncSize); err != nil {
		return err
	}
	if err := e.checkBuffer(name, "target", target, n, width, true); err != nil {
		return err
	}
	if err := e.checkBuffer(name, "source", source, n, width, false); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	chunk := min(WrkSize(n), n)
	if err := e.checkBuffer(name, "pWrk", pWrk, WrkSize(n), width, true); err != nil {
		return fmt.Errorf("%w (pWrk needs %d elements)", err, WrkSize(n))
	}

	me := e.comms.MyPE()
	size := uint64(n) * uint64(width)
	tgtBytes, err := e.space.Bytes(target, size)
	if err != nil {
		return err
	}
	srcBytes, err := e.space.Bytes(source, size)
	if err != nil {
		return err
	}
	wrkBytes, err := e.space.Bytes(pWrk, uint64(chunk*width))
	if err != nil {
		return err
	}

	acc := view[T](tgtBytes)
	var tmp []T
	if symmetric.Overlaps(target, size, source, size) {
		tmp = make([]T, n)
		acc = tmp
	}
	src, wrk := view[T](srcBytes), view[T](wrkBytes)

	barrier := Args{Set: set, PSync: pSync}
	if err := e.barrier.Impl64(e, barrier); err != nil {
		return err
	}
	for v, pe := range set.Members() {
		for off := 0; off < n; off += chunk {
			m := min(chunk, n-off)
			in := src[off : off+m]
			if pe != me {
				r, err := e.space.Resolve(source.Add(uint64(off*width)), uint64(m*width), pe)
				if err != nil {
					return err
				}
				if err := e.comms.Get(wrkBytes[:m*width], r); err != nil {
					return err
				}
				in = wrk[:m]
			}
			if v == 0 {
				copy(acc[off:off+m], in)
			} else {
				op.apply(acc[off:off+m], in)
			}
		}
	}
	if err := e.barrier.Impl64(e, barrier); err != nil {
		return err
	}
	if tmp != nil {
		copy(view[T](tgtBytes), tmp)
	}
	return e.comms.Quiet()
}
