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
	"fmt"

	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// Symmetric allocation is collective: every PE must make the same calls in
// the same order with the same sizes, so block offsets match across PEs.
// Each call ends with BarrierAll, so a block is usable on every PE once the
// call returns. A failed allocation still takes part in the barrier.

// Malloc allocates size bytes from the symmetric heap.
func (c *Context) Malloc(size uint64) (Addr, error) {
	off, err := c.space.Heap().Alloc(size)
	return c.allocated(off, err)
}

// AlignedAlloc allocates size bytes whose heap offset is a multiple of
// align, which must be a power of two.
func (c *Context) AlignedAlloc(align, size uint64) (Addr, error) {
	off, err := c.space.Heap().AlignedAlloc(align, size)
	return c.allocated(off, err)
}

// Realloc resizes the block at a, possibly moving it. The nil Addr behaves
// like Malloc.
func (c *Context) Realloc(a Addr, size uint64) (Addr, error) {
	if a.IsNil() {
		return c.Malloc(size)
	}
	if err := heapBlock(a); err != nil {
		return c.allocated(0, err)
	}
	off, err := c.space.Heap().Realloc(a.Offset(), size)
	return c.allocated(off, err)
}

// Free releases the block at a once every PE has reached the call.
func (c *Context) Free(a Addr) error {
	if err := c.BarrierAll(); err != nil {
		return err
	}
	if err := heapBlock(a); err != nil {
		return err
	}
	return c.space.Heap().Free(a.Offset())
}

// HeapUsage returns the bytes in live blocks and the bytes still free.
func (c *Context) HeapUsage() (used, free uint64) {
	return c.space.Heap().Usage()
}

func (c *Context) allocated(off uint64, err error) (Addr, error) {
	if berr := c.BarrierAll(); berr != nil {
		return Addr{}, berr
	}
	if err != nil {
		logger.Warningf("PE %d: symmetric allocation failed: %v", c.MyPE(), err)
		return Addr{}, err
	}
	return c.space.HeapAddr(off), nil
}

func heapBlock(a Addr) error {
	if a.Region() != symmetric.RegionHeap {
		return fmt.Errorf("%w: %v is not a heap block", symmetric.ErrNotAllocated, a)
	}
	return nil
}
