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

package symmetric

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/unixpickle/essentials"
)

// MinAlign is the minimum alignment and size granularity of heap blocks.
const MinAlign = 16

var (
	// ErrOutOfMemory is returned when no free span can hold a request.
	ErrOutOfMemory = errors.New("symmetric: heap exhausted")
	// ErrNotAllocated is returned when freeing or resizing an offset that is
	// not the start of a live block.
	ErrNotAllocated = errors.New("symmetric: offset is not a live allocation")
	// ErrBadAlignment is returned for alignments that are not powers of two.
	ErrBadAlignment = errors.New("symmetric: alignment must be a power of two")
)

type span struct {
	off  uint64
	size uint64
}

func (s span) end() uint64 { return s.off + s.size }

// Heap is a first-fit allocator over a pre-reserved region. It hands out
// offsets from the region base. It performs no cross-PE coordination: every
// PE must issue the same sequence of calls with the same sizes for block k
// to sit at the same offset everywhere, and nothing checks that.
type Heap struct {
	mu   sync.Mutex
	mem  []byte
	free []span // sorted by offset, never adjacent
	live []span // sorted by offset
}

// NewHeap manages mem, whose length is the heap capacity.
func NewHeap(mem []byte) *Heap {
	h := &Heap{mem: mem}
	if len(mem) > 0 {
		h.free = []span{{off: 0, size: uint64(len(mem))}}
	}
	return h
}

// Capacity returns the size of the managed region.
func (h *Heap) Capacity() uint64 {
	return uint64(len(h.mem))
}

// Alloc returns the offset of a new block of at least size bytes.
func (h *Heap) Alloc(size uint64) (uint64, error) {
	return h.AlignedAlloc(MinAlign, size)
}

// AlignedAlloc returns the offset of a new block aligned to align bytes
// relative to the heap base.
func (h *Heap) AlignedAlloc(align, size uint64) (uint64, error) {
	if align == 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("%w: %d", ErrBadAlignment, align)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocLocked(align, size)
}

func (h *Heap) allocLocked(align, size uint64) (uint64, error) {
	if align < MinAlign {
		align = MinAlign
	}
	if size > h.Capacity() {
		return 0, fmt.Errorf("%w: %d bytes requested, capacity %d", ErrOutOfMemory, size, h.Capacity())
	}
	size = blockSize(size)
	for i, f := range h.free {
		start := alignUp(f.off, align)
		if start+size > f.end() || start+size < start {
			continue
		}
		var rest []span
		if lead := (span{off: f.off, size: start - f.off}); lead.size > 0 {
			rest = append(rest, lead)
		}
		if tail := (span{off: start + size, size: f.end() - start - size}); tail.size > 0 {
			rest = append(rest, tail)
		}
		h.free = append(h.free[:i], append(rest, h.free[i+1:]...)...)
		h.insertLive(span{off: start, size: size})
		return start, nil
	}
	return 0, fmt.Errorf("%w: %d bytes requested, %d free", ErrOutOfMemory, size, h.freeBytesLocked())
}

// Free returns the block starting at off to the heap.
func (h *Heap) Free(off uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.findLive(off)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrNotAllocated, off)
	}
	b := h.live[i]
	essentials.OrderedDelete(&h.live, i)
	h.insertFree(b)
	return nil
}

// Realloc resizes the block at off, moving it when it cannot grow in place.
// The first min(old, new) bytes are preserved.
func (h *Heap) Realloc(off, size uint64) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.findLive(off)
	if !ok {
		return 0, fmt.Errorf("%w: %#x", ErrNotAllocated, off)
	}
	old := h.live[i]
	if size > h.Capacity() {
		return 0, fmt.Errorf("%w: %d bytes requested, capacity %d", ErrOutOfMemory, size, h.Capacity())
	}
	size = blockSize(size)

	if size <= old.size {
		if tail := (span{off: old.off + size, size: old.size - size}); tail.size > 0 {
			h.live[i].size = size
			h.insertFree(tail)
		}
		return off, nil
	}

	grow := size - old.size
	j := sort.Search(len(h.free), func(j int) bool { return h.free[j].off >= old.end() })
	if j < len(h.free) && h.free[j].off == old.end() && h.free[j].size >= grow {
		h.live[i].size = size
		if h.free[j].size == grow {
			essentials.OrderedDelete(&h.free, j)
		} else {
			h.free[j].off += grow
			h.free[j].size -= grow
		}
		return off, nil
	}

	n, err := h.allocLocked(MinAlign, size)
	if err != nil {
		return 0, err
	}
	copy(h.mem[n:n+old.size], h.mem[old.off:old.end()])
	i, _ = h.findLive(off)
	essentials.OrderedDelete(&h.live, i)
	h.insertFree(old)
	return n, nil
}

// Lookup returns the live block containing off.
func (h *Heap) Lookup(off uint64) (start, size uint64, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	i := sort.Search(len(h.live), func(i int) bool { return h.live[i].end() > off })
	if i < len(h.live) && h.live[i].off <= off {
		return h.live[i].off, h.live[i].size, true
	}
	return 0, 0, false
}

// Contains reports whether [off, off+n) lies inside one live block.
func (h *Heap) Contains(off, n uint64) bool {
	start, size, ok := h.Lookup(off)
	if !ok {
		return false
	}
	return off+n >= off && off+n <= start+size
}

// Usage returns the bytes currently allocated and free.
func (h *Heap) Usage() (used, free uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.live {
		used += b.size
	}
	return used, h.freeBytesLocked()
}

func (h *Heap) freeBytesLocked() uint64 {
	var n uint64
	for _, f := range h.free {
		n += f.size
	}
	return n
}

func (h *Heap) findLive(off uint64) (int, bool) {
	i := sort.Search(len(h.live), func(i int) bool { return h.live[i].off >= off })
	return i, i < len(h.live) && h.live[i].off == off
}

func (h *Heap) insertLive(b span) {
	i := sort.Search(len(h.live), func(i int) bool { return h.live[i].off >= b.off })
	h.live = append(h.live, span{})
	copy(h.live[i+1:], h.live[i:])
	h.live[i] = b
}

// insertFree adds b to the free list, merging it with adjacent spans.
func (h *Heap) insertFree(b span) {
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].off >= b.off })
	if i < len(h.free) && b.end() == h.free[i].off {
		b.size += h.free[i].size
		essentials.OrderedDelete(&h.free, i)
	}
	if i > 0 && h.free[i-1].end() == b.off {
		h.free[i-1].size += b.size
		return
	}
	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = b
}

func blockSize(size uint64) uint64 {
	if size == 0 {
		size = 1
	}
	return alignUp(size, MinAlign)
}
