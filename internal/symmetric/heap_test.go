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
	"testing"
)

func TestHeapAllocFree(t *testing.T) {
	h := NewHeap(make([]byte, 1024))

	a, err := h.Alloc(10)
	if err != nil {
		t.Fatalf("Alloc(10): %v", err)
	}
	b, err := h.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc(100): %v", err)
	}
	if a != 0 || b != 16 {
		t.Fatalf("offsets = %d, %d; want 0, 16", a, b)
	}
	if !h.Contains(b, 100) || h.Contains(b, 113) {
		t.Errorf("Contains mismatch for block at %d", b)
	}
	if err := h.Free(a); err != nil {
		t.Fatalf("Free(%d): %v", a, err)
	}
	if err := h.Free(a); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("double Free = %v, want ErrNotAllocated", err)
	}
	if _, _, ok := h.Lookup(a); ok {
		t.Errorf("Lookup(%d) found a freed block", a)
	}
	c, err := h.Alloc(16)
	if err != nil || c != a {
		t.Errorf("Alloc after Free = (%d, %v), want reuse of %d", c, err, a)
	}
}

func TestHeapExhaustion(t *testing.T) {
	h := NewHeap(make([]byte, 256))
	if _, err := h.Alloc(512); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Alloc(512) = %v, want ErrOutOfMemory", err)
	}
	if _, err := h.Alloc(^uint64(0)); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Alloc(max) = %v, want ErrOutOfMemory", err)
	}
	var offs []uint64
	for {
		off, err := h.Alloc(64)
		if err != nil {
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("Alloc: %v", err)
			}
			break
		}
		offs = append(offs, off)
	}
	if len(offs) != 4 {
		t.Fatalf("allocated %d blocks of 64 from 256 bytes, want 4", len(offs))
	}
	for _, off := range offs {
		if err := h.Free(off); err != nil {
			t.Fatal(err)
		}
	}
	if off, err := h.Alloc(256); err != nil || off != 0 {
		t.Errorf("free spans did not coalesce: Alloc(256) = (%d, %v)", off, err)
	}
}

func TestHeapAlignedAlloc(t *testing.T) {
	h := NewHeap(make([]byte, 4096))
	if _, err := h.Alloc(8); err != nil {
		t.Fatal(err)
	}
	off, err := h.AlignedAlloc(256, 32)
	if err != nil {
		t.Fatalf("AlignedAlloc: %v", err)
	}
	if off%256 != 0 {
		t.Errorf("AlignedAlloc offset %d is not 256-aligned", off)
	}
	// The gap left in front of the aligned block is still usable.
	gap, err := h.Alloc(16)
	if err != nil || gap != 16 {
		t.Errorf("Alloc into alignment gap = (%d, %v), want 16", gap, err)
	}
	if _, err := h.AlignedAlloc(24, 8); !errors.Is(err, ErrBadAlignment) {
		t.Errorf("AlignedAlloc(24) = %v, want ErrBadAlignment", err)
	}
}

func TestHeapRealloc(t *testing.T) {
	mem := make([]byte, 1024)
	h := NewHeap(mem)

	a, _ := h.Alloc(32)
	copy(mem[a:], "symmetric")

	// Grows in place into the free tail.
	a2, err := h.Realloc(a, 64)
	if err != nil || a2 != a {
		t.Fatalf("Realloc grow in place = (%d, %v), want %d", a2, err, a)
	}

	b, _ := h.Alloc(16)

	// Blocked by b: must move and keep the contents.
	a3, err := h.Realloc(a, 128)
	if err != nil {
		t.Fatalf("Realloc move: %v", err)
	}
	if a3 == a {
		t.Fatalf("Realloc did not move the block")
	}
	if got := string(mem[a3 : a3+9]); got != "symmetric" {
		t.Errorf("moved contents = %q", got)
	}
	if _, _, ok := h.Lookup(a); ok {
		t.Errorf("old block at %d still live after move", a)
	}

	// Shrinking keeps the offset and frees the tail.
	a4, err := h.Realloc(a3, 16)
	if err != nil || a4 != a3 {
		t.Fatalf("Realloc shrink = (%d, %v), want %d", a4, err, a3)
	}
	if h.Contains(a3, 32) {
		t.Errorf("shrunk block still covers 32 bytes")
	}
	if _, err := h.Realloc(b+1, 8); !errors.Is(err, ErrNotAllocated) {
		t.Errorf("Realloc of interior offset = %v, want ErrNotAllocated", err)
	}
}

func TestHeapSymmetricHistory(t *testing.T) {
	// Two heaps driven by the same call sequence hand out the same offsets.
	sizes := []uint64{24, 100, 7, 4096, 33}
	h1 := NewHeap(make([]byte, 1<<16))
	h2 := NewHeap(make([]byte, 1<<16))
	for i, sz := range sizes {
		o1, err1 := h1.Alloc(sz)
		o2, err2 := h2.Alloc(sz)
		if err1 != nil || err2 != nil || o1 != o2 {
			t.Fatalf("step %d: offsets %d/%d errors %v/%v", i, o1, o2, err1, err2)
		}
		if i%2 == 1 {
			h1.Free(o1)
			h2.Free(o2)
		}
	}
	u1, f1 := h1.Usage()
	u2, f2 := h2.Usage()
	if u1 != u2 || f1 != f2 {
		t.Errorf("usage diverged: %d/%d vs %d/%d", u1, f1, u2, f2)
	}
}
