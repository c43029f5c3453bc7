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
	"unsafe"
)

// ErrAsymmetricLayout is returned when PEs disagree on the region layout.
var ErrAsymmetricLayout = errors.New("symmetric: PE layouts are not symmetric")

// Layout places the static region and the heap inside one PE's segment.
// Static offsets must match on every PE; heap bases may differ.
type Layout struct {
	StaticOff  uint64
	StaticSize uint64
	HeapOff    uint64
	HeapCap    uint64
}

// Space is one PE's view of the symmetric address space: the classifier for
// local addresses and the resolver for remote ones. The layout table holds
// one entry per PE, is filled once during setup and never changes.
type Space struct {
	me      int
	table   *StaticTable
	layouts []Layout
	mems    [][]byte
	heap    *Heap
}

// NewSpace builds the view of PE me. mems[pe] is PE pe's segment as mapped
// in this process.
func NewSpace(me int, table *StaticTable, layouts []Layout, mems [][]byte) (*Space, error) {
	if len(layouts) != len(mems) || len(mems) == 0 {
		return nil, fmt.Errorf("symmetric: %d layouts for %d segments", len(layouts), len(mems))
	}
	if me < 0 || me >= len(mems) {
		return nil, fmt.Errorf("symmetric: PE %d outside [0, %d)", me, len(mems))
	}
	ref := layouts[me]
	if ref.StaticSize < table.Size() {
		return nil, fmt.Errorf("%w: static region of %d bytes cannot hold %d", ErrAsymmetricLayout, ref.StaticSize, table.Size())
	}
	for pe, l := range layouts {
		switch {
		case l.StaticOff != ref.StaticOff || l.StaticSize != ref.StaticSize:
			return nil, fmt.Errorf("%w: PE %d static region %#x+%d, PE %d has %#x+%d",
				ErrAsymmetricLayout, pe, l.StaticOff, l.StaticSize, me, ref.StaticOff, ref.StaticSize)
		case l.HeapCap != ref.HeapCap:
			return nil, fmt.Errorf("%w: PE %d heap capacity %d, PE %d has %d",
				ErrAsymmetricLayout, pe, l.HeapCap, me, ref.HeapCap)
		case l.StaticOff+l.StaticSize > uint64(len(mems[pe])) || l.HeapOff+l.HeapCap > uint64(len(mems[pe])):
			return nil, fmt.Errorf("%w: PE %d layout exceeds its %d byte segment", ErrAsymmetricLayout, pe, len(mems[pe]))
		}
	}
	return &Space{
		me:      me,
		table:   table,
		layouts: layouts,
		mems:    mems,
		heap:    NewHeap(mems[me][ref.HeapOff : ref.HeapOff+ref.HeapCap]),
	}, nil
}

// Me returns the owning PE.
func (s *Space) Me() int { return s.me }

// NumPEs returns the number of PEs in the layout table.
func (s *Space) NumPEs() int { return len(s.layouts) }

// Heap returns the local symmetric heap.
func (s *Space) Heap() *Heap { return s.heap }

// Table returns the static table.
func (s *Space) Table() *StaticTable { return s.table }

// Layout returns PE pe's layout.
func (s *Space) Layout(pe int) Layout { return s.layouts[pe] }

// Static returns the handle of a static variable.
func (s *Space) Static(name string) (Addr, error) {
	r, ok := s.table.Lookup(name)
	if !ok {
		return Addr{}, fmt.Errorf("%w: no static variable %q", ErrNotSymmetric, name)
	}
	return NewAddr(RegionStatic, r.Start), nil
}

// HeapAddr wraps a heap offset returned by the allocator.
func (s *Space) HeapAddr(off uint64) Addr {
	return NewAddr(RegionHeap, off)
}

// Classify reports which region of the local segment p falls in. Heap
// addresses count only while they are inside a live allocation.
func (s *Space) Classify(p unsafe.Pointer) Region {
	off, ok := offsetIn(s.mems[s.me], p)
	if !ok {
		return RegionNone
	}
	a := s.classifyOffset(s.layouts[s.me], off)
	return a.region
}

// IsSymmetric reports whether p is a static variable or a live heap block
// of the local PE.
func (s *Space) IsSymmetric(p unsafe.Pointer) bool {
	return s.Classify(p) != RegionNone
}

// AddrOf converts a pointer into any mapped segment back into a handle and
// reports which PE's segment it belongs to.
func (s *Space) AddrOf(p unsafe.Pointer) (Addr, int, error) {
	for pe, mem := range s.mems {
		off, ok := offsetIn(mem, p)
		if !ok {
			continue
		}
		if a := s.classifyOffset(s.layouts[pe], off); !a.IsNil() {
			return a, pe, nil
		}
		return Addr{}, pe, fmt.Errorf("%w: %p is inside PE %d's segment but outside its symmetric regions", ErrNotSymmetric, p, pe)
	}
	return Addr{}, -1, fmt.Errorf("%w: %p", ErrNotSymmetric, p)
}

func (s *Space) classifyOffset(l Layout, off uint64) Addr {
	if off >= l.StaticOff && off < l.StaticOff+s.table.Size() {
		if _, ok := s.table.Find(off - l.StaticOff); ok {
			return NewAddr(RegionStatic, off-l.StaticOff)
		}
		return Addr{}
	}
	if off >= l.HeapOff && off < l.HeapOff+l.HeapCap {
		// Allocation history is symmetric, so the local heap answers for peers.
		if _, _, ok := s.heap.Lookup(off - l.HeapOff); ok {
			return NewAddr(RegionHeap, off-l.HeapOff)
		}
	}
	return Addr{}
}

// check verifies that n bytes at a are inside one static variable or one
// live heap block.
func (s *Space) check(a Addr, n uint64) (Class, error) {
	switch a.region {
	case RegionStatic:
		r, ok := s.table.Find(a.off)
		if !ok {
			return 0, fmt.Errorf("%w: %v", ErrNotSymmetric, a)
		}
		if a.off+n < a.off || a.off+n > r.End {
			return 0, fmt.Errorf("%w: %d bytes at %v overrun %q", ErrOutOfRange, n, a, r.Name)
		}
		return r.Class, nil
	case RegionHeap:
		start, size, ok := s.heap.Lookup(a.off)
		if !ok {
			return 0, fmt.Errorf("%w: %v is not a live heap block", ErrNotSymmetric, a)
		}
		if a.off+n < a.off || a.off+n > start+size {
			return 0, fmt.Errorf("%w: %d bytes at %v overrun the block at %#x", ErrOutOfRange, n, a, start)
		}
		return ClassData, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrNotSymmetric, a)
}

// Resolve returns the location on PE pe equivalent to the n bytes at a.
// Static addresses keep their offset from the static base; heap addresses
// are rebased from the local heap base onto pe's heap base.
func (s *Space) Resolve(a Addr, n uint64, pe int) (Remote, error) {
	if pe < 0 || pe >= len(s.layouts) {
		return Remote{}, fmt.Errorf("symmetric: PE %d outside [0, %d)", pe, len(s.layouts))
	}
	if _, err := s.check(a, n); err != nil {
		return Remote{}, err
	}
	return s.rebase(a, pe), nil
}

// ResolveWrite is Resolve for a destination of a write.
func (s *Space) ResolveWrite(a Addr, n uint64, pe int) (Remote, error) {
	if pe < 0 || pe >= len(s.layouts) {
		return Remote{}, fmt.Errorf("symmetric: PE %d outside [0, %d)", pe, len(s.layouts))
	}
	class, err := s.check(a, n)
	if err != nil {
		return Remote{}, err
	}
	if class == ClassROData {
		return Remote{}, fmt.Errorf("%w: %v", ErrReadOnly, a)
	}
	return s.rebase(a, pe), nil
}

func (s *Space) rebase(a Addr, pe int) Remote {
	l := s.layouts[pe]
	if a.region == RegionStatic {
		return Remote{PE: pe, Off: l.StaticOff + a.off}
	}
	return Remote{PE: pe, Off: l.HeapOff + a.off}
}

// Ptr returns a direct pointer to a's counterpart inside PE pe's segment as
// mapped in this process.
func (s *Space) Ptr(a Addr, pe int) (unsafe.Pointer, error) {
	r, err := s.Resolve(a, 1, pe)
	if err != nil {
		return nil, err
	}
	return unsafe.Pointer(&s.mems[pe][r.Off]), nil
}

// Translate resolves a raw pointer into any mapped segment to its
// counterpart on PE pe. Stack and Go heap pointers fail with ErrNotSymmetric.
func (s *Space) Translate(p unsafe.Pointer, pe int) (unsafe.Pointer, error) {
	a, _, err := s.AddrOf(p)
	if err != nil {
		return nil, err
	}
	return s.Ptr(a, pe)
}

// Bytes returns the local bytes backing n bytes at a.
func (s *Space) Bytes(a Addr, n uint64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	r, err := s.Resolve(a, n, s.me)
	if err != nil {
		return nil, err
	}
	return s.mems[s.me][r.Off : r.Off+n : r.Off+n], nil
}

func offsetIn(mem []byte, p unsafe.Pointer) (uint64, bool) {
	if len(mem) == 0 || p == nil {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	if uintptr(p) < base || uintptr(p) >= base+uintptr(len(mem)) {
		return 0, false
	}
	return uint64(uintptr(p) - base), true
}
