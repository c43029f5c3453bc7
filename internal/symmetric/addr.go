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

// Package symmetric implements the symmetric memory model: the static table
// of global variables, the per-PE symmetric heap, and the resolver that
// turns an address valid on one PE into the equivalent location on another.
//
// Addresses are opaque handles carrying a region kind and an offset rather
// than raw pointers. Resolve is the only way to turn a handle into a
// transport argument, and it fails closed for anything that is not
// symmetric.
package symmetric

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSymmetric is returned when an address has no counterpart on other PEs.
	ErrNotSymmetric = errors.New("symmetric: address is not symmetric")
	// ErrReadOnly is returned when a write resolves into read-only static data.
	ErrReadOnly = errors.New("symmetric: address is read-only")
	// ErrOutOfRange is returned when an access runs past the end of its block.
	ErrOutOfRange = errors.New("symmetric: access out of range")
)

// Region classifies an address.
type Region uint8

const (
	// RegionNone is neither static nor heap, e.g. a stack variable.
	RegionNone Region = iota
	// RegionStatic holds global/static variables.
	RegionStatic
	// RegionHeap holds blocks returned by the symmetric allocator.
	RegionHeap
)

func (r Region) String() string {
	switch r {
	case RegionStatic:
		return "static"
	case RegionHeap:
		return "heap"
	}
	return "none"
}

// Addr is a symmetric handle: a region and an offset from that region's base.
// The zero Addr is nil.
type Addr struct {
	region Region
	off    uint64
}

// NewAddr builds a handle. It does not check that the location is live.
func NewAddr(r Region, off uint64) Addr {
	return Addr{region: r, off: off}
}

// Region returns the handle's region.
func (a Addr) Region() Region { return a.region }

// Offset returns the offset from the region base.
func (a Addr) Offset() uint64 { return a.off }

// IsNil reports whether a is the zero handle.
func (a Addr) IsNil() bool { return a.region == RegionNone }

// Add returns the handle n bytes further into the same region.
func (a Addr) Add(n uint64) Addr {
	return Addr{region: a.region, off: a.off + n}
}

func (a Addr) String() string {
	if a.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%s+%#x", a.region, a.off)
}

// Remote is a resolved location: a byte offset into a PE's segment.
type Remote struct {
	PE  int
	Off uint64
}

// Overlaps reports whether [a, a+an) and [b, b+bn) share any byte.
func Overlaps(a Addr, an uint64, b Addr, bn uint64) bool {
	if a.region != b.region || an == 0 || bn == 0 {
		return false
	}
	return a.off < b.off+bn && b.off < a.off+an
}
