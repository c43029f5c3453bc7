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

// Package activeset describes the subset of PEs taking part in a collective
// call and derives the binary tree topology every participant agrees on.
//
// An active set is the triple (PE_start, logPE_stride, PE_size). Members are
// the PEs PE_start + i*2^logPE_stride for i in [0, PE_size); i is the
// member's virtual rank. Nothing here performs I/O: every participant calls
// the same pure functions with the same three inputs, and no message ever
// carries topology information.
package activeset

import (
	"errors"
	"fmt"
	"math"
)

// None marks an absent parent or child.
const None = -1

// maxLogStride bounds the stride so that member PE numbers fit in an int32.
const maxLogStride = 30

var (
	// ErrInvalid is returned for malformed active-set parameters.
	ErrInvalid = errors.New("activeset: invalid active set")
	// ErrNotMember is returned when a PE is not part of the active set.
	ErrNotMember = errors.New("activeset: PE is not a member of the active set")
)

// ActiveSet is the (PE_start, logPE_stride, PE_size) triple.
type ActiveSet struct {
	Start     int
	LogStride int
	Size      int
}

// World returns the active set spanning every PE.
func World(npes int) ActiveSet {
	return ActiveSet{Start: 0, LogStride: 0, Size: npes}
}

// String implements fmt.Stringer.
func (s ActiveSet) String() string {
	return fmt.Sprintf("{start=%d logstride=%d size=%d}", s.Start, s.LogStride, s.Size)
}

// Validate checks the triple against a job of npes PEs.
func (s ActiveSet) Validate(npes int) error {
	switch {
	case s.Start < 0:
		return fmt.Errorf("%w: negative PE_start %d", ErrInvalid, s.Start)
	case s.LogStride < 0 || s.LogStride > maxLogStride:
		return fmt.Errorf("%w: logPE_stride %d out of range", ErrInvalid, s.LogStride)
	case s.Size < 1:
		return fmt.Errorf("%w: PE_size %d", ErrInvalid, s.Size)
	}
	// Bound the span before shifting so large sizes cannot wrap.
	if int64(s.Start) > math.MaxInt32 ||
		int64(s.Size-1) > (math.MaxInt32-int64(s.Start))>>uint(s.LogStride) {
		return fmt.Errorf("%w: %v overflows the PE range", ErrInvalid, s)
	}
	last := int64(s.Start) + int64(s.Size-1)<<uint(s.LogStride)
	if npes > 0 && last >= int64(npes) {
		return fmt.Errorf("%w: %v reaches PE %d but only %d PEs exist", ErrInvalid, s, last, npes)
	}
	return nil
}

// Stride returns 2^logPE_stride.
func (s ActiveSet) Stride() int {
	return 1 << uint(s.LogStride)
}

// VirtualRank returns (pe - PE_start) / stride and whether pe is a member.
func (s ActiveSet) VirtualRank(pe int) (int, bool) {
	d := pe - s.Start
	if d < 0 || d%s.Stride() != 0 {
		return None, false
	}
	v := d / s.Stride()
	if v >= s.Size {
		return None, false
	}
	return v, true
}

// Contains reports whether pe is a member.
func (s ActiveSet) Contains(pe int) bool {
	_, ok := s.VirtualRank(pe)
	return ok
}

// PE maps a virtual rank back to an absolute PE, or None when out of range.
func (s ActiveSet) PE(vrank int) int {
	if vrank < 0 || vrank >= s.Size {
		return None
	}
	return s.Start + vrank*s.Stride()
}

// Members lists the absolute PEs in ascending virtual rank order.
func (s ActiveSet) Members() []int {
	pes := make([]int, s.Size)
	for v := range pes {
		pes[v] = s.PE(v)
	}
	return pes
}

// Node is one PE's position in the collective tree. Parent, Left and Right
// are absolute PE numbers or None.
type Node struct {
	PE     int
	VRank  int
	Parent int
	Left   int
	Right  int
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool {
	return n.Parent == None
}

// Children returns the live children, left first.
func (n Node) Children() []int {
	var c []int
	if n.Left != None {
		c = append(c, n.Left)
	}
	if n.Right != None {
		c = append(c, n.Right)
	}
	return c
}

// Tree returns pe's position in the canonical tree rooted at PE_start.
func (s ActiveSet) Tree(pe int) (Node, error) {
	return s.RootedTree(pe, 0)
}

// RootedTree returns pe's position in the tree rooted at the member with
// ordinal root. The root and PE_start trade places in the canonical tree, so
// the result depends only on (root, PE_start) and is identical on every PE.
func (s ActiveSet) RootedTree(pe, root int) (Node, error) {
	v, ok := s.VirtualRank(pe)
	if !ok {
		return Node{}, fmt.Errorf("%w: PE %d in %v", ErrNotMember, pe, s)
	}
	if root < 0 || root >= s.Size {
		return Node{}, fmt.Errorf("%w: root ordinal %d outside %v", ErrInvalid, root, s)
	}
	// swap is an involution: it maps virtual ranks to tree positions and back.
	swap := func(x int) int {
		switch x {
		case root:
			return 0
		case 0:
			return root
		}
		return x
	}
	pos := swap(v)
	n := Node{PE: pe, VRank: v, Parent: None, Left: None, Right: None}
	if pos > 0 {
		n.Parent = s.PE(swap((pos - 1) / 2))
	}
	if l := 2*pos + 1; l < s.Size {
		n.Left = s.PE(swap(l))
	}
	if r := 2*pos + 2; r < s.Size {
		n.Right = s.PE(swap(r))
	}
	return n, nil
}
