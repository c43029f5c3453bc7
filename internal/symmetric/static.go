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
	"fmt"
	"sort"
)

// StaticAlign is the alignment of every static variable.
const StaticAlign = 16

// Class is the section a static variable lives in.
type Class uint8

const (
	// ClassBSS is zero-initialised writable data.
	ClassBSS Class = iota
	// ClassData is writable data with an initial image.
	ClassData
	// ClassROData is read-only data.
	ClassROData
)

func (c Class) String() string {
	switch c {
	case ClassData:
		return "data"
	case ClassROData:
		return "rodata"
	}
	return "bss"
}

// Var declares a static symmetric variable.
type Var struct {
	Name     string
	Size     uint64
	Init     []byte // initial image for data and rodata; nil means bss
	ReadOnly bool
}

// Range is one entry of the static table.
type Range struct {
	Name  string
	Start uint64 // offset from the static base
	End   uint64
	Class Class
	Init  []byte
}

// StaticTable is the {address range -> classification} table for global
// variables. It is built once at startup and never mutated afterwards; every
// PE builds it from the same declarations so the layout is identical.
type StaticTable struct {
	ranges []Range
	byName map[string]int
	size   uint64
}

// NewStaticTable lays vars out in declaration order.
func NewStaticTable(vars []Var) (*StaticTable, error) {
	t := &StaticTable{byName: make(map[string]int, len(vars))}
	var off uint64
	for _, v := range vars {
		if v.Name == "" {
			return nil, fmt.Errorf("static variable with empty name")
		}
		if _, dup := t.byName[v.Name]; dup {
			return nil, fmt.Errorf("static variable %q declared twice", v.Name)
		}
		if v.Size == 0 {
			return nil, fmt.Errorf("static variable %q has zero size", v.Name)
		}
		if uint64(len(v.Init)) > v.Size {
			return nil, fmt.Errorf("static variable %q: initial image of %d bytes exceeds size %d", v.Name, len(v.Init), v.Size)
		}
		class := ClassBSS
		switch {
		case v.ReadOnly:
			class = ClassROData
		case v.Init != nil:
			class = ClassData
		}
		off = alignUp(off, StaticAlign)
		t.byName[v.Name] = len(t.ranges)
		t.ranges = append(t.ranges, Range{
			Name:  v.Name,
			Start: off,
			End:   off + v.Size,
			Class: class,
			Init:  v.Init,
		})
		off += v.Size
	}
	t.size = alignUp(off, StaticAlign)
	return t, nil
}

// Size returns the bytes needed for the static region.
func (t *StaticTable) Size() uint64 {
	return t.size
}

// Ranges returns the table entries in address order.
func (t *StaticTable) Ranges() []Range {
	return t.ranges
}

// Lookup finds a variable by name.
func (t *StaticTable) Lookup(name string) (Range, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Range{}, false
	}
	return t.ranges[i], true
}

// Find returns the range containing off. Padding between variables belongs
// to no range.
func (t *StaticTable) Find(off uint64) (Range, bool) {
	i := sort.Search(len(t.ranges), func(i int) bool { return t.ranges[i].End > off })
	if i < len(t.ranges) && t.ranges[i].Start <= off {
		return t.ranges[i], true
	}
	return Range{}, false
}

// Image writes every variable's initial image into region, which must be at
// least Size bytes long. BSS is zeroed.
func (t *StaticTable) Image(region []byte) {
	for _, r := range t.ranges {
		dst := region[r.Start:r.End]
		n := copy(dst, r.Init)
		clear(dst[n:])
	}
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
