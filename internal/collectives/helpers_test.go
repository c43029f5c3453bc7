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
	"errors"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/markrussinovich/go-pgas/internal/activeset"
	"github.com/markrussinovich/go-pgas/internal/symmetric"
	"github.com/markrussinovich/go-pgas/internal/transport/shm"
)

const (
	testHeap    = 1 << 16
	testTimeout = 10 * time.Second
)

// testVars are the static variables every test world carries.
var testVars = []symmetric.Var{
	{Name: "allsync", Size: BarrierSyncSize * SlotSize},
	{Name: "psync", Size: CollectSyncSize * SlotSize},
	{Name: "counter", Size: 8},
}

// testPE is one PE of an in-process world.
type testPE struct {
	e *Engine
	s *symmetric.Space
	c *shm.Comms
}

func (p *testPE) static(t *testing.T, name string) symmetric.Addr {
	t.Helper()
	a, err := p.s.Static(name)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// alloc allocates n bytes from the local heap. Every PE of a world must
// call it in the same order with the same sizes.
func (p *testPE) alloc(t *testing.T, n uint64) symmetric.Addr {
	t.Helper()
	off, err := p.s.Heap().Alloc(n)
	if err != nil {
		t.Fatalf("PE %d: Alloc(%d): %v", p.c.MyPE(), n, err)
	}
	return p.s.HeapAddr(off)
}

// newWorld builds npes PEs sharing anonymous segments whose heap bases
// differ, each with an engine bound according to modules.
func newWorld(t *testing.T, npes int, modules map[string]string, debug bool) []*testPE {
	t.Helper()
	table, err := symmetric.NewStaticTable(testVars)
	if err != nil {
		t.Fatal(err)
	}
	comms, err := shm.NewLocalWorld(npes, table.Size(), testHeap, func(pe int) uint64 { return uint64(pe) * 192 })
	if err != nil {
		t.Fatalf("NewLocalWorld(%d): %v", npes, err)
	}
	t.Cleanup(func() {
		for _, c := range comms {
			c.Close()
		}
	})

	layouts := make([]symmetric.Layout, npes)
	mems := make([][]byte, npes)
	for pe, c := range comms {
		mems[pe], layouts[pe] = c.Segment(pe)
		table.Image(mems[pe][layouts[pe].StaticOff:])
	}

	world := make([]*testPE, npes)
	for pe, c := range comms {
		s, err := symmetric.NewSpace(pe, table, layouts, mems)
		if err != nil {
			t.Fatalf("NewSpace(%d): %v", pe, err)
		}
		allSync, err := s.Static("allsync")
		if err != nil {
			t.Fatal(err)
		}
		e, err := NewEngine(c, s, Options{Debug: debug, Modules: modules, AllSync: allSync})
		if err != nil {
			t.Fatalf("NewEngine(%d): %v", pe, err)
		}
		world[pe] = &testPE{e: e, s: s, c: c}
	}
	return world
}

// runAll runs f on every PE concurrently and fails the test if any PE
// returns an error or the world does not finish within testTimeout.
func runAll(t *testing.T, world []*testPE, f func(p *testPE) error) {
	t.Helper()
	errs := make([]error, len(world))
	var wg sync.WaitGroup
	for i, p := range world {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f(p)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatalf("world of %d PEs did not finish within %v", len(world), testTimeout)
	}
	for pe, err := range errs {
		if err != nil {
			t.Errorf("PE %d: %v", pe, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		t.FailNow()
	}
}

// local returns the calling PE's typed view of n elements at a.
func local[T any](t *testing.T, p *testPE, a symmetric.Addr, n int) []T {
	t.Helper()
	var zero T
	b, err := p.s.Bytes(a, uint64(n)*uint64(unsafe.Sizeof(zero)))
	if err != nil {
		t.Fatalf("PE %d: Bytes(%v): %v", p.c.MyPE(), a, err)
	}
	return view[T](b)
}

// assertSentinel checks that every PE's sync slots are back at SyncValue.
func assertSentinel(t *testing.T, world []*testPE, pSync symmetric.Addr, slots int) {
	t.Helper()
	for _, p := range world {
		for i, v := range local[uint64](t, p, pSync, slots) {
			if v != SyncValue {
				t.Errorf("PE %d: pSync[%d] = %d after return, want %d", p.c.MyPE(), i, v, SyncValue)
			}
		}
	}
}

// testSets are the active sets exercised over a world of npes PEs.
func testSets(npes int) []activeset.ActiveSet {
	sets := []activeset.ActiveSet{activeset.World(npes)}
	if npes >= 5 {
		sets = append(sets,
			activeset.ActiveSet{Start: 1, LogStride: 1, Size: 2},
			activeset.ActiveSet{Start: 1, LogStride: 0, Size: 3},
		)
	}
	return sets
}

// allocAll allocates n bytes on every PE and returns the common handle.
func allocAll(t *testing.T, world []*testPE, n uint64) symmetric.Addr {
	t.Helper()
	var a symmetric.Addr
	for i, p := range world {
		got := p.alloc(t, n)
		if i > 0 && got != a {
			t.Fatalf("PE %d allocated %v, PE 0 allocated %v", i, got, a)
		}
		a = got
	}
	return a
}
