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
	"testing"

	"github.com/markrussinovich/go-pgas/internal/activeset"
	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// mixedBuffers are the symmetric buffers of one mixed-sequence world.
type mixedBuffers struct {
	src, red, fc, bc, wrk symmetric.Addr
}

// mixedRound runs reduce, barrier, fcollect, broadcast and barrier back to
// back on one pSync, checking each result before the next call starts.
func mixedRound(t *testing.T, p *testPE, r int, set activeset.ActiveSet, pSync symmetric.Addr, b mixedBuffers) error {
	me, n := p.c.MyPE(), set.Size
	local[int64](t, p, b.src, 1)[0] = int64(100*r + me)

	if err := Reduce(p.e, Sum[int64](), b.red, b.src, 1, set, b.wrk, pSync); err != nil {
		return err
	}
	if got, want := local[int64](t, p, b.red, 1)[0], int64(100*r*n+n*(n-1)/2); got != want {
		return fmt.Errorf("round %d: sum = %d, want %d", r, got, want)
	}
	if err := p.e.Barrier(set, pSync); err != nil {
		return err
	}

	if err := p.e.Fcollect(8, Args{Target: b.fc, Source: b.src, NElems: 1, Set: set, PSync: pSync}); err != nil {
		return err
	}
	for pe, got := range local[int64](t, p, b.fc, n) {
		if want := int64(100*r + pe); got != want {
			return fmt.Errorf("round %d: fcollect[%d] = %d, want %d", r, pe, got, want)
		}
	}

	root := r % n
	if err := p.e.Broadcast(8, Args{Target: b.bc, Source: b.src, NElems: 1, Root: root, Set: set, PSync: pSync}); err != nil {
		return err
	}
	if got, want := local[int64](t, p, b.bc, 1)[0], int64(100*r+root); me != root && got != want {
		return fmt.Errorf("round %d: broadcast from %d = %d, want %d", r, root, got, want)
	}
	return p.e.Barrier(set, pSync)
}

func TestMixedCollectivesShareSync(t *testing.T) {
	const npes, rounds = 7, 150
	for _, barrier := range Barriers.Names() {
		for _, bcast := range Broadcasts.Names() {
			t.Run(barrier+"/"+bcast, func(t *testing.T) {
				world := newWorld(t, npes, map[string]string{"barrier": barrier, "broadcast": bcast}, true)
				pSync := world[0].static(t, "psync")
				b := mixedBuffers{
					src: allocAll(t, world, 8),
					red: allocAll(t, world, 8),
					fc:  allocAll(t, world, npes*8),
					bc:  allocAll(t, world, 8),
					wrk: allocAll(t, world, uint64(WrkSize(1))*8),
				}
				set := activeset.World(npes)
				runAll(t, world, func(p *testPE) error {
					for r := range rounds {
						if err := mixedRound(t, p, r, set, pSync, b); err != nil {
							return err
						}
					}
					return nil
				})
				assertSentinel(t, world, pSync, CollectSyncSize)
			})
		}
	}
}

func TestTreeBroadcastThenBarrier(t *testing.T) {
	const npes, rounds = 5, 500
	for _, barrier := range Barriers.Names() {
		t.Run(barrier, func(t *testing.T) {
			world := newWorld(t, npes, map[string]string{"barrier": barrier, "broadcast": "tree"}, false)
			pSync := world[0].static(t, "psync")
			src, dst := allocAll(t, world, 8), allocAll(t, world, 8)
			set := activeset.World(npes)
			runAll(t, world, func(p *testPE) error {
				for r := range rounds {
					if err := p.e.Broadcast(8, Args{Target: dst, Source: src, NElems: 1, Set: set, PSync: pSync}); err != nil {
						return err
					}
					if err := p.e.Barrier(set, pSync); err != nil {
						return fmt.Errorf("round %d: %w", r, err)
					}
				}
				return nil
			})
			assertSentinel(t, world, pSync, BarrierSyncSize)
		})
	}
}
