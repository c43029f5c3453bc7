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
	"math"
	"testing"
	"unsafe"

	"github.com/markrussinovich/go-pgas/internal/activeset"
	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// reduceWorld runs one reduction of n elements over set and returns each
// PE's target. fill sets a PE's source before the call.
func reduceWorld[T Number](t *testing.T, npes, n int, set activeset.ActiveSet, op Op[T], overlap bool, fill func(pe int, src []T)) [][]T {
	t.Helper()
	var zero T
	width := uint64(unsafe.Sizeof(zero))
	world := newWorld(t, npes, nil, true)
	pSync := world[0].static(t, "psync")
	src := allocAll(t, world, uint64(n)*width)
	dst := src
	if !overlap {
		dst = allocAll(t, world, uint64(n)*width)
	}
	wrk := allocAll(t, world, uint64(WrkSize(n))*width)

	for pe, p := range world {
		fill(pe, local[T](t, p, src, n))
	}
	// Twice, so the second call runs on the sync array the first one left.
	for round := range 2 {
		if round == 1 && overlap {
			break
		}
		runAll(t, world, func(p *testPE) error {
			if !set.Contains(p.c.MyPE()) {
				return nil
			}
			return Reduce(p.e, op, dst, src, n, set, wrk, pSync)
		})
	}
	assertSentinel(t, world, pSync, ReduceSyncSize)

	out := make([][]T, npes)
	for pe, p := range world {
		out[pe] = append([]T(nil), local[T](t, p, dst, n)...)
	}
	return out
}

func TestSumToAll(t *testing.T) {
	for _, npes := range []int{1, 2, 5, 8} {
		const n = 4
		out := reduceWorld(t, npes, n, activeset.World(npes), Sum[int32](), false, func(pe int, src []int32) {
			for i := range src {
				src[i] = int32(i + 1)
			}
		})
		for pe, got := range out {
			for i, v := range got {
				if want := int32(npes * (i + 1)); v != want {
					t.Errorf("npes=%d PE %d: target[%d] = %d, want %d", npes, pe, i, v, want)
				}
			}
		}
	}
}

func TestSumOfRanks(t *testing.T) {
	const npes = 6
	out := reduceWorld(t, npes, 1, activeset.World(npes), Sum[int64](), false, func(pe int, src []int64) {
		src[0] = int64(pe + 1)
	})
	for pe, got := range out {
		if want := int64(npes * (npes + 1) / 2); got[0] != want {
			t.Errorf("PE %d: sum = %d, want %d", pe, got[0], want)
		}
	}
}

func TestMaxMinToAll(t *testing.T) {
	const npes = 5
	for _, tc := range []struct {
		op   Op[int64]
		want int64
	}{
		{Max[int64](), npes - 1},
		{Min[int64](), 0},
	} {
		out := reduceWorld(t, npes, 3, activeset.World(npes), tc.op, false, func(pe int, src []int64) {
			for i := range src {
				src[i] = int64(pe)
			}
		})
		for pe, got := range out {
			for i, v := range got {
				if v != tc.want {
					t.Errorf("%s: PE %d target[%d] = %d, want %d", tc.op.Name, pe, i, v, tc.want)
				}
			}
		}
	}
}

func TestBitwiseToAll(t *testing.T) {
	for _, npes := range []int{1, 2, 3, 7} {
		want := map[string]uint32{"and": ^uint32(0), "or": 0, "xor": 0}
		for pe := range npes {
			v := uint32(pe%3 + 1)
			want["and"] &= v
			want["or"] |= v
			want["xor"] ^= v
		}
		if npes >= 3 && want["and"] != 0 {
			t.Fatalf("and over %d PEs = %d, want 0", npes, want["and"])
		}
		for _, op := range []Op[uint32]{And[uint32](), Or[uint32](), Xor[uint32]()} {
			out := reduceWorld(t, npes, 2, activeset.World(npes), op, false, func(pe int, src []uint32) {
				src[0], src[1] = uint32(pe%3+1), uint32(pe%3+1)
			})
			for pe, got := range out {
				if got[0] != want[op.Name] || got[1] != want[op.Name] {
					t.Errorf("npes=%d %s: PE %d = %v, want %d", npes, op.Name, pe, got, want[op.Name])
				}
			}
		}
	}
}

func TestFloatReductionsAgree(t *testing.T) {
	const npes, n = 5, 9
	for _, op := range []Op[float64]{Sum[float64](), Prod[float64]()} {
		out := reduceWorld(t, npes, n, activeset.World(npes), op, false, func(pe int, src []float64) {
			for i := range src {
				src[i] = 1 + 0.1*float64(pe) + 0.01*float64(i)
			}
		})
		for i := range n {
			want := 1 + 0.01*float64(i)
			for pe := 1; pe < npes; pe++ {
				x := 1 + 0.1*float64(pe) + 0.01*float64(i)
				if op.Name == "sum" {
					want += x
				} else {
					want *= x
				}
			}
			for pe, got := range out {
				if math.Float64bits(got[i]) != math.Float64bits(out[0][i]) {
					t.Errorf("%s: PE %d target[%d] = %v differs from PE 0's %v", op.Name, pe, i, got[i], out[0][i])
				}
				if math.Abs(got[i]-want) > 1e-9 {
					t.Errorf("%s: PE %d target[%d] = %v, want %v", op.Name, pe, i, got[i], want)
				}
			}
		}
	}
}

func TestMaxPropagatesNaN(t *testing.T) {
	out := reduceWorld(t, 3, 1, activeset.World(3), Max[float32](), false, func(pe int, src []float32) {
		src[0] = float32(pe)
		if pe == 1 {
			src[0] = float32(math.NaN())
		}
	})
	for pe, got := range out {
		if !math.IsNaN(float64(got[0])) {
			t.Errorf("PE %d: max = %v, want NaN", pe, got[0])
		}
	}
}

func TestReduceInPlace(t *testing.T) {
	const npes, n = 4, 6
	out := reduceWorld(t, npes, n, activeset.World(npes), Sum[int64](), true, func(pe int, src []int64) {
		for i := range src {
			src[i] = int64(pe*10 + i)
		}
	})
	for pe, got := range out {
		for i, v := range got {
			if want := int64(60 + npes*i); v != want {
				t.Errorf("PE %d: target[%d] = %d, want %d", pe, i, v, want)
			}
		}
	}
}

func TestReduceChunksThroughWork(t *testing.T) {
	const npes, n = 3, 100
	if WrkSize(n) >= n {
		t.Fatalf("WrkSize(%d) = %d does not force chunking", n, WrkSize(n))
	}
	out := reduceWorld(t, npes, n, activeset.World(npes), Sum[uint64](), false, func(pe int, src []uint64) {
		for i := range src {
			src[i] = uint64(i) << (8 * pe)
		}
	})
	for pe, got := range out {
		for i, v := range got {
			if want := uint64(i) | uint64(i)<<8 | uint64(i)<<16; v != want {
				t.Fatalf("PE %d: target[%d] = %#x, want %#x", pe, i, v, want)
			}
		}
	}
}

func TestReduceStridedSet(t *testing.T) {
	const npes = 6
	set := activeset.ActiveSet{Start: 1, LogStride: 1, Size: 3}
	out := reduceWorld(t, npes, 2, set, Sum[int32](), false, func(pe int, src []int32) {
		src[0], src[1] = int32(pe), 1
	})
	for pe, got := range out {
		want := []int32{0, 0}
		if set.Contains(pe) {
			want = []int32{1 + 3 + 5, 3}
		}
		if got[0] != want[0] || got[1] != want[1] {
			t.Errorf("PE %d: target = %v, want %v", pe, got, want)
		}
	}
}

func TestReduceWorkTooSmall(t *testing.T) {
	world := newWorld(t, 1, nil, false)
	p := world[0]
	const n = 64
	buf := allocAll(t, world, n*8)
	wrk := allocAll(t, world, 8)
	err := Reduce(p.e, Sum[int64](), buf, buf, n, activeset.World(1), wrk, p.static(t, "psync"))
	if !errors.Is(err, symmetric.ErrOutOfRange) {
		t.Errorf("Reduce(short pWrk) = %v, want ErrOutOfRange", err)
	}
}
