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

// Command pgas-diag prints the segment layout a job would use and runs an
// in-process self test of every collective variant.
package main

import (
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/unixpickle/essentials"

	"github.com/markrussinovich/go-pgas"
	"github.com/markrussinovich/go-pgas/internal/collectives"
	"github.com/markrussinovich/go-pgas/internal/config"
	"github.com/markrussinovich/go-pgas/internal/transport/shm"
)

func main() {
	var (
		npes     = flag.Int("npes", 4, "number of PEs")
		heapFlag = flag.String("heap", "1M", "symmetric heap size per PE (K, M or G suffix)")
		static   = flag.Uint64("static", 256, "static region size in bytes")
		pad      = flag.Uint64("pad", 0, "extra heap offset per PE rank, in bytes")
		rounds   = flag.Int("rounds", 100, "iterations per collective in the self test")
		skipTest = flag.Bool("layout-only", false, "print the layout and skip the self test")
	)
	flag.Parse()

	heap, err := config.ParseSize(*heapFlag)
	if err != nil {
		essentials.Die(err)
	}

	fmt.Printf("=== Segment Layout ===\n")
	fmt.Printf("Header: %d bytes, magic %q\n", shm.SegmentHeaderSize, shm.SegmentMagic)
	for pe := 0; pe < *npes; pe++ {
		total, l, err := shm.CalculateSegmentLayout(*static, heap, *pad*uint64(pe))
		if err != nil {
			essentials.Die(err)
		}
		fmt.Printf("PE %d: total %d, static %#x+%d, heap %#x+%d\n", pe, total, l.StaticOff, l.StaticSize, l.HeapOff, l.HeapCap)
	}
	if *skipTest {
		return
	}

	fmt.Printf("\n=== Collective Self Test (%d PEs, %d rounds) ===\n", *npes, *rounds)
	families := map[string][]string{
		"barrier":     collectives.Barriers.Names(),
		"barrier-all": collectives.BarrierAlls.Names(),
		"broadcast":   collectives.Broadcasts.Names(),
		"fcollect":    collectives.Fcollects.Names(),
		"collect":     collectives.Collects.Names(),
	}
	for _, family := range collectives.Families() {
		for _, name := range families[family] {
			elapsed, err := selfTest(*npes, heap, *rounds, family, name)
			if err != nil {
				essentials.Die(fmt.Sprintf("%s/%s: %v", family, name, err))
			}
			fmt.Printf("%-12s %-10s OK  %v per round\n", family, name, elapsed/time.Duration(*rounds))
		}
	}
	elapsed, err := selfTest(*npes, heap, *rounds, "reduce", "")
	if err != nil {
		essentials.Die(fmt.Sprintf("reduce: %v", err))
	}
	fmt.Printf("%-12s %-10s OK  %v per round\n", "reduce", "sum", elapsed/time.Duration(*rounds))
}

// selfTest runs one collective variant on a fresh in-process world and
// checks the result after every round.
func selfTest(npes int, heap uint64, rounds int, family, name string) (time.Duration, error) {
	opts := []pgas.Option{
		pgas.WithHeapSize(heap),
		pgas.WithDebugChecks(true),
		pgas.WithStatics(pgas.Var{Name: "psync", Size: pgas.CollectSyncSize * 8}),
	}
	if name != "" {
		opts = append(opts, pgas.WithModule(family, name))
	}
	world, err := pgas.NewLocalWorld(npes, opts...)
	if err != nil {
		return 0, err
	}

	errs := make([]error, npes)
	start := time.Now()
	var wg sync.WaitGroup
	for pe, c := range world {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[pe] = runPE(c, rounds, family)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	for pe, err := range errs {
		if err != nil {
			return 0, fmt.Errorf("PE %d: %w", pe, err)
		}
	}
	return elapsed, nil
}

func runPE(c *pgas.Context, rounds int, family string) error {
	n := c.NumPEs()
	set := pgas.World(n)
	pSync, err := c.Static("psync")
	if err != nil {
		return err
	}
	buf, err := c.Malloc(8)
	if err != nil {
		return err
	}
	dst, err := c.Malloc(uint64(8 * n))
	if err != nil {
		return err
	}
	wrk, err := c.Malloc(uint64(pgas.WrkSize(1)) * 8)
	if err != nil {
		return err
	}
	src, err := pgas.View[int64](c, buf, 1)
	if err != nil {
		return err
	}
	out, err := pgas.View[int64](c, dst, n)
	if err != nil {
		return err
	}

	for r := 0; r < rounds; r++ {
		src[0] = int64(r*n + c.MyPE())
		switch family {
		case "barrier":
			err = c.Barrier(set, pSync)
		case "barrier-all":
			err = c.BarrierAll()
		case "broadcast":
			root := r % n
			if err = c.Broadcast64(dst, buf, 1, root, set, pSync); err == nil && c.MyPE() != root && out[0] != int64(r*n+root) {
				err = fmt.Errorf("round %d: broadcast delivered %d", r, out[0])
			}
		case "fcollect":
			if err = c.Fcollect64(dst, buf, 1, set, pSync); err == nil {
				for pe, v := range out {
					if v != int64(r*n+pe) {
						err = fmt.Errorf("round %d: fcollect slot %d = %d", r, pe, v)
					}
				}
			}
		case "collect":
			if err = c.Collect64(dst, buf, 1, set, pSync); err == nil && out[n-1] != int64(r*n+n-1) {
				err = fmt.Errorf("round %d: collect tail = %d", r, out[n-1])
			}
		case "reduce":
			if err = pgas.SumToAll[int64](c, dst, buf, 1, set, wrk, pSync); err == nil && out[0] != int64(r*n*n+n*(n-1)/2) {
				err = fmt.Errorf("round %d: sum = %d", r, out[0])
			}
		}
		if err != nil {
			return err
		}
		// Results are checked before peers may overwrite them.
		if err := c.BarrierAll(); err != nil {
			return err
		}
	}
	return c.Finalize()
}
