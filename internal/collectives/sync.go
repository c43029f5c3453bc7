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
	"fmt"
	"runtime"
	"time"

	"github.com/markrussinovich/go-pgas/internal/activeset"
	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// Sync array sizes, in 8-byte words, and the sentinel every slot holds
// between calls.
const (
	SyncValue            = 0
	BarrierSyncSize      = 2
	BcastSyncSize        = 2
	ReduceSyncSize       = 2
	CollectSyncSize      = 3
	ReduceMinWrkdataSize = 16
)

// SlotSize is the size of one sync slot in bytes.
const SlotSize = 8

// Tree handshake states. Ready and go are written to slot 0; release is
// written to slot 1 and must exceed any child count.
const (
	stateReady   = SyncValue + 1
	stateGo      = SyncValue + 2
	stateRelease = SyncValue + 3
)

var (
	// ErrSyncNotReset is returned by debug checks when a sync array was not
	// restored to SyncValue before reuse.
	ErrSyncNotReset = errors.New("collectives: sync array not reset")
	// ErrBadArgument is returned for malformed collective arguments.
	ErrBadArgument = errors.New("collectives: bad argument")
)

// Backoff policy for busy-polling a slot: spin, then yield the processor,
// then sleep with exponentially growing, capped intervals.
const (
	spinPolls  = 32
	yieldPolls = 256
	minSleep   = time.Microsecond
	maxSleep   = 200 * time.Microsecond
)

type backoff struct {
	polls int
	sleep time.Duration
}

func (b *backoff) wait() {
	b.polls++
	switch {
	case b.polls <= spinPolls:
	case b.polls <= spinPolls+yieldPolls:
		runtime.Gosched()
	default:
		if b.sleep == 0 {
			b.sleep = minSleep
		}
		time.Sleep(b.sleep)
		if b.sleep < maxSleep {
			b.sleep *= 2
		}
	}
}

func (e *Engine) slot(pSync symmetric.Addr, i, pe int) (symmetric.Remote, error) {
	return e.space.ResolveWrite(pSync.Add(uint64(i)*SlotSize), SlotSize, pe)
}

func (e *Engine) loadSlot(pSync symmetric.Addr, i, pe int) (uint64, error) {
	r, err := e.slot(pSync, i, pe)
	if err != nil {
		return 0, err
	}
	return e.comms.Load64(r)
}

func (e *Engine) storeSlot(pSync symmetric.Addr, i, pe int, v uint64) error {
	r, err := e.slot(pSync, i, pe)
	if err != nil {
		return err
	}
	return e.comms.Store64(r, v)
}

func (e *Engine) addSlot(pSync symmetric.Addr, i, pe int, delta uint64) error {
	r, err := e.slot(pSync, i, pe)
	if err != nil {
		return err
	}
	_, err = e.comms.FetchAdd64(r, delta)
	return err
}

// waitSlot polls slot i of pSync on pe until done accepts its value and
// returns that value. There is no timeout.
func (e *Engine) waitSlot(pSync symmetric.Addr, i, pe int, done func(uint64) bool) (uint64, error) {
	r, err := e.slot(pSync, i, pe)
	if err != nil {
		return 0, err
	}
	var b backoff
	for {
		v, err := e.comms.Load64(r)
		if err != nil {
			return 0, err
		}
		if done(v) {
			return v, nil
		}
		b.wait()
	}
}

func equals(want uint64) func(uint64) bool {
	return func(v uint64) bool { return v == want }
}

// enter validates the arguments every collective shares and returns the
// caller's virtual rank. Membership is always checked; sync slot values
// only with debug checks on.
func (e *Engine) enter(name string, set activeset.ActiveSet, pSync symmetric.Addr, slots int) (int, error) {
	if err := set.Validate(e.comms.NumPEs()); err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	me := e.comms.MyPE()
	v, ok := set.VirtualRank(me)
	if !ok {
		return 0, fmt.Errorf("%s: PE %d: %w %v", name, me, activeset.ErrNotMember, set)
	}
	if _, err := e.space.ResolveWrite(pSync, uint64(slots)*SlotSize, me); err != nil {
		return 0, fmt.Errorf("%s: pSync: %w", name, err)
	}
	if e.debug {
		if err := e.checkSync(name, set, pSync, slots); err != nil {
			return 0, err
		}
	}
	if logger.V(2) {
		logger.Infof("PE %d enters %s over %v", me, name, set)
	}
	return v, nil
}

// checkSync verifies that the local slots hold values a correctly reset
// array can hold at entry: the sentinel plus at most the arrivals peers
// may already have added.
func (e *Engine) checkSync(name string, set activeset.ActiveSet, pSync symmetric.Addr, slots int) error {
	limit := uint64(max(set.Size, 2))
	// Slot 2 of collect carries an offset, not a counter.
	slots = min(slots, 2)
	for i := 0; i < slots; i++ {
		v, err := e.loadSlot(pSync, i, e.comms.MyPE())
		if err != nil {
			return err
		}
		if v-SyncValue > limit {
			return fmt.Errorf("%s: %w: pSync[%d] = %d on PE %d", name, ErrSyncNotReset, i, int64(v), e.comms.MyPE())
		}
	}
	return nil
}
