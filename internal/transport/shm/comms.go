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

package shm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/grpclog"

	"github.com/markrussinovich/go-pgas/internal/symmetric"
	"github.com/markrussinovich/go-pgas/internal/transport"
)

var logger = grpclog.Component("pgas")

const (
	// barrierSpin is the number of yields before BarrierAll blocks.
	barrierSpin = 64
	// barrierWait bounds each futex sleep so ctx is re-checked.
	barrierWait = 5 * time.Millisecond
	// pollInterval is used where futexes are unavailable.
	pollInterval = 50 * time.Microsecond
)

// Comms implements transport.Comms over shared memory segments. Every PE's
// segment is mapped into every PE, so one-sided operations are plain
// copies and atomic instructions on the mapping.
type Comms struct {
	me   int
	job  string
	segs []*Segment

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Comms = (*Comms)(nil)

// NewLocalWorld creates npes PEs that live in this process, one Comms per
// PE. heapPad, if non-nil, returns the heap padding of each PE.
func NewLocalWorld(npes int, staticSize, heapCap uint64, heapPad func(pe int) uint64) ([]*Comms, error) {
	if npes <= 0 {
		return nil, fmt.Errorf("shm: world of %d PEs", npes)
	}
	segs := make([]*Segment, npes)
	for pe := range segs {
		var pad uint64
		if heapPad != nil {
			pad = heapPad(pe)
		}
		seg, err := NewAnonymousSegment(pe, npes, staticSize, heapCap, pad)
		if err != nil {
			return nil, fmt.Errorf("PE %d: %w", pe, err)
		}
		segs[pe] = seg
	}
	world := make([]*Comms, npes)
	for pe := range world {
		world[pe] = &Comms{me: pe, segs: segs}
	}
	return world, nil
}

// JoinOptions describes this PE's place in a multi-process job.
type JoinOptions struct {
	Job        string
	PE         int
	NumPEs     int
	StaticSize uint64
	HeapCap    uint64
	HeapPad    uint64
	// Image, if set, initialises the static region of this PE's segment.
	// It runs before the segment is marked ready, so peers never observe
	// an unwritten image.
	Image func(static []byte)
}

// Join creates this PE's segment in shared memory and maps every peer's,
// waiting until ctx expires for peers to appear.
func Join(ctx context.Context, o JoinOptions) (*Comms, error) {
	if o.NumPEs <= 0 || o.PE < 0 || o.PE >= o.NumPEs {
		return nil, fmt.Errorf("shm: PE %d of %d", o.PE, o.NumPEs)
	}
	if SegmentExists(o.Job, o.PE) {
		if err := RemoveSegment(o.Job, o.PE); err == nil {
			logger.Warningf("removed stale segment of PE %d in job %q", o.PE, o.Job)
		}
	}
	own, err := CreateSegment(o.Job, o.PE, o.NumPEs, o.StaticSize, o.HeapCap, o.HeapPad)
	if err != nil {
		return nil, err
	}
	if o.Image != nil {
		l := own.Layout()
		o.Image(own.Mem[l.StaticOff : l.StaticOff+l.StaticSize])
	}
	own.H.SetReady(true)

	c := &Comms{me: o.PE, job: o.Job, segs: make([]*Segment, o.NumPEs)}
	c.segs[o.PE] = own
	for pe := range c.segs {
		if pe == o.PE {
			continue
		}
		seg, err := WaitForSegment(ctx, o.Job, pe)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("waiting for PE %d: %w", pe, err)
		}
		c.segs[pe] = seg
		if seg.H.NumPEs() != o.NumPEs {
			c.Close()
			return nil, fmt.Errorf("%w: PE %d expects %d PEs, PE %d expects %d",
				ErrInvalidSegment, pe, seg.H.NumPEs(), o.PE, o.NumPEs)
		}
	}
	logger.Infof("PE %d joined job %q with %d PEs", o.PE, o.Job, o.NumPEs)
	return c, nil
}

// MyPE returns the calling PE's rank.
func (c *Comms) MyPE() int { return c.me }

// NumPEs returns the number of PEs.
func (c *Comms) NumPEs() int { return len(c.segs) }

// Segment returns PE pe's mapping and layout.
func (c *Comms) Segment(pe int) ([]byte, symmetric.Layout) {
	s := c.segs[pe]
	return s.Mem, s.Layout()
}

func (c *Comms) seg(pe int) (*Segment, error) {
	if pe < 0 || pe >= len(c.segs) || c.segs[pe] == nil {
		return nil, fmt.Errorf("shm: PE %d outside [0, %d)", pe, len(c.segs))
	}
	return c.segs[pe], nil
}

func (c *Comms) span(r symmetric.Remote, n int) ([]byte, error) {
	s, err := c.seg(r.PE)
	if err != nil {
		return nil, err
	}
	end := r.Off + uint64(n)
	if end < r.Off || end > uint64(len(s.Mem)) {
		return nil, fmt.Errorf("shm: %d bytes at %#x overrun PE %d's segment", n, r.Off, r.PE)
	}
	return s.Mem[r.Off:end:end], nil
}

func (c *Comms) word(r symmetric.Remote) (*uint64, error) {
	s, err := c.seg(r.PE)
	if err != nil {
		return nil, err
	}
	return s.word(r.Off)
}

// Put copies src to dst.
func (c *Comms) Put(dst symmetric.Remote, src []byte) error {
	b, err := c.span(dst, len(src))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

// Get copies len(dst) bytes from src.
func (c *Comms) Get(dst []byte, src symmetric.Remote) error {
	b, err := c.span(src, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Load64 atomically reads the word at r.
func (c *Comms) Load64(r symmetric.Remote) (uint64, error) {
	w, err := c.word(r)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64(w), nil
}

// Store64 atomically writes the word at r.
func (c *Comms) Store64(r symmetric.Remote, v uint64) error {
	w, err := c.word(r)
	if err != nil {
		return err
	}
	atomic.StoreUint64(w, v)
	return nil
}

// FetchAdd64 atomically adds delta to the word at r.
func (c *Comms) FetchAdd64(r symmetric.Remote, delta uint64) (uint64, error) {
	w, err := c.word(r)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint64(w, delta) - delta, nil
}

// Swap64 atomically replaces the word at r.
func (c *Comms) Swap64(r symmetric.Remote, v uint64) (uint64, error) {
	w, err := c.word(r)
	if err != nil {
		return 0, err
	}
	return atomic.SwapUint64(w, v), nil
}

// CompareAndSwap64 atomically replaces old with v at r.
func (c *Comms) CompareAndSwap64(r symmetric.Remote, old, v uint64) (bool, error) {
	w, err := c.word(r)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint64(w, old, v), nil
}

// Fence orders puts. Puts are synchronous stores, so the atomic add on the
// header's fence counter serves as the full memory barrier; the count is
// exposed through FenceSequence for diagnostics.
func (c *Comms) Fence() error {
	atomic.AddUint64(&c.segs[c.me].H.fenceSeq, 1)
	return nil
}

// Quiet is a full memory barrier taken the same way as Fence; every put has
// completed when it returns.
func (c *Comms) Quiet() error {
	atomic.AddUint64(&c.segs[c.me].H.fenceSeq, 1)
	return nil
}

// BarrierAll is a sense-reversing counter barrier on PE 0's header. Waiters
// spin briefly and then sleep on the generation word.
func (c *Comms) BarrierAll(ctx context.Context) error {
	h := c.segs[0].H
	gen := atomic.LoadUint32(&h.barrierGen)
	if atomic.AddUint32(&h.barrierCount, 1) == uint32(len(c.segs)) {
		atomic.StoreUint32(&h.barrierCount, 0)
		atomic.AddUint32(&h.barrierGen, 1)
		if _, err := futexWake(&h.barrierGen, math.MaxInt32); err != nil && !errors.Is(err, ErrUnsupported) {
			logger.Warningf("barrier-all wake: %v", err)
		}
		return nil
	}
	for i := 0; atomic.LoadUint32(&h.barrierGen) == gen; i++ {
		if i < barrierSpin {
			runtime.Gosched()
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("barrier-all on PE %d: %w", c.me, err)
		}
		switch err := futexWaitTimeout(&h.barrierGen, gen, int64(barrierWait)); {
		case err == nil, errors.Is(err, ErrFutexTimeout):
		case errors.Is(err, ErrUnsupported):
			time.Sleep(pollInterval)
		default:
			return fmt.Errorf("barrier-all on PE %d: %w", c.me, err)
		}
	}
	return nil
}

// Status reads PE pe's published state.
func (c *Comms) Status(pe int) transport.Status {
	s, err := c.seg(pe)
	if err != nil {
		return transport.StatusUninitialized
	}
	return transport.Status(s.H.Status())
}

// SetStatus publishes this PE's state.
func (c *Comms) SetStatus(st transport.Status) {
	c.segs[c.me].H.SetStatus(uint32(st))
	if logger.V(2) {
		logger.Infof("PE %d is %v", c.me, st)
	}
}

// Probe waits until PE pe reports running and its process is alive.
func (c *Comms) Probe(ctx context.Context, pe int) bool {
	s, err := c.seg(pe)
	if err != nil {
		return false
	}
	ticker := time.NewTicker(handshakePoll)
	defer ticker.Stop()
	for {
		switch transport.Status(s.H.Status()) {
		case transport.StatusRunning:
			return s.H.PID() == os.Getpid() || processAlive(s.H.PID())
		case transport.StatusShutDown, transport.StatusFailed:
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Close unmaps file-backed segments and removes this PE's file. Anonymous
// segments are shared by the whole local world and are left to the garbage
// collector.
func (c *Comms) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for pe, s := range c.segs {
			if s == nil || s.File == nil {
				continue
			}
			path := s.Path
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("PE %d segment: %w", pe, err))
			}
			if pe == c.me {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					errs = append(errs, err)
				}
			}
		}
		c.closeErr = errors.Join(errs...)
		if c.closeErr != nil {
			logger.Errorf("closing PE %d: %v", c.me, c.closeErr)
		}
	})
	return c.closeErr
}
