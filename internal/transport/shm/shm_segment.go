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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"unsafe"

	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// Memory layout constants
const (
	// Magic bytes for segment identification
	SegmentMagic = "PGASSHM\x00"

	// Current layout version
	SegmentVersion = uint32(1)

	// Segment header size (aligned to 128 bytes)
	SegmentHeaderSize = 128

	// StaticAlign is the alignment of the static region and of heap padding.
	StaticAlign = 64

	// HeapAlign is the alignment of the heap base before padding.
	HeapAlign = 4096
)

var (
	// ErrInvalidSegment is returned when a segment header fails validation.
	ErrInvalidSegment = errors.New("shm: invalid segment")
	// ErrUnsupported is returned for operations this platform cannot perform.
	ErrUnsupported = errors.New("shm: not supported on this platform")
)

// Platform-specific functions (implemented in platform-specific files)
var (
	// unmapMemory unmaps a memory-mapped region
	unmapMemory func([]byte) error
)

// SegmentHeader is the first 128 bytes of every PE segment.
type SegmentHeader struct {
	magic        [8]byte  // 0x00: "PGASSHM\0"
	version      uint32   // 0x08: layout version
	status       uint32   // 0x0C: transport.Status of the owner
	totalSize    uint64   // 0x10: total segment size
	staticOff    uint64   // 0x18: offset of the static region
	staticSize   uint64   // 0x20: static region size
	heapOff      uint64   // 0x28: offset of the heap
	heapCap      uint64   // 0x30: heap capacity
	pe           uint32   // 0x38: owner rank
	npes         uint32   // 0x3C: job size
	pid          uint32   // 0x40: owner process ID
	ready        uint32   // 0x44: set once the segment is initialised
	barrierCount uint32   // 0x48: barrier-all arrivals (PE 0 only)
	barrierGen   uint32   // 0x4C: barrier-all generation, futex word (PE 0 only)
	fenceSeq     uint64   // 0x50: completed fence/quiet operations
	reserved     [40]byte // 0x58-0x7F: reserved/padding to 128B
}

// Magic returns the magic bytes
func (h *SegmentHeader) Magic() [8]byte { return h.magic }

// Version returns the layout version
func (h *SegmentHeader) Version() uint32 { return atomic.LoadUint32(&h.version) }

// Status returns the owner's lifecycle state
func (h *SegmentHeader) Status() uint32 { return atomic.LoadUint32(&h.status) }

// SetStatus publishes the owner's lifecycle state
func (h *SegmentHeader) SetStatus(s uint32) { atomic.StoreUint32(&h.status, s) }

// TotalSize returns the total segment size
func (h *SegmentHeader) TotalSize() uint64 { return atomic.LoadUint64(&h.totalSize) }

// PE returns the owner rank
func (h *SegmentHeader) PE() int { return int(atomic.LoadUint32(&h.pe)) }

// NumPEs returns the job size recorded by the owner
func (h *SegmentHeader) NumPEs() int { return int(atomic.LoadUint32(&h.npes)) }

// PID returns the owner process ID
func (h *SegmentHeader) PID() int { return int(atomic.LoadUint32(&h.pid)) }

// Ready reports whether the owner finished initialising the segment
func (h *SegmentHeader) Ready() bool { return atomic.LoadUint32(&h.ready) != 0 }

// SetReady sets the ready flag
func (h *SegmentHeader) SetReady(ready bool) {
	var val uint32
	if ready {
		val = 1
	}
	atomic.StoreUint32(&h.ready, val)
}

// FenceSequence returns the number of completed fence/quiet operations
func (h *SegmentHeader) FenceSequence() uint64 { return atomic.LoadUint64(&h.fenceSeq) }

// Layout returns the region layout recorded in the header.
func (h *SegmentHeader) Layout() symmetric.Layout {
	return symmetric.Layout{
		StaticOff:  atomic.LoadUint64(&h.staticOff),
		StaticSize: atomic.LoadUint64(&h.staticSize),
		HeapOff:    atomic.LoadUint64(&h.heapOff),
		HeapCap:    atomic.LoadUint64(&h.heapCap),
	}
}

func (h *SegmentHeader) init(pe, npes int, total uint64, l symmetric.Layout) {
	copy(h.magic[:], SegmentMagic)
	atomic.StoreUint32(&h.version, SegmentVersion)
	atomic.StoreUint64(&h.totalSize, total)
	atomic.StoreUint64(&h.staticOff, l.StaticOff)
	atomic.StoreUint64(&h.staticSize, l.StaticSize)
	atomic.StoreUint64(&h.heapOff, l.HeapOff)
	atomic.StoreUint64(&h.heapCap, l.HeapCap)
	atomic.StoreUint32(&h.pe, uint32(pe))
	atomic.StoreUint32(&h.npes, uint32(npes))
	atomic.StoreUint32(&h.pid, uint32(os.Getpid()))
}

// CalculateSegmentLayout places the static region after the header and the
// heap after the static region. heapPad shifts the heap base so that bases
// can differ between PEs.
func CalculateSegmentLayout(staticSize, heapCap, heapPad uint64) (totalSize uint64, l symmetric.Layout, err error) {
	if heapCap == 0 {
		return 0, l, fmt.Errorf("heap capacity must be non-zero")
	}
	const limit = 1 << 48
	if staticSize > limit || heapCap > limit || heapPad > limit {
		return 0, l, fmt.Errorf("segment of %d+%d+%d bytes is too large", staticSize, heapCap, heapPad)
	}
	l.StaticOff = alignUp(SegmentHeaderSize, StaticAlign)
	l.StaticSize = alignUp(staticSize, StaticAlign)
	l.HeapOff = alignUp(l.StaticOff+l.StaticSize, HeapAlign) + alignUp(heapPad, StaticAlign)
	l.HeapCap = heapCap
	totalSize = alignUp(l.HeapOff+l.HeapCap, HeapAlign)
	return totalSize, l, nil
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// ValidateSegmentHeader checks a header against the size of its mapping.
func ValidateSegmentHeader(h *SegmentHeader, mapped uint64) error {
	if string(h.magic[:]) != SegmentMagic {
		return fmt.Errorf("%w: bad magic bytes", ErrInvalidSegment)
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("%w: unsupported version %d, expected %d", ErrInvalidSegment, h.Version(), SegmentVersion)
	}
	l := h.Layout()
	if l.StaticOff != alignUp(SegmentHeaderSize, StaticAlign) || l.StaticSize%StaticAlign != 0 {
		return fmt.Errorf("%w: static region %#x+%d", ErrInvalidSegment, l.StaticOff, l.StaticSize)
	}
	base := alignUp(l.StaticOff+l.StaticSize, HeapAlign)
	if l.HeapOff < base || (l.HeapOff-base)%StaticAlign != 0 {
		return fmt.Errorf("%w: heap offset %#x", ErrInvalidSegment, l.HeapOff)
	}
	if want := alignUp(l.HeapOff+l.HeapCap, HeapAlign); h.TotalSize() != want {
		return fmt.Errorf("%w: total size mismatch: got %d, expected %d", ErrInvalidSegment, h.TotalSize(), want)
	}
	if h.TotalSize() > mapped {
		return fmt.Errorf("%w: header claims %d bytes, %d mapped", ErrInvalidSegment, h.TotalSize(), mapped)
	}
	if h.PE() >= h.NumPEs() {
		return fmt.Errorf("%w: PE %d of %d", ErrInvalidSegment, h.PE(), h.NumPEs())
	}
	return nil
}

// Segment is one PE's mapped region.
type Segment struct {
	File *os.File      // File descriptor; nil for anonymous segments
	Mem  []byte        // Mapped region
	H    *SegmentHeader // Typed view of the header
	Path string        // File path; empty for anonymous segments

	backing []uint64 // keeps anonymous memory 8-byte aligned
}

// NewAnonymousSegment allocates a segment in Go memory for a PE that lives
// in this process.
func NewAnonymousSegment(pe, npes int, staticSize, heapCap, heapPad uint64) (*Segment, error) {
	total, l, err := CalculateSegmentLayout(staticSize, heapCap, heapPad)
	if err != nil {
		return nil, fmt.Errorf("layout calculation failed: %w", err)
	}
	backing := make([]uint64, total/8)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(backing))), total)
	seg := &Segment{Mem: mem, H: (*SegmentHeader)(unsafe.Pointer(&mem[0])), backing: backing}
	seg.H.init(pe, npes, total, l)
	seg.H.SetReady(true)
	return seg, nil
}

// Layout returns the region layout of the segment.
func (s *Segment) Layout() symmetric.Layout {
	return s.H.Layout()
}

// word returns the 8-byte word at off, which must be aligned.
func (s *Segment) word(off uint64) (*uint64, error) {
	if off%8 != 0 || off+8 > uint64(len(s.Mem)) || off+8 < off {
		return nil, fmt.Errorf("shm: unaligned or out of range word at %#x", off)
	}
	return (*uint64)(unsafe.Pointer(&s.Mem[off])), nil
}

// Close unmaps the memory and closes the file
func (s *Segment) Close() error {
	var firstErr error

	if s.File != nil && s.Mem != nil {
		if err := unmapMemory(s.Mem); err != nil {
			firstErr = err
		}
	}
	s.Mem = nil
	s.H = nil
	s.backing = nil

	if s.File != nil {
		if err := s.File.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.File = nil
	}

	return firstErr
}

// segmentName returns the file name of PE pe's segment in job.
func segmentName(job string, pe int) string {
	return "pgas_" + job + "_" + strconv.Itoa(pe)
}

// segmentPaths lists the locations a segment may live at, preferred first.
func segmentPaths(job string, pe int) []string {
	name := segmentName(job, pe)
	return []string{
		filepath.Join("/dev/shm", name),
		filepath.Join(os.TempDir(), name),
	}
}

// RemoveSegment removes a shared memory segment file
func RemoveSegment(job string, pe int) error {
	var lastErr error
	for _, path := range segmentPaths(job, pe) {
		if err := os.Remove(path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return os.ErrNotExist
}

// SegmentExists checks if a shared memory segment exists
func SegmentExists(job string, pe int) bool {
	for _, path := range segmentPaths(job, pe) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
