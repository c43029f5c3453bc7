//go:build linux && (amd64 || arm64)

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
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func init() {
	// Set platform-specific function implementations
	unmapMemory = munmapImpl
}

// CreateSegment creates and maps the segment of PE pe in job. The header is
// initialised but not marked ready; the caller publishes readiness once the
// static image is in place.
func CreateSegment(job string, pe, npes int, staticSize, heapCap, heapPad uint64) (*Segment, error) {
	path := generateSegmentPath(job, pe)

	totalSize, layout, err := CalculateSegmentLayout(staticSize, heapCap, heapPad)
	if err != nil {
		return nil, fmt.Errorf("layout calculation failed: %w", err)
	}

	// Create the file with exclusive access
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if err := file.Truncate(int64(totalSize)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(file, int(totalSize))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	segment := &Segment{
		File: file,
		Mem:  mem,
		Path: path,
		H:    (*SegmentHeader)(unsafe.Pointer(&mem[0])),
	}
	segment.H.init(pe, npes, totalSize, layout)
	return segment, nil
}

// OpenSegment maps an existing segment of PE pe in job and validates its
// header.
func OpenSegment(job string, pe int) (*Segment, error) {
	path := generateSegmentPath(job, pe)

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}

	size := info.Size()
	if size < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("%w: segment file too small: %d bytes", ErrInvalidSegment, size)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	hdr := (*SegmentHeader)(unsafe.Pointer(&mem[0]))
	if err := ValidateSegmentHeader(hdr, uint64(size)); err != nil {
		munmapImpl(mem)
		file.Close()
		return nil, fmt.Errorf("invalid segment header in %s: %w", path, err)
	}
	if hdr.PE() != pe {
		munmapImpl(mem)
		file.Close()
		return nil, fmt.Errorf("%w: %s belongs to PE %d", ErrInvalidSegment, path, hdr.PE())
	}

	return &Segment{File: file, Mem: mem, H: hdr, Path: path}, nil
}

// generateSegmentPath generates the file path for a shared memory segment
func generateSegmentPath(job string, pe int) string {
	paths := segmentPaths(job, pe)
	if isDevShmAvailable() {
		return paths[0]
	}
	return paths[1]
}

// isDevShmAvailable checks if /dev/shm is available
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// mmapFile memory maps a file
func mmapFile(file *os.File, size int) ([]byte, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return data, nil
}

// munmapImpl unmaps a memory-mapped region
func munmapImpl(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}

// processAlive reports whether pid names a live process.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
