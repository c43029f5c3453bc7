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
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux futex constants. The words live in memory shared between
// processes, so the private variants cannot be used.
const (
	FUTEX_WAIT = 0
	FUTEX_WAKE = 1
)

// futexWaitTimeout waits on addr until the value changes from val or timeout elapses.
// timeout is specified in nanoseconds. Returns ErrFutexTimeout if the wait times out.
//
// Always re-check the condition after this returns due to possible
// spurious wakeups.
func futexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	// Re-check before entering the syscall so a wake between the caller's
	// snapshot and the wait is not lost.
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	var tsp uintptr
	if timeoutNs > 0 {
		ts := unix.NsecToTimespec(timeoutNs)
		tsp = uintptr(unsafe.Pointer(&ts))
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr - address to wait on
		FUTEX_WAIT,                    // futex_op
		uintptr(val),                  // val - expected value
		tsp,                           // timeout - NULL waits forever
		0,                             // uaddr2 - unused
		0,                             // val3 - unused
	)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	case unix.ETIMEDOUT:
		return ErrFutexTimeout
	}
	return fmt.Errorf("futex wait failed: %w", errno)
}

// futexWake wakes up to n threads waiting on addr.
// Returns the number of threads actually woken up.
func futexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)), // uaddr - address to wake on
		FUTEX_WAKE,                    // futex_op
		uintptr(n),                    // val - number of threads to wake
		0, 0, 0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
