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
	"testing"
	"time"
)

// testJob returns a job name unique to the running test.
func testJob(t *testing.T, base string) string {
	t.Helper()
	return fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
}

// createTestSegment creates PE pe's segment in a fresh job and registers
// cleanup with t.Cleanup so the file is removed even if the test fails.
func createTestSegment(t *testing.T, job string, pe, npes int, staticSize, heapCap, heapPad uint64) *Segment {
	t.Helper()

	// Ensure any existing segment is removed first
	RemoveSegment(job, pe)

	seg, err := CreateSegment(job, pe, npes, staticSize, heapCap, heapPad)
	if err != nil {
		t.Fatalf("Failed to create test segment %s/%d: %v", job, pe, err)
	}

	t.Cleanup(func() {
		seg.Close()
		RemoveSegment(job, pe)
	})

	return seg
}

// isLinuxPlatform returns true if file-backed segments are supported here.
func isLinuxPlatform() bool {
	const job = "__test_platform_check__"
	segment, err := CreateSegment(job, 0, 1, 0, 4096, 0)
	if err != nil {
		return false
	}
	segment.Close()
	RemoveSegment(job, 0)
	return true
}

// localWorld builds an in-process world and fails the test on error.
func localWorld(t *testing.T, npes int) []*Comms {
	t.Helper()
	world, err := NewLocalWorld(npes, 256, 4096, func(pe int) uint64 { return uint64(pe) * 64 })
	if err != nil {
		t.Fatalf("NewLocalWorld(%d): %v", npes, err)
	}
	return world
}
