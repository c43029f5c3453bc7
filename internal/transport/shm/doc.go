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

// Package shm implements one-sided communication between PEs over shared
// memory.
//
// Every PE owns one segment: a 128-byte header, the static region holding
// the symmetric global variables, and the symmetric heap. Segments of a
// multi-process job are files under /dev/shm that every PE maps; PEs of an
// in-process world share anonymous Go memory. Once every segment is mapped,
// put and get are plain copies and the atomic operations are processor
// atomics on the mapping. PE 0's header also carries the counter and
// generation word of the job-wide barrier, which waiters sleep on with a
// futex.
package shm
