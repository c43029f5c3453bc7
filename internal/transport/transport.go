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

// Package transport defines the one-sided communication layer the
// collectives are built on.
package transport

import (
	"context"

	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// Status is the lifecycle state a PE publishes in its segment.
type Status uint32

const (
	// StatusUninitialized is the state of a segment that is still being set up.
	StatusUninitialized Status = iota
	// StatusRunning means the PE passed the setup barrier.
	StatusRunning
	// StatusShutDown means the PE finalized cleanly.
	StatusShutDown
	// StatusFailed means the PE aborted.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusRunning:
		return "running"
	case StatusShutDown:
		return "shut down"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Comms performs one-sided operations against resolved locations. All
// methods are called by the owning PE only; a Comms is not shared between
// PEs.
type Comms interface {
	// MyPE returns the calling PE's rank.
	MyPE() int
	// NumPEs returns the number of PEs in the job.
	NumPEs() int
	// Segment returns PE pe's segment as mapped in this process together
	// with its region layout.
	Segment(pe int) ([]byte, symmetric.Layout)

	// Put copies src to dst.
	Put(dst symmetric.Remote, src []byte) error
	// Get copies len(dst) bytes from src.
	Get(dst []byte, src symmetric.Remote) error

	// Load64 atomically reads the 8-byte word at r.
	Load64(r symmetric.Remote) (uint64, error)
	// Store64 atomically writes the 8-byte word at r.
	Store64(r symmetric.Remote, v uint64) error
	// FetchAdd64 atomically adds delta to the word at r and returns the old value.
	FetchAdd64(r symmetric.Remote, delta uint64) (uint64, error)
	// Swap64 atomically replaces the word at r and returns the old value.
	Swap64(r symmetric.Remote, v uint64) (uint64, error)
	// CompareAndSwap64 atomically replaces old with v at r.
	CompareAndSwap64(r symmetric.Remote, old, v uint64) (bool, error)

	// Fence orders prior puts to each PE before later puts to that PE.
	Fence() error
	// Quiet waits until all prior one-sided operations are visible.
	Quiet() error
	// BarrierAll blocks until every PE in the job has called it.
	BarrierAll(ctx context.Context) error

	// Status reads the lifecycle state PE pe has published.
	Status(pe int) Status
	// SetStatus publishes the calling PE's lifecycle state.
	SetStatus(s Status)
	// Probe reports whether PE pe is reachable before ctx expires.
	Probe(ctx context.Context, pe int) bool

	// Close unmaps every segment and removes the ones this PE created.
	Close() error
}
