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
	"time"
)

// handshakePoll is the interval at which setup waits re-check shared state.
const handshakePoll = time.Millisecond

// WaitReady waits for the owner of s to mark the segment as initialised.
func (s *Segment) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(handshakePoll)
	defer ticker.Stop()

	for {
		if s.H.Ready() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForSegment opens PE pe's segment in job, waiting for the file to
// appear and for its owner to mark it ready. Segments left behind by a
// previous run are retried until the owner replaces them or ctx expires.
func WaitForSegment(ctx context.Context, job string, pe int) (*Segment, error) {
	ticker := time.NewTicker(handshakePoll)
	defer ticker.Stop()

	var lastErr error
	for {
		seg, err := OpenSegment(job, pe)
		if err == nil && !processAlive(seg.H.PID()) {
			seg.Close()
			seg, err = nil, fmt.Errorf("%w: owner of PE %d segment has exited", ErrInvalidSegment, pe)
		}
		switch {
		case err == nil:
			if err := seg.WaitReady(ctx); err != nil {
				seg.Close()
				return nil, err
			}
			return seg, nil
		case errors.Is(err, ErrUnsupported):
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}
