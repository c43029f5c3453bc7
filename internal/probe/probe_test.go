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

package probe

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestCheckLifecycle(t *testing.T) {
	dir := t.TempDir()
	s, err := Serve(dir, "job", 3)
	if err != nil {
		t.Fatalf("Serve() = %v", err)
	}
	stopped := false
	t.Cleanup(func() {
		if !stopped {
			s.Stop()
		}
	})

	check := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return Check(ctx, dir, "job", 3)
	}

	if check() {
		t.Error("Check() = true before the PE reported serving")
	}
	s.SetServing(true)
	if !check() {
		t.Error("Check() = false for a serving PE")
	}
	s.SetServing(false)
	if check() {
		t.Error("Check() = true after the PE stopped serving")
	}

	s.Stop()
	stopped = true
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Errorf("socket %s left behind: %v", s.Path(), err)
	}
	if check() {
		t.Error("Check() = true for a stopped PE")
	}
}

func TestCheckMissingPE(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if Check(ctx, t.TempDir(), "job", 0) {
		t.Error("Check() = true with no server")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Check() took %v, want bounded by its context", elapsed)
	}
}

func TestServeReplacesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(SocketPath(dir, "job", 0), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Serve(dir, "job", 0)
	if err != nil {
		t.Fatalf("Serve() over a stale socket = %v", err)
	}
	s.Stop()
}
