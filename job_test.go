//go:build linux

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

package pgas

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/markrussinovich/go-pgas/internal/config"
)

const helperEnv = "PGAS_TEST_HELPER_PE"

func TestMain(m *testing.M) {
	// Check if this is a helper process
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runJobPE())
	}
	os.Exit(m.Run())
}

var jobStatics = []Var{{Name: "psync", Size: ReduceSyncSize * 8}}

// jobBody is what every PE of the cross-process job runs: a sum reduction
// of rank+1 and a probe of every peer.
func jobBody(c *Context) error {
	pSync, err := c.Static("psync")
	if err != nil {
		return err
	}
	buf, err := c.Malloc(8)
	if err != nil {
		return err
	}
	wrk, err := c.Malloc(uint64(WrkSize(1)) * 8)
	if err != nil {
		return err
	}
	v, err := View[int64](c, buf, 1)
	if err != nil {
		return err
	}
	v[0] = int64(c.MyPE() + 1)
	if err := SumToAll[int64](c, buf, buf, 1, World(c.NumPEs()), wrk, pSync); err != nil {
		return err
	}
	if want := int64(c.NumPEs() * (c.NumPEs() + 1) / 2); v[0] != want {
		return fmt.Errorf("PE %d: sum = %d, want %d", c.MyPE(), v[0], want)
	}
	for pe := range c.NumPEs() {
		if !c.PEAccessible(pe) {
			return fmt.Errorf("PE %d: PE %d is not accessible", c.MyPE(), pe)
		}
	}
	return c.Finalize()
}

func runJobPE() int {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "helper PE: %v\n", err)
		return 1
	}
	c, err := Init(context.Background(), cfg, jobStatics...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "PE %d: init: %v\n", cfg.Rank, err)
		return 1
	}
	if err := jobBody(c); err != nil {
		fmt.Fprintln(os.Stderr, err)
		c.Abort(err)
		return 1
	}
	return 0
}

func TestCrossProcessJob(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns helper processes")
	}
	for _, healthDir := range []string{"", t.TempDir()} {
		name := "status-check"
		if healthDir != "" {
			name = "health-check"
		}
		t.Run(name, func(t *testing.T) {
			const npes = 3
			job := fmt.Sprintf("xjob-%d", time.Now().UnixNano())
			env := map[string]string{
				config.EnvJob:          job,
				config.EnvNumPEs:       strconv.Itoa(npes),
				config.EnvHeapSize:     "1M",
				config.EnvSetupTimeout: "10s",
				config.EnvHealthDir:    healthDir,
			}

			var cmds []*exec.Cmd
			for pe := 1; pe < npes; pe++ {
				cmd := exec.Command(os.Args[0], "-test.run=^$")
				cmd.Env = append(os.Environ(), helperEnv+"=1", config.EnvRank+"="+strconv.Itoa(pe))
				for k, v := range env {
					cmd.Env = append(cmd.Env, k+"="+v)
				}
				cmd.Stderr = os.Stderr
				if err := cmd.Start(); err != nil {
					t.Fatalf("Failed to start PE %d: %v", pe, err)
				}
				cmds = append(cmds, cmd)
			}
			defer func() {
				for _, cmd := range cmds {
					cmd.Process.Kill()
					cmd.Wait()
				}
			}()

			env[config.EnvRank] = "0"
			cfg, err := config.FromLookup(func(k string) (string, bool) {
				v, ok := env[k]
				return v, ok
			})
			if err != nil {
				t.Fatal(err)
			}
			c, err := Init(context.Background(), cfg, jobStatics...)
			if err != nil {
				t.Fatalf("Init() = %v", err)
			}
			if err := jobBody(c); err != nil {
				c.Abort(err)
				t.Fatal(err)
			}

			for i, cmd := range cmds {
				if err := cmd.Wait(); err != nil {
					t.Errorf("PE %d exited with %v", i+1, err)
				}
			}
			cmds = nil
		})
	}
}
