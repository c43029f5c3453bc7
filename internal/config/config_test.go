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

package config

import (
	"errors"
	"testing"
	"time"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestFromLookup(t *testing.T) {
	c, err := FromLookup(env(map[string]string{
		EnvJob:                "run42",
		EnvRank:               "3",
		EnvNumPEs:             "8",
		EnvHeapSize:           "2M",
		EnvDebug:              "true",
		EnvSetupTimeout:       "5s",
		"PGAS_COLL_BARRIER":   " Linear ",
		"PGAS_COLL_BROADCAST": "tree",
	}))
	if err != nil {
		t.Fatalf("FromLookup: %v", err)
	}
	if c.Job != "run42" || c.Rank != 3 || c.NumPEs != 8 {
		t.Errorf("identity = %s/%d/%d", c.Job, c.Rank, c.NumPEs)
	}
	if c.HeapSize != 2<<20 {
		t.Errorf("HeapSize = %d", c.HeapSize)
	}
	if !c.Debug || c.SetupTimeout != 5*time.Second || c.ProbeTimeout != DefaultProbeTimeout {
		t.Errorf("Debug/timeouts = %v/%v/%v", c.Debug, c.SetupTimeout, c.ProbeTimeout)
	}
	if c.Modules["barrier"] != "linear" || c.Modules["broadcast"] != "tree" {
		t.Errorf("Modules = %v", c.Modules)
	}
	if _, ok := c.Modules["collect"]; ok {
		t.Errorf("unset family has an override")
	}
}

func TestFromLookupDefaults(t *testing.T) {
	c, err := FromLookup(env(nil))
	if err != nil {
		t.Fatal(err)
	}
	if c.NumPEs != 1 || c.Rank != 0 || c.HeapSize != DefaultHeapSize {
		t.Errorf("defaults = %+v", c)
	}
}

func TestFromLookupErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"rank not a number", map[string]string{EnvRank: "one"}},
		{"rank out of range", map[string]string{EnvRank: "4", EnvNumPEs: "4"}},
		{"zero PEs", map[string]string{EnvNumPEs: "0"}},
		{"bad size", map[string]string{EnvHeapSize: "12X"}},
		{"zero size", map[string]string{EnvHeapSize: "0"}},
		{"bad debug", map[string]string{EnvDebug: "maybe"}},
		{"bad timeout", map[string]string{EnvProbeTimeout: "soon"}},
		{"negative timeout", map[string]string{EnvSetupTimeout: "-1s"}},
		{"bad job", map[string]string{EnvJob: "a/b"}},
		{"bad scheme", map[string]string{EnvJob: "tcp://host"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromLookup(env(tt.env)); !errors.Is(err, ErrInvalid) {
				t.Errorf("FromLookup = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"4096", 4096},
		{"1k", 1 << 10},
		{"64M", 64 << 20},
		{"3G", 3 << 30},
	}
	for _, tt := range tests {
		got, err := ParseSize(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseSize(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"", "M", "-1", "1.5G", "17179869184G"} {
		if _, err := ParseSize(bad); err == nil {
			t.Errorf("ParseSize(%q) succeeded", bad)
		}
	}
}

func TestParseJob(t *testing.T) {
	tests := []struct {
		raw  string
		name string
		size uint64
	}{
		{"plain", "plain", 0},
		{"shm://job1", "job1", 0},
		{"shm:///job2?size=1M", "job2", 1 << 20},
	}
	for _, tt := range tests {
		name, size, err := ParseJob(tt.raw)
		if err != nil || name != tt.name || size != tt.size {
			t.Errorf("ParseJob(%q) = %q, %d, %v", tt.raw, name, size, err)
		}
	}
	if _, _, err := ParseJob("shm://job?size=lots"); err == nil {
		t.Errorf("ParseJob accepted a bad size")
	}
}
