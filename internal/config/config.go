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

// Package config reads the runtime settings of a multi-process job from the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultHeapSize     = 64 << 20
	DefaultSetupTimeout = 30 * time.Second
	DefaultProbeTimeout = time.Second
)

// Environment variable names.
const (
	EnvJob          = "PGAS_JOB"
	EnvRank         = "PGAS_RANK"
	EnvNumPEs       = "PGAS_NPES"
	EnvHeapSize     = "PGAS_SYMMETRIC_SIZE"
	EnvDebug        = "PGAS_DEBUG"
	EnvSetupTimeout = "PGAS_SETUP_TIMEOUT"
	EnvProbeTimeout = "PGAS_PROBE_TIMEOUT"
	EnvHealthDir    = "PGAS_HEALTH_DIR"
)

// ModuleEnv maps each collective family to the variable naming its
// override.
var ModuleEnv = map[string]string{
	"barrier":     "PGAS_COLL_BARRIER",
	"barrier-all": "PGAS_COLL_BARRIER_ALL",
	"broadcast":   "PGAS_COLL_BROADCAST",
	"collect":     "PGAS_COLL_COLLECT",
	"fcollect":    "PGAS_COLL_FCOLLECT",
}

// ErrInvalid is returned for malformed settings.
var ErrInvalid = errors.New("config: invalid setting")

// Config holds the settings of one PE.
type Config struct {
	Job          string
	Rank         int
	NumPEs       int
	HeapSize     uint64
	Debug        bool
	SetupTimeout time.Duration
	ProbeTimeout time.Duration
	// HealthDir enables the gRPC health probe; each PE serves on
	// HealthDir/<job>.<rank>.sock.
	HealthDir string
	// Modules maps a family name to a variant override.
	Modules map[string]string
}

// Default returns a single-PE configuration.
func Default() Config {
	return Config{
		Job:          "pgas",
		NumPEs:       1,
		HeapSize:     DefaultHeapSize,
		SetupTimeout: DefaultSetupTimeout,
		ProbeTimeout: DefaultProbeTimeout,
		Modules:      map[string]string{},
	}
}

// FromEnv reads the configuration from the process environment.
func FromEnv() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup reads the configuration through lookup, which has the
// signature of os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	c := Default()
	if v, ok := lookup(EnvJob); ok && v != "" {
		job, heap, err := ParseJob(v)
		if err != nil {
			return Config{}, err
		}
		c.Job = job
		if heap != 0 {
			c.HeapSize = heap
		}
	}
	var err error
	if c.Rank, err = intVar(lookup, EnvRank, c.Rank); err != nil {
		return Config{}, err
	}
	if c.NumPEs, err = intVar(lookup, EnvNumPEs, c.NumPEs); err != nil {
		return Config{}, err
	}
	if v, ok := lookup(EnvHeapSize); ok && v != "" {
		if c.HeapSize, err = ParseSize(v); err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvHeapSize, err)
		}
	}
	if v, ok := lookup(EnvDebug); ok && v != "" {
		if c.Debug, err = strconv.ParseBool(v); err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q", ErrInvalid, EnvDebug, v)
		}
	}
	if c.SetupTimeout, err = durationVar(lookup, EnvSetupTimeout, c.SetupTimeout); err != nil {
		return Config{}, err
	}
	if c.ProbeTimeout, err = durationVar(lookup, EnvProbeTimeout, c.ProbeTimeout); err != nil {
		return Config{}, err
	}
	c.HealthDir, _ = lookup(EnvHealthDir)
	for family, key := range ModuleEnv {
		if v, ok := lookup(key); ok && v != "" {
			c.Modules[family] = strings.ToLower(strings.TrimSpace(v))
		}
	}
	return c, c.Validate()
}

// Validate checks that the settings describe a runnable PE.
func (c Config) Validate() error {
	switch {
	case c.Job == "" || strings.ContainsAny(c.Job, "/\x00"):
		return fmt.Errorf("%w: job name %q", ErrInvalid, c.Job)
	case c.NumPEs <= 0:
		return fmt.Errorf("%w: %d PEs", ErrInvalid, c.NumPEs)
	case c.Rank < 0 || c.Rank >= c.NumPEs:
		return fmt.Errorf("%w: rank %d outside [0, %d)", ErrInvalid, c.Rank, c.NumPEs)
	case c.HeapSize == 0:
		return fmt.Errorf("%w: zero symmetric heap size", ErrInvalid)
	case c.SetupTimeout <= 0 || c.ProbeTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalid)
	}
	return nil
}

// ParseJob accepts a bare job name or an address of the form
// shm://name?size=64M, returning the name and the heap size (0 when the
// address does not set one).
func ParseJob(raw string) (string, uint64, error) {
	if !strings.Contains(raw, "://") {
		return raw, 0, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("parse job address: %w", err)
	}
	if u.Scheme != "shm" {
		return "", 0, fmt.Errorf("%w: unsupported scheme %q", ErrInvalid, u.Scheme)
	}
	name := u.Host
	if name == "" {
		name = strings.TrimPrefix(u.Path, "/")
	}
	if name == "" {
		return "", 0, fmt.Errorf("%w: missing job name in %q", ErrInvalid, raw)
	}
	var size uint64
	if s := u.Query().Get("size"); s != "" {
		if size, err = ParseSize(s); err != nil {
			return "", 0, fmt.Errorf("invalid size: %w", err)
		}
	}
	return name, size, nil
}

// ParseSize parses a byte count with an optional K, M or G suffix (powers
// of 1024).
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty size", ErrInvalid)
	}
	shift := 0
	switch s[len(s)-1] {
	case 'k', 'K':
		shift = 10
	case 'm', 'M':
		shift = 20
	case 'g', 'G':
		shift = 30
	}
	if shift != 0 {
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: size %q", ErrInvalid, s)
	}
	if v > (1<<64-1)>>shift {
		return 0, fmt.Errorf("%w: size %q overflows", ErrInvalid, s)
	}
	return v << shift, nil
}

func intVar(lookup func(string) (string, bool), key string, def int) (int, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return n, nil
}

func durationVar(lookup func(string) (string, bool), key string, def time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return d, nil
}
