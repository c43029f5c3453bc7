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

// Package pgas is a partitioned global address space runtime. A job is a
// set of processing elements (PEs), one per process or, for in-process
// worlds, one per goroutine. Every PE owns a segment holding a static
// region and a symmetric heap with the same layout on every PE, and reads
// or writes the segments of its peers one-sidedly through symmetric
// addresses.
//
// Collectives synchronise through caller-supplied pSync arrays that must
// hold SyncValue before a call; every collective leaves them at SyncValue
// when it returns. A PE that skips a collective, or passes different
// active-set arguments than its peers, blocks the others forever.
package pgas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc/grpclog"

	"github.com/markrussinovich/go-pgas/internal/activeset"
	"github.com/markrussinovich/go-pgas/internal/collectives"
	"github.com/markrussinovich/go-pgas/internal/config"
	"github.com/markrussinovich/go-pgas/internal/probe"
	"github.com/markrussinovich/go-pgas/internal/symmetric"
	"github.com/markrussinovich/go-pgas/internal/transport"
	"github.com/markrussinovich/go-pgas/internal/transport/shm"
)

var logger = grpclog.Component("pgas")

type (
	// Addr is a symmetric address: a region and an offset valid on every PE.
	Addr = symmetric.Addr
	// Var declares a static symmetric variable.
	Var = symmetric.Var
	// ActiveSet names the PEs taking part in a collective.
	ActiveSet = activeset.ActiveSet
	// Status is a PE's lifecycle state.
	Status = transport.Status
)

const (
	StatusUninitialized = transport.StatusUninitialized
	StatusRunning       = transport.StatusRunning
	StatusShutDown      = transport.StatusShutDown
	StatusFailed        = transport.StatusFailed
)

// Sync array sizes, in 8-byte slots, and the value every slot must hold
// before a collective starts.
const (
	SyncValue            = collectives.SyncValue
	BarrierSyncSize      = collectives.BarrierSyncSize
	BcastSyncSize        = collectives.BcastSyncSize
	ReduceSyncSize       = collectives.ReduceSyncSize
	CollectSyncSize      = collectives.CollectSyncSize
	ReduceMinWrkdataSize = collectives.ReduceMinWrkdataSize
)

// ErrClosed is returned by operations on a finalized or aborted Context.
var ErrClosed = errors.New("pgas: context is closed")

// allSyncVar is the library's own sync array for BarrierAll.
const allSyncVar = "pgas.allsync"

// Context is one PE's handle on the job. A Context belongs to a single
// goroutine; PEs of an in-process world each get their own.
type Context struct {
	comms  transport.Comms
	space  *symmetric.Space
	engine *collectives.Engine

	job          string
	healthDir    string
	health       *probe.Server
	probeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// World returns the active set of every PE.
func World(npes int) ActiveSet {
	return activeset.World(npes)
}

// staticTable lays out the library's statics followed by the caller's.
func staticTable(vars []Var) (*symmetric.StaticTable, error) {
	all := make([]Var, 0, len(vars)+1)
	all = append(all, Var{Name: allSyncVar, Size: BarrierSyncSize * collectives.SlotSize})
	all = append(all, vars...)
	return symmetric.NewStaticTable(all)
}

// writeImage initialises PE pe's static region.
func writeImage(c transport.Comms, table *symmetric.StaticTable, pe int) {
	mem, l := c.Segment(pe)
	table.Image(mem[l.StaticOff : l.StaticOff+l.StaticSize])
}

// newContext wires the symmetric space and the collective engine over c.
func newContext(c transport.Comms, table *symmetric.StaticTable, modules map[string]string, debug bool) (*Context, error) {
	npes := c.NumPEs()
	layouts := make([]symmetric.Layout, npes)
	mems := make([][]byte, npes)
	for pe := range mems {
		mems[pe], layouts[pe] = c.Segment(pe)
	}
	space, err := symmetric.NewSpace(c.MyPE(), table, layouts, mems)
	if err != nil {
		return nil, err
	}
	allSync, err := space.Static(allSyncVar)
	if err != nil {
		return nil, err
	}
	engine, err := collectives.NewEngine(c, space, collectives.Options{Debug: debug, Modules: modules, AllSync: allSync})
	if err != nil {
		return nil, err
	}
	return &Context{comms: c, space: space, engine: engine, probeTimeout: config.DefaultProbeTimeout}, nil
}

// Init joins a multi-process job described by cfg, usually read with
// config.FromEnv. statics must be declared identically on every PE. Init
// returns once every PE has mapped every segment and passed the setup
// barrier.
func Init(ctx context.Context, cfg config.Config, statics ...Var) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := staticTable(statics)
	if err != nil {
		return nil, err
	}

	setupCtx, cancel := context.WithTimeout(ctx, cfg.SetupTimeout)
	defer cancel()
	comms, err := shm.Join(setupCtx, shm.JoinOptions{
		Job:        cfg.Job,
		PE:         cfg.Rank,
		NumPEs:     cfg.NumPEs,
		StaticSize: table.Size(),
		HeapCap:    cfg.HeapSize,
		Image:      table.Image,
	})
	if err != nil {
		return nil, fmt.Errorf("pgas: joining job %q: %w", cfg.Job, err)
	}

	c, err := newContext(comms, table, cfg.Modules, cfg.Debug)
	if err != nil {
		comms.SetStatus(StatusFailed)
		comms.Close()
		return nil, err
	}
	c.job, c.healthDir, c.probeTimeout = cfg.Job, cfg.HealthDir, cfg.ProbeTimeout
	if c.healthDir != "" {
		if c.health, err = probe.Serve(c.healthDir, c.job, cfg.Rank); err != nil {
			comms.SetStatus(StatusFailed)
			comms.Close()
			return nil, err
		}
	}

	if err := comms.BarrierAll(setupCtx); err != nil {
		c.teardown(StatusFailed)
		return nil, fmt.Errorf("pgas: setup barrier: %w", err)
	}
	c.running()
	return c, nil
}

// NewLocalWorld builds npes PEs sharing in-process memory. Each returned
// Context must be driven by its own goroutine.
func NewLocalWorld(npes int, opts ...Option) ([]*Context, error) {
	o := defaultWorldOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	table, err := staticTable(o.statics)
	if err != nil {
		return nil, err
	}
	comms, err := shm.NewLocalWorld(npes, table.Size(), o.heapSize, o.heapPad)
	if err != nil {
		return nil, err
	}
	for pe := range comms {
		writeImage(comms[pe], table, pe)
	}
	world := make([]*Context, npes)
	for pe, c := range comms {
		ctx, err := newContext(c, table, o.modules, o.debug)
		if err != nil {
			return nil, fmt.Errorf("PE %d: %w", pe, err)
		}
		ctx.job, ctx.probeTimeout = "local", o.probeTimeout
		world[pe] = ctx
	}
	for _, ctx := range world {
		ctx.running()
	}
	return world, nil
}

func (c *Context) running() {
	c.comms.SetStatus(StatusRunning)
	if c.health != nil {
		c.health.SetServing(true)
	}
	if c.MyPE() == 0 {
		_, l := c.comms.Segment(0)
		logger.Infof("job %q running: %d PEs, heap %d bytes, static %d bytes", c.job, c.NumPEs(), l.HeapCap, c.space.Table().Size())
	}
}

// MyPE returns the calling PE's rank.
func (c *Context) MyPE() int { return c.comms.MyPE() }

// NumPEs returns the number of PEs in the job.
func (c *Context) NumPEs() int { return c.comms.NumPEs() }

// Status reads PE pe's published lifecycle state.
func (c *Context) Status(pe int) Status { return c.comms.Status(pe) }

// Modules reports the variant bound for each collective family.
func (c *Context) Modules() map[string]string { return c.engine.Bound() }

// Finalize waits for every PE, publishes ShutDown and releases the segment.
func (c *Context) Finalize() error {
	if c.isClosed() {
		return ErrClosed
	}
	err := c.engine.BarrierAll()
	if cerr := c.teardown(StatusShutDown); err == nil {
		err = cerr
	}
	return err
}

// Abort publishes Failed and releases the segment without synchronising.
// Peers observe the failure through Status and PEAccessible; collectives
// already waiting on this PE stay blocked.
func (c *Context) Abort(cause error) {
	logger.Errorf("PE %d aborting: %v", c.MyPE(), cause)
	c.teardown(StatusFailed)
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Context) teardown(st Status) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.health != nil {
		c.health.SetServing(false)
		c.health.Stop()
	}
	c.comms.SetStatus(st)
	return c.comms.Close()
}
