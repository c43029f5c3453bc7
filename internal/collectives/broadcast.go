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

package collectives

import (
	"fmt"

	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// broadcastArgs validates a broadcast call and returns the caller's virtual
// rank and the payload size in bytes.
func (e *Engine) broadcastArgs(name string, a Args, width int) (int, uint64, error) {
	v, err := e.enter(name, a.Set, a.PSync, BcastSyncSize)
	if err != nil {
		return 0, 0, err
	}
	if a.Root < 0 || a.Root >= a.Set.Size {
		return 0, 0, fmt.Errorf("%s: %w: root ordinal %d outside %v", name, ErrBadArgument, a.Root, a.Set)
	}
	if err := e.checkBuffer(name, "target", a.Target, a.NElems, width, true); err != nil {
		return 0, 0, err
	}
	if v == a.Root {
		if err := e.checkBuffer(name, "source", a.Source, a.NElems, width, false); err != nil {
			return 0, 0, err
		}
	}
	return v, uint64(a.NElems) * uint64(width), nil
}

// put copies n bytes at src on the calling PE to dst on pe.
func (e *Engine) put(dst symmetric.Addr, src symmetric.Addr, n uint64, pe int) error {
	if n == 0 {
		return nil
	}
	b, err := e.space.Bytes(src, n)
	if err != nil {
		return err
	}
	r, err := e.space.ResolveWrite(dst, n, pe)
	if err != nil {
		return err
	}
	return e.comms.Put(r, b)
}

// linearBroadcast has the root write the payload to every other member,
// followed by a barrier over the same set.
func linearBroadcast(e *Engine, a Args, width int) error {
	v, n, err := e.broadcastArgs("broadcast(linear)", a, width)
	if err != nil {
		return err
	}
	if v == a.Root {
		me := e.comms.MyPE()
		for _, pe := range a.Set.Members() {
			if pe == me {
				continue
			}
			if err := e.put(a.Target, a.Source, n, pe); err != nil {
				return err
			}
		}
		if err := e.comms.Quiet(); err != nil {
			return err
		}
	}
	return e.barrier.Impl64(e, Args{Set: a.Set, PSync: a.PSync})
}

// treeBroadcast pushes the payload down the tree rooted at the root
// ordinal. A node forwards from Source if it is the root and from its own
// Target otherwise, and releases a child only after the child's copy is
// fenced. The handshake itself orders completion, so no barrier follows.
func treeBroadcast(e *Engine, a Args, width int) error {
	_, n, err := e.broadcastArgs("broadcast(tree)", a, width)
	if err != nil {
		return err
	}
	node, err := a.Set.RootedTree(e.comms.MyPE(), a.Root)
	if err != nil {
		return err
	}
	from := a.Target
	if node.IsRoot() {
		from = a.Source
	}
	return e.treeHandshake(node, a.PSync, func(child int) error {
		return e.put(a.Target, from, n, child)
	})
}
