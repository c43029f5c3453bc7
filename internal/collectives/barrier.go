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
	"github.com/markrussinovich/go-pgas/internal/activeset"
	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// naiveBarrier funnels through the first member. Non-roots count their
// arrival into the root's pSync[0]; once all have arrived the root resets
// it and releases each non-root through its pSync[1].
func naiveBarrier(e *Engine, a Args, _ int) error {
	v, err := e.enter("barrier(naive)", a.Set, a.PSync, BarrierSyncSize)
	if err != nil || a.Set.Size == 1 {
		return err
	}
	me := e.comms.MyPE()
	root := a.Set.PE(0)

	if v != 0 {
		if err := e.addSlot(a.PSync, 0, root, 1); err != nil {
			return err
		}
		if _, err := e.waitSlot(a.PSync, 1, me, equals(SyncValue+1)); err != nil {
			return err
		}
		return e.storeSlot(a.PSync, 1, me, SyncValue)
	}

	if _, err := e.waitSlot(a.PSync, 0, me, equals(SyncValue+uint64(a.Set.Size-1))); err != nil {
		return err
	}
	if err := e.storeSlot(a.PSync, 0, me, SyncValue); err != nil {
		return err
	}
	for _, pe := range a.Set.Members()[1:] {
		if err := e.addSlot(a.PSync, 1, pe, 1); err != nil {
			return err
		}
	}
	return nil
}

// linearBarrier has every member count its arrival directly into every
// other member's pSync[0], then repeat on pSync[1]. The second round keeps
// a fast PE from reaching the next barrier before everyone has reset
// pSync[0].
func linearBarrier(e *Engine, a Args, _ int) error {
	if _, err := e.enter("barrier(linear)", a.Set, a.PSync, BarrierSyncSize); err != nil || a.Set.Size == 1 {
		return err
	}
	me := e.comms.MyPE()
	peers := a.Set.Members()
	arrived := equals(SyncValue + uint64(a.Set.Size-1))

	for round := 0; round < 2; round++ {
		for _, pe := range peers {
			if pe == me {
				continue
			}
			if err := e.addSlot(a.PSync, round, pe, 1); err != nil {
				return err
			}
		}
		if _, err := e.waitSlot(a.PSync, round, me, arrived); err != nil {
			return err
		}
		if err := e.storeSlot(a.PSync, round, me, SyncValue); err != nil {
			return err
		}
	}
	return nil
}

// treeBarrier runs over the binary tree of the active set. pSync[0] carries
// the handshake state (SyncValue, ready, go) and pSync[1] counts children
// that have finished.
func treeBarrier(e *Engine, a Args, _ int) error {
	if _, err := e.enter("barrier(tree)", a.Set, a.PSync, BarrierSyncSize); err != nil || a.Set.Size == 1 {
		return err
	}
	node, err := a.Set.Tree(e.comms.MyPE())
	if err != nil {
		return err
	}
	return e.treeHandshake(node, a.PSync, nil)
}

// forwardFunc delivers a payload to child before it is released.
type forwardFunc func(child int) error

// treeHandshake is the up/down protocol shared by the tree barrier and the
// tree broadcast.
//
// Going up, a node waits until each child has published ready in its own
// pSync[0], then publishes ready itself. Going down, a released node
// forwards to and releases each child by writing go into the child's
// pSync[0]. Each node then resets its pSync[0], waits for all children to
// report done in its pSync[1], resets it and reports done to its parent.
//
// No node returns before the root has seen the whole tree report done:
// the root then writes release into its children's pSync[1] and each node
// passes it on after resetting its own. Once any node has returned, every
// node is finished with pSync[0], so the next collective on the same array
// may start writing there while the release wave is still running.
func (e *Engine) treeHandshake(node activeset.Node, pSync symmetric.Addr, forward forwardFunc) error {
	me := node.PE
	children := node.Children()
	sentinel := equals(SyncValue)

	// A previous call on the same array must have drained.
	if _, err := e.waitSlot(pSync, 0, me, sentinel); err != nil {
		return err
	}
	if _, err := e.waitSlot(pSync, 1, me, sentinel); err != nil {
		return err
	}

	if forward == nil {
		for _, c := range children {
			if _, err := e.waitSlot(pSync, 0, c, equals(stateReady)); err != nil {
				return err
			}
		}
	}
	if !node.IsRoot() {
		if err := e.storeSlot(pSync, 0, me, stateReady); err != nil {
			return err
		}
		if _, err := e.waitSlot(pSync, 0, me, equals(stateGo)); err != nil {
			return err
		}
	}

	for _, c := range children {
		if forward != nil {
			if _, err := e.waitSlot(pSync, 0, c, equals(stateReady)); err != nil {
				return err
			}
			if err := forward(c); err != nil {
				return err
			}
			if err := e.comms.Fence(); err != nil {
				return err
			}
		}
		if err := e.storeSlot(pSync, 0, c, stateGo); err != nil {
			return err
		}
	}

	if err := e.storeSlot(pSync, 0, me, SyncValue); err != nil {
		return err
	}
	if len(children) > 0 {
		if _, err := e.waitSlot(pSync, 1, me, equals(SyncValue+uint64(len(children)))); err != nil {
			return err
		}
		if err := e.storeSlot(pSync, 1, me, SyncValue); err != nil {
			return err
		}
	}
	if !node.IsRoot() {
		if err := e.addSlot(pSync, 1, node.Parent, 1); err != nil {
			return err
		}
		if _, err := e.waitSlot(pSync, 1, me, equals(stateRelease)); err != nil {
			return err
		}
		if err := e.storeSlot(pSync, 1, me, SyncValue); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := e.storeSlot(pSync, 1, c, stateRelease); err != nil {
			return err
		}
	}
	return nil
}
