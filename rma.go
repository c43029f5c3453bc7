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
	"fmt"
	"unsafe"

	"github.com/markrussinovich/go-pgas/internal/symmetric"
)

// Element types passed to Put, Get and View must be plain data: no
// pointers, slices, maps, strings or interfaces.

func asBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// Static returns the address of a static variable declared at startup.
func (c *Context) Static(name string) (Addr, error) {
	return c.space.Static(name)
}

// Put writes src to dst on PE pe. The write is complete when Put returns;
// use Fence or Quiet to order it against later writes.
func Put[T any](c *Context, dst Addr, src []T, pe int) error {
	b := asBytes(src)
	if len(b) == 0 {
		return nil
	}
	r, err := c.space.ResolveWrite(dst, uint64(len(b)), pe)
	if err != nil {
		return err
	}
	return c.comms.Put(r, b)
}

// Get reads len(dst) elements at src on PE pe.
func Get[T any](c *Context, dst []T, src Addr, pe int) error {
	b := asBytes(dst)
	if len(b) == 0 {
		return nil
	}
	r, err := c.space.Resolve(src, uint64(len(b)), pe)
	if err != nil {
		return err
	}
	return c.comms.Get(b, r)
}

// View returns the local PE's n elements at a as a typed slice. Writes
// through the slice are visible to peers.
func View[T any](c *Context, a Addr, n int) ([]T, error) {
	var zero T
	w := unsafe.Sizeof(zero)
	if n < 0 {
		return nil, fmt.Errorf("pgas: negative length %d", n)
	}
	if uintptr(a.Offset())%unsafe.Alignof(zero) != 0 {
		return nil, fmt.Errorf("pgas: %v is not aligned for %T", a, zero)
	}
	b, err := c.space.Bytes(a, uint64(n)*uint64(w))
	if err != nil || n == 0 {
		return nil, err
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n), nil
}

// FetchAdd atomically adds delta to the 8-byte word at a on PE pe and
// returns the previous value.
func (c *Context) FetchAdd(a Addr, delta uint64, pe int) (uint64, error) {
	r, err := c.word(a, pe)
	if err != nil {
		return 0, err
	}
	return c.comms.FetchAdd64(r, delta)
}

// Swap atomically stores v into the word at a on PE pe and returns the
// previous value.
func (c *Context) Swap(a Addr, v uint64, pe int) (uint64, error) {
	r, err := c.word(a, pe)
	if err != nil {
		return 0, err
	}
	return c.comms.Swap64(r, v)
}

// CompareAndSwap atomically replaces old with v in the word at a on PE pe.
func (c *Context) CompareAndSwap(a Addr, old, v uint64, pe int) (bool, error) {
	r, err := c.word(a, pe)
	if err != nil {
		return false, err
	}
	return c.comms.CompareAndSwap64(r, old, v)
}

// AtomicLoad reads the word at a on PE pe.
func (c *Context) AtomicLoad(a Addr, pe int) (uint64, error) {
	r, err := c.space.Resolve(a, 8, pe)
	if err != nil {
		return 0, err
	}
	return c.comms.Load64(r)
}

func (c *Context) word(a Addr, pe int) (symmetric.Remote, error) {
	return c.space.ResolveWrite(a, 8, pe)
}

// Fence orders this PE's earlier writes to each peer before its later ones.
func (c *Context) Fence() error { return c.comms.Fence() }

// Quiet waits until all of this PE's writes are visible everywhere.
func (c *Context) Quiet() error { return c.comms.Quiet() }

// Ptr returns a direct pointer to a's counterpart on PE pe, or an error if
// a does not resolve there.
func (c *Context) Ptr(a Addr, pe int) (unsafe.Pointer, error) {
	return c.space.Ptr(a, pe)
}

// Translate maps a raw pointer into any PE's segment onto PE pe. Pointers
// outside the symmetric regions fail with symmetric.ErrNotSymmetric.
func (c *Context) Translate(p unsafe.Pointer, pe int) (unsafe.Pointer, error) {
	return c.space.Translate(p, pe)
}

// IsSymmetric reports whether p points into a static variable or a live
// heap block of the calling PE.
func (c *Context) IsSymmetric(p unsafe.Pointer) bool {
	return c.space.IsSymmetric(p)
}
