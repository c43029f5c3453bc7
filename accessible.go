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

	"github.com/markrussinovich/go-pgas/internal/probe"
)

// PEAccessible reports whether PE pe is running and reachable. It answers
// within the configured probe timeout and never aborts collectives in
// flight. With a health directory configured the PE's gRPC health endpoint
// is asked; otherwise its published status and process are checked.
func (c *Context) PEAccessible(pe int) bool {
	if pe < 0 || pe >= c.NumPEs() || c.isClosed() {
		return false
	}
	if pe == c.MyPE() {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
	defer cancel()
	if c.healthDir != "" {
		return probe.Check(ctx, c.healthDir, c.job, pe)
	}
	return c.comms.Probe(ctx, pe)
}

// AddrAccessible reports whether a resolves on PE pe and pe is reachable.
func (c *Context) AddrAccessible(a Addr, pe int) bool {
	if _, err := c.space.Resolve(a, 1, pe); err != nil {
		return false
	}
	return c.PEAccessible(pe)
}
