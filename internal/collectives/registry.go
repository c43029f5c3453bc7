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

import "github.com/markrussinovich/go-pgas/internal/modules"

// Collective families and their compiled-in defaults.
var (
	Barriers    = modules.NewFamily[Func]("barrier", "tree")
	BarrierAlls = modules.NewFamily[Func]("barrier-all", "linear")
	Broadcasts  = modules.NewFamily[Func]("broadcast", "tree")
	Fcollects   = modules.NewFamily[Func]("fcollect", "linear")
	Collects    = modules.NewFamily[Func]("collect", "linear")
)

// Families lists every family in binding order.
func Families() []string {
	return []string{Barriers.Name(), BarrierAlls.Name(), Broadcasts.Name(), Fcollects.Name(), Collects.Name()}
}

func init() {
	register(Barriers, "naive", naiveBarrier)
	register(Barriers, "linear", linearBarrier)
	register(Barriers, "tree", treeBarrier)

	register(BarrierAlls, "transport", transportBarrierAll)
	register(BarrierAlls, "naive", naiveBarrier)
	register(BarrierAlls, "linear", linearBarrier)
	register(BarrierAlls, "tree", treeBarrier)

	register(Broadcasts, "linear", linearBroadcast)
	register(Broadcasts, "tree", treeBroadcast)

	register(Fcollects, "linear", linearFcollect)
	register(Collects, "linear", linearCollect)
}
