// Copyright 2026 David Kaufman
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wasip1

import (
	"context"
	"io"

	"github.com/tetratelabs/wazero/api"

	"github.com/davidkaufman/zeroperl-go/abi"
)

// WASI clock ids.
const (
	clockRealtime  = 0
	clockMonotonic = 1
)

// clockFuncs provides the clock and entropy syscalls. The monotonic clock is
// the wall clock rebased to provider construction, so injecting a fixed Now
// makes both clocks deterministic.
func clockFuncs(cfg *Config) funcMap {
	epoch := cfg.Now()

	return funcMap{
		"clock_res_get": cfg.errnoFunc("clock_res_get", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				switch api.DecodeU32(stack[0]) {
				case clockRealtime, clockMonotonic:
				default:
					return abi.ErrnoInval
				}
				if !mod.Memory().WriteUint64Le(api.DecodeU32(stack[1]), 1) {
					return abi.ErrnoFault
				}
				return abi.ErrnoSuccess
			}),
		"clock_time_get": cfg.errnoFunc("clock_time_get", []api.ValueType{i32, i64, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				var ns uint64
				switch api.DecodeU32(stack[0]) {
				case clockRealtime:
					ns = uint64(cfg.Now().UnixNano())
				case clockMonotonic:
					ns = uint64(cfg.Now().Sub(epoch))
				default:
					// Process and thread CPU clocks are not modeled.
					return abi.ErrnoNotsup
				}
				if !mod.Memory().WriteUint64Le(api.DecodeU32(stack[2]), ns) {
					return abi.ErrnoFault
				}
				return abi.ErrnoSuccess
			}),
		"random_get": cfg.errnoFunc("random_get", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				buf, ok := mod.Memory().Read(api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
				if !ok {
					return abi.ErrnoFault
				}
				if _, err := io.ReadFull(cfg.Rand, buf); err != nil {
					return abi.ErrnoIo
				}
				return abi.ErrnoSuccess
			}),
	}
}
