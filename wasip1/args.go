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

	"github.com/tetratelabs/wazero/api"

	"github.com/davidkaufman/zeroperl-go/abi"
)

// argsFuncs provides the argument-vector and environment syscalls. Both
// follow the two-phase protocol: the guest first asks for sizes, allocates,
// then asks the host to fill the allocated regions.
func argsFuncs(cfg *Config) funcMap {
	return funcMap{
		"args_sizes_get": cfg.errnoFunc("args_sizes_get", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return writeSizes(mod.Memory(), cfg.Args(),
					api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}),
		"args_get": cfg.errnoFunc("args_get", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return abi.WriteStringArray(mod.Memory(), cfg.Args(),
					api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}),
		"environ_sizes_get": cfg.errnoFunc("environ_sizes_get", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return writeSizes(mod.Memory(), cfg.Environ(),
					api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}),
		"environ_get": cfg.errnoFunc("environ_get", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return abi.WriteStringArray(mod.Memory(), cfg.Environ(),
					api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}),
	}
}

// writeSizes answers a sizes query for a string array: the element count at
// countAddr and the NUL-inclusive buffer length at bufSizeAddr.
func writeSizes(mem abi.Memory, strs []string, countAddr, bufSizeAddr uint32) abi.Errno {
	count, bufSize := abi.StringArraySize(strs)
	if !mem.WriteUint32Le(countAddr, count) {
		return abi.ErrnoFault
	}
	if !mem.WriteUint32Le(bufSizeAddr, bufSize) {
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}
