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
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/davidkaufman/zeroperl-go/abi"
)

// procFuncs provides process-control syscalls.
//
// proc_exit is the one import that does not return: it closes the module
// with the guest's exit code and unwinds the wasm call stack by panicking
// with sys.ExitError, which wazero converts into the error returned from the
// in-flight exported-function call. The host inspects that error to record
// the code; there is no host process to terminate.
func procFuncs(cfg *Config) funcMap {
	return funcMap{
		"proc_exit": {
			params: []api.ValueType{i32},
			call: api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				code := api.DecodeU32(stack[0])
				cfg.Logger.Debug("guest exit", zap.Uint32("code", code))
				_ = mod.CloseWithExitCode(ctx, code)
				panic(sys.NewExitError(code))
			}),
		},
		// Signals have no meaning inside the sandbox; pretending delivery
		// succeeded keeps signal-using guest code on its normal path.
		"proc_raise": cfg.errnoFunc("proc_raise", []api.ValueType{i32},
			func(context.Context, api.Module, []uint64) abi.Errno {
				return abi.ErrnoSuccess
			}),
		// Single-threaded guest: yielding is a no-op.
		"sched_yield": cfg.errnoFunc("sched_yield", nil,
			func(context.Context, api.Module, []uint64) abi.Errno {
				return abi.ErrnoSuccess
			}),
	}
}
