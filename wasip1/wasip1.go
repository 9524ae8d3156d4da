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

// Package wasip1 supplies the guest's system interface.
//
// The guest imports the wasi_snapshot_preview1 module; this package
// implements that import surface on top of the host's configuration and
// virtual filesystem instead of the real operating system, so every guest
// effect is mediated by the embedding host.
//
// Capability groups (args/environ, process control, clock/random, file and
// descriptor I/O) are independent providers: each is a function from the
// shared Config to a named-function map. Instantiate merges the maps and
// registers the result with a wazero runtime. Syscall bodies work against
// abi.Memory obtained from the module at call time; nothing retains a memory
// view across calls, so guest-triggered memory growth cannot invalidate a
// cached reference.
package wasip1

import (
	"context"
	"crypto/rand"
	"io"
	"sort"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/davidkaufman/zeroperl-go/abi"
	"github.com/davidkaufman/zeroperl-go/vfs"
)

// ModuleName is the import module name the guest binary expects.
const ModuleName = "wasi_snapshot_preview1"

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// Config is the host-side state the providers close over. Args and Environ
// are closures rather than slices so the host can vary them between guest
// invocations; within one invocation the guest's size query and fill call
// see the same snapshot because guest execution is serialized.
type Config struct {
	// Args returns the argument vector for the current invocation.
	Args func() []string

	// Environ returns the environment as "KEY=VALUE" entries. The order must
	// be stable between consecutive calls.
	Environ func() []string

	// FS backs all file I/O. Required.
	FS *vfs.FS

	// Stdout and Stderr receive guest writes to descriptors 1 and 2.
	Stdout io.Writer
	Stderr io.Writer

	// Now is the wall clock; nil means time.Now. The monotonic clock is
	// derived from it so a frozen Now also freezes the monotonic reading.
	Now func() time.Time

	// Rand is the random_get source; nil means crypto/rand.
	Rand io.Reader

	// Logger receives per-syscall debug logging; nil means a nop logger.
	Logger *zap.Logger
}

func (c *Config) normalized() *Config {
	out := *c
	if out.Args == nil {
		out.Args = func() []string { return nil }
	}
	if out.Environ == nil {
		out.Environ = func() []string { return nil }
	}
	if out.FS == nil {
		out.FS = vfs.New()
	}
	if out.Stdout == nil {
		out.Stdout = io.Discard
	}
	if out.Stderr == nil {
		out.Stderr = io.Discard
	}
	if out.Now == nil {
		out.Now = time.Now
	}
	if out.Rand == nil {
		out.Rand = rand.Reader
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}

// hostFunc is one syscall: its wasm signature plus the Go implementation.
type hostFunc struct {
	params  []api.ValueType
	results []api.ValueType
	call    api.GoModuleFunc
}

type funcMap map[string]hostFunc

// merge composes provider maps into one import table. On a name collision
// the later map wins; the provider order in Instantiate is the authoritative
// precedence list.
func merge(maps ...funcMap) funcMap {
	out := make(funcMap)
	for _, m := range maps {
		for name, fn := range m {
			out[name] = fn
		}
	}
	return out
}

// Instantiate builds the merged syscall table from cfg and instantiates it
// into r as the wasi_snapshot_preview1 module. It must run before any guest
// module that imports those syscalls is instantiated.
func Instantiate(ctx context.Context, r wazero.Runtime, cfg *Config) (api.Closer, error) {
	cfg = cfg.normalized()

	funcs := merge(
		stubFuncs(cfg), // lowest precedence: real providers override stubs
		argsFuncs(cfg),
		procFuncs(cfg),
		clockFuncs(cfg),
		fsFuncs(cfg),
	)

	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)

	b := r.NewHostModuleBuilder(ModuleName)
	for _, name := range names {
		fn := funcs[name]
		b.NewFunctionBuilder().
			WithGoModuleFunction(fn.call, fn.params, fn.results).
			Export(name)
	}
	return b.Instantiate(ctx)
}

// errnoFunc wraps a syscall body returning an errno into a hostFunc with the
// standard single-i32-result shape, adding debug logging for failures.
func (c *Config) errnoFunc(name string, params []api.ValueType, body func(ctx context.Context, mod api.Module, stack []uint64) abi.Errno) hostFunc {
	return hostFunc{
		params:  params,
		results: []api.ValueType{i32},
		call: api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			errno := body(ctx, mod, stack)
			if errno != abi.ErrnoSuccess {
				c.Logger.Debug("syscall failed",
					zap.String("syscall", name),
					zap.String("errno", abi.ErrnoName(errno)))
			}
			stack[0] = uint64(errno)
		}),
	}
}
