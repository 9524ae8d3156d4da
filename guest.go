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

package zeroperl

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/davidkaufman/zeroperl-go/abi"
)

// guest is the host's view of one live interpreter instance. The concrete
// implementation talks to the wasm module; tests substitute a fake to drive
// the controller without a runtime.
type guest interface {
	// Eval runs src with the given extra argv entries and returns the
	// interpreter status: 0 on success, nonzero when the script died.
	Eval(ctx context.Context, src string, args []string) (int32, error)

	// GetVar reads the scalar bound to name. The second result is false when
	// the name is unbound; that is not an error.
	GetVar(ctx context.Context, name string) (string, bool, error)

	// SetVar binds value to the scalar name.
	SetVar(ctx context.Context, name, value string) error

	// ErrSV returns the interpreter's error state, empty when clear.
	ErrSV(ctx context.Context) (string, error)

	Close(ctx context.Context) error
}

// wasmGuest drives the interpreter exports of an instantiated module. All
// marshaling goes through the guest's own allocator so host data lands in
// memory the interpreter considers valid; the host never picks addresses.
type wasmGuest struct {
	mod api.Module
}

var _ guest = (*wasmGuest)(nil)

func (g *wasmGuest) Eval(ctx context.Context, src string, args []string) (int32, error) {
	srcPtr, err := g.copyString(ctx, src)
	if err != nil {
		return 0, err
	}
	defer g.free(ctx, srcPtr, uint32(len(src))+1)

	// argv is a single allocation: count u32 slots up front, the
	// NUL-terminated strings packed behind them.
	count, bufSize := abi.StringArraySize(args)
	var argvPtr, argvSize uint32
	if count > 0 {
		argvSize = 4*count + bufSize
		argvPtr, err = g.alloc(ctx, argvSize)
		if err != nil {
			return 0, err
		}
		defer g.free(ctx, argvPtr, argvSize)
		if errno := abi.WriteStringArray(g.mod.Memory(), args, argvPtr, argvPtr+4*count); errno != abi.ErrnoSuccess {
			return 0, fmt.Errorf("writing argv: %s", abi.ErrnoName(errno))
		}
	}

	results, err := g.mod.ExportedFunction("perl_eval").
		Call(ctx, api.EncodeU32(srcPtr), api.EncodeU32(count), api.EncodeU32(argvPtr))
	if err != nil {
		return 0, err
	}
	return api.DecodeI32(results[0]), nil
}

func (g *wasmGuest) GetVar(ctx context.Context, name string) (string, bool, error) {
	namePtr, err := g.copyString(ctx, name)
	if err != nil {
		return "", false, err
	}
	defer g.free(ctx, namePtr, uint32(len(name))+1)

	outPtr, err := g.alloc(ctx, 4)
	if err != nil {
		return "", false, err
	}
	defer g.free(ctx, outPtr, 4)

	results, err := g.mod.ExportedFunction("perl_get_sv").
		Call(ctx, api.EncodeU32(namePtr), api.EncodeU32(outPtr))
	if err != nil {
		return "", false, err
	}
	n := api.DecodeI32(results[0])
	if n < 0 {
		return "", false, nil
	}
	val, err := g.readOut(outPtr, uint32(n))
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (g *wasmGuest) SetVar(ctx context.Context, name, value string) error {
	namePtr, err := g.copyString(ctx, name)
	if err != nil {
		return err
	}
	defer g.free(ctx, namePtr, uint32(len(name))+1)

	valPtr, err := g.copyString(ctx, value)
	if err != nil {
		return err
	}
	defer g.free(ctx, valPtr, uint32(len(value))+1)

	results, err := g.mod.ExportedFunction("perl_set_sv").
		Call(ctx, api.EncodeU32(namePtr), api.EncodeU32(valPtr))
	if err != nil {
		return err
	}
	if rc := api.DecodeI32(results[0]); rc != 0 {
		return fmt.Errorf("cannot bind %q: interpreter status %d", name, rc)
	}
	return nil
}

func (g *wasmGuest) ErrSV(ctx context.Context) (string, error) {
	outPtr, err := g.alloc(ctx, 4)
	if err != nil {
		return "", err
	}
	defer g.free(ctx, outPtr, 4)

	results, err := g.mod.ExportedFunction("perl_errsv").Call(ctx, api.EncodeU32(outPtr))
	if err != nil {
		return "", err
	}
	n := api.DecodeI32(results[0])
	if n <= 0 {
		return "", nil
	}
	return g.readOut(outPtr, uint32(n))
}

func (g *wasmGuest) Close(ctx context.Context) error {
	return g.mod.Close(ctx)
}

// readOut follows a pointer the guest wrote to outPtr and copies n bytes from
// where it points. The copy matters: the slice from Memory.Read aliases
// linear memory and would be clobbered by the next guest call.
func (g *wasmGuest) readOut(outPtr, n uint32) (string, error) {
	mem := g.mod.Memory()
	ptr, ok := mem.ReadUint32Le(outPtr)
	if !ok || ptr == 0 {
		return "", errors.New("guest wrote no value pointer")
	}
	data, ok := mem.Read(ptr, n)
	if !ok {
		return "", errors.New("guest value out of memory bounds")
	}
	return string(data), nil
}

func (g *wasmGuest) alloc(ctx context.Context, size uint32) (uint32, error) {
	results, err := g.mod.ExportedFunction("perl_alloc").Call(ctx, api.EncodeU32(size))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(results[0])
	if ptr == 0 {
		return 0, errors.New("guest allocator returned null")
	}
	return ptr, nil
}

func (g *wasmGuest) free(ctx context.Context, ptr, size uint32) {
	if ptr == 0 {
		return
	}
	// Best effort: after a guest exit the module is closed and the call
	// fails, but the whole instance is gone with it.
	_, _ = g.mod.ExportedFunction("perl_free").
		Call(ctx, api.EncodeU32(ptr), api.EncodeU32(size))
}

// copyString allocates guest memory and writes s NUL-terminated into it.
// The caller frees len(s)+1 bytes when done.
func (g *wasmGuest) copyString(ctx context.Context, s string) (uint32, error) {
	ptr, err := g.alloc(ctx, uint32(len(s))+1)
	if err != nil {
		return 0, err
	}
	if errno := abi.WriteCString(g.mod.Memory(), ptr, s); errno != abi.ErrnoSuccess {
		g.free(ctx, ptr, uint32(len(s))+1)
		return 0, fmt.Errorf("writing string: %s", abi.ErrnoName(errno))
	}
	return ptr, nil
}

// validateGuestABI checks that the compiled guest exports every interpreter
// entry point with the expected signature before anything is instantiated.
func validateGuestABI(mod wazero.CompiledModule) error {
	type funcSig struct {
		params  []api.ValueType
		results []api.ValueType
	}

	i32 := api.ValueTypeI32
	required := map[string]funcSig{
		"perl_alloc": {
			params:  []api.ValueType{i32},
			results: []api.ValueType{i32},
		},
		"perl_free": {
			params:  []api.ValueType{i32, i32},
			results: []api.ValueType{},
		},
		"perl_eval": {
			params:  []api.ValueType{i32, i32, i32}, // (src, argc, argv)
			results: []api.ValueType{i32},           // 0 ok, nonzero died
		},
		"perl_get_sv": {
			params:  []api.ValueType{i32, i32}, // (name, value_ptr_out)
			results: []api.ValueType{i32},      // length, or -1 when unbound
		},
		"perl_set_sv": {
			params:  []api.ValueType{i32, i32},
			results: []api.ValueType{i32},
		},
		"perl_errsv": {
			params:  []api.ValueType{i32},
			results: []api.ValueType{i32}, // length, 0 when clear
		},
	}

	for name, expected := range required {
		def := mod.ExportedFunctions()[name]
		if def == nil {
			return errors.New("ABI validation failed: missing required function: " + name)
		}
		if !slices.Equal(def.ParamTypes(), expected.params) {
			return errors.New("ABI validation failed: function " + name + " has incorrect parameter types")
		}
		if !slices.Equal(def.ResultTypes(), expected.results) {
			return errors.New("ABI validation failed: function " + name + " has incorrect result types")
		}
	}
	return nil
}
