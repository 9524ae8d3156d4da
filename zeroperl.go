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

// Package zeroperl embeds a WebAssembly build of the Perl interpreter in a
// Go process.
//
// The interpreter runs fully sandboxed: it has no real filesystem, network,
// or process access. Every system call the guest makes is served by this
// module's wasip1 providers against a virtual filesystem and captured output
// buffers, so the embedding application decides exactly what the script can
// see and touch.
//
// # Basic Usage
//
//	host, err := zeroperl.New(ctx, wasmBinary,
//	    zeroperl.WithStdout(os.Stdout))
//	if err != nil {
//	    return err
//	}
//	defer host.Close(ctx)
//
//	res, err := host.Eval(ctx, `print "hello\n";`)
//	if err != nil {
//	    return err
//	}
//	host.Flush() // deliver captured output to the sink
//
// Scripts and data files are staged through the virtual filesystem:
//
//	fs := vfs.New()
//	fs.AddFileString("/scripts/main.pl", src)
//	fs.AddSource("/data/input.json", blobFetcher) // resolved before entry
//	host, _ := zeroperl.New(ctx, wasmBinary, zeroperl.WithFS(fs))
//	res, _ := host.RunFile(ctx, "/scripts/main.pl")
//
// A Host is not safe for concurrent use; callers serialize operations.
package zeroperl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/davidkaufman/zeroperl-go/vfs"
	"github.com/davidkaufman/zeroperl-go/wasip1"
)

// ErrClosed is returned by every operation on a closed Host.
var ErrClosed = errors.New("zeroperl: host is closed")

// Result reports the outcome of one script evaluation.
//
// A Result with Success=false describes a script-level failure (a die, or a
// nonzero exit): the host itself is healthy and the error text, if any, is in
// Error. Host-level faults are reported through the separate error return
// instead.
type Result struct {
	Success  bool
	ExitCode int
	Error    string
}

// Host is a live interpreter embedding: a wazero runtime, the compiled guest
// module, one current guest instance, and the captured stdio buffers.
//
// The zero value is unusable; construct with New. Operations must be
// serialized by the caller.
type Host struct {
	cfg      *config
	log      *zap.Logger
	rt       wazero.Runtime
	compiled wazero.CompiledModule

	stdout bytes.Buffer
	stderr bytes.Buffer

	g        guest
	newGuest func(ctx context.Context) (guest, error)
	closeFn  func(ctx context.Context) error

	// evalArgs is the per-invocation argv tail, visible to the guest through
	// args_get only while an evaluation is in flight.
	evalArgs []string

	lastError   string
	initialized bool
	exited      bool
	closed      bool
}

// New compiles guestWasm, validates the interpreter ABI, instantiates the
// system-interface providers and the guest, and runs the guest's _initialize
// export. The returned Host is ready to evaluate.
func New(ctx context.Context, guestWasm []byte, opts ...Option) (*Host, error) {
	cfg := newConfig(opts...)

	rtCfg := wazero.NewRuntimeConfig().
		WithCoreFeatures(api.CoreFeaturesV2).
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(cfg.memoryPages)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	h := &Host{
		cfg: cfg,
		log: cfg.log,
		rt:  rt,
	}
	h.newGuest = h.spawnGuest
	h.closeFn = rt.Close

	wasiCfg := &wasip1.Config{
		Args:    h.currentArgs,
		Environ: func() []string { return renderEnviron(cfg.env) },
		FS:      cfg.fs,
		Stdout:  &h.stdout,
		Stderr:  &h.stderr,
		Now:     cfg.now,
		Rand:    cfg.rand,
		Logger:  cfg.log,
	}
	if _, err := wasip1.Instantiate(ctx, rt, wasiCfg); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("zeroperl: instantiating system interface: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, guestWasm)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("zeroperl: compiling guest: %w", err)
	}
	if err := validateGuestABI(compiled); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("zeroperl: %w", err)
	}
	h.compiled = compiled

	g, err := h.newGuest(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("zeroperl: instantiating guest: %w", err)
	}
	h.g = g
	h.initialized = true
	h.log.Debug("host initialized", zap.Int("memory_limit_pages", int(cfg.memoryPages)))
	return h, nil
}

// spawnGuest instantiates a fresh interpreter instance from the compiled
// module. The guest is a reactor, not a command: no _start runs, and the
// optional _initialize export is called exactly once here.
func (h *Host) spawnGuest(ctx context.Context) (guest, error) {
	mod, err := h.rt.InstantiateModule(ctx, h.compiled,
		wazero.NewModuleConfig().WithName("zeroperl").WithStartFunctions())
	if err != nil {
		return nil, err
	}
	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, err
		}
	}
	return &wasmGuest{mod: mod}, nil
}

// ensureGuest makes sure a live instance exists, respawning after a guest
// exit. Respawn is deliberately lazy: the exit itself is a normal outcome,
// and the cost of a new instance is only paid if the host is used again.
func (h *Host) ensureGuest(ctx context.Context) error {
	if h.g != nil && !h.exited {
		return nil
	}
	h.log.Debug("respawning guest")
	g, err := h.newGuest(ctx)
	if err != nil {
		return fmt.Errorf("zeroperl: reinstantiating guest: %w", err)
	}
	h.g = g
	h.exited = false
	return nil
}

// Eval evaluates code in the interpreter. Extra args are appended to the base
// argument vector for the duration of the call.
//
// A script that dies yields Result{Success: false} with the interpreter's
// error text, which is also recorded as the session last-error; variable
// bindings survive. A script that calls exit yields the exit code and
// terminates the instance; the next operation transparently gets a fresh one.
func (h *Host) Eval(ctx context.Context, code string, args ...string) (Result, error) {
	if h.closed {
		return Result{}, ErrClosed
	}
	if err := h.ensureGuest(ctx); err != nil {
		return Result{}, err
	}
	if err := h.cfg.fs.ResolveAll(ctx); err != nil {
		return Result{}, fmt.Errorf("zeroperl: resolving virtual files: %w", err)
	}

	h.evalArgs = args
	defer func() { h.evalArgs = nil }()

	status, err := h.g.Eval(ctx, code, args)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) {
			h.exited = true
			code := int(exitErr.ExitCode())
			h.log.Debug("guest exited", zap.Int("code", code))
			res := Result{Success: code == 0, ExitCode: code}
			if code != 0 {
				h.lastError = fmt.Sprintf("exited with status %d", code)
				res.Error = h.lastError
			}
			return res, nil
		}
		return Result{}, fmt.Errorf("zeroperl: eval: %w", err)
	}

	if status != 0 {
		msg, err := h.g.ErrSV(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("zeroperl: reading interpreter error: %w", err)
		}
		if msg == "" {
			msg = fmt.Sprintf("script failed with status %d", status)
		}
		h.lastError = msg
		return Result{Success: false, Error: msg}, nil
	}
	return Result{Success: true}, nil
}

// RunFile evaluates the script stored at path in the virtual filesystem.
// A missing script is a script-level failure recorded as the last-error; the
// interpreter is never entered.
func (h *Host) RunFile(ctx context.Context, path string, args ...string) (Result, error) {
	if h.closed {
		return Result{}, ErrClosed
	}
	if err := h.cfg.fs.ResolveAll(ctx); err != nil {
		return Result{}, fmt.Errorf("zeroperl: resolving virtual files: %w", err)
	}
	src, err := h.cfg.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			h.lastError = fmt.Sprintf("file not found: %s", vfs.Canonical(path))
			return Result{Success: false, Error: h.lastError}, nil
		}
		return Result{}, fmt.Errorf("zeroperl: reading %s: %w", path, err)
	}
	return h.Eval(ctx, string(src), args...)
}

// GetVariable reads a scalar from the interpreter. The bool result is false
// when the name is unbound, which is not an error.
func (h *Host) GetVariable(ctx context.Context, name string) (string, bool, error) {
	if h.closed {
		return "", false, ErrClosed
	}
	if err := h.ensureGuest(ctx); err != nil {
		return "", false, err
	}
	val, ok, err := h.g.GetVar(ctx, name)
	if err != nil {
		return "", false, fmt.Errorf("zeroperl: reading %q: %w", name, err)
	}
	return val, ok, nil
}

// SetVariable binds a scalar in the interpreter. The binding persists across
// evaluations until the instance is reset or exits.
func (h *Host) SetVariable(ctx context.Context, name, value string) error {
	if h.closed {
		return ErrClosed
	}
	if err := h.ensureGuest(ctx); err != nil {
		return err
	}
	if err := h.g.SetVar(ctx, name, value); err != nil {
		return fmt.Errorf("zeroperl: setting %q: %w", name, err)
	}
	return nil
}

// Flush drains the captured guest stdout, then stderr, into the configured
// sinks in original write order and clears the buffers. Guest output is never
// delivered to the sinks mid-evaluation; Flush is the only delivery point.
func (h *Host) Flush() error {
	if h.closed {
		return ErrClosed
	}
	if _, err := io.Copy(h.cfg.stdout, &h.stdout); err != nil {
		return fmt.Errorf("zeroperl: flushing stdout: %w", err)
	}
	if _, err := io.Copy(h.cfg.stderr, &h.stderr); err != nil {
		return fmt.Errorf("zeroperl: flushing stderr: %w", err)
	}
	return nil
}

// LastError returns the most recent script-level error text, or the empty
// string when none is recorded.
func (h *Host) LastError() string { return h.lastError }

// ClearError discards the recorded script-level error.
func (h *Host) ClearError() { h.lastError = "" }

// Initialized reports whether construction completed.
func (h *Host) Initialized() bool { return h.initialized }

// CanEvaluate reports whether the host will accept evaluation requests.
func (h *Host) CanEvaluate() bool { return h.initialized && !h.closed }

// Reset discards the current interpreter instance and all captured output and
// error state, then instantiates a fresh guest. Configuration, the virtual
// filesystem, and its resolution cache survive.
func (h *Host) Reset(ctx context.Context) error {
	if h.closed {
		return ErrClosed
	}
	if h.g != nil && !h.exited {
		if err := h.g.Close(ctx); err != nil {
			return fmt.Errorf("zeroperl: closing guest: %w", err)
		}
	}
	h.g = nil
	h.exited = false
	h.stdout.Reset()
	h.stderr.Reset()
	h.lastError = ""
	return h.ensureGuest(ctx)
}

// Close releases the runtime and everything instantiated in it. Close is
// idempotent; all other operations fail with ErrClosed afterwards.
func (h *Host) Close(ctx context.Context) error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.g = nil
	return h.closeFn(ctx)
}

// currentArgs renders the argv snapshot the guest observes: the configured
// base vector plus the in-flight evaluation's extra arguments.
func (h *Host) currentArgs() []string {
	out := make([]string, 0, len(h.cfg.args)+len(h.evalArgs))
	out = append(out, h.cfg.args...)
	return append(out, h.evalArgs...)
}

// renderEnviron flattens the environment map into sorted KEY=VALUE entries so
// the sizes and fill phases of environ_get see an identical layout.
func renderEnviron(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
