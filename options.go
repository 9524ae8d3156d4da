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
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/davidkaufman/zeroperl-go/vfs"
)

// config holds the host configuration assembled from options. Everything in
// it survives Reset; only Close tears it down.
type config struct {
	args        []string
	env         map[string]string
	fs          *vfs.FS
	stdout      io.Writer
	stderr      io.Writer
	memoryPages uint32
	now         func() time.Time
	rand        io.Reader
	log         *zap.Logger
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		args:        []string{"perl"},
		env:         map[string]string{},
		fs:          vfs.New(),
		stdout:      io.Discard,
		stderr:      io.Discard,
		memoryPages: 65536, // 4GB, the wasm32 maximum
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures a Host at construction time.
type Option func(*config)

// WithArgs sets the base argument vector the guest sees via args_get. Per-call
// arguments passed to Eval or RunFile are appended after these.
//
// Default: {"perl"}
func WithArgs(args ...string) Option {
	return func(cfg *config) { cfg.args = args }
}

// WithEnv sets the guest's environment. Entries are rendered as KEY=VALUE in
// sorted key order so consecutive syscalls observe one stable layout.
func WithEnv(env map[string]string) Option {
	return func(cfg *config) { cfg.env = env }
}

// WithFS supplies a pre-populated virtual filesystem. The host takes no
// ownership; the caller may keep adding files between evaluations.
func WithFS(fs *vfs.FS) Option {
	return func(cfg *config) { cfg.fs = fs }
}

// WithStdout sets the sink Flush drains captured guest stdout into.
//
// Default: io.Discard
func WithStdout(w io.Writer) Option {
	return func(cfg *config) { cfg.stdout = w }
}

// WithStderr sets the sink Flush drains captured guest stderr into.
//
// Default: io.Discard
func WithStderr(w io.Writer) Option {
	return func(cfg *config) { cfg.stderr = w }
}

// WithMaxMemory sets the maximum guest memory in bytes, rounded down to the
// nearest 64KB wasm page.
//
// Default: 4GB
func WithMaxMemory(maxBytes uint32) Option {
	pages := maxBytes / 65536
	return func(cfg *config) { cfg.memoryPages = min(cfg.memoryPages, pages) }
}

// WithWalltime overrides the wall clock the guest observes, making
// clock-dependent scripts deterministic. The monotonic clock derives from the
// same source.
func WithWalltime(now func() time.Time) Option {
	return func(cfg *config) { cfg.now = now }
}

// WithRandSource overrides the random_get entropy source.
//
// Default: crypto/rand
func WithRandSource(r io.Reader) Option {
	return func(cfg *config) { cfg.rand = r }
}

// WithLogger installs a logger for syscall tracing and lifecycle events.
//
// Default: zap.NewNop()
func WithLogger(log *zap.Logger) Option {
	return func(cfg *config) { cfg.log = log }
}
