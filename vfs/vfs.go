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

// Package vfs implements the virtual filesystem the guest sees.
//
// Files live in a flat, path-indexed node map; directories exist implicitly
// as path prefixes unless materialized with AddDir. Content is either inline
// bytes or a deferred ContentSource that must be materialized asynchronously.
// The guest executes strictly synchronously, so deferred content is resolved
// in a pre-flight pass (ResolveAll) before any guest entry point runs and
// cached; a synchronous read that reaches an unresolved node fails with
// ErrUnresolved rather than blocking.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotFound reports that no node exists at the requested path.
	ErrNotFound = errors.New("vfs: file not found")

	// ErrIsDirectory reports file I/O attempted on a directory.
	ErrIsDirectory = errors.New("vfs: is a directory")

	// ErrBadDescriptor reports an unknown or already-closed descriptor.
	ErrBadDescriptor = errors.New("vfs: bad file descriptor")

	// ErrInvalidSeek reports a seek that would land before the start of the
	// file or uses an unknown whence.
	ErrInvalidSeek = errors.New("vfs: invalid seek")

	// ErrNotSupported reports an operation the descriptor's mode forbids.
	ErrNotSupported = errors.New("vfs: operation not supported")

	// ErrUnresolved reports a synchronous read of deferred content that was
	// not materialized by a ResolveAll pass.
	ErrUnresolved = errors.New("vfs: deferred content not resolved")
)

// ContentSource supplies file content that requires asynchronous
// materialization, such as a network blob. Resolve is only ever called from
// the pre-flight resolution pass, never from inside a guest syscall.
type ContentSource interface {
	Resolve(ctx context.Context) ([]byte, error)
}

// SourceFunc adapts a function to the ContentSource interface.
type SourceFunc func(ctx context.Context) ([]byte, error)

// Resolve implements ContentSource.
func (f SourceFunc) Resolve(ctx context.Context) ([]byte, error) { return f(ctx) }

type node struct {
	path   string
	dir    bool
	inline []byte        // nil when source is set and unresolved
	source ContentSource // nil for inline nodes
}

// FileInfo describes a node.
type FileInfo struct {
	Path  string
	Size  int64
	IsDir bool
}

// FS is a virtual filesystem plus its open-descriptor table.
//
// Population (AddFile and friends) and ResolveAll may be called from any
// goroutine; the descriptor operations are only ever invoked from guest
// syscalls, which the host serializes.
type FS struct {
	mu    sync.Mutex
	nodes map[string]*node
	cache map[string][]byte // resolved deferred content, keyed by path

	open []*openFile // descriptor table; index is the descriptor id
}

// New returns an empty filesystem.
func New() *FS {
	return &FS{
		nodes: make(map[string]*node),
		cache: make(map[string][]byte),
	}
}

// Canonical converts p to the canonical slash-separated absolute form used
// as the node key: leading slash, no trailing slash, "." and ".." collapsed.
func Canonical(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// AddFile adds or replaces a file with inline content. Replacing a node
// invalidates that path's resolution-cache entry; other entries are kept.
func (fs *FS) AddFile(p string, data []byte) {
	fs.addNode(&node{path: Canonical(p), inline: data})
}

// AddFileString adds or replaces a file with inline string content.
func (fs *FS) AddFileString(p, data string) {
	fs.AddFile(p, []byte(data))
}

// AddSource adds or replaces a file whose content is materialized by src
// during the next resolution pass.
func (fs *FS) AddSource(p string, src ContentSource) {
	fs.addNode(&node{path: Canonical(p), source: src})
}

// AddDir materializes a directory node. Directories also exist implicitly as
// prefixes of file paths; an explicit node only matters for stat calls on an
// otherwise empty directory.
func (fs *FS) AddDir(p string) {
	fs.addNode(&node{path: Canonical(p), dir: true})
}

func (fs *FS) addNode(n *node) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nodes[n.path] = n
	delete(fs.cache, n.path)
}

// ResolveAll materializes every deferred, uncached node into the resolution
// cache. The host runs this before each guest entry point that might touch
// the filesystem; it is the only suspension point between host and guest.
// Sources resolve concurrently and the first failure aborts the pass.
func (fs *FS) ResolveAll(ctx context.Context) error {
	fs.mu.Lock()
	type pending struct {
		path string
		src  ContentSource
	}
	var todo []pending
	for p, n := range fs.nodes {
		if n.source == nil {
			continue
		}
		if _, ok := fs.cache[p]; ok {
			continue
		}
		todo = append(todo, pending{p, n.source})
	}
	fs.mu.Unlock()

	if len(todo) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	resolved := make([][]byte, len(todo))
	for i, pend := range todo {
		i, pend := i, pend
		g.Go(func() error {
			data, err := pend.src.Resolve(ctx)
			if err != nil {
				return fmt.Errorf("vfs: resolving %s: %w", pend.path, err)
			}
			resolved[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i, pend := range todo {
		// A concurrent AddFile may have replaced the node; only cache the
		// result if the same source is still installed.
		if n, ok := fs.nodes[pend.path]; ok && n.source != nil {
			fs.cache[pend.path] = resolved[i]
		}
	}
	return nil
}

// content returns the resolved bytes for n. Callers hold fs.mu.
func (fs *FS) content(n *node) ([]byte, error) {
	if n.dir {
		return nil, ErrIsDirectory
	}
	if n.source == nil {
		return n.inline, nil
	}
	data, ok := fs.cache[n.path]
	if !ok {
		return nil, ErrUnresolved
	}
	return data, nil
}

// ReadFile returns the resolved content at p. Deferred nodes must have been
// materialized by ResolveAll first.
func (fs *FS) ReadFile(p string) ([]byte, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = Canonical(p)
	n, ok := fs.nodes[p]
	if !ok {
		if fs.isImplicitDir(p) {
			return nil, ErrIsDirectory
		}
		return nil, ErrNotFound
	}
	return fs.content(n)
}

// StatPath describes the node at p, including implicit directories.
func (fs *FS) StatPath(p string) (FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p = Canonical(p)
	if n, ok := fs.nodes[p]; ok {
		if n.dir {
			return FileInfo{Path: p, IsDir: true}, nil
		}
		data, err := fs.content(n)
		if err != nil {
			return FileInfo{}, err
		}
		return FileInfo{Path: p, Size: int64(len(data))}, nil
	}
	if fs.isImplicitDir(p) {
		return FileInfo{Path: p, IsDir: true}, nil
	}
	return FileInfo{}, ErrNotFound
}

// Paths returns every materialized node path in sorted order.
func (fs *FS) Paths() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]string, 0, len(fs.nodes))
	for p := range fs.nodes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// isImplicitDir reports whether p is a strict prefix of any node path.
// Callers hold fs.mu.
func (fs *FS) isImplicitDir(p string) bool {
	if p == "/" {
		return true
	}
	prefix := p + "/"
	for q := range fs.nodes {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}
