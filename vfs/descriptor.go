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

package vfs

import "io"

// Mode selects the I/O direction of an open descriptor.
type Mode uint8

const (
	// ModeRead opens for reading with the cursor at 0.
	ModeRead Mode = iota
	// ModeWrite opens for writing with the cursor at 0; writes overwrite at
	// the cursor and extend the file as needed.
	ModeWrite
)

// Whence values for Seek, matching io.Seek* and the WASI encoding.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// openFile is one descriptor-table entry. A descriptor id is valid only
// between Open and Close; a reused slot is a distinct logical handle even
// though the integer repeats.
type openFile struct {
	path   string
	mode   Mode
	cursor int64
	data   []byte // resolved backing buffer; for ModeWrite, the working copy
}

// Open opens the file at p and returns a new descriptor id. Ids are small
// non-negative integers allocated lowest-free-first and reused after Close.
//
// Open fails with ErrNotFound when no node exists at p, ErrIsDirectory when p
// names an (explicit or implicit) directory, and ErrUnresolved when deferred
// content was not materialized by a prior ResolveAll.
func (fs *FS) Open(p string, mode Mode) (int32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	p = Canonical(p)
	n, ok := fs.nodes[p]
	if !ok {
		if fs.isImplicitDir(p) {
			return 0, ErrIsDirectory
		}
		return 0, ErrNotFound
	}
	data, err := fs.content(n)
	if err != nil {
		return 0, err
	}
	if mode == ModeWrite {
		// Work on a copy so a failed or abandoned writer never corrupts the
		// node; Close publishes the buffer back.
		data = append([]byte(nil), data...)
	}

	f := &openFile{path: p, mode: mode, data: data}
	for id, slot := range fs.open {
		if slot == nil {
			fs.open[id] = f
			return int32(id), nil
		}
	}
	fs.open = append(fs.open, f)
	return int32(len(fs.open) - 1), nil
}

// lookup resolves a descriptor id. Callers hold fs.mu.
func (fs *FS) lookup(fd int32) (*openFile, error) {
	if fd < 0 || int(fd) >= len(fs.open) || fs.open[fd] == nil {
		return nil, ErrBadDescriptor
	}
	return fs.open[fd], nil
}

// Read copies up to len(p) bytes from the descriptor's cursor into p and
// advances the cursor. At or past end-of-file it returns (0, nil): zero bytes
// is the explicit EOF indication, not an error.
func (fs *FS) Read(fd int32, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, err := fs.lookup(fd)
	if err != nil {
		return 0, err
	}
	if f.cursor >= int64(len(f.data)) {
		return 0, nil
	}
	n := copy(p, f.data[f.cursor:])
	f.cursor += int64(n)
	return n, nil
}

// Write copies p at the descriptor's cursor, extending the buffer as needed,
// and advances the cursor. Read-mode descriptors fail with ErrNotSupported.
func (fs *FS) Write(fd int32, p []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, err := fs.lookup(fd)
	if err != nil {
		return 0, err
	}
	if f.mode != ModeWrite {
		return 0, ErrNotSupported
	}
	if need := f.cursor + int64(len(p)); need > int64(len(f.data)) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}
	n := copy(f.data[f.cursor:], p)
	f.cursor += int64(n)
	return n, nil
}

// Seek repositions the cursor and returns its new absolute offset. Seeking
// past the end is allowed (a later read reports EOF); a negative result
// fails with ErrInvalidSeek and leaves the cursor unchanged.
func (fs *FS) Seek(fd int32, offset int64, whence int) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, err := fs.lookup(fd)
	if err != nil {
		return 0, err
	}
	var abs int64
	switch whence {
	case SeekStart:
		abs = offset
	case SeekCurrent:
		abs = f.cursor + offset
	case SeekEnd:
		abs = int64(len(f.data)) + offset
	default:
		return 0, ErrInvalidSeek
	}
	if abs < 0 {
		return 0, ErrInvalidSeek
	}
	f.cursor = abs
	return abs, nil
}

// Tell returns the descriptor's current cursor offset.
func (fs *FS) Tell(fd int32) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, err := fs.lookup(fd)
	if err != nil {
		return 0, err
	}
	return f.cursor, nil
}

// Stat describes the open descriptor's backing file.
func (fs *FS) Stat(fd int32) (FileInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, err := fs.lookup(fd)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Path: f.path, Size: int64(len(f.data))}, nil
}

// Close frees the descriptor's slot for reuse. Write-mode descriptors
// publish their working buffer back to the node as inline content, replacing
// any deferred source. Operations on a closed id fail with ErrBadDescriptor.
func (fs *FS) Close(fd int32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, err := fs.lookup(fd)
	if err != nil {
		return err
	}
	if f.mode == ModeWrite {
		fs.nodes[f.path] = &node{path: f.path, inline: f.data}
		delete(fs.cache, f.path)
	}
	fs.open[fd] = nil
	return nil
}
