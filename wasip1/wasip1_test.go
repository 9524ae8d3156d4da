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
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/davidkaufman/zeroperl-go/abi"
	"github.com/davidkaufman/zeroperl-go/vfs"
)

// fakeMemory is a fixed-size linear memory; syscall bodies take abi.Memory so
// they can run against it without a wasm runtime.
type fakeMemory struct {
	data []byte
}

func newFakeMemory(size uint32) *fakeMemory {
	return &fakeMemory{data: make([]byte, size)}
}

func (m *fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(m.data)) {
		return nil, false
	}
	return m.data[offset : offset+byteCount], true
}

func (m *fakeMemory) Write(offset uint32, p []byte) bool {
	if uint64(offset)+uint64(len(p)) > uint64(len(m.data)) {
		return false
	}
	copy(m.data[offset:], p)
	return true
}

func (m *fakeMemory) WriteByte(offset uint32, v byte) bool {
	return m.Write(offset, []byte{v})
}

func (m *fakeMemory) WriteUint32Le(offset, v uint32) bool {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return m.Write(offset, buf[:])
}

func (m *fakeMemory) WriteUint64Le(offset uint32, v uint64) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return m.Write(offset, buf[:])
}

func (m *fakeMemory) ReadUint32Le(offset uint32) (uint32, bool) {
	buf, ok := m.Read(offset, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(buf), true
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.data)) }

// putIovec writes one {addr, len} pair of an iovec array.
func putIovec(t *testing.T, mem *fakeMemory, iovs, i, addr, length uint32) {
	t.Helper()
	require.True(t, mem.WriteUint32Le(iovs+8*i, addr))
	require.True(t, mem.WriteUint32Le(iovs+8*i+4, length))
}

// putPath writes a path string into memory and returns its length.
func putPath(t *testing.T, mem *fakeMemory, addr uint32, p string) uint32 {
	t.Helper()
	require.True(t, mem.Write(addr, []byte(p)))
	return uint32(len(p))
}

func newTestProvider(fs *vfs.FS, stdout, stderr *bytes.Buffer) *fdProvider {
	cfg := &Config{FS: fs}
	// Assign only non-nil buffers: a typed nil stored in the io.Writer field
	// would defeat the Config defaults.
	if stdout != nil {
		cfg.Stdout = stdout
	}
	if stderr != nil {
		cfg.Stderr = stderr
	}
	return &fdProvider{cfg: cfg.normalized()}
}

// TestWriteSizes checks the two-value answer of the sizes phase.
func TestWriteSizes(t *testing.T) {
	mem := newFakeMemory(64)
	errno := writeSizes(mem, []string{"perl", "-w"}, 0, 8)
	require.Equal(t, abi.ErrnoSuccess, errno)

	count, ok := mem.ReadUint32Le(0)
	require.True(t, ok)
	require.Equal(t, uint32(2), count)
	bufSize, ok := mem.ReadUint32Le(8)
	require.True(t, ok)
	require.Equal(t, uint32(8), bufSize)

	require.Equal(t, abi.ErrnoFault, writeSizes(mem, nil, 62, 0))
}

// TestPrestat checks the single preopen announcement on fd 3 and the EBADF
// answer that terminates libc's preopen walk.
func TestPrestat(t *testing.T) {
	p := newTestProvider(vfs.New(), nil, nil)
	mem := newFakeMemory(64)

	require.Equal(t, abi.ErrnoSuccess, p.prestatGet(mem, fdRoot, 0))
	require.Equal(t, byte(0), mem.data[0], "tag must be prestat_dir")
	nameLen, ok := mem.ReadUint32Le(4)
	require.True(t, ok)
	require.Equal(t, uint32(1), nameLen)

	require.Equal(t, abi.ErrnoBadf, p.prestatGet(mem, fdBase, 0))
	require.Equal(t, abi.ErrnoBadf, p.prestatGet(mem, fdStdin, 0))

	require.Equal(t, abi.ErrnoSuccess, p.prestatDirName(mem, fdRoot, 16, 8))
	require.Equal(t, byte('/'), mem.data[16])
	require.Equal(t, abi.ErrnoNametoolong, p.prestatDirName(mem, fdRoot, 16, 0))
}

// TestPathOpenRead opens a virtual file and reads it back through a
// two-entry iovec scatter.
func TestPathOpenRead(t *testing.T) {
	fs := vfs.New()
	fs.AddFileString("/data/in.txt", "abcdef")
	p := newTestProvider(fs, nil, nil)
	mem := newFakeMemory(1024)

	pathLen := putPath(t, mem, 100, "/data/in.txt")
	errno := p.pathOpen(mem, fdRoot, 100, pathLen, 0, rightFdRead, 200)
	require.Equal(t, abi.ErrnoSuccess, errno)
	fd, ok := mem.ReadUint32Le(200)
	require.True(t, ok)
	require.Equal(t, uint32(fdBase), fd, "first dynamic descriptor")

	putIovec(t, mem, 300, 0, 400, 4)
	putIovec(t, mem, 300, 1, 500, 10)
	require.Equal(t, abi.ErrnoSuccess, p.fdRead(mem, fd, 300, 2, 600))

	nread, ok := mem.ReadUint32Le(600)
	require.True(t, ok)
	require.Equal(t, uint32(6), nread)
	require.Equal(t, "abcd", string(mem.data[400:404]))
	require.Equal(t, "ef", string(mem.data[500:502]))

	// Cursor at EOF now: zero bytes, success.
	require.Equal(t, abi.ErrnoSuccess, p.fdRead(mem, fd, 300, 2, 600))
	nread, _ = mem.ReadUint32Le(600)
	require.Zero(t, nread)

	require.Equal(t, abi.ErrnoSuccess, p.fdClose(fd))
	require.Equal(t, abi.ErrnoBadf, p.fdRead(mem, fd, 300, 1, 600))
}

// TestPathOpenErrors covers the missing, directory, and wrong-dirfd answers.
func TestPathOpenErrors(t *testing.T) {
	fs := vfs.New()
	fs.AddFileString("/dir/f", "x")
	p := newTestProvider(fs, nil, nil)
	mem := newFakeMemory(256)

	pathLen := putPath(t, mem, 0, "/missing")
	require.Equal(t, abi.ErrnoNoent, p.pathOpen(mem, fdRoot, 0, pathLen, 0, rightFdRead, 128))

	pathLen = putPath(t, mem, 0, "/dir")
	require.Equal(t, abi.ErrnoIsdir, p.pathOpen(mem, fdRoot, 0, pathLen, 0, rightFdRead, 128))

	pathLen = putPath(t, mem, 0, "/dir/f")
	require.Equal(t, abi.ErrnoBadf, p.pathOpen(mem, fdStdin, 0, pathLen, 0, rightFdRead, 128))
}

// TestPathOpenWrite covers create, truncate, exclusive-create, and the
// publish of written content back into the filesystem on close.
func TestPathOpenWrite(t *testing.T) {
	fs := vfs.New()
	fs.AddFileString("/old", "previous")
	p := newTestProvider(fs, nil, nil)
	mem := newFakeMemory(512)

	// O_CREAT on a missing path.
	pathLen := putPath(t, mem, 0, "/new")
	errno := p.pathOpen(mem, fdRoot, 0, pathLen, oflagCreat, rightFdWrite, 128)
	require.Equal(t, abi.ErrnoSuccess, errno)
	fd, _ := mem.ReadUint32Le(128)

	require.True(t, mem.Write(200, []byte("fresh")))
	putIovec(t, mem, 256, 0, 200, 5)
	require.Equal(t, abi.ErrnoSuccess, p.fdWrite(mem, fd, 256, 1, 300))
	require.Equal(t, abi.ErrnoSuccess, p.fdClose(fd))

	data, err := fs.ReadFile("/new")
	require.NoError(t, err)
	require.Equal(t, "fresh", string(data))

	// O_TRUNC discards existing content.
	pathLen = putPath(t, mem, 0, "/old")
	errno = p.pathOpen(mem, fdRoot, 0, pathLen, oflagTrunc, rightFdWrite, 128)
	require.Equal(t, abi.ErrnoSuccess, errno)
	fd, _ = mem.ReadUint32Le(128)
	require.Equal(t, abi.ErrnoSuccess, p.fdClose(fd))
	data, err = fs.ReadFile("/old")
	require.NoError(t, err)
	require.Empty(t, data)

	// O_CREAT|O_EXCL on an existing path.
	pathLen = putPath(t, mem, 0, "/new")
	errno = p.pathOpen(mem, fdRoot, 0, pathLen, oflagCreat|oflagExcl, rightFdWrite, 128)
	require.Equal(t, abi.ErrnoExist, errno)
}

// TestFdWriteStdio checks that descriptors 1 and 2 land in their sinks and
// that non-writable fds answer EBADF.
func TestFdWriteStdio(t *testing.T) {
	var stdout, stderr bytes.Buffer
	p := newTestProvider(vfs.New(), &stdout, &stderr)
	mem := newFakeMemory(256)

	require.True(t, mem.Write(0, []byte("out")))
	require.True(t, mem.Write(16, []byte("err")))
	putIovec(t, mem, 64, 0, 0, 3)
	putIovec(t, mem, 128, 0, 16, 3)

	require.Equal(t, abi.ErrnoSuccess, p.fdWrite(mem, fdStdout, 64, 1, 200))
	require.Equal(t, abi.ErrnoSuccess, p.fdWrite(mem, fdStderr, 128, 1, 200))
	require.Equal(t, "out", stdout.String())
	require.Equal(t, "err", stderr.String())
	nwritten, _ := mem.ReadUint32Le(200)
	require.Equal(t, uint32(3), nwritten)

	require.Equal(t, abi.ErrnoBadf, p.fdWrite(mem, fdStdin, 64, 1, 200))
	require.Equal(t, abi.ErrnoBadf, p.fdWrite(mem, fdRoot, 64, 1, 200))
}

// TestFdSeekTell checks stream rejection and regular-file repositioning.
func TestFdSeekTell(t *testing.T) {
	fs := vfs.New()
	fs.AddFileString("/f", "0123456789")
	p := newTestProvider(fs, nil, nil)
	mem := newFakeMemory(256)

	require.Equal(t, abi.ErrnoSpipe, p.fdSeek(mem, fdStdout, 0, 0, 64))
	require.Equal(t, abi.ErrnoBadf, p.fdSeek(mem, fdRoot, 0, 0, 64))

	pathLen := putPath(t, mem, 0, "/f")
	require.Equal(t, abi.ErrnoSuccess, p.pathOpen(mem, fdRoot, 0, pathLen, 0, rightFdRead, 32))
	fd, _ := mem.ReadUint32Le(32)

	require.Equal(t, abi.ErrnoSuccess, p.fdSeek(mem, fd, -3, 2, 64))
	pos := binary.LittleEndian.Uint64(mem.data[64:])
	require.Equal(t, uint64(7), pos)

	require.Equal(t, abi.ErrnoSuccess, p.fdTell(mem, fd, 64))
	pos = binary.LittleEndian.Uint64(mem.data[64:])
	require.Equal(t, uint64(7), pos)

	require.Equal(t, abi.ErrnoInval, p.fdSeek(mem, fd, -100, 0, 64))
}

// TestFdstatGet checks the filetype and rights answers per descriptor class.
func TestFdstatGet(t *testing.T) {
	fs := vfs.New()
	fs.AddFileString("/f", "x")
	p := newTestProvider(fs, nil, nil)
	mem := newFakeMemory(256)

	require.Equal(t, abi.ErrnoSuccess, p.fdstatGet(mem, fdStdout, 0))
	require.Equal(t, byte(filetypeCharDevice), mem.data[0])
	rights := binary.LittleEndian.Uint64(mem.data[8:])
	require.Equal(t, rightFdWrite, rights)

	require.Equal(t, abi.ErrnoSuccess, p.fdstatGet(mem, fdRoot, 32))
	require.Equal(t, byte(filetypeDirectory), mem.data[32])
	rights = binary.LittleEndian.Uint64(mem.data[40:])
	require.NotZero(t, rights&rightPathOpen)

	pathLen := putPath(t, mem, 100, "/f")
	require.Equal(t, abi.ErrnoSuccess, p.pathOpen(mem, fdRoot, 100, pathLen, 0, rightFdRead, 128))
	fd, _ := mem.ReadUint32Le(128)
	require.Equal(t, abi.ErrnoSuccess, p.fdstatGet(mem, fd, 160))
	require.Equal(t, byte(filetypeRegular), mem.data[160])

	require.Equal(t, abi.ErrnoBadf, p.fdstatGet(mem, fdBase+17, 160))
}

// TestFilestat checks the fd- and path-based stat answers, including the
// size field and directory filetype.
func TestFilestat(t *testing.T) {
	fs := vfs.New()
	fs.AddFileString("/d/f", "12345")
	p := newTestProvider(fs, nil, nil)
	mem := newFakeMemory(512)

	pathLen := putPath(t, mem, 0, "/d/f")
	require.Equal(t, abi.ErrnoSuccess, p.pathFilestatGet(mem, fdRoot, 0, pathLen, 64))
	require.Equal(t, byte(filetypeRegular), mem.data[64+16])
	require.Equal(t, uint64(5), binary.LittleEndian.Uint64(mem.data[64+32:]))
	require.NotZero(t, binary.LittleEndian.Uint64(mem.data[64+8:]), "inode")

	pathLen = putPath(t, mem, 0, "/d")
	require.Equal(t, abi.ErrnoSuccess, p.pathFilestatGet(mem, fdRoot, 0, pathLen, 192))
	require.Equal(t, byte(filetypeDirectory), mem.data[192+16])

	pathLen = putPath(t, mem, 0, "/nope")
	require.Equal(t, abi.ErrnoNoent, p.pathFilestatGet(mem, fdRoot, 0, pathLen, 192))

	pathLen = putPath(t, mem, 0, "/d/f")
	require.Equal(t, abi.ErrnoSuccess, p.pathOpen(mem, fdRoot, 0, pathLen, 0, rightFdRead, 320))
	fd, _ := mem.ReadUint32Le(320)
	require.Equal(t, abi.ErrnoSuccess, p.filestatGet(mem, fd, 384))
	require.Equal(t, uint64(5), binary.LittleEndian.Uint64(mem.data[384+32:]))
}

// TestStubsAnswerNosys checks the stub table: correct arity declarations and
// an ENOSYS result for every name.
func TestStubsAnswerNosys(t *testing.T) {
	cfg := (&Config{}).normalized()
	stubs := stubFuncs(cfg)
	require.Contains(t, stubs, "fd_readdir")
	require.Contains(t, stubs, "poll_oneoff")
	require.Contains(t, stubs, "path_unlink_file")

	for name, fn := range stubs {
		stack := make([]uint64, max(len(fn.params), 1))
		fn.call(context.Background(), nil, stack)
		require.Equal(t, uint64(abi.ErrnoNosys), stack[0], "stub %s", name)
	}
}

// TestMergePrecedence checks last-writer-wins composition: a real provider
// must replace a stub registered under the same name.
func TestMergePrecedence(t *testing.T) {
	cfg := (&Config{}).normalized()
	answer := func(errno abi.Errno) funcMap {
		return funcMap{"probe": cfg.errnoFunc("probe", nil,
			func(context.Context, api.Module, []uint64) abi.Errno {
				return errno
			})}
	}

	merged := merge(answer(abi.ErrnoNosys), answer(abi.ErrnoSuccess))
	require.Len(t, merged, 1)

	stack := make([]uint64, 1)
	merged["probe"].call(context.Background(), nil, stack)
	require.Equal(t, uint64(abi.ErrnoSuccess), stack[0])
}

// TestMapErr checks the sentinel-to-errno translation.
func TestMapErr(t *testing.T) {
	tests := []struct {
		err   error
		errno abi.Errno
	}{
		{nil, abi.ErrnoSuccess},
		{vfs.ErrNotFound, abi.ErrnoNoent},
		{vfs.ErrIsDirectory, abi.ErrnoIsdir},
		{vfs.ErrBadDescriptor, abi.ErrnoBadf},
		{vfs.ErrInvalidSeek, abi.ErrnoInval},
		{vfs.ErrNotSupported, abi.ErrnoNotsup},
		{vfs.ErrUnresolved, abi.ErrnoIo},
		{context.Canceled, abi.ErrnoIo},
	}
	for _, tt := range tests {
		require.Equal(t, tt.errno, mapErr(tt.err))
	}
}
