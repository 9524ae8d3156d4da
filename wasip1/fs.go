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
	"encoding/binary"
	"errors"
	"hash/fnv"
	"io"

	"github.com/tetratelabs/wazero/api"

	"github.com/davidkaufman/zeroperl-go/abi"
	"github.com/davidkaufman/zeroperl-go/vfs"
)

// Guest descriptor layout. 0..2 are the standard streams, 3 is the single
// preopened root directory, and everything from fdBase up maps onto the vfs
// descriptor table with a fixed offset.
const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
	fdRoot   = 3
	fdBase   = 4
)

// WASI filetype values.
const (
	filetypeCharDevice = 2
	filetypeDirectory  = 3
	filetypeRegular    = 4
)

// WASI rights bits, subsetted to what the sandbox grants.
const (
	rightFdRead        uint64 = 1 << 1
	rightFdSeek        uint64 = 1 << 2
	rightFdTell        uint64 = 1 << 5
	rightFdWrite       uint64 = 1 << 6
	rightPathOpen      uint64 = 1 << 13
	rightPathFilestat  uint64 = 1 << 18
	rightFdFilestatGet uint64 = 1 << 21
)

// WASI open flags.
const (
	oflagCreat     = 1 << 0
	oflagDirectory = 1 << 1
	oflagExcl      = 1 << 2
	oflagTrunc     = 1 << 3
)

// fdProvider implements the descriptor syscalls. The bodies take abi.Memory
// and decoded arguments so they can be driven directly in tests; the wazero
// wrappers in fsFuncs only unpack the stack.
type fdProvider struct {
	cfg *Config
}

func fsFuncs(cfg *Config) funcMap {
	p := &fdProvider{cfg: cfg}
	return funcMap{
		"fd_prestat_get": cfg.errnoFunc("fd_prestat_get", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.prestatGet(mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}),
		"fd_prestat_dir_name": cfg.errnoFunc("fd_prestat_dir_name", []api.ValueType{i32, i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.prestatDirName(mod.Memory(), api.DecodeU32(stack[0]),
					api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
			}),
		"path_open": cfg.errnoFunc("path_open", []api.ValueType{i32, i32, i32, i32, i32, i64, i64, i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.pathOpen(mod.Memory(),
					api.DecodeU32(stack[0]), // dir fd
					api.DecodeU32(stack[2]), // path
					api.DecodeU32(stack[3]), // path len
					api.DecodeU32(stack[4]), // oflags
					stack[5],                // rights base
					api.DecodeU32(stack[8])) // opened fd out
			}),
		"fd_close": cfg.errnoFunc("fd_close", []api.ValueType{i32},
			func(_ context.Context, _ api.Module, stack []uint64) abi.Errno {
				return p.fdClose(api.DecodeU32(stack[0]))
			}),
		"fd_read": cfg.errnoFunc("fd_read", []api.ValueType{i32, i32, i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.fdRead(mod.Memory(), api.DecodeU32(stack[0]),
					api.DecodeU32(stack[1]), api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
			}),
		"fd_write": cfg.errnoFunc("fd_write", []api.ValueType{i32, i32, i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.fdWrite(mod.Memory(), api.DecodeU32(stack[0]),
					api.DecodeU32(stack[1]), api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
			}),
		"fd_seek": cfg.errnoFunc("fd_seek", []api.ValueType{i32, i64, i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.fdSeek(mod.Memory(), api.DecodeU32(stack[0]),
					int64(stack[1]), api.DecodeU32(stack[2]), api.DecodeU32(stack[3]))
			}),
		"fd_tell": cfg.errnoFunc("fd_tell", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.fdTell(mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}),
		"fd_fdstat_get": cfg.errnoFunc("fd_fdstat_get", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.fdstatGet(mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}),
		"fd_filestat_get": cfg.errnoFunc("fd_filestat_get", []api.ValueType{i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.filestatGet(mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}),
		"path_filestat_get": cfg.errnoFunc("path_filestat_get", []api.ValueType{i32, i32, i32, i32, i32},
			func(_ context.Context, mod api.Module, stack []uint64) abi.Errno {
				return p.pathFilestatGet(mod.Memory(), api.DecodeU32(stack[0]),
					api.DecodeU32(stack[2]), api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
			}),
	}
}

// mapErr translates vfs sentinel errors to WASI errnos. ErrUnresolved maps
// to EIO: reaching unresolved content from a syscall means the pre-flight
// resolution pass was skipped, which is a host bug, not a guest mistake.
func mapErr(err error) abi.Errno {
	switch {
	case err == nil:
		return abi.ErrnoSuccess
	case errors.Is(err, vfs.ErrNotFound):
		return abi.ErrnoNoent
	case errors.Is(err, vfs.ErrIsDirectory):
		return abi.ErrnoIsdir
	case errors.Is(err, vfs.ErrBadDescriptor):
		return abi.ErrnoBadf
	case errors.Is(err, vfs.ErrInvalidSeek):
		return abi.ErrnoInval
	case errors.Is(err, vfs.ErrNotSupported):
		return abi.ErrnoNotsup
	default:
		return abi.ErrnoIo
	}
}

func readPath(mem abi.Memory, addr, length uint32) (string, abi.Errno) {
	buf, ok := mem.Read(addr, length)
	if !ok {
		return "", abi.ErrnoFault
	}
	return string(buf), abi.ErrnoSuccess
}

func pathInode(p string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(p))
	return h.Sum64()
}

// prestatGet describes the preopens. Only fdRoot is preopened; libc walks
// ascending descriptors until it sees EBADF, so every other fd must answer
// that rather than EINVAL.
func (p *fdProvider) prestatGet(mem abi.Memory, fd, out uint32) abi.Errno {
	if fd != fdRoot {
		return abi.ErrnoBadf
	}
	if !mem.WriteByte(out, 0) { // tag: prestat_dir
		return abi.ErrnoFault
	}
	if !mem.WriteUint32Le(out+4, uint32(len("/"))) {
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}

func (p *fdProvider) prestatDirName(mem abi.Memory, fd, pathAddr, pathLen uint32) abi.Errno {
	if fd != fdRoot {
		return abi.ErrnoBadf
	}
	if pathLen < uint32(len("/")) {
		return abi.ErrnoNametoolong
	}
	if !mem.Write(pathAddr, []byte("/")) {
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}

func (p *fdProvider) pathOpen(mem abi.Memory, dirFD, pathAddr, pathLen, oflags uint32, rightsBase uint64, openedAddr uint32) abi.Errno {
	if dirFD != fdRoot {
		return abi.ErrnoBadf
	}
	pathStr, errno := readPath(mem, pathAddr, pathLen)
	if errno != abi.ErrnoSuccess {
		return errno
	}
	pathStr = vfs.Canonical(pathStr)

	info, statErr := p.cfg.FS.StatPath(pathStr)
	exists := statErr == nil
	if exists && info.IsDir {
		if oflags&oflagDirectory != 0 {
			// Directory handles beyond the preopen are not modeled; the
			// guest enumerates content through stat probes instead.
			return abi.ErrnoNotsup
		}
		return abi.ErrnoIsdir
	}

	mode := vfs.ModeRead
	if rightsBase&rightFdWrite != 0 {
		mode = vfs.ModeWrite
	}
	if mode == vfs.ModeWrite {
		if exists && oflags&oflagCreat != 0 && oflags&oflagExcl != 0 {
			return abi.ErrnoExist
		}
		if oflags&oflagTrunc != 0 {
			p.cfg.FS.AddFile(pathStr, nil)
		} else if !exists && oflags&oflagCreat != 0 {
			p.cfg.FS.AddFile(pathStr, nil)
		}
	}

	vfd, err := p.cfg.FS.Open(pathStr, mode)
	if err != nil {
		return mapErr(err)
	}
	if !mem.WriteUint32Le(openedAddr, uint32(vfd)+fdBase) {
		_ = p.cfg.FS.Close(vfd)
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}

func (p *fdProvider) fdClose(fd uint32) abi.Errno {
	switch fd {
	case fdStdin, fdStdout, fdStderr:
		// The streams outlive any guest close; accepting the close keeps
		// libc shutdown paths happy.
		return abi.ErrnoSuccess
	case fdRoot:
		return abi.ErrnoNotsup
	}
	return mapErr(p.cfg.FS.Close(int32(fd - fdBase)))
}

func (p *fdProvider) fdRead(mem abi.Memory, fd, iovs, iovsCount, nreadAddr uint32) abi.Errno {
	if fd == fdStdin {
		// No interactive input: stdin is permanently at EOF.
		if !mem.WriteUint32Le(nreadAddr, 0) {
			return abi.ErrnoFault
		}
		return abi.ErrnoSuccess
	}
	if fd < fdBase {
		return abi.ErrnoBadf
	}
	vfd := int32(fd - fdBase)

	var total uint32
	for i := uint32(0); i < iovsCount; i++ {
		ptr, errno := readIovec(mem, iovs, i)
		if errno != abi.ErrnoSuccess {
			return errno
		}
		if ptr.len == 0 {
			continue
		}
		buf, ok := mem.Read(ptr.addr, ptr.len)
		if !ok {
			return abi.ErrnoFault
		}
		n, err := p.cfg.FS.Read(vfd, buf)
		if err != nil {
			return mapErr(err)
		}
		total += uint32(n)
		if uint32(n) < ptr.len {
			break
		}
	}
	if !mem.WriteUint32Le(nreadAddr, total) {
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}

func (p *fdProvider) fdWrite(mem abi.Memory, fd, iovs, iovsCount, nwrittenAddr uint32) abi.Errno {
	var sink io.Writer
	switch fd {
	case fdStdout:
		sink = p.cfg.Stdout
	case fdStderr:
		sink = p.cfg.Stderr
	case fdStdin, fdRoot:
		return abi.ErrnoBadf
	}

	var total uint32
	for i := uint32(0); i < iovsCount; i++ {
		ptr, errno := readIovec(mem, iovs, i)
		if errno != abi.ErrnoSuccess {
			return errno
		}
		if ptr.len == 0 {
			continue
		}
		buf, ok := mem.Read(ptr.addr, ptr.len)
		if !ok {
			return abi.ErrnoFault
		}
		var n int
		var err error
		if sink != nil {
			n, err = sink.Write(buf)
			if err != nil {
				return abi.ErrnoIo
			}
		} else {
			n, err = p.cfg.FS.Write(int32(fd-fdBase), buf)
			if err != nil {
				return mapErr(err)
			}
		}
		total += uint32(n)
	}
	if !mem.WriteUint32Le(nwrittenAddr, total) {
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}

func (p *fdProvider) fdSeek(mem abi.Memory, fd uint32, offset int64, whence, newOffsetAddr uint32) abi.Errno {
	switch fd {
	case fdStdin, fdStdout, fdStderr:
		return abi.ErrnoSpipe
	case fdRoot:
		return abi.ErrnoBadf
	}
	abs, err := p.cfg.FS.Seek(int32(fd-fdBase), offset, int(whence))
	if err != nil {
		return mapErr(err)
	}
	if !mem.WriteUint64Le(newOffsetAddr, uint64(abs)) {
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}

func (p *fdProvider) fdTell(mem abi.Memory, fd, offsetAddr uint32) abi.Errno {
	if fd < fdBase {
		return abi.ErrnoSpipe
	}
	off, err := p.cfg.FS.Tell(int32(fd - fdBase))
	if err != nil {
		return mapErr(err)
	}
	if !mem.WriteUint64Le(offsetAddr, uint64(off)) {
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}

func (p *fdProvider) fdstatGet(mem abi.Memory, fd, out uint32) abi.Errno {
	var filetype byte
	var rights, inheriting uint64
	switch fd {
	case fdStdin:
		filetype, rights = filetypeCharDevice, rightFdRead
	case fdStdout, fdStderr:
		filetype, rights = filetypeCharDevice, rightFdWrite
	case fdRoot:
		filetype = filetypeDirectory
		rights = rightPathOpen | rightPathFilestat
		inheriting = rightFdRead | rightFdWrite | rightFdSeek | rightFdTell | rightFdFilestatGet
	default:
		if _, err := p.cfg.FS.Stat(int32(fd - fdBase)); err != nil {
			return mapErr(err)
		}
		filetype = filetypeRegular
		rights = rightFdRead | rightFdWrite | rightFdSeek | rightFdTell | rightFdFilestatGet
	}

	buf := make([]byte, 24)
	buf[0] = filetype
	binary.LittleEndian.PutUint64(buf[8:], rights)
	binary.LittleEndian.PutUint64(buf[16:], inheriting)
	if !mem.Write(out, buf) {
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}

func (p *fdProvider) filestatGet(mem abi.Memory, fd, out uint32) abi.Errno {
	switch fd {
	case fdStdin, fdStdout, fdStderr:
		return writeFilestat(mem, out, uint64(fd)+1, filetypeCharDevice, 0)
	case fdRoot:
		return writeFilestat(mem, out, pathInode("/"), filetypeDirectory, 0)
	}
	st, err := p.cfg.FS.Stat(int32(fd - fdBase))
	if err != nil {
		return mapErr(err)
	}
	return writeFilestat(mem, out, pathInode(st.Path), filetypeRegular, uint64(st.Size))
}

func (p *fdProvider) pathFilestatGet(mem abi.Memory, dirFD, pathAddr, pathLen, out uint32) abi.Errno {
	if dirFD != fdRoot {
		return abi.ErrnoBadf
	}
	pathStr, errno := readPath(mem, pathAddr, pathLen)
	if errno != abi.ErrnoSuccess {
		return errno
	}
	info, err := p.cfg.FS.StatPath(pathStr)
	if err != nil {
		return mapErr(err)
	}
	filetype := byte(filetypeRegular)
	if info.IsDir {
		filetype = filetypeDirectory
	}
	return writeFilestat(mem, out, pathInode(info.Path), filetype, uint64(info.Size))
}

type iovec struct {
	addr uint32
	len  uint32
}

// readIovec reads the i-th {addr, len} pair of an iovec array.
func readIovec(mem abi.Memory, iovs, i uint32) (iovec, abi.Errno) {
	base := iovs + 8*i
	addr, ok := mem.ReadUint32Le(base)
	if !ok {
		return iovec{}, abi.ErrnoFault
	}
	length, ok := mem.ReadUint32Le(base + 4)
	if !ok {
		return iovec{}, abi.ErrnoFault
	}
	return iovec{addr: addr, len: length}, abi.ErrnoSuccess
}

// writeFilestat fills the 64-byte WASI filestat record. Device and all
// timestamps are zero; the virtual filesystem has no notion of either.
func writeFilestat(mem abi.Memory, out uint32, ino uint64, filetype byte, size uint64) abi.Errno {
	buf := make([]byte, 64)
	binary.LittleEndian.PutUint64(buf[8:], ino)
	buf[16] = filetype
	binary.LittleEndian.PutUint64(buf[24:], 1) // nlink
	binary.LittleEndian.PutUint64(buf[32:], size)
	if !mem.Write(out, buf) {
		return abi.ErrnoFault
	}
	return abi.ErrnoSuccess
}
