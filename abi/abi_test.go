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

package abi_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidkaufman/zeroperl-go/abi"
)

// fakeMemory is a fixed-size linear memory for exercising marshaling without
// a wasm runtime.
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

// TestStringArraySize checks the count and NUL-inclusive buffer length for
// representative argument vectors.
func TestStringArraySize(t *testing.T) {
	tests := []struct {
		name    string
		strs    []string
		count   uint32
		bufSize uint32
	}{
		{name: "empty", strs: nil, count: 0, bufSize: 0},
		{name: "single", strs: []string{"perl"}, count: 1, bufSize: 5},
		{name: "multiple", strs: []string{"perl", "-w", "x.pl"}, count: 3, bufSize: 13},
		{name: "empty string still terminated", strs: []string{""}, count: 1, bufSize: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, bufSize := abi.StringArraySize(tt.strs)
			require.Equal(t, tt.count, count)
			require.Equal(t, tt.bufSize, bufSize)
		})
	}
}

// TestWriteStringArray verifies the pointer-array-plus-buffer layout: each
// slot holds the absolute address of its NUL-terminated string.
func TestWriteStringArray(t *testing.T) {
	mem := newFakeMemory(1024)
	strs := []string{"perl", "-e", ""}
	count, bufSize := abi.StringArraySize(strs)
	require.Equal(t, uint32(3), count)

	const ptrBase, bufBase = 100, 200
	errno := abi.WriteStringArray(mem, strs, ptrBase, bufBase)
	require.Equal(t, abi.ErrnoSuccess, errno)

	offset := uint32(bufBase)
	for i, s := range strs {
		ptr, ok := mem.ReadUint32Le(ptrBase + uint32(i)*4)
		require.True(t, ok)
		require.Equal(t, offset, ptr, "pointer slot %d", i)

		data, ok := mem.Read(ptr, uint32(len(s))+1)
		require.True(t, ok)
		require.Equal(t, s, string(data[:len(s)]))
		require.Equal(t, byte(0), data[len(s)], "missing NUL after string %d", i)

		offset += uint32(len(s)) + 1
	}
	require.Equal(t, uint32(bufBase)+bufSize, offset)
}

// TestWriteStringArrayOutOfBounds checks that a layout spilling past the end
// of memory fails with EFAULT instead of truncating.
func TestWriteStringArrayOutOfBounds(t *testing.T) {
	mem := newFakeMemory(64)

	errno := abi.WriteStringArray(mem, []string{"abcdef"}, 60, 0)
	require.Equal(t, abi.ErrnoFault, errno, "pointer slot out of bounds")

	errno = abi.WriteStringArray(mem, []string{"abcdef"}, 0, 60)
	require.Equal(t, abi.ErrnoFault, errno, "string buffer out of bounds")
}

// TestWriteCString verifies NUL termination and bounds checking.
func TestWriteCString(t *testing.T) {
	mem := newFakeMemory(16)

	require.Equal(t, abi.ErrnoSuccess, abi.WriteCString(mem, 4, "hi"))
	data, ok := mem.Read(4, 3)
	require.True(t, ok)
	require.Equal(t, []byte{'h', 'i', 0}, data)

	// The terminator itself would land at offset 16.
	require.Equal(t, abi.ErrnoFault, abi.WriteCString(mem, 14, "hi"))
}

// TestErrnoName covers known and unknown errno values.
func TestErrnoName(t *testing.T) {
	require.Equal(t, "ESUCCESS", abi.ErrnoName(abi.ErrnoSuccess))
	require.Equal(t, "ENOENT", abi.ErrnoName(abi.ErrnoNoent))
	require.Equal(t, "EBADF", abi.ErrnoName(abi.ErrnoBadf))
	require.Equal(t, "errno(9999)", abi.ErrnoName(9999))
}
