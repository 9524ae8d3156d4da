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

// Package abi translates between guest linear-memory addresses and host
// values.
//
// The guest exchanges all structured data with the host through its linear
// memory: strings are NUL-terminated byte runs, string arrays are a region of
// little-endian u32 addresses pointing into a separate byte region. This
// package provides the marshaling helpers for that encoding and the WASI
// errno space every syscall answers in.
//
// Linear memory may move when the guest grows it, so no caller may hold a
// Memory across a call back into the guest. Everything here takes the memory
// as a parameter and uses it immediately.
package abi

// Memory is the subset of a guest's linear memory the host needs. It is
// satisfied by wazero's api.Memory; tests use a fixed-size in-memory fake.
//
// All accessors report failure (false) when any referenced byte is outside
// the memory's current bounds. Writes are never silently truncated.
type Memory interface {
	// Read returns byteCount bytes starting at offset, or false if the range
	// is out of bounds. The returned slice aliases guest memory and is only
	// valid until the guest next runs.
	Read(offset, byteCount uint32) ([]byte, bool)

	// Write copies data into memory at offset.
	Write(offset uint32, data []byte) bool

	// WriteByte writes a single byte at offset.
	WriteByte(offset uint32, v byte) bool

	// WriteUint32Le writes v little-endian at offset.
	WriteUint32Le(offset, v uint32) bool

	// WriteUint64Le writes v little-endian at offset.
	WriteUint64Le(offset uint32, v uint64) bool

	// ReadUint32Le reads a little-endian u32 at offset.
	ReadUint32Le(offset uint32) (uint32, bool)

	// Size returns the current memory size in bytes.
	Size() uint32
}

// StringArraySize returns the number of strings and the total byte length of
// their NUL-terminated encoding. The guest uses these two values to size the
// pointer array (count * 4 bytes) and the string buffer before asking the
// host to fill them, so WriteStringArray must derive its layout identically.
func StringArraySize(strs []string) (count, bufSize uint32) {
	for _, s := range strs {
		bufSize += uint32(len(s)) + 1
	}
	return uint32(len(strs)), bufSize
}

// WriteStringArray writes each string NUL-terminated into guest memory
// starting at bufAddr, and the absolute address of each string as a
// little-endian u32 into the array starting at ptrArrayAddr.
//
// The caller must have sized both regions with StringArraySize. Any write
// that would land outside the memory bounds fails the whole call with
// ErrnoFault; partial layouts are never reported as success.
func WriteStringArray(mem Memory, strs []string, ptrArrayAddr, bufAddr uint32) Errno {
	for _, s := range strs {
		if !mem.WriteUint32Le(ptrArrayAddr, bufAddr) {
			return ErrnoFault
		}
		ptrArrayAddr += 4

		if !mem.Write(bufAddr, []byte(s)) {
			return ErrnoFault
		}
		bufAddr += uint32(len(s))
		if !mem.WriteByte(bufAddr, 0) {
			return ErrnoFault
		}
		bufAddr++
	}
	return ErrnoSuccess
}

// WriteCString writes s NUL-terminated at addr.
func WriteCString(mem Memory, addr uint32, s string) Errno {
	if !mem.Write(addr, []byte(s)) {
		return ErrnoFault
	}
	if !mem.WriteByte(addr+uint32(len(s)), 0) {
		return ErrnoFault
	}
	return ErrnoSuccess
}
