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

package abi

import "strconv"

// Errno is a WASI preview1 error number. Every syscall the host supplies
// returns one of these as its i32 result instead of raising; the single
// exception is proc_exit, which unwinds the guest call stack with
// sys.ExitError.
//
// Numbering follows the snapshot-01 witx definition.
type Errno = uint32

const (
	ErrnoSuccess     Errno = 0
	Errno2big        Errno = 1
	ErrnoAcces       Errno = 2
	ErrnoAgain       Errno = 6
	ErrnoBadf        Errno = 8
	ErrnoBusy        Errno = 10
	ErrnoExist       Errno = 20
	ErrnoFault       Errno = 21
	ErrnoFbig        Errno = 22
	ErrnoIlseq       Errno = 25
	ErrnoIntr        Errno = 27
	ErrnoInval       Errno = 28
	ErrnoIo          Errno = 29
	ErrnoIsdir       Errno = 31
	ErrnoLoop        Errno = 32
	ErrnoMfile       Errno = 33
	ErrnoNametoolong Errno = 37
	ErrnoNoent       Errno = 44
	ErrnoNomem       Errno = 48
	ErrnoNospc       Errno = 51
	ErrnoNosys       Errno = 52
	ErrnoNotdir      Errno = 54
	ErrnoNotempty    Errno = 55
	ErrnoNotsup      Errno = 58
	ErrnoPerm        Errno = 63
	ErrnoPipe        Errno = 64
	ErrnoRofs        Errno = 69
	ErrnoSpipe       Errno = 70
	ErrnoTxtbsy      Errno = 74
	ErrnoNotcapable  Errno = 76
)

var errnoNames = map[Errno]string{
	ErrnoSuccess:     "ESUCCESS",
	Errno2big:        "E2BIG",
	ErrnoAcces:       "EACCES",
	ErrnoAgain:       "EAGAIN",
	ErrnoBadf:        "EBADF",
	ErrnoBusy:        "EBUSY",
	ErrnoExist:       "EEXIST",
	ErrnoFault:       "EFAULT",
	ErrnoFbig:        "EFBIG",
	ErrnoIlseq:       "EILSEQ",
	ErrnoIntr:        "EINTR",
	ErrnoInval:       "EINVAL",
	ErrnoIo:          "EIO",
	ErrnoIsdir:       "EISDIR",
	ErrnoLoop:        "ELOOP",
	ErrnoMfile:       "EMFILE",
	ErrnoNametoolong: "ENAMETOOLONG",
	ErrnoNoent:       "ENOENT",
	ErrnoNomem:       "ENOMEM",
	ErrnoNospc:       "ENOSPC",
	ErrnoNosys:       "ENOSYS",
	ErrnoNotdir:      "ENOTDIR",
	ErrnoNotempty:    "ENOTEMPTY",
	ErrnoNotsup:      "ENOTSUP",
	ErrnoPerm:        "EPERM",
	ErrnoPipe:        "EPIPE",
	ErrnoRofs:        "EROFS",
	ErrnoSpipe:       "ESPIPE",
	ErrnoTxtbsy:      "ETXTBSY",
	ErrnoNotcapable:  "ENOTCAPABLE",
}

// ErrnoName returns the POSIX-style name for e, for logging.
func ErrnoName(e Errno) string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return "errno(" + strconv.FormatUint(uint64(e), 10) + ")"
}
