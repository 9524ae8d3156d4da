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

	"github.com/tetratelabs/wazero/api"

	"github.com/davidkaufman/zeroperl-go/abi"
)

// stubFuncs covers the remainder of the preview1 surface with ENOSYS
// answers. Instantiation fails hard if the guest imports a name the host
// does not export at all, so every import must resolve even when the
// operation itself is unsupported; an errno at call time lets the guest
// translate the miss into its own error handling instead.
//
// The signatures must match the witx definitions exactly or instantiation
// fails on a type mismatch.
func stubFuncs(cfg *Config) funcMap {
	sigs := map[string][]api.ValueType{
		"fd_advise":               {i32, i64, i64, i32},
		"fd_allocate":             {i32, i64, i64},
		"fd_datasync":             {i32},
		"fd_fdstat_set_flags":     {i32, i32},
		"fd_fdstat_set_rights":    {i32, i64, i64},
		"fd_filestat_set_size":    {i32, i64},
		"fd_filestat_set_times":   {i32, i64, i64, i32},
		"fd_pread":                {i32, i32, i32, i64, i32},
		"fd_pwrite":               {i32, i32, i32, i64, i32},
		"fd_readdir":              {i32, i32, i32, i64, i32},
		"fd_renumber":             {i32, i32},
		"fd_sync":                 {i32},
		"path_create_directory":   {i32, i32, i32},
		"path_filestat_set_times": {i32, i32, i32, i32, i64, i64, i32},
		"path_link":               {i32, i32, i32, i32, i32, i32, i32},
		"path_readlink":           {i32, i32, i32, i32, i32, i32},
		"path_remove_directory":   {i32, i32, i32},
		"path_rename":             {i32, i32, i32, i32, i32, i32},
		"path_symlink":            {i32, i32, i32, i32, i32},
		"path_unlink_file":        {i32, i32, i32},
		"poll_oneoff":             {i32, i32, i32, i32},
		"sock_accept":             {i32, i32, i32},
		"sock_recv":               {i32, i32, i32, i32, i32, i32},
		"sock_send":               {i32, i32, i32, i32, i32},
		"sock_shutdown":           {i32, i32},
	}

	out := make(funcMap, len(sigs))
	for name, params := range sigs {
		out[name] = cfg.errnoFunc(name, params,
			func(context.Context, api.Module, []uint64) abi.Errno {
				return abi.ErrnoNosys
			})
	}
	return out
}
