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

// Command zeroperl runs Perl scripts in a WebAssembly sandbox.
//
// The guest interpreter binary is supplied with --wasm (or the config file);
// host files are mounted into the sandbox's virtual filesystem with
// repeatable --file guest=host flags and only those files are visible to the
// script.
//
//	zeroperl run script.pl -- arg1 arg2
//	zeroperl eval 'print "hello\n"'
//	zeroperl run --wasm perl.wasm --file /data/in.csv=./in.csv main.pl
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	zeroperl "github.com/davidkaufman/zeroperl-go"
	"github.com/davidkaufman/zeroperl-go/vfs"
)

var version = "<unknown>"

type rootFlags struct {
	configPath string
	wasmPath   string
	env        []string
	files      []string
	verbose    bool
}

func configureCLI() *cobra.Command {
	flags := &rootFlags{}

	rootCommand := &cobra.Command{
		Use:           "zeroperl",
		Short:         "sandboxed Perl runner",
		Long:          "zeroperl - run Perl scripts inside a WebAssembly sandbox",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := rootCommand.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "YAML configuration file")
	pf.StringVar(&flags.wasmPath, "wasm", "", "path to the guest interpreter binary")
	pf.StringArrayVarP(&flags.env, "env", "e", nil, "guest environment entry KEY=VALUE (repeatable)")
	pf.StringArrayVarP(&flags.files, "file", "f", nil, "virtual file mount GUEST=HOST (repeatable)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging including syscall traces")

	rootCommand.AddCommand(runCommand(flags))
	rootCommand.AddCommand(evalCommand(flags))
	return rootCommand
}

func runCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <script.pl> [args...]",
		Short: "run a Perl script file in the sandbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, fs, cleanup, err := buildHost(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer cleanup()

			scriptPath := args[0]
			guestPath := "/" + filepath.Base(scriptPath)
			fs.AddSource(guestPath, vfs.SourceFunc(func(context.Context) ([]byte, error) {
				return os.ReadFile(scriptPath)
			}))

			res, err := host.RunFile(cmd.Context(), guestPath, args[1:]...)
			return report(host, res, err)
		},
	}
}

func evalCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "eval <code> [args...]",
		Short: "evaluate a Perl snippet in the sandbox",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, _, cleanup, err := buildHost(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := host.Eval(cmd.Context(), args[0], args[1:]...)
			return report(host, res, err)
		},
	}
}

// buildHost assembles a configured sandbox: config file plus flag overlays,
// the virtual filesystem with the requested mounts, and stdio wired to the
// process's own streams.
func buildHost(ctx context.Context, flags *rootFlags) (*zeroperl.Host, *vfs.FS, func(), error) {
	cfg, err := loadConfig(flags.configPath, flags.wasmPath, flags.env, flags.files)
	if err != nil {
		return nil, nil, nil, err
	}

	log := zap.NewNop()
	if flags.verbose {
		log, err = zap.NewDevelopment()
		if err != nil {
			return nil, nil, nil, err
		}
	}

	guestWasm, err := os.ReadFile(cfg.Wasm)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reading guest binary: %w", err)
	}

	fs := vfs.New()
	for guestPath, hostPath := range cfg.Files {
		// Deferred sources: mounts are only read during the pre-flight
		// resolution pass, not at startup.
		fs.AddSource(guestPath, vfs.SourceFunc(func(context.Context) ([]byte, error) {
			return os.ReadFile(hostPath)
		}))
	}

	opts := []zeroperl.Option{
		zeroperl.WithFS(fs),
		zeroperl.WithEnv(cfg.Env),
		zeroperl.WithStdout(os.Stdout),
		zeroperl.WithStderr(os.Stderr),
		zeroperl.WithLogger(log),
	}
	if cfg.MaxMemoryBytes > 0 {
		opts = append(opts, zeroperl.WithMaxMemory(cfg.MaxMemoryBytes))
	}

	host, err := zeroperl.New(ctx, guestWasm, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		_ = host.Flush()
		_ = host.Close(context.Background())
		_ = log.Sync()
	}
	return host, fs, cleanup, nil
}

// exitError carries the guest's exit code to main without treating it as a
// runner failure.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func report(host *zeroperl.Host, res zeroperl.Result, err error) error {
	if err != nil {
		return err
	}
	if err := host.Flush(); err != nil {
		return err
	}
	if !res.Success {
		code := res.ExitCode
		if code == 0 {
			code = 1
		}
		return &exitError{code: code, msg: res.Error}
	}
	return nil
}

func main() {
	rootCommand := configureCLI()

	if err := rootCommand.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.msg != "" {
				fmt.Fprintln(os.Stderr, exit.msg)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
