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

package main

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// validate is a package-level singleton; constructing a validator per call
// is expensive.
var validate = validator.New()

// defaultConfig is the baseline every config file overlays.
var defaultConfig = []byte(`
max_memory_bytes: 0
env: {}
files: {}
`)

// runnerConfig is the CLI configuration, loadable from a YAML file and
// overridable by flags.
type runnerConfig struct {
	// Wasm is the path to the guest interpreter binary.
	Wasm string `koanf:"wasm" validate:"required"`

	// Env is the guest environment.
	Env map[string]string `koanf:"env"`

	// Files maps guest paths to host paths mounted into the virtual
	// filesystem.
	Files map[string]string `koanf:"files" validate:"dive,required"`

	// MaxMemoryBytes caps guest memory; zero means the 4GB wasm32 maximum.
	MaxMemoryBytes uint32 `koanf:"max_memory_bytes" validate:"omitempty,gte=65536"`
}

// loadConfig overlays, in order: built-in defaults, the optional YAML config
// file, then flag values. The merged result is validated as a whole.
func loadConfig(configPath, wasmFlag string, envFlags, fileFlags []string) (*runnerConfig, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", configPath, err)
		}
	}

	var cfg runnerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if wasmFlag != "" {
		cfg.Wasm = wasmFlag
	}
	if cfg.Env == nil {
		cfg.Env = map[string]string{}
	}
	for _, kv := range envFlags {
		key, value, err := splitPair(kv, "=")
		if err != nil {
			return nil, fmt.Errorf("invalid --env %q: %w", kv, err)
		}
		cfg.Env[key] = value
	}
	if cfg.Files == nil {
		cfg.Files = map[string]string{}
	}
	for _, mount := range fileFlags {
		guest, host, err := splitPair(mount, "=")
		if err != nil {
			return nil, fmt.Errorf("invalid --file %q: %w", mount, err)
		}
		cfg.Files[guest] = host
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func splitPair(s, sep string) (string, string, error) {
	key, value, ok := strings.Cut(s, sep)
	if !ok || key == "" {
		return "", "", fmt.Errorf("expected KEY%sVALUE", sep)
	}
	return key, value, nil
}
