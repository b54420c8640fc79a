/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package el

import (
	"os"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk process configuration, loaded once at startup
// from a YAML file (".el.yaml" by convention, see cmd/el).
// Every field has a zero-value default that keeps a from-scratch
// checkout runnable without a config file at all.
type Config struct {
	// GCMode selects the collector's root-attribution mode: "compiler"
	// (CompilerOwned) or "interpreter" (InterpreterOwned). Defaults to
	// "interpreter" since treebackend.go is the only Backend shipped.
	GCMode string `yaml:"gc_mode"`

	// HeapSoftLimit is a human-readable size ("512MiB", "2GB") parsed
	// with docker/go-units; empty disables the automatic-collection
	// trigger (Collect must then be invoked explicitly).
	HeapSoftLimit string `yaml:"heap_soft_limit"`

	// TraceDir is the directory Chrome-trace-format JSON files are
	// written to when tracing is enabled (trace.go's SetTrace(true)).
	TraceDir string `yaml:"trace_dir"`

	// DefaultNS is the namespace new top-level forms land in absent any
	// (in-ns ...) form — the dialect's equivalent of "user" in Clojure.
	DefaultNS string `yaml:"default_ns"`
}

// DefaultConfig mirrors what an empty/missing config file would mean.
func DefaultConfig() Config {
	return Config{
		GCMode:        "interpreter",
		HeapSoftLimit: "256MiB",
		TraceDir:      "",
		DefaultNS:     "user",
	}
}

// LoadConfig reads and parses a YAML config file at path. A missing
// file is not an error: it just means DefaultConfig() applies.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// GCModeValue resolves the configured GCMode string to a GCMode constant.
func (c Config) GCModeValue() GCMode {
	if c.GCMode == "compiler" {
		return CompilerOwned
	}
	return InterpreterOwned
}

// ValidateHeapSoftLimit checks the configured size parses, surfacing a
// misconfiguration at load time instead of at the first allocation.
func (c Config) ValidateHeapSoftLimit() error {
	if c.HeapSoftLimit == "" {
		return nil
	}
	_, err := units.RAMInBytes(c.HeapSoftLimit)
	return err
}
