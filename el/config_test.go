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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "interpreter", cfg.GCMode)
	assert.Equal(t, "256MiB", cfg.HeapSoftLimit)
	assert.Equal(t, "", cfg.TraceDir)
	assert.Equal(t, "user", cfg.DefaultNS)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".el.yaml")
	yamlSrc := "gc_mode: compiler\nheap_soft_limit: 1GiB\ndefault_ns: scratch\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlSrc), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "compiler", cfg.GCMode)
	assert.Equal(t, "1GiB", cfg.HeapSoftLimit)
	assert.Equal(t, "scratch", cfg.DefaultNS)
	// Fields the override omits keep their default.
	assert.Equal(t, "", cfg.TraceDir)
}

func TestLoadConfigMalformedYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gc_mode: [this is not a scalar"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestGCModeValueResolvesCompilerAndInterpreter(t *testing.T) {
	compiler := Config{GCMode: "compiler"}
	assert.Equal(t, CompilerOwned, compiler.GCModeValue())

	interp := Config{GCMode: "interpreter"}
	assert.Equal(t, InterpreterOwned, interp.GCModeValue())

	unknown := Config{GCMode: "bogus"}
	assert.Equal(t, InterpreterOwned, unknown.GCModeValue())
}

func TestValidateHeapSoftLimitAcceptsValidSizesAndEmpty(t *testing.T) {
	assert.NoError(t, Config{HeapSoftLimit: ""}.ValidateHeapSoftLimit())
	assert.NoError(t, Config{HeapSoftLimit: "512MiB"}.ValidateHeapSoftLimit())
	assert.NoError(t, Config{HeapSoftLimit: "2GB"}.ValidateHeapSoftLimit())
}

func TestValidateHeapSoftLimitRejectsGarbage(t *testing.T) {
	assert.Error(t, Config{HeapSoftLimit: "not-a-size"}.ValidateHeapSoftLimit())
}
