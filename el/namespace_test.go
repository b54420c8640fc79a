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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalPhaseBitmaskIsDistinctAndCombinable(t *testing.T) {
	assert.True(t, PhaseCompileTime.Has(PhaseCompileTime))
	assert.False(t, PhaseCompileTime.Has(PhaseLoadTime))
	both := PhaseCompileTime | PhaseLoadTime
	assert.True(t, both.Has(PhaseCompileTime))
	assert.True(t, both.Has(PhaseLoadTime))
	assert.False(t, PhaseNone.Has(PhaseCompileTime))
}

func TestNamespaceManagerGetOrCreateIsIdempotent(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	a := nm.GetOrCreate("foo")
	b := nm.GetOrCreate("foo")
	assert.Same(t, a, b)
}

func TestNamespaceManagerSwitchToChangesCurrent(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	assert.Equal(t, "user", nm.Current().Name)
	nm.SwitchTo("other")
	assert.Equal(t, "other", nm.Current().Name)
}

func TestAddGlobalAndLookupLocal(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	ns := nm.Current()
	ns.AddGlobal(gc, "x", NewInt(42), PhaseLoadTime, false)
	def, ok := ns.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, int64(42), def.Var.VarVal().Int())
	assert.False(t, def.Macro)
}

func TestAddGlobalRedefinitionReplacesDefinition(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	ns := nm.Current()
	ns.AddGlobal(gc, "x", NewInt(1), PhaseLoadTime, false)
	ns.AddGlobal(gc, "x", NewInt(2), PhaseLoadTime, false)
	def, ok := ns.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, int64(2), def.Var.VarVal().Int())
}

func TestLookupUnknownNameFails(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	_, ok := nm.Current().Lookup("nope")
	assert.False(t, ok)
}

func TestImportNSMakesDefinitionsVisibleUnqualified(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	lib := nm.GetOrCreate("lib")
	lib.AddGlobal(gc, "helper", NewInt(7), PhaseLoadTime, false)
	user := nm.Current()
	_, ok := user.Lookup("helper")
	assert.False(t, ok)
	user.ImportNS(lib)
	def, ok := user.Lookup("helper")
	require.True(t, ok)
	assert.Equal(t, int64(7), def.Var.VarVal().Int())
}

func TestImportSymbolImportsOneNameOnly(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	lib := nm.GetOrCreate("lib")
	lib.AddGlobal(gc, "a", NewInt(1), PhaseLoadTime, false)
	lib.AddGlobal(gc, "b", NewInt(2), PhaseLoadTime, false)
	user := nm.Current()
	require.NoError(t, user.ImportSymbol(lib, "a"))
	_, ok := user.Lookup("a")
	assert.True(t, ok)
	_, ok = user.Lookup("b")
	assert.False(t, ok)
}

func TestImportSymbolMissingNameErrors(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	lib := nm.GetOrCreate("lib")
	user := nm.Current()
	err := user.ImportSymbol(lib, "nope")
	assert.Error(t, err)
}

func TestLocalDefinitionShadowsImport(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	lib := nm.GetOrCreate("lib")
	lib.AddGlobal(gc, "x", NewInt(1), PhaseLoadTime, false)
	user := nm.Current()
	user.ImportNS(lib)
	user.AddGlobal(gc, "x", NewInt(99), PhaseLoadTime, false)
	def, ok := user.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, int64(99), def.Var.VarVal().Int())
}

func TestAddGlobalReportsDuplicateDefinition(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	ns := nm.Current()
	_, isNew := ns.AddGlobal(gc, "x", NewInt(1), PhaseLoadTime, false)
	assert.True(t, isNew)
	_, isNew = ns.AddGlobal(gc, "x", NewInt(2), PhaseLoadTime, false)
	assert.False(t, isNew)
	def, ok := ns.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, int64(2), def.Var.VarVal().Int())
}

func TestLookupQualifiedResolvesViaNamespaceName(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	lib := nm.GetOrCreate("lib")
	lib.AddGlobal(gc, "helper", NewInt(7), PhaseLoadTime, false)
	user := nm.Current()
	def, ok := nm.LookupQualified(user, "lib", "helper")
	require.True(t, ok)
	assert.Equal(t, int64(7), def.Var.VarVal().Int())
}

func TestLookupQualifiedResolvesViaAlias(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	lib := nm.GetOrCreate("lib")
	lib.AddGlobal(gc, "helper", NewInt(7), PhaseLoadTime, false)
	user := nm.Current()
	user.ImportNSAs(lib, "l")
	def, ok := nm.LookupQualified(user, "l", "helper")
	require.True(t, ok)
	assert.Equal(t, int64(7), def.Var.VarVal().Int())
	_, ok = nm.LookupQualified(user, "nope", "helper")
	assert.False(t, ok)
}

func TestNamesReturnsSortedLocalDefinitions(t *testing.T) {
	gc := newTestGC(t)
	nm := NewNamespaceManager(gc, "user")
	ns := nm.Current()
	ns.AddGlobal(gc, "zebra", NewInt(1), PhaseLoadTime, false)
	ns.AddGlobal(gc, "alpha", NewInt(2), PhaseLoadTime, false)
	ns.AddGlobal(gc, "mango", NewInt(3), PhaseLoadTime, false)
	assert.Equal(t, []string{"alpha", "mango", "zebra"}, ns.Names())
}
