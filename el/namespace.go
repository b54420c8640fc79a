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
	"fmt"
	"sync"

	"github.com/google/btree"
)

// EvalPhase is the eval-when bitmask: a definition can be wanted at
// compile time, at load time, or both (both means it evaluates twice,
// once per phase — see analyzer.go's EvalWhen handling).
type EvalPhase uint8

const (
	PhaseNone        EvalPhase = 0
	PhaseCompileTime EvalPhase = 1 << 0
	PhaseLoadTime    EvalPhase = 1 << 1
)

func (p EvalPhase) Has(bit EvalPhase) bool { return p&bit != 0 }

// Definition is one binding inside a Namespace: a global var plus the
// phase(s) it is visible in. A def created only under (eval-when
// (:compile) ...) has Phase == PhaseCompileTime. The analyzer rejects a
// compile-time reference to a definition whose Phase lacks
// PhaseCompileTime (ErrNotVisibleToCompiler); a load-time reference is
// accepted whatever the definition's Phase.
type Definition struct {
	Name  string
	Var   Value // VarObj wrapping the bound value
	Phase EvalPhase
	Macro bool // true if this def is a macro transformer
}

func (d *Definition) Less(than btree.Item) bool {
	return d.Name < than.(*Definition).Name
}

// Namespace is a named, orderable table of definitions plus the set of
// namespaces it imports from (whole-namespace or symbol-by-symbol).
// Definitions are kept in a github.com/google/btree ordered tree (not a
// map) so that name listings (Names) come out in a stable, sorted
// order without a separate sort pass.
type Namespace struct {
	mu            sync.RWMutex
	Name          string
	defs          *btree.BTree
	imports       []*Namespace          // whole-namespace imports, search order
	aliases       map[string]*Namespace // (require [ns :as alias])
	symbolImports map[string]*Definition
}

func newNamespace(name string) *Namespace {
	return &Namespace{
		Name:          name,
		defs:          btree.New(32),
		aliases:       make(map[string]*Namespace),
		symbolImports: make(map[string]*Definition),
	}
}

// NamespaceManager owns the set of all namespaces that exist in a
// running process and the one "current" namespace in-ns switches.
type NamespaceManager struct {
	mu      sync.Mutex
	spaces  map[string]*Namespace
	current *Namespace
	gc      *GarbageCollector
}

func NewNamespaceManager(gc *GarbageCollector, defaultNS string) *NamespaceManager {
	nm := &NamespaceManager{spaces: make(map[string]*Namespace), gc: gc}
	nm.current = nm.GetOrCreate(defaultNS)
	return nm
}

// GetOrCreate returns the namespace named name, creating it (empty,
// with no imports) if it doesn't exist yet.
func (nm *NamespaceManager) GetOrCreate(name string) *Namespace {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if ns, ok := nm.spaces[name]; ok {
		return ns
	}
	ns := newNamespace(name)
	nm.spaces[name] = ns
	return ns
}

// Current is the namespace (in-ns) last switched the compiler into.
func (nm *NamespaceManager) Current() *Namespace {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.current
}

// SwitchTo implements (in-ns 'foo.bar): subsequent top-level defs land
// in that namespace until the next in-ns.
func (nm *NamespaceManager) SwitchTo(name string) *Namespace {
	ns := nm.GetOrCreate(name)
	nm.mu.Lock()
	nm.current = ns
	nm.mu.Unlock()
	return ns
}

// LookupQualified resolves a "qualifyingNS/name" reference seen from
// ns: qualifyingNS is first checked against ns's own alias table (set
// by ImportNSAs), then against the manager's namespace-name table, so
// a qualified reference works whether qualifyingNS is a require alias
// or a namespace's real name.
func (nm *NamespaceManager) LookupQualified(ns *Namespace, qualifyingNS, name string) (*Definition, bool) {
	ns.mu.RLock()
	target, ok := ns.aliases[qualifyingNS]
	ns.mu.RUnlock()
	if !ok {
		nm.mu.Lock()
		target, ok = nm.spaces[qualifyingNS]
		nm.mu.Unlock()
		if !ok {
			return nil, false
		}
	}
	return target.lookupLocal(name)
}

// AddGlobal defines (or redefines) name in ns at the given phase(s),
// pinning its Var as a GC root so a namespace's globals always survive
// collection even with nothing else pointing at them. The second
// return value is false when name was already defined in ns — the
// redefinition still happens (a REPL session must be able to redefine
// a binding), but a caller that treats redefinition as an error (a
// defmacro colliding with a prior def, say) can check it.
func (ns *Namespace) AddGlobal(gc *GarbageCollector, name string, val Value, phase EvalPhase, isMacro bool) (*Definition, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	isNew := ns.defs.Get(&Definition{Name: name}) == nil
	sym := gc.MakeSymbol(name)
	vr := gc.MakeVar(sym, val)
	gc.PinRoot(vr)
	def := &Definition{Name: name, Var: vr, Phase: phase, Macro: isMacro}
	ns.defs.ReplaceOrInsert(def)
	return def, isNew
}

// lookupLocal finds name only among this namespace's own definitions.
func (ns *Namespace) lookupLocal(name string) (*Definition, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	item := ns.defs.Get(&Definition{Name: name})
	if item == nil {
		return nil, false
	}
	return item.(*Definition), true
}

// ImportNS makes every public definition of other visible, unqualified,
// from ns (clojure-style :refer :all / require-without-prefix).
func (ns *Namespace) ImportNS(other *Namespace) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.imports = append(ns.imports, other)
}

// ImportNSAs records other under alias in ns's alias table (clojure-
// style (require [ns :as alias])), so "alias/name" resolves via
// LookupQualified without making other's names visible unqualified.
func (ns *Namespace) ImportNSAs(other *Namespace, alias string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.aliases[alias] = other
}

// ImportSymbol makes exactly one name from other visible, unqualified,
// from ns — even if other is imported wholesale elsewhere this keeps
// a single symbol importable on its own (clojure-style refer :only).
func (ns *Namespace) ImportSymbol(other *Namespace, name string) error {
	def, ok := other.lookupLocal(name)
	if !ok {
		return fmt.Errorf("symbol %q not found in namespace %q", name, other.Name)
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.symbolImports[name] = def
	return nil
}

// Lookup resolves name against ns's own definitions, then its
// single-symbol imports, then its whole-namespace imports in import
// order (first match wins), matching the reference order
// NamespaceManager.h documents for the original implementation.
func (ns *Namespace) Lookup(name string) (*Definition, bool) {
	if def, ok := ns.lookupLocal(name); ok {
		return def, true
	}
	ns.mu.RLock()
	if def, ok := ns.symbolImports[name]; ok {
		ns.mu.RUnlock()
		return def, true
	}
	imports := append([]*Namespace(nil), ns.imports...)
	ns.mu.RUnlock()
	for _, imp := range imports {
		if def, ok := imp.lookupLocal(name); ok {
			return def, true
		}
	}
	return nil, false
}

// Names returns every locally-defined name in sorted order.
func (ns *Namespace) Names() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	var out []string
	ns.defs.Ascend(func(item btree.Item) bool {
		out = append(out, item.(*Definition).Name)
		return true
	})
	return out
}
