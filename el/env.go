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

// LexicalEnv is the analyzer-time scope-frame stack: a chain of frames
// that only record WHICH names are bound where, never their values.
// It exists purely to resolve symbols to (depth, name) pairs and to
// drive closed-over variable collection (analyzer.go); the runtime
// Environment heap object below is the value-carrying counterpart the
// analyzed code actually walks at eval/call time.
type LexicalEnv struct {
	parent *LexicalEnv
	names  map[string]bool
	depth  int
}

func NewLexicalEnv(parent *LexicalEnv) *LexicalEnv {
	depth := 0
	if parent != nil {
		depth = parent.depth + 1
	}
	return &LexicalEnv{parent: parent, names: make(map[string]bool), depth: depth}
}

// Bind introduces name into the current frame (lambda args, let bindings).
func (le *LexicalEnv) Bind(name string) {
	le.names[name] = true
}

// Resolve reports whether name is visible from this frame, and at what
// depth (0 = current frame, 1 = parent, ...). ok is false if no
// enclosing frame binds it (a free/global reference).
func (le *LexicalEnv) Resolve(name string) (depth int, ok bool) {
	for frame := le; frame != nil; frame = frame.parent {
		if frame.names[name] {
			return le.depth - frame.depth, true
		}
	}
	return 0, false
}

// Depth is this frame's nesting depth from the top-level (0-based).
func (le *LexicalEnv) Depth() int {
	return le.depth
}

//
// Runtime Environment heap object helpers (the EnvironmentObj defined
// in value.go). An Environment is a parent-linked frame whose Values
// slot holds an alternating sym/val Pair-list, mirroring the teacher's
// association-list environment representation rather than a hash map:
// frames are small (a handful of params/lets) so linear scan beats the
// bookkeeping of a map, and it lets environments be ordinary inspectable
// dialect data (an environment can itself be printed and walked).
//

// MakeEnvironment allocates a fresh runtime environment with the given
// parent (NewNil() for the top-level global environment).
func (gc *GarbageCollector) MakeEnvironment(parent Value) Value {
	return gc.allocEnvironment(parent, NewNil())
}

// EnvironmentAdd prepends a new sym/val binding pair onto env's frame.
// Shadowing a name already bound in the same frame is allowed: the
// newest Pair wins because lookup scans front-to-back.
func (gc *GarbageCollector) EnvironmentAdd(env Value, sym Value, val Value) {
	e := env.asEnvironmentObj()
	e.Values = gc.MakePair(sym, gc.MakePair(val, e.Values))
}

// EnvironmentGet walks env and its ancestry for sym, returning the
// bound value and true, or NewNil()/false if unbound anywhere.
func EnvironmentGet(env Value, sym string) (Value, bool) {
	for !env.IsNil() {
		e := env.asEnvironmentObj()
		cur := e.Values
		for !cur.IsNil() {
			name := cur.Car()
			val := cur.Cdr().Car()
			if name.IsSymbol() && name.SymbolName() == sym {
				return val, true
			}
			cur = cur.Cdr().Cdr()
		}
		env = e.Parent
	}
	return NewNil(), false
}

// EnvironmentSet mutates the nearest binding of sym in env's ancestry
// in place (set!). Reports false if sym is unbound anywhere in scope.
func EnvironmentSet(env Value, sym string, val Value) bool {
	for !env.IsNil() {
		e := env.asEnvironmentObj()
		cur := e.Values
		for !cur.IsNil() {
			name := cur.Car()
			if name.IsSymbol() && name.SymbolName() == sym {
				cur.Cdr().SetCar(val)
				return true
			}
			cur = cur.Cdr().Cdr()
		}
		env = e.Parent
	}
	return false
}
