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

// Backend is the collaborator that turns analyzed IR into something
// callable and runs it. A real implementation emits machine code,
// publishes a statepoint table so gc.go can find its live roots, and
// resolves cross-function references at link time; that machine-code
// emitter is explicitly outside this module's scope (it is a large,
// architecture-specific project of its own, cf. the teacher's deleted
// jit_amd64.go/jit_arm64.go). treebackend.go is the one in-repo
// implementation: a tree-walking interpreter that satisfies this exact
// contract so the macro engine, eval-when compile-time execution, and
// the REPL all have something runnable to drive against in tests.
type Backend interface {
	// Apply invokes a callable Value (a CompiledFunctionObj or an
	// InterpretedFunctionObj) with args and returns its result. The
	// macro engine calls this to run a macro transformer at compile
	// time; top-level eval calls it to run ordinary code.
	Apply(fn Value, args []Value) (Value, error)

	// EmitFunction hands the backend a fully analyzed lambda so it can
	// produce a callable Value closed over env. A native backend would
	// generate machine code here; treebackend.go just closes over the
	// AnalyzerNode itself and walks it on every call.
	EmitFunction(node *AnalyzerNode, env Value) (Value, error)

	// LinkAndResolve finalizes whatever compile unit is currently open,
	// resolving any forward references between functions emitted
	// together (mutual recursion between top-level defs). A backend
	// with no deferred linking (like treebackend.go) can no-op this.
	LinkAndResolve() error

	// PublishStatepointTable registers the backend's own live-frame
	// root source with gc so objects reachable only from this backend's
	// active call stack survive collection. Called once at startup.
	PublishStatepointTable(gc *GarbageCollector)

	// EvalTopLevel runs one already-analyzed top-level IR node against
	// env, recovering an uncaught dialect exception (or any other
	// runtime panic) into a Go error instead of letting it cross this
	// boundary — the compile driver (AnalyzerState.AnalyzeAndRun) calls
	// this once per form a top-level do/eval-when flattens to (twice for
	// a form wanted in both the compile and the load phase).
	EvalTopLevel(node *AnalyzerNode, env Value) (Value, error)
}
