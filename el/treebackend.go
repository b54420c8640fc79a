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
)

// thrownSignal carries a dialect-level (try/catch) exception up through
// Go's own call stack and error returns. It is never surfaced to a
// caller of Apply/Eval as an ordinary error — evalTry unwraps it to
// look for a matching catch clause, the same search-then-unwind split
// exception.go's LSDA reader implements for a compiled backend.
type thrownSignal struct{ exc Value }

func (t *thrownSignal) Error() string {
	return "uncaught exception: " + t.exc.Exception().TypeName + ": " + t.exc.Exception().Message
}

// TreeBackend is the one in-repo Backend: a direct tree-walking
// evaluator over AnalyzerNode. It stands in for a machine-code JIT so
// the macro engine and top-level eval have something to run; every
// InterpretedFunctionObj it builds carries the IR and defining
// environment instead of a compiled entry point.
type TreeBackend struct {
	gc         *GarbageCollector
	namespaces *NamespaceManager
	primitives *PrimitiveRegistry

	mu     sync.Mutex
	frames [][]Value
}

func NewTreeBackend(gc *GarbageCollector, namespaces *NamespaceManager, primitives *PrimitiveRegistry) *TreeBackend {
	return &TreeBackend{gc: gc, namespaces: namespaces, primitives: primitives}
}

// GCRoots implements RootSource: every Value any currently-running Eval
// call has pushed onto the evaluator's explicit frame stack.
func (tb *TreeBackend) GCRoots() []Value {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	var out []Value
	for _, f := range tb.frames {
		out = append(out, f...)
	}
	return out
}

func (tb *TreeBackend) pushFrame(vs ...Value) {
	tb.mu.Lock()
	tb.frames = append(tb.frames, vs)
	tb.mu.Unlock()
}

func (tb *TreeBackend) popFrame() {
	tb.mu.Lock()
	tb.frames = tb.frames[:len(tb.frames)-1]
	tb.mu.Unlock()
}

func (tb *TreeBackend) PublishStatepointTable(gc *GarbageCollector) {
	gc.RegisterRootSource(tb)
}

func (tb *TreeBackend) LinkAndResolve() error { return nil }

// EmitFunction wraps an analyzed lambda and its defining environment
// into a callable InterpretedFunctionObj; TreeBackend never actually
// compiles anything, so "emitting" just captures what Eval needs later.
func (tb *TreeBackend) EmitFunction(node *AnalyzerNode, env Value) (Value, error) {
	argNames := make([]Value, 0, len(node.Params)+1)
	for _, p := range node.Params {
		argNames = append(argNames, tb.gc.MakeSymbol(p))
	}
	if node.HasRest {
		argNames = append(argNames, tb.gc.MakeSymbol(node.RestParam))
	}
	fn := tb.gc.MakeInterpretedFunction(len(node.Params), node.HasRest, tb.gc.MakeList(argNames...), env, node.Body)
	return fn, nil
}

// Apply invokes any callable Value. Go panics raised by a native
// primitive or a nested Eval failure are recovered here and turned into
// a Go error so callers (the macro engine, the REPL) never see a panic
// cross this boundary.
func (tb *TreeBackend) Apply(fn Value, args []Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if sig, ok := r.(*thrownSignal); ok {
				err = sig
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	result = tb.apply(fn, args)
	return
}

func (tb *TreeBackend) apply(fn Value, args []Value) Value {
	switch {
	case fn.IsCompiledFunction():
		cf := fn.CompiledFunction()
		checkArity(cf.Arity, cf.HasRest, len(args))
		// An accessor tag mismatch inside a primitive panics with a plain
		// string; it is re-raised here as a catchable TypeError exception.
		defer func() {
			if r := recover(); r != nil {
				if msg, ok := r.(string); ok {
					Throw(tb.gc, "TypeError", NewNil(), msg)
				}
				panic(r)
			}
		}()
		return cf.Native(args, fn)
	case fn.IsInterpretedFunction():
		ifn := fn.InterpretedFunction()
		bound := bindParams(tb.gc, ifn, args)
		return tb.evalBodySeq(ifn.bodyNodes, bound)
	default:
		panic("not callable: " + tagName(fn.GetTag()))
	}
}

func checkArity(arity int, hasRest bool, n int) {
	if hasRest {
		if n < arity {
			panic(fmt.Sprintf("arity mismatch: expected at least %d arguments, got %d", arity, n))
		}
		return
	}
	if n != arity {
		panic(fmt.Sprintf("arity mismatch: expected %d arguments, got %d", arity, n))
	}
}

// bindParams builds the call frame environment for an
// InterpretedFunctionObj: a fresh Environment parented on the closure's
// defining environment (not the caller's), with each fixed parameter
// bound positionally and any rest parameter bound to the tail as a list.
func bindParams(gc *GarbageCollector, ifn *InterpretedFunctionObj, args []Value) Value {
	checkArity(ifn.Arity, ifn.HasRest, len(args))
	env := gc.allocEnvironment(ifn.Env, NewNil())
	names := ListValues(ifn.ArgNames)
	fixed := names
	if ifn.HasRest {
		fixed = names[:len(names)-1]
	}
	for i, n := range fixed {
		gc.EnvironmentAdd(env, n, args[i])
	}
	if ifn.HasRest {
		gc.EnvironmentAdd(env, names[len(names)-1], gc.MakeList(args[len(fixed):]...))
	}
	return env
}

func (tb *TreeBackend) evalBodySeq(body []*AnalyzerNode, env Value) Value {
	tb.pushFrame(env)
	defer tb.popFrame()
	result := NewNil()
	for _, n := range body {
		result = tb.Eval(n, env)
	}
	return result
}

// Eval walks one AnalyzerNode to a Value, using env for lexical lookups
// and the namespace manager for globals.
func (tb *TreeBackend) Eval(n *AnalyzerNode, env Value) Value {
	switch n.Kind {
	case IRConst:
		return n.ConstValue
	case IRConstList:
		return tb.evalConstList(n, env)
	case IRIf:
		if tb.Eval(n.Cond, env).Truthy() {
			return tb.Eval(n.Then, env)
		}
		return tb.Eval(n.Else, env)
	case IRDo:
		return tb.evalBodySeq(n.Body, env)
	case IRLambda:
		fn, _ := tb.EmitFunction(n, env)
		return fn
	case IRLet:
		inner := tb.gc.allocEnvironment(env, NewNil())
		tb.pushFrame(inner)
		for _, b := range n.Bindings {
			tb.gc.EnvironmentAdd(inner, tb.gc.MakeSymbol(b.Name), tb.Eval(b.Init, inner))
		}
		tb.popFrame()
		return tb.evalBodySeq(n.Body, inner)
	case IRDef:
		val := tb.Eval(n.Init, env)
		phase := n.Phase
		if phase == PhaseNone {
			phase = PhaseLoadTime
		}
		tb.namespaces.Current().AddGlobal(tb.gc, n.Name, val, phase, false)
		return val
	case IRDefFFIFn:
		native, ok := tb.primitives.Lookup(n.Name)
		if !ok {
			panic("no FFI implementation registered for " + n.Name)
		}
		fn := tb.gc.MakeCompiledFunction(n.FFIArity, n.FFIHasRest, native, nil)
		tb.namespaces.Current().AddGlobal(tb.gc, n.Name, fn, PhaseLoadTime|PhaseCompileTime, false)
		return fn
	case IRDefMacro:
		fn, _ := tb.EmitFunction(n.Init, env)
		tb.namespaces.Current().AddGlobal(tb.gc, n.Name, fn, PhaseCompileTime, true)
		return fn
	case IRVarLookup:
		if n.LexDepth >= 0 {
			if val, ok := EnvironmentGet(env, n.Name); ok {
				return val
			}
			panic("unbound lexical variable: " + n.Name)
		}
		return n.Def.Var.VarVal()
	case IRMaybeInvoke:
		return tb.evalInvoke(n, env)
	case IRMacroExpand:
		return tb.Eval(n.Expanded, env)
	case IRTry:
		return tb.evalTry(n, env)
	case IRSetBang:
		val := tb.Eval(n.Init, env)
		if EnvironmentSet(env, n.Name, val) {
			return val
		}
		if def, ok := tb.namespaces.Current().Lookup(n.Name); ok {
			def.Var.SetVar(val)
			return val
		}
		panic("set! of unbound variable: " + n.Name)
	case IRWhile:
		result := NewNil()
		for tb.Eval(n.Cond, env).Truthy() {
			result = tb.evalBodySeq(n.Body, env)
		}
		return result
	case IRInNS:
		tb.namespaces.SwitchTo(n.Name)
		return NewNil()
	case IREvalWhen:
		if n.Phase.Has(PhaseLoadTime) {
			return tb.evalBodySeq(n.Body, env)
		}
		return NewNil()
	}
	panic("unhandled IR kind in Eval")
}

// EvalTopLevel runs one top-level IR node the way Apply runs a
// callable: a dialect exception or any other panic that escapes is
// recovered into a Go error rather than crashing the compile driver.
func (tb *TreeBackend) EvalTopLevel(node *AnalyzerNode, env Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if sig, ok := r.(*thrownSignal); ok {
				err = sig
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	result = tb.Eval(node, env)
	return
}

func (tb *TreeBackend) evalConstList(n *AnalyzerNode, env Value) Value {
	var items []Value
	for _, e := range n.Elements {
		if e.Kind == IRMaybeInvoke && e.Name == "__splice__" {
			spliced := tb.Eval(e.Args[0], env)
			items = append(items, ListValues(spliced)...)
			continue
		}
		items = append(items, tb.Eval(e, env))
	}
	return tb.gc.MakeList(items...)
}

func (tb *TreeBackend) evalInvoke(n *AnalyzerNode, env Value) Value {
	fn := tb.Eval(n.Fn, env)
	args := make([]Value, len(n.Args))
	for i, a := range n.Args {
		args[i] = tb.Eval(a, env)
	}
	tb.pushFrame(append([]Value{fn}, args...)...)
	defer tb.popFrame()
	return tb.apply(fn, args)
}

func (tb *TreeBackend) evalTry(n *AnalyzerNode, env Value) (result Value) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		sig, ok := r.(*thrownSignal)
		if !ok {
			panic(r)
		}
		for _, c := range n.Catches {
			if exceptionMatches(sig.exc.Exception().TypeName, c.TypeName) {
				inner := tb.gc.allocEnvironment(env, NewNil())
				tb.gc.EnvironmentAdd(inner, tb.gc.MakeSymbol(c.BindName), sig.exc)
				result = tb.evalBodySeq(c.Body, inner)
				return
			}
		}
		panic(r)
	}()
	return tb.evalBodySeq(n.Body, env)
}
