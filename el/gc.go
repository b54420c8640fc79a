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
	"sync"
	"unsafe"

	"github.com/google/btree"
	units "github.com/docker/go-units"
)

// GCMode selects who is responsible for keeping an object reachable
// from the collector's point of view.
//
//   - CompilerOwned objects were allocated by code the Backend emitted;
//     their roots come exclusively from the stack-map/statepoint table
//     registered for the active call frames.
//   - InterpreterOwned objects were allocated by treebackend.go's tree
//     walker, which has no compiled stack map of its own — it reports
//     its live Values directly as a RootSource.
//
// Both modes coexist in one heap. The collector records the mode but
// Collect does not consult it: in either mode it marks from every
// registered RootSource plus the pinned roots, and it scans no stack
// maps of its own.
type GCMode uint8

const (
	CompilerOwned GCMode = iota
	InterpreterOwned
)

// RootSource is anything that can enumerate the Values it currently
// holds live. The analyzer's Backend implementations register one of
// these per active call stack; this is the idiomatic Go stand-in for
// the compiler-emitted stack-map/statepoint table a native backend
// would publish per spec.md's root-discovery design — here the
// "table" is just an interface method invoked at collection time
// instead of a table decoded from emitted metadata.
type RootSource interface {
	GCRoots() []Value
}

type heapRecord struct {
	addr   uintptr
	ptr    unsafe.Pointer
	header *ObjectHeader
	size   uintptr
}

func heapRecordLess(a, b *heapRecord) bool { return a.addr < b.addr }

// GarbageCollector is a precise, non-recursive mark-and-sweep collector
// over the heap objects defined in value.go. heapObjects is kept in a
// github.com/google/btree ordered tree keyed by allocation address so
// sweep can walk the live set in address order (useful for the
// compaction-free "register in sorted order, sweep in sorted order"
// discipline the teacher's own allocator followed) without needing a
// separate free list structure.
type GarbageCollector struct {
	mu          sync.Mutex
	mode        GCMode
	heapObjects *btree.BTreeG[*heapRecord]
	roots       []RootSource
	extraRoots  []Value
	gen         uint32
	allocated   uint64
	softLimit   uint64
	collections uint64
}

// NewGarbageCollector builds a collector in the given mode. heapSoftLimit
// is a human-readable size ("512MiB", "2GB", ...) parsed with
// docker/go-units, matching how config.go's YAML HeapSoftLimit field is
// authored; an empty string disables the soft-limit trigger (Collect
// must then be called explicitly, e.g. from a REPL command or a test).
func NewGarbageCollector(mode GCMode, heapSoftLimit string) (*GarbageCollector, error) {
	gc := &GarbageCollector{
		mode:        mode,
		heapObjects: btree.NewG(32, heapRecordLess),
		gen:         1,
	}
	if heapSoftLimit != "" {
		n, err := units.RAMInBytes(heapSoftLimit)
		if err != nil {
			return nil, err
		}
		gc.softLimit = uint64(n)
	}
	return gc, nil
}

// RegisterRootSource adds a live-root provider (an active tree-walker
// call stack, a REPL's pinned result history, ...) consulted on every
// collection for as long as it remains registered.
func (gc *GarbageCollector) RegisterRootSource(rs RootSource) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.roots = append(gc.roots, rs)
}

// PinRoot adds a single Value as an always-live extra root (object_roots
// in spec terms) for the rest of the collector's life; there is no
// unpin operation. Used for the namespace
// manager's global definitions table and for values a caller wants to
// keep alive across an explicit Collect without wiring a RootSource.
func (gc *GarbageCollector) PinRoot(v Value) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.extraRoots = append(gc.extraRoots, v)
}

func (gc *GarbageCollector) register(addr unsafe.Pointer, header *ObjectHeader, size uintptr) {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.heapObjects.ReplaceOrInsert(&heapRecord{
		addr:   uintptr(addr),
		ptr:    addr,
		header: header,
		size:   size,
	})
	gc.allocated += uint64(size)
}

func (gc *GarbageCollector) maybeCollect() {
	if gc.softLimit == 0 {
		return
	}
	gc.mu.Lock()
	over := gc.allocated > gc.softLimit
	gc.mu.Unlock()
	if over {
		gc.Collect()
	}
}

// HeapObjectCount reports how many live heap objects the collector is
// currently tracking (post-sweep this equals the reachable set).
func (gc *GarbageCollector) HeapObjectCount() int {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.heapObjects.Len()
}

// Collect runs one full mark-and-sweep cycle: mark walks an explicit
// worklist (never the Go call stack) so collection depth is bounded by
// heap fan-out, not by list/tree nesting depth in the dialect program
// being collected. Sweep then evicts every record whose header wasn't
// touched by this cycle's generation stamp.
func (gc *GarbageCollector) Collect() {
	gc.mu.Lock()
	gc.gen++
	gen := gc.gen
	var worklist []Value
	for _, r := range gc.roots {
		worklist = append(worklist, r.GCRoots()...)
	}
	worklist = append(worklist, gc.extraRoots...)
	gc.mu.Unlock()

	for len(worklist) > 0 {
		v := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if v.ptr == nil || v.ptr == &intSentinel {
			continue
		}
		h := v.header()
		if h.GCMark == gen {
			continue
		}
		h.GCMark = gen
		worklist = append(worklist, childrenOf(v)...)
	}

	gc.mu.Lock()
	defer gc.mu.Unlock()
	gc.collections++
	var freed uint64
	var dead []uintptr
	gc.heapObjects.Ascend(func(r *heapRecord) bool {
		if r.header.GCMark != gen {
			dead = append(dead, r.addr)
			freed += uint64(r.size)
		}
		return true
	})
	for _, addr := range dead {
		gc.heapObjects.Delete(&heapRecord{addr: addr})
	}
	if freed <= gc.allocated {
		gc.allocated -= freed
	} else {
		gc.allocated = 0
	}
}

// childrenOf enumerates a heap object's outgoing Value pointers for the
// mark phase. Immediates (nil, bool, int) never reach here as v.ptr
// would be nil or &intSentinel, already filtered by the caller.
func childrenOf(v Value) []Value {
	switch v.GetTag() {
	case tagPair:
		p := v.asPairObj()
		return []Value{p.Value, p.Next}
	case tagVar:
		vr := v.asVarObj()
		return []Value{vr.Sym, vr.Val}
	case tagInterpretedFunction:
		f := v.asInterpretedFunctionObj()
		children := []Value{f.ArgNames, f.Env}
		for _, node := range f.bodyNodes {
			node.Walk(func(n *AnalyzerNode) {
				if n.Kind == IRConst {
					children = append(children, n.ConstValue)
				}
			})
		}
		return children
	case tagCompiledFunction:
		f := v.asCompiledFunctionObj()
		return append([]Value(nil), f.Env...)
	case tagEnvironment:
		e := v.asEnvironmentObj()
		return []Value{e.Parent, e.Values}
	case tagException:
		return []Value{v.asExceptionObj().Metadata}
	default:
		return nil
	}
}

//
// Allocating constructors — the rt_make_* primitives of spec.md §4.7,
// realized as methods so tests can run several independent heaps
// side by side instead of sharing one package-level singleton.
//

func (gc *GarbageCollector) MakeFloat(f float64) Value {
	obj := &FloatObj{Header: ObjectHeader{Tag: uint32(tagFloat)}, Value: f}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagFloat, 0)}
}

func (gc *GarbageCollector) MakeString(s string) Value {
	obj := &StringObj{Header: ObjectHeader{Tag: uint32(tagString)}, Bytes: s}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj)+uintptr(len(s)))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagString, 0)}
}

func (gc *GarbageCollector) MakeSymbol(name string) Value {
	obj := &SymbolObj{Header: ObjectHeader{Tag: uint32(tagSymbol)}, Name: name}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj)+uintptr(len(name)))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagSymbol, 0)}
}

func (gc *GarbageCollector) MakeKeyword(name string) Value {
	obj := &KeywordObj{Header: ObjectHeader{Tag: uint32(tagKeyword)}, Name: name}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj)+uintptr(len(name)))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagKeyword, 0)}
}

// MakePair allocates one cons cell; next is NewNil() to terminate a list.
func (gc *GarbageCollector) MakePair(value, next Value) Value {
	obj := &PairObj{Header: ObjectHeader{Tag: uint32(tagPair)}, Value: value, Next: next}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagPair, 0)}
}

// MakeList builds a proper list out of vs, right to left.
func (gc *GarbageCollector) MakeList(vs ...Value) Value {
	out := NewNil()
	for i := len(vs) - 1; i >= 0; i-- {
		out = gc.MakePair(vs[i], out)
	}
	return out
}

func (gc *GarbageCollector) MakeVar(sym, val Value) Value {
	obj := &VarObj{Header: ObjectHeader{Tag: uint32(tagVar)}, Sym: sym, Val: val}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagVar, 0)}
}

func (gc *GarbageCollector) MakeCompiledFunction(arity int, hasRest bool, native func([]Value, Value) Value, env []Value) Value {
	obj := &CompiledFunctionObj{
		Header:  ObjectHeader{Tag: uint32(tagCompiledFunction)},
		Arity:   arity,
		HasRest: hasRest,
		Native:  native,
		Env:     env,
	}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagCompiledFunction, 0)}
}

func (gc *GarbageCollector) MakeInterpretedFunction(arity int, hasRest bool, argNames, env Value, bodyNodes []*AnalyzerNode) Value {
	obj := &InterpretedFunctionObj{
		Header:    ObjectHeader{Tag: uint32(tagInterpretedFunction)},
		Arity:     arity,
		HasRest:   hasRest,
		ArgNames:  argNames,
		Env:       env,
		bodyNodes: bodyNodes,
	}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagInterpretedFunction, 0)}
}

func (gc *GarbageCollector) allocEnvironment(parent, values Value) Value {
	obj := &EnvironmentObj{Header: ObjectHeader{Tag: uint32(tagEnvironment)}, Parent: parent, Values: values}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagEnvironment, 0)}
}

func (gc *GarbageCollector) MakeException(typeName string, metadata Value, message string) Value {
	obj := &ExceptionObj{
		Header:   ObjectHeader{Tag: uint32(tagException)},
		TypeName: typeName,
		Metadata: metadata,
		Message:  message,
	}
	gc.register(unsafe.Pointer(obj), &obj.Header, unsafe.Sizeof(*obj)+uintptr(len(typeName)+len(message)))
	gc.maybeCollect()
	return Value{ptr: (*byte)(unsafe.Pointer(obj)), aux: makeAux(tagException, 0)}
}
