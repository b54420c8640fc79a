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
	"encoding/binary"
	"math"
	"strconv"
	"sync"
	"unsafe"

	"github.com/minio/highwayhash"
)

// macroCacheKey is a fixed, non-secret 32-byte key: the cache below
// only needs a fast, well-distributed hash to dedupe repeated macro
// expansions in a REPL session or a file reloaded during development,
// not a keyed MAC, so a constant key is fine.
var macroCacheKey = make([]byte, 32)

// MacroEngine runs compile-time macro transformers and memoizes their
// expansions: a macro re-invoked with the same arguments at the same
// definition (def pointer — redefining the macro swaps def and misses
// the cache, which is exactly the invalidation a REPL redefine needs)
// is expanded once and reused, which matters once a file's top-level
// forms are re-analyzed after an incremental REPL edit.
type MacroEngine struct {
	mu      sync.Mutex
	gc      *GarbageCollector
	backend Backend
	cache   map[uint64]AST
}

func newMacroEngine(gc *GarbageCollector, backend Backend) *MacroEngine {
	return &MacroEngine{gc: gc, backend: backend, cache: make(map[uint64]AST)}
}

// Expand runs the macro transformer bound to def against ast's
// arguments (unevaluated AST, converted to dialect Values for the
// transformer to manipulate) and analyzes the resulting expansion in
// place of the original form.
func (me *MacroEngine) Expand(as *AnalyzerState, def *Definition, name string, ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	key := me.cacheKey(def, ast.List[1:])

	me.mu.Lock()
	expandedAST, hit := me.cache[key]
	me.mu.Unlock()

	if !hit {
		argValues := make([]Value, len(ast.List)-1)
		for i, a := range ast.List[1:] {
			argValues[i] = astToValue(me.gc, a)
		}
		result, err := me.backend.Apply(def.Var.VarVal(), argValues)
		if err != nil {
			return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "macro " + name + " failed: " + err.Error()}
		}
		expandedAST = valueToAST(result, ast.Pos)
		me.mu.Lock()
		me.cache[key] = expandedAST
		me.mu.Unlock()
	}

	expanded, err := as.analyze(expandedAST, lex, phase)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{
		Kind: IRMacroExpand, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase,
		MacroName: name, RawArgs: ast.List[1:], Expanded: expanded,
	}, nil
}

func (me *MacroEngine) cacheKey(def *Definition, args []AST) uint64 {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, uint64(uintptr(unsafe.Pointer(def))))
	for _, a := range args {
		buf = appendASTFingerprint(buf, a)
	}
	return highwayhash.Sum64(buf, macroCacheKey)
}

func appendASTFingerprint(buf []byte, ast AST) []byte {
	buf = append(buf, byte(ast.Kind))
	switch ast.Kind {
	case ASTInteger:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(ast.IntValue))
	case ASTFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(ast.FloatValue))
	case ASTBoolean:
		if ast.BoolValue {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case ASTString, ASTSymbol, ASTKeyword:
		buf = append(buf, []byte(ast.StrValue)...)
	case ASTList:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(ast.List)))
		for _, c := range ast.List {
			buf = appendASTFingerprint(buf, c)
		}
	}
	return buf
}

// astToValue converts a parsed AST form into the runtime Value it
// denotes when quoted: the pure-data counterpart a macro transformer
// receives and returns. Lists become Pair chains, symbols/keywords/
// strings become their heap object, numbers/booleans/nil become
// immediates or FloatObjs.
func astToValue(gc *GarbageCollector, ast AST) Value {
	switch ast.Kind {
	case ASTInteger:
		return NewInt(ast.IntValue)
	case ASTFloat:
		return gc.MakeFloat(ast.FloatValue)
	case ASTBoolean:
		return NewBool(ast.BoolValue)
	case ASTString:
		return gc.MakeString(ast.StrValue)
	case ASTSymbol:
		return gc.MakeSymbol(ast.StrValue)
	case ASTKeyword:
		return gc.MakeKeyword(ast.StrValue)
	case ASTNil:
		return NewNil()
	case ASTList:
		items := make([]Value, len(ast.List))
		for i, c := range ast.List {
			items[i] = astToValue(gc, c)
		}
		return gc.MakeList(items...)
	}
	return NewNil()
}

// valueToAST is astToValue's inverse: it turns a macro transformer's
// returned Value back into AST the analyzer can process, attaching pos
// (the macro call site) to every synthesized node since expanded code
// has no source text of its own to point at.
func valueToAST(v Value, pos SourcePosition) AST {
	switch v.GetTag() {
	case tagNil:
		return astNil(pos)
	case tagBool:
		return astBool(pos, v.Bool())
	case tagInt:
		return astInt(pos, v.Int())
	case tagFloat:
		return astFloat(pos, v.Float())
	case tagString:
		return astString(pos, v.StringValue())
	case tagSymbol:
		return astSymbol(pos, v.SymbolName())
	case tagKeyword:
		return astKeyword(pos, v.KeywordName())
	case tagPair:
		var items []AST
		cur := v
		for !cur.IsNil() {
			if !cur.IsPair() {
				// dotted tail: represent as an extra trailing element,
				// same convention the printer uses for improper lists.
				items = append(items, astSymbol(pos, "."), valueToAST(cur, pos))
				break
			}
			items = append(items, valueToAST(cur.Car(), pos))
			cur = cur.Cdr()
		}
		return astList(pos, items)
	default:
		// Functions, environments, and exceptions quoted back into AST
		// have no literal syntax; macros that return one are expected to
		// wrap it in a call instead (e.g. splice it into an invocation).
		return astSymbol(pos, "#<"+tagName(v.GetTag())+" literal not representable as syntax "+strconv.Itoa(int(v.GetTag()))+">")
	}
}
