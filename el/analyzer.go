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
	"strings"

	"github.com/google/uuid"
)

// AnalyzerState carries everything a single compile unit's worth of
// analysis needs: the heap it allocates constants into, the namespace
// the unit's defs land in, the backend that runs compile-time code
// (macro transformers, eval-when :compile bodies), and a UUID naming
// this compile unit. The UUID is only stored here: AnalysisError and
// trace.go's events do not carry it.
type AnalyzerState struct {
	gc          *GarbageCollector
	namespaces  *NamespaceManager
	backend     Backend
	macros      *MacroEngine
	compileUnit uuid.UUID
}

func NewAnalyzerState(gc *GarbageCollector, namespaces *NamespaceManager, backend Backend) *AnalyzerState {
	return &AnalyzerState{
		gc:          gc,
		namespaces:  namespaces,
		backend:     backend,
		macros:      newMacroEngine(gc, backend),
		compileUnit: uuid.New(),
	}
}

// AnalyzeTopLevel analyzes one top-level form read at the REPL or from
// a source file. phase defaults to PhaseLoadTime; a top-level
// (eval-when ...) can widen or narrow it for its own body.
func (as *AnalyzerState) AnalyzeTopLevel(ast AST) (*AnalyzerNode, error) {
	return as.analyze(ast, NewLexicalEnv(nil), PhaseLoadTime)
}

func (as *AnalyzerState) analyze(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	switch ast.Kind {
	case ASTInteger:
		return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: NewInt(ast.IntValue)}, nil
	case ASTFloat:
		return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: as.gc.MakeFloat(ast.FloatValue)}, nil
	case ASTBoolean:
		return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: NewBool(ast.BoolValue)}, nil
	case ASTString:
		return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: as.gc.MakeString(ast.StrValue)}, nil
	case ASTKeyword:
		return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: as.gc.MakeKeyword(ast.StrValue)}, nil
	case ASTNil:
		return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: NewNil()}, nil
	case ASTSymbol:
		return as.analyzeSymbol(ast, lex, phase)
	case ASTList:
		return as.analyzeList(ast, lex, phase)
	}
	return nil, &AnalysisError{ast.Pos, ErrUnknownSpecialForm, "unrecognized AST node"}
}

func (as *AnalyzerState) analyzeSymbol(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if depth, ok := lex.Resolve(ast.StrValue); ok {
		return &AnalyzerNode{
			Kind: IRVarLookup, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase,
			Name: ast.StrValue, LexDepth: depth,
		}, nil
	}
	def, ok := as.resolveSymbol(ast.StrValue)
	if !ok {
		return nil, &AnalysisError{ast.Pos, ErrUnresolvedSymbol, "unable to resolve symbol: " + ast.StrValue}
	}
	if phase.Has(PhaseCompileTime) && !def.Phase.Has(PhaseCompileTime) {
		return nil, &AnalysisError{ast.Pos, ErrNotVisibleToCompiler,
			fmt.Sprintf("symbol %q not visible to compiler (defined at load time only)", ast.StrValue)}
	}
	return &AnalyzerNode{
		Kind: IRVarLookup, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase,
		Name: ast.StrValue, LexDepth: -1, Def: def,
	}, nil
}

// resolveSymbol resolves name against the namespace system: a name
// containing a "/" (other than a leading or trailing one, which are
// ordinary symbol characters like in / itself) is split into a
// qualifying namespace/alias and a bare name and resolved via
// NamespaceManager.LookupQualified; anything else resolves against the
// current namespace the ordinary way.
func (as *AnalyzerState) resolveSymbol(name string) (*Definition, bool) {
	if idx := strings.LastIndex(name, "/"); idx > 0 && idx < len(name)-1 {
		return as.namespaces.LookupQualified(as.namespaces.Current(), name[:idx], name[idx+1:])
	}
	return as.namespaces.Current().Lookup(name)
}

func (as *AnalyzerState) analyzeList(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if len(ast.List) == 0 {
		return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: NewNil()}, nil
	}
	head := ast.HeadSymbol()

	if head != "" {
		if _, shadowed := lex.Resolve(head); !shadowed {
			if def, ok := as.resolveSymbol(head); ok && def.Macro {
				return as.macros.Expand(as, def, head, ast, lex, phase)
			}
		}
	}

	switch head {
	case "quote":
		return as.analyzeQuote(ast, lex, phase)
	case "quasiquote":
		return as.analyzeQuasiquote(ast, lex, phase, 1)
	case "if":
		return as.analyzeIf(ast, lex, phase)
	case "do":
		return as.analyzeDo(ast, lex, phase)
	case "lambda", "fn":
		return as.analyzeLambda(ast, lex, phase, "")
	case "let":
		return as.analyzeLet(ast, lex, phase)
	case "def":
		return as.analyzeDef(ast, lex, phase)
	case "def-ffi-fn":
		return as.analyzeDefFFIFn(ast, lex, phase)
	case "defmacro":
		return as.analyzeDefMacro(ast, lex, phase)
	case "try":
		return as.analyzeTry(ast, lex, phase)
	case "set!":
		return as.analyzeSetBang(ast, lex, phase)
	case "while":
		return as.analyzeWhile(ast, lex, phase)
	case "in-ns":
		return as.analyzeInNS(ast, lex, phase)
	case "eval-when":
		return as.analyzeEvalWhen(ast, lex, phase)
	}

	return as.analyzeInvoke(ast, lex, phase)
}

func (as *AnalyzerState) analyzeQuote(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if len(ast.List) != 2 {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "quote takes exactly one argument"}
	}
	return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: astToValue(as.gc, ast.List[1])}, nil
}

// analyzeQuasiquote desugars ` at analysis time into the equivalent
// nested (quote/unquote/unquote-splice) combination of IR rather than
// runtime list-building calls, so a quasiquoted form with no unquotes
// at all collapses straight to an IRConst.
func (as *AnalyzerState) analyzeQuasiquote(ast AST, lex *LexicalEnv, phase EvalPhase, depth int) (*AnalyzerNode, error) {
	if len(ast.List) != 2 {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "quasiquote takes exactly one argument"}
	}
	inner := ast.List[1]
	return as.quasiquoteForm(inner, lex, phase, depth)
}

func (as *AnalyzerState) quasiquoteForm(ast AST, lex *LexicalEnv, phase EvalPhase, depth int) (*AnalyzerNode, error) {
	if ast.HeadSymbol() == "unquote" && depth == 1 {
		return as.analyze(ast.List[1], lex, phase)
	}
	if ast.HeadSymbol() == "unquote" {
		return as.quasiquoteRebuild(ast, lex, phase, depth-1)
	}
	if ast.HeadSymbol() == "quasiquote" {
		return as.quasiquoteRebuild(ast, lex, phase, depth+1)
	}
	if ast.Kind != ASTList {
		return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: astToValue(as.gc, ast)}, nil
	}
	// A list with no nested unquote at this depth is just a literal.
	if !containsUnquote(ast) {
		return &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, ConstValue: astToValue(as.gc, ast)}, nil
	}
	var elements []*AnalyzerNode
	for _, item := range ast.List {
		if item.HeadSymbol() == "unquote-splice" && depth == 1 {
			spliced, err := as.analyze(item.List[1], lex, phase)
			if err != nil {
				return nil, err
			}
			elements = append(elements, &AnalyzerNode{Kind: IRMaybeInvoke, Pos: item.Pos, Args: []*AnalyzerNode{spliced}, Name: "__splice__"})
			continue
		}
		n, err := as.quasiquoteForm(item, lex, phase, depth)
		if err != nil {
			return nil, err
		}
		elements = append(elements, n)
	}
	return &AnalyzerNode{Kind: IRConstList, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Elements: elements}, nil
}

func (as *AnalyzerState) quasiquoteRebuild(ast AST, lex *LexicalEnv, phase EvalPhase, depth int) (*AnalyzerNode, error) {
	n, err := as.quasiquoteForm(ast.List[1], lex, phase, depth)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IRConstList, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Elements: []*AnalyzerNode{
		{Kind: IRConst, ConstValue: as.gc.MakeSymbol(ast.HeadSymbol())},
		n,
	}}, nil
}

func containsUnquote(ast AST) bool {
	if ast.HeadSymbol() == "unquote" || ast.HeadSymbol() == "unquote-splice" {
		return true
	}
	if ast.Kind != ASTList {
		return false
	}
	for _, item := range ast.List {
		if containsUnquote(item) {
			return true
		}
	}
	return false
}

func (as *AnalyzerState) analyzeIf(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if len(ast.List) < 3 || len(ast.List) > 4 {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "if takes (cond then [else])"}
	}
	cond, err := as.analyze(ast.List[1], lex, phase)
	if err != nil {
		return nil, err
	}
	then, err := as.analyze(ast.List[2], lex, phase)
	if err != nil {
		return nil, err
	}
	var els *AnalyzerNode
	if len(ast.List) == 4 {
		els, err = as.analyze(ast.List[3], lex, phase)
		if err != nil {
			return nil, err
		}
	} else {
		els = &AnalyzerNode{Kind: IRConst, Pos: ast.Pos, ConstValue: NewNil()}
	}
	return &AnalyzerNode{Kind: IRIf, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Cond: cond, Then: then, Else: els}, nil
}

func (as *AnalyzerState) analyzeDo(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	body, err := as.analyzeBody(ast.List[1:], lex, phase)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IRDo, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Body: body}, nil
}

func (as *AnalyzerState) analyzeBody(forms []AST, lex *LexicalEnv, phase EvalPhase) ([]*AnalyzerNode, error) {
	out := make([]*AnalyzerNode, 0, len(forms))
	for _, f := range forms {
		n, err := as.analyze(f, lex, phase)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (as *AnalyzerState) analyzeLambda(ast AST, lex *LexicalEnv, phase EvalPhase, name string) (*AnalyzerNode, error) {
	if len(ast.List) < 2 || ast.List[1].Kind != ASTList {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "lambda takes (params) body..."}
	}
	paramForms := ast.List[1].List
	inner := NewLexicalEnv(lex)
	var params []string
	hasRest := false
	restParam := ""
	for i := 0; i < len(paramForms); i++ {
		p := paramForms[i]
		if p.Kind != ASTSymbol {
			return nil, &AnalysisError{p.Pos, ErrMalformedSpecialForm, "lambda parameter must be a symbol"}
		}
		if p.StrValue == "&" {
			if i+1 >= len(paramForms) {
				return nil, &AnalysisError{p.Pos, ErrMalformedSpecialForm, "& must be followed by a rest parameter name"}
			}
			restParam = paramForms[i+1].StrValue
			inner.Bind(restParam)
			hasRest = true
			i++
			continue
		}
		params = append(params, p.StrValue)
		inner.Bind(p.StrValue)
	}
	body, err := as.analyzeBody(ast.List[2:], inner, phase)
	if err != nil {
		return nil, err
	}
	node := &AnalyzerNode{
		Kind: IRLambda, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase,
		Params: params, HasRest: hasRest, RestParam: restParam, Body: body, LambdaName: name,
	}
	node.ClosedOvers = collectClosedOvers(node, lex)
	return node, nil
}

// collectClosedOvers walks a lambda's already-analyzed body (including
// macro expansions) and returns, deduplicated in order of first
// reference, every free variable name the body references via an
// IRVarLookup whose binding frame lies outside the lambda — at or above
// outer's depth — i.e. names the body needs captured from outside
// rather than bound by its own params or an internal let/lambda. The
// lambda's own parameter names are never reported, even when they
// shadow a binding of the same name in an enclosing frame.
func collectClosedOvers(lambda *AnalyzerNode, outer *LexicalEnv) []string {
	seen := make(map[string]bool)
	var names []string
	var visit func(n *AnalyzerNode)
	visit = func(n *AnalyzerNode) {
		if n == nil {
			return
		}
		if n.Kind == IRVarLookup && n.LexDepth >= 0 {
			if n.Depth-n.LexDepth <= outer.Depth() {
				if !seen[n.Name] {
					seen[n.Name] = true
					names = append(names, n.Name)
				}
			}
		}
		for _, c := range n.Elements {
			visit(c)
		}
		visit(n.Cond)
		visit(n.Then)
		visit(n.Else)
		for _, c := range n.Body {
			visit(c)
		}
		for _, b := range n.Bindings {
			visit(b.Init)
		}
		visit(n.Init)
		visit(n.Fn)
		for _, a := range n.Args {
			visit(a)
		}
		visit(n.Expanded)
		for _, c := range n.Catches {
			for _, b := range c.Body {
				visit(b)
			}
		}
	}
	for _, b := range lambda.Body {
		visit(b)
	}
	return names
}

func (as *AnalyzerState) analyzeLet(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if len(ast.List) < 2 || ast.List[1].Kind != ASTList {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "let takes ([name init]...) body..."}
	}
	bindingForms := ast.List[1].List
	if len(bindingForms)%2 != 0 {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "let bindings must be name/init pairs"}
	}
	inner := NewLexicalEnv(lex)
	var bindings []LetBinding
	for i := 0; i < len(bindingForms); i += 2 {
		nameAST := bindingForms[i]
		if nameAST.Kind != ASTSymbol {
			return nil, &AnalysisError{nameAST.Pos, ErrMalformedSpecialForm, "let binding name must be a symbol"}
		}
		init, err := as.analyze(bindingForms[i+1], inner, phase)
		if err != nil {
			return nil, err
		}
		inner.Bind(nameAST.StrValue)
		bindings = append(bindings, LetBinding{Name: nameAST.StrValue, Init: init})
	}
	body, err := as.analyzeBody(ast.List[2:], inner, phase)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IRLet, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Bindings: bindings, Body: body}, nil
}

func (as *AnalyzerState) analyzeDef(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if lex.Depth() != 0 {
		return nil, &AnalysisError{ast.Pos, ErrDefOutsideTopLevel, "def is only allowed at the top level"}
	}
	if len(ast.List) != 3 || ast.List[1].Kind != ASTSymbol {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "def takes (name init)"}
	}
	name := ast.List[1].StrValue
	var init *AnalyzerNode
	var err error
	if ast.List[2].HeadSymbol() == "lambda" || ast.List[2].HeadSymbol() == "fn" {
		init, err = as.analyzeLambda(ast.List[2], lex, phase, name)
	} else {
		init, err = as.analyze(ast.List[2], lex, phase)
	}
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IRDef, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Name: name, Init: init}, nil
}

// analyzeDefFFIFn declares a foreign-implemented function: no dialect
// body exists for it, only an arity contract; declare.go resolves the
// name to a Go-native implementation at namespace-registration time.
func (as *AnalyzerState) analyzeDefFFIFn(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if lex.Depth() != 0 {
		return nil, &AnalysisError{ast.Pos, ErrDefOutsideTopLevel, "def-ffi-fn is only allowed at the top level"}
	}
	if len(ast.List) < 3 || ast.List[1].Kind != ASTSymbol || ast.List[2].Kind != ASTList {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "def-ffi-fn takes (name (params...))"}
	}
	arity := 0
	hasRest := false
	for _, p := range ast.List[2].List {
		if p.StrValue == "&" {
			hasRest = true
			break
		}
		arity++
	}
	return &AnalyzerNode{
		Kind: IRDefFFIFn, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase,
		Name: ast.List[1].StrValue, FFIArity: arity, FFIHasRest: hasRest,
	}, nil
}

func (as *AnalyzerState) analyzeDefMacro(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if lex.Depth() != 0 {
		return nil, &AnalysisError{ast.Pos, ErrDefOutsideTopLevel, "defmacro is only allowed at the top level"}
	}
	if len(ast.List) < 3 || ast.List[1].Kind != ASTSymbol {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "defmacro takes (name (params...) body...)"}
	}
	name := ast.List[1].StrValue
	lambdaAST := astList(ast.Pos, append([]AST{astSymbol(ast.Pos, "lambda")}, ast.List[2:]...))
	lambda, err := as.analyzeLambda(lambdaAST, lex, phase|PhaseCompileTime, name)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IRDefMacro, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase | PhaseCompileTime, Name: name, Init: lambda}, nil
}

func (as *AnalyzerState) analyzeTry(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	var body []AST
	var catches []CatchClause
	for _, f := range ast.List[1:] {
		if f.HeadSymbol() == "catch" {
			if len(f.List) < 2 || f.List[1].Kind != ASTList || len(f.List[1].List) != 2 ||
				f.List[1].List[0].Kind != ASTSymbol || f.List[1].List[1].Kind != ASTSymbol {
				return nil, &AnalysisError{f.Pos, ErrMalformedSpecialForm, "catch takes ((type binding) body...)"}
			}
			typeName := f.List[1].List[0].StrValue
			bindName := f.List[1].List[1].StrValue
			inner := NewLexicalEnv(lex)
			inner.Bind(bindName)
			cbody, err := as.analyzeBody(f.List[2:], inner, phase)
			if err != nil {
				return nil, err
			}
			catches = append(catches, CatchClause{TypeName: typeName, BindName: bindName, Body: cbody})
			continue
		}
		body = append(body, f)
	}
	tryBody, err := as.analyzeBody(body, lex, phase)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IRTry, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Body: tryBody, Catches: catches}, nil
}

func (as *AnalyzerState) analyzeSetBang(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if len(ast.List) != 3 || ast.List[1].Kind != ASTSymbol {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "set! takes (name value)"}
	}
	val, err := as.analyze(ast.List[2], lex, phase)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IRSetBang, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Name: ast.List[1].StrValue, Init: val}, nil
}

func (as *AnalyzerState) analyzeWhile(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if len(ast.List) < 2 {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "while takes (cond) body..."}
	}
	cond, err := as.analyze(ast.List[1], lex, phase)
	if err != nil {
		return nil, err
	}
	body, err := as.analyzeBody(ast.List[2:], lex, phase)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IRWhile, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Cond: cond, Body: body}, nil
}

func (as *AnalyzerState) analyzeInNS(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if len(ast.List) != 2 || ast.List[1].Kind != ASTSymbol {
		return nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "in-ns takes a namespace symbol"}
	}
	as.namespaces.SwitchTo(ast.List[1].StrValue)
	return &AnalyzerNode{Kind: IRInNS, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Name: ast.List[1].StrValue}, nil
}

// analyzeEvalWhen implements the phase bitmask: (eval-when (:compile) ...)
// runs only while the compiler/macro engine is running, (eval-when (:load)
// ...) only when the compiled unit is later loaded/run, and
// (eval-when (:compile :load) ...) evaluates once in each phase (two
// distinct AnalyzerNode trees are NOT produced — one Body is analyzed
// once and AnalyzeAndRun decides how many times to run it based on the
// resulting Phase bitmask).
func (as *AnalyzerState) analyzeEvalWhen(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	if lex.Depth() != 0 {
		return nil, &AnalysisError{ast.Pos, ErrEvalWhenNotTopLevel, "eval-when is only allowed at the top level"}
	}
	want, bodyForms, err := parseEvalWhenPhases(ast)
	if err != nil {
		return nil, err
	}
	body, err := as.analyzeBody(bodyForms, lex, want)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IREvalWhen, Pos: ast.Pos, Depth: lex.Depth(), Phase: want, Body: body}, nil
}

// parseEvalWhenPhases decodes (eval-when (:compile|:load...) body...)
// into the phase bitmask it requests plus its (unanalyzed) body forms.
// Shared by analyzeEvalWhen and flattenTopLevel, which both need to
// know an eval-when's phase before deciding how to handle its body.
func parseEvalWhenPhases(ast AST) (EvalPhase, []AST, error) {
	if len(ast.List) < 2 || ast.List[1].Kind != ASTList {
		return PhaseNone, nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "eval-when takes (:compile|:load...) body..."}
	}
	var want EvalPhase
	for _, k := range ast.List[1].List {
		if k.Kind != ASTKeyword {
			return PhaseNone, nil, &AnalysisError{k.Pos, ErrMalformedSpecialForm, "eval-when phase list must contain keywords"}
		}
		switch k.StrValue {
		case "compile":
			want |= PhaseCompileTime
		case "load":
			want |= PhaseLoadTime
		default:
			return PhaseNone, nil, &AnalysisError{k.Pos, ErrMalformedSpecialForm, "unknown eval-when phase: " + k.StrValue}
		}
	}
	if want == PhaseNone {
		return PhaseNone, nil, &AnalysisError{ast.Pos, ErrMalformedSpecialForm, "eval-when phase list must not be empty"}
	}
	return want, ast.List[2:], nil
}

// topLevelForm is one form flattenTopLevel unwrapped a top-level do or
// eval-when into, tagged with the phase it should be analyzed under.
type topLevelForm struct {
	ast   AST
	phase EvalPhase
}

// flattenTopLevel implements the top-level flattening post-pass: a
// top-level do or eval-when is never analyzed as a single opaque IR
// node, since a defmacro/def/def-ffi-fn inside it must register its
// global before a later sibling form in the same do is analyzed (the
// concrete scenario a do immediately using a macro it just defined
// requires this). Both forms are unwrapped recursively — a do can
// nest another do or eval-when — into the flat sequence of forms
// AnalyzeAndRun analyzes and runs one at a time.
func flattenTopLevel(ast AST, phase EvalPhase) ([]topLevelForm, error) {
	switch ast.HeadSymbol() {
	case "do":
		var out []topLevelForm
		for _, f := range ast.List[1:] {
			flattened, err := flattenTopLevel(f, phase)
			if err != nil {
				return nil, err
			}
			out = append(out, flattened...)
		}
		return out, nil
	case "eval-when":
		want, bodyForms, err := parseEvalWhenPhases(ast)
		if err != nil {
			return nil, err
		}
		var out []topLevelForm
		for _, f := range bodyForms {
			flattened, err := flattenTopLevel(f, want)
			if err != nil {
				return nil, err
			}
			out = append(out, flattened...)
		}
		return out, nil
	default:
		return []topLevelForm{{ast: ast, phase: phase}}, nil
	}
}

// AnalyzeAndRun is the compile driver's real entry point for a
// top-level form: it flattens ast (see flattenTopLevel) and, for each
// resulting form, analyzes it and immediately runs it through backend
// before the next form is analyzed. That ordering is what makes "Def
// registers a global before any reference to it is resolved" hold even
// when the def and its reference sit in the same top-level do — a bare
// AnalyzeTopLevel-then-Eval (the REPL's old one-shot shape) analyzes
// the whole do up front and only discovers the forward reference is
// now resolvable after it's too late. The value of the last form run
// is returned, matching do's last-expression-wins semantics.
func (as *AnalyzerState) AnalyzeAndRun(ast AST, backend *TreeBackend, env Value) (Value, error) {
	forms, err := flattenTopLevel(ast, PhaseLoadTime)
	if err != nil {
		return NewNil(), err
	}
	result := NewNil()
	for _, f := range forms {
		node, err := as.analyze(f.ast, NewLexicalEnv(nil), f.phase)
		if err != nil {
			return NewNil(), err
		}
		// A form wanted in both phases runs once for each of them.
		runs := 1
		if f.phase.Has(PhaseCompileTime) && f.phase.Has(PhaseLoadTime) {
			runs = 2
		}
		for i := 0; i < runs; i++ {
			result, err = backend.EvalTopLevel(node, env)
			if err != nil {
				return NewNil(), err
			}
		}
	}
	return result, nil
}

func (as *AnalyzerState) analyzeInvoke(ast AST, lex *LexicalEnv, phase EvalPhase) (*AnalyzerNode, error) {
	fn, err := as.analyze(ast.List[0], lex, phase)
	if err != nil {
		return nil, err
	}
	args, err := as.analyzeBody(ast.List[1:], lex, phase)
	if err != nil {
		return nil, err
	}
	return &AnalyzerNode{Kind: IRMaybeInvoke, Pos: ast.Pos, Depth: lex.Depth(), Phase: phase, Fn: fn, Args: args}, nil
}
