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

func newTestAnalyzer(t *testing.T) (*AnalyzerState, *GarbageCollector, *NamespaceManager) {
	gc := newTestGC(t)
	namespaces := NewNamespaceManager(gc, "user")
	primitives := NewPrimitiveRegistry(gc)
	primitives.BindToNamespace(namespaces.GetOrCreate("user"))
	backend := NewTreeBackend(gc, namespaces, primitives)
	return NewAnalyzerState(gc, namespaces, backend), gc, namespaces
}

func analyzeSrc(t *testing.T, as *AnalyzerState, src string) (*AnalyzerNode, error) {
	t.Helper()
	ast, err := ParseOne("test", src)
	require.NoError(t, err)
	return as.AnalyzeTopLevel(ast)
}

func TestAnalyzeIfProducesIRIfWithCondThenElse(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, "(if #t 1 2)")
	require.NoError(t, err)
	require.Equal(t, IRIf, node.Kind)
	require.NotNil(t, node.Cond)
	require.NotNil(t, node.Then)
	require.NotNil(t, node.Else)
	assert.Equal(t, IRConst, node.Then.Kind)
	assert.Equal(t, int64(1), node.Then.ConstValue.Int())
}

func TestAnalyzeIfWithoutElseDefaultsToNil(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, "(if #t 1)")
	require.NoError(t, err)
	assert.Equal(t, IRConst, node.Else.Kind)
	assert.True(t, node.Else.ConstValue.IsNil())
}

func TestAnalyzeDoProducesIRDoWithSequencedBody(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, "(do 1 2 3)")
	require.NoError(t, err)
	require.Equal(t, IRDo, node.Kind)
	require.Len(t, node.Body, 3)
}

func TestAnalyzeDefAtTopLevelSucceeds(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, "(def x 5)")
	require.NoError(t, err)
	assert.Equal(t, IRDef, node.Kind)
	assert.Equal(t, "x", node.Name)
}

func TestAnalyzeDefBelowTopLevelRejected(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	_, err := analyzeSrc(t, as, "(lambda () (def x 5))")
	require.Error(t, err)
	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ErrDefOutsideTopLevel, aerr.Kind)
}

func TestAnalyzeDefMacroBelowTopLevelRejected(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	_, err := analyzeSrc(t, as, "(lambda () (defmacro m (a) a))")
	require.Error(t, err)
	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ErrDefOutsideTopLevel, aerr.Kind)
}

func TestAnalyzeLambdaClosedOversExcludeOwnParams(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	ast, err := ParseOne("test", "(lambda (x) (let (y outer) (+ x y)))")
	require.NoError(t, err)
	lex := NewLexicalEnv(nil)
	lex.Bind("outer")
	node, err := as.analyze(ast, lex, PhaseLoadTime)
	require.NoError(t, err)
	require.Equal(t, IRLambda, node.Kind)
	assert.Contains(t, node.ClosedOvers, "outer")
	assert.NotContains(t, node.ClosedOvers, "x")
	assert.NotContains(t, node.ClosedOvers, "y")
}

func TestAnalyzeLambdaRestParamBinding(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, "(lambda (a & rest) rest)")
	require.NoError(t, err)
	require.Equal(t, IRLambda, node.Kind)
	assert.True(t, node.HasRest)
	assert.Equal(t, "rest", node.RestParam)
	assert.Equal(t, []string{"a"}, node.Params)
}

func TestAnalyzeCompileTimeReferenceToLoadOnlyDefIsRejected(t *testing.T) {
	as, _, namespaces := newTestAnalyzer(t)
	namespaces.Current().AddGlobal(as.gc, "load-only", NewInt(1), PhaseLoadTime, false)
	ast, err := ParseOne("test", "(eval-when (:compile) load-only)")
	require.NoError(t, err)
	_, err = as.AnalyzeTopLevel(ast)
	require.Error(t, err)
	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ErrNotVisibleToCompiler, aerr.Kind)
	assert.Contains(t, aerr.Error(), "not visible to compiler")
}

func TestAnalyzeCompileTimeReferenceToCompileTimeDefSucceeds(t *testing.T) {
	as, _, namespaces := newTestAnalyzer(t)
	namespaces.Current().AddGlobal(as.gc, "compile-only", NewInt(1), PhaseCompileTime, false)
	ast, err := ParseOne("test", "(eval-when (:compile) compile-only)")
	require.NoError(t, err)
	node, err := as.AnalyzeTopLevel(ast)
	require.NoError(t, err)
	require.Equal(t, IREvalWhen, node.Kind)
	assert.True(t, node.Phase.Has(PhaseCompileTime))
}

func TestAnalyzeEvalWhenBothPhasesSetsBitmask(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, "(eval-when (:compile :load) 1)")
	require.NoError(t, err)
	assert.True(t, node.Phase.Has(PhaseCompileTime))
	assert.True(t, node.Phase.Has(PhaseLoadTime))
}

func TestAnalyzeUnresolvedSymbolErrors(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	_, err := analyzeSrc(t, as, "no-such-symbol")
	require.Error(t, err)
	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ErrUnresolvedSymbol, aerr.Kind)
}

func TestAnalyzeTryWithCatchClauses(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, `(try
		(throw (exception 'io-error nil "boom"))
		(catch (parse-error e) 1)
		(catch (io-error e) 2)
		(catch (* e) 3))`)
	require.NoError(t, err)
	require.Equal(t, IRTry, node.Kind)
	require.Len(t, node.Catches, 3)
	assert.Equal(t, "io-error", node.Catches[1].TypeName)
	assert.Equal(t, "*", node.Catches[2].TypeName)
}

func TestAnalyzeEvalWhenBelowTopLevelRejected(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	_, err := analyzeSrc(t, as, "(lambda () (eval-when (:compile) 1))")
	require.Error(t, err)
	var aerr *AnalysisError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, ErrEvalWhenNotTopLevel, aerr.Kind)
}

func TestAnalyzeQuoteYieldsConstList(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, "'(1 2 3)")
	require.NoError(t, err)
	require.Equal(t, IRConst, node.Kind)
	got := ListValues(node.ConstValue)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[1].Int())
}

func TestAnalyzeQuasiquoteWithNoUnquoteCollapsesToConst(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, "`(1 2 3)")
	require.NoError(t, err)
	assert.Equal(t, IRConst, node.Kind)
}

func TestAnalyzeQuasiquoteWithUnquoteProducesConstList(t *testing.T) {
	as, _, _ := newTestAnalyzer(t)
	node, err := analyzeSrc(t, as, "(let (a 1) `(0 ,a 2))")
	require.NoError(t, err)
	require.Equal(t, IRLet, node.Kind)
	require.Len(t, node.Body, 1)
	assert.Equal(t, IRConstList, node.Body[0].Kind)
}
