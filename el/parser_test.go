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

func TestParseOneSimpleList(t *testing.T) {
	ast, err := ParseOne("test", "(+ 1 2)")
	require.NoError(t, err)
	require.Equal(t, ASTList, ast.Kind)
	require.Len(t, ast.List, 3)
	assert.Equal(t, "+", ast.HeadSymbol())
	assert.Equal(t, int64(1), ast.List[1].IntValue)
	assert.Equal(t, int64(2), ast.List[2].IntValue)
}

func TestParseQuoteDesugarsToList(t *testing.T) {
	ast, err := ParseOne("test", "'(1 2)")
	require.NoError(t, err)
	require.Equal(t, ASTList, ast.Kind)
	assert.Equal(t, "quote", ast.HeadSymbol())
	require.Len(t, ast.List, 2)
	assert.Equal(t, ASTList, ast.List[1].Kind)
}

func TestParseQuasiquoteUnquoteSplice(t *testing.T) {
	ast, err := ParseOne("test", "`(1 ,a ,@b)")
	require.NoError(t, err)
	assert.Equal(t, "quasiquote", ast.HeadSymbol())
	inner := ast.List[1]
	require.Len(t, inner.List, 3)
	assert.Equal(t, "unquote", inner.List[1].HeadSymbol())
	assert.Equal(t, "unquote-splice", inner.List[2].HeadSymbol())
}

func TestParseAllMultipleTopLevelForms(t *testing.T) {
	forms, err := ParseAll("test", "1 2 (+ 1 2)")
	require.NoError(t, err)
	require.Len(t, forms, 3)
	assert.Equal(t, ASTInteger, forms[0].Kind)
	assert.Equal(t, ASTInteger, forms[1].Kind)
	assert.Equal(t, ASTList, forms[2].Kind)
}

func TestParseUnmatchedParenIsAParseError(t *testing.T) {
	_, err := ParseOne("test", "(+ 1 2")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "expecting matching )", perr.Reason)
}

func TestParseUnexpectedCloseParen(t *testing.T) {
	_, err := ParseOne("test", ")")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseEmptyInputYieldsNil(t *testing.T) {
	ast, err := ParseOne("test", "")
	require.NoError(t, err)
	assert.Equal(t, ASTNil, ast.Kind)
}

func TestParseRoundTripsNestedLists(t *testing.T) {
	ast, err := ParseOne("test", "(a (b c) (d (e f)))")
	require.NoError(t, err)
	require.Len(t, ast.List, 3)
	assert.Equal(t, "b", ast.List[1].List[0].StrValue)
	assert.Equal(t, "e", ast.List[2].List[1].List[0].StrValue)
}
