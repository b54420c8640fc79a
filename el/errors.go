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

// Three-tier error taxonomy, mirroring the teacher's own split between
// a parse-time error, a compile/analysis-time error, and a runtime
// fault: LexError (lexer.go) and ParseError (parser.go) cover reader
// failures; AnalysisError covers everything the analyzer or macro
// driver rejects before a single instruction runs; LinkError covers
// failures the Backend reports while resolving/publishing compiled
// code. A fourth tier — dialect-level runtime errors a running program
// can catch — is an ExceptionObj heap value (value.go, raised through
// exception.go's Throw/ThrowValue), which is deliberately not a Go
// error: it is caught with (try ... (catch ...)), not recover().

// AnalysisErrorKind classifies why the analyzer rejected a form.
type AnalysisErrorKind uint8

const (
	ErrUnresolvedSymbol AnalysisErrorKind = iota
	ErrNotVisibleToCompiler
	ErrArityMismatch
	ErrMalformedSpecialForm
	ErrDefOutsideTopLevel
	ErrUnknownSpecialForm
	ErrEvalWhenNotTopLevel
)

// AnalysisError reports a semantic failure found while turning an AST
// into IR, or while running a macro transformer at compile time.
type AnalysisError struct {
	Pos    SourcePosition
	Kind   AnalysisErrorKind
	Reason string
}

func (e *AnalysisError) Error() string {
	return e.Pos.String() + ": " + e.Reason
}

// LinkError reports a failure in Backend.LinkAndResolve: an unresolved
// external symbol, a statepoint table inconsistency, or any other
// failure discovered only once compiled units are wired together.
type LinkError struct {
	Symbol string
	Reason string
}

func (e *LinkError) Error() string {
	if e.Symbol != "" {
		return "link error: " + e.Symbol + ": " + e.Reason
	}
	return "link error: " + e.Reason
}
