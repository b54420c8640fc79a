/*
Copyright (C) 2023  Carl-Philip Hänsch
Copyright (C) 2013  Pieter Kelchtermans (originally licensed unter WTFPL 2.0)

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
	"strconv"
	"strings"
)

// Print renders a Value the way the REPL echoes a result: readable
// dialect syntax a reader can parse back, except for functions,
// environments, and exceptions, which have no literal syntax and print
// as an opaque "#<...>" tag instead.
func Print(v Value) string {
	var b strings.Builder
	print1(&b, v)
	return b.String()
}

func print1(b *strings.Builder, v Value) {
	switch v.GetTag() {
	case tagNil:
		b.WriteString("nil")
	case tagBool:
		if v.Bool() {
			b.WriteString("#t")
		} else {
			b.WriteString("#f")
		}
	case tagInt:
		b.WriteString(strconv.FormatInt(v.Int(), 10))
	case tagFloat:
		b.WriteString(strconv.FormatFloat(v.Float(), 'g', -1, 64))
	case tagString:
		b.WriteByte('"')
		b.WriteString(escapeString(v.StringValue()))
		b.WriteByte('"')
	case tagSymbol:
		b.WriteString(v.SymbolName())
	case tagKeyword:
		b.WriteByte(':')
		b.WriteString(v.KeywordName())
	case tagPair:
		printList(b, v)
	case tagVar:
		b.WriteString("#<var ")
		b.WriteString(v.VarSym().SymbolName())
		b.WriteByte('>')
	case tagCompiledFunction:
		b.WriteString("#<fn>")
	case tagInterpretedFunction:
		b.WriteString("#<fn>")
	case tagEnvironment:
		b.WriteString("#<environment>")
	case tagException:
		e := v.Exception()
		b.WriteString("#<exception ")
		b.WriteString(e.TypeName)
		b.WriteString(": ")
		b.WriteString(e.Message)
		b.WriteByte('>')
	default:
		b.WriteString("#<unknown>")
	}
}

func printList(b *strings.Builder, v Value) {
	b.WriteByte('(')
	first := true
	for {
		if !first {
			b.WriteByte(' ')
		}
		first = false
		print1(b, v.Car())
		next := v.Cdr()
		if next.IsNil() {
			break
		}
		if !next.IsPair() {
			b.WriteString(" . ")
			print1(b, next)
			break
		}
		v = next
	}
	b.WriteByte(')')
}

var stringPrintReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func escapeString(s string) string {
	return stringPrintReplacer.Replace(s)
}
