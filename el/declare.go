/*
Copyright (C) 2023  Carl-Philip Hänsch

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
)

// Declaration documents one native primitive the way the teacher's own
// builtin table did: description plus typed parameter list, surfaced
// to a REPL user via (help) / (help "name") rather than only living in
// a doc comment nobody types at runtime.
type Declaration struct {
	Name         string
	Desc         string
	MinParameter int
	MaxParameter int
	Params       []DeclarationParameter
	Fn           func(args []Value, self Value) Value
}

type DeclarationParameter struct {
	Name string
	Type string // any | string | number | func | list | symbol
	Desc string
}

// PrimitiveRegistry is the FFI name -> native implementation table
// def-ffi-fn declarations resolve against (see treebackend.go's
// IRDefFFIFn handling) and the backing store for (help).
type PrimitiveRegistry struct {
	gc     *GarbageCollector
	byName map[string]*Declaration
}

func NewPrimitiveRegistry(gc *GarbageCollector) *PrimitiveRegistry {
	r := &PrimitiveRegistry{gc: gc, byName: make(map[string]*Declaration)}
	r.declareCore()
	return r
}

func (r *PrimitiveRegistry) Declare(def *Declaration) {
	r.byName[def.Name] = def
}

func (r *PrimitiveRegistry) Lookup(name string) (func(args []Value, self Value) Value, bool) {
	def, ok := r.byName[name]
	if !ok || def.Fn == nil {
		return nil, false
	}
	return def.Fn, true
}

// BindToNamespace registers every declared primitive as a global
// compiled function visible (at both compile time and load time — a
// macro transformer is free to call (+ 1 2) while it's running) in ns.
func (r *PrimitiveRegistry) BindToNamespace(ns *Namespace) {
	for name, def := range r.byName {
		fn := r.gc.MakeCompiledFunction(def.MinParameter, def.MinParameter != def.MaxParameter, def.Fn, nil)
		ns.AddGlobal(r.gc, name, fn, PhaseCompileTime|PhaseLoadTime, false)
	}
}

// Help prints the same two-mode listing the teacher's REPL (help) form
// printed: a one-line summary of every primitive, or the full
// description plus parameter table for one named primitive.
func (r *PrimitiveRegistry) Help(name string) string {
	var b strings.Builder
	if name == "" {
		b.WriteString("Available primitives:\n\n")
		for fname, def := range r.byName {
			b.WriteString("  " + fname + ": " + strings.Split(def.Desc, "\n")[0] + "\n")
		}
		b.WriteString("\nget further information with (help \"name\")\n")
		return b.String()
	}
	def, ok := r.byName[name]
	if !ok {
		return "no such primitive: " + name
	}
	fmt.Fprintf(&b, "Help for: %s\n===\n\n%s\n\nallowed number of arguments: %d-%d\n\n",
		def.Name, def.Desc, def.MinParameter, def.MaxParameter)
	for _, p := range def.Params {
		b.WriteString(" - " + p.Name + " (" + p.Type + "): " + p.Desc + "\n")
	}
	return b.String()
}

func (r *PrimitiveRegistry) declareCore() {
	gc := r.gc

	r.Declare(&Declaration{Name: "+", Desc: "sums its numeric arguments", MinParameter: 0, MaxParameter: -1,
		Fn: func(args []Value, self Value) Value { return numericFold(gc, args, 0, func(a, b float64) float64 { return a + b }) }})
	r.Declare(&Declaration{Name: "-", Desc: "subtracts the remaining arguments from the first, or negates a single argument", MinParameter: 1, MaxParameter: -1,
		Fn: func(args []Value, self Value) Value { return numericFoldSub(gc, args) }})
	r.Declare(&Declaration{Name: "*", Desc: "multiplies its numeric arguments", MinParameter: 0, MaxParameter: -1,
		Fn: func(args []Value, self Value) Value { return numericFold(gc, args, 1, func(a, b float64) float64 { return a * b }) }})
	r.Declare(&Declaration{Name: "/", Desc: "divides the first argument by the rest", MinParameter: 1, MaxParameter: -1,
		Fn: func(args []Value, self Value) Value { return numericFoldDiv(gc, args) }})
	r.Declare(&Declaration{Name: "mod", Desc: "integer remainder of a / b", MinParameter: 2, MaxParameter: 2,
		Fn: func(args []Value, self Value) Value {
			b := args[1].Int()
			if b == 0 {
				Throw(gc, "DivisionByZero", NewNil(), "mod: division by zero")
			}
			return NewInt(args[0].Int() % b)
		}})

	cmp := func(name, desc string, ok func(int) bool) {
		r.Declare(&Declaration{Name: name, Desc: desc, MinParameter: 2, MaxParameter: -1, Fn: func(args []Value, self Value) Value {
			for i := 0; i+1 < len(args); i++ {
				if !ok(compareNumeric(args[i], args[i+1])) {
					return NewBool(false)
				}
			}
			return NewBool(true)
		}})
	}
	cmp("=", "numeric equality across all arguments", func(c int) bool { return c == 0 })
	cmp("<", "strictly increasing", func(c int) bool { return c < 0 })
	cmp(">", "strictly decreasing", func(c int) bool { return c > 0 })
	cmp("<=", "non-decreasing", func(c int) bool { return c <= 0 })
	cmp(">=", "non-increasing", func(c int) bool { return c >= 0 })

	r.Declare(&Declaration{Name: "not", Desc: "logical negation", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewBool(!args[0].Truthy()) }})
	r.Declare(&Declaration{Name: "eq?", Desc: "same comparison as equal? (structural; functions by identity)", MinParameter: 2, MaxParameter: 2,
		Fn: func(args []Value, self Value) Value { return NewBool(Equal(args[0], args[1])) }})
	r.Declare(&Declaration{Name: "equal?", Desc: "structural equality", MinParameter: 2, MaxParameter: 2,
		Fn: func(args []Value, self Value) Value { return NewBool(Equal(args[0], args[1])) }})

	r.Declare(&Declaration{Name: "cons", Desc: "allocates one pair cell", MinParameter: 2, MaxParameter: 2,
		Fn: func(args []Value, self Value) Value { return gc.MakePair(args[0], args[1]) }})
	r.Declare(&Declaration{Name: "car", Desc: "first element of a pair", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return args[0].Car() }})
	r.Declare(&Declaration{Name: "cdr", Desc: "rest of a pair", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return args[0].Cdr() }})
	r.Declare(&Declaration{Name: "list", Desc: "builds a proper list from its arguments", MinParameter: 0, MaxParameter: -1,
		Fn: func(args []Value, self Value) Value { return gc.MakeList(args...) }})
	r.Declare(&Declaration{Name: "list?", Desc: "true for nil or a pair", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewBool(args[0].IsNil() || args[0].IsPair()) }})
	r.Declare(&Declaration{Name: "null?", Desc: "true for nil", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewBool(args[0].IsNil()) }})
	r.Declare(&Declaration{Name: "pair?", Desc: "true for a cons cell", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewBool(args[0].IsPair()) }})
	r.Declare(&Declaration{Name: "length", Desc: "number of elements in a proper list", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewInt(int64(len(ListValues(args[0])))) }})
	r.Declare(&Declaration{Name: "reverse", Desc: "reverses a proper list", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value {
			items := ListValues(args[0])
			out := make([]Value, len(items))
			for i, v := range items {
				out[len(items)-1-i] = v
			}
			return gc.MakeList(out...)
		}})
	r.Declare(&Declaration{Name: "append", Desc: "concatenates proper lists", MinParameter: 0, MaxParameter: -1,
		Fn: func(args []Value, self Value) Value {
			var all []Value
			for _, a := range args {
				all = append(all, ListValues(a)...)
			}
			return gc.MakeList(all...)
		}})

	r.Declare(&Declaration{Name: "number?", Desc: "true for an integer or float", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewBool(args[0].IsInt() || args[0].IsFloat()) }})
	r.Declare(&Declaration{Name: "string?", Desc: "true for a string", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewBool(args[0].IsString()) }})
	r.Declare(&Declaration{Name: "symbol?", Desc: "true for a symbol", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewBool(args[0].IsSymbol()) }})
	r.Declare(&Declaration{Name: "procedure?", Desc: "true for a callable", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewBool(args[0].IsCallable()) }})

	r.Declare(&Declaration{Name: "str", Desc: "concatenates the printed form of its arguments into one string", MinParameter: 0, MaxParameter: -1,
		Fn: func(args []Value, self Value) Value {
			var b strings.Builder
			for _, a := range args {
				if a.IsString() {
					b.WriteString(a.StringValue())
				} else {
					b.WriteString(Print(a))
				}
			}
			return gc.MakeString(b.String())
		}})
	r.Declare(&Declaration{Name: "string-length", Desc: "number of bytes in a string", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value { return NewInt(int64(len(args[0].StringValue()))) }})
	r.Declare(&Declaration{Name: "substring", Desc: "substring [start, end)", MinParameter: 3, MaxParameter: 3,
		Fn: func(args []Value, self Value) Value {
			s := args[0].StringValue()
			start, end := args[1].Int(), args[2].Int()
			if start < 0 || end > int64(len(s)) || start > end {
				Throw(gc, "IndexOutOfRange", NewNil(), "substring: index out of range")
			}
			return gc.MakeString(s[start:end])
		}})

	r.Declare(&Declaration{Name: "print", Desc: "prints its arguments' readable form to stdout, space separated, with a trailing newline", MinParameter: 0, MaxParameter: -1,
		Fn: func(args []Value, self Value) Value {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = Print(a)
			}
			fmt.Println(strings.Join(parts, " "))
			return NewNil()
		}})

	r.Declare(&Declaration{Name: "exception", Desc: "constructs a catchable exception: (exception type metadata message)", MinParameter: 3, MaxParameter: 3,
		Fn: func(args []Value, self Value) Value {
			message := ""
			if !args[2].IsNil() {
				message = args[2].StringValue()
			}
			return gc.MakeException(exceptionTypeName(args[0]), args[1], message)
		}})

	r.Declare(&Declaration{Name: "throw", Desc: "raises an already-constructed exception: (throw exc)", MinParameter: 1, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value {
			if !args[0].IsException() {
				Throw(gc, "TypeError", NewNil(), "throw: argument is not an exception")
			}
			ThrowValue(args[0])
			return NewNil() // unreachable
		}})

	r.Declare(&Declaration{Name: "help", Desc: "lists primitives, or describes one by name: (help) or (help \"name\")", MinParameter: 0, MaxParameter: 1,
		Fn: func(args []Value, self Value) Value {
			name := ""
			if len(args) == 1 {
				name = args[0].StringValue()
			}
			fmt.Print(r.Help(name))
			return NewNil()
		}})
}

// exceptionTypeName accepts either a symbol or a string as an
// exception's type, matching scenario usage like (exception 'b nil nil)
// where the type is an unevaluated/quoted symbol rather than a string.
func exceptionTypeName(v Value) string {
	if v.IsSymbol() {
		return v.SymbolName()
	}
	return v.StringValue()
}

func numericFold(gc *GarbageCollector, args []Value, identity float64, op func(a, b float64) float64) Value {
	allInt := true
	acc := identity
	for _, a := range args {
		acc = op(acc, numericFloat(a))
		allInt = allInt && a.IsInt()
	}
	if allInt {
		return NewInt(int64(acc))
	}
	return gc.MakeFloat(acc)
}

func numericFoldSub(gc *GarbageCollector, args []Value) Value {
	if len(args) == 1 {
		if args[0].IsInt() {
			return NewInt(-args[0].Int())
		}
		return gc.MakeFloat(-args[0].Float())
	}
	allInt := args[0].IsInt()
	acc := numericFloat(args[0])
	for _, a := range args[1:] {
		acc -= numericFloat(a)
		allInt = allInt && a.IsInt()
	}
	if allInt {
		return NewInt(int64(acc))
	}
	return gc.MakeFloat(acc)
}

func numericFoldDiv(gc *GarbageCollector, args []Value) Value {
	acc := numericFloat(args[0])
	for _, a := range args[1:] {
		d := numericFloat(a)
		if d == 0 {
			Throw(gc, "DivisionByZero", NewNil(), "/: division by zero")
		}
		acc /= d
	}
	return gc.MakeFloat(acc)
}

func numericFloat(v Value) float64 {
	if v.IsInt() {
		return float64(v.Int())
	}
	return v.Float()
}

func compareNumeric(a, b Value) int {
	x, y := numericFloat(a), numericFloat(b)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}
