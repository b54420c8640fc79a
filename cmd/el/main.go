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
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/chzyer/readline"
	"github.com/dc0d/onexit"

	"github.com/launix-de/el/el"
)

const (
	newPrompt    = "\033[32m>\033[0m "
	contPrompt   = "\033[32m.\033[0m "
	resultPrompt = "\033[31m=\033[0m "
)

func main() {
	fmt.Print(`el Copyright (C) 2024   Carl-Philip Hänsch
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	cfg, err := el.LoadConfig(".el.yaml")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	if err := cfg.ValidateHeapSoftLimit(); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	el.SetTraceDir(cfg.TraceDir)

	gc, err := el.NewGarbageCollector(cfg.GCModeValue(), cfg.HeapSoftLimit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gc init error:", err)
		os.Exit(1)
	}
	namespaces := el.NewNamespaceManager(gc, cfg.DefaultNS)
	primitives := el.NewPrimitiveRegistry(gc)
	primitives.BindToNamespace(namespaces.Current())

	backend := el.NewTreeBackend(gc, namespaces, primitives)
	backend.PublishStatepointTable(gc)

	onexit.Register(func() { el.SetTrace(false); gc.Collect() })

	rootEnv := gc.MakeEnvironment(el.NewNil())
	repl(gc, namespaces, backend, rootEnv)
}

func repl(gc *el.GarbageCollector, namespaces *el.NamespaceManager, backend *el.TreeBackend, rootEnv el.Value) {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            newPrompt,
		HistoryFile:       ".el-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	oldline := ""
	for {
		line, err := l.Readline()
		line = oldline + line
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		if line == "" {
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					if pe, ok := r.(*el.ParseError); ok && pe.Reason == "expecting matching )" {
						oldline = line + "\n"
						l.SetPrompt(contPrompt)
						return
					}
					fmt.Println("panic:", r, string(debug.Stack()))
					oldline = ""
					l.SetPrompt(newPrompt)
				}
			}()

			as := el.NewAnalyzerState(gc, namespaces, backend)
			ast, err := el.ParseOne("user prompt", line)
			if err != nil {
				panic(err)
			}
			result, err := as.AnalyzeAndRun(ast, backend, rootEnv)
			if err != nil {
				panic(err)
			}
			var b bytes.Buffer
			b.WriteString(el.Print(result))
			fmt.Print(resultPrompt)
			fmt.Println(b.String())
			oldline = ""
			l.SetPrompt(newPrompt)
		}()
	}
}
