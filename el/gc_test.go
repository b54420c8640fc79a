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

type fixedRootSource struct{ roots []Value }

func (f fixedRootSource) GCRoots() []Value { return f.roots }

func TestNewGarbageCollectorParsesHeapSoftLimit(t *testing.T) {
	gc, err := NewGarbageCollector(InterpreterOwned, "1MiB")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), gc.softLimit)
}

func TestNewGarbageCollectorRejectsBadSoftLimit(t *testing.T) {
	_, err := NewGarbageCollector(InterpreterOwned, "not-a-size")
	assert.Error(t, err)
}

func TestAllocationsAreTrackedInHeapObjectCount(t *testing.T) {
	gc := newTestGC(t)
	before := gc.HeapObjectCount()
	gc.MakeString("hello")
	gc.MakePair(NewInt(1), NewNil())
	assert.Equal(t, before+2, gc.HeapObjectCount())
}

func TestCollectSweepsUnreachableObjects(t *testing.T) {
	gc := newTestGC(t)
	gc.MakeString("garbage")
	before := gc.HeapObjectCount()
	assert.Equal(t, 1, before)
	gc.Collect()
	assert.Equal(t, 0, gc.HeapObjectCount())
}

func TestCollectKeepsObjectsReachableFromRootSource(t *testing.T) {
	gc := newTestGC(t)
	kept := gc.MakeString("kept")
	gc.MakeString("garbage")
	gc.RegisterRootSource(fixedRootSource{roots: []Value{kept}})
	gc.Collect()
	assert.Equal(t, 1, gc.HeapObjectCount())
}

func TestCollectKeepsPinnedRoots(t *testing.T) {
	gc := newTestGC(t)
	pinned := gc.MakeString("pinned")
	gc.MakeString("garbage")
	gc.PinRoot(pinned)
	gc.Collect()
	assert.Equal(t, 1, gc.HeapObjectCount())
}

func TestCollectTracesThroughPairChain(t *testing.T) {
	gc := newTestGC(t)
	list := gc.MakeList(gc.MakeString("a"), gc.MakeString("b"), gc.MakeString("c"))
	gc.MakeString("unreachable")
	gc.PinRoot(list)
	gc.Collect()
	// 3 pairs + 3 strings survive; the unreachable string does not.
	assert.Equal(t, 6, gc.HeapObjectCount())
}

func TestCollectTracesThroughEnvironmentParentChain(t *testing.T) {
	gc := newTestGC(t)
	root := gc.MakeEnvironment(NewNil())
	child := gc.MakeEnvironment(root)
	gc.MakeString("unreachable")
	gc.PinRoot(child)
	gc.Collect()
	assert.Equal(t, 2, gc.HeapObjectCount())
}

func TestCollectTracesInterpretedFunctionQuotedConstants(t *testing.T) {
	gc := newTestGC(t)
	quoted := gc.MakeString("captured-literal")
	body := []*AnalyzerNode{{Kind: IRConst, ConstValue: quoted}}
	env := gc.MakeEnvironment(NewNil())
	fn := gc.MakeInterpretedFunction(0, false, NewNil(), env, body)
	gc.PinRoot(fn)
	gc.Collect()
	// fn + env + the quoted literal embedded in its body must all survive.
	assert.Equal(t, 3, gc.HeapObjectCount())
}

func TestCollectIsIdempotentOnAlreadyCleanHeap(t *testing.T) {
	gc := newTestGC(t)
	kept := gc.MakeString("kept")
	gc.PinRoot(kept)
	gc.Collect()
	gc.Collect()
	assert.Equal(t, 1, gc.HeapObjectCount())
}

func TestMultipleIndependentCollectorsDoNotShareHeaps(t *testing.T) {
	gc1 := newTestGC(t)
	gc2 := newTestGC(t)
	gc1.MakeString("only in gc1")
	assert.Equal(t, 1, gc1.HeapObjectCount())
	assert.Equal(t, 0, gc2.HeapObjectCount())
}
