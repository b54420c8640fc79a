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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

func TestTracefileWrapsEventsInJSONArray(t *testing.T) {
	buf := &bytes.Buffer{}
	tf := NewTrace(nopWriteCloser{buf})
	tf.Event("parse", "phase", "X")
	tf.Event("analyze", "phase", "X")
	tf.Close()

	var events []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "parse", events[0]["name"])
	assert.Equal(t, "analyze", events[1]["name"])
}

func TestTracefileDurationEmitsBeginAndEnd(t *testing.T) {
	buf := &bytes.Buffer{}
	tf := NewTrace(nopWriteCloser{buf})
	ran := false
	tf.Duration("collect", "gc", func() { ran = true })
	tf.Close()
	assert.True(t, ran)

	var events []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "B", events[0]["ph"])
	assert.Equal(t, "E", events[1]["ph"])
	assert.Equal(t, "collect", events[0]["name"])
}

func TestTracefileEmptyFileIsValidJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	tf := NewTrace(nopWriteCloser{buf})
	tf.Close()
	var events []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &events))
	assert.Empty(t, events)
}
