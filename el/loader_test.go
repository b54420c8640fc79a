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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceLoaderLoadsLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.el")
	require.NoError(t, os.WriteFile(path, []byte("(def x 1)"), 0o644))

	l := NewSourceLoader()
	src, err := l.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "(def x 1)", src)
}

func TestSourceLoaderMissingFileErrors(t *testing.T) {
	l := NewSourceLoader()
	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "nope.el"))
	assert.Error(t, err)
}
